package sqlstore

import (
	"context"

	"github.com/roach88/livestate/internal/docstore"
	"github.com/roach88/livestate/internal/watch"
)

func (s *Store) WatchDoc(ctx context.Context, ref docstore.DocRef, fn func(docstore.DocumentSnapshot)) (docstore.Unsubscribe, error) {
	var (
		last docstore.DocumentSnapshot
		seen bool
	)
	return s.watch(ctx, func(wctx context.Context) {
		snap, err := s.GetDoc(wctx, ref)
		if err != nil {
			if wctx.Err() == nil {
				s.logger.Warn("watch read failed", "path", ref.Path(), "error", err)
			}
			return
		}
		if seen && snap.SameState(last) {
			return
		}
		if wctx.Err() != nil || ctx.Err() != nil {
			return
		}
		last, seen = snap, true
		fn(snap)
	})
}

func (s *Store) WatchQuery(ctx context.Context, q docstore.Query, fn func(docstore.QuerySnapshot)) (docstore.Unsubscribe, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	var (
		last docstore.QuerySnapshot
		seen bool
	)
	return s.watch(ctx, func(wctx context.Context) {
		snap, err := s.GetDocs(wctx, q)
		if err != nil {
			if wctx.Err() == nil {
				s.logger.Warn("watch query failed", "query", q.String(), "error", err)
			}
			return
		}
		if seen && snap.SameResult(last) {
			return
		}
		if wctx.Err() != nil || ctx.Err() != nil {
			return
		}
		last, seen = snap, true
		fn(snap)
	})
}

func (s *Store) watch(ctx context.Context, poll watch.Poll) (docstore.Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	err := s.checkOpen()
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	cancel, err := s.hub.Watch(poll)
	if err != nil {
		return nil, docstore.ErrClosed
	}
	stop := context.AfterFunc(ctx, cancel)
	return func() {
		stop()
		cancel()
	}, nil
}
