package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/livestate/internal/docstore"
)

func (s *Store) GetDoc(ctx context.Context, ref docstore.DocRef) (docstore.DocumentSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return docstore.DocumentSnapshot{}, err
	}
	return s.getDoc(ctx, ref)
}

func (s *Store) getDoc(ctx context.Context, ref docstore.DocRef) (docstore.DocumentSnapshot, error) {
	var raw string
	var version int64
	err := s.db.QueryRowContext(ctx,
		"SELECT fields, version FROM documents WHERE collection = ? AND id = ?",
		ref.Collection, ref.ID,
	).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.DocumentSnapshot{Ref: ref, Version: s.clock.Current()}, nil
	}
	if err != nil {
		return docstore.DocumentSnapshot{}, fmt.Errorf("get %s: %w", ref, err)
	}
	fields, err := decodeFields(raw)
	if err != nil {
		return docstore.DocumentSnapshot{}, fmt.Errorf("get %s: %w", ref, err)
	}
	return docstore.DocumentSnapshot{Ref: ref, Fields: fields, Version: version, Exists: true}, nil
}

func (s *Store) GetDocs(ctx context.Context, q docstore.Query) (docstore.QuerySnapshot, error) {
	if err := q.Validate(); err != nil {
		return docstore.QuerySnapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return docstore.QuerySnapshot{}, err
	}
	return s.getDocs(ctx, q)
}

func (s *Store) getDocs(ctx context.Context, q docstore.Query) (docstore.QuerySnapshot, error) {
	version := s.clock.Current()

	c, err := compileQuery(q)
	if errors.Is(err, errUnsupported) {
		docs, err := s.scan(ctx, q)
		if err != nil {
			return docstore.QuerySnapshot{}, err
		}
		return docstore.QuerySnapshot{Query: q, Docs: q.Apply(docs), Version: version}, nil
	}
	if err != nil {
		return docstore.QuerySnapshot{}, err
	}

	docs, err := s.queryDocs(ctx, q.Collection, c.SQL, c.Params...)
	if err != nil {
		return docstore.QuerySnapshot{}, fmt.Errorf("query %s: %w", q, err)
	}
	return docstore.QuerySnapshot{Query: q, Docs: docs, Version: version}, nil
}

// scan reads every document of the query's collection.
func (s *Store) scan(ctx context.Context, q docstore.Query) ([]docstore.DocumentSnapshot, error) {
	docs, err := s.queryDocs(ctx, q.Collection,
		"SELECT id, fields, version FROM documents WHERE collection = ? ORDER BY id ASC COLLATE BINARY",
		q.Collection.Path,
	)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", q.Collection, err)
	}
	s.logger.Debug("query evaluated in memory", "query", q.String(), "scanned", len(docs))
	return docs, nil
}

// queryDocs runs a SELECT returning (id, fields, version) rows.
// Returns an empty slice (not nil) if no documents match.
func (s *Store) queryDocs(ctx context.Context, coll docstore.CollectionRef, query string, args ...any) ([]docstore.DocumentSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []docstore.DocumentSnapshot{}
	for rows.Next() {
		var id, raw string
		var version int64
		if err := rows.Scan(&id, &raw, &version); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		fields, err := decodeFields(raw)
		if err != nil {
			return nil, fmt.Errorf("document %s/%s: %w", coll.Path, id, err)
		}
		docs = append(docs, docstore.DocumentSnapshot{
			Ref:     docstore.DocRef{Collection: coll.Path, ID: id},
			Fields:  fields,
			Version: version,
			Exists:  true,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return docs, nil
}

func (s *Store) Aggregate(ctx context.Context, q docstore.Query, spec docstore.AggregateSpec) (docstore.AggregateResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	snap, err := s.GetDocs(ctx, q)
	if err != nil {
		return nil, err
	}
	return spec.Compute(snap.Docs), nil
}

func decodeFields(raw string) (docstore.Fields, error) {
	var fields docstore.Fields
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	if fields == nil {
		fields = docstore.Fields{}
	}
	return fields, nil
}
