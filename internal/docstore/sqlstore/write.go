package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/livestate/internal/canonical"
	"github.com/roach88/livestate/internal/docstore"
)

func (s *Store) SetMerge(ctx context.Context, ref docstore.DocRef, fields docstore.Fields) error {
	if ref.Collection == "" || ref.ID == "" {
		return fmt.Errorf("%w: unresolved document", docstore.ErrInvalidPath)
	}

	s.mu.Lock()
	err := s.setMerge(ctx, ref, fields)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.logger.Debug("document written", "path", ref.Path())
	s.hub.Notify()
	return nil
}

func (s *Store) setMerge(ctx context.Context, ref docstore.DocRef, fields docstore.Fields) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var existing docstore.Fields
		var raw string
		err := tx.QueryRowContext(ctx,
			"SELECT fields FROM documents WHERE collection = ? AND id = ?",
			ref.Collection, ref.ID,
		).Scan(&raw)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("read %s: %w", ref, err)
		default:
			if existing, err = decodeFields(raw); err != nil {
				return fmt.Errorf("read %s: %w", ref, err)
			}
		}

		merged, err := canonical.Marshal(docstore.Merge(existing, fields))
		if err != nil {
			return fmt.Errorf("encode %s: %w", ref, err)
		}

		version, err := s.tick(ctx, tx)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (collection, id, fields, version) VALUES (?, ?, ?, ?)
			ON CONFLICT (collection, id) DO UPDATE SET fields = excluded.fields, version = excluded.version
		`, ref.Collection, ref.ID, string(merged), version)
		if err != nil {
			return fmt.Errorf("write %s: %w", ref, err)
		}
		return nil
	})
}

func (s *Store) Add(ctx context.Context, c docstore.CollectionRef, fields docstore.Fields) (docstore.DocRef, error) {
	if c.IsZero() {
		return docstore.DocRef{}, fmt.Errorf("%w: unresolved collection", docstore.ErrInvalidPath)
	}
	ref, err := c.Doc(s.ids.Generate())
	if err != nil {
		return docstore.DocRef{}, err
	}
	if err := s.SetMerge(ctx, ref, fields); err != nil {
		return docstore.DocRef{}, err
	}
	return ref, nil
}

func (s *Store) Delete(ctx context.Context, ref docstore.DocRef) error {
	s.mu.Lock()
	deleted, err := s.delete(ctx, ref)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if deleted {
		s.logger.Debug("document deleted", "path", ref.Path())
		s.hub.Notify()
	}
	return nil
}

func (s *Store) delete(ctx context.Context, ref docstore.DocRef) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	var deleted bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM documents WHERE collection = ? AND id = ?",
			ref.Collection, ref.ID,
		)
		if err != nil {
			return fmt.Errorf("delete %s: %w", ref, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete %s: %w", ref, err)
		}
		if n == 0 {
			return nil
		}
		deleted = true
		_, err = s.tick(ctx, tx)
		return err
	})
	return deleted, err
}

// tick advances the clock and persists it in the same transaction as the
// write it stamps.
func (s *Store) tick(ctx context.Context, tx *sql.Tx) (int64, error) {
	version := s.clock.Next()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES ('clock', ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, version)
	if err != nil {
		return 0, fmt.Errorf("persist clock: %w", err)
	}
	return version, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
