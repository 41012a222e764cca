package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/billing/internal/portal/store"
	_ "modernc.org/sqlite"
)

// Store keeps session entries for one profile in a SQLite database.
type Store struct {
	db      *sql.DB
	dsn     string
	profile string
}

var _ store.Store = (*Store)(nil)

func NewStore(dsn, profile string) (*Store, error) {
	if err := store.ValidateProfile(profile); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// Pragmas are per connection; one connection keeps them applied.
	db.SetMaxOpenConns(1)

	// A CLI and a long-running process may share the file.
	if _, err := db.ExecContext(context.Background(), `PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{
		db:      db,
		dsn:     dsn,
		profile: profile,
	}, nil
}

func (s *Store) Name() string { return "sqlite:" + s.profile }

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithProfile returns a Store sharing the same database for another profile.
func (s *Store) WithProfile(profile string) (*Store, error) {
	if err := store.ValidateProfile(profile); err != nil {
		return nil, err
	}
	return &Store{db: s.db, dsn: s.dsn, profile: profile}, nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM session_entries WHERE profile = ? AND key = ?`,
		s.profile, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_entries (profile, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (profile, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		s.profile, key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM session_entries WHERE profile = ? AND key = ?`,
		s.profile, key,
	)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	return s.strings(ctx,
		`SELECT key FROM session_entries WHERE profile = ? ORDER BY key`,
		s.profile,
	)
}

func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_entries WHERE profile = ?`, s.profile)
	return err
}

func (s *Store) Profiles(ctx context.Context) ([]string, error) {
	return s.strings(ctx, `SELECT DISTINCT profile FROM session_entries ORDER BY profile`)
}

// Prune deletes every profile whose newest entry is older than before and
// returns how many profiles were removed. The active profile is never
// pruned.
func (s *Store) Prune(ctx context.Context, before time.Time) (int, error) {
	var pruned int
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT profile FROM session_entries
			WHERE profile <> ?
			GROUP BY profile
			HAVING MAX(updated_at) < ?`,
			s.profile, before.UTC(),
		)
		if err != nil {
			return err
		}
		stale, err := scanStrings(rows)
		if err != nil {
			return err
		}

		for _, p := range stale {
			if _, err := tx.ExecContext(ctx, `DELETE FROM session_entries WHERE profile = ?`, p); err != nil {
				return fmt.Errorf("prune %s: %w", p, err)
			}
		}
		pruned = len(stale)
		return nil
	})
	return pruned, err
}

// WithTx executes fn within a transaction, automatically handling commit/rollback.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	// Safe to call even after commit.
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanStrings(rows)
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
