package window

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS notifications (
	recipient  TEXT    NOT NULL,
	category   TEXT    NOT NULL,
	ts         INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_key ON notifications(recipient, category, ts);
CREATE INDEX IF NOT EXISTS idx_notifications_expiry ON notifications(expires_at);
`

// sqliteStore implements the Store interface on an embedded SQLite database.
// Timestamps are stored as unix nanoseconds.
type sqliteStore struct {
	db        *sql.DB
	retention time.Duration
}

// NewSQLiteStore opens (or creates) the database at path and prepares the
// schema. Use ":memory:" for an ephemeral store in tests.
func NewSQLiteStore(path string, opts ...Option) (Store, error) {
	if path == "" {
		return nil, errors.New("window: sqlite path is required")
	}
	options := applyOptions(opts)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("window: open sqlite: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("window: apply sqlite schema: %w", err)
	}

	log.Info().Str("path", path).Msg("sqlite window store opened")
	return &sqliteStore{db: db, retention: options.retention}, nil
}

// Prune implements Store for SQLite storage. Alongside the per-key window
// prune it drops any row past its absolute expiry, so abandoned keys are
// reclaimed by whichever admission check runs next.
func (s *sqliteStore) Prune(ctx context.Context, recipient, category string, window time.Duration, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE recipient = ? AND category = ? AND ts <= ?`,
		recipient, category, now.Add(-window).UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("window: sqlite prune failed: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE expires_at <= ?`, now.UnixNano()); err != nil {
		return fmt.Errorf("window: sqlite retention sweep failed: %w", err)
	}
	if removed, err := res.RowsAffected(); err == nil && removed > 0 {
		log.Debug().Str("recipient", recipient).Str("category", category).Int64("removed", removed).Msg("pruned expired window entries")
	}
	return nil
}

// Count implements Store for SQLite storage.
func (s *sqliteStore) Count(ctx context.Context, recipient, category string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient = ? AND category = ?`,
		recipient, category,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("window: sqlite count failed: %w", err)
	}
	return n, nil
}

// Append implements Store for SQLite storage.
func (s *sqliteStore) Append(ctx context.Context, recipient, category string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications(recipient, category, ts, expires_at) VALUES(?, ?, ?, ?)`,
		recipient, category, now.UnixNano(), now.Add(s.retention).UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("window: sqlite append failed: %w", err)
	}
	return nil
}

// ClearAll implements Store for SQLite storage.
func (s *sqliteStore) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM notifications`); err != nil {
		return fmt.Errorf("window: sqlite clear failed: %w", err)
	}
	log.Info().Msg("sqlite window store cleared")
	return nil
}

// UsageSnapshot implements Store for SQLite storage.
func (s *sqliteStore) UsageSnapshot(ctx context.Context) (Usage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT recipient, category, COUNT(*) FROM notifications GROUP BY recipient, category`,
	)
	if err != nil {
		return nil, fmt.Errorf("window: sqlite snapshot failed: %w", err)
	}
	defer rows.Close()

	usage := make(Usage)
	for rows.Next() {
		var (
			recipient, category string
			count               int
		)
		if err := rows.Scan(&recipient, &category, &count); err != nil {
			return nil, fmt.Errorf("window: sqlite snapshot scan failed: %w", err)
		}
		usage.add(recipient, category, count)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("window: sqlite snapshot rows failed: %w", err)
	}
	return usage, nil
}

// Close implements Store for SQLite storage.
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*sqliteStore)(nil)
