package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"webwatch_bot/internal/model"
	"webwatch_bot/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// ErrNotFound is returned when a requested target does not exist.
var ErrNotFound = errors.New("target not found")

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateTarget inserts a new target and populates its ID and CreatedAt.
// Tracking an already-tracked URL replaces its interval and quiet-hours
// settings while keeping the fingerprint and seen files intact.
func (s *SQLite) CreateTarget(ctx context.Context, t *model.Target) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO targets (chat_id, url, fingerprint, interval_minutes, quiet_hours, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (chat_id, url) DO UPDATE SET
		   interval_minutes = excluded.interval_minutes,
		   quiet_hours = excluded.quiet_hours`,
		t.ChatID, t.URL, t.Fingerprint, t.IntervalMinutes, boolToInt(t.QuietHours), now,
	)
	if err != nil {
		return fmt.Errorf("insert target: %w", err)
	}

	// LastInsertId is unreliable on the upsert path, so read the row back.
	saved, err := s.GetTarget(ctx, t.ChatID, t.URL)
	if err != nil {
		return fmt.Errorf("read back target: %w", err)
	}
	t.ID = saved.ID
	t.Fingerprint = saved.Fingerprint
	t.CreatedAt = saved.CreatedAt
	return nil
}

// GetTarget returns the target tracked by the given chat for the given URL.
func (s *SQLite) GetTarget(ctx context.Context, chatID int64, url string) (*model.Target, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, url, fingerprint, interval_minutes, quiet_hours, last_check_at, created_at
		 FROM targets WHERE chat_id = ? AND url = ?`, chatID, url,
	)
	return scanTarget(row)
}

// GetTargetByID returns a single target by its ID.
func (s *SQLite) GetTargetByID(ctx context.Context, id int64) (*model.Target, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, url, fingerprint, interval_minutes, quiet_hours, last_check_at, created_at
		 FROM targets WHERE id = ?`, id,
	)
	return scanTarget(row)
}

// ListTargets returns all targets belonging to the given chat.
func (s *SQLite) ListTargets(ctx context.Context, chatID int64) ([]model.Target, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, url, fingerprint, interval_minutes, quiet_hours, last_check_at, created_at
		 FROM targets WHERE chat_id = ? ORDER BY id`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("query targets: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanTargets(rows)
}

// ListAllTargets returns every tracked target. Used at startup to re-arm
// the scheduler after a restart.
func (s *SQLite) ListAllTargets(ctx context.Context) ([]model.Target, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, url, fingerprint, interval_minutes, quiet_hours, last_check_at, created_at
		 FROM targets ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query all targets: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanTargets(rows)
}

// UpdateTarget persists changes to an existing target.
func (s *SQLite) UpdateTarget(ctx context.Context, t *model.Target) error {
	var lastCheck *string
	if t.LastCheckAt != nil {
		v := t.LastCheckAt.UTC().Format(timeLayout)
		lastCheck = &v
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE targets SET fingerprint = ?, interval_minutes = ?, quiet_hours = ?, last_check_at = ?
		 WHERE id = ?`,
		t.Fingerprint, t.IntervalMinutes, boolToInt(t.QuietHours), lastCheck, t.ID,
	)
	if err != nil {
		return fmt.Errorf("update target: %w", err)
	}
	return nil
}

// DeleteTarget removes a target and its seen files in one transaction.
func (s *SQLite) DeleteTarget(ctx context.Context, chatID int64, url string) error {
	t, err := s.GetTarget(ctx, chatID, url)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM seen_files WHERE target_id = ?`, t.ID); err != nil {
		return fmt.Errorf("delete seen_files: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM targets WHERE id = ?`, t.ID); err != nil {
		return fmt.Errorf("delete target: %w", err)
	}
	return tx.Commit()
}

// UpdateAfterPoll writes the new fingerprint and the delivered file URLs
// atomically. The INSERT OR IGNORE keeps seen-marking idempotent, so a
// re-delivered file never produces a constraint error.
func (s *SQLite) UpdateAfterPoll(ctx context.Context, targetID int64, fingerprint string, seenURLs []string) error {
	now := time.Now().UTC().Format(timeLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE targets SET fingerprint = ?, last_check_at = ? WHERE id = ?`,
		fingerprint, now, targetID,
	); err != nil {
		return fmt.Errorf("update fingerprint: %w", err)
	}
	for _, u := range seenURLs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO seen_files (target_id, url, seen_at) VALUES (?, ?, ?)`,
			targetID, u, now,
		); err != nil {
			return fmt.Errorf("insert seen file: %w", err)
		}
	}
	return tx.Commit()
}

// ListSeenFiles returns the set of file URLs already delivered for a target.
func (s *SQLite) ListSeenFiles(ctx context.Context, targetID int64) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT url FROM seen_files WHERE target_id = ?`, targetID,
	)
	if err != nil {
		return nil, fmt.Errorf("query seen files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	seen := make(map[string]bool)
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan seen file: %w", err)
		}
		seen[u] = true
	}
	return seen, rows.Err()
}

// UpdateLastCheck stamps the target's last check time with the current time.
func (s *SQLite) UpdateLastCheck(ctx context.Context, targetID int64) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`UPDATE targets SET last_check_at = ? WHERE id = ?`, now, targetID,
	)
	if err != nil {
		return fmt.Errorf("update last check: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTarget(row scannable) (*model.Target, error) {
	var t model.Target
	var quiet int
	var lastCheck, created sql.NullString
	err := row.Scan(&t.ID, &t.ChatID, &t.URL, &t.Fingerprint, &t.IntervalMinutes, &quiet, &lastCheck, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan target: %w", err)
	}
	t.QuietHours = quiet == 1
	if lastCheck.Valid {
		ts, _ := time.Parse(timeLayout, lastCheck.String)
		t.LastCheckAt = &ts
	}
	if created.Valid {
		t.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	return &t, nil
}

func scanTargets(rows *sql.Rows) ([]model.Target, error) {
	var targets []model.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, *t)
	}
	return targets, rows.Err()
}
