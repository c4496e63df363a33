// Package store owns all persistent state: users, whitelist entries and the
// aggregate counters cache. Every method is a single statement or transaction,
// safe under concurrent callers.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "megabuddies/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("store: sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &Store{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	s.log.Info("store opened", logx.String("path", cfg.Path))
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertUser inserts the user on first contact or refreshes last_seen (and
// display_name, when non-empty) on every later one. first_seen is set once.
func (s *Store) UpsertUser(ctx context.Context, id int64, displayName string) (User, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, display_name, first_seen, last_seen) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   last_seen = excluded.last_seen,
		   display_name = CASE WHEN excluded.display_name <> ''
		                       THEN excluded.display_name ELSE users.display_name END`,
		id, displayName, now, now,
	)
	if err != nil {
		return User{}, fmt.Errorf("store: upsert user: %w", err)
	}
	return s.GetUser(ctx, id)
}

func (s *Store) GetUser(ctx context.Context, id int64) (User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, COALESCE(display_name,''), first_seen, last_seen,
		        check_count, hit_count, miss_count, invalid_count
		   FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("store: get user: %w", err)
	}
	return u, nil
}

// RecordCheck bumps the user's check_count plus the per-outcome column and the
// matching global counters in one transaction, so a check is counted exactly
// once even under concurrent commands.
func (s *Store) RecordCheck(ctx context.Context, userID int64, outcome CheckOutcome) error {
	var userCol, counterName string
	switch outcome {
	case CheckHit:
		userCol, counterName = "hit_count", "total_hits"
	case CheckMiss:
		userCol, counterName = "miss_count", "total_misses"
	case CheckInvalid:
		userCol, counterName = "invalid_count", "invalid_checks"
	default:
		return fmt.Errorf("store: unknown check outcome %d", outcome)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: record check: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE users SET check_count = check_count + 1, `+userCol+` = `+userCol+` + 1 WHERE id = ?`,
		userID)
	if err != nil {
		return fmt.Errorf("store: record check: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE counters SET value = value + 1 WHERE name IN ('total_checks', ?)`,
		counterName); err != nil {
		return fmt.Errorf("store: record check: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: record check: %w", err)
	}
	return nil
}

// AddEntry normalizes the value and inserts it. A duplicate is a no-op
// reported as AlreadyPresent; the uniqueness constraint serializes races.
func (s *Store) AddEntry(ctx context.Context, value string, operatorID int64) (AddStatus, error) {
	v := Normalize(value)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO whitelist(value, added_by, added_at) VALUES(?,?,?)`,
		v, operatorID, now)
	if err != nil {
		return AlreadyPresent, fmt.Errorf("store: add entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return AlreadyPresent, nil
	}
	return Added, nil
}

func (s *Store) RemoveEntry(ctx context.Context, value string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM whitelist WHERE value = ?`, Normalize(value))
	if err != nil {
		return false, fmt.Errorf("store: remove entry: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) Contains(ctx context.Context, value string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM whitelist WHERE value = ?`, Normalize(value)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: contains: %w", err)
	}
	return true, nil
}

// ListEntries returns a stable page ordered by added_at, ties broken by value.
func (s *Store) ListEntries(ctx context.Context, offset, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT value, added_by, added_at FROM whitelist
		  ORDER BY added_at ASC, value ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list entries: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (s *Store) CountEntries(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM whitelist`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count entries: %w", err)
	}
	return n, nil
}

// ExportAll returns every entry in ListEntries order.
func (s *Store) ExportAll(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT value, added_by, added_at FROM whitelist ORDER BY added_at ASC, value ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: export: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// MaxUserID returns the highest known user id (0 when there are no users).
// Broadcast uses it as the snapshot upper bound for UserIDsAfter paging.
func (s *Store) MaxUserID(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: max user id: %w", err)
	}
	return n, nil
}

// UserIDsAfter returns the next keyset page of user ids in (afterID, maxID].
func (s *Store) UserIDsAfter(ctx context.Context, afterID, maxID int64, limit int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM users WHERE id > ? AND id <= ? ORDER BY id ASC LIMIT ?`,
		afterID, maxID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: user ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: user ids: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: user ids: %w", err)
	}
	return ids, nil
}

// BulkImport inserts a batch of values in one transaction. A row that
// normalizes to the empty string counts as invalid; everything else is
// inserted or counted as duplicate. One bad row never aborts the rest.
func (s *Store) BulkImport(ctx context.Context, values []string, operatorID int64) (ImportResult, error) {
	var out ImportResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return out, fmt.Errorf("store: bulk import: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO whitelist(value, added_by, added_at) VALUES(?,?,?)`)
	if err != nil {
		return out, fmt.Errorf("store: bulk import: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, raw := range values {
		v := Normalize(raw)
		if v == "" {
			out.Invalid++
			continue
		}
		res, err := stmt.ExecContext(ctx, v, operatorID, now)
		if err != nil {
			return ImportResult{}, fmt.Errorf("store: bulk import: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			out.Duplicates++
		} else {
			out.Inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return ImportResult{}, fmt.Errorf("store: bulk import: %w", err)
	}
	return out, nil
}

// StatsSnapshot reads all counters in one transaction: a consistent
// point-in-time view, never a partially updated one.
func (s *Store) StatsSnapshot(ctx context.Context) (Counters, error) {
	var c Counters

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return c, fmt.Errorf("store: stats: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT name, value FROM counters`)
	if err != nil {
		return c, fmt.Errorf("store: stats: %w", err)
	}
	for rows.Next() {
		var name string
		var value int64
		if err := rows.Scan(&name, &value); err != nil {
			rows.Close()
			return c, fmt.Errorf("store: stats: %w", err)
		}
		switch name {
		case "total_checks":
			c.TotalChecks = value
		case "total_hits":
			c.TotalHits = value
		case "total_misses":
			c.TotalMisses = value
		case "invalid_checks":
			c.InvalidChecks = value
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return c, fmt.Errorf("store: stats: %w", err)
	}

	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM whitelist`).Scan(&c.EntriesCount); err != nil {
		return c, fmt.Errorf("store: stats: %w", err)
	}
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&c.TotalUsers); err != nil {
		return c, fmt.Errorf("store: stats: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return c, fmt.Errorf("store: stats: %w", err)
	}
	return c, nil
}

// TopUsers returns the most active users: check_count descending, earliest
// first_seen winning ties.
func (s *Store) TopUsers(ctx context.Context, n int) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(display_name,''), first_seen, last_seen,
		        check_count, hit_count, miss_count, invalid_count
		   FROM users ORDER BY check_count DESC, first_seen ASC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("store: top users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("store: top users: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: top users: %w", err)
	}
	return users, nil
}

// RecomputeCounters rebuilds the counters cache from the raw user columns.
// The cache is never a source of truth; this is the integrity-repair path.
func (s *Store) RecomputeCounters(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: recompute: %w", err)
	}
	defer tx.Rollback()

	var checks, hits, misses, invalid int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(check_count),0), COALESCE(SUM(hit_count),0),
		        COALESCE(SUM(miss_count),0), COALESCE(SUM(invalid_count),0) FROM users`).
		Scan(&checks, &hits, &misses, &invalid)
	if err != nil {
		return fmt.Errorf("store: recompute: %w", err)
	}

	for name, value := range map[string]int64{
		"total_checks":   checks,
		"total_hits":     hits,
		"total_misses":   misses,
		"invalid_checks": invalid,
	} {
		if _, err := tx.ExecContext(ctx,
			`UPDATE counters SET value = ? WHERE name = ?`, value, name); err != nil {
			return fmt.Errorf("store: recompute: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: recompute: %w", err)
	}
	s.log.Info("counters recomputed",
		logx.Int64("total_checks", checks), logx.Int64("total_hits", hits),
		logx.Int64("total_misses", misses), logx.Int64("invalid_checks", invalid))
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (User, error) {
	var u User
	var firstSeen, lastSeen string
	if err := r.Scan(&u.ID, &u.DisplayName, &firstSeen, &lastSeen,
		&u.CheckCount, &u.HitCount, &u.MissCount, &u.InvalidCount); err != nil {
		return User{}, err
	}
	u.FirstSeen, _ = time.Parse(time.RFC3339Nano, firstSeen)
	u.LastSeen, _ = time.Parse(time.RFC3339Nano, lastSeen)
	return u, nil
}

func collectEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		var addedAt string
		if err := rows.Scan(&e.Value, &e.AddedBy, &addedAt); err != nil {
			return nil, fmt.Errorf("store: scan entry: %w", err)
		}
		e.AddedAt, _ = time.Parse(time.RFC3339Nano, addedAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: entries: %w", err)
	}
	return out, nil
}
