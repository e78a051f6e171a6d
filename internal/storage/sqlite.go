package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"stockwatch/internal/model"
	"stockwatch/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

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
func (s *SQLite) CreateTarget(ctx context.Context, t *model.Target) error {
	now := time.Now().UTC().Format(timeLayout)
	sizes, colors, err := encodeFilters(t)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO targets (url, name, kind, interval_seconds, is_active, target_sizes, target_colors, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.URL, t.Name, string(t.Kind), t.IntervalSeconds, boolToInt(t.IsActive), sizes, colors, now,
	)
	if err != nil {
		return fmt.Errorf("insert target: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	t.ID = id
	t.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetTarget returns a single target by its ID.
func (s *SQLite) GetTarget(ctx context.Context, id int64) (*model.Target, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, url, name, kind, interval_seconds, is_active, target_sizes, target_colors, created_at
		 FROM targets WHERE id = ?`, id,
	)
	return scanTarget(row)
}

// GetTargetByURL returns a target by its canonical URL, or nil if none exists.
func (s *SQLite) GetTargetByURL(ctx context.Context, url string) (*model.Target, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, url, name, kind, interval_seconds, is_active, target_sizes, target_colors, created_at
		 FROM targets WHERE url = ?`, url,
	)
	t, err := scanTarget(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// ListTargets returns all targets ordered by ID.
func (s *SQLite) ListTargets(ctx context.Context) ([]model.Target, error) {
	return s.listTargets(ctx,
		`SELECT id, url, name, kind, interval_seconds, is_active, target_sizes, target_colors, created_at
		 FROM targets ORDER BY id`)
}

// ListActiveTargets returns all targets with monitoring enabled.
func (s *SQLite) ListActiveTargets(ctx context.Context) ([]model.Target, error) {
	return s.listTargets(ctx,
		`SELECT id, url, name, kind, interval_seconds, is_active, target_sizes, target_colors, created_at
		 FROM targets WHERE is_active = 1 ORDER BY id`)
}

func (s *SQLite) listTargets(ctx context.Context, query string) ([]model.Target, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query targets: %w", err)
	}
	defer func() { _ = rows.Close() }()

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

// UpdateTarget persists changes to an existing target.
func (s *SQLite) UpdateTarget(ctx context.Context, t *model.Target) error {
	sizes, colors, err := encodeFilters(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE targets SET url = ?, name = ?, kind = ?, interval_seconds = ?, is_active = ?, target_sizes = ?, target_colors = ?
		 WHERE id = ?`,
		t.URL, t.Name, string(t.Kind), t.IntervalSeconds, boolToInt(t.IsActive), sizes, colors, t.ID,
	)
	if err != nil {
		return fmt.Errorf("update target: %w", err)
	}
	return nil
}

// DeleteTarget removes a target and its state, notifications and history.
func (s *SQLite) DeleteTarget(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM check_log WHERE target_id = ?`, id); err != nil {
		return fmt.Errorf("delete check_log: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM notifications WHERE target_id = ?`, id); err != nil {
		return fmt.Errorf("delete notifications: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM target_states WHERE target_id = ?`, id); err != nil {
		return fmt.Errorf("delete target_states: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM targets WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete target: %w", err)
	}
	return tx.Commit()
}

// LoadState returns the persisted state for a target, or nil if none exists.
func (s *SQLite) LoadState(ctx context.Context, targetID int64) (*model.TargetState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT target_id, canonical_status, confirmations, notified, notified_at,
		        last_good_count, consecutive_failures, last_error, last_check_at, snapshot
		 FROM target_states WHERE target_id = ?`, targetID,
	)

	var st model.TargetState
	var notified int
	var notifiedAt, lastCheckAt, snapshot sql.NullString
	var status string
	err := row.Scan(&st.TargetID, &status, &st.Confirmations, &notified, &notifiedAt,
		&st.LastGoodCount, &st.ConsecutiveFailures, &st.LastError, &lastCheckAt, &snapshot)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan state: %w", err)
	}

	st.CanonicalStatus = model.Status(status)
	st.Notified = notified == 1
	st.NotifiedAt = parseNullTime(notifiedAt)
	st.LastCheckAt = parseNullTime(lastCheckAt)
	if snapshot.Valid && snapshot.String != "" {
		var snap model.Snapshot
		if err := json.Unmarshal([]byte(snapshot.String), &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		st.Snapshot = &snap
	}
	return &st, nil
}

// SaveState upserts the per-target state in a single statement, so a reader
// of the same target never sees a half-written record.
func (s *SQLite) SaveState(ctx context.Context, state *model.TargetState) error {
	var snapshot any
	if state.Snapshot != nil {
		data, err := json.Marshal(state.Snapshot)
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		snapshot = string(data)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO target_states (target_id, canonical_status, confirmations, notified, notified_at,
		                            last_good_count, consecutive_failures, last_error, last_check_at, snapshot)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(target_id) DO UPDATE SET
		   canonical_status = excluded.canonical_status,
		   confirmations = excluded.confirmations,
		   notified = excluded.notified,
		   notified_at = excluded.notified_at,
		   last_good_count = excluded.last_good_count,
		   consecutive_failures = excluded.consecutive_failures,
		   last_error = excluded.last_error,
		   last_check_at = excluded.last_check_at,
		   snapshot = excluded.snapshot`,
		state.TargetID, string(state.CanonicalStatus), state.Confirmations, boolToInt(state.Notified),
		formatNullTime(state.NotifiedAt), state.LastGoodCount, state.ConsecutiveFailures,
		state.LastError, formatNullTime(state.LastCheckAt), snapshot,
	)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// RecordNotification inserts a notification record and populates its ID.
func (s *SQLite) RecordNotification(ctx context.Context, rec *model.NotificationRecord) error {
	results, err := json.Marshal(rec.ChannelResults)
	if err != nil {
		return fmt.Errorf("encode channel results: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (target_id, event_kind, title, sent_at, channel_results)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.TargetID, string(rec.EventKind), rec.Title, rec.SentAt.UTC().Format(timeLayout), string(results),
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	rec.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	return nil
}

// ListNotifications returns the most recent notifications for a target.
func (s *SQLite) ListNotifications(ctx context.Context, targetID int64, limit int) ([]model.NotificationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, target_id, event_kind, title, sent_at, channel_results
		 FROM notifications WHERE target_id = ? ORDER BY id DESC LIMIT ?`,
		targetID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []model.NotificationRecord
	for rows.Next() {
		var rec model.NotificationRecord
		var kind, sentAt, results string
		if err := rows.Scan(&rec.ID, &rec.TargetID, &kind, &rec.Title, &sentAt, &results); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		rec.EventKind = model.EventKind(kind)
		rec.SentAt, _ = time.Parse(timeLayout, sentAt)
		if err := json.Unmarshal([]byte(results), &rec.ChannelResults); err != nil {
			return nil, fmt.Errorf("decode channel results: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// RecordCheck inserts a check history row and populates its ID.
func (s *SQLite) RecordCheck(ctx context.Context, log *model.CheckLog) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO check_log (target_id, checked_at, success, total_count, added_count, removed_count,
		                        event_count, method, error_message, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.TargetID, log.CheckedAt.UTC().Format(timeLayout), boolToInt(log.Success), log.TotalCount,
		log.AddedCount, log.RemovedCount, log.EventCount, log.Method, log.ErrorMessage, log.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("insert check log: %w", err)
	}
	log.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	return nil
}

// ListChecks returns the most recent check history rows for a target.
func (s *SQLite) ListChecks(ctx context.Context, targetID int64, limit int) ([]model.CheckLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, target_id, checked_at, success, total_count, added_count, removed_count,
		        event_count, method, error_message, duration_ms
		 FROM check_log WHERE target_id = ? ORDER BY id DESC LIMIT ?`,
		targetID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query check log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var logs []model.CheckLog
	for rows.Next() {
		var l model.CheckLog
		var checkedAt string
		var success int
		if err := rows.Scan(&l.ID, &l.TargetID, &checkedAt, &success, &l.TotalCount, &l.AddedCount,
			&l.RemovedCount, &l.EventCount, &l.Method, &l.ErrorMessage, &l.DurationMS); err != nil {
			return nil, fmt.Errorf("scan check log: %w", err)
		}
		l.CheckedAt, _ = time.Parse(timeLayout, checkedAt)
		l.Success = success == 1
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeFilters(t *model.Target) (string, string, error) {
	sizes, err := encodeStrings(t.TargetSizes)
	if err != nil {
		return "", "", fmt.Errorf("encode target sizes: %w", err)
	}
	colors, err := encodeStrings(t.TargetColors)
	if err != nil {
		return "", "", fmt.Errorf("encode target colors: %w", err)
	}
	return sizes, colors, nil
}

func encodeStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	return string(data), err
}

func decodeStrings(raw string) []string {
	var values []string
	if raw == "" {
		return nil
	}
	_ = json.Unmarshal([]byte(raw), &values)
	if len(values) == 0 {
		return nil
	}
	return values
}

func parseNullTime(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, v.String)
	if err != nil {
		return nil
	}
	return &t
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTarget(row scannable) (*model.Target, error) {
	var t model.Target
	var kind, sizes, colors string
	var isActive int
	var created sql.NullString
	err := row.Scan(&t.ID, &t.URL, &t.Name, &kind, &t.IntervalSeconds, &isActive, &sizes, &colors, &created)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan target: %w", err)
	}
	t.Kind = model.AdapterKind(kind)
	t.IsActive = isActive == 1
	t.TargetSizes = decodeStrings(sizes)
	t.TargetColors = decodeStrings(colors)
	if created.Valid {
		t.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	return &t, nil
}
