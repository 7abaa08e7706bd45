package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SQLiteRepo persists task sessions in the shared sqlite database. Tasks
// are stored as a JSON column; lock_time as RFC3339Nano text or NULL.
type SQLiteRepo struct {
	db *sql.DB
}

func NewSQLiteRepo(db *sql.DB) (*SQLiteRepo, error) {
	r := &SQLiteRepo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRepo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS task_sessions (
		user_id TEXT PRIMARY KEY,
		tasks TEXT NOT NULL,
		visible INTEGER NOT NULL,
		locked INTEGER NOT NULL,
		remaining INTEGER NOT NULL,
		price REAL NOT NULL,
		lock_time TEXT,
		charge_attempted INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);`)
	if err != nil {
		return fmt.Errorf("migrate task_sessions: %w", err)
	}
	return nil
}

func (r *SQLiteRepo) Get(ctx context.Context, userID string) (TaskSession, bool, error) {
	row := r.db.QueryRowContext(
		ctx,
		`SELECT tasks, visible, locked, remaining, price, lock_time, charge_attempted
		 FROM task_sessions WHERE user_id = ?`,
		userID,
	)

	var (
		s               TaskSession
		tasksRaw        string
		locked          int
		lockTimeRaw     sql.NullString
		chargeAttempted int
	)
	err := row.Scan(&tasksRaw, &s.Visible, &locked, &s.Remaining, &s.Price, &lockTimeRaw, &chargeAttempted)
	if errors.Is(err, sql.ErrNoRows) {
		return TaskSession{}, false, nil
	}
	if err != nil {
		return TaskSession{}, false, fmt.Errorf("query task session: %w", err)
	}

	if err := json.Unmarshal([]byte(tasksRaw), &s.Tasks); err != nil {
		return TaskSession{}, false, fmt.Errorf("decode session tasks: %w", err)
	}
	s.Locked = locked != 0
	s.ChargeAttempted = chargeAttempted != 0
	if lockTimeRaw.Valid && lockTimeRaw.String != "" {
		t, err := time.Parse(time.RFC3339Nano, lockTimeRaw.String)
		if err != nil {
			return TaskSession{}, false, fmt.Errorf("parse session lock_time: %w", err)
		}
		s.LockTime = &t
	}

	return s, true, nil
}

func (r *SQLiteRepo) Upsert(ctx context.Context, userID string, s TaskSession) error {
	tasksRaw, err := json.Marshal(s.Tasks)
	if err != nil {
		return fmt.Errorf("encode session tasks: %w", err)
	}

	_, err = r.db.ExecContext(
		ctx,
		`INSERT INTO task_sessions(user_id, tasks, visible, locked, remaining, price, lock_time, charge_attempted, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   tasks = excluded.tasks,
		   visible = excluded.visible,
		   locked = excluded.locked,
		   remaining = excluded.remaining,
		   price = excluded.price,
		   lock_time = excluded.lock_time,
		   charge_attempted = excluded.charge_attempted,
		   updated_at = excluded.updated_at`,
		userID,
		string(tasksRaw),
		s.Visible,
		boolToInt(s.Locked),
		s.Remaining,
		s.Price,
		lockTimeValue(s.LockTime),
		boolToInt(s.ChargeAttempted),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert task session: %w", err)
	}
	return nil
}

func (r *SQLiteRepo) Delete(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM task_sessions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete task session: %w", err)
	}
	return nil
}

// ListExpiredUnpaid returns user IDs whose locked countdown ran out
// before cutoff without a successful charge. The ops reconcile pass uses
// it to sweep charges the live path missed or that failed.
func (r *SQLiteRepo) ListExpiredUnpaid(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT user_id FROM task_sessions
		 WHERE locked = 1 AND charge_attempted = 0 AND lock_time IS NOT NULL AND lock_time <= ?
		 ORDER BY user_id ASC`,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	result := make([]string, 0)
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan expired session row: %w", err)
		}
		result = append(result, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired sessions: %w", err)
	}
	return result, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func lockTimeValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
