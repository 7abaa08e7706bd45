package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

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
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			stripe_customer_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS otp_challenges (
			email TEXT PRIMARY KEY,
			code_hash TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			requested_at TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS auth_tokens (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			token_hash TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL,
			last_seen TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
	}
	for _, statement := range statements {
		if _, err := r.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("migrate auth schema: %w", err)
		}
	}
	return nil
}

func newID(prefix string) string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return prefix + "_" + hex.EncodeToString(b[:])
}

func (r *SQLiteRepo) GetOrCreateUser(ctx context.Context, email string, now time.Time) (User, bool, error) {
	u, ok, err := r.GetUserByEmail(ctx, email)
	if err != nil {
		return User{}, false, err
	}
	if ok {
		return u, false, nil
	}

	u = User{
		ID:        newID("user"),
		Email:     email,
		CreatedAt: now,
	}
	_, err = r.db.ExecContext(
		ctx,
		`INSERT INTO users(id, email, stripe_customer_id, created_at) VALUES (?, ?, '', ?)`,
		u.ID, u.Email, formatTime(u.CreatedAt),
	)
	if err != nil {
		return User{}, false, fmt.Errorf("insert user: %w", err)
	}
	return u, true, nil
}

func (r *SQLiteRepo) GetUserByID(ctx context.Context, id string) (User, bool, error) {
	return r.scanUser(r.db.QueryRowContext(
		ctx,
		`SELECT id, email, stripe_customer_id, created_at FROM users WHERE id = ?`,
		id,
	))
}

func (r *SQLiteRepo) GetUserByEmail(ctx context.Context, email string) (User, bool, error) {
	return r.scanUser(r.db.QueryRowContext(
		ctx,
		`SELECT id, email, stripe_customer_id, created_at FROM users WHERE email = ?`,
		email,
	))
}

func (r *SQLiteRepo) scanUser(row *sql.Row) (User, bool, error) {
	var (
		u          User
		createdRaw string
	)
	err := row.Scan(&u.ID, &u.Email, &u.StripeCustomerID, &createdRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, fmt.Errorf("scan user: %w", err)
	}
	created, err := time.Parse(time.RFC3339Nano, createdRaw)
	if err != nil {
		return User{}, false, fmt.Errorf("parse user created_at: %w", err)
	}
	u.CreatedAt = created
	return u, true, nil
}

func (r *SQLiteRepo) SetStripeCustomerID(ctx context.Context, userID, customerID string) error {
	res, err := r.db.ExecContext(
		ctx,
		`UPDATE users SET stripe_customer_id = ? WHERE id = ?`,
		customerID, userID,
	)
	if err != nil {
		return fmt.Errorf("update stripe customer id: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *SQLiteRepo) DeleteUser(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func (r *SQLiteRepo) PutChallenge(ctx context.Context, ch OTPChallenge) error {
	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO otp_challenges(email, code_hash, expires_at, requested_at, attempts)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(email) DO UPDATE SET
		   code_hash = excluded.code_hash,
		   expires_at = excluded.expires_at,
		   requested_at = excluded.requested_at,
		   attempts = excluded.attempts`,
		ch.Email, ch.CodeHash, formatTime(ch.ExpiresAt), formatTime(ch.RequestedAt), ch.Attempts,
	)
	if err != nil {
		return fmt.Errorf("upsert otp challenge: %w", err)
	}
	return nil
}

func (r *SQLiteRepo) GetChallenge(ctx context.Context, email string) (OTPChallenge, bool, error) {
	row := r.db.QueryRowContext(
		ctx,
		`SELECT email, code_hash, expires_at, requested_at, attempts FROM otp_challenges WHERE email = ?`,
		email,
	)
	var (
		ch           OTPChallenge
		expiresRaw   string
		requestedRaw string
	)
	err := row.Scan(&ch.Email, &ch.CodeHash, &expiresRaw, &requestedRaw, &ch.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return OTPChallenge{}, false, nil
	}
	if err != nil {
		return OTPChallenge{}, false, fmt.Errorf("scan otp challenge: %w", err)
	}
	if ch.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresRaw); err != nil {
		return OTPChallenge{}, false, fmt.Errorf("parse challenge expires_at: %w", err)
	}
	if ch.RequestedAt, err = time.Parse(time.RFC3339Nano, requestedRaw); err != nil {
		return OTPChallenge{}, false, fmt.Errorf("parse challenge requested_at: %w", err)
	}
	return ch, true, nil
}

func (r *SQLiteRepo) DeleteChallenge(ctx context.Context, email string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM otp_challenges WHERE email = ?`, email); err != nil {
		return fmt.Errorf("delete otp challenge: %w", err)
	}
	return nil
}

func (r *SQLiteRepo) CreateToken(ctx context.Context, t Token) error {
	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO auth_tokens(id, user_id, token_hash, created_at, last_seen, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.TokenHash, formatTime(t.CreatedAt), formatTime(t.LastSeen), formatTime(t.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("insert auth token: %w", err)
	}
	return nil
}

func (r *SQLiteRepo) GetTokenByHash(ctx context.Context, hash string) (Token, bool, error) {
	row := r.db.QueryRowContext(
		ctx,
		`SELECT id, user_id, token_hash, created_at, last_seen, expires_at FROM auth_tokens WHERE token_hash = ?`,
		hash,
	)
	var (
		t          Token
		createdRaw string
		seenRaw    string
		expiresRaw string
	)
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &createdRaw, &seenRaw, &expiresRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, fmt.Errorf("scan auth token: %w", err)
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdRaw); err != nil {
		return Token{}, false, fmt.Errorf("parse token created_at: %w", err)
	}
	if t.LastSeen, err = time.Parse(time.RFC3339Nano, seenRaw); err != nil {
		return Token{}, false, fmt.Errorf("parse token last_seen: %w", err)
	}
	if t.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresRaw); err != nil {
		return Token{}, false, fmt.Errorf("parse token expires_at: %w", err)
	}
	return t, true, nil
}

func (r *SQLiteRepo) TouchToken(ctx context.Context, id string, seen time.Time) error {
	if _, err := r.db.ExecContext(
		ctx,
		`UPDATE auth_tokens SET last_seen = ? WHERE id = ?`,
		formatTime(seen), id,
	); err != nil {
		return fmt.Errorf("touch auth token: %w", err)
	}
	return nil
}

func (r *SQLiteRepo) DeleteTokenByID(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM auth_tokens WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete auth token: %w", err)
	}
	return nil
}

func (r *SQLiteRepo) DeleteTokenByHash(ctx context.Context, hash string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM auth_tokens WHERE token_hash = ?`, hash); err != nil {
		return fmt.Errorf("delete auth token: %w", err)
	}
	return nil
}

func (r *SQLiteRepo) DeleteTokensForUser(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM auth_tokens WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete auth tokens for user: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
