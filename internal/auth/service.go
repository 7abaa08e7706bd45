package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"net/mail"
	"strings"
	"time"
)

var (
	ErrInvalidEmail       = errors.New("invalid email")
	ErrInvalidOTPFormat   = errors.New("otp code must be 6 digits")
	ErrInvalidOTP         = errors.New("invalid otp code")
	ErrOTPExpired         = errors.New("otp code expired")
	ErrTooManyOTPAttempts = errors.New("too many invalid otp attempts")
)

type Config struct {
	OTPTTL         time.Duration
	TokenTTL       time.Duration
	MaxOTPAttempts int
}

func (c *Config) applyDefaults() {
	if c.OTPTTL <= 0 {
		c.OTPTTL = 10 * time.Minute
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 7 * 24 * time.Hour
	}
	if c.MaxOTPAttempts <= 0 {
		c.MaxOTPAttempts = 5
	}
}

// Service is the identity verifier: it runs the passwordless OTP flow
// and exchanges the resulting bearer credential for a verified user.
type Service struct {
	repo   Repo
	logger *log.Logger

	otpTTL         time.Duration
	tokenTTL       time.Duration
	maxOTPAttempts int
}

func NewService(repo Repo, logger *log.Logger, cfg Config) *Service {
	if logger == nil {
		logger = log.Default()
	}
	cfg.applyDefaults()
	return &Service{
		repo:           repo,
		logger:         logger,
		otpTTL:         cfg.OTPTTL,
		tokenTTL:       cfg.TokenTTL,
		maxOTPAttempts: cfg.MaxOTPAttempts,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return ErrInvalidEmail
	}
	if strings.ToLower(addr.Address) != email {
		return ErrInvalidEmail
	}
	return nil
}

func validateCode(code string) error {
	if len(code) != 6 {
		return ErrInvalidOTPFormat
	}
	for _, ch := range code {
		if ch < '0' || ch > '9' {
			return ErrInvalidOTPFormat
		}
	}
	return nil
}

func hashOTP(email, code string) string {
	sum := sha256.Sum256([]byte(email + ":" + code))
	return hex.EncodeToString(sum[:])
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func generateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func generateToken() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}

func (s *Service) RequestOTP(ctx context.Context, email string, now time.Time) (expiresAt time.Time, code string, err error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return time.Time{}, "", err
	}
	code, err = generateOTPCode()
	if err != nil {
		return time.Time{}, "", err
	}
	ch := OTPChallenge{
		Email:       email,
		CodeHash:    hashOTP(email, code),
		ExpiresAt:   now.Add(s.otpTTL),
		RequestedAt: now,
		Attempts:    0,
	}
	if err := s.repo.PutChallenge(ctx, ch); err != nil {
		return time.Time{}, "", err
	}
	return ch.ExpiresAt, code, nil
}

// VerifyOTP checks the code and, on success, creates the user if needed
// and issues a bearer token. The raw token is returned exactly once.
func (s *Service) VerifyOTP(ctx context.Context, email, otpCode string, now time.Time) (User, string, time.Time, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return User{}, "", time.Time{}, err
	}
	if err := validateCode(otpCode); err != nil {
		return User{}, "", time.Time{}, err
	}

	ch, ok, err := s.repo.GetChallenge(ctx, email)
	if err != nil {
		return User{}, "", time.Time{}, err
	}
	if !ok {
		return User{}, "", time.Time{}, ErrInvalidOTP
	}

	if now.After(ch.ExpiresAt) {
		_ = s.repo.DeleteChallenge(ctx, email)
		return User{}, "", time.Time{}, ErrOTPExpired
	}

	if ch.Attempts >= s.maxOTPAttempts {
		_ = s.repo.DeleteChallenge(ctx, email)
		return User{}, "", time.Time{}, ErrTooManyOTPAttempts
	}

	if hashOTP(email, otpCode) != ch.CodeHash {
		ch.Attempts++
		if ch.Attempts >= s.maxOTPAttempts {
			_ = s.repo.DeleteChallenge(ctx, email)
			return User{}, "", time.Time{}, ErrTooManyOTPAttempts
		}
		_ = s.repo.PutChallenge(ctx, ch)
		return User{}, "", time.Time{}, ErrInvalidOTP
	}

	if err := s.repo.DeleteChallenge(ctx, email); err != nil {
		return User{}, "", time.Time{}, err
	}

	u, _, err := s.repo.GetOrCreateUser(ctx, email, now)
	if err != nil {
		return User{}, "", time.Time{}, err
	}

	token, err := generateToken()
	if err != nil {
		return User{}, "", time.Time{}, err
	}

	exp := now.Add(s.tokenTTL)
	t := Token{
		ID:        newID("tok"),
		UserID:    u.ID,
		TokenHash: hashToken(token),
		CreatedAt: now,
		LastSeen:  now,
		ExpiresAt: exp,
	}
	if err := s.repo.CreateToken(ctx, t); err != nil {
		return User{}, "", time.Time{}, err
	}
	return u, token, exp, nil
}

func bearerFromRequest(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// VerifyBearer exchanges the Authorization bearer credential for a
// verified user. Every failure mode is uniform: no user, no access.
func (s *Service) VerifyBearer(r *http.Request, now time.Time) (User, Token, bool) {
	raw := bearerFromRequest(r)
	if raw == "" {
		return User{}, Token{}, false
	}

	ctx := r.Context()
	t, ok, err := s.repo.GetTokenByHash(ctx, hashToken(raw))
	if err != nil || !ok {
		return User{}, Token{}, false
	}

	if now.After(t.ExpiresAt) {
		_ = s.repo.DeleteTokenByID(ctx, t.ID)
		return User{}, Token{}, false
	}

	u, ok, err := s.repo.GetUserByID(ctx, t.UserID)
	if err != nil || !ok {
		_ = s.repo.DeleteTokenByID(ctx, t.ID)
		return User{}, Token{}, false
	}

	// Best-effort last-seen update, throttled to reduce writes.
	if now.Sub(t.LastSeen) >= 5*time.Minute {
		_ = s.repo.TouchToken(ctx, t.ID, now)
		t.LastSeen = now
	}

	return u, t, true
}

func (s *Service) RevokeBearer(r *http.Request) {
	raw := bearerFromRequest(r)
	if raw == "" {
		return
	}
	_ = s.repo.DeleteTokenByHash(r.Context(), hashToken(raw))
}

func (s *Service) RevokeAllForUser(ctx context.Context, userID string) {
	_ = s.repo.DeleteTokensForUser(ctx, userID)
}

func (s *Service) RequireAPI(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, t, ok := s.VerifyBearer(r, time.Now())
		if !ok {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "unauthorized"})
			return
		}
		ctx := withTokenContext(withUserContext(r.Context(), u), t)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
