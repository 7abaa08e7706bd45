package auth

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newAuthServiceForTests(t *testing.T) *Service {
	t.Helper()
	return NewService(NewMemoryRepo(), log.New(io.Discard, "", 0), Config{})
}

func TestService_RequestOTP_RejectsBadEmail(t *testing.T) {
	svc := newAuthServiceForTests(t)
	now := time.Date(2026, 2, 7, 9, 0, 0, 0, time.UTC)

	for _, email := range []string{"", "not-an-email", "two@@example.com"} {
		if _, _, err := svc.RequestOTP(context.Background(), email, now); err != ErrInvalidEmail {
			t.Fatalf("email %q expected ErrInvalidEmail, got %v", email, err)
		}
	}
}

func TestService_VerifyOTP_HappyPathIssuesBearer(t *testing.T) {
	ctx := context.Background()
	svc := newAuthServiceForTests(t)
	now := time.Date(2026, 2, 7, 9, 0, 0, 0, time.UTC)

	_, code, err := svc.RequestOTP(ctx, "Tester@Example.com", now)
	if err != nil {
		t.Fatalf("request otp: %v", err)
	}

	u, token, exp, err := svc.VerifyOTP(ctx, "tester@example.com", code, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("verify otp: %v", err)
	}
	if u.Email != "tester@example.com" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if token == "" {
		t.Fatalf("expected bearer token")
	}
	if !exp.After(now) {
		t.Fatalf("expected future expiry, got %s", exp)
	}

	// The same token must authenticate a request.
	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	got, _, ok := svc.VerifyBearer(req, now.Add(2*time.Minute))
	if !ok {
		t.Fatalf("expected bearer to verify")
	}
	if got.ID != u.ID {
		t.Fatalf("bearer resolved wrong user: %+v", got)
	}
}

func TestService_VerifyOTP_SecondLoginKeepsSameUser(t *testing.T) {
	ctx := context.Background()
	svc := newAuthServiceForTests(t)
	now := time.Date(2026, 2, 7, 9, 0, 0, 0, time.UTC)

	_, code, err := svc.RequestOTP(ctx, "repeat@example.com", now)
	if err != nil {
		t.Fatalf("request otp: %v", err)
	}
	u1, _, _, err := svc.VerifyOTP(ctx, "repeat@example.com", code, now)
	if err != nil {
		t.Fatalf("first verify: %v", err)
	}

	_, code, err = svc.RequestOTP(ctx, "repeat@example.com", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("second request otp: %v", err)
	}
	u2, _, _, err := svc.VerifyOTP(ctx, "repeat@example.com", code, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if u1.ID != u2.ID {
		t.Fatalf("expected stable user id, got %s then %s", u1.ID, u2.ID)
	}
}

func TestService_VerifyOTP_TooManyAttempts(t *testing.T) {
	ctx := context.Background()
	svc := newAuthServiceForTests(t)
	now := time.Date(2026, 2, 7, 9, 0, 0, 0, time.UTC)

	if _, _, err := svc.RequestOTP(ctx, "tester@example.com", now); err != nil {
		t.Fatalf("request otp: %v", err)
	}

	for i := 0; i < svc.maxOTPAttempts-1; i++ {
		if _, _, _, err := svc.VerifyOTP(ctx, "tester@example.com", "000000", now.Add(30*time.Second)); err != ErrInvalidOTP {
			t.Fatalf("attempt %d expected ErrInvalidOTP, got %v", i+1, err)
		}
	}

	if _, _, _, err := svc.VerifyOTP(ctx, "tester@example.com", "000000", now.Add(45*time.Second)); err != ErrTooManyOTPAttempts {
		t.Fatalf("final attempt expected ErrTooManyOTPAttempts, got %v", err)
	}
}

func TestService_VerifyOTP_Expired(t *testing.T) {
	ctx := context.Background()
	svc := newAuthServiceForTests(t)
	now := time.Date(2026, 2, 7, 9, 0, 0, 0, time.UTC)

	_, code, err := svc.RequestOTP(ctx, "late@example.com", now)
	if err != nil {
		t.Fatalf("request otp: %v", err)
	}
	if _, _, _, err := svc.VerifyOTP(ctx, "late@example.com", code, now.Add(svc.otpTTL+time.Second)); err != ErrOTPExpired {
		t.Fatalf("expected ErrOTPExpired, got %v", err)
	}
}

func TestService_VerifyBearer_ExpiredTokenIsRejectedAndRemoved(t *testing.T) {
	ctx := context.Background()
	svc := newAuthServiceForTests(t)
	now := time.Date(2026, 2, 7, 10, 0, 0, 0, time.UTC)

	_, code, err := svc.RequestOTP(ctx, "expired@example.com", now)
	if err != nil {
		t.Fatalf("request otp: %v", err)
	}
	_, token, exp, err := svc.VerifyOTP(ctx, "expired@example.com", code, now)
	if err != nil {
		t.Fatalf("verify otp: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	if _, _, ok := svc.VerifyBearer(req, exp.Add(time.Second)); ok {
		t.Fatalf("expected expired bearer to be rejected")
	}
	if _, ok, _ := svc.repo.GetTokenByHash(ctx, hashToken(token)); ok {
		t.Fatalf("expected expired token to be removed from repo")
	}
}

func TestService_RevokeBearer(t *testing.T) {
	ctx := context.Background()
	svc := newAuthServiceForTests(t)
	now := time.Date(2026, 2, 7, 10, 0, 0, 0, time.UTC)

	_, code, err := svc.RequestOTP(ctx, "logout@example.com", now)
	if err != nil {
		t.Fatalf("request otp: %v", err)
	}
	_, token, _, err := svc.VerifyOTP(ctx, "logout@example.com", code, now)
	if err != nil {
		t.Fatalf("verify otp: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	svc.RevokeBearer(req)

	if _, _, ok := svc.VerifyBearer(req, now.Add(time.Minute)); ok {
		t.Fatalf("expected revoked bearer to be rejected")
	}
}

func TestService_RequireAPI(t *testing.T) {
	ctx := context.Background()
	svc := newAuthServiceForTests(t)
	now := time.Date(2026, 2, 7, 10, 0, 0, 0, time.UTC)

	_, code, err := svc.RequestOTP(ctx, "api@example.com", now)
	if err != nil {
		t.Fatalf("request otp: %v", err)
	}
	u, token, _, err := svc.VerifyOTP(ctx, "api@example.com", code, now)
	if err != nil {
		t.Fatalf("verify otp: %v", err)
	}

	var seen User
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	svc.RequireAPI(next).ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	svc.RequireAPI(next).ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 with bearer, got %d", rr.Code)
	}
	if seen.ID != u.ID {
		t.Fatalf("expected user in context, got %+v", seen)
	}
}
