// Package serverapp assembles the HTTP application: storage, identity,
// billing, and the task session, wired together behind one handler.
package serverapp

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/maksblyz/reeve/internal/account"
	"github.com/maksblyz/reeve/internal/auth"
	"github.com/maksblyz/reeve/internal/billing"
	"github.com/maksblyz/reeve/internal/config"
	"github.com/maksblyz/reeve/internal/httpmw"
	"github.com/maksblyz/reeve/internal/session"
)

type Options struct {
	Config  *config.Config
	DB      *sql.DB
	Gateway billing.Gateway
	Logger  *log.Logger
	Clock   session.Clock
}

// App owns the assembled handler plus the background session work.
type App struct {
	Handler http.Handler
	Sync    *session.Synchronizer
}

// Close cancels scheduled expiry and reset timers.
func (a *App) Close() {
	a.Sync.Close()
}

func New(opts Options) (*App, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.DB == nil {
		return nil, errors.New("database is required")
	}
	if opts.Gateway == nil {
		return nil, errors.New("payment gateway is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	cfg := opts.Config

	authRepo, err := auth.NewSQLiteRepo(opts.DB)
	if err != nil {
		return nil, err
	}
	authService := auth.NewService(authRepo, opts.Logger, auth.Config{
		OTPTTL:         time.Duration(cfg.Auth.OTPTTLMinutes) * time.Minute,
		TokenTTL:       time.Duration(cfg.Auth.TokenTTLHours) * time.Hour,
		MaxOTPAttempts: cfg.Auth.MaxOTPAttempts,
	})

	sessionRepo, err := session.NewSQLiteRepo(opts.DB)
	if err != nil {
		return nil, err
	}
	sync := session.NewSynchronizer(session.Options{
		Rules: session.Rules{
			LockDuration: cfg.LockDuration(),
			DefaultPrice: cfg.Session.DefaultPrice,
			MinPrice:     cfg.Session.MinPrice,
			MaxPrice:     cfg.Session.MaxPrice,
		},
		Repo: sessionRepo,
		Charger: &expiryCharger{
			users:    authRepo,
			gateway:  opts.Gateway,
			currency: cfg.Billing.Currency,
		},
		Clock:         opts.Clock,
		Logger:        opts.Logger,
		ResetDebounce: cfg.ResetDebounce(),
	})

	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"service": "reeve",
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := opts.DB.PingContext(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"ok":    false,
				"error": "storage unavailable",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"service": "reeve",
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	})

	authHandler := auth.NewHandler(authService)
	mux.HandleFunc("/api/auth/request-otp", authHandler.RequestOTP)
	mux.HandleFunc("/api/auth/verify-otp", authHandler.VerifyOTP)
	mux.HandleFunc("/api/auth/session", authHandler.Session)
	mux.HandleFunc("/api/auth/logout", authHandler.Logout)

	sessionHandler := session.NewHandler(sync)
	sessionHandler.SetUserResolver(func(r *http.Request) (string, bool) {
		u, ok := auth.UserFromContext(r.Context())
		if !ok {
			return "", false
		}
		return u.ID, true
	})
	mux.Handle("/api/session", authService.RequireAPI(http.HandlerFunc(sessionHandler.State)))
	mux.Handle("/api/session/cmd", authService.RequireAPI(http.HandlerFunc(sessionHandler.Command)))

	billingHandler := billing.NewHandler(billing.HandlerOptions{
		Gateway:         opts.Gateway,
		Logger:          opts.Logger,
		SuccessURL:      cfg.Billing.SuccessURL,
		CancelURL:       cfg.Billing.CancelURL,
		PortalReturnURL: cfg.Billing.PortalReturnURL,
	})
	billingHandler.SetCustomerResolver(func(r *http.Request) (string, error) {
		u, ok := auth.UserFromContext(r.Context())
		if !ok {
			return "", billing.ErrUnauthenticated
		}
		return ensureCustomer(r.Context(), authRepo, opts.Gateway, u)
	})
	mux.Handle("GET /api/billing/payment-method", authService.RequireAPI(http.HandlerFunc(billingHandler.PaymentMethod)))
	mux.Handle("POST /api/billing/setup-intent", authService.RequireAPI(http.HandlerFunc(billingHandler.SetupIntentNew)))
	mux.Handle("POST /api/billing/checkout", authService.RequireAPI(http.HandlerFunc(billingHandler.Checkout)))
	mux.Handle("POST /api/billing/portal", authService.RequireAPI(http.HandlerFunc(billingHandler.Portal)))
	mux.HandleFunc("POST /api/billing/webhook", billingHandler.Webhook)

	accountHandler := account.NewHandler(account.HandlerOptions{
		Users:   authRepo,
		Auth:    authService,
		Gateway: opts.Gateway,
		Purger:  sync,
		Logger:  opts.Logger,
	})
	mux.Handle("GET /api/account", authService.RequireAPI(http.HandlerFunc(accountHandler.Info)))
	mux.Handle("DELETE /api/account", authService.RequireAPI(http.HandlerFunc(accountHandler.Delete)))

	mux.Handle("/api/config", authService.RequireAPI(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(cfg); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})))

	handler := httpmw.Chain(
		mux,
		httpmw.WithAccessLog(opts.Logger),
		httpmw.WithRequestID,
		httpmw.WithRecover(opts.Logger),
	)
	return &App{Handler: handler, Sync: sync}, nil
}

// ensureCustomer returns the user's payment customer reference, creating
// and persisting one on first use.
func ensureCustomer(ctx context.Context, users auth.Repo, gateway billing.Gateway, u auth.User) (string, error) {
	if u.StripeCustomerID != "" {
		return u.StripeCustomerID, nil
	}
	ref, err := gateway.CreateCustomer(ctx, u.Email, map[string]string{"user_id": u.ID})
	if err != nil {
		return "", fmt.Errorf("create customer for %s: %w", u.ID, err)
	}
	if err := users.SetStripeCustomerID(ctx, u.ID, ref); err != nil {
		return "", fmt.Errorf("persist customer ref for %s: %w", u.ID, err)
	}
	return ref, nil
}

// expiryCharger bridges the session layer to billing: it resolves the
// user's customer reference and fires the off-session charge.
type expiryCharger struct {
	users    auth.Repo
	gateway  billing.Gateway
	currency string
}

func (c *expiryCharger) Charge(ctx context.Context, userID string, amount float64, idempotencyKey string) error {
	u, ok, err := c.users.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("look up user %s: %w", userID, err)
	}
	if !ok {
		return fmt.Errorf("charge for unknown user %s", userID)
	}
	if u.StripeCustomerID == "" {
		return billing.ErrNoPaymentMethod
	}
	has, err := c.gateway.HasDefaultPaymentMethod(ctx, u.StripeCustomerID)
	if err != nil {
		return fmt.Errorf("check payment method for %s: %w", userID, err)
	}
	if !has {
		return billing.ErrNoPaymentMethod
	}
	_, err = c.gateway.Charge(ctx, billing.ChargeRequest{
		CustomerRef:    u.StripeCustomerID,
		Amount:         amount,
		Currency:       c.currency,
		IdempotencyKey: idempotencyKey,
		Metadata:       map[string]string{"user_id": userID},
	})
	return err
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
