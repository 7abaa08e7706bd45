package ops

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/maksblyz/reeve/internal/auth"
	"github.com/maksblyz/reeve/internal/billing"
	"github.com/maksblyz/reeve/internal/session"
)

type ReconcileOptions struct {
	DB           *sql.DB
	Gateway      billing.Gateway
	Currency     string
	LockDuration time.Duration
	DryRun       bool
	Logger       *log.Logger
	Now          time.Time
}

type ReconcileReport struct {
	Scanned int
	Charged int
	Failed  int
	Skipped int
}

// Reconcile sweeps sessions whose countdown ran out without a successful
// charge and retries them. The per-lock-cycle idempotency key makes the
// sweep safe to run alongside a live server: the gateway dedupes any
// overlap with the live charge path.
func Reconcile(ctx context.Context, opts ReconcileOptions) (ReconcileReport, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	if opts.LockDuration <= 0 {
		opts.LockDuration = session.DefaultRules().LockDuration
	}

	sessions, err := session.NewSQLiteRepo(opts.DB)
	if err != nil {
		return ReconcileReport{}, err
	}
	users, err := auth.NewSQLiteRepo(opts.DB)
	if err != nil {
		return ReconcileReport{}, err
	}

	cutoff := now.Add(-opts.LockDuration)
	ids, err := sessions.ListExpiredUnpaid(ctx, cutoff)
	if err != nil {
		return ReconcileReport{}, err
	}

	var report ReconcileReport
	for _, userID := range ids {
		report.Scanned++

		sess, ok, err := sessions.Get(ctx, userID)
		if err != nil {
			logger.Printf("[reconcile] load session for %s: %v", userID, err)
			report.Failed++
			continue
		}
		if !ok || !sess.Locked || sess.LockTime == nil || sess.ChargeAttempted {
			report.Skipped++
			continue
		}

		key := session.ChargeKey(userID, *sess.LockTime)
		if opts.DryRun {
			logger.Printf("[reconcile] would charge %.2f for %s (key %s)", sess.Price, userID, key)
			report.Skipped++
			continue
		}

		if err := chargeUser(ctx, users, opts.Gateway, opts.Currency, userID, sess.Price, key); err != nil {
			logger.Printf("[reconcile] charge %.2f for %s: %v", sess.Price, userID, err)
			report.Failed++
			continue
		}
		sess.ChargeAttempted = true
		if err := sessions.Upsert(ctx, userID, sess); err != nil {
			// The idempotency key keeps a re-run from double charging.
			logger.Printf("[reconcile] record charge for %s: %v", userID, err)
			report.Failed++
			continue
		}
		logger.Printf("[reconcile] charged %.2f for %s", sess.Price, userID)
		report.Charged++
	}
	return report, nil
}

func chargeUser(ctx context.Context, users auth.Repo, gateway billing.Gateway, currency, userID string, amount float64, key string) error {
	u, ok, err := users.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("look up user: %w", err)
	}
	if !ok {
		return fmt.Errorf("user no longer exists")
	}
	if u.StripeCustomerID == "" {
		return billing.ErrNoPaymentMethod
	}
	_, err = gateway.Charge(ctx, billing.ChargeRequest{
		CustomerRef:    u.StripeCustomerID,
		Amount:         amount,
		Currency:       currency,
		IdempotencyKey: key,
		Metadata:       map[string]string{"user_id": userID, "source": "reconcile"},
	})
	return err
}
