package ops

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maksblyz/reeve/internal/auth"
	"github.com/maksblyz/reeve/internal/billing"
	"github.com/maksblyz/reeve/internal/session"
	"github.com/maksblyz/reeve/internal/store"
)

func TestReconcile_ChargesExpiredUnpaidSessions(t *testing.T) {
	ctx := context.Background()
	db, err := store.Open(filepath.Join(t.TempDir(), "reeve.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	users, err := auth.NewSQLiteRepo(db)
	require.NoError(t, err)
	sessions, err := session.NewSQLiteRepo(db)
	require.NoError(t, err)
	gateway := billing.NewFakeGateway()

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rules := session.DefaultRules()

	u, _, err := users.GetOrCreateUser(ctx, "a@example.com", now)
	require.NoError(t, err)
	ref, err := gateway.CreateCustomer(ctx, u.Email, nil)
	require.NoError(t, err)
	require.NoError(t, users.SetStripeCustomerID(ctx, u.ID, ref))
	gateway.AttachCard(ref, billing.Card{Brand: "visa", Last4: "4242"})

	sess := rules.NewSession()
	rules.SetPrice(&sess, 25)
	rules.Lock(&sess, now.Add(-13*time.Hour))
	require.NoError(t, sessions.Upsert(ctx, u.ID, sess))

	report, err := Reconcile(ctx, ReconcileOptions{
		DB:           db,
		Gateway:      gateway,
		Currency:     "usd",
		LockDuration: rules.LockDuration,
		Logger:       log.New(io.Discard, "", 0),
		Now:          now,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Charged)
	assert.Equal(t, 0, report.Failed)

	charges := gateway.Charges()
	require.Len(t, charges, 1)
	assert.Equal(t, 25.0, charges[0].Amount)
	assert.Equal(t, session.ChargeKey(u.ID, *sess.LockTime), charges[0].IdempotencyKey)

	got, ok, err := sessions.Get(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.ChargeAttempted)

	// A second sweep finds nothing to do.
	report, err = Reconcile(ctx, ReconcileOptions{
		DB:           db,
		Gateway:      gateway,
		Currency:     "usd",
		LockDuration: rules.LockDuration,
		Logger:       log.New(io.Discard, "", 0),
		Now:          now,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Scanned)
	require.Len(t, gateway.Charges(), 1)
}

func TestReconcile_DryRunChargesNothing(t *testing.T) {
	ctx := context.Background()
	db, err := store.Open(filepath.Join(t.TempDir(), "reeve.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	users, err := auth.NewSQLiteRepo(db)
	require.NoError(t, err)
	sessions, err := session.NewSQLiteRepo(db)
	require.NoError(t, err)
	gateway := billing.NewFakeGateway()

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rules := session.DefaultRules()

	u, _, err := users.GetOrCreateUser(ctx, "a@example.com", now)
	require.NoError(t, err)
	sess := rules.NewSession()
	rules.Lock(&sess, now.Add(-13*time.Hour))
	require.NoError(t, sessions.Upsert(ctx, u.ID, sess))

	report, err := Reconcile(ctx, ReconcileOptions{
		DB:           db,
		Gateway:      gateway,
		Currency:     "usd",
		LockDuration: rules.LockDuration,
		DryRun:       true,
		Logger:       log.New(io.Discard, "", 0),
		Now:          now,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 0, report.Charged)
	assert.Empty(t, gateway.Charges())

	got, _, err := sessions.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, got.ChargeAttempted)
}

func TestReconcile_NoPaymentMethodCountsAsFailed(t *testing.T) {
	ctx := context.Background()
	db, err := store.Open(filepath.Join(t.TempDir(), "reeve.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	users, err := auth.NewSQLiteRepo(db)
	require.NoError(t, err)
	sessions, err := session.NewSQLiteRepo(db)
	require.NoError(t, err)

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rules := session.DefaultRules()

	u, _, err := users.GetOrCreateUser(ctx, "nocard@example.com", now)
	require.NoError(t, err)
	sess := rules.NewSession()
	rules.Lock(&sess, now.Add(-13*time.Hour))
	require.NoError(t, sessions.Upsert(ctx, u.ID, sess))

	report, err := Reconcile(ctx, ReconcileOptions{
		DB:           db,
		Gateway:      billing.NewFakeGateway(),
		Currency:     "usd",
		LockDuration: rules.LockDuration,
		Logger:       log.New(io.Discard, "", 0),
		Now:          now,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	// The durable flag stays clear so the next sweep retries.
	got, _, err := sessions.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, got.ChargeAttempted)
}
