package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSession_Defaults(t *testing.T) {
	r := DefaultRules()
	s := r.NewSession()

	require.Len(t, s.Tasks, MaxTasks)
	for i, task := range s.Tasks {
		assert.Equal(t, i+1, task.ID)
		assert.Equal(t, "", task.Text)
		assert.False(t, task.Done)
	}
	assert.Equal(t, 1, s.Visible)
	assert.False(t, s.Locked)
	assert.Equal(t, 43200, s.Remaining)
	assert.Equal(t, 10.0, s.Price)
	assert.Nil(t, s.LockTime)
	assert.False(t, s.ChargeAttempted)
}

func TestRevealNext_StopsAtMaxAndWhileLocked(t *testing.T) {
	r := DefaultRules()
	s := r.NewSession()

	r.RevealNext(&s)
	assert.Equal(t, 2, s.Visible)
	r.RevealNext(&s)
	assert.Equal(t, 3, s.Visible)
	r.RevealNext(&s)
	assert.Equal(t, 3, s.Visible)

	s = r.NewSession()
	r.Lock(&s, time.Now())
	r.RevealNext(&s)
	assert.Equal(t, 1, s.Visible)
}

func TestEditText_IgnoredWhileLockedOrOutOfRange(t *testing.T) {
	r := DefaultRules()
	s := r.NewSession()

	r.EditText(&s, 0, "write the report")
	assert.Equal(t, "write the report", s.Tasks[0].Text)

	r.EditText(&s, -1, "nope")
	r.EditText(&s, 3, "nope")
	for _, task := range s.Tasks[1:] {
		assert.Equal(t, "", task.Text)
	}

	r.Lock(&s, time.Now())
	r.EditText(&s, 0, "changed after lock")
	assert.Equal(t, "write the report", s.Tasks[0].Text)
}

func TestToggleDone_WorksInBothStates(t *testing.T) {
	r := DefaultRules()
	s := r.NewSession()

	r.ToggleDone(&s, 0)
	assert.True(t, s.Tasks[0].Done)
	r.ToggleDone(&s, 0)
	assert.False(t, s.Tasks[0].Done)

	r.Lock(&s, time.Now())
	r.ToggleDone(&s, 1)
	assert.True(t, s.Tasks[1].Done)
}

func TestSetPrice_Bounds(t *testing.T) {
	r := DefaultRules()
	s := r.NewSession()

	r.SetPrice(&s, 25)
	assert.Equal(t, 25.0, s.Price)

	r.SetPrice(&s, 0.5)
	assert.Equal(t, 25.0, s.Price)
	r.SetPrice(&s, 1001)
	assert.Equal(t, 25.0, s.Price)

	r.SetPrice(&s, 1)
	assert.Equal(t, 1.0, s.Price)
	r.SetPrice(&s, 1000)
	assert.Equal(t, 1000.0, s.Price)

	r.Lock(&s, time.Now())
	r.SetPrice(&s, 50)
	assert.Equal(t, 1000.0, s.Price)
}

func TestLock_StartsCountdownOnce(t *testing.T) {
	r := DefaultRules()
	s := r.NewSession()
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	r.Lock(&s, t0)
	require.True(t, s.Locked)
	require.NotNil(t, s.LockTime)
	assert.Equal(t, t0, *s.LockTime)
	assert.Equal(t, 43200, s.Remaining)
	assert.False(t, s.ChargeAttempted)

	// Second lock must not restart the countdown.
	r.Lock(&s, t0.Add(time.Hour))
	assert.Equal(t, t0, *s.LockTime)
}

func TestTick_SignalsExpiryExactlyOnce(t *testing.T) {
	r := DefaultRules()
	s := r.NewSession()

	// Unlocked sessions do not tick.
	assert.False(t, r.Tick(&s))
	assert.Equal(t, 43200, s.Remaining)

	r.Lock(&s, time.Now())
	s.Remaining = 2

	assert.False(t, r.Tick(&s))
	assert.Equal(t, 1, s.Remaining)
	assert.True(t, r.Tick(&s))
	assert.Equal(t, 0, s.Remaining)
	assert.False(t, r.Tick(&s))
	assert.Equal(t, 0, s.Remaining)
}

func TestReconcile_RederivesRemainingFromLockTime(t *testing.T) {
	r := DefaultRules()
	s := r.NewSession()
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r.Lock(&s, t0)

	expired := r.Reconcile(&s, t0.Add(3*time.Hour))
	assert.False(t, expired)
	assert.Equal(t, 9*60*60, s.Remaining)

	expired = r.Reconcile(&s, t0.Add(12*time.Hour))
	assert.True(t, expired)
	assert.Equal(t, 0, s.Remaining)

	// Long after the deadline it stays pinned at zero.
	expired = r.Reconcile(&s, t0.Add(48*time.Hour))
	assert.True(t, expired)
	assert.Equal(t, 0, s.Remaining)
}

func TestReconcile_NoOpWhenUnlocked(t *testing.T) {
	r := DefaultRules()
	s := r.NewSession()
	assert.False(t, r.Reconcile(&s, time.Now()))
	assert.Equal(t, 43200, s.Remaining)
}

func TestReset_ReturnsToInitialState(t *testing.T) {
	r := DefaultRules()
	s := r.NewSession()
	r.EditText(&s, 0, "done thing")
	r.RevealNext(&s)
	r.SetPrice(&s, 99)
	r.Lock(&s, time.Now())
	r.ToggleDone(&s, 0)

	r.Reset(&s)
	assert.Equal(t, r.NewSession(), s)
}

func TestNormalize_RepairsUntrustedSnapshots(t *testing.T) {
	r := DefaultRules()

	s := TaskSession{
		Tasks:   []TaskItem{{ID: 7, Text: "only one", Done: true}},
		Visible: 9,
		Price:   -4,
	}
	r.Normalize(&s)

	require.Len(t, s.Tasks, MaxTasks)
	assert.Equal(t, 1, s.Tasks[0].ID)
	assert.Equal(t, "only one", s.Tasks[0].Text)
	assert.True(t, s.Tasks[0].Done)
	assert.Equal(t, 3, s.Visible)
	assert.Equal(t, r.DefaultPrice, s.Price)
	assert.Equal(t, r.lockSeconds(), s.Remaining)

	// Locked without a lock time is contradictory; unlocked wins.
	s = TaskSession{Locked: true, Visible: 1, Price: 10, Remaining: 100}
	r.Normalize(&s)
	assert.False(t, s.Locked)
	assert.Nil(t, s.LockTime)
}

func TestAllDone(t *testing.T) {
	r := DefaultRules()
	s := r.NewSession()
	assert.False(t, s.AllDone())

	for i := range s.Tasks {
		s.Tasks[i].Done = true
	}
	assert.True(t, s.AllDone())

	s.Tasks[2].Done = false
	assert.False(t, s.AllDone())
}
