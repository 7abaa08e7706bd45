package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

var ErrUnknownCommand = errors.New("unknown session command")

// Charger fires the expiry charge for a user. Implementations must treat
// idempotencyKey as a dedupe token: the same key may be presented more
// than once per lock cycle and must produce at most one capture.
type Charger interface {
	Charge(ctx context.Context, userID string, amount float64, idempotencyKey string) error
}

// Command is one client-initiated transition.
type Command struct {
	Op    string
	Index int
	Text  string
	Price float64
}

const (
	OpRevealNext = "reveal_next"
	OpEditText   = "edit_text"
	OpToggleDone = "toggle_done"
	OpSetPrice   = "set_price"
	OpLock       = "lock"
	OpTick       = "tick"
)

// Snapshot is what clients see: the reconciled session plus transient
// synchronizer state.
type Snapshot struct {
	TaskSession
	ChargeError string `json:"chargeError,omitempty"`
	Degraded    bool   `json:"degraded,omitempty"`
}

type Options struct {
	Rules         Rules
	Repo          Repo
	Charger       Charger
	Clock         Clock
	Logger        *log.Logger
	ResetDebounce time.Duration
}

// Synchronizer makes every state-machine transition durable and recovers
// session state from storage on (re)connect. It is the single writer per
// session: all transitions for a user serialize on that user's mutex.
//
// When the primary store is unreachable it degrades to a process-local
// shadow so the client stays usable; the shadow is never authoritative
// and is discarded on the next successful primary read.
type Synchronizer struct {
	rules         Rules
	primary       Repo
	fallback      *MemoryRepo
	charger       Charger
	clock         Clock
	logger        *log.Logger
	resetDebounce time.Duration
	sched         *scheduler

	mu    sync.Mutex
	users map[string]*userState
}

type userState struct {
	mu          sync.Mutex
	degraded    bool
	chargeTried map[string]bool
	chargeErr   string
}

func NewSynchronizer(opts Options) *Synchronizer {
	rules := opts.Rules
	if rules.LockDuration == 0 {
		rules = DefaultRules()
	}
	clock := opts.Clock
	if clock == nil {
		clock = RealClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	debounce := opts.ResetDebounce
	if debounce <= 0 {
		debounce = time.Second
	}
	return &Synchronizer{
		rules:         rules,
		primary:       opts.Repo,
		fallback:      NewMemoryRepo(),
		charger:       opts.Charger,
		clock:         clock,
		logger:        logger,
		resetDebounce: debounce,
		sched:         newScheduler(),
		users:         map[string]*userState{},
	}
}

func (y *Synchronizer) Rules() Rules { return y.rules }

// Close cancels all scheduled expiry and reset work.
func (y *Synchronizer) Close() {
	y.sched.close()
}

// Load fetches, reconciles, and persists the user's session, synthesizing
// the default session on first contact. A countdown that ran out while no
// client was connected is detected here and charged.
func (y *Synchronizer) Load(ctx context.Context, userID string) (Snapshot, error) {
	st := y.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return y.loadLocked(ctx, userID, st), nil
}

// Apply runs one transition, saves the result, and returns the new
// snapshot. Transitions invalid for the current state are silent no-ops.
func (y *Synchronizer) Apply(ctx context.Context, userID string, cmd Command) (Snapshot, error) {
	st := y.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	sess := y.fetch(ctx, userID, st)
	y.rules.Normalize(&sess)
	now := y.clock.Now()

	expired := false
	switch cmd.Op {
	case OpRevealNext:
		y.rules.RevealNext(&sess)
	case OpEditText:
		y.rules.EditText(&sess, cmd.Index, cmd.Text)
	case OpToggleDone:
		y.rules.ToggleDone(&sess, cmd.Index)
	case OpSetPrice:
		y.rules.SetPrice(&sess, cmd.Price)
	case OpLock:
		y.rules.Lock(&sess, now)
	case OpTick:
		expired = y.rules.Tick(&sess)
	default:
		return Snapshot{}, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Op)
	}

	// The tick path keeps its decremented counter; every other
	// transition re-derives remaining time from the durable lock
	// timestamp.
	if cmd.Op != OpTick {
		if y.rules.Reconcile(&sess, now) {
			expired = true
		}
	}
	if expired {
		y.maybeCharge(ctx, userID, &sess, st)
	}

	y.persist(ctx, userID, sess, st)
	y.arm(userID, sess)
	return y.snapshotLocked(sess, st), nil
}

// Forget tears down all state for a user: scheduled work, the local
// shadow, and the durable record. Used by account deletion.
func (y *Synchronizer) Forget(ctx context.Context, userID string) error {
	st := y.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	y.sched.cancel(userID + "/expiry")
	y.sched.cancel(userID + "/reset")
	_ = y.fallback.Delete(ctx, userID)
	err := y.primary.Delete(ctx, userID)

	y.mu.Lock()
	delete(y.users, userID)
	y.mu.Unlock()
	return err
}

func (y *Synchronizer) state(userID string) *userState {
	y.mu.Lock()
	defer y.mu.Unlock()
	st, ok := y.users[userID]
	if !ok {
		st = &userState{chargeTried: map[string]bool{}}
		y.users[userID] = st
	}
	return st
}

func (y *Synchronizer) loadLocked(ctx context.Context, userID string, st *userState) Snapshot {
	sess := y.fetch(ctx, userID, st)
	y.rules.Normalize(&sess)
	if y.rules.Reconcile(&sess, y.clock.Now()) {
		y.maybeCharge(ctx, userID, &sess, st)
	}
	y.persist(ctx, userID, sess, st)
	y.arm(userID, sess)
	return y.snapshotLocked(sess, st)
}

// fetch reads the session, preferring the primary store. A primary
// failure flips the circuit to the local shadow; a later successful
// primary read flips it back and the durable copy wins.
func (y *Synchronizer) fetch(ctx context.Context, userID string, st *userState) TaskSession {
	sess, ok, err := y.primary.Get(ctx, userID)
	if err != nil {
		if !st.degraded {
			st.degraded = true
			y.logger.Printf("[session] primary store unavailable for %s, using local fallback: %v", userID, err)
		}
		fsess, fok, _ := y.fallback.Get(ctx, userID)
		if fok {
			return fsess
		}
		return y.rules.NewSession()
	}
	if st.degraded {
		st.degraded = false
		_ = y.fallback.Delete(ctx, userID)
		y.logger.Printf("[session] primary store recovered for %s, durable state wins", userID)
	}
	if !ok {
		return y.rules.NewSession()
	}
	return sess
}

func (y *Synchronizer) persist(ctx context.Context, userID string, sess TaskSession, st *userState) {
	if st.degraded {
		_ = y.fallback.Upsert(ctx, userID, sess)
		return
	}
	if err := y.primary.Upsert(ctx, userID, sess); err != nil {
		st.degraded = true
		y.logger.Printf("[session] save failed for %s, using local fallback: %v", userID, err)
		_ = y.fallback.Upsert(ctx, userID, sess)
	}
}

// maybeCharge fires the expiry charge at most once per lock cycle. The
// in-memory guard covers a live tick-to-zero and a reconnect reconcile
// observing zero in close succession; the durable flag covers restarts
// after a successful charge; the idempotency key covers everything else
// on the gateway side. Failures keep ChargeAttempted false so the
// reconcile sweep can retry out of band.
func (y *Synchronizer) maybeCharge(ctx context.Context, userID string, sess *TaskSession, st *userState) {
	if sess.ChargeAttempted || !sess.Locked || sess.LockTime == nil {
		return
	}
	key := ChargeKey(userID, *sess.LockTime)
	if st.chargeTried[key] {
		return
	}
	st.chargeTried[key] = true

	if y.charger == nil {
		y.logger.Printf("[session] countdown expired for %s but no charger is configured", userID)
		return
	}
	if err := y.charger.Charge(ctx, userID, sess.Price, key); err != nil {
		st.chargeErr = err.Error()
		y.logger.Printf("[session] charge of %.2f failed for %s: %v", sess.Price, userID, err)
		return
	}
	sess.ChargeAttempted = true
	st.chargeErr = ""
	y.logger.Printf("[session] charged %.2f for %s", sess.Price, userID)
}

func (y *Synchronizer) arm(userID string, sess TaskSession) {
	if sess.Locked && sess.Remaining > 0 && !sess.ChargeAttempted {
		y.sched.schedule(userID+"/expiry", time.Duration(sess.Remaining)*time.Second, func() {
			y.expire(userID)
		})
	} else {
		y.sched.cancel(userID + "/expiry")
	}

	if sess.AllDone() {
		y.sched.schedule(userID+"/reset", y.resetDebounce, func() {
			y.finishReset(userID)
		})
	} else {
		y.sched.cancel(userID + "/reset")
	}
}

// expire runs when the server-side countdown deadline passes, with or
// without a connected client. Load does the reconcile and the charge.
func (y *Synchronizer) expire(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := y.Load(ctx, userID); err != nil {
		y.logger.Printf("[session] expiry sweep for %s: %v", userID, err)
	}
}

// finishReset fires after the all-done debounce. A toggle that flipped a
// task back during the grace window aborts the reset.
func (y *Synchronizer) finishReset(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st := y.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	sess := y.fetch(ctx, userID, st)
	y.rules.Normalize(&sess)
	if !sess.AllDone() {
		return
	}
	y.rules.Reset(&sess)
	st.chargeErr = ""
	y.persist(ctx, userID, sess, st)
	y.sched.cancel(userID + "/expiry")
}

func (y *Synchronizer) snapshotLocked(sess TaskSession, st *userState) Snapshot {
	return Snapshot{
		TaskSession: cloneSession(sess),
		ChargeError: st.chargeErr,
		Degraded:    st.degraded,
	}
}

// ChargeKey derives the per-lock-cycle idempotency key passed to the
// payment gateway.
func ChargeKey(userID string, lockTime time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", userID, lockTime.UTC().UnixNano())))
	return "reeve_" + hex.EncodeToString(sum[:16])
}
