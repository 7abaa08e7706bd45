package session

import "time"

// Rules holds the tunables of the countdown state machine. The zero value
// is not usable; construct with DefaultRules or from config.
type Rules struct {
	LockDuration time.Duration
	DefaultPrice float64
	MinPrice     float64
	MaxPrice     float64
}

func DefaultRules() Rules {
	return Rules{
		LockDuration: 12 * time.Hour,
		DefaultPrice: 10,
		MinPrice:     1,
		MaxPrice:     1000,
	}
}

func (r Rules) lockSeconds() int {
	return int(r.LockDuration / time.Second)
}

// NewSession returns the initial, unlocked state: one task revealed,
// three blank items, default price.
func (r Rules) NewSession() TaskSession {
	return TaskSession{
		Tasks:     blankTasks(),
		Visible:   1,
		Locked:    false,
		Remaining: r.lockSeconds(),
		Price:     r.DefaultPrice,
		LockTime:  nil,
	}
}

// RevealNext shows one more task. A no-op when locked or already at the
// maximum; invalid transitions never error.
func (r Rules) RevealNext(s *TaskSession) {
	if s.Locked || s.Visible >= MaxTasks {
		return
	}
	s.Visible++
}

// EditText sets a task's text. Ignored while locked or out of range.
func (r Rules) EditText(s *TaskSession, idx int, text string) {
	if s.Locked || idx < 0 || idx >= len(s.Tasks) {
		return
	}
	s.Tasks[idx].Text = text
}

// ToggleDone flips completion. Valid in both states; completion detection
// has to keep working while the countdown runs.
func (r Rules) ToggleDone(s *TaskSession, idx int) {
	if idx < 0 || idx >= len(s.Tasks) {
		return
	}
	s.Tasks[idx].Done = !s.Tasks[idx].Done
}

// SetPrice updates the stake. Ignored while locked or outside the
// validated [MinPrice, MaxPrice] range.
func (r Rules) SetPrice(s *TaskSession, price float64) {
	if s.Locked || price < r.MinPrice || price > r.MaxPrice {
		return
	}
	s.Price = price
}

// Lock freezes text and price and starts the countdown. LockTime is the
// durable source of truth for elapsed time from here on.
func (r Rules) Lock(s *TaskSession, now time.Time) {
	if s.Locked {
		return
	}
	s.Locked = true
	t := now
	s.LockTime = &t
	s.Remaining = r.lockSeconds()
	s.ChargeAttempted = false
}

// Tick decrements the cached countdown by one second. Returns true on the
// transition to zero, which is the live expiry signal.
func (r Rules) Tick(s *TaskSession) (expired bool) {
	if !s.Locked || s.Remaining <= 0 {
		return false
	}
	s.Remaining--
	return s.Remaining == 0
}

// Reconcile recomputes Remaining from LockTime. Returns true when the
// countdown is expired, whether or not any client was connected when the
// deadline passed.
func (r Rules) Reconcile(s *TaskSession, now time.Time) (expired bool) {
	if !s.Locked || s.LockTime == nil {
		return false
	}
	elapsed := int(now.Sub(*s.LockTime) / time.Second)
	rem := r.lockSeconds() - elapsed
	if rem < 0 {
		rem = 0
	}
	s.Remaining = rem
	return rem == 0
}

// Reset returns the session to its initial state. Fired after the
// all-done debounce, from either state.
func (r Rules) Reset(s *TaskSession) {
	*s = r.NewSession()
}

// Normalize repairs a snapshot that crossed an untrusted boundary: pads
// or truncates the task list to exactly MaxTasks, restores stable IDs,
// clamps visible, and re-establishes locked <=> lockTime != nil.
func (r Rules) Normalize(s *TaskSession) {
	tasks := blankTasks()
	for i := 0; i < len(s.Tasks) && i < MaxTasks; i++ {
		tasks[i].Text = s.Tasks[i].Text
		tasks[i].Done = s.Tasks[i].Done
	}
	s.Tasks = tasks

	if s.Visible < 1 {
		s.Visible = 1
	}
	if s.Visible > MaxTasks {
		s.Visible = MaxTasks
	}
	if s.Price < r.MinPrice || s.Price > r.MaxPrice {
		s.Price = r.DefaultPrice
	}

	if s.Locked && s.LockTime == nil {
		s.Locked = false
	}
	if !s.Locked {
		s.LockTime = nil
		s.ChargeAttempted = false
		if s.Remaining <= 0 || s.Remaining > r.lockSeconds() {
			s.Remaining = r.lockSeconds()
		}
	}
	if s.Remaining < 0 {
		s.Remaining = 0
	}
}
