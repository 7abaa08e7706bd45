package session

import "time"

// MaxTasks is the fixed size of a task list. Every session holds exactly
// this many items; revealing controls how many the client shows.
const MaxTasks = 3

type TaskItem struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// TaskSession is the durable countdown-and-charge record, one per user.
//
// Remaining is a cache: once LockTime is set, the authoritative remaining
// time is always recomputed from LockTime on every load that crosses a
// persistence boundary.
type TaskSession struct {
	Tasks     []TaskItem `json:"tasks"`
	Visible   int        `json:"visible"`
	Locked    bool       `json:"locked"`
	Remaining int        `json:"remaining"`
	Price     float64    `json:"price"`
	LockTime  *time.Time `json:"lockTime"`

	// ChargeAttempted marks that the expiry charge for the current lock
	// cycle went through. It is persisted only on gateway success so an
	// out-of-band reconciliation pass can retry failures.
	ChargeAttempted bool `json:"chargeAttempted"`
}

func (s *TaskSession) AllDone() bool {
	if len(s.Tasks) == 0 {
		return false
	}
	for _, t := range s.Tasks {
		if !t.Done {
			return false
		}
	}
	return true
}

func blankTasks() []TaskItem {
	tasks := make([]TaskItem, MaxTasks)
	for i := range tasks {
		tasks[i] = TaskItem{ID: i + 1}
	}
	return tasks
}
