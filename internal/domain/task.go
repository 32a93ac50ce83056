package domain

import (
	"time"
)

// Task is a request to download a URL into a directory of a repository.
type Task struct {
	ID         string     `json:"id"`
	Owner      string     `json:"owner"`
	RepoID     string     `json:"repo_id"`
	Path       string     `json:"path"`
	URL        string     `json:"url"`
	Status     TaskStatus `json:"status"`
	Size       int64      `json:"size"`
	Comment    string     `json:"comment,omitempty"`
	Attempts   int        `json:"attempts"`
	LeaseUntil *time.Time `json:"lease_until,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Clone returns a deep copy so callers never share state with a store.
func (t *Task) Clone() *Task {
	c := *t
	if t.LeaseUntil != nil {
		lease := *t.LeaseUntil
		c.LeaseUntil = &lease
	}
	return &c
}

// Claimable reports whether a worker may pick the task up at now: it is
// pending, or running with an expired lease.
func (t *Task) Claimable(now time.Time) bool {
	switch t.Status {
	case TaskStatusPending:
		return true
	case TaskStatusRunning:
		return t.LeaseUntil == nil || t.LeaseUntil.Before(now)
	default:
		return false
	}
}
