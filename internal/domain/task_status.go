package domain

import (
	"encoding/json"
	"fmt"
)

// TaskStatus represents the current state of a Task.
type TaskStatus string

const (
	TaskStatusPending TaskStatus = "pending"
	TaskStatusRunning TaskStatus = "running"
	TaskStatusDone    TaskStatus = "done"
	TaskStatusFailed  TaskStatus = "failed"
)

// Persisted status codes. They match the codes the web client renders
// (1 waiting, 2 downloading, 3 ok, 4 error).
const (
	codePending = 1
	codeRunning = 2
	codeDone    = 3
	codeFailed  = 4
)

// Code returns the numeric code used by the SQL stores.
func (s TaskStatus) Code() int {
	switch s {
	case TaskStatusPending:
		return codePending
	case TaskStatusRunning:
		return codeRunning
	case TaskStatusDone:
		return codeDone
	case TaskStatusFailed:
		return codeFailed
	default:
		return 0
	}
}

// StatusFromCode is the inverse of Code.
func StatusFromCode(code int) (TaskStatus, error) {
	switch code {
	case codePending:
		return TaskStatusPending, nil
	case codeRunning:
		return TaskStatusRunning, nil
	case codeDone:
		return TaskStatusDone, nil
	case codeFailed:
		return TaskStatusFailed, nil
	default:
		return "", fmt.Errorf("unknown task status code %d", code)
	}
}

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	return s.Code() != 0
}

// IsTerminal reports whether no further transition is possible.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusDone || s == TaskStatusFailed
}

// Predecessor returns the only status a task may move to s from.
// Pending has no predecessor.
func (s TaskStatus) Predecessor() (TaskStatus, bool) {
	switch s {
	case TaskStatusRunning:
		return TaskStatusPending, true
	case TaskStatusDone, TaskStatusFailed:
		return TaskStatusRunning, true
	default:
		return "", false
	}
}

// CanTransitionTo reports whether s -> next is a forward transition.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	prev, ok := next.Predecessor()
	return ok && prev == s
}

// UnmarshalJSON accepts both the status name and its numeric code.
func (s *TaskStatus) UnmarshalJSON(data []byte) error {
	var code int
	if err := json.Unmarshal(data, &code); err == nil {
		st, err := StatusFromCode(code)
		if err != nil {
			return err
		}
		*s = st
		return nil
	}

	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("task status: %w", err)
	}
	st := TaskStatus(name)
	if !st.Valid() {
		return fmt.Errorf("unknown task status %q", name)
	}
	*s = st
	return nil
}
