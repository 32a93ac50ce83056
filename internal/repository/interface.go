package repository

import (
	"context"
	"time"

	"github.com/veranemoloko/offline-downloader/internal/domain"
	errpkg "github.com/veranemoloko/offline-downloader/internal/errors"
)

// TaskRepo defines the interface for task storage operations.
//
// Implementations must make Insert atomic with respect to id assignment and
// implement UpdateStatus and ClaimPending as compare-and-set on the current
// status, so that concurrent workers never both move a task out of Pending.
type TaskRepo interface {
	// Insert assigns an id and persists the task as pending.
	Insert(ctx context.Context, task *domain.Task) (string, error)
	Get(ctx context.Context, id string) (*domain.Task, error)
	// GetRange returns tasks most recent first, restricted to owner when
	// owner is non-nil.
	GetRange(ctx context.Context, owner *string, offset, limit int) ([]*domain.Task, error)
	// UpdateStatus moves a task forward. Repeating a terminal update is a
	// no-op; any other non-forward move fails with ErrInvalidTransition.
	UpdateStatus(ctx context.Context, id string, status domain.TaskStatus, size int64, comment string) error
	// ClaimPending moves up to limit claimable tasks to running, oldest
	// first, and leases them for the given duration.
	ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]*domain.Task, error)
	// CountActive returns the number of pending and running tasks of owner.
	CountActive(ctx context.Context, owner string) (int, error)
	Close() error
}

func checkRange(offset, limit int) error {
	if offset < 0 || limit < 0 {
		return errpkg.InvalidArgument("page or per_page invalid.")
	}
	return nil
}

func checkStatus(status domain.TaskStatus) (domain.TaskStatus, error) {
	prev, ok := status.Predecessor()
	if !ok {
		return "", errpkg.InvalidArgument("cannot move a task to %q", status)
	}
	return prev, nil
}
