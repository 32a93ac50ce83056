package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veranemoloko/offline-downloader/internal/domain"
	errpkg "github.com/veranemoloko/offline-downloader/internal/errors"
)

type taskRecord struct {
	Seq  int64        `json:"seq"`
	Task *domain.Task `json:"task"`
}

// TaskStorage keeps tasks in memory and snapshots them to a JSON state file
// after every mutation.
type TaskStorage struct {
	mu    sync.RWMutex
	tasks map[string]*taskRecord
	seq   int64
	file  string
	now   func() time.Time
}

var _ TaskRepo = (*TaskStorage)(nil)

// NewTaskStorage creates a new TaskStorage and loads tasks from the file if it exists.
func NewTaskStorage(filePath string) (*TaskStorage, error) {
	repo := &TaskStorage{
		tasks: make(map[string]*taskRecord),
		file:  filepath.Clean(filePath),
		now:   time.Now,
	}

	if err := repo.restoreTasks(); err != nil {
		return nil, fmt.Errorf("failed to load state from file: %w", err)
	}

	slog.Info("File repository initialized", "file_path", repo.file, "tasks_count", len(repo.tasks))
	return repo, nil
}

func (r *TaskStorage) restoreTasks() error {
	if isFileNotExist(r.file) {
		slog.Info("State file does not exist, starting with empty state", "file_path", r.file)
		return nil
	}

	data, err := os.ReadFile(r.file)
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}

	if len(data) == 0 {
		slog.Warn("State file is empty")
		return nil
	}

	var records []*taskRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to unmarshal state file: %w", err)
	}

	for _, rec := range records {
		if rec.Task == nil {
			continue
		}
		r.tasks[rec.Task.ID] = rec
		if rec.Seq > r.seq {
			r.seq = rec.Seq
		}
	}

	slog.Info("State loaded from file", "tasks_count", len(records), "file_path", r.file)
	return nil
}

func isFileNotExist(filePath string) bool {
	_, err := os.Stat(filePath)
	return os.IsNotExist(err)
}

// persistTasks must be called with r.mu held.
func (r *TaskStorage) persistTasks() error {
	records := make([]*taskRecord, 0, len(r.tasks))
	for _, rec := range r.tasks {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tasks: %w", err)
	}

	tempFile := r.file + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	if err := os.Rename(tempFile, r.file); err != nil {
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	slog.Debug("State saved to file", "tasks_count", len(records), "file_path", r.file)
	return nil
}

// Insert adds a new pending task and persists it to the file.
func (r *TaskStorage) Insert(ctx context.Context, task *domain.Task) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	now := r.now().UTC()
	stored := task.Clone()
	stored.ID = uuid.New().String()
	stored.Status = domain.TaskStatusPending
	stored.Size = 0
	stored.Attempts = 0
	stored.LeaseUntil = nil
	stored.CreatedAt = now
	stored.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	r.tasks[stored.ID] = &taskRecord{Seq: r.seq, Task: stored}

	if err := r.persistTasks(); err != nil {
		delete(r.tasks, stored.ID)
		return "", errpkg.Storage("save state after creating task", err)
	}

	slog.Debug("Task created and saved", "task_id", stored.ID)
	return stored.ID, nil
}

// Get retrieves a task by ID.
func (r *TaskStorage) Get(ctx context.Context, id string) (*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.tasks[id]
	if !exists {
		return nil, errpkg.ErrTaskNotFound
	}
	return rec.Task.Clone(), nil
}

// GetRange returns a page of tasks, newest first.
func (r *TaskStorage) GetRange(ctx context.Context, owner *string, offset, limit int) ([]*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkRange(offset, limit); err != nil {
		return nil, err
	}

	// Records are mutated in place by UpdateStatus and ClaimPending, so
	// snapshot them before releasing the lock.
	r.mu.RLock()
	matched := make([]taskRecord, 0, len(r.tasks))
	for _, rec := range r.tasks {
		if owner != nil && rec.Task.Owner != *owner {
			continue
		}
		matched = append(matched, taskRecord{Seq: rec.Seq, Task: rec.Task.Clone()})
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].Seq > matched[j].Seq })

	if offset >= len(matched) {
		return []*domain.Task{}, nil
	}
	end := len(matched)
	if limit < end-offset {
		end = offset + limit
	}

	out := make([]*domain.Task, 0, end-offset)
	for _, rec := range matched[offset:end] {
		out = append(out, rec.Task)
	}
	return out, nil
}

// UpdateStatus applies a forward status transition and persists it.
func (r *TaskStorage) UpdateStatus(ctx context.Context, id string, status domain.TaskStatus, size int64, comment string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := checkStatus(status); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.tasks[id]
	if !exists {
		return errpkg.ErrTaskNotFound
	}

	task := rec.Task
	if task.Status == status && status.IsTerminal() {
		return nil
	}
	if !task.Status.CanTransitionTo(status) {
		return fmt.Errorf("task %s: %s -> %s: %w", id, task.Status, status, errpkg.ErrInvalidTransition)
	}

	prev := task.Clone()
	task.Status = status
	task.Size = size
	task.Comment = comment
	task.UpdatedAt = r.now().UTC()
	if status.IsTerminal() {
		task.LeaseUntil = nil
	}

	if err := r.persistTasks(); err != nil {
		rec.Task = prev
		return errpkg.Storage("save state after updating task", err)
	}

	slog.Debug("Task updated and saved", "task_id", id, "status", status)
	return nil
}

// ClaimPending leases claimable tasks to the caller, oldest first.
func (r *TaskStorage) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	var candidates []*taskRecord
	for _, rec := range r.tasks {
		if rec.Task.Claimable(now) {
			candidates = append(candidates, rec)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Seq < candidates[j].Seq })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	prev := make([]*domain.Task, len(candidates))
	leaseUntil := now.Add(lease)
	for i, rec := range candidates {
		prev[i] = rec.Task.Clone()
		until := leaseUntil
		rec.Task.Status = domain.TaskStatusRunning
		rec.Task.Attempts++
		rec.Task.LeaseUntil = &until
		rec.Task.UpdatedAt = now
	}

	if err := r.persistTasks(); err != nil {
		for i, rec := range candidates {
			rec.Task = prev[i]
		}
		return nil, errpkg.Storage("save state after claiming tasks", err)
	}

	out := make([]*domain.Task, len(candidates))
	for i, rec := range candidates {
		out[i] = rec.Task.Clone()
	}
	return out, nil
}

// CountActive counts pending and running tasks of owner.
func (r *TaskStorage) CountActive(ctx context.Context, owner string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, rec := range r.tasks {
		if rec.Task.Owner == owner && !rec.Task.Status.IsTerminal() {
			n++
		}
	}
	return n, nil
}

// Close is a no-op; every mutation is already on disk.
func (r *TaskStorage) Close() error {
	return nil
}
