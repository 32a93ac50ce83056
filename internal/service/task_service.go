package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/veranemoloko/offline-downloader/internal/domain"
	errpkg "github.com/veranemoloko/offline-downloader/internal/errors"
	"github.com/veranemoloko/offline-downloader/internal/filerepo"
	"github.com/veranemoloko/offline-downloader/internal/metrics"
	repo "github.com/veranemoloko/offline-downloader/internal/repository"
	"github.com/veranemoloko/offline-downloader/internal/validation"
)

// Notifier is woken after a task has been stored.
type Notifier interface {
	Notify()
}

// TaskOptions tunes admission.
type TaskOptions struct {
	BlockPrivateHosts bool
	// MaxActiveTasksPerUser caps pending plus running tasks per owner; 0 disables.
	MaxActiveTasksPerUser int
}

// TaskService admits new tasks and serves the owner's view of them.
type TaskService struct {
	taskRepo repo.TaskRepo
	repos    filerepo.Service
	notifier Notifier
	opts     TaskOptions
	logger   *slog.Logger
}

func NewTaskService(
	taskRepo repo.TaskRepo,
	repos filerepo.Service,
	notifier Notifier,
	opts TaskOptions,
	logger *slog.Logger,
) *TaskService {
	return &TaskService{
		taskRepo: taskRepo,
		repos:    repos,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
	}
}

// Submit validates and authorizes a download request and stores it as a
// pending task. Nothing is written when any check fails.
func (s *TaskService) Submit(ctx context.Context, owner, repoID, path, url string) (string, error) {
	req := &domain.CreateTaskRequest{
		RepoID: strings.TrimSpace(repoID),
		Path:   strings.TrimSpace(path),
		URL:    strings.TrimSpace(url),
	}
	owner = strings.TrimSpace(owner)

	if owner == "" {
		metrics.TasksRejected.WithLabelValues("invalid").Inc()
		return "", errpkg.InvalidArgument("owner invalid.")
	}
	if err := validation.ValidateTaskRequest(req); err != nil {
		metrics.TasksRejected.WithLabelValues("invalid").Inc()
		return "", err
	}
	if err := validation.ValidateURL(req.URL, s.opts.BlockPrivateHosts); err != nil {
		metrics.TasksRejected.WithLabelValues("invalid").Inc()
		return "", err
	}

	perm, err := s.repos.CheckPermission(ctx, req.RepoID, "/", owner)
	if err != nil {
		return "", fmt.Errorf("check permission on repo %s: %w", req.RepoID, err)
	}
	if perm != filerepo.PermissionReadWrite {
		metrics.TasksRejected.WithLabelValues("permission").Inc()
		s.logger.Info("task rejected", "owner", owner, "repo_id", req.RepoID, "permission", perm)
		return "", errpkg.PermissionDenied("Permission denied.")
	}

	if limit := s.opts.MaxActiveTasksPerUser; limit > 0 {
		active, err := s.taskRepo.CountActive(ctx, owner)
		if err != nil {
			return "", err
		}
		if active >= limit {
			metrics.TasksRejected.WithLabelValues("quota").Inc()
			s.logger.Info("task rejected", "owner", owner, "active_tasks", active, "limit", limit)
			return "", errpkg.QuotaExceeded(fmt.Sprintf("Too many active offline download tasks (limit %d).", limit))
		}
	}

	id, err := s.taskRepo.Insert(ctx, &domain.Task{
		Owner:  owner,
		RepoID: req.RepoID,
		Path:   req.Path,
		URL:    req.URL,
	})
	if err != nil {
		return "", err
	}

	metrics.TasksCreated.Inc()
	s.logger.Info("task created",
		"task_id", id,
		"owner", owner,
		"repo_id", req.RepoID,
	)

	if s.notifier != nil {
		s.notifier.Notify()
	}
	return id, nil
}

// ListUserTasks returns a page of owner's tasks, most recent first.
func (s *TaskService) ListUserTasks(ctx context.Context, owner string, offset, limit int) ([]domain.UserTaskView, error) {
	tasks, err := s.taskRepo.GetRange(ctx, &owner, offset, limit)
	if err != nil {
		return nil, err
	}

	views := make([]domain.UserTaskView, 0, len(tasks))
	for _, task := range tasks {
		views = append(views, domain.UserTaskView{URL: task.URL, Status: task.Status})
	}
	return views, nil
}
