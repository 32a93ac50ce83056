package service

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/veranemoloko/offline-downloader/internal/domain"
	errpkg "github.com/veranemoloko/offline-downloader/internal/errors"
	"github.com/veranemoloko/offline-downloader/internal/filerepo"
	"github.com/veranemoloko/offline-downloader/internal/metrics"
	repo "github.com/veranemoloko/offline-downloader/internal/repository"
)

// AdminOptions tunes the enriched listing.
type AdminOptions struct {
	// CacheTTL of repository owner lookups; 0 disables the cache.
	CacheTTL    time.Duration
	CacheSize   int
	Parallelism int
}

type repoInfo struct {
	Name  string
	Owner string
}

type enrichedTask struct {
	view   domain.AdminTaskView
	reason string
	err    error
}

// AdminService serves the administrator view of all tasks.
type AdminService struct {
	taskRepo repo.TaskRepo
	repos    filerepo.Service
	owners   *expirable.LRU[string, string]
	parallel int
	logger   *slog.Logger
}

func NewAdminService(taskRepo repo.TaskRepo, repos filerepo.Service, opts AdminOptions, logger *slog.Logger) *AdminService {
	s := &AdminService{
		taskRepo: taskRepo,
		repos:    repos,
		parallel: opts.Parallelism,
		logger:   logger,
	}
	if s.parallel <= 0 {
		s.parallel = 1
	}
	if opts.CacheTTL > 0 {
		size := opts.CacheSize
		if size <= 0 {
			size = 1024
		}
		s.owners = expirable.NewLRU[string, string](size, nil, opts.CacheTTL)
	}
	return s
}

// ListTasks returns one page of all tasks joined with repository metadata.
// Tasks whose repository is gone or cannot be looked up are left out, so a
// page may hold fewer than limit entries while HasNextPage is still true.
func (s *AdminService) ListTasks(ctx context.Context, offset, limit int) (*domain.AdminTaskPage, error) {
	if limit < 0 {
		return nil, errpkg.InvalidArgument("page or per_page invalid.")
	}

	fetch := limit
	if fetch < math.MaxInt {
		fetch++
	}
	tasks, err := s.taskRepo.GetRange(ctx, nil, offset, fetch)
	if err != nil {
		return nil, err
	}

	hasNext := len(tasks) > limit
	if hasNext {
		tasks = tasks[:limit]
	}

	enriched := make([]enrichedTask, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)
	for i, task := range tasks {
		g.Go(func() error {
			enriched[i] = s.enrich(gctx, task)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &domain.AdminTaskPage{
		TaskList:    s.keepResolved(tasks, enriched),
		HasNextPage: hasNext,
	}, nil
}

func (s *AdminService) enrich(ctx context.Context, task *domain.Task) enrichedTask {
	info, ok, err := s.lookupRepo(ctx, task.RepoID)
	if err != nil {
		return enrichedTask{err: err}
	}
	if !ok {
		return enrichedTask{reason: "repo not found"}
	}
	return enrichedTask{view: domain.AdminTaskView{
		RepoName:  info.Name,
		RepoOwner: info.Owner,
		TaskOwner: task.Owner,
		FilePath:  task.Path,
		URL:       task.URL,
		Size:      task.Size,
		Status:    task.Status,
	}}
}

func (s *AdminService) keepResolved(tasks []*domain.Task, enriched []enrichedTask) []domain.AdminTaskView {
	list := make([]domain.AdminTaskView, 0, len(enriched))
	for i, e := range enriched {
		switch {
		case e.err != nil:
			s.logger.Error("failed to look up repo for task",
				"task_id", tasks[i].ID,
				"repo_id", tasks[i].RepoID,
				"error", e.err,
			)
		case e.reason != "":
			s.logger.Warn("task dropped from admin listing",
				"task_id", tasks[i].ID,
				"repo_id", tasks[i].RepoID,
				"reason", e.reason,
			)
		default:
			list = append(list, e.view)
			continue
		}
		metrics.AdminTasksDropped.Inc()
	}
	return list
}

// lookupRepo always asks GetRepo, so a deleted repository drops out of the
// listing immediately; only the owner is served from the cache.
func (s *AdminService) lookupRepo(ctx context.Context, repoID string) (repoInfo, bool, error) {
	r, err := s.repos.GetRepo(ctx, repoID)
	if err != nil {
		return repoInfo{}, false, err
	}
	if r == nil {
		if s.owners != nil {
			s.owners.Remove(repoID)
		}
		return repoInfo{}, false, nil
	}

	owner, err := s.lookupOwner(ctx, repoID)
	if err != nil {
		return repoInfo{}, false, err
	}
	return repoInfo{Name: r.Name, Owner: owner}, true, nil
}

func (s *AdminService) lookupOwner(ctx context.Context, repoID string) (string, error) {
	if s.owners != nil {
		if owner, ok := s.owners.Get(repoID); ok {
			return owner, nil
		}
	}
	owner, err := s.repos.GetOwner(ctx, repoID)
	if err != nil {
		return "", err
	}
	if s.owners != nil {
		s.owners.Add(repoID, owner)
	}
	return owner, nil
}
