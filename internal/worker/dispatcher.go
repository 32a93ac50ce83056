package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/veranemoloko/offline-downloader/internal/domain"
	"github.com/veranemoloko/offline-downloader/internal/metrics"
	repo "github.com/veranemoloko/offline-downloader/internal/repository"
)

// Executor runs one claimed task.
type Executor interface {
	Execute(ctx context.Context, task *domain.Task) error
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	PoolSize     int
	PollInterval time.Duration
	Lease        time.Duration
}

// Dispatcher claims tasks from the store and hands them to a fixed pool of
// workers. It never claims more tasks than it has idle workers.
type Dispatcher struct {
	taskRepo repo.TaskRepo
	executor Executor
	opts     DispatcherOptions
	wake     chan struct{}
	inflight atomic.Int64
	logger   *slog.Logger
}

func NewDispatcher(taskRepo repo.TaskRepo, executor Executor, opts DispatcherOptions, logger *slog.Logger) *Dispatcher {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Dispatcher{
		taskRepo: taskRepo,
		executor: executor,
		opts:     opts,
		wake:     make(chan struct{}, 1),
		logger:   logger,
	}
}

// Notify asks the poller to look for work now. It never blocks.
func (d *Dispatcher) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// InFlight returns the number of tasks currently held by workers.
func (d *Dispatcher) InFlight() int {
	return int(d.inflight.Load())
}

// Run blocks until ctx is cancelled. Tasks interrupted by the cancellation
// keep their lease and are picked up again once it expires.
func (d *Dispatcher) Run(ctx context.Context) error {
	tasks := make(chan *domain.Task)
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < d.opts.PoolSize; i++ {
		workerID := i + 1
		g.Go(func() error {
			d.work(ctx, workerID, tasks)
			return nil
		})
	}

	g.Go(func() error {
		defer close(tasks)
		d.poll(ctx, tasks)
		return nil
	})

	d.logger.Info("dispatcher started", "workers", d.opts.PoolSize, "poll_interval", d.opts.PollInterval)
	err := g.Wait()
	d.logger.Info("dispatcher stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *Dispatcher) poll(ctx context.Context, tasks chan<- *domain.Task) {
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		d.dispatch(ctx, tasks)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, tasks chan<- *domain.Task) {
	free := d.opts.PoolSize - d.InFlight()
	if free <= 0 || ctx.Err() != nil {
		return
	}

	claimed, err := d.taskRepo.ClaimPending(ctx, free, d.opts.Lease)
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Error("failed to claim tasks", "error", err)
		}
		return
	}
	if len(claimed) == 0 {
		return
	}
	metrics.TasksClaimed.Add(float64(len(claimed)))
	d.logger.Debug("tasks claimed", "count", len(claimed))

	for _, task := range claimed {
		d.inflight.Add(1)
		select {
		case tasks <- task:
		case <-ctx.Done():
			d.inflight.Add(-1)
			return
		}
	}
}

func (d *Dispatcher) work(ctx context.Context, workerID int, tasks <-chan *domain.Task) {
	for task := range tasks {
		metrics.TasksInFlight.Inc()
		if err := d.executor.Execute(ctx, task); err != nil && ctx.Err() == nil {
			d.logger.Error("worker failed to execute task",
				"worker_id", workerID,
				"task_id", task.ID,
				"error", err,
			)
		}
		metrics.TasksInFlight.Dec()
		d.inflight.Add(-1)
		d.Notify()
	}
}
