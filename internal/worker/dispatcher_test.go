package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veranemoloko/offline-downloader/internal/domain"
)

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timeout waiting condition")
}

func startDispatcher(t *testing.T, d *Dispatcher) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("dispatcher did not stop")
		}
	}
}

func TestDispatcher_ProcessesSubmittedTasks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 6; i++ {
		id, err := env.store.Insert(ctx, &domain.Task{Owner: "alice", RepoID: "lib1", Path: "/dl", URL: env.server.URL + "/file.txt"})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	d := NewDispatcher(env.store, env.worker(Options{}), DispatcherOptions{
		PoolSize:     3,
		PollInterval: 50 * time.Millisecond,
		Lease:        time.Minute,
	}, newTestLogger())
	stop := startDispatcher(t, d)
	defer stop()

	waitFor(t, 5*time.Second, func() bool {
		for _, id := range ids {
			task, err := env.store.Get(ctx, id)
			if err != nil || task.Status != domain.TaskStatusDone {
				return false
			}
		}
		return true
	})
	assert.Equal(t, int32(6), env.hits["/file.txt"].Load())
}

func TestDispatcher_NotifyWakesPoller(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	d := NewDispatcher(env.store, env.worker(Options{}), DispatcherOptions{
		PoolSize:     1,
		PollInterval: time.Hour,
		Lease:        time.Minute,
	}, newTestLogger())
	stop := startDispatcher(t, d)
	defer stop()

	id, err := env.store.Insert(ctx, &domain.Task{Owner: "alice", RepoID: "lib1", Path: "/dl", URL: env.server.URL + "/file.txt"})
	require.NoError(t, err)
	d.Notify()

	waitFor(t, 5*time.Second, func() bool {
		task, err := env.store.Get(ctx, id)
		return err == nil && task.Status == domain.TaskStatusDone
	})
}

type blockingExecutor struct {
	mu      sync.Mutex
	seen    map[string]int
	running atomic.Int32
	peak    atomic.Int32
	release chan struct{}
}

func (b *blockingExecutor) Execute(ctx context.Context, task *domain.Task) error {
	n := b.running.Add(1)
	defer b.running.Add(-1)
	for {
		peak := b.peak.Load()
		if n <= peak || b.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	b.mu.Lock()
	b.seen[task.ID]++
	b.mu.Unlock()

	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestDispatcher_NeverExceedsPoolSize(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := env.store.Insert(ctx, &domain.Task{Owner: "alice", RepoID: "lib1", Path: "/dl", URL: "https://example.com/x"})
		require.NoError(t, err)
	}

	exec := &blockingExecutor{seen: make(map[string]int), release: make(chan struct{})}
	d := NewDispatcher(env.store, exec, DispatcherOptions{
		PoolSize:     2,
		PollInterval: 10 * time.Millisecond,
		Lease:        time.Minute,
	}, newTestLogger())
	stop := startDispatcher(t, d)

	waitFor(t, 5*time.Second, func() bool { return exec.running.Load() == 2 })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, d.InFlight())

	n, err := env.store.CountActive(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	pending, err := env.store.ClaimPending(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Len(t, pending, 3, "only as many tasks as idle workers are claimed")

	stop()
	assert.LessOrEqual(t, exec.peak.Load(), int32(2))
	for id, n := range exec.seen {
		assert.Equal(t, 1, n, "task %s executed twice", id)
	}
}

type failingExecutor struct{}

func (failingExecutor) Execute(context.Context, *domain.Task) error {
	return errors.New("boom")
}

func TestDispatcher_ExecutorErrorsDoNotStopPool(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := env.store.Insert(ctx, &domain.Task{Owner: "alice", RepoID: "lib1", Path: "/dl", URL: "https://example.com/x"})
		require.NoError(t, err)
	}

	d := NewDispatcher(env.store, failingExecutor{}, DispatcherOptions{
		PoolSize:     1,
		PollInterval: 10 * time.Millisecond,
		Lease:        time.Minute,
	}, newTestLogger())
	stop := startDispatcher(t, d)
	defer stop()

	waitFor(t, 5*time.Second, func() bool {
		tasks, err := env.store.GetRange(ctx, nil, 0, 10)
		if err != nil || len(tasks) != 3 {
			return false
		}
		for _, task := range tasks {
			if task.Status != domain.TaskStatusRunning || task.Attempts != 1 {
				return false
			}
		}
		return d.InFlight() == 0
	})
}
