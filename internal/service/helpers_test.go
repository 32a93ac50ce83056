package service

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/veranemoloko/offline-downloader/internal/filerepo"
	repo "github.com/veranemoloko/offline-downloader/internal/repository"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func newTestStore(t *testing.T) *repo.TaskStorage {
	t.Helper()
	store, err := repo.NewTaskStorage(filepath.Join(t.TempDir(), "tasks.json"))
	require.NoError(t, err)
	return store
}

type mockRepos struct {
	mock.Mock
}

var _ filerepo.Service = (*mockRepos)(nil)

func (m *mockRepos) GetRepo(ctx context.Context, repoID string) (*filerepo.Repo, error) {
	args := m.Called(ctx, repoID)
	r, _ := args.Get(0).(*filerepo.Repo)
	return r, args.Error(1)
}

func (m *mockRepos) GetOwner(ctx context.Context, repoID string) (string, error) {
	args := m.Called(ctx, repoID)
	return args.String(0), args.Error(1)
}

func (m *mockRepos) CheckPermission(ctx context.Context, repoID, path, user string) (string, error) {
	args := m.Called(ctx, repoID, path, user)
	return args.String(0), args.Error(1)
}

func (m *mockRepos) Upload(ctx context.Context, repoID, dir, name string, r io.Reader) (int64, error) {
	args := m.Called(ctx, repoID, dir, name, r)
	return args.Get(0).(int64), args.Error(1)
}

type countingNotifier struct {
	n atomic.Int32
}

func (c *countingNotifier) Notify() { c.n.Add(1) }
