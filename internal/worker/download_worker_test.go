package worker

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/veranemoloko/offline-downloader/internal/domain"
	"github.com/veranemoloko/offline-downloader/internal/filerepo"
	repo "github.com/veranemoloko/offline-downloader/internal/repository"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	store    *repo.TaskStorage
	repos    *filerepo.LocalService
	repoRoot string
	server   *httptest.Server
	hits     map[string]*atomic.Int32
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	store, err := repo.NewTaskStorage(filepath.Join(dir, "tasks.json"))
	if err != nil {
		t.Fatalf("NewTaskStorage error: %v", err)
	}

	repoRoot := filepath.Join(dir, "repos")
	repos, err := filerepo.NewLocalService(repoRoot, filepath.Join(dir, "repos.yaml"))
	if err != nil {
		t.Fatalf("NewLocalService error: %v", err)
	}
	if err := repos.AddRepo(filerepo.RepoSpec{Repo: filerepo.Repo{ID: "lib1", Name: "Documents", Owner: "alice"}}); err != nil {
		t.Fatalf("AddRepo error: %v", err)
	}

	env := &testEnv{
		store:    store,
		repos:    repos,
		repoRoot: repoRoot,
		hits:     make(map[string]*atomic.Int32),
	}
	for _, p := range []string{"/file.txt", "/named", "/flaky", "/missing", "/big", "/big-chunked", "/down"} {
		env.hits[p] = &atomic.Int32{}
	}

	env.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, ok := env.hits[r.URL.Path]; ok {
			c.Add(1)
		}
		switch r.URL.Path {
		case "/file.txt":
			io.WriteString(w, "hello world")
		case "/named":
			w.Header().Set("Content-Disposition", `attachment; filename="report.pdf"`)
			io.WriteString(w, "%PDF")
		case "/flaky":
			if env.hits["/flaky"].Load() < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			io.WriteString(w, "finally")
		case "/big":
			io.WriteString(w, strings.Repeat("x", 64))
		case "/big-chunked":
			for i := 0; i < 8; i++ {
				io.WriteString(w, strings.Repeat("x", 8))
				w.(http.Flusher).Flush()
			}
		case "/down":
			w.WriteHeader(http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) worker(opts Options) *DownloadWorker {
	if opts.MaxFileSize == 0 {
		opts.MaxFileSize = 1 << 20
	}
	if opts.DownloadTimeout == 0 {
		opts.DownloadTimeout = 5 * time.Second
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 3
	}
	opts.RetryDelay = time.Millisecond
	return NewDownloadWorker(e.store, e.repos, opts, newTestLogger())
}

// claim inserts a task for urlPath and claims it like the dispatcher would.
func (e *testEnv) claim(t *testing.T, urlPath string) *domain.Task {
	t.Helper()
	ctx := context.Background()
	_, err := e.store.Insert(ctx, &domain.Task{
		Owner:  "alice",
		RepoID: "lib1",
		Path:   "/downloads",
		URL:    e.server.URL + urlPath,
	})
	if err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	claimed, err := e.store.ClaimPending(ctx, 1, time.Minute)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimPending: %v, %d tasks", err, len(claimed))
	}
	return claimed[0]
}

func (e *testEnv) reload(t *testing.T, id string) *domain.Task {
	t.Helper()
	task, err := e.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	return task
}

func TestDownloadWorker_Execute_Success(t *testing.T) {
	env := newTestEnv(t)
	task := env.claim(t, "/file.txt")

	if err := env.worker(Options{}).Execute(context.Background(), task); err != nil {
		t.Fatalf("Execute error: %v", err)
	}

	got := env.reload(t, task.ID)
	if got.Status != domain.TaskStatusDone {
		t.Fatalf("expected status done, got %s (%s)", got.Status, got.Comment)
	}
	if got.Size != int64(len("hello world")) {
		t.Errorf("expected size %d, got %d", len("hello world"), got.Size)
	}

	data, err := os.ReadFile(filepath.Join(env.repoRoot, "lib1", "downloads", "file.txt"))
	if err != nil {
		t.Fatalf("expected stored file: %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("unexpected content %q", data)
	}
}

func TestDownloadWorker_Execute_ContentDispositionName(t *testing.T) {
	env := newTestEnv(t)
	task := env.claim(t, "/named")

	if err := env.worker(Options{}).Execute(context.Background(), task); err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(env.repoRoot, "lib1", "downloads", "report.pdf")); err != nil {
		t.Fatalf("expected report.pdf: %v", err)
	}
}

func TestDownloadWorker_Execute_RetriesTransientFailures(t *testing.T) {
	env := newTestEnv(t)
	task := env.claim(t, "/flaky")

	if err := env.worker(Options{FetchRetries: 3}).Execute(context.Background(), task); err != nil {
		t.Fatalf("Execute error: %v", err)
	}

	got := env.reload(t, task.ID)
	if got.Status != domain.TaskStatusDone {
		t.Fatalf("expected status done, got %s (%s)", got.Status, got.Comment)
	}
	if n := env.hits["/flaky"].Load(); n != 3 {
		t.Errorf("expected 3 fetches, got %d", n)
	}
}

func TestDownloadWorker_Execute_GivesUpAfterRetries(t *testing.T) {
	env := newTestEnv(t)
	task := env.claim(t, "/down")

	if err := env.worker(Options{FetchRetries: 2}).Execute(context.Background(), task); err != nil {
		t.Fatalf("Execute error: %v", err)
	}

	got := env.reload(t, task.ID)
	if got.Status != domain.TaskStatusFailed {
		t.Fatalf("expected status failed, got %s", got.Status)
	}
	if n := env.hits["/down"].Load(); n != 3 {
		t.Errorf("expected 3 fetches, got %d", n)
	}
}

func TestDownloadWorker_Execute_NotFoundIsNotRetried(t *testing.T) {
	env := newTestEnv(t)
	task := env.claim(t, "/missing")

	if err := env.worker(Options{FetchRetries: 3}).Execute(context.Background(), task); err != nil {
		t.Fatalf("Execute error: %v", err)
	}

	got := env.reload(t, task.ID)
	if got.Status != domain.TaskStatusFailed {
		t.Fatalf("expected status failed, got %s", got.Status)
	}
	if !strings.Contains(got.Comment, "404") {
		t.Errorf("expected comment to mention 404, got %q", got.Comment)
	}
	if got.Size != 0 {
		t.Errorf("expected size 0, got %d", got.Size)
	}
	if n := env.hits["/missing"].Load(); n != 1 {
		t.Errorf("expected a single fetch, got %d", n)
	}
}

func TestDownloadWorker_Execute_SizeLimit(t *testing.T) {
	for _, p := range []string{"/big", "/big-chunked"} {
		t.Run(p, func(t *testing.T) {
			env := newTestEnv(t)
			task := env.claim(t, p)

			if err := env.worker(Options{MaxFileSize: 16}).Execute(context.Background(), task); err != nil {
				t.Fatalf("Execute error: %v", err)
			}

			got := env.reload(t, task.ID)
			if got.Status != domain.TaskStatusFailed {
				t.Fatalf("expected status failed, got %s", got.Status)
			}
			if !strings.Contains(got.Comment, errFileTooLarge.Error()) {
				t.Errorf("unexpected comment %q", got.Comment)
			}

			entries, _ := os.ReadDir(filepath.Join(env.repoRoot, "lib1", "downloads"))
			if len(entries) != 0 {
				t.Errorf("expected no stored files, got %d", len(entries))
			}
		})
	}
}

func TestDownloadWorker_Execute_SkipsFinishedTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.claim(t, "/file.txt")
	if err := env.store.UpdateStatus(context.Background(), task.ID, domain.TaskStatusDone, 5, ""); err != nil {
		t.Fatalf("UpdateStatus error: %v", err)
	}

	if err := env.worker(Options{}).Execute(context.Background(), task); err != nil {
		t.Fatalf("Execute error: %v", err)
	}

	got := env.reload(t, task.ID)
	if got.Status != domain.TaskStatusDone || got.Size != 5 {
		t.Errorf("finished task was modified: %+v", got)
	}
	if n := env.hits["/file.txt"].Load(); n != 0 {
		t.Errorf("expected no fetch, got %d", n)
	}
}

func TestDownloadWorker_Execute_MaxAttempts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.store.Insert(ctx, &domain.Task{Owner: "alice", RepoID: "lib1", Path: "/", URL: env.server.URL + "/file.txt"})
	if err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	var task *domain.Task
	for i := 0; i < 2; i++ {
		claimed, err := env.store.ClaimPending(ctx, 1, -time.Second)
		if err != nil || len(claimed) != 1 {
			t.Fatalf("ClaimPending: %v, %d tasks", err, len(claimed))
		}
		task = claimed[0]
	}

	if err := env.worker(Options{MaxAttempts: 1}).Execute(ctx, task); err != nil {
		t.Fatalf("Execute error: %v", err)
	}

	got := env.reload(t, task.ID)
	if got.Status != domain.TaskStatusFailed || got.Comment != "exceeded max attempts" {
		t.Errorf("expected failure for exceeded attempts, got %s %q", got.Status, got.Comment)
	}
	if n := env.hits["/file.txt"].Load(); n != 0 {
		t.Errorf("expected no fetch, got %d", n)
	}
}

func TestDownloadWorker_Execute_CancelledKeepsLease(t *testing.T) {
	env := newTestEnv(t)
	task := env.claim(t, "/file.txt")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := env.worker(Options{}).Execute(ctx, task); err == nil {
		t.Fatalf("expected error from cancelled context")
	}

	got := env.reload(t, task.ID)
	if got.Status != domain.TaskStatusRunning {
		t.Errorf("expected task to stay running, got %s", got.Status)
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		disposition string
		url         string
		want        string
	}{
		{`attachment; filename="a.zip"`, "https://h/x/y.bin", "a.zip"},
		{`attachment; filename="../../etc/passwd"`, "https://h/x", "passwd"},
		{`inline`, "https://h/dir/movie.mkv?sig=1", "movie.mkv"},
		{"", "https://h/dir/my%20file.txt", "my file.txt"},
		{"", "https://h/", defaultFileName},
		{"", "https://h", defaultFileName},
		{"garbage;;", "https://h/x/", "x"},
	}
	for _, tt := range tests {
		if got := fileName(tt.disposition, tt.url); got != tt.want {
			t.Errorf("fileName(%q, %q) = %q, want %q", tt.disposition, tt.url, got, tt.want)
		}
	}
}
