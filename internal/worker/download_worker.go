package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/avast/retry-go"

	"github.com/veranemoloko/offline-downloader/internal/domain"
	errpkg "github.com/veranemoloko/offline-downloader/internal/errors"
	"github.com/veranemoloko/offline-downloader/internal/filerepo"
	"github.com/veranemoloko/offline-downloader/internal/metrics"
	repo "github.com/veranemoloko/offline-downloader/internal/repository"
)

const defaultFileName = "download"

var (
	errMaxAttempts  = errors.New("exceeded max attempts")
	errFileTooLarge = errors.New("file exceeds size limit")
)

// Options configures a DownloadWorker.
type Options struct {
	DownloadTimeout time.Duration
	MaxFileSize     int64
	MaxAttempts     int
	FetchRetries    uint
	RetryDelay      time.Duration
}

// DownloadWorker executes a single claimed task: it fetches the URL and
// streams the body into the target repository.
type DownloadWorker struct {
	taskRepo   repo.TaskRepo
	repos      filerepo.Service
	httpClient *http.Client
	opts       Options
	logger     *slog.Logger
}

// NewDownloadWorker creates a DownloadWorker. The HTTP client timeout
// matches the download timeout.
func NewDownloadWorker(taskRepo repo.TaskRepo, repos filerepo.Service, opts Options, logger *slog.Logger) *DownloadWorker {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	return &DownloadWorker{
		taskRepo: taskRepo,
		repos:    repos,
		httpClient: &http.Client{
			Timeout: opts.DownloadTimeout,
		},
		opts:   opts,
		logger: logger,
	}
}

type statusError struct {
	code   int
	status string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("bad status: %s", e.status)
}

// Execute runs task and records its outcome. A task that is already
// finished is left untouched, so redelivery is harmless. When ctx is
// cancelled mid-download nothing is recorded and the lease lets another
// worker pick the task up later.
func (w *DownloadWorker) Execute(ctx context.Context, task *domain.Task) error {
	current, err := w.taskRepo.Get(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("reload task %s: %w", task.ID, err)
	}
	if current.Status.IsTerminal() {
		w.logger.Debug("task already finished, skipping", "task_id", current.ID, "status", current.Status)
		return nil
	}

	if w.opts.MaxAttempts > 0 && current.Attempts > w.opts.MaxAttempts {
		return w.finish(ctx, current, 0, errMaxAttempts)
	}

	w.logger.Info("download started",
		"task_id", current.ID,
		"url", current.URL,
		"attempt", current.Attempts,
	)

	start := time.Now()
	size, err := w.download(ctx, current)
	metrics.DownloadDuration.Observe(time.Since(start).Seconds())

	if ctx.Err() != nil {
		w.logger.Warn("download interrupted", "task_id", current.ID, "error", ctx.Err())
		return ctx.Err()
	}
	return w.finish(ctx, current, size, err)
}

func (w *DownloadWorker) finish(ctx context.Context, task *domain.Task, size int64, downloadErr error) error {
	status, comment := domain.TaskStatusDone, ""
	if downloadErr != nil {
		status, comment, size = domain.TaskStatusFailed, downloadErr.Error(), 0
	}

	err := w.taskRepo.UpdateStatus(ctx, task.ID, status, size, comment)
	if errors.Is(err, errpkg.ErrInvalidTransition) {
		w.logger.Warn("task finished elsewhere", "task_id", task.ID, "status", status)
		return nil
	}
	if err != nil {
		return fmt.Errorf("record outcome of task %s: %w", task.ID, err)
	}

	if downloadErr != nil {
		metrics.TasksFailed.Inc()
		w.logger.Error("download failed",
			"task_id", task.ID,
			"url", task.URL,
			"error", downloadErr,
		)
		return nil
	}

	metrics.TasksCompleted.Inc()
	metrics.DownloadBytes.Add(float64(size))
	w.logger.Info("download completed",
		"task_id", task.ID,
		"repo_id", task.RepoID,
		"path", task.Path,
		"bytes", size,
	)
	return nil
}

func (w *DownloadWorker) download(ctx context.Context, task *domain.Task) (int64, error) {
	if w.opts.DownloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.opts.DownloadTimeout)
		defer cancel()
	}

	var resp *http.Response
	err := retry.Do(
		func() error {
			r, err := w.fetch(ctx, task.URL)
			if err != nil {
				return err
			}
			resp = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(w.opts.FetchRetries+1),
		retry.Delay(w.opts.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
		retry.OnRetry(func(n uint, err error) {
			w.logger.Warn("retrying download", "task_id", task.ID, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if w.opts.MaxFileSize > 0 && resp.ContentLength > w.opts.MaxFileSize {
		return 0, fmt.Errorf("%w: %d bytes", errFileTooLarge, resp.ContentLength)
	}

	var body io.Reader = resp.Body
	capped := &cappedReader{r: resp.Body, remaining: w.opts.MaxFileSize}
	if w.opts.MaxFileSize > 0 {
		body = capped
	}

	name := fileName(resp.Header.Get("Content-Disposition"), task.URL)
	size, err := w.repos.Upload(ctx, task.RepoID, task.Path, name, body)
	if capped.exceeded {
		return 0, fmt.Errorf("%w: more than %d bytes", errFileTooLarge, w.opts.MaxFileSize)
	}
	if err != nil {
		return 0, fmt.Errorf("upload %s: %w", name, err)
	}
	return size, nil
}

func (w *DownloadWorker) fetch(ctx context.Context, rawURL string) (*http.Response, error) {
	metrics.DownloadsTotal.Inc()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("create request: %w", err))
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, &statusError{code: resp.StatusCode, status: resp.Status}
	}
	return resp, nil
}

// isTransient reports whether a fetch failure is worth retrying: network
// errors and 5xx responses are, everything else is not.
func isTransient(err error) bool {
	if !retry.IsRecoverable(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	return true
}

// fileName picks the stored name: the Content-Disposition filename, else
// the last segment of the URL path, else "download".
func fileName(contentDisposition, rawURL string) string {
	if contentDisposition != "" {
		if _, params, err := mime.ParseMediaType(contentDisposition); err == nil {
			if name := sanitizeName(params["filename"]); name != "" {
				return name
			}
		}
	}

	if u, err := url.Parse(rawURL); err == nil {
		if name := sanitizeName(path.Base(u.Path)); name != "" {
			return name
		}
	}
	return defaultFileName
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	switch name {
	case "", ".", "..":
		return ""
	}
	return name
}

// cappedReader fails once more than remaining bytes have been read.
type cappedReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.remaining <= 0 {
		var probe [1]byte
		n, err := c.r.Read(probe[:])
		if n > 0 {
			c.exceeded = true
			return 0, errFileTooLarge
		}
		return 0, err
	}

	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	return n, err
}
