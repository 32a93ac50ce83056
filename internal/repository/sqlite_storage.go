package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/veranemoloko/offline-downloader/internal/domain"
	errpkg "github.com/veranemoloko/offline-downloader/internal/errors"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS offline_download_tasks (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT    NOT NULL UNIQUE,
	owner       TEXT    NOT NULL,
	repo_id     TEXT    NOT NULL,
	path        TEXT    NOT NULL,
	url         TEXT    NOT NULL,
	status      INTEGER NOT NULL,
	size        INTEGER NOT NULL DEFAULT 0,
	comment     TEXT    NOT NULL DEFAULT '',
	attempts    INTEGER NOT NULL DEFAULT 0,
	lease_until INTEGER,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_offline_download_tasks_owner ON offline_download_tasks(owner, seq);
CREATE INDEX IF NOT EXISTS idx_offline_download_tasks_status ON offline_download_tasks(status, seq);
`

const sqliteColumns = `id, owner, repo_id, path, url, status, size, comment, attempts, lease_until, created_at, updated_at`

// SQLiteTaskStorage stores tasks in a SQLite database.
type SQLiteTaskStorage struct {
	db  *sql.DB
	now func() time.Time
}

var _ TaskRepo = (*SQLiteTaskStorage)(nil)

// NewSQLiteTaskStorage opens (and creates if needed) the database at path.
func NewSQLiteTaskStorage(ctx context.Context, path string) (*SQLiteTaskStorage, error) {
	if !isSQLiteMemory(path) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection serialises writers; claims rely on it.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		PRAGMA busy_timeout = 5000;
		PRAGMA journal_mode = WAL;
	`); err != nil {
		slog.Warn("failed to set sqlite pragmas", "error", err)
	}

	s := &SQLiteTaskStorage{db: db, now: time.Now}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("SQLite repository initialized", "path", path)
	return s, nil
}

// Migrate creates the schema if it does not exist.
func (s *SQLiteTaskStorage) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create sqlite schema: %w", err)
	}
	return nil
}

func (s *SQLiteTaskStorage) Insert(ctx context.Context, task *domain.Task) (string, error) {
	now := s.now().UTC()
	id := uuid.New().String()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO offline_download_tasks (id, owner, repo_id, path, url, status, size, comment, attempts, lease_until, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?, 0, NULL, ?, ?)`,
		id, task.Owner, task.RepoID, task.Path, task.URL, domain.TaskStatusPending.Code(), task.Comment, now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return "", errpkg.Storage("insert task", err)
	}

	slog.Debug("Task created and saved", "task_id", id)
	return id, nil
}

func (s *SQLiteTaskStorage) Get(ctx context.Context, id string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM offline_download_tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errpkg.ErrTaskNotFound
	}
	if err != nil {
		return nil, errpkg.Storage("get task", err)
	}
	return task, nil
}

func (s *SQLiteTaskStorage) GetRange(ctx context.Context, owner *string, offset, limit int) ([]*domain.Task, error) {
	if err := checkRange(offset, limit); err != nil {
		return nil, err
	}
	if limit == 0 {
		return []*domain.Task{}, nil
	}

	query := `SELECT ` + sqliteColumns + ` FROM offline_download_tasks`
	args := make([]any, 0, 3)
	if owner != nil {
		query += ` WHERE owner = ?`
		args = append(args, *owner)
	}
	query += ` ORDER BY seq DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errpkg.Storage("list tasks", err)
	}
	defer rows.Close()

	tasks := make([]*domain.Task, 0, limit)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, errpkg.Storage("scan task", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, errpkg.Storage("list tasks", err)
	}
	return tasks, nil
}

func (s *SQLiteTaskStorage) UpdateStatus(ctx context.Context, id string, status domain.TaskStatus, size int64, comment string) error {
	from, err := checkStatus(status)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE offline_download_tasks
		 SET status = ?, size = ?, comment = ?, updated_at = ?,
		     lease_until = CASE WHEN ? THEN NULL ELSE lease_until END
		 WHERE id = ? AND status = ?`,
		status.Code(), size, comment, s.now().UTC().UnixNano(), status.IsTerminal(), id, from.Code(),
	)
	if err != nil {
		return errpkg.Storage("update task status", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errpkg.Storage("update task status", err)
	}
	if affected == 1 {
		slog.Debug("Task updated and saved", "task_id", id, "status", status)
		return nil
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == status && status.IsTerminal() {
		return nil
	}
	return fmt.Errorf("task %s: %s -> %s: %w", id, current.Status, status, errpkg.ErrInvalidTransition)
}

func (s *SQLiteTaskStorage) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]*domain.Task, error) {
	if limit <= 0 {
		return nil, nil
	}

	now := s.now().UTC()
	leaseUntil := now.Add(lease)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errpkg.Storage("begin claim", err)
	}
	defer tx.Rollback()

	const claimable = `(status = ? OR (status = ? AND (lease_until IS NULL OR lease_until < ?)))`
	claimArgs := []any{domain.TaskStatusPending.Code(), domain.TaskStatusRunning.Code(), now.UnixNano()}

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM offline_download_tasks WHERE `+claimable+` ORDER BY seq ASC LIMIT ?`,
		append(claimArgs, limit)...,
	)
	if err != nil {
		return nil, errpkg.Storage("select claimable tasks", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, errpkg.Storage("scan claimable task", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errpkg.Storage("select claimable tasks", err)
	}

	claimed := make([]string, 0, len(ids))
	for _, id := range ids {
		res, err := tx.ExecContext(ctx,
			`UPDATE offline_download_tasks
			 SET status = ?, attempts = attempts + 1, lease_until = ?, updated_at = ?
			 WHERE id = ? AND `+claimable,
			append([]any{domain.TaskStatusRunning.Code(), leaseUntil.UnixNano(), now.UnixNano(), id}, claimArgs...)...,
		)
		if err != nil {
			return nil, errpkg.Storage("claim task", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			claimed = append(claimed, id)
		}
	}

	tasks := make([]*domain.Task, 0, len(claimed))
	for _, id := range claimed {
		task, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM offline_download_tasks WHERE id = ?`, id))
		if err != nil {
			return nil, errpkg.Storage("read claimed task", err)
		}
		tasks = append(tasks, task)
	}

	if err := tx.Commit(); err != nil {
		return nil, errpkg.Storage("commit claim", err)
	}
	return tasks, nil
}

func (s *SQLiteTaskStorage) CountActive(ctx context.Context, owner string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM offline_download_tasks WHERE owner = ? AND status IN (?, ?)`,
		owner, domain.TaskStatusPending.Code(), domain.TaskStatusRunning.Code(),
	).Scan(&n)
	if err != nil {
		return 0, errpkg.Storage("count active tasks", err)
	}
	return n, nil
}

func (s *SQLiteTaskStorage) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task       domain.Task
		code       int
		leaseUntil sql.NullInt64
		createdAt  int64
		updatedAt  int64
	)
	if err := row.Scan(&task.ID, &task.Owner, &task.RepoID, &task.Path, &task.URL, &code,
		&task.Size, &task.Comment, &task.Attempts, &leaseUntil, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	status, err := domain.StatusFromCode(code)
	if err != nil {
		return nil, err
	}
	task.Status = status
	task.CreatedAt = time.Unix(0, createdAt).UTC()
	task.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if leaseUntil.Valid {
		lease := time.Unix(0, leaseUntil.Int64).UTC()
		task.LeaseUntil = &lease
	}
	return &task, nil
}

func isSQLiteMemory(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file::memory:")
}
