package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/veranemoloko/offline-downloader/internal/domain"
	errpkg "github.com/veranemoloko/offline-downloader/internal/errors"
)

type taskModel struct {
	Seq        int64      `gorm:"column:seq;primaryKey;autoIncrement"`
	ID         string     `gorm:"column:id;size:36;uniqueIndex"`
	Owner      string     `gorm:"column:owner;size:255;index:idx_offline_download_tasks_owner"`
	RepoID     string     `gorm:"column:repo_id;size:64"`
	Path       string     `gorm:"column:path;type:text"`
	URL        string     `gorm:"column:url;type:text"`
	Status     int        `gorm:"column:status;index:idx_offline_download_tasks_status"`
	Size       int64      `gorm:"column:size"`
	Comment    string     `gorm:"column:comment;type:text"`
	Attempts   int        `gorm:"column:attempts"`
	LeaseUntil *time.Time `gorm:"column:lease_until"`
	CreatedAt  time.Time  `gorm:"column:created_at"`
	UpdatedAt  time.Time  `gorm:"column:updated_at"`
}

func (taskModel) TableName() string {
	return "offline_download_tasks"
}

func (m *taskModel) toDomain() (*domain.Task, error) {
	status, err := domain.StatusFromCode(m.Status)
	if err != nil {
		return nil, err
	}
	task := &domain.Task{
		ID:        m.ID,
		Owner:     m.Owner,
		RepoID:    m.RepoID,
		Path:      m.Path,
		URL:       m.URL,
		Status:    status,
		Size:      m.Size,
		Comment:   m.Comment,
		Attempts:  m.Attempts,
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
	if m.LeaseUntil != nil {
		lease := m.LeaseUntil.UTC()
		task.LeaseUntil = &lease
	}
	return task, nil
}

// GormTaskStorage stores tasks through gorm, normally on PostgreSQL.
type GormTaskStorage struct {
	db  *gorm.DB
	now func() time.Time
}

var _ TaskRepo = (*GormTaskStorage)(nil)

// NewPostgresTaskStorage connects to PostgreSQL using dsn.
func NewPostgresTaskStorage(ctx context.Context, dsn string) (*GormTaskStorage, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return NewGormTaskStorage(ctx, db)
}

// NewGormTaskStorage wraps an open gorm connection and migrates the schema.
func NewGormTaskStorage(ctx context.Context, db *gorm.DB) (*GormTaskStorage, error) {
	s := &GormTaskStorage{db: db, now: time.Now}
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	slog.Info("Gorm repository initialized", "dialect", db.Dialector.Name())
	return s, nil
}

// Migrate creates or updates the tasks table.
func (s *GormTaskStorage) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&taskModel{}); err != nil {
		return fmt.Errorf("migrate tasks table: %w", err)
	}
	return nil
}

func (s *GormTaskStorage) Insert(ctx context.Context, task *domain.Task) (string, error) {
	now := s.now().UTC()
	m := &taskModel{
		ID:        uuid.New().String(),
		Owner:     task.Owner,
		RepoID:    task.RepoID,
		Path:      task.Path,
		URL:       task.URL,
		Status:    domain.TaskStatusPending.Code(),
		Comment:   task.Comment,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return "", errpkg.Storage("insert task", err)
	}
	slog.Debug("Task created and saved", "task_id", m.ID)
	return m.ID, nil
}

func (s *GormTaskStorage) Get(ctx context.Context, id string) (*domain.Task, error) {
	var m taskModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errpkg.ErrTaskNotFound
	}
	if err != nil {
		return nil, errpkg.Storage("get task", err)
	}
	return m.toDomain()
}

func (s *GormTaskStorage) GetRange(ctx context.Context, owner *string, offset, limit int) ([]*domain.Task, error) {
	if err := checkRange(offset, limit); err != nil {
		return nil, err
	}
	if limit == 0 {
		return []*domain.Task{}, nil
	}

	tx := s.db.WithContext(ctx).Model(&taskModel{})
	if owner != nil {
		tx = tx.Where("owner = ?", *owner)
	}

	var models []taskModel
	if err := tx.Order("seq DESC").Offset(offset).Limit(limit).Find(&models).Error; err != nil {
		return nil, errpkg.Storage("list tasks", err)
	}
	return toDomainTasks(models)
}

func (s *GormTaskStorage) UpdateStatus(ctx context.Context, id string, status domain.TaskStatus, size int64, comment string) error {
	from, err := checkStatus(status)
	if err != nil {
		return err
	}

	updates := map[string]any{
		"status":     status.Code(),
		"size":       size,
		"comment":    comment,
		"updated_at": s.now().UTC(),
	}
	if status.IsTerminal() {
		updates["lease_until"] = nil
	}

	res := s.db.WithContext(ctx).Model(&taskModel{}).
		Where("id = ? AND status = ?", id, from.Code()).
		Updates(updates)
	if res.Error != nil {
		return errpkg.Storage("update task status", res.Error)
	}
	if res.RowsAffected == 1 {
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

func (s *GormTaskStorage) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]*domain.Task, error) {
	if limit <= 0 {
		return nil, nil
	}

	now := s.now().UTC()
	leaseUntil := now.Add(lease)
	pending, running := domain.TaskStatusPending.Code(), domain.TaskStatusRunning.Code()
	const claimable = "(status = ? OR (status = ? AND (lease_until IS NULL OR lease_until < ?)))"

	var claimed []taskModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&taskModel{}).Where(claimable, pending, running, now)
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var candidates []taskModel
		if err := q.Order("seq ASC").Limit(limit).Find(&candidates).Error; err != nil {
			return err
		}

		for _, c := range candidates {
			res := tx.Model(&taskModel{}).
				Where("id = ?", c.ID).
				Where(claimable, pending, running, now).
				Updates(map[string]any{
					"status":      running,
					"attempts":    gorm.Expr("attempts + 1"),
					"lease_until": leaseUntil,
					"updated_at":  now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != 1 {
				continue
			}
			c.Status = running
			c.Attempts++
			until := leaseUntil
			c.LeaseUntil = &until
			c.UpdatedAt = now
			claimed = append(claimed, c)
		}
		return nil
	})
	if err != nil {
		return nil, errpkg.Storage("claim tasks", err)
	}
	return toDomainTasks(claimed)
}

func (s *GormTaskStorage) CountActive(ctx context.Context, owner string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&taskModel{}).
		Where("owner = ? AND status IN ?", owner, []int{domain.TaskStatusPending.Code(), domain.TaskStatusRunning.Code()}).
		Count(&n).Error
	if err != nil {
		return 0, errpkg.Storage("count active tasks", err)
	}
	return int(n), nil
}

func (s *GormTaskStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toDomainTasks(models []taskModel) ([]*domain.Task, error) {
	tasks := make([]*domain.Task, 0, len(models))
	for i := range models {
		task, err := models[i].toDomain()
		if err != nil {
			return nil, errpkg.Storage("decode task", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}
