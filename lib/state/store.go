// Package state persists run progress in a local sqlite database so an
// interrupted run can be resumed: which prompts were submitted, which images
// were downloaded, and where the bulk action left off.
package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/nrednav/cuid2"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/paperbrush/mjrunner/lib/task"
)

// Run is one end-to-end invocation, owning a set of prompt tasks and at
// most one batch marker.
type Run struct {
	ID        string `gorm:"primaryKey"`
	Label     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store wraps the sqlite database.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the database at path and migrates the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open state db %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Run{}, &task.PromptTask{}, &task.ImageRecord{}, &task.BatchMarker{}); err != nil {
		return nil, fmt.Errorf("migrate state db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateRun records a new run with one pending task per prompt.
func (s *Store) CreateRun(ctx context.Context, label string, prompts []string) (*Run, []*task.PromptTask, error) {
	run := &Run{ID: cuid2.Generate(), Label: label}
	tasks := make([]*task.PromptTask, len(prompts))
	for i, p := range prompts {
		tasks[i] = task.NewPromptTask(run.ID, i, p)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return err
		}
		if len(tasks) == 0 {
			return nil
		}
		return tx.Create(tasks).Error
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create run: %w", err)
	}
	return run, tasks, nil
}

// LatestRun returns the most recently created run, or nil when the database
// is empty.
func (s *Store) LatestRun(ctx context.Context) (*Run, error) {
	var run Run
	err := s.db.WithContext(ctx).Order("created_at DESC").First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	return &run, nil
}

// Run returns the run with the given id.
func (s *Store) Run(ctx context.Context, id string) (*Run, error) {
	var run Run
	if err := s.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}
	return &run, nil
}

// Tasks loads the run's tasks in submission order, images included.
func (s *Store) Tasks(ctx context.Context, runID string) ([]*task.PromptTask, error) {
	var tasks []*task.PromptTask
	err := s.db.WithContext(ctx).
		Preload("Images").
		Where("run_id = ?", runID).
		Order("seq ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("load tasks for run %s: %w", runID, err)
	}
	return tasks, nil
}

// SaveTask writes the task's current state, images included.
func (s *Store) SaveTask(ctx context.Context, t *task.PromptTask) error {
	if err := s.db.WithContext(ctx).Session(&gorm.Session{FullSaveAssociations: true}).Save(t).Error; err != nil {
		return fmt.Errorf("save task %d: %w", t.Seq, err)
	}
	return nil
}

// SaveTasks writes every task in one transaction.
func (s *Store) SaveTasks(ctx context.Context, tasks []*task.PromptTask) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, t := range tasks {
			if err := tx.Session(&gorm.Session{FullSaveAssociations: true}).Save(t).Error; err != nil {
				return fmt.Errorf("save task %d: %w", t.Seq, err)
			}
		}
		return nil
	})
}

// Marker returns the run's batch marker, creating a fresh one sized to
// total when none exists yet. An existing marker keeps its recorded
// progress; only a grown total is applied.
func (s *Store) Marker(ctx context.Context, runID string, total int) (*task.BatchMarker, error) {
	var m task.BatchMarker
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		m = task.BatchMarker{RunID: runID, Total: total}
		if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
			return nil, fmt.Errorf("create marker for run %s: %w", runID, err)
		}
		return &m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load marker for run %s: %w", runID, err)
	}
	if total > m.Total {
		m.Total = total
	}
	return &m, nil
}

// SaveMarker persists the marker. Called after every processed image so a
// crash between images loses at most the one in flight.
func (s *Store) SaveMarker(ctx context.Context, m *task.BatchMarker) error {
	if err := s.db.WithContext(ctx).Save(m).Error; err != nil {
		return fmt.Errorf("save marker for run %s: %w", m.RunID, err)
	}
	return nil
}
