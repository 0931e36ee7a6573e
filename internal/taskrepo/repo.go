// Package taskrepo is the engine's narrow view of the task-tracking
// collaborator: existence lookup, idempotent completion, and status
// transitions. Nothing else about tasks is read or written here.
package taskrepo

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"taskbridge/internal/models"
)

// ErrTaskNotFound is returned when a referenced task does not exist.
var ErrTaskNotFound = errors.New("task not found")

// Repository is the task collaborator interface consumed by the sync
// engine.
type Repository interface {
	// FindTask looks a task up by numeric id. Returns ErrTaskNotFound
	// when no such task exists.
	FindTask(id uint) (*models.Task, error)
	// CompleteTask marks a task done. Completing an already-done task
	// is a no-op.
	CompleteTask(id uint) error
	// TransitionStatus moves a task to the given status.
	TransitionStatus(id uint, status string) error
}

// GormRepository implements Repository against the local tasks table.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates the gorm-backed task repository.
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) FindTask(id uint) (*models.Task, error) {
	var task models.Task
	err := r.db.First(&task, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading task %d: %w", id, err)
	}
	return &task, nil
}

func (r *GormRepository) CompleteTask(id uint) error {
	now := time.Now()
	result := r.db.Model(&models.Task{}).
		Where("id = ? AND status != ?", id, models.StatusDone).
		Updates(map[string]interface{}{
			"status":       models.StatusDone,
			"completed_at": &now,
		})
	if result.Error != nil {
		return fmt.Errorf("completing task %d: %w", id, result.Error)
	}
	// Zero rows means the task was already done or absent; completion
	// is idempotent, so only absence is an error.
	if result.RowsAffected == 0 {
		var count int64
		r.db.Model(&models.Task{}).Where("id = ?", id).Count(&count)
		if count == 0 {
			return ErrTaskNotFound
		}
	}
	return nil
}

func (r *GormRepository) TransitionStatus(id uint, status string) error {
	result := r.db.Model(&models.Task{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("transitioning task %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}
