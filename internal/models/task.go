package models

import (
	"time"
)

// Task status constants
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
)

// Date format constants
const (
	DateTimeFormat      = "2006-01-02 15:04:05"
	DateTimeShortFormat = "2006-01-02 15:04"
)

// Task is the task-tracking collaborator the engine links commits and
// pull requests against. The engine only consults existence and status
// and mutates tasks through completion or a status transition; all
// other task fields belong to the task CRUD layer.
type Task struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	ProjectID   uint       `gorm:"index" json:"project_id"`
	Title       string     `gorm:"size:255;not null" json:"title"`
	Status      string     `gorm:"size:20;default:open;index" json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for Task
func (Task) TableName() string {
	return "tasks"
}

// IsDone returns true if the task is completed.
func (t *Task) IsDone() bool {
	return t.Status == StatusDone
}

// Complete marks the task done. Completing an already-done task is a
// no-op so duplicate webhook deliveries cannot double-apply.
func (t *Task) Complete() {
	if t.IsDone() {
		return
	}
	t.Status = StatusDone
	now := time.Now()
	t.CompletedAt = &now
}
