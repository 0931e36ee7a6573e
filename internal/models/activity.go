package models

import (
	"time"
)

// Activity event type constants
const (
	ActivityLinkCreated   = "link_created"
	ActivityTaskCompleted = "task_completed"
	ActivityStatusChanged = "status_changed"
)

// Activity is a fire-and-forget event recorded after a successful link
// creation or status change. Failure to record an activity never fails
// the operation that produced it.
type Activity struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Type         string    `gorm:"size:30;not null;index" json:"type"`
	ConnectionID uint      `gorm:"index" json:"connection_id"`
	TaskID       *uint     `gorm:"index" json:"task_id,omitempty"`
	Description  string    `gorm:"size:500" json:"description"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for Activity
func (Activity) TableName() string {
	return "activities"
}
