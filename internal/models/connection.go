package models

import (
	"time"

	"gorm.io/gorm"
)

// Connection status constants
const (
	ConnectionActive       = "active"
	ConnectionDisconnected = "disconnected"
	ConnectionError        = "error"
)

// Webhook status constants
const (
	WebhookPending  = "pending"
	WebhookActive   = "active"
	WebhookInactive = "inactive"
	WebhookError    = "error"
)

// ErrorThreshold is the number of consecutive terminal failures after
// which a connection transitions from active to error.
const ErrorThreshold = 5

// Connection links one project to one external repository. At most one
// active connection may exist per (project, repository) pair.
type Connection struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	ProjectID      uint           `gorm:"not null;index;index:idx_project_repo" json:"project_id"`
	Repository     string         `gorm:"size:200;not null;index;index:idx_project_repo" json:"repository"` // owner/repo format
	RepositoryURL  string         `gorm:"size:500" json:"repository_url"`
	Status         string         `gorm:"size:20;default:active;index" json:"status"`
	WebhookStatus  string         `gorm:"size:20;default:pending" json:"webhook_status"`
	AccessToken    string         `gorm:"size:500" json:"-"` // AES-GCM sealed ciphertext, never serialized
	ErrorCount     int            `gorm:"default:0" json:"error_count"`
	LastError      string         `gorm:"size:500" json:"last_error,omitempty"`
	LastSyncAt     *time.Time     `json:"last_sync_at,omitempty"`
	LastWebhookAt  *time.Time     `json:"last_webhook_at,omitempty"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for Connection
func (Connection) TableName() string {
	return "connections"
}

// IsActive returns true if the connection can still process events.
func (c *Connection) IsActive() bool {
	return c.Status == ConnectionActive
}

// IsDisconnected returns true if the connection was explicitly
// disconnected. Disconnection is terminal.
func (c *Connection) IsDisconnected() bool {
	return c.Status == ConnectionDisconnected
}

// Owner returns the owner half of the "owner/repo" repository name.
func (c *Connection) Owner() string {
	for i := 0; i < len(c.Repository); i++ {
		if c.Repository[i] == '/' {
			return c.Repository[:i]
		}
	}
	return c.Repository
}

// RepoName returns the repo half of the "owner/repo" repository name.
func (c *Connection) RepoName() string {
	for i := 0; i < len(c.Repository); i++ {
		if c.Repository[i] == '/' {
			return c.Repository[i+1:]
		}
	}
	return ""
}
