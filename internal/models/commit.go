package models

import (
	"time"
)

// Commit represents one externally observed commit. The SHA is globally
// unique; re-delivery of the same SHA is an idempotent upsert. Authorship
// and message are immutable after first observation.
type Commit struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SHA            string    `gorm:"size:64;uniqueIndex;not null" json:"sha"`
	ConnectionID   uint      `gorm:"not null;index" json:"connection_id"`
	AuthorName     string    `gorm:"size:200" json:"author_name"`
	AuthorEmail    string    `gorm:"size:200" json:"author_email"`
	AuthorUsername string    `gorm:"size:100" json:"author_username,omitempty"`
	CommitterName  string    `gorm:"size:200" json:"committer_name,omitempty"`
	CommitterEmail string    `gorm:"size:200" json:"committer_email,omitempty"`
	Message        string    `gorm:"type:text" json:"message"`
	Branch         string    `gorm:"size:200;index" json:"branch,omitempty"`
	Additions      *int      `json:"additions,omitempty"` // nullable - not all events carry stats
	Deletions      *int      `json:"deletions,omitempty"`
	ChangedFiles   *int      `json:"changed_files,omitempty"`
	URL            string    `gorm:"size:500" json:"url,omitempty"`
	CommittedAt    time.Time `json:"committed_at"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for Commit
func (Commit) TableName() string {
	return "commits"
}

// ShortSHA returns the abbreviated commit SHA for display.
func (c *Commit) ShortSHA() string {
	if len(c.SHA) > 7 {
		return c.SHA[:7]
	}
	return c.SHA
}
