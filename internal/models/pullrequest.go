package models

import (
	"time"
)

// Pull request status constants
const (
	PROpen   = "open"
	PRClosed = "closed"
	PRDraft  = "draft"
)

// PullRequest represents one pull request. The number is unique within
// a connection; status and merge state are updated on every subsequent
// event for the same number. Merged implies status closed.
type PullRequest struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	ConnectionID       uint       `gorm:"not null;uniqueIndex:idx_connection_number" json:"connection_id"`
	Number             int        `gorm:"not null;uniqueIndex:idx_connection_number" json:"number"`
	Title              string     `gorm:"size:500" json:"title"`
	Description        string     `gorm:"type:text" json:"description,omitempty"`
	AuthorUsername     string     `gorm:"size:100" json:"author_username,omitempty"`
	HeadBranch         string     `gorm:"size:200" json:"head_branch,omitempty"`
	BaseBranch         string     `gorm:"size:200" json:"base_branch,omitempty"`
	Status             string     `gorm:"size:20;default:open;index" json:"status"`
	Merged             bool       `gorm:"default:false" json:"merged"`
	Additions          *int       `json:"additions,omitempty"`
	Deletions          *int       `json:"deletions,omitempty"`
	ChangedFiles       *int       `json:"changed_files,omitempty"`
	ReviewCommentCount int        `gorm:"default:0" json:"review_comment_count"`
	URL                string     `gorm:"size:500" json:"url,omitempty"`
	OpenedAt           *time.Time `json:"opened_at,omitempty"`
	MergedAt           *time.Time `json:"merged_at,omitempty"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for PullRequest
func (PullRequest) TableName() string {
	return "pull_requests"
}

// MarkMerged records the merge. A merged pull request is always closed.
func (pr *PullRequest) MarkMerged(mergedAt time.Time) {
	pr.Merged = true
	pr.Status = PRClosed
	pr.MergedAt = &mergedAt
}

// IsOpen returns true if the pull request is open or draft.
func (pr *PullRequest) IsOpen() bool {
	return pr.Status == PROpen || pr.Status == PRDraft
}
