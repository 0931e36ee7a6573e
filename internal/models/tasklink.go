package models

import (
	"time"
)

// Task link type constants, weakest to strongest.
const (
	LinkReference = "reference"
	LinkCloses    = "closes"
	LinkFixes     = "fixes"
	LinkResolves  = "resolves"
)

// TaskLink binds a commit or a pull request (exactly one, never both)
// to a task. The (source entity, task, link type) combination is
// idempotent: re-parsing the same text must not create duplicates.
type TaskLink struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	CommitID         *uint     `gorm:"index;uniqueIndex:idx_commit_task_type" json:"commit_id,omitempty"`
	PullRequestID    *uint     `gorm:"index;uniqueIndex:idx_pr_task_type" json:"pull_request_id,omitempty"`
	TaskID           uint      `gorm:"not null;index;uniqueIndex:idx_commit_task_type;uniqueIndex:idx_pr_task_type" json:"task_id"`
	LinkType         string    `gorm:"size:20;not null;uniqueIndex:idx_commit_task_type;uniqueIndex:idx_pr_task_type" json:"link_type"`
	ReferenceText    string    `gorm:"size:200" json:"reference_text,omitempty"`
	AutoStatusUpdate bool      `gorm:"default:false" json:"auto_status_update"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for TaskLink
func (TaskLink) TableName() string {
	return "task_links"
}

// ClosesTask returns true for link types that trigger automatic task
// completion (closes, fixes, resolves).
func ClosesTask(linkType string) bool {
	switch linkType {
	case LinkCloses, LinkFixes, LinkResolves:
		return true
	}
	return false
}

// StrongerLink returns the stronger of two link types. Closing types
// dominate plain references; between two closing types the first
// observed wins.
func StrongerLink(a, b string) string {
	if ClosesTask(a) {
		return a
	}
	if ClosesTask(b) {
		return b
	}
	return a
}
