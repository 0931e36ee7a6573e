package models

import (
	"testing"
	"time"
)

func TestClosesTask(t *testing.T) {
	tests := []struct {
		linkType string
		want     bool
	}{
		{LinkCloses, true},
		{LinkFixes, true},
		{LinkResolves, true},
		{LinkReference, false},
		{"", false},
	}

	for _, tt := range tests {
		if got := ClosesTask(tt.linkType); got != tt.want {
			t.Errorf("ClosesTask(%q) = %v, want %v", tt.linkType, got, tt.want)
		}
	}
}

func TestStrongerLink(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want string
	}{
		{"closing beats reference", LinkReference, LinkFixes, LinkFixes},
		{"closing beats reference reversed", LinkCloses, LinkReference, LinkCloses},
		{"first closing type wins", LinkFixes, LinkResolves, LinkFixes},
		{"reference vs reference", LinkReference, LinkReference, LinkReference},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StrongerLink(tt.a, tt.b); got != tt.want {
				t.Errorf("StrongerLink(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestTaskComplete(t *testing.T) {
	task := &Task{Status: StatusOpen}
	task.Complete()
	if !task.IsDone() {
		t.Error("Complete() should mark the task done")
	}
	if task.CompletedAt == nil {
		t.Error("Complete() should stamp CompletedAt")
	}

	first := *task.CompletedAt
	task.Complete()
	if !task.CompletedAt.Equal(first) {
		t.Error("Complete() on a done task should not move CompletedAt")
	}
}

func TestPullRequestMarkMerged(t *testing.T) {
	mergedAt := time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC)
	pr := &PullRequest{Status: PROpen}
	pr.MarkMerged(mergedAt)
	if !pr.Merged {
		t.Error("MarkMerged() should set Merged")
	}
	if pr.Status != PRClosed {
		t.Errorf("status = %s, want closed after merge", pr.Status)
	}
	if pr.MergedAt == nil || !pr.MergedAt.Equal(mergedAt) {
		t.Error("MarkMerged() should record the merge time")
	}
	if pr.IsOpen() {
		t.Error("merged PR should not report open")
	}
}

func TestConnectionOwnerRepoName(t *testing.T) {
	c := &Connection{Repository: "octo/widgets"}
	if c.Owner() != "octo" {
		t.Errorf("Owner() = %q, want octo", c.Owner())
	}
	if c.RepoName() != "widgets" {
		t.Errorf("RepoName() = %q, want widgets", c.RepoName())
	}
}
