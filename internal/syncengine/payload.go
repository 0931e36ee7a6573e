package syncengine

import (
	"time"
)

// CommitPayload is one commit extracted from a push event or an API
// fetch, normalized for ingestion. Stats pointers stay nil when the
// source event does not carry them.
type CommitPayload struct {
	SHA            string
	AuthorName     string
	AuthorEmail    string
	AuthorUsername string
	CommitterName  string
	CommitterEmail string
	Message        string
	Branch         string
	URL            string
	Timestamp      time.Time
	Additions      *int
	Deletions      *int
	ChangedFiles   *int
}

// PullRequestPayload is a pull request event normalized for ingestion.
type PullRequestPayload struct {
	Number             int
	Title              string
	Description        string
	AuthorUsername     string
	HeadBranch         string
	BaseBranch         string
	Status             string // open, closed, draft
	Merged             bool
	URL                string
	OpenedAt           *time.Time
	MergedAt           *time.Time
	Additions          *int
	Deletions          *int
	ChangedFiles       *int
	ReviewCommentCount int
}
