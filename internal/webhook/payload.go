package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"taskbridge/internal/models"
	"taskbridge/internal/syncengine"
)

// GitHub webhook payload types. Minimal structs carrying only the
// fields the engine consumes; webhook payloads contain hundreds of
// fields that are irrelevant here. JSON field names follow GitHub's
// webhook documentation.

type ghUser struct {
	Login string `json:"login"`
}

type ghRepository struct {
	FullName string `json:"full_name"` // "owner/repo"
	HTMLURL  string `json:"html_url"`
}

// ghAuthor is the git author metadata on a push commit — a git
// identity string, not a GitHub user object.
type ghAuthor struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username"` // GitHub username, may be empty
}

type ghCommit struct {
	ID        string   `json:"id"` // full SHA
	Message   string   `json:"message"`
	Timestamp string   `json:"timestamp"` // ISO 8601
	URL       string   `json:"url"`
	Author    ghAuthor `json:"author"`
	Committer ghAuthor `json:"committer"`
}

type ghPushPayload struct {
	Ref        string       `json:"ref"` // "refs/heads/main"
	After      string       `json:"after"`
	Repository ghRepository `json:"repository"`
	Sender     ghUser       `json:"sender"`
	Commits    []ghCommit   `json:"commits"`
}

type ghBranch struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

type ghPullRequest struct {
	Number         int        `json:"number"`
	Title          string     `json:"title"`
	Body           string     `json:"body"`
	HTMLURL        string     `json:"html_url"`
	User           ghUser     `json:"user"`
	Head           ghBranch   `json:"head"`
	Base           ghBranch   `json:"base"`
	Draft          bool       `json:"draft"`
	State          string     `json:"state"`  // "open" or "closed"
	Merged         bool       `json:"merged"` // set on close when merged
	Additions      *int       `json:"additions"`
	Deletions      *int       `json:"deletions"`
	ChangedFiles   *int       `json:"changed_files"`
	ReviewComments int        `json:"review_comments"`
	CreatedAt      *time.Time `json:"created_at"`
	MergedAt       *time.Time `json:"merged_at"`
}

type ghPullRequestPayload struct {
	Action      string        `json:"action"` // opened, closed, synchronize, ...
	PullRequest ghPullRequest `json:"pull_request"`
	Repository  ghRepository  `json:"repository"`
	Sender      ghUser        `json:"sender"`
}

// decodePush parses a push payload into commit payloads for ingestion.
// Commits without a SHA are rejected early rather than propagated.
func decodePush(body []byte) ([]syncengine.CommitPayload, error) {
	var payload ghPushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parsing push payload: %w", err)
	}

	branch := strings.TrimPrefix(payload.Ref, "refs/heads/")

	commits := make([]syncengine.CommitPayload, 0, len(payload.Commits))
	for _, ghc := range payload.Commits {
		if ghc.ID == "" {
			return nil, fmt.Errorf("push payload contains commit without SHA")
		}
		timestamp, err := time.Parse(time.RFC3339, ghc.Timestamp)
		if err != nil {
			// Commit timestamps are advisory; fall back to now.
			timestamp = time.Now()
		}
		commits = append(commits, syncengine.CommitPayload{
			SHA:            ghc.ID,
			AuthorName:     ghc.Author.Name,
			AuthorEmail:    ghc.Author.Email,
			AuthorUsername: ghc.Author.Username,
			CommitterName:  ghc.Committer.Name,
			CommitterEmail: ghc.Committer.Email,
			Message:        ghc.Message,
			Branch:         branch,
			URL:            ghc.URL,
			Timestamp:      timestamp,
		})
	}
	return commits, nil
}

// decodePullRequest parses a pull_request payload. GitHub reports a
// merge as action "closed" with merged true; status normalization
// (merged implies closed, draft stays draft) happens here so the
// engine sees one consistent shape.
func decodePullRequest(body []byte) (*syncengine.PullRequestPayload, error) {
	var payload ghPullRequestPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parsing pull_request payload: %w", err)
	}
	pr := payload.PullRequest
	if pr.Number <= 0 {
		return nil, fmt.Errorf("pull_request payload missing number")
	}

	status := models.PROpen
	switch {
	case pr.State == "closed" || pr.Merged:
		status = models.PRClosed
	case pr.Draft:
		status = models.PRDraft
	}

	return &syncengine.PullRequestPayload{
		Number:             pr.Number,
		Title:              pr.Title,
		Description:        pr.Body,
		AuthorUsername:     pr.User.Login,
		HeadBranch:         pr.Head.Ref,
		BaseBranch:         pr.Base.Ref,
		Status:             status,
		Merged:             pr.Merged,
		URL:                pr.HTMLURL,
		OpenedAt:           pr.CreatedAt,
		MergedAt:           pr.MergedAt,
		Additions:          pr.Additions,
		Deletions:          pr.Deletions,
		ChangedFiles:       pr.ChangedFiles,
		ReviewCommentCount: pr.ReviewComments,
	}, nil
}
