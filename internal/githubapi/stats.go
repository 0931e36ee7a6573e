package githubapi

import (
	"context"
	"fmt"
	"log/slog"

	"taskbridge/internal/models"
	"taskbridge/internal/secrets"
)

// ConnectionStats fetches diff stats for commits and pull requests on
// behalf of a connection, using that connection's stored access token.
// Tokens are held sealed in the database, so each call unseals before
// opening a client.
type ConnectionStats struct {
	cipher  *secrets.Cipher
	logger  *slog.Logger
	baseURL string
}

// NewConnectionStats creates a stats fetcher that unseals connection
// tokens with the given cipher.
func NewConnectionStats(cipher *secrets.Cipher, logger *slog.Logger) *ConnectionStats {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionStats{cipher: cipher, logger: logger}
}

// SetBaseURL points clients opened by this fetcher at a different API
// root (test servers).
func (s *ConnectionStats) SetBaseURL(base string) {
	s.baseURL = base
}

// CommitStats fetches additions, deletions, and changed file count for
// a commit.
func (s *ConnectionStats) CommitStats(ctx context.Context, conn *models.Connection, sha string) (int, int, int, error) {
	client, err := s.clientFor(conn)
	if err != nil {
		return 0, 0, 0, err
	}
	commit, err := client.GetCommit(ctx, conn.Owner(), conn.RepoName(), sha)
	if err != nil {
		return 0, 0, 0, err
	}
	additions, deletions := 0, 0
	if commit.Stats != nil {
		additions = commit.Stats.GetAdditions()
		deletions = commit.Stats.GetDeletions()
	}
	return additions, deletions, len(commit.Files), nil
}

// PullRequestStats fetches additions, deletions, changed file count,
// and review comment count for a pull request.
func (s *ConnectionStats) PullRequestStats(ctx context.Context, conn *models.Connection, number int) (int, int, int, int, error) {
	client, err := s.clientFor(conn)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	pr, err := client.GetPullRequest(ctx, conn.Owner(), conn.RepoName(), number)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	return pr.GetAdditions(), pr.GetDeletions(), pr.GetChangedFiles(), pr.GetReviewComments(), nil
}

// clientFor unseals the connection's token and opens a client bound to
// it. The plaintext token lives only for the duration of the call.
func (s *ConnectionStats) clientFor(conn *models.Connection) (*Client, error) {
	token, err := s.cipher.Open(conn.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("unsealing token for connection %d: %w", conn.ID, err)
	}
	client := NewClient(token, s.logger)
	if s.baseURL != "" {
		if err := client.SetBaseURL(s.baseURL); err != nil {
			return nil, err
		}
	}
	return client, nil
}
