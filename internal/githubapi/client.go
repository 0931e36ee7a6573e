// Package githubapi wraps outbound GitHub REST calls with rate-limit
// tracking, proactive quota delays, bounded retries, and a fixed error
// taxonomy.
package githubapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v63/github"
)

const (
	// apiTimeout bounds individual GitHub API requests
	apiTimeout = 30 * time.Second
	// lowWatermark is the remaining-quota threshold below which calls
	// proactively wait for the rate-limit reset instead of firing.
	lowWatermark = 5
	// maxRetries bounds rate-limit retries before surfacing the error.
	maxRetries = 3
	// baseBackoff is the initial retry delay; it doubles per attempt.
	baseBackoff = time.Second
)

// Client is a rate-limited GitHub API client. Safe for concurrent use.
type Client struct {
	gh     *github.Client
	logger *slog.Logger

	mu        sync.Mutex
	remaining int
	reset     time.Time

	// sleep is replaceable in tests to avoid real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client authenticated with the given bearer token.
func NewClient(token string, logger *slog.Logger) *Client {
	httpClient := &http.Client{
		Timeout: apiTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		gh:        github.NewClient(httpClient).WithAuthToken(token),
		logger:    logger,
		remaining: -1, // unknown until first response
		sleep:     sleepContext,
	}
}

// SetBaseURL points the client at a different API root (test servers).
func (c *Client) SetBaseURL(base string) error {
	u, err := url.Parse(base)
	if err != nil {
		return err
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	c.gh.BaseURL = u
	return nil
}

// SearchRepositories searches repositories visible to the token.
func (c *Client) SearchRepositories(ctx context.Context, query string) ([]*github.Repository, error) {
	var repos []*github.Repository
	err := c.call(ctx, func() (*github.Response, error) {
		result, resp, err := c.gh.Search.Repositories(ctx, query, &github.SearchOptions{
			ListOptions: github.ListOptions{PerPage: 30},
		})
		if err == nil {
			repos = result.Repositories
		}
		return resp, err
	})
	return repos, err
}

// GetRepository fetches a single repository by owner and name.
func (c *Client) GetRepository(ctx context.Context, owner, repo string) (*github.Repository, error) {
	var repository *github.Repository
	err := c.call(ctx, func() (*github.Response, error) {
		r, resp, err := c.gh.Repositories.Get(ctx, owner, repo)
		if err == nil {
			repository = r
		}
		return resp, err
	})
	return repository, err
}

// GetCommit fetches commit detail, including diff stats absent from
// webhook payloads.
func (c *Client) GetCommit(ctx context.Context, owner, repo, sha string) (*github.RepositoryCommit, error) {
	var commit *github.RepositoryCommit
	err := c.call(ctx, func() (*github.Response, error) {
		cm, resp, err := c.gh.Repositories.GetCommit(ctx, owner, repo, sha, nil)
		if err == nil {
			commit = cm
		}
		return resp, err
	})
	return commit, err
}

// GetPullRequest fetches pull request detail.
func (c *Client) GetPullRequest(ctx context.Context, owner, repo string, number int) (*github.PullRequest, error) {
	var pr *github.PullRequest
	err := c.call(ctx, func() (*github.Response, error) {
		p, resp, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
		if err == nil {
			pr = p
		}
		return resp, err
	})
	return pr, err
}

// AuthenticatedUser fetches the profile of the token's user.
func (c *Client) AuthenticatedUser(ctx context.Context) (*github.User, error) {
	var user *github.User
	err := c.call(ctx, func() (*github.Response, error) {
		u, resp, err := c.gh.Users.Get(ctx, "")
		if err == nil {
			user = u
		}
		return resp, err
	})
	return user, err
}

// call runs one API operation with quota awareness and rate-limit
// retries. Terminal failures come back as *APIError.
func (c *Client) call(ctx context.Context, fn func() (*github.Response, error)) error {
	for attempt := 0; ; attempt++ {
		if err := c.waitForQuota(ctx); err != nil {
			return err
		}

		resp, err := fn()
		c.observe(resp)
		if err == nil {
			return nil
		}

		apiErr := classify(err, resp)
		if apiErr.Kind == KindRateLimited && attempt < maxRetries {
			delay := baseBackoff << attempt
			c.logger.Warn("github api rate limited, backing off",
				"attempt", attempt+1,
				"delay", delay,
			)
			if serr := c.sleep(ctx, delay); serr != nil {
				return serr
			}
			continue
		}
		return apiErr
	}
}

// waitForQuota delays the call until the rate-limit reset when the
// tracked remaining quota has dropped below the low watermark.
func (c *Client) waitForQuota(ctx context.Context) error {
	c.mu.Lock()
	remaining := c.remaining
	reset := c.reset
	c.mu.Unlock()

	if remaining < 0 || remaining > lowWatermark {
		return nil
	}
	wait := time.Until(reset)
	if wait <= 0 {
		return nil
	}
	c.logger.Info("github api quota low, waiting for reset",
		"remaining", remaining,
		"wait", wait,
	)
	return c.sleep(ctx, wait)
}

// observe records the rate-limit headers from a response.
func (c *Client) observe(resp *github.Response) {
	if resp == nil {
		return
	}
	c.mu.Lock()
	c.remaining = resp.Rate.Remaining
	c.reset = resp.Rate.Reset.Time
	c.mu.Unlock()
}

// classify maps a go-github error into the fixed taxonomy.
func classify(err error, resp *github.Response) *APIError {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return &APIError{Kind: KindRateLimited, StatusCode: http.StatusForbidden, Err: err}
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return &APIError{Kind: KindRateLimited, StatusCode: http.StatusForbidden, Err: err}
	}

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	var ghErr *github.ErrorResponse
	body := ""
	if errors.As(err, &ghErr) {
		body = ghErr.Message
		if status == 0 && ghErr.Response != nil {
			status = ghErr.Response.StatusCode
		}
	}

	switch status {
	case http.StatusUnauthorized:
		return &APIError{Kind: KindUnauthorized, StatusCode: status, Body: body, Err: err}
	case http.StatusForbidden:
		if strings.Contains(strings.ToLower(body), "rate limit") {
			return &APIError{Kind: KindRateLimited, StatusCode: status, Body: body, Err: err}
		}
		return &APIError{Kind: KindForbidden, StatusCode: status, Body: body, Err: err}
	case http.StatusTooManyRequests:
		return &APIError{Kind: KindRateLimited, StatusCode: status, Body: body, Err: err}
	case http.StatusNotFound:
		return &APIError{Kind: KindNotFound, StatusCode: status, Body: body, Err: err}
	case http.StatusUnprocessableEntity:
		return &APIError{Kind: KindValidationFailed, StatusCode: status, Body: body, Err: err}
	default:
		return &APIError{Kind: KindUnknown, StatusCode: status, Body: body, Err: err}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
