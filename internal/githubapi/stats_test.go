package githubapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"taskbridge/internal/models"
	"taskbridge/internal/secrets"
)

func newStatsFixture(t *testing.T, handler http.Handler) (*ConnectionStats, *models.Connection) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cipher, err := secrets.NewCipher(make([]byte, secrets.KeySize))
	if err != nil {
		t.Fatalf("NewCipher() error: %v", err)
	}
	sealed, err := cipher.Seal("gho_stats_token")
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}

	stats := NewConnectionStats(cipher, slog.New(slog.DiscardHandler))
	stats.SetBaseURL(server.URL + "/")

	conn := &models.Connection{
		ID:          3,
		Repository:  "octo/widgets",
		AccessToken: sealed,
	}
	return stats, conn
}

func TestCommitStats(t *testing.T) {
	stats, conn := newStatsFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/octo/widgets/commits/abc123" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer gho_stats_token" {
			t.Errorf("Authorization = %q, want unsealed connection token", auth)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"sha": "abc123",
			"stats": {"additions": 12, "deletions": 3, "total": 15},
			"files": [{"filename": "a.go"}, {"filename": "b.go"}]
		}`)
	}))

	additions, deletions, changed, err := stats.CommitStats(context.Background(), conn, "abc123")
	if err != nil {
		t.Fatalf("CommitStats() error: %v", err)
	}
	if additions != 12 || deletions != 3 || changed != 2 {
		t.Errorf("stats = (%d, %d, %d), want (12, 3, 2)", additions, deletions, changed)
	}
}

func TestPullRequestStats(t *testing.T) {
	stats, conn := newStatsFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/octo/widgets/pulls/12" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"number": 12,
			"additions": 40,
			"deletions": 8,
			"changed_files": 5,
			"review_comments": 4
		}`)
	}))

	additions, deletions, changed, reviews, err := stats.PullRequestStats(context.Background(), conn, 12)
	if err != nil {
		t.Fatalf("PullRequestStats() error: %v", err)
	}
	if additions != 40 || deletions != 8 || changed != 5 || reviews != 4 {
		t.Errorf("stats = (%d, %d, %d, %d), want (40, 8, 5, 4)", additions, deletions, changed, reviews)
	}
}

func TestStatsUnsealFailure(t *testing.T) {
	stats, conn := newStatsFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected when the token cannot be unsealed")
	}))
	conn.AccessToken = "not-a-sealed-token"

	if _, _, _, err := stats.CommitStats(context.Background(), conn, "abc123"); err == nil {
		t.Fatal("CommitStats() error = nil, want unseal failure")
	}
}

func TestStatsAPIFailureSurfaces(t *testing.T) {
	stats, conn := newStatsFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "Not Found"}`)
	}))

	_, _, _, _, err := stats.PullRequestStats(context.Background(), conn, 99)
	if !IsNotFound(err) {
		t.Errorf("error kind = %s, want not_found (err: %v)", ErrorKind(err), err)
	}
}
