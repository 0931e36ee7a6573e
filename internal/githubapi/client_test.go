package githubapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

// newTestClient points a client at a test server and replaces the
// sleep function so retries don't slow the suite down.
func newTestClient(t *testing.T, handler http.Handler) (*Client, *[]time.Duration) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient("test-token", slog.New(slog.DiscardHandler))
	if err := client.SetBaseURL(server.URL + "/"); err != nil {
		t.Fatalf("SetBaseURL() error: %v", err)
	}

	var slept []time.Duration
	client.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return client, &slept
}

func TestGetRepository(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/octo/widgets" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-token" {
			t.Errorf("Authorization = %q, want bearer token", auth)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id": 1, "full_name": "octo/widgets"}`)
	}))

	repo, err := client.GetRepository(context.Background(), "octo", "widgets")
	if err != nil {
		t.Fatalf("GetRepository() error: %v", err)
	}
	if repo.GetFullName() != "octo/widgets" {
		t.Errorf("FullName = %s, want octo/widgets", repo.GetFullName())
	}
}

func TestUnauthorizedIsTerminal(t *testing.T) {
	calls := 0
	client, slept := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message": "Bad credentials"}`)
	}))

	_, err := client.GetRepository(context.Background(), "octo", "widgets")
	if !IsUnauthorized(err) {
		t.Fatalf("error kind = %s, want unauthorized (err: %v)", ErrorKind(err), err)
	}
	if calls != 1 {
		t.Errorf("server saw %d calls, want 1 (401 must not retry)", calls)
	}
	if len(*slept) != 0 {
		t.Errorf("client slept %v, want no delays for terminal error", *slept)
	}
}

func TestRateLimitRetriesThenSurfaces(t *testing.T) {
	calls := 0
	client, slept := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(-time.Second).Unix(), 10))
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message": "API rate limit exceeded"}`)
	}))

	_, err := client.GetRepository(context.Background(), "octo", "widgets")
	if !IsRateLimited(err) {
		t.Fatalf("error kind = %s, want rate_limited (err: %v)", ErrorKind(err), err)
	}
	if calls != maxRetries+1 {
		t.Errorf("server saw %d calls, want %d (bounded retries)", calls, maxRetries+1)
	}

	// Backoff doubles per attempt.
	if len(*slept) != maxRetries {
		t.Fatalf("client slept %d times, want %d", len(*slept), maxRetries)
	}
	for i, d := range *slept {
		want := baseBackoff << i
		if d != want {
			t.Errorf("backoff[%d] = %v, want %v", i, d, want)
		}
	}
}

func TestForbiddenWithoutRateBodyIsTerminal(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("X-RateLimit-Remaining", "4999")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message": "Resource not accessible by integration"}`)
	}))

	_, err := client.GetRepository(context.Background(), "octo", "widgets")
	if ErrorKind(err) != KindForbidden {
		t.Fatalf("error kind = %s, want forbidden", ErrorKind(err))
	}
	if calls != 1 {
		t.Errorf("server saw %d calls, want 1", calls)
	}
}

func TestNotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "Not Found"}`)
	}))

	_, err := client.GetRepository(context.Background(), "octo", "nope")
	if !IsNotFound(err) {
		t.Fatalf("error kind = %s, want not_found", ErrorKind(err))
	}
}

func TestValidationFailedIncludesBody(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"message": "Validation Failed"}`)
	}))

	_, err := client.GetRepository(context.Background(), "octo", "widgets")
	if ErrorKind(err) != KindValidationFailed {
		t.Fatalf("error kind = %s, want validation_failed", ErrorKind(err))
	}
}

func TestLowQuotaDelaysNextCall(t *testing.T) {
	reset := time.Now().Add(30 * time.Second)
	client, slept := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Remaining", "2")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id": 1}`)
	}))

	ctx := context.Background()
	if _, err := client.GetRepository(ctx, "octo", "widgets"); err != nil {
		t.Fatalf("first call error: %v", err)
	}
	if len(*slept) != 0 {
		t.Fatalf("first call slept %v, want none", *slept)
	}

	// Remaining is now below the watermark; the next call should wait
	// for the reset before firing.
	if _, err := client.GetRepository(ctx, "octo", "widgets"); err != nil {
		t.Fatalf("second call error: %v", err)
	}
	if len(*slept) != 1 {
		t.Fatalf("second call slept %d times, want 1", len(*slept))
	}
	if (*slept)[0] <= 0 || (*slept)[0] > 30*time.Second {
		t.Errorf("wait = %v, want a positive duration up to the reset", (*slept)[0])
	}
}
