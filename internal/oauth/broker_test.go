package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("token endpoint: bad form: %v", err)
		}
		if r.FormValue("client_id") != "client-id" {
			t.Errorf("client_id = %q", r.FormValue("client_id"))
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.FormValue("code") {
		case "good-code":
			fmt.Fprint(w, `{"access_token": "gho_testtoken", "token_type": "bearer"}`)
		default:
			fmt.Fprint(w, `{"error": "bad_verification_code", "error_description": "The code is incorrect or expired."}`)
		}
	}))
	t.Cleanup(tokenServer.Close)

	broker := NewBroker("client-id", "client-secret", []byte("signing-key"), slog.New(slog.DiscardHandler))
	broker.SetEndpoints("https://example.test/authorize", tokenServer.URL)
	broker.userFetcher = func(ctx context.Context, token string) (UserInfo, error) {
		if token != "gho_testtoken" {
			return UserInfo{}, errors.New("wrong token")
		}
		return UserInfo{Login: "octocat", Name: "Octo Cat"}, nil
	}
	return broker
}

func TestStartAuthorization(t *testing.T) {
	broker := newTestBroker(t)

	authURL, state, err := broker.StartAuthorization(7)
	if err != nil {
		t.Fatalf("StartAuthorization() error: %v", err)
	}
	if !strings.HasPrefix(authURL, "https://example.test/authorize?") {
		t.Errorf("authorization URL = %s", authURL)
	}
	if !strings.Contains(authURL, "client_id=client-id") {
		t.Errorf("authorization URL missing client_id: %s", authURL)
	}
	if state == "" {
		t.Fatal("state is empty")
	}

	projectID, err := broker.ProjectID(state)
	if err != nil {
		t.Fatalf("ProjectID() error: %v", err)
	}
	if projectID != 7 {
		t.Errorf("ProjectID() = %d, want 7", projectID)
	}
}

func TestHandleCallback(t *testing.T) {
	broker := newTestBroker(t)

	_, state, err := broker.StartAuthorization(3)
	if err != nil {
		t.Fatalf("StartAuthorization() error: %v", err)
	}

	result, err := broker.HandleCallback(context.Background(), "good-code", state)
	if err != nil {
		t.Fatalf("HandleCallback() error: %v", err)
	}
	if result.AccessToken != "gho_testtoken" {
		t.Errorf("AccessToken = %s", result.AccessToken)
	}
	if result.User.Login != "octocat" {
		t.Errorf("User.Login = %s, want octocat", result.User.Login)
	}
}

// A valid state succeeds once; the second use must be rejected even
// though the token itself is still within its validity window.
func TestStateSingleUse(t *testing.T) {
	broker := newTestBroker(t)

	_, state, _ := broker.StartAuthorization(1)

	if _, err := broker.HandleCallback(context.Background(), "good-code", state); err != nil {
		t.Fatalf("first HandleCallback() error: %v", err)
	}

	_, err := broker.HandleCallback(context.Background(), "good-code", state)
	var stateErr *AuthStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("second HandleCallback() error = %v, want AuthStateError", err)
	}
}

func TestStateSingleUseConcurrent(t *testing.T) {
	broker := newTestBroker(t)
	_, state, _ := broker.StartAuthorization(1)

	const callers = 8
	var wg sync.WaitGroup
	successes := make(chan struct{}, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := broker.HandleCallback(context.Background(), "good-code", state); err == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	count := 0
	for range successes {
		count++
	}
	if count != 1 {
		t.Errorf("%d concurrent callbacks succeeded, want exactly 1", count)
	}
}

func TestTamperedStateRejected(t *testing.T) {
	broker := newTestBroker(t)
	_, state, _ := broker.StartAuthorization(1)

	tampered := state[:len(state)-2] + "zz"
	_, err := broker.HandleCallback(context.Background(), "good-code", tampered)
	var stateErr *AuthStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("error = %v, want AuthStateError", err)
	}
}

func TestExpiredStateRejected(t *testing.T) {
	broker := newTestBroker(t)

	issued := time.Now()
	broker.now = func() time.Time { return issued }
	_, state, _ := broker.StartAuthorization(1)

	broker.now = func() time.Time { return issued.Add(stateTTL + time.Minute) }
	_, err := broker.HandleCallback(context.Background(), "good-code", state)
	var stateErr *AuthStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("error = %v, want AuthStateError", err)
	}
	if !strings.Contains(stateErr.Reason, "expired") {
		t.Errorf("Reason = %q, want expiry rejection", stateErr.Reason)
	}
}

func TestMissingCodeRejected(t *testing.T) {
	broker := newTestBroker(t)
	_, state, _ := broker.StartAuthorization(1)

	_, err := broker.HandleCallback(context.Background(), "", state)
	var stateErr *AuthStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("error = %v, want AuthStateError", err)
	}
}

func TestExchangeFailureSurfacesDescription(t *testing.T) {
	broker := newTestBroker(t)
	_, state, _ := broker.StartAuthorization(1)

	_, err := broker.HandleCallback(context.Background(), "bad-code", state)
	var exchErr *ExchangeError
	if !errors.As(err, &exchErr) {
		t.Fatalf("error = %v, want ExchangeError", err)
	}
	if !strings.Contains(exchErr.Description, "incorrect or expired") {
		t.Errorf("Description = %q, want upstream description", exchErr.Description)
	}
}
