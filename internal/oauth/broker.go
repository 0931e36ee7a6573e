// Package oauth manages the GitHub authorization-code flow. State
// tokens are self-contained: HMAC-signed, time-bounded, single-use.
// Nothing about an in-flight authorization is stored server-side
// except the consumed-nonce set used for replay rejection.
package oauth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v63/github"
	"github.com/google/uuid"
)

const (
	// stateTTL bounds how long an authorization may sit between the
	// redirect and the callback.
	stateTTL = 5 * time.Minute

	defaultAuthorizeURL = "https://github.com/login/oauth/authorize"
	defaultTokenURL     = "https://github.com/login/oauth/access_token"

	exchangeTimeout = 30 * time.Second
)

// AuthStateError rejects an invalid, expired, or replayed state token.
// Terminal: the user must restart the flow.
type AuthStateError struct {
	Reason string
}

func (e *AuthStateError) Error() string {
	return "oauth state rejected: " + e.Reason
}

// ExchangeError reports an upstream token-exchange failure, including
// the provider's error description.
type ExchangeError struct {
	Description string
	Err         error
}

func (e *ExchangeError) Error() string {
	if e.Description != "" {
		return "oauth exchange failed: " + e.Description
	}
	return "oauth exchange failed"
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// UserInfo is the authenticated GitHub user's profile, returned to the
// caller together with the access token.
type UserInfo struct {
	Login     string `json:"login"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// AuthResult is the outcome of a successful callback. The access token
// is handed to the caller for immediate connection creation and is not
// persisted by the broker.
type AuthResult struct {
	AccessToken string
	User        UserInfo
}

// statePayload is the signed content of a state token.
type statePayload struct {
	ProjectID uint   `json:"project_id"`
	Nonce     string `json:"nonce"`
	ExpiresAt int64  `json:"expires_at"` // unix seconds
}

// Broker runs the authorization-code exchange.
type Broker struct {
	clientID     string
	clientSecret string
	signingKey   []byte
	authorizeURL string
	tokenURL     string
	httpClient   *http.Client
	logger       *slog.Logger

	// consumed tracks used nonces until their token would have expired
	// anyway. Check-and-mark is atomic under mu so concurrent duplicate
	// callbacks cannot both succeed.
	mu       sync.Mutex
	consumed map[string]time.Time

	now func() time.Time
	// userFetcher is replaceable in tests.
	userFetcher func(ctx context.Context, token string) (UserInfo, error)
}

// NewBroker creates a broker. The signing key protects state tokens
// and must be secret; an empty key is a programming error.
func NewBroker(clientID, clientSecret string, signingKey []byte, logger *slog.Logger) *Broker {
	if len(signingKey) == 0 {
		panic("oauth: signing key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		clientID:     clientID,
		clientSecret: clientSecret,
		signingKey:   signingKey,
		authorizeURL: defaultAuthorizeURL,
		tokenURL:     defaultTokenURL,
		httpClient:   &http.Client{Timeout: exchangeTimeout},
		logger:       logger,
		consumed:     make(map[string]time.Time),
		now:          time.Now,
	}
	b.userFetcher = b.fetchUser
	return b
}

// SetEndpoints overrides the provider endpoints (test servers).
func (b *Broker) SetEndpoints(authorizeURL, tokenURL string) {
	b.authorizeURL = authorizeURL
	b.tokenURL = tokenURL
}

// StartAuthorization issues the provider authorization URL and the
// opaque state for a project.
func (b *Broker) StartAuthorization(projectID uint) (authorizationURL, state string, err error) {
	state, err = b.signState(projectID)
	if err != nil {
		return "", "", err
	}

	params := url.Values{}
	params.Set("client_id", b.clientID)
	params.Set("scope", "repo")
	params.Set("state", state)

	return b.authorizeURL + "?" + params.Encode(), state, nil
}

// HandleCallback validates the state, exchanges the code for an access
// token, and fetches the user profile. Validation order: signature,
// expiry, replay, code presence.
func (b *Broker) HandleCallback(ctx context.Context, code, state string) (*AuthResult, error) {
	payload, err := b.verifyState(state)
	if err != nil {
		return nil, err
	}

	if b.now().Unix() > payload.ExpiresAt {
		return nil, &AuthStateError{Reason: "state expired"}
	}

	if !b.consume(payload.Nonce, time.Unix(payload.ExpiresAt, 0)) {
		return nil, &AuthStateError{Reason: "state already used"}
	}

	if code == "" {
		return nil, &AuthStateError{Reason: "missing authorization code"}
	}

	token, err := b.exchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	user, err := b.userFetcher(ctx, token)
	if err != nil {
		return nil, &ExchangeError{Description: "fetching user profile", Err: err}
	}

	b.logger.Info("oauth authorization completed",
		"project_id", payload.ProjectID,
		"user", user.Login,
	)
	return &AuthResult{AccessToken: token, User: user}, nil
}

// ProjectID extracts the project id from a valid state token without
// consuming it. Used by the callback handler to route the result.
func (b *Broker) ProjectID(state string) (uint, error) {
	payload, err := b.verifyState(state)
	if err != nil {
		return 0, err
	}
	return payload.ProjectID, nil
}

// signState builds "base64(payload).hexhmac".
func (b *Broker) signState(projectID uint) (string, error) {
	payload := statePayload{
		ProjectID: projectID,
		Nonce:     uuid.NewString(),
		ExpiresAt: b.now().Add(stateTTL).Unix(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding state: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(raw)
	return encoded + "." + b.sign(encoded), nil
}

// verifyState checks the signature and decodes the payload. Signature
// comparison is constant time.
func (b *Broker) verifyState(state string) (*statePayload, error) {
	encoded, signature, found := strings.Cut(state, ".")
	if !found || encoded == "" || signature == "" {
		return nil, &AuthStateError{Reason: "malformed state"}
	}

	expected := b.sign(encoded)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return nil, &AuthStateError{Reason: "invalid signature"}
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &AuthStateError{Reason: "invalid encoding"}
	}
	var payload statePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &AuthStateError{Reason: "invalid payload"}
	}
	if payload.Nonce == "" {
		return nil, &AuthStateError{Reason: "missing nonce"}
	}
	return &payload, nil
}

func (b *Broker) sign(encoded string) string {
	mac := hmac.New(sha256.New, b.signingKey)
	mac.Write([]byte(encoded))
	return hex.EncodeToString(mac.Sum(nil))
}

// consume atomically checks and marks a nonce. Returns false when the
// nonce was already used. Expired entries are pruned on each call; the
// set stays small because entries outlive their tokens by nothing.
func (b *Broker) consume(nonce string, expiresAt time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	for n, exp := range b.consumed {
		if now.After(exp) {
			delete(b.consumed, n)
		}
	}

	if _, used := b.consumed[nonce]; used {
		return false
	}
	b.consumed[nonce] = expiresAt
	return true
}

// exchangeCode swaps the authorization code for an access token at the
// provider's token endpoint.
func (b *Broker) exchangeCode(ctx context.Context, code string) (string, error) {
	form := url.Values{}
	form.Set("client_id", b.clientID)
	form.Set("client_secret", b.clientSecret)
	form.Set("code", code)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", &ExchangeError{Description: "building token request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", &ExchangeError{Description: "token endpoint unreachable", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &ExchangeError{Description: "reading token response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &ExchangeError{Description: fmt.Sprintf("token endpoint returned %d", resp.StatusCode)}
	}

	var tokenResp struct {
		AccessToken      string `json:"access_token"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", &ExchangeError{Description: "invalid token response", Err: err}
	}
	if tokenResp.Error != "" {
		desc := tokenResp.ErrorDescription
		if desc == "" {
			desc = tokenResp.Error
		}
		return "", &ExchangeError{Description: desc}
	}
	if tokenResp.AccessToken == "" {
		return "", &ExchangeError{Description: "no access token in response"}
	}
	return tokenResp.AccessToken, nil
}

// fetchUser loads the authenticated user's profile with the freshly
// exchanged token.
func (b *Broker) fetchUser(ctx context.Context, token string) (UserInfo, error) {
	client := github.NewClient(b.httpClient).WithAuthToken(token)
	user, _, err := client.Users.Get(ctx, "")
	if err != nil {
		return UserInfo{}, err
	}
	return UserInfo{
		Login:     user.GetLogin(),
		Name:      user.GetName(),
		Email:     user.GetEmail(),
		AvatarURL: user.GetAvatarURL(),
	}, nil
}
