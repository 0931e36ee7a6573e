// Package webhook receives GitHub webhook deliveries: HMAC-SHA256
// signature verification, replay deduplication, payload decoding, and
// handoff to the sync engine's keyed dispatcher. The HTTP response
// never waits for ingestion — GitHub sees a prompt 2xx, and the work
// runs on the connection's worker.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"taskbridge/internal/health"
	"taskbridge/internal/models"
	"taskbridge/internal/syncengine"
)

// maxBodySize bounds accepted payloads. GitHub documents ~25 MB for
// push events with large histories.
const maxBodySize = 32 * 1024 * 1024

// dedupeWindow is how long delivery fingerprints are tracked. GitHub
// retries within minutes; an hour is conservative.
const dedupeWindow = 1 * time.Hour

// Rejection reasons.
const (
	ReasonInvalidSignature  = "invalid signature"
	ReasonUnknownConnection = "unknown connection"
	ReasonMalformedPayload  = "malformed payload"
)

// Result is the outcome of one delivery.
type Result struct {
	Accepted bool
	// Duplicate marks an accepted no-op for an already-seen delivery.
	Duplicate bool
	// Ignored marks an accepted but unhandled event type.
	Ignored bool
	Reason  string
}

// Ingestor is the slice of the sync engine the processor dispatches to.
type Ingestor interface {
	IngestCommit(connectionID uint, payload syncengine.CommitPayload) (*models.Commit, error)
	IngestPullRequest(connectionID uint, payload syncengine.PullRequestPayload) (*models.PullRequest, error)
}

// Processor verifies and routes webhook deliveries.
type Processor struct {
	db         *gorm.DB
	secret     []byte
	engine     Ingestor
	dispatcher *syncengine.Dispatcher
	monitor    *health.Monitor
	logger     *slog.Logger

	// deliveries maps fingerprints to first-seen time for replay
	// protection.
	mu         sync.Mutex
	deliveries map[string]time.Time
}

// NewProcessor creates a processor. The secret must match the value
// configured on the GitHub webhook; an empty secret is a programming
// error because it would disable verification.
func NewProcessor(db *gorm.DB, secret []byte, engine Ingestor, dispatcher *syncengine.Dispatcher, monitor *health.Monitor, logger *slog.Logger) *Processor {
	if len(secret) == 0 {
		panic("webhook: secret is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		db:         db,
		secret:     secret,
		engine:     engine,
		dispatcher: dispatcher,
		monitor:    monitor,
		logger:     logger,
		deliveries: make(map[string]time.Time),
	}
}

// ServeHTTP handles "POST /webhook/{connection}". 200 on accept
// (including deduped and ignored deliveries), 401 on signature
// failure with no detail leaked.
func (p *Processor) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		http.Error(writer, "", http.StatusMethodNotAllowed)
		return
	}

	connectionID, err := strconv.ParseUint(request.PathValue("connection"), 10, 32)
	if err != nil {
		http.Error(writer, "", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(request.Body, maxBodySize))
	if err != nil {
		p.logger.Error("webhook: failed to read body", "error", err)
		http.Error(writer, "", http.StatusInternalServerError)
		return
	}

	result := p.Handle(
		uint(connectionID),
		request.Header.Get("X-Hub-Signature-256"),
		request.Header.Get("X-GitHub-Event"),
		request.Header.Get("X-GitHub-Delivery"),
		body,
	)

	if !result.Accepted {
		if result.Reason == ReasonUnknownConnection {
			http.Error(writer, "", http.StatusNotFound)
			return
		}
		// 401 with no information disclosure.
		http.Error(writer, "", http.StatusUnauthorized)
		return
	}
	writer.WriteHeader(http.StatusOK)
}

// Handle processes one delivery: verify, dedupe, decode, dispatch.
// Ingestion runs asynchronously on the connection's worker; Handle
// returns as soon as the work is queued.
func (p *Processor) Handle(connectionID uint, signature, eventType, deliveryID string, body []byte) Result {
	conn, err := p.lookupConnection(connectionID)
	if err != nil {
		p.logger.Warn("webhook: connection lookup failed",
			"connection_id", connectionID,
			"error", err,
		)
		return Result{Reason: ReasonUnknownConnection}
	}

	// Signature first: nothing is trusted or mutated before this.
	if err := p.verifySignature(body, signature); err != nil {
		p.logger.Warn("webhook: signature verification failed",
			"connection_id", connectionID,
			"error", err,
		)
		return Result{Reason: ReasonInvalidSignature}
	}

	// A disconnected connection acknowledges but processes nothing;
	// rejecting would only cause redelivery storms.
	if conn.IsDisconnected() {
		return Result{Accepted: true, Ignored: true, Reason: "connection disconnected"}
	}

	// Replay protection. Duplicates are accepted no-ops: at-least-once
	// delivery without double-processing.
	if p.isDuplicate(fingerprint(deliveryID, body)) {
		p.logger.Debug("webhook: duplicate delivery, ignoring",
			"connection_id", connectionID,
			"delivery_id", deliveryID,
			"event_type", eventType,
		)
		return Result{Accepted: true, Duplicate: true}
	}

	if err := p.monitor.RecordWebhook(connectionID); err != nil {
		p.logger.Warn("webhook: recording receipt failed",
			"connection_id", connectionID,
			"error", err,
		)
	}

	p.logger.Info("webhook received",
		"connection_id", connectionID,
		"event_type", eventType,
		"delivery_id", deliveryID,
	)

	switch eventType {
	case "push":
		return p.dispatchPush(connectionID, body)
	case "pull_request":
		return p.dispatchPullRequest(connectionID, body)
	case "ping":
		// Sent when the webhook is first configured; receipt already
		// marked the webhook active.
		return Result{Accepted: true}
	default:
		p.logger.Debug("webhook: unhandled event type, ignoring",
			"connection_id", connectionID,
			"event_type", eventType,
		)
		return Result{Accepted: true, Ignored: true}
	}
}

func (p *Processor) dispatchPush(connectionID uint, body []byte) Result {
	commits, err := decodePush(body)
	if err != nil {
		// Retrying won't fix a malformed payload; accept and log.
		p.logger.Error("webhook: push decode failed",
			"connection_id", connectionID,
			"error", err,
		)
		return Result{Accepted: true, Ignored: true, Reason: ReasonMalformedPayload}
	}

	for _, commit := range commits {
		payload := commit
		p.dispatcher.Submit(connectionID, func() {
			if _, err := p.engine.IngestCommit(connectionID, payload); err != nil {
				if !errors.Is(err, syncengine.ErrConnectionInactive) {
					p.logger.Error("commit ingestion failed",
						"connection_id", connectionID,
						"sha", payload.SHA,
						"error", err,
					)
				}
			}
		})
	}
	return Result{Accepted: true}
}

func (p *Processor) dispatchPullRequest(connectionID uint, body []byte) Result {
	payload, err := decodePullRequest(body)
	if err != nil {
		p.logger.Error("webhook: pull_request decode failed",
			"connection_id", connectionID,
			"error", err,
		)
		return Result{Accepted: true, Ignored: true, Reason: ReasonMalformedPayload}
	}

	p.dispatcher.Submit(connectionID, func() {
		if _, err := p.engine.IngestPullRequest(connectionID, *payload); err != nil {
			if !errors.Is(err, syncengine.ErrConnectionInactive) {
				p.logger.Error("pull request ingestion failed",
					"connection_id", connectionID,
					"pr_number", payload.Number,
					"error", err,
				)
			}
		}
	})
	return Result{Accepted: true}
}

func (p *Processor) lookupConnection(connectionID uint) (*models.Connection, error) {
	var conn models.Connection
	if err := p.db.First(&conn, connectionID).Error; err != nil {
		return nil, err
	}
	return &conn, nil
}

// verifySignature recomputes the HMAC-SHA256 over the raw body and
// compares in constant time. The error never includes the expected
// digest.
func (p *Processor) verifySignature(body []byte, signature string) error {
	if signature == "" {
		return errors.New("signature header missing")
	}
	hexSignature := strings.TrimPrefix(signature, "sha256=")
	signatureBytes, err := hex.DecodeString(hexSignature)
	if err != nil {
		return fmt.Errorf("invalid hex signature: %w", err)
	}

	mac := hmac.New(sha256.New, p.secret)
	mac.Write(body)
	expected := mac.Sum(nil)

	if subtle.ConstantTimeCompare(expected, signatureBytes) != 1 {
		return errors.New("signature mismatch")
	}
	return nil
}

// fingerprint identifies a delivery: the provider's delivery id when
// present, otherwise a hash of the body.
func fingerprint(deliveryID string, body []byte) string {
	if deliveryID != "" {
		return deliveryID
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// isDuplicate checks and records a fingerprint. Expired entries are
// pruned on each check; the map stays small (one entry per delivery
// over the window).
func (p *Processor) isDuplicate(fp string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for id, seen := range p.deliveries {
		if now.Sub(seen) > dedupeWindow {
			delete(p.deliveries, id)
		}
	}

	if _, exists := p.deliveries[fp]; exists {
		return true
	}
	p.deliveries[fp] = now
	return false
}
