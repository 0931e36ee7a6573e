// Package health tracks per-connection error state. Connections flip
// from active to error after a run of consecutive terminal failures
// and recover on the next success. Disconnection is manual and final.
package health

import (
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"taskbridge/internal/models"
)

// Stats aggregates connection health for operator visibility.
type Stats struct {
	Total        int64 `json:"total"`
	Active       int64 `json:"active"`
	Error        int64 `json:"error"`
	Disconnected int64 `json:"disconnected"`
	WebhookOK    int64 `json:"webhook_active"`
}

// Monitor owns all mutations of connection status, error counters, and
// sync timestamps. Callers route updates for one connection through a
// single worker (the sync engine's keyed dispatcher), which keeps the
// read-modify-write below race free per connection.
type Monitor struct {
	db        *gorm.DB
	threshold int
	logger    *slog.Logger
}

// NewMonitor creates a monitor with the standard failure threshold.
func NewMonitor(db *gorm.DB, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{db: db, threshold: models.ErrorThreshold, logger: logger}
}

// RecordSuccess resets the error counter and restores active status
// after a successful sync or webhook cycle. Disconnected connections
// stay disconnected.
func (m *Monitor) RecordSuccess(connectionID uint) error {
	var conn models.Connection
	if err := m.db.First(&conn, connectionID).Error; err != nil {
		return fmt.Errorf("loading connection %d: %w", connectionID, err)
	}
	if conn.IsDisconnected() {
		return nil
	}

	now := time.Now()
	updates := map[string]interface{}{
		"error_count":  0,
		"last_error":   "",
		"status":       models.ConnectionActive,
		"last_sync_at": &now,
	}
	if err := m.db.Model(&conn).Updates(updates).Error; err != nil {
		return fmt.Errorf("recording success for connection %d: %w", connectionID, err)
	}
	if conn.Status == models.ConnectionError {
		m.logger.Info("connection recovered",
			"connection_id", connectionID,
			"repository", conn.Repository,
		)
	}
	return nil
}

// RecordFailure increments the error counter and records the message.
// Crossing the threshold transitions the connection to error status.
func (m *Monitor) RecordFailure(connectionID uint, message string) error {
	var conn models.Connection
	if err := m.db.First(&conn, connectionID).Error; err != nil {
		return fmt.Errorf("loading connection %d: %w", connectionID, err)
	}
	if conn.IsDisconnected() {
		return nil
	}

	count := conn.ErrorCount + 1
	updates := map[string]interface{}{
		"error_count": count,
		"last_error":  truncate(message, 500),
	}
	if count >= m.threshold && conn.Status != models.ConnectionError {
		updates["status"] = models.ConnectionError
		m.logger.Warn("connection entered error state",
			"connection_id", connectionID,
			"repository", conn.Repository,
			"consecutive_errors", count,
			"last_error", message,
		)
	}
	if err := m.db.Model(&conn).Updates(updates).Error; err != nil {
		return fmt.Errorf("recording failure for connection %d: %w", connectionID, err)
	}
	return nil
}

// RecordWebhook stamps the last webhook receipt and marks the webhook
// active (first delivery proves the hook works).
func (m *Monitor) RecordWebhook(connectionID uint) error {
	now := time.Now()
	err := m.db.Model(&models.Connection{}).
		Where("id = ? AND status != ?", connectionID, models.ConnectionDisconnected).
		Updates(map[string]interface{}{
			"last_webhook_at": &now,
			"webhook_status":  models.WebhookActive,
		}).Error
	if err != nil {
		return fmt.Errorf("recording webhook receipt for connection %d: %w", connectionID, err)
	}
	return nil
}

// Disconnect soft-deletes a connection: status disconnected, webhook
// inactive. Terminal; no automatic processing happens afterwards. The
// row is kept because task links may still reference its commits.
func (m *Monitor) Disconnect(connectionID uint) error {
	result := m.db.Model(&models.Connection{}).
		Where("id = ?", connectionID).
		Updates(map[string]interface{}{
			"status":         models.ConnectionDisconnected,
			"webhook_status": models.WebhookInactive,
		})
	if result.Error != nil {
		return fmt.Errorf("disconnecting connection %d: %w", connectionID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("connection %d not found", connectionID)
	}
	m.logger.Info("connection disconnected", "connection_id", connectionID)
	return nil
}

// Issues returns advisory health warnings for a connection,
// independent of its lifecycle status.
func (m *Monitor) Issues(conn *models.Connection) []string {
	var issues []string
	if conn.WebhookStatus == models.WebhookInactive || conn.WebhookStatus == models.WebhookError {
		issues = append(issues, "webhook inactive")
	}
	if conn.WebhookStatus == models.WebhookPending {
		issues = append(issues, "webhook never delivered")
	}
	if conn.ErrorCount > 0 && conn.ErrorCount < m.threshold {
		issues = append(issues, fmt.Sprintf("%d recent errors", conn.ErrorCount))
	}
	if conn.LastSyncAt != nil && time.Since(*conn.LastSyncAt) > 7*24*time.Hour {
		issues = append(issues, "no sync in over a week")
	}
	return issues
}

// AggregateStats counts connections per status.
func (m *Monitor) AggregateStats() (*Stats, error) {
	type statusCount struct {
		Status string
		Count  int64
	}
	var counts []statusCount
	err := m.db.Model(&models.Connection{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("aggregating connection stats: %w", err)
	}

	stats := &Stats{}
	for _, sc := range counts {
		stats.Total += sc.Count
		switch sc.Status {
		case models.ConnectionActive:
			stats.Active = sc.Count
		case models.ConnectionError:
			stats.Error = sc.Count
		case models.ConnectionDisconnected:
			stats.Disconnected = sc.Count
		}
	}

	err = m.db.Model(&models.Connection{}).
		Where("webhook_status = ?", models.WebhookActive).
		Count(&stats.WebhookOK).Error
	if err != nil {
		return nil, fmt.Errorf("counting active webhooks: %w", err)
	}
	return stats, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
