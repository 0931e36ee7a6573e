// Package activity emits fire-and-forget events after link creation
// and status changes. Publishing never fails the operation that
// produced the event; storage errors are logged and swallowed.
package activity

import (
	"log/slog"

	"gorm.io/gorm"

	"taskbridge/internal/models"
)

// Publisher records activity events.
type Publisher struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewPublisher creates a publisher backed by the activities table.
func NewPublisher(db *gorm.DB, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{db: db, logger: logger}
}

// Publish emits one event. taskID may be nil for connection-level
// events.
func (p *Publisher) Publish(eventType string, connectionID uint, taskID *uint, description string) {
	event := models.Activity{
		Type:         eventType,
		ConnectionID: connectionID,
		TaskID:       taskID,
		Description:  description,
	}
	if err := p.db.Create(&event).Error; err != nil {
		p.logger.Warn("activity publish failed",
			"type", eventType,
			"connection_id", connectionID,
			"error", err,
		)
		return
	}
	p.logger.Debug("activity published",
		"type", eventType,
		"connection_id", connectionID,
		"description", description,
	)
}

// Recent returns the newest events, newest first.
func (p *Publisher) Recent(limit int) ([]models.Activity, error) {
	var events []models.Activity
	err := p.db.Order("created_at DESC, id DESC").Limit(limit).Find(&events).Error
	return events, err
}
