package models

import (
	"time"
)

// Config stores key-value configuration for the project
type Config struct {
	Key       string    `gorm:"primaryKey;size:100" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for Config
func (Config) TableName() string {
	return "config"
}

// Common config keys
const (
	ConfigSchemaVersion     = "schema_version"
	ConfigInitializedAt     = "initialized_at"
	ConfigGitHubClientID    = "github_client_id"
	ConfigDefaultProject    = "default_project"
	ConfigWebhookListenAddr = "webhook_listen_addr"
)

// Keyring service and key names. Secrets never land in the config
// table; they live in the system keyring.
const (
	KeyringService       = "taskbridge"
	KeyringClientSecret  = "github_client_secret"
	KeyringWebhookSecret = "webhook_secret"
	KeyringTokenKey      = "token_cipher_key"
)
