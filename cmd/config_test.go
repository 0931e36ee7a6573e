package cmd

import (
	"path/filepath"
	"testing"

	"taskbridge/internal/db"
	"taskbridge/internal/models"
)

func TestConfigClientIDRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	if _, err := db.InitDB(dbPath); err != nil {
		t.Fatalf("failed to init db: %v", err)
	}
	defer db.CloseDB()

	if err := db.SetConfig(models.ConfigGitHubClientID, "Iv1.abc123"); err != nil {
		t.Fatalf("failed to set client ID: %v", err)
	}

	clientID, err := db.GetConfig(models.ConfigGitHubClientID)
	if err != nil {
		t.Fatalf("failed to get client ID: %v", err)
	}
	if clientID != "Iv1.abc123" {
		t.Errorf("client ID = %q, want %q", clientID, "Iv1.abc123")
	}

	// Updates overwrite
	if err := db.SetConfig(models.ConfigGitHubClientID, "Iv1.def456"); err != nil {
		t.Fatalf("failed to update client ID: %v", err)
	}
	clientID, err = db.GetConfig(models.ConfigGitHubClientID)
	if err != nil {
		t.Fatalf("failed to get updated client ID: %v", err)
	}
	if clientID != "Iv1.def456" {
		t.Errorf("updated client ID = %q, want %q", clientID, "Iv1.def456")
	}
}

func TestKeyringConstants(t *testing.T) {
	if models.KeyringService == "" {
		t.Error("KeyringService constant is empty")
	}
	if models.KeyringClientSecret == models.KeyringWebhookSecret {
		t.Error("client secret and webhook secret must use distinct keyring keys")
	}
}
