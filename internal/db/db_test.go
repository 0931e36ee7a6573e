package db

import (
	"os"
	"path/filepath"
	"testing"

	"taskbridge/internal/models"
)

func setupTestDB(t *testing.T) func() {
	t.Helper()

	// Create temp directory
	tmpDir, err := os.MkdirTemp("", "tbr-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	_, err = InitDB(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to init test DB: %v", err)
	}

	// Return cleanup function
	return func() {
		CloseDB()
		os.RemoveAll(tmpDir)
	}
}

func TestInitDB(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	db := GetDB()
	if db == nil {
		t.Fatal("GetDB() returned nil after InitDB")
	}
}

func TestGetConnectionByID(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	db := GetDB()

	conn := &models.Connection{
		ProjectID:  1,
		Repository: "octo/widgets",
		Status:     models.ConnectionActive,
	}
	if err := db.Create(conn).Error; err != nil {
		t.Fatalf("Failed to create test connection: %v", err)
	}

	found, err := GetConnectionByID(conn.ID)
	if err != nil {
		t.Fatalf("GetConnectionByID() error: %v", err)
	}
	if found.Repository != "octo/widgets" {
		t.Errorf("GetConnectionByID() repository = %s, want octo/widgets", found.Repository)
	}

	// Test not found
	_, err = GetConnectionByID(9999)
	if err == nil {
		t.Error("GetConnectionByID() should error for non-existent connection")
	}
}

func TestHasActiveConnection(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	db := GetDB()

	exists, err := HasActiveConnection(1, "octo/widgets")
	if err != nil {
		t.Fatalf("HasActiveConnection() error: %v", err)
	}
	if exists {
		t.Error("HasActiveConnection() = true before any connection exists")
	}

	conn := &models.Connection{
		ProjectID:  1,
		Repository: "octo/widgets",
		Status:     models.ConnectionActive,
	}
	if err := db.Create(conn).Error; err != nil {
		t.Fatalf("Failed to create test connection: %v", err)
	}

	exists, err = HasActiveConnection(1, "octo/widgets")
	if err != nil {
		t.Fatalf("HasActiveConnection() error: %v", err)
	}
	if !exists {
		t.Error("HasActiveConnection() = false for existing active connection")
	}

	// A disconnected connection does not count as active
	db.Model(conn).Update("status", models.ConnectionDisconnected)
	exists, err = HasActiveConnection(1, "octo/widgets")
	if err != nil {
		t.Fatalf("HasActiveConnection() error: %v", err)
	}
	if exists {
		t.Error("HasActiveConnection() = true for disconnected connection")
	}
}

func TestConfigRoundTrip(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	if err := SetConfig(models.ConfigGitHubClientID, "Iv1.abc123"); err != nil {
		t.Fatalf("SetConfig() error: %v", err)
	}

	value, err := GetConfig(models.ConfigGitHubClientID)
	if err != nil {
		t.Fatalf("GetConfig() error: %v", err)
	}
	if value != "Iv1.abc123" {
		t.Errorf("GetConfig() = %s, want Iv1.abc123", value)
	}
}
