package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"taskbridge/internal/db"
	"taskbridge/internal/models"
)

var forceInit bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize TaskBridge in the current directory",
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "Force reinitialize")
}

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	taskbridgeDir := filepath.Join(cwd, db.TaskbridgeDir)
	dbPath := filepath.Join(taskbridgeDir, db.DBFileName)

	// Check if already initialized
	if info, err := os.Stat(taskbridgeDir); err == nil && info.IsDir() {
		if !forceInit {
			return fmt.Errorf("already initialized. Use --force to reinitialize")
		}
		if err := os.RemoveAll(taskbridgeDir); err != nil {
			return fmt.Errorf("failed to remove existing taskbridge directory: %w", err)
		}
	}

	if err := os.MkdirAll(taskbridgeDir, 0755); err != nil {
		return fmt.Errorf("failed to create taskbridge directory: %w", err)
	}

	database, err := db.InitDB(dbPath)
	if err != nil {
		return err
	}

	if err := database.Create(&models.Config{Key: models.ConfigSchemaVersion, Value: db.SchemaVersion}).Error; err != nil {
		return fmt.Errorf("failed to save schema version: %w", err)
	}
	if err := database.Create(&models.Config{Key: models.ConfigInitializedAt, Value: time.Now().Format(time.RFC3339)}).Error; err != nil {
		return fmt.Errorf("failed to save initialization time: %w", err)
	}

	if IsJSONOutput() {
		OutputJSON(map[string]interface{}{"success": true, "path": taskbridgeDir})
		return nil
	}

	fmt.Printf("TaskBridge initialized in %s/\n", db.TaskbridgeDir)
	fmt.Println("\nNext steps:")
	fmt.Println("  tbr config github               Store GitHub OAuth credentials")
	fmt.Println("  tbr connect <owner/repo>        Connect a repository")
	fmt.Println("  tbr serve                       Run the webhook server")

	return nil
}
