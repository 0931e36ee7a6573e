package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"taskbridge/internal/db"
)

var (
	Version    = "0.1.0"
	jsonOutput bool
)

// commandsExemptFromDB lists commands that don't require database initialization
var commandsExemptFromDB = map[string]bool{
	"init":       true,
	"version":    true,
	"help":       true,
	"completion": true,
}

var rootCmd = &cobra.Command{
	Use:   "tbr",
	Short: "TaskBridge - link tasks to GitHub activity",
	Long: `TaskBridge (tbr) connects projects to GitHub repositories and keeps
tasks in sync with commits and pull requests.

QUICK START:
  tbr init                          # Initialize in current directory
  tbr config github                 # Store OAuth app credentials
  tbr connect octo/widgets          # Connect a repository
  tbr serve                         # Run the webhook + OAuth server
  tbr connections                   # List connections
  tbr connections --stats           # Aggregate connection health
  tbr connections --activity        # Recent link and status events

HOW LINKING WORKS:
  Commit messages and PR descriptions are scanned for task references:
    #123, TASK-123, closes #123, fixes #123, resolves #123
  Closing keywords complete the referenced task when the commit lands
  or the PR merges. Bare references only record the association.

CONNECTION HEALTH:
  Consecutive API failures flip a connection to 'error' status; the
  next success restores it. 'tbr disconnect <id>' is permanent.

JSON OUTPUT: Add --json flag to any command for machine-readable output.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if commandsExemptFromDB[cmd.Name()] {
			return nil
		}
		return db.EnsureInitialized()
	},
}

func Execute() {
	defer db.CloseDB()

	if err := rootCmd.Execute(); err != nil {
		if jsonOutput {
			OutputJSON(map[string]interface{}{"error": true, "message": err.Error()})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.Version = Version
}

func OutputJSON(data interface{}) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	encoder.Encode(data)
}

// OutputJSONTo writes indented JSON to an arbitrary writer.
func OutputJSONTo(w io.Writer, data interface{}) {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	encoder.Encode(data)
}

func IsJSONOutput() bool {
	return jsonOutput
}
