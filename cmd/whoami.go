package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"taskbridge/internal/db"
	"taskbridge/internal/githubapi"
	"taskbridge/internal/models"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the authenticated GitHub identity",
	Long:  `Display the GitHub identity behind the configured token, the OAuth client, and the database in use.`,
	RunE:  runWhoami,
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
}

func runWhoami(cmd *cobra.Command, args []string) error {
	dbPath, _ := db.GetDefaultDBPath()
	clientID, _ := db.GetConfig(models.ConfigGitHubClientID)

	login := ""
	if token, err := GetGitHubToken(); err == nil {
		client := githubapi.NewClient(token, slog.Default())
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		user, err := client.AuthenticatedUser(ctx)
		if err != nil {
			if githubapi.IsUnauthorized(err) {
				return fmt.Errorf("GitHub rejected the token. Check TBR_GITHUB_TOKEN")
			}
			return fmt.Errorf("failed to look up authenticated user: %w", err)
		}
		login = user.GetLogin()
	}

	if IsJSONOutput() {
		result := map[string]interface{}{
			"database": dbPath,
		}
		if login != "" {
			result["github_user"] = login
		}
		if clientID != "" {
			result["oauth_client_id"] = clientID
		}
		OutputJSON(result)
		return nil
	}

	if login != "" {
		fmt.Printf("GitHub:   @%s\n", login)
	} else {
		fmt.Println("GitHub:   (no token configured)")
	}
	if clientID != "" {
		fmt.Printf("OAuth:    client %s\n", clientID)
	} else {
		fmt.Println("OAuth:    (not configured)")
	}
	fmt.Printf("Database: %s\n", dbPath)

	return nil
}
