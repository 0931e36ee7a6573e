package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"taskbridge/internal/db"
	"taskbridge/internal/githubapi"
	"taskbridge/internal/models"
)

var (
	connectProject uint
	connectToken   string
)

var connectCmd = &cobra.Command{
	Use:   "connect <owner/repo>",
	Short: "Connect a GitHub repository to a project",
	Long: `Connect a GitHub repository to a project.

The repository is verified through the GitHub API before the connection
is created. A project can hold connections to several repositories, but
only one active connection may exist per repository.

The access token comes from --token, TBR_GITHUB_TOKEN, or a completed
OAuth authorization (see 'tbr serve').`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect <connection-id>",
	Short: "Permanently disconnect a repository",
	Long: `Permanently disconnect a repository connection.

Disconnection is terminal: the connection stops accepting webhook
deliveries and sync updates, and cannot be reactivated. Existing
commits, pull requests, and task links are kept. To resume syncing,
create a new connection with 'tbr connect'.`,
	Args: cobra.ExactArgs(1),
	RunE: runDisconnect,
}

func init() {
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(disconnectCmd)

	connectCmd.Flags().UintVarP(&connectProject, "project", "p", 1, "Project ID to connect the repository to")
	connectCmd.Flags().StringVar(&connectToken, "token", "", "GitHub access token (defaults to TBR_GITHUB_TOKEN)")
}

func runConnect(cmd *cobra.Command, args []string) error {
	repository := strings.TrimSpace(args[0])
	if !strings.Contains(repository, "/") {
		return fmt.Errorf("repository must be in owner/repo format")
	}

	exists, err := db.HasActiveConnection(connectProject, repository)
	if err != nil {
		return fmt.Errorf("failed to check existing connections: %w", err)
	}
	if exists {
		return fmt.Errorf("project %d already has an active connection to %s", connectProject, repository)
	}

	token := connectToken
	if token == "" {
		token, err = GetGitHubToken()
		if err != nil {
			return err
		}
	}

	parts := strings.SplitN(repository, "/", 2)
	owner, repoName := parts[0], parts[1]

	client := githubapi.NewClient(token, slog.Default())
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	repo, err := client.GetRepository(ctx, owner, repoName)
	if err != nil {
		switch {
		case githubapi.IsNotFound(err):
			printRepoSuggestions(ctx, client, owner, repoName)
			return fmt.Errorf("repository %s not found or not accessible with this token", repository)
		case githubapi.IsUnauthorized(err):
			return fmt.Errorf("GitHub rejected the token. Check TBR_GITHUB_TOKEN or reauthorize")
		default:
			return fmt.Errorf("failed to verify repository: %w", err)
		}
	}

	cipher, err := GetTokenCipher()
	if err != nil {
		return err
	}
	sealedToken, err := cipher.Seal(token)
	if err != nil {
		return fmt.Errorf("failed to seal access token: %w", err)
	}

	conn := &models.Connection{
		ProjectID:     connectProject,
		Repository:    repository,
		RepositoryURL: repo.GetHTMLURL(),
		Status:        models.ConnectionActive,
		WebhookStatus: models.WebhookPending,
		AccessToken:   sealedToken,
	}
	if err := db.GetDB().Create(conn).Error; err != nil {
		return fmt.Errorf("failed to create connection: %w", err)
	}

	if IsJSONOutput() {
		OutputJSON(map[string]interface{}{
			"success":        true,
			"connection_id":  conn.ID,
			"repository":     conn.Repository,
			"repository_url": conn.RepositoryURL,
			"webhook_status": conn.WebhookStatus,
		})
		return nil
	}

	fmt.Printf("Connected %s to project %d (connection %d)\n", repository, connectProject, conn.ID)
	fmt.Println("\nNext steps:")
	fmt.Printf("  Add a webhook in the repository settings pointing at\n")
	fmt.Printf("  <server>/webhook/%d with the configured secret.\n", conn.ID)
	fmt.Println("  The first delivery marks the webhook active.")

	return nil
}

// printRepoSuggestions searches for similarly named repositories the
// token can see and lists them as alternatives. Best effort; search
// failures stay silent because the not-found error is already on its
// way to the user.
func printRepoSuggestions(ctx context.Context, client *githubapi.Client, owner, repoName string) {
	if IsJSONOutput() {
		return
	}
	repos, err := client.SearchRepositories(ctx, fmt.Sprintf("%s in:name user:%s", repoName, owner))
	if err != nil || len(repos) == 0 {
		return
	}
	fmt.Println("Did you mean one of these?")
	for i, repo := range repos {
		if i == 5 {
			break
		}
		fmt.Printf("  %s\n", repo.GetFullName())
	}
}

func runDisconnect(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid connection id %q", args[0])
	}

	conn, err := db.GetConnectionByID(uint(id))
	if err != nil {
		return err
	}
	if conn.IsDisconnected() {
		return fmt.Errorf("connection %d is already disconnected", conn.ID)
	}

	monitor := newMonitor()
	if err := monitor.Disconnect(conn.ID); err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}

	if IsJSONOutput() {
		OutputJSON(map[string]interface{}{
			"success":       true,
			"connection_id": conn.ID,
			"repository":    conn.Repository,
			"status":        models.ConnectionDisconnected,
		})
		return nil
	}

	fmt.Printf("Disconnected %s (connection %d)\n", conn.Repository, conn.ID)
	fmt.Println("Existing task links are kept. Disconnection is permanent.")

	return nil
}
