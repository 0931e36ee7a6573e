package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"

	"taskbridge/internal/db"
	"taskbridge/internal/models"
	"taskbridge/internal/secrets"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage TaskBridge configuration",
}

var configGitHubCmd = &cobra.Command{
	Use:   "github",
	Short: "Configure GitHub OAuth app credentials",
	Long: `Configure the GitHub OAuth app used to authorize repository
connections and the secret used to verify webhook deliveries.

This command will prompt you for:
  - OAuth app client ID
  - OAuth app client secret (stored securely in system keyring)
  - Webhook secret (stored securely in system keyring)

To create an OAuth app:
  1. Go to GitHub Settings → Developer settings → OAuth Apps
  2. Register a new application
  3. Set the authorization callback URL to <server>/oauth/callback
  4. Copy the client ID and generate a client secret`,
	RunE: runConfigGitHub,
}

var (
	configClientID      string
	configClientSecret  string
	configWebhookSecret string
	configGitHubShow    bool
	configGitHubClear   bool
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configGitHubCmd)

	configGitHubCmd.Flags().StringVar(&configClientID, "client-id", "", "OAuth app client ID")
	configGitHubCmd.Flags().StringVar(&configClientSecret, "client-secret", "", "OAuth app client secret (use stdin for security)")
	configGitHubCmd.Flags().StringVar(&configWebhookSecret, "webhook-secret", "", "Webhook HMAC secret")
	configGitHubCmd.Flags().BoolVar(&configGitHubShow, "show", false, "Show current configuration")
	configGitHubCmd.Flags().BoolVar(&configGitHubClear, "clear", false, "Clear GitHub configuration")
}

func runConfigGitHub(cmd *cobra.Command, args []string) error {
	if configGitHubShow {
		return showGitHubConfig()
	}
	if configGitHubClear {
		return clearGitHubConfig()
	}

	// If flags provided, use non-interactive mode
	if configClientID != "" || configClientSecret != "" || configWebhookSecret != "" {
		return configureGitHubNonInteractive()
	}

	return configureGitHubInteractive()
}

func showGitHubConfig() error {
	clientID, _ := db.GetConfig(models.ConfigGitHubClientID)

	secretSet := false
	if _, err := keyring.Get(models.KeyringService, models.KeyringClientSecret); err == nil {
		secretSet = true
	}
	webhookSet := false
	if _, err := keyring.Get(models.KeyringService, models.KeyringWebhookSecret); err == nil {
		webhookSet = true
	}

	if IsJSONOutput() {
		OutputJSON(map[string]interface{}{
			"client_id":          clientID,
			"client_secret_set":  secretSet,
			"webhook_secret_set": webhookSet,
		})
		return nil
	}

	fmt.Println("GitHub Configuration:")
	if clientID != "" {
		fmt.Printf("  Client ID:      %s\n", clientID)
	} else {
		fmt.Println("  Client ID:      (not configured)")
	}
	if secretSet {
		fmt.Println("  Client Secret:  (stored in system keyring)")
	} else {
		fmt.Println("  Client Secret:  (not configured)")
	}
	if webhookSet {
		fmt.Println("  Webhook Secret: (stored in system keyring)")
	} else {
		fmt.Println("  Webhook Secret: (not configured)")
	}

	return nil
}

func clearGitHubConfig() error {
	db.GetDB().Where("key = ?", models.ConfigGitHubClientID).Delete(&models.Config{})

	keyring.Delete(models.KeyringService, models.KeyringClientSecret)
	keyring.Delete(models.KeyringService, models.KeyringWebhookSecret)

	if IsJSONOutput() {
		OutputJSON(map[string]interface{}{"success": true, "message": "GitHub configuration cleared"})
	} else {
		fmt.Println("GitHub configuration cleared")
	}
	return nil
}

func configureGitHubNonInteractive() error {
	if configClientID != "" {
		if err := db.SetConfig(models.ConfigGitHubClientID, configClientID); err != nil {
			return fmt.Errorf("failed to save client ID: %w", err)
		}
	}
	if configClientSecret != "" {
		if err := keyring.Set(models.KeyringService, models.KeyringClientSecret, configClientSecret); err != nil {
			return fmt.Errorf("failed to store client secret in keyring: %w", err)
		}
	}
	if configWebhookSecret != "" {
		if err := keyring.Set(models.KeyringService, models.KeyringWebhookSecret, configWebhookSecret); err != nil {
			return fmt.Errorf("failed to store webhook secret in keyring: %w", err)
		}
	}

	if IsJSONOutput() {
		OutputJSON(map[string]interface{}{"success": true, "message": "GitHub configuration updated"})
	} else {
		fmt.Println("GitHub configuration updated")
	}
	return nil
}

func configureGitHubInteractive() error {
	reader := bufio.NewReader(os.Stdin)

	currentClientID, _ := db.GetConfig(models.ConfigGitHubClientID)

	fmt.Println("GitHub OAuth Setup")
	fmt.Println("==================")
	fmt.Println()

	if currentClientID != "" {
		fmt.Printf("Client ID [%s]: ", currentClientID)
	} else {
		fmt.Print("Client ID: ")
	}
	clientIDInput, _ := reader.ReadString('\n')
	clientIDInput = strings.TrimSpace(clientIDInput)
	if clientIDInput == "" {
		clientIDInput = currentClientID
	}
	if clientIDInput == "" {
		return fmt.Errorf("client ID is required")
	}

	fmt.Print("Client secret (input hidden, paste and press Enter): ")
	secretInput, _ := reader.ReadString('\n')
	secretInput = strings.TrimSpace(secretInput)
	if secretInput == "" {
		if _, err := keyring.Get(models.KeyringService, models.KeyringClientSecret); err != nil {
			return fmt.Errorf("client secret is required")
		}
		fmt.Println("(keeping existing client secret)")
	} else {
		if err := keyring.Set(models.KeyringService, models.KeyringClientSecret, secretInput); err != nil {
			return fmt.Errorf("failed to store client secret in keyring: %w", err)
		}
		fmt.Println("(client secret stored in system keyring)")
	}

	fmt.Print("Webhook secret (paste and press Enter): ")
	webhookInput, _ := reader.ReadString('\n')
	webhookInput = strings.TrimSpace(webhookInput)
	if webhookInput == "" {
		if _, err := keyring.Get(models.KeyringService, models.KeyringWebhookSecret); err != nil {
			return fmt.Errorf("webhook secret is required")
		}
		fmt.Println("(keeping existing webhook secret)")
	} else {
		if err := keyring.Set(models.KeyringService, models.KeyringWebhookSecret, webhookInput); err != nil {
			return fmt.Errorf("failed to store webhook secret in keyring: %w", err)
		}
		fmt.Println("(webhook secret stored in system keyring)")
	}

	if err := db.SetConfig(models.ConfigGitHubClientID, clientIDInput); err != nil {
		return fmt.Errorf("failed to save client ID: %w", err)
	}

	fmt.Println()
	fmt.Println("GitHub integration configured successfully!")
	fmt.Printf("  Client ID: %s\n", clientIDInput)

	return nil
}

// GetOAuthCredentials retrieves the OAuth app client ID and secret.
// Environment variables take precedence over stored configuration so
// the server can run without a keyring.
func GetOAuthCredentials() (clientID, clientSecret string, err error) {
	clientID = os.Getenv("TBR_GITHUB_CLIENT_ID")
	if clientID == "" {
		clientID, _ = db.GetConfig(models.ConfigGitHubClientID)
	}
	if clientID == "" {
		return "", "", fmt.Errorf("OAuth client ID not found. Run 'tbr config github' or set TBR_GITHUB_CLIENT_ID")
	}

	clientSecret = os.Getenv("TBR_GITHUB_CLIENT_SECRET")
	if clientSecret == "" {
		clientSecret, _ = keyring.Get(models.KeyringService, models.KeyringClientSecret)
	}
	if clientSecret == "" {
		return "", "", fmt.Errorf("OAuth client secret not found. Run 'tbr config github' or set TBR_GITHUB_CLIENT_SECRET")
	}

	return clientID, clientSecret, nil
}

// GetWebhookSecret retrieves the webhook HMAC secret from the
// environment or keyring.
func GetWebhookSecret() ([]byte, error) {
	if secret := os.Getenv("TBR_WEBHOOK_SECRET"); secret != "" {
		return []byte(secret), nil
	}
	secret, err := keyring.Get(models.KeyringService, models.KeyringWebhookSecret)
	if err != nil {
		return nil, fmt.Errorf("webhook secret not found. Run 'tbr config github' or set TBR_WEBHOOK_SECRET")
	}
	return []byte(secret), nil
}

// GetTokenCipher loads the cipher protecting stored access tokens.
// The key comes from TBR_TOKEN_KEY (hex) or the system keyring; a
// missing keyring entry is generated on first use.
func GetTokenCipher() (*secrets.Cipher, error) {
	if encoded := os.Getenv("TBR_TOKEN_KEY"); encoded != "" {
		key, err := secrets.DecodeKey(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid TBR_TOKEN_KEY: %w", err)
		}
		return secrets.NewCipher(key)
	}

	encoded, err := keyring.Get(models.KeyringService, models.KeyringTokenKey)
	if err != nil {
		encoded, err = secrets.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate token key: %w", err)
		}
		if err := keyring.Set(models.KeyringService, models.KeyringTokenKey, encoded); err != nil {
			return nil, fmt.Errorf("failed to store token key in keyring: %w", err)
		}
	}
	key, err := secrets.DecodeKey(encoded)
	if err != nil {
		return nil, fmt.Errorf("stored token key is corrupt: %w", err)
	}
	return secrets.NewCipher(key)
}

// GetGitHubToken retrieves a personal access token for direct API
// access, used by 'tbr connect' when no OAuth flow is involved.
func GetGitHubToken() (string, error) {
	if token := os.Getenv("TBR_GITHUB_TOKEN"); token != "" {
		return token, nil
	}
	return "", fmt.Errorf("GitHub token not found. Set TBR_GITHUB_TOKEN or use the OAuth flow via 'tbr serve'")
}
