package cmd

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"taskbridge/internal/activity"
	"taskbridge/internal/db"
	"taskbridge/internal/githubapi"
	"taskbridge/internal/health"
	"taskbridge/internal/models"
	"taskbridge/internal/oauth"
	"taskbridge/internal/secrets"
	"taskbridge/internal/syncengine"
	"taskbridge/internal/taskrepo"
	"taskbridge/internal/webhook"
)

const (
	defaultListenAddr = ":8080"
	shutdownTimeout   = 10 * time.Second
)

var (
	serveAddr    string
	serveEnvFile string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook and OAuth server",
	Long: `Run the HTTP server that receives GitHub webhook deliveries and
hosts the OAuth authorization flow.

Endpoints:
  POST /webhook/{connection}   Signed webhook deliveries
  GET  /oauth/authorize        Start an authorization (redirects to GitHub)
  GET  /oauth/callback         OAuth callback; refreshes connection tokens
  GET  /healthz                Aggregate connection health

Configuration is read from the environment (optionally a .env file),
falling back to stored config and the system keyring. The server shuts
down gracefully on SIGINT or SIGTERM, draining in-flight webhook work.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config, else :8080)")
	serveCmd.Flags().StringVar(&serveEnvFile, "env-file", ".env", "Environment file to load")
}

func runServe(cmd *cobra.Command, args []string) error {
	// The .env file is optional.
	if err := godotenv.Load(serveEnvFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load %s: %w", serveEnvFile, err)
	}

	logger := newServerLogger()
	slog.SetDefault(logger)

	webhookSecret, err := GetWebhookSecret()
	if err != nil {
		return err
	}
	clientID, clientSecret, err := GetOAuthCredentials()
	if err != nil {
		return err
	}

	addr := serveAddr
	if addr == "" {
		addr, _ = db.GetConfig(models.ConfigWebhookListenAddr)
	}
	if addr == "" {
		addr = defaultListenAddr
	}

	cipher, err := GetTokenCipher()
	if err != nil {
		return err
	}

	database := db.GetDB()
	monitor := health.NewMonitor(database, logger)
	engine := syncengine.NewEngine(
		database,
		taskrepo.NewGormRepository(database),
		activity.NewPublisher(database, logger),
		monitor,
		logger,
	)
	engine.SetStatsProvider(githubapi.NewConnectionStats(cipher, logger))
	dispatcher := syncengine.NewDispatcher(0, 0)
	processor := webhook.NewProcessor(database, webhookSecret, engine, dispatcher, monitor, logger)
	broker := oauth.NewBroker(clientID, clientSecret, oauthStateKey(clientSecret), logger)

	mux := http.NewServeMux()
	mux.Handle("POST /webhook/{connection}", processor)
	mux.HandleFunc("GET /oauth/authorize", handleAuthorize(broker, logger))
	mux.HandleFunc("GET /oauth/callback", handleCallback(broker, cipher, logger))
	mux.HandleFunc("GET /healthz", handleHealthz(monitor))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	logger.Info("server listening", "addr", addr)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			dispatcher.Close()
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}

	// Drain queued webhook work before returning.
	dispatcher.Close()
	logger.Info("server stopped")
	return nil
}

// newServerLogger builds the process logger. TBR_LOG_LEVEL selects the
// level; TBR_LOG_FORMAT=json switches to JSON output.
func newServerLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("TBR_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(os.Getenv("TBR_LOG_FORMAT"), "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func handleAuthorize(broker *oauth.Broker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := uint(1)
		if raw := r.URL.Query().Get("project"); raw != "" {
			id, err := strconv.ParseUint(raw, 10, 32)
			if err != nil {
				http.Error(w, "invalid project id", http.StatusBadRequest)
				return
			}
			projectID = uint(id)
		}

		authURL, _, err := broker.StartAuthorization(projectID)
		if err != nil {
			logger.Error("authorization start failed", "project_id", projectID, "error", err)
			http.Error(w, "authorization unavailable", http.StatusInternalServerError)
			return
		}

		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// oauthStateKey derives the key signing OAuth state parameters from
// the client secret. Kept separate from the webhook HMAC secret so the
// two verification domains never share key material.
func oauthStateKey(clientSecret string) []byte {
	sum := sha256.Sum256([]byte("taskbridge/oauth-state:" + clientSecret))
	return sum[:]
}

func handleCallback(broker *oauth.Broker, cipher *secrets.Cipher, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		code := query.Get("code")
		state := query.Get("state")

		projectID, err := broker.ProjectID(state)
		if err != nil {
			http.Error(w, "invalid authorization state", http.StatusBadRequest)
			return
		}

		result, err := broker.HandleCallback(r.Context(), code, state)
		if err != nil {
			var stateErr *oauth.AuthStateError
			if errors.As(err, &stateErr) {
				http.Error(w, "invalid authorization state", http.StatusBadRequest)
				return
			}
			logger.Error("oauth callback failed", "project_id", projectID, "error", err)
			http.Error(w, "authorization failed", http.StatusBadGateway)
			return
		}

		// Refresh tokens on the project's live connections. New
		// connections pick up the token through 'tbr connect --token'.
		sealedToken, err := cipher.Seal(result.AccessToken)
		if err != nil {
			logger.Error("token sealing failed", "project_id", projectID, "error", err)
			http.Error(w, "authorization failed", http.StatusInternalServerError)
			return
		}
		updated := db.GetDB().Model(&models.Connection{}).
			Where("project_id = ? AND status != ?", projectID, models.ConnectionDisconnected).
			Update("access_token", sealedToken)
		if updated.Error != nil {
			logger.Error("token refresh failed", "project_id", projectID, "error", updated.Error)
			http.Error(w, "authorization failed", http.StatusInternalServerError)
			return
		}

		logger.Info("authorization completed",
			"project_id", projectID,
			"login", result.User.Login,
			"connections_updated", updated.RowsAffected)

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "Authorized as %s for project %d.\n", result.User.Login, projectID)
		if updated.RowsAffected > 0 {
			fmt.Fprintf(w, "%d connection(s) refreshed.\n", updated.RowsAffected)
		} else {
			fmt.Fprintln(w, "No connections yet. Run 'tbr connect <owner/repo>' to add one.")
		}
	}
}

func handleHealthz(monitor *health.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := monitor.AggregateStats()
		if err != nil {
			http.Error(w, "unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		OutputJSONTo(w, stats)
	}
}
