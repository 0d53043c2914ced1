package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/frahmantamala/rental-management/internal/approval"
	"github.com/frahmantamala/rental-management/internal/auth"
	"github.com/frahmantamala/rental-management/internal/core/events"
	"github.com/frahmantamala/rental-management/internal/mutation"
	"github.com/frahmantamala/rental-management/internal/reconciliation"
	"github.com/frahmantamala/rental-management/internal/transport/rest"
	"github.com/go-chi/chi"
	"github.com/spf13/cobra"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

func startHTTPServer() {
	cfg, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	app, err := buildApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	router, err := setupRoutes(app)
	if err != nil {
		app.Logger.Error("failed to set up routes", "error", err)
		app.Close(context.Background())
		os.Exit(1)
	}

	events.RegisterLogSubscribers(app.Bus, app.Logger)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	slog.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		app.Close(ctx)
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed to start", "error", err)
			app.Close(context.Background())
			os.Exit(1)
		}
	}

	slog.Info("Server stopped")
}

func setupRoutes(app *App) (*chi.Mux, error) {
	cfg := app.Config

	spec, err := rest.LoadOpenAPISpec(context.Background(), cfg.Server.OpenAPIPath)
	if err != nil {
		return nil, err
	}

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, app.SQL.DB, rest.Handlers{
		Auth:           auth.NewHandler(app.Auth),
		Approval:       approval.NewHandler(app.Approvals),
		Mutation:       mutation.NewHandler(app.Mutations, cfg.Storage.MaxUploadBytes),
		Reconciliation: reconciliation.NewHandler(app.Reconciliation),
	}, rest.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		OpenAPI:        spec,
		Uploads:        app.Files.FileSystem(),
		UploadsPrefix:  uploadsPrefix(cfg.Storage.PublicURL),
		HealthChecks:   map[string]rest.CheckFunc{"storage": app.Files.Ping},
	}, app.Logger)

	return router, nil
}

// uploadsPrefix is the path blobs are served under when the public URL points
// back at this server. An absolute URL means another host serves them.
func uploadsPrefix(publicURL string) string {
	u, err := url.Parse(publicURL)
	if err != nil || u.Host != "" {
		return ""
	}
	return strings.TrimRight(u.Path, "/")
}
