// ABOUTME: Gateway orchestrator wiring the store, guards and coordinator to HTTP
// ABOUTME: Manages server lifecycle, route registration and graceful shutdown

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/deepbot/deepbot-gateway/internal/auth"
	"github.com/deepbot/deepbot-gateway/internal/config"
	"github.com/deepbot/deepbot-gateway/internal/dialog"
	"github.com/deepbot/deepbot-gateway/internal/identity"
	"github.com/deepbot/deepbot-gateway/internal/store"
)

// Gateway orchestrates the deepbot-gateway server components: the SQLite
// store, the dialog guards and coordinator, and the HTTP API server.
type Gateway struct {
	config      *config.Config
	store       store.Store
	coordinator *dialog.Coordinator
	quota       *dialog.QuotaGuard
	ownership   *dialog.OwnershipGuard
	gate        identity.Gate
	sessions    *auth.JWTVerifier
	httpServer  *http.Server
	logger      *slog.Logger
}

// initStore creates a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("DEEPBOT_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	sessions, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating session verifier: %w", err)
	}

	gate, err := identity.NewSignedCredentialGate([]byte(cfg.Auth.IdentitySecret))
	if err != nil {
		return nil, fmt.Errorf("creating identity gate: %w", err)
	}

	ownership := dialog.NewOwnershipGuard(s)
	coordinator := dialog.NewCoordinator(s, ownership,
		cfg.Worker.PollInterval, cfg.Worker.ReplyTimeout,
		logger)

	g := &Gateway{
		config:      cfg,
		store:       s,
		coordinator: coordinator,
		quota:       dialog.NewQuotaGuard(s),
		ownership:   ownership,
		gate:        gate,
		sessions:    sessions,
		logger:      logger.With("component", "gateway"),
	}

	g.httpServer = &http.Server{
		Handler:           g.buildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// buildMux registers all HTTP routes with their middleware.
func (g *Gateway) buildMux() *http.ServeMux {
	mux := http.NewServeMux()

	session := auth.Middleware(g.sessions)
	worker := auth.RequireKey("X-Worker-Key", g.config.Auth.WorkerKey)

	mux.HandleFunc("/api/auth/login", g.handleLogin)
	mux.Handle("/api/me", session(http.HandlerFunc(g.handleMe)))
	mux.Handle("/api/dialogs", session(http.HandlerFunc(g.handleDialogs)))
	mux.Handle("/api/dialogs/", session(http.HandlerFunc(g.handleDialogRoutes)))
	mux.Handle("/api/send", session(http.HandlerFunc(g.handleSend)))
	mux.Handle("/api/worker/messages", worker(http.HandlerFunc(g.handleWorkerMessages)))
	mux.Handle("/api/worker/reply", worker(http.HandlerFunc(g.handleWorkerReply)))

	if g.config.Auth.HealthKey != "" {
		health := auth.RequireKey("X-Health-Key", g.config.Auth.HealthKey)
		mux.Handle("/health", health(http.HandlerFunc(g.handleHealth)))
	} else {
		mux.HandleFunc("/health", g.handleHealth)
	}

	return mux
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server and closes the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
