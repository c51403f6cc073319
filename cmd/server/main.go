// inknote server - session-authenticated personal notes over HTTP.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/inknote/inknote/internal/auth"
	"github.com/inknote/inknote/internal/config"
	"github.com/inknote/inknote/internal/db"
	"github.com/inknote/inknote/internal/notes"
	"github.com/inknote/inknote/internal/obs"
	"github.com/inknote/inknote/internal/ratelimit"
	"github.com/inknote/inknote/internal/web"
)

const (
	shutdownTimeout        = 10 * time.Second
	sessionCleanupInterval = time.Hour
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	addr, dbPath := config.ParseFlags()
	cfg := config.MustLoadConfig(addr, dbPath)

	obs.Init(cfg.LogFormat)
	cfg.PrintStartupSummary()

	if err := run(cfg); err != nil {
		obs.Pkg("server").Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	log := obs.Pkg("server")

	database, err := db.Open(cfg.DatabasePath, cfg.MasterKey)
	if err != nil {
		return err
	}
	defer database.Close()

	users := auth.NewUserService(database)
	sessions := auth.NewSessionService(database, cfg.SessionDuration)
	store := notes.NewStore(database)

	renderer, err := web.NewRenderer()
	if err != nil {
		return err
	}

	authMW := auth.NewMiddleware(sessions, users)
	limiter := ratelimit.NewLimiter(cfg.RateLimitConfig)
	defer limiter.Stop()

	mux := http.NewServeMux()
	handler := web.NewHandler(renderer, store, users, sessions, cfg.RequireSecureCookies())
	handler.RegisterRoutes(mux, authMW, limiter)

	root := obs.RequestContextMiddleware(obs.AccessLogMiddleware("web", mux))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go cleanupSessions(ctx, sessions)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.ListenAddr, "base_url", cfg.BaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// cleanupSessions periodically removes expired sessions until ctx is done.
func cleanupSessions(ctx context.Context, sessions *auth.SessionService) {
	ticker := time.NewTicker(sessionCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sessions.Cleanup(ctx); err != nil {
				obs.Pkg("server").Warn("session cleanup failed", "error", err)
			}
		}
	}
}
