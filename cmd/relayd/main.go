package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/relayd-dev/relayd/internal/adapter/echo"
	rdhttp "github.com/relayd-dev/relayd/internal/adapter/http"
	rdotel "github.com/relayd-dev/relayd/internal/adapter/otel"
	"github.com/relayd-dev/relayd/internal/adapter/ristretto"
	"github.com/relayd-dev/relayd/internal/adapter/sqlite"
	"github.com/relayd-dev/relayd/internal/adapter/ws"
	"github.com/relayd-dev/relayd/internal/config"
	"github.com/relayd-dev/relayd/internal/discovery"
	"github.com/relayd-dev/relayd/internal/logger"
	"github.com/relayd-dev/relayd/internal/middleware"
	"github.com/relayd-dev/relayd/internal/port/agentworker"
	"github.com/relayd-dev/relayd/internal/service"
)

const snapshotCacheBytes = 64 << 20 // 64 MB

func main() {
	if err := run(); err != nil {
		var running *discovery.AlreadyRunningError
		if errors.As(err, &running) {
			slog.Info("daemon already running, attach instead", "host", running.Host, "port", running.Port, "pid", running.PID)
			return
		}
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"worker", cfg.Worker.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	otelShutdown, err := rdotel.Setup(ctx, cfg.Telemetry, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Error("otel shutdown", "error", err)
		}
	}()

	metrics, err := rdotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Discovery ---
	statePath, err := discovery.StatePath(cfg.Server.StateDir)
	if err != nil {
		return fmt.Errorf("state path: %w", err)
	}

	ln, port, err := discovery.Listen(ctx, statePath, cfg.Server.Host, cfg.Server.Port, cfg.Server.PortScanRange)
	if err != nil {
		return err
	}
	defer ln.Close()

	// --- Storage ---
	dbPath := cfg.Store.Path
	if dbPath == "" {
		dbPath = filepath.Join(filepath.Dir(statePath), "relayd.db")
	}
	db, err := sqlite.Open(dbPath)
	if err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	if err := sqlite.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return fmt.Errorf("migrations: %w", err)
	}
	store := sqlite.NewStore(db)
	defer store.Close()
	slog.Info("event log opened", "path", dbPath)

	snaps, err := ristretto.New(snapshotCacheBytes)
	if err != nil {
		return fmt.Errorf("snapshot cache: %w", err)
	}
	defer snaps.Close()

	// --- Worker ---
	worker, err := newWorker(cfg.Worker.Backend)
	if err != nil {
		return err
	}

	// --- Session manager ---
	mgr := service.NewManager(store, worker, snaps, metrics, cfg, log)

	// --- State file ---
	token, err := discovery.GenerateToken()
	if err != nil {
		return err
	}
	if err := discovery.WriteStateFile(statePath, &discovery.StateFile{
		PID:       os.Getpid(),
		Host:      cfg.Server.Host,
		Port:      port,
		Token:     token,
		StartedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}
	defer func() {
		if err := discovery.RemoveStateFile(statePath, os.Getpid()); err != nil {
			slog.Error("remove state file", "error", err)
		}
	}()
	slog.Info("state file written", "path", statePath, "port", port)

	// --- HTTP ---
	handlers := rdhttp.NewHandlers(mgr, cfg.Session)
	wsHandler := ws.NewHandler(mgr)

	r := chi.NewRouter()
	r.Use(rdhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(rdhttp.Logger)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(rdotel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(middleware.Auth(token))

	rdhttp.MountRoutes(r, handlers, wsHandler.Serve)

	srv := &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// WriteTimeout stays zero: SSE and WebSocket attachments are
		// long-lived by design.
		IdleTimeout: 120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting server", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return mgr.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		mgr.Shutdown(shutdownCtx)
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newWorker resolves the configured agent worker backend.
func newWorker(backend string) (agentworker.Worker, error) {
	switch backend {
	case "echo":
		return echo.New(20 * time.Millisecond), nil
	default:
		return nil, fmt.Errorf("unknown worker backend %q", backend)
	}
}
