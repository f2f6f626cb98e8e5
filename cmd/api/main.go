package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/joho/godotenv/autoload"

	"chipcall-server/internal/server"
)

type CLI struct {
	Config   string `help:"Path to HCL config file." default:"config.hcl"`
	Addr     string `help:"Override listen address (host:port)."`
	LogLevel string `help:"Override log level (debug, info, warn, error)."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("chipcall-server"),
		kong.Description("Cooperative hand-ranking card game server."),
	)

	if err := run(cli); err != nil {
		kctx.FatalIfErrorf(err)
	}
}

func run(cli CLI) error {
	config, err := server.LoadServerConfig(cli.Config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cli.LogLevel != "" {
		config.Server.LogLevel = cli.LogLevel
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	level, err := log.ParseLevel(config.Server.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", config.Server.LogLevel, err)
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{
		Level:           level,
		ReportTimestamp: true,
		Prefix:          "chipcall",
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, config.Server.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to create database pool: %w", err)
	}
	defer pool.Close()

	store := server.NewPersistenceManager(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	srv := server.NewServer(config, store, logger, quartz.NewReal())
	if err := srv.LoadPersistedState(ctx); err != nil {
		return fmt.Errorf("failed to restore persisted state: %w", err)
	}
	srv.StartBackgroundTasks(ctx)

	addr := config.ListenAddress()
	if cli.Addr != "" {
		addr = cli.Addr
	}
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	// Give in-flight saves and the shutdown notices a bounded window.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	srv.Shutdown(shutdownCtx)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown failed: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
