package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattjoyce/hookd/internal/api"
	"github.com/mattjoyce/hookd/internal/config"
	"github.com/mattjoyce/hookd/internal/dispatch"
	"github.com/mattjoyce/hookd/internal/events"
	"github.com/mattjoyce/hookd/internal/lock"
	"github.com/mattjoyce/hookd/internal/locator"
	"github.com/mattjoyce/hookd/internal/log"
	"github.com/mattjoyce/hookd/internal/reconcile"
	"github.com/mattjoyce/hookd/internal/runner"
	"github.com/mattjoyce/hookd/internal/storage"
	"github.com/mattjoyce/hookd/internal/store"
	"github.com/mattjoyce/hookd/internal/webhook"
)

// stack is the wired set of components every command that touches hooks
// needs. Several processes may open the same database at once.
type stack struct {
	cfg     *config.Config
	db      *sql.DB
	store   *store.Store
	locks   *lock.Manager
	locator *locator.FS
	runner  *runner.Runner
}

func openStack(ctx context.Context, cfg *config.Config) (*stack, error) {
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.State.Path, err)
	}

	st := store.New(db)
	locks, err := lock.NewManager(st, cfg.Service.MaxAllowedScriptDuration)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &stack{
		cfg:     cfg,
		db:      db,
		store:   st,
		locks:   locks,
		locator: locator.NewFS(cfg.HookPaths),
		runner:  runner.New(locks, st, reconcile.New(st)),
	}, nil
}

func (s *stack) dispatcher(opts ...dispatch.Option) *dispatch.Dispatcher {
	opts = append([]dispatch.Option{dispatch.WithConcurrency(s.cfg.Service.MaxConcurrentRuns)}, opts...)
	return dispatch.New(s.store, s.locator, s.runner, opts...)
}

func (s *stack) Close() error {
	return s.db.Close()
}

// loadConfig resolves and loads the configuration. An empty path triggers
// discovery.
func loadConfig(configPath string) (*config.Config, string, error) {
	if configPath == "" {
		discovered, err := config.DiscoverConfigDir()
		if err != nil {
			return nil, "", fmt.Errorf("discover config: %w", err)
		}
		configPath = discovered
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, err
	}
	return cfg, configPath, nil
}

// openToolStack loads config and opens the stack for a one-shot command.
// Logs go to stderr so stdout stays parseable.
func openToolStack(ctx context.Context, configPath string) (*stack, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	log.SetupStderr(cfg.Service.LogLevel, cfg.Service.LogFormat)
	return openStack(ctx, cfg)
}

// --- ACTION IMPLEMENTATIONS ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, resolved, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *configPath == "" {
		fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", resolved)
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("hookd starting", "version", version, "config", resolved, "name", cfg.Service.Name)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := openStack(ctx, cfg)
	if err != nil {
		logger.Error("failed to open state", "error", err)
		return 1
	}
	defer s.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	for _, problem := range s.locator.Check() {
		logger.Warn("hook path unusable", "error", problem)
	}

	if reclaimed, err := s.locks.ReclaimAll(ctx); err != nil {
		logger.Error("initial stale lock sweep failed", "error", err)
	} else if len(reclaimed) > 0 {
		logger.Info("reclaimed stale locks at startup", "hooks", reclaimed)
	}

	var webhookConfig *webhook.Config
	if cfg.Webhooks != nil && len(cfg.Webhooks.Endpoints) > 0 {
		wc, err := webhook.FromGlobalConfig(cfg.Webhooks)
		if err != nil {
			logger.Error("failed to configure webhooks", "error", err)
			return 1
		}
		webhookConfig = &wc
	}

	hub := events.NewHub(256)
	disp := s.dispatcher(dispatch.WithPublisher(hub))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 3)
	done := make(chan struct{})
	running := 0

	if interval := cfg.Service.SweepInterval(); interval > 0 {
		running++
		go func() {
			defer func() { done <- struct{}{} }()
			if err := s.locks.Sweep(ctx, interval); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("sweeper: %w", err)
			}
		}()
	}

	if cfg.API.Enabled {
		apiConfig := api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.Auth.APIKey,
		}
		apiServer := api.New(apiConfig, disp, s.store, hub, log.WithComponent("api"))
		running++
		go func() {
			defer func() { done <- struct{}{} }()
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	if webhookConfig != nil {
		webhookServer := webhook.New(*webhookConfig, disp, log.WithComponent("webhook"))
		running++
		go func() {
			defer func() { done <- struct{}{} }()
			if err := webhookServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("webhook: %w", err)
			}
		}()
		logger.Info("webhook server enabled", "listen", webhookConfig.Listen, "endpoints", len(webhookConfig.Endpoints))
	}

	logger.Info("hookd running (press Ctrl+C to stop)")

	code := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		code = 1
	}
	cancel()
	// Wait for in-flight hook runs so their locks are released.
	for ; running > 0; running-- {
		<-done
	}

	logger.Info("hookd stopped")
	return code
}
