package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"hookgate/internal/api"
	"hookgate/internal/config"
	"hookgate/internal/dispatch"
	"hookgate/internal/doctor"
	"hookgate/internal/events"
	"hookgate/internal/lock"
	"hookgate/internal/log"
	"hookgate/internal/queue"
	"hookgate/internal/storage"
	"hookgate/internal/webhook"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "start":
		os.Exit(runStart(args))
	case "check":
		os.Exit(runCheck(args))
	case "lock":
		os.Exit(runLock(args))
	case "version":
		fmt.Printf("hookgate version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`hookgate - GitHub webhook gateway with signed-delivery verification

Usage:
  hookgate <command> [flags]

Commands:
  start     Start the gateway service in foreground
  check     Validate configuration, integrity, and run diagnostics
  lock      Authorize current config state (update integrity hashes)
  version   Print version

Flags:
  --config <path>   Path to configuration file (default: ./hookgate.yaml)

The webhook shared secret is read at startup from the environment
variable named by webhook.secret_env (default GITHUB_WEBHOOK_SECRET).
The process refuses to start without it.
`)
}

func configFlag(name string, args []string) (string, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "./hookgate.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	return *configPath, nil
}

func runStart(args []string) int {
	configPath, err := configFlag("start", args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	// Fail fast: a missing webhook secret aborts here, before any
	// listener is bound.
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("hookgate starting", "version", version, "config", configPath)

	if warning, err := config.VerifyIntegrity(configPath); err != nil {
		logger.Error("config integrity verification failed", "error", err)
		return 1
	} else if warning != "" {
		logger.Warn(warning)
	}

	// One gateway per store: a second instance writing the same sqlite
	// file corrupts the delivery queue.
	lockPath := storeLockPath(cfg.Store.Path)
	guard, err := lock.Acquire(lockPath)
	if err != nil {
		logger.Error("failed to acquire instance lock (another hookgate may be running)", "path", lockPath, "error", err)
		return 1
	}
	defer guard.Release()
	logger.Info("acquired instance lock", "path", lockPath)

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.Store.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.Store.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.Store.Path)

	q := queue.New(db, cfg.Dispatch.DedupeWindow)
	hub := events.NewHub(256)

	disp := dispatch.New(q, hub, dispatch.Config{
		Workers:      cfg.Dispatch.Workers,
		PollInterval: cfg.Dispatch.PollInterval,
		BackoffBase:  cfg.Dispatch.BackoffBase,
	})
	disp.RegisterDefault(dispatch.HandlerFunc(logDelivery))

	webhookCfg, err := webhook.FromGlobalConfig(&cfg.Webhook)
	if err != nil {
		logger.Error("invalid webhook configuration", "error", err)
		return 1
	}
	webhookCfg.MaxAttempts = cfg.Dispatch.MaxAttempts
	webhookSrv := webhook.New(webhookCfg, q, hub, log.WithComponent("webhook"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 3)

	go func() {
		if err := disp.Start(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("dispatcher: %w", err)
		}
	}()

	go func() {
		if err := webhookSrv.Start(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("webhook server: %w", err)
		}
	}()

	if cfg.API.Enabled {
		apiSrv := api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.APIKey,
		}, q, hub, log.WithComponent("api"))
		go func() {
			if err := apiSrv.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api server: %w", err)
			}
		}()
	}

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
		cancel()
		return 0
	case err := <-errCh:
		logger.Error("fatal error", "error", err)
		cancel()
		return 1
	}
}

// logDelivery is the fallback application handler: it acknowledges the
// delivery and leaves a trace in the log. Real consumers register their
// own handlers per event type.
func logDelivery(_ context.Context, d queue.Delivery) error {
	log.WithDelivery(d.ID).Info("delivery received",
		"event", d.Event,
		"github_delivery_id", d.GitHubDeliveryID,
		"bytes", len(d.Payload),
	)
	return nil
}

func runCheck(args []string) int {
	configPath, err := configFlag("check", args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config check failed: %v\n", err)
		return 1
	}

	warning, err := config.VerifyIntegrity(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Integrity check failed: %v\n", err)
		return 1
	}
	if warning != "" {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
	}

	result := doctor.New(cfg).Validate()
	for _, issue := range result.Errors {
		fmt.Fprintf(os.Stderr, "Error [%s] %s: %s\n", issue.Category, issue.Field, issue.Message)
	}
	for _, issue := range result.Warnings {
		fmt.Fprintf(os.Stderr, "Warning [%s] %s: %s\n", issue.Category, issue.Field, issue.Message)
	}
	if !result.Valid {
		fmt.Fprintf(os.Stderr, "Config check failed: %d error(s)\n", len(result.Errors))
		return 1
	}

	fmt.Println("Config OK")
	return 0
}

// storeLockPath derives the instance lock path from the sqlite store
// path, e.g. ./data/hookgate.db -> ./data/hookgate.pid.
func storeLockPath(dbPath string) string {
	base := filepath.Base(dbPath)
	ext := filepath.Ext(base)
	return filepath.Join(filepath.Dir(dbPath), base[:len(base)-len(ext)]+".pid")
}

func runLock(args []string) int {
	configPath, err := configFlag("lock", args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	if err := config.Lock(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write checksums: %v\n", err)
		return 1
	}

	fmt.Println("Config locked")
	return 0
}
