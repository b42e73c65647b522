// Command luftonline is meant to run once a day. It archives the current
// month from the portal (and the previous month on the 1st), then
// consolidates both into per-station tables.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rewired-gh/luftonline/internal/config"
	"github.com/rewired-gh/luftonline/internal/logger"
	"github.com/rewired-gh/luftonline/internal/models"
	"github.com/rewired-gh/luftonline/internal/pipeline"
	"github.com/rewired-gh/luftonline/internal/portal"
	"github.com/rewired-gh/luftonline/internal/storage"
	"github.com/rewired-gh/luftonline/internal/telegram"
)

func main() {
	os.Exit(run(os.Args[1:], time.Now()))
}

// run returns the exit code so deferred cleanup happens before exiting
func run(args []string, now time.Time) int {
	fs := flag.NewFlagSet("luftonline", flag.ContinueOnError)
	configPath := fs.String("config", "configs/config.yaml", "Path to configuration file")
	dataDir := fs.String("data-dir", "", "Directory that contains all data (overrides paths.data_dir)")
	baseDir := fs.String("base-dir", "", "No files outside of this directory may be written (overrides paths.base_dir)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 1
	}
	if *dataDir != "" {
		cfg.Paths.DataDir = *dataDir
	}
	if *baseDir != "" {
		cfg.Paths.BaseDir = *baseDir
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Printf("Invalid configuration: %v", err)
		return 1
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	if cfg.Logging.File != "" {
		closeLog, err := logger.OpenFile(cfg.Logging.File)
		if err != nil {
			logger.Error("Failed to open log file: %v", err)
			return 1
		}
		defer func() { _ = closeLog() }()
	}
	logger.Info("Configuration loaded from %s", *configPath)

	// Initialize the run ledger
	var ledger pipeline.Ledger
	if cfg.Storage.Enabled {
		store, err := storage.New(cfg.Storage.DBPath)
		if err != nil {
			logger.Error("Failed to initialize storage: %v", err)
			return 1
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error("Failed to close storage: %v", err)
			}
		}()
		ledger = store
	}

	// Initialize Telegram client
	var notifier pipeline.Notifier
	if cfg.Telegram.Enabled {
		telegramClient, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Error("Failed to initialize Telegram client: %v", err)
			return 1
		}
		notifier = telegramClient
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			logger.Info("Shutdown signal received, cleaning up...")
			cancel()
		case <-ctx.Done():
		}
	}()

	session := portal.NewClient(cfg.Portal.URL, cfg.Portal.Timeout, portal.ClientConfig{
		UserAgent: cfg.Portal.UserAgent,
	})
	p := pipeline.New(session, storage.NewFileWriter(cfg.Paths.BaseDir), ledger, notifier, pipeline.OptionsFromConfig(cfg))

	periods := models.DailyPeriods(now)
	logger.Info("Scheduled run for %v (data: %s)", periods, cfg.Paths.DataDir)

	if _, err := p.Run(ctx, periods, true); err != nil {
		logger.Error("Run failed: %v", err)
		return 1
	}
	return 0
}
