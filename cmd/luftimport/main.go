// Command luftimport archives portal exports for a range of months.
//
// Without -date it fetches September 2016 as a smoke test. Exports are
// written to <data_dir>/raw/<YYYY>/<MM>/<station>,<substance>.csv.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rewired-gh/luftonline/internal/config"
	"github.com/rewired-gh/luftonline/internal/logger"
	"github.com/rewired-gh/luftonline/internal/models"
	"github.com/rewired-gh/luftonline/internal/pipeline"
	"github.com/rewired-gh/luftonline/internal/portal"
	"github.com/rewired-gh/luftonline/internal/storage"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the exit code so deferred cleanup happens before exiting
func run(args []string) int {
	fs := flag.NewFlagSet("luftimport", flag.ContinueOnError)
	configPath := fs.String("config", "configs/config.yaml", "Path to configuration file")
	date := fs.String("date", "09-2016", "First month to download, MM-YYYY")
	endDate := fs.String("end-date", "", "Last month to download, MM-YYYY (included); defaults to -date")
	dataDir := fs.String("data-dir", "", "Directory that contains all data (overrides paths.data_dir)")
	separator := fs.String("separator", "", "Separator for normalized exports (overrides import.separator)")
	normalize := fs.Bool("normalize", false, "Rewrite exports with period decimals and -separator before archiving")
	convert := fs.Bool("convert", false, "Consolidate every downloaded month afterwards")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 1
	}
	if *dataDir != "" {
		cfg.Paths.DataDir = *dataDir
	}
	if *separator != "" {
		cfg.Import.Separator = *separator
	}
	if *normalize {
		cfg.Import.Normalize = true
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("Invalid configuration: %v", err)
		return 1
	}

	start, err := models.ParsePeriod(*date)
	if err != nil {
		log.Printf("Invalid -date: %v", err)
		return 2
	}
	end := start
	if *endDate != "" {
		end, err = models.ParsePeriod(*endDate)
		if err != nil {
			log.Printf("Invalid -end-date: %v", err)
			return 2
		}
	}
	periods := models.PeriodRange(start, end)
	if len(periods) == 0 {
		log.Printf("-end-date %s is before -date %s", end, start)
		return 2
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session := portal.NewClient(cfg.Portal.URL, cfg.Portal.Timeout, portal.ClientConfig{
		UserAgent: cfg.Portal.UserAgent,
	})
	p := pipeline.New(session, storage.NewFileWriter(cfg.Paths.BaseDir), ledger, nil, pipeline.OptionsFromConfig(cfg))

	logger.Info("Importing %s to %s into %s", start, end, cfg.RawDir())
	summary, err := p.Run(ctx, periods, *convert)
	if err != nil {
		logger.Error("Import failed: %v", err)
		return 1
	}
	if summary.Failed() {
		logger.Warn("%d exports failed, see the .err files", summary.Exports[models.ExportError])
	}
	return 0
}
