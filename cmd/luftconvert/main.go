// Command luftconvert builds per-station tables from portal exports.
//
// Call it with -file FILE for a file downloaded manually from the portal
// (several exports may be concatenated in it), or with -data-dir DIR for a
// directory of archived exports such as data/raw/2016/09.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/rewired-gh/luftonline/internal/config"
	"github.com/rewired-gh/luftonline/internal/logger"
	"github.com/rewired-gh/luftonline/internal/models"
	"github.com/rewired-gh/luftonline/internal/pipeline"
	"github.com/rewired-gh/luftonline/internal/storage"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("luftconvert", flag.ContinueOnError)
	configPath := fs.String("config", "configs/config.yaml", "Path to configuration file")
	file := fs.String("file", "", "CSV file to read data from")
	dataDir := fs.String("data-dir", "", "Directory of exports to read data from")
	outDir := fs.String("out-dir", "data", "Directory to save consolidated files to")
	baseDir := fs.String("base-dir", "", "No files outside of this directory may be written (overrides paths.base_dir)")
	separator := fs.String("separator", "", "Separator for the output csv (overrides convert.separator)")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: luftconvert -file FILE.csv | -data-dir DIR [options]\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *file == "" && *dataDir == "" {
		fs.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 1
	}
	if *baseDir != "" {
		cfg.Paths.BaseDir = *baseDir
	}
	if *separator != "" {
		cfg.Convert.Separator = *separator
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("Invalid configuration: %v", err)
		return 1
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)

	writer := storage.NewFileWriter(cfg.Paths.BaseDir)
	sep := config.SeparatorRune(cfg.Convert.Separator)

	var res *models.ConversionResult
	if *file != "" {
		res, err = pipeline.ConvertBlob(*file, *outDir, writer, sep)
	} else {
		res, err = pipeline.ConvertDir(*dataDir, *outDir, writer, sep)
	}
	if err != nil {
		logger.Error("Conversion failed: %v", err)
		return 1
	}

	logger.Info("Converted %d files into %d station tables in %s", res.FilesRead, res.FilesWritten, res.OutputDir)
	if res.FilesSkipped > 0 {
		logger.Warn("%d stations were skipped because their path left %s", res.FilesSkipped, cfg.Paths.BaseDir)
	}
	return 0
}
