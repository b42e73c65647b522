package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Portal   PortalConfig   `mapstructure:"portal"`
	Import   ImportConfig   `mapstructure:"import"`
	Convert  ConvertConfig  `mapstructure:"convert"`
	Paths    PathsConfig    `mapstructure:"paths"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// PortalConfig holds the upstream form endpoint configuration
type PortalConfig struct {
	URL       string        `mapstructure:"url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// ImportConfig controls how raw exports are archived
type ImportConfig struct {
	Normalize bool   `mapstructure:"normalize"` // Rewrite exports before archiving
	Separator string `mapstructure:"separator"` // Field separator used when normalizing
}

// ConvertConfig controls consolidated output
type ConvertConfig struct {
	Separator string `mapstructure:"separator"`
}

// PathsConfig holds filesystem roots
type PathsConfig struct {
	DataDir string `mapstructure:"data_dir"` // Holds raw/ and joint/
	BaseDir string `mapstructure:"base_dir"` // No file outside of it is ever written
}

// StorageConfig holds run ledger configuration
type StorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	OnlyOnFailure  bool          `mapstructure:"only_on_failure"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Load reads configuration from file and environment variables.
// A missing file leaves defaults in place; a malformed file is an error.
func Load(path string) (*Config, error) {
	// Optional .env in the working directory
	_ = godotenv.Load(".env")

	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Enable environment variable override
	v.SetEnvPrefix("LUFTONLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Portal defaults
	v.SetDefault("portal.url", "http://www.umwelt.sachsen.de/umwelt/infosysteme/luftonline/recherche.aspx")
	v.SetDefault("portal.timeout", "45s")
	v.SetDefault("portal.user_agent", "luftonline/1.0")

	// Import defaults
	v.SetDefault("import.normalize", false)
	v.SetDefault("import.separator", ",")

	// Convert defaults
	v.SetDefault("convert.separator", ",")

	// Path defaults
	v.SetDefault("paths.data_dir", "./data")
	v.SetDefault("paths.base_dir", ".")

	// Storage defaults
	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.db_path", "./data/luftonline.db")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.only_on_failure", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Portal config
	if c.Portal.URL == "" {
		return fmt.Errorf("portal.url is required")
	}
	if c.Portal.Timeout < 1*time.Second || c.Portal.Timeout > 5*time.Minute {
		return fmt.Errorf("portal.timeout must be between 1s and 5m")
	}

	// Validate separators
	if err := validateSeparator("import.separator", c.Import.Separator); err != nil {
		return err
	}
	if err := validateSeparator("convert.separator", c.Convert.Separator); err != nil {
		return err
	}

	// Validate Paths config
	if c.Paths.DataDir == "" {
		return fmt.Errorf("paths.data_dir is required")
	}
	if c.Paths.BaseDir == "" {
		return fmt.Errorf("paths.base_dir is required")
	}

	// Validate Storage config
	if c.Storage.Enabled && c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required when storage is enabled")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

func validateSeparator(key, sep string) error {
	if len([]rune(sep)) != 1 {
		return fmt.Errorf("%s must be exactly one character", key)
	}
	switch sep {
	case "\n", "\r", "\"":
		return fmt.Errorf("%s must not be a newline or quote", key)
	}
	return nil
}

// SeparatorRune returns the single rune of a validated separator
func SeparatorRune(sep string) rune {
	r := []rune(sep)
	if len(r) == 0 {
		return ','
	}
	return r[0]
}

// RawDir returns the directory raw exports are archived under
func (c *Config) RawDir() string {
	return filepath.Join(c.Paths.DataDir, "raw")
}

// JointDir returns the directory consolidated files are written under
func (c *Config) JointDir() string {
	return filepath.Join(c.Paths.DataDir, "joint")
}
