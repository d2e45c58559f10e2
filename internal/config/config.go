// =============================================================================
// Payment Import - Configuration Module
// =============================================================================
//
// This module is responsible for loading and validating the application
// configuration.
//
// CONFIGURATION SOURCES (later sources win):
//   1. Built-in defaults (applyMainConfigDefaults)
//   2. The main YAML file (config.yaml by default)
//   3. An optional .env file next to the working directory
//   4. PAYIMPORT_* environment variables (see env.go)
//
// The merged result is validated with struct tags (validate.go) before it is
// returned.
//
// =============================================================================

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// MAIN CONFIGURATION STRUCTURE
// =============================================================================

// MainConfig holds the global application configuration.
type MainConfig struct {
	// =========================================================================
	// DIRECTORY SETTINGS
	// =========================================================================

	// OutputDir is where batch summary reports are written.
	// Default: "./output"
	OutputDir string `yaml:"output_dir" validate:"required"`

	// InputArchiveDir receives input files whose batch auto-closed.
	// Default: "./input_archive"
	InputArchiveDir string `yaml:"input_archive_dir" validate:"required"`

	// =========================================================================
	// LOGGING SETTINGS
	// =========================================================================

	// LogLevel controls the verbosity of logging.
	// Valid values: "debug", "info", "warn", "error"
	LogLevel string `yaml:"log_level" validate:"oneof=trace debug info warn warning error off"`

	// LogFormat selects "console" (human) or "json" output.
	LogFormat string `yaml:"log_format" validate:"oneof=console json"`

	// =========================================================================
	// SECTIONS
	// =========================================================================

	Service ServiceConfig `yaml:"service"`
	Health  HealthConfig  `yaml:"health"`
	Import  ImportConfig  `yaml:"import"`
	Review  ReviewConfig  `yaml:"review"`
	Server  ServerConfig  `yaml:"server"`
}

// ServiceConfig describes the remote loan-servicing service.
type ServiceConfig struct {
	// BaseURL is the root of the service API, e.g. "http://loans.internal/api".
	BaseURL string `yaml:"base_url" validate:"required,url"`

	// Token is sent as a bearer token when set.
	Token string `yaml:"token"`

	// Timeout bounds every lookup and commit call.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

// HealthConfig drives the reachability probe.
type HealthConfig struct {
	// Schedule is a cron spec; "@every 15s" style descriptors are accepted.
	Schedule string `yaml:"schedule" validate:"required"`

	// Timeout bounds a single probe. Default: 3s
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

// ImportConfig carries the file acceptance limits and row validation rules.
type ImportConfig struct {
	// File acceptance
	MaxFileBytes      int64    `yaml:"max_file_bytes" validate:"gt=0"`
	MaxRows           int      `yaml:"max_rows" validate:"gt=0"`
	MaxColumns        int      `yaml:"max_columns" validate:"gte=4"`
	AllowedExtensions []string `yaml:"allowed_extensions" validate:"min=1,dive,required"`
	AllowedMediaTypes []string `yaml:"allowed_media_types"`
	LegacyColumnSniff bool     `yaml:"legacy_column_sniffing"`

	// Row validation
	IdentityPrefixes  string `yaml:"identity_prefixes" validate:"required,alpha"`
	IdentityMinDigits int    `yaml:"identity_min_digits" validate:"gt=0"`
	IdentityMaxDigits int    `yaml:"identity_max_digits" validate:"gtefield=IdentityMinDigits"`
	MaxAmount         string `yaml:"max_amount" validate:"required,numeric"`
	MinYear           int    `yaml:"min_year" validate:"gte=1900"`

	// Loan resolution
	ActiveLoanStates []string `yaml:"active_loan_states" validate:"min=1,dive,required"`
}

// ReviewConfig locates the review outbox.
type ReviewConfig struct {
	// DBPath is the SQLite file; ":memory:" keeps the queue in memory.
	DBPath string `yaml:"db_path" validate:"required"`
}

// ServerConfig is the operator HTTP boundary.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

// MaxAmountDecimal returns the configured amount ceiling.
func (c ImportConfig) MaxAmountDecimal() decimal.Decimal {
	d, err := decimal.NewFromString(c.MaxAmount)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// CONFIGURATION LOADING FUNCTIONS
// =============================================================================

// LoadMainConfig loads the main configuration from a YAML file.
//
// PARAMETERS:
//   - configPath: The path to the main configuration file. A missing file is
//     not an error; defaults and environment overrides still apply.
//
// RETURNS:
//   - A pointer to the MainConfig struct.
//   - An error if the file cannot be parsed or the result is invalid.
func LoadMainConfig(configPath string) (*MainConfig, error) {
	var config MainConfig
	applyMainConfigDefaults(&config)

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := loadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	applyEnvOverrides(&config, os.LookupEnv)

	if err := validateMainConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns the configuration with only built-in defaults applied.
func Default() *MainConfig {
	var c MainConfig
	applyMainConfigDefaults(&c)
	return &c
}

// applyMainConfigDefaults sets default values for every option.
// Values from YAML and the environment are applied on top.
func applyMainConfigDefaults(config *MainConfig) {
	config.OutputDir = "./output"
	config.InputArchiveDir = "./input_archive"
	config.LogLevel = "info"
	config.LogFormat = "console"

	config.Service.BaseURL = "http://localhost:8000/api"
	config.Service.Timeout = 10 * time.Second

	config.Health.Schedule = "@every 15s"
	config.Health.Timeout = 3 * time.Second

	config.Import.MaxFileBytes = 5 << 20
	config.Import.MaxRows = 5000
	config.Import.MaxColumns = 20
	config.Import.AllowedExtensions = []string{".xlsx", ".xls"}
	config.Import.AllowedMediaTypes = []string{
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.ms-excel",
	}
	config.Import.LegacyColumnSniff = true
	config.Import.IdentityPrefixes = "VEJGP"
	config.Import.IdentityMinDigits = 6
	config.Import.IdentityMaxDigits = 11
	config.Import.MaxAmount = "100000000"
	config.Import.MinYear = 2000
	config.Import.ActiveLoanStates = []string{"approved_pending_disbursement", "disbursed"}

	config.Review.DBPath = "./review_queue.db"
	config.Server.Addr = ":8080"
}

// validateMainConfig validates the merged configuration and creates the
// working directories.
func validateMainConfig(config *MainConfig) error {
	if err := Validate(config); err != nil {
		return err
	}
	if !config.Import.MaxAmountDecimal().IsPositive() {
		return fmt.Errorf("import.max_amount must be positive")
	}

	for _, dir := range []string{config.OutputDir, config.InputArchiveDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
