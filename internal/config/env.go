package config

import (
	"errors"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PAYIMPORT_"

// dotEnvFile is loaded when present. Existing process variables win.
var dotEnvFile = ".env"

func loadDotEnv() error {
	err := godotenv.Load(dotEnvFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

type lookupFunc func(string) (string, bool)

// applyEnvOverrides copies PAYIMPORT_* variables onto the config. Malformed
// numeric or duration values are ignored and the file/default value stays.
func applyEnvOverrides(c *MainConfig, lookup lookupFunc) {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok {
			if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
				*dst = d
			}
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				*dst = b
			}
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(EnvPrefix + key); ok && strings.TrimSpace(v) != "" {
			var out []string
			for _, part := range strings.Split(v, ",") {
				if p := strings.TrimSpace(part); p != "" {
					out = append(out, p)
				}
			}
			*dst = out
		}
	}

	str("OUTPUT_DIR", &c.OutputDir)
	str("INPUT_ARCHIVE_DIR", &c.InputArchiveDir)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)

	str("SERVICE_BASE_URL", &c.Service.BaseURL)
	str("SERVICE_TOKEN", &c.Service.Token)
	dur("SERVICE_TIMEOUT", &c.Service.Timeout)

	str("HEALTH_SCHEDULE", &c.Health.Schedule)
	dur("HEALTH_TIMEOUT", &c.Health.Timeout)

	if v, ok := lookup(EnvPrefix + "IMPORT_MAX_FILE_BYTES"); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			c.Import.MaxFileBytes = n
		}
	}
	integer("IMPORT_MAX_ROWS", &c.Import.MaxRows)
	integer("IMPORT_MAX_COLUMNS", &c.Import.MaxColumns)
	list("IMPORT_ALLOWED_EXTENSIONS", &c.Import.AllowedExtensions)
	boolean("IMPORT_LEGACY_COLUMN_SNIFFING", &c.Import.LegacyColumnSniff)
	str("IMPORT_IDENTITY_PREFIXES", &c.Import.IdentityPrefixes)
	str("IMPORT_MAX_AMOUNT", &c.Import.MaxAmount)
	integer("IMPORT_MIN_YEAR", &c.Import.MinYear)
	list("IMPORT_ACTIVE_LOAN_STATES", &c.Import.ActiveLoanStates)

	str("REVIEW_DB_PATH", &c.Review.DBPath)
	str("SERVER_ADDR", &c.Server.Addr)
}
