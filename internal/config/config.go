package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// ErrConfiguration marks a fatal setup problem such as a missing
// connection string. Callers abort on it.
var ErrConfiguration = errors.New("configuration error")

type Config struct {
	// Database
	DatabaseURL string
	DBMaxConns  int `validate:"gte=1,lte=100"`
	DBMinConns  int `validate:"gte=0,ltefield=DBMaxConns"`

	// Logging
	LogMode  string `validate:"oneof=dev prod"`
	LogLevel string `validate:"oneof=debug info warn error"`

	// Ingestion
	Vendor         string `validate:"required"`
	TrackedSymbols []string

	// Metrics
	MetricsTextfile string
}

var validate = validator.New()

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: envStr("DATABASE_URL", ""),
		DBMaxConns:  envInt("DB_MAX_CONNS", 10),
		DBMinConns:  envInt("DB_MIN_CONNS", 1),

		LogMode:  strings.ToLower(envStr("LOG_MODE", "dev")),
		LogLevel: strings.ToLower(envStr("LOG_LEVEL", "info")),

		Vendor:         envStr("MDI_VENDOR", "databento"),
		TrackedSymbols: envList("TRACKED_SYMBOLS"),

		MetricsTextfile: envStr("METRICS_TEXTFILE", ""),
	}

	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (got %v)", fe.Field(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("%w: config validation failed:\n  %s", ErrConfiguration, strings.Join(msgs, "\n  "))
}

// RequireDatabase fails when no connection string is configured.
func (c *Config) RequireDatabase() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("%w: DATABASE_URL is required", ErrConfiguration)
	}
	return nil
}

// RedactedDSN hides the password part of the connection string for logs.
func (c *Config) RedactedDSN() string {
	dsn := c.DatabaseURL
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		return dsn[:scheme+3] + creds[:colon] + ":***" + dsn[at:]
	}
	return dsn
}

// --- helpers ---

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
