package config

import (
	"encoding/json"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the caltrigger application.
// Values are loaded from environment variables; a .env file in the working
// directory is read first when present.
type Config struct {
	DatabaseURL string `json:"database_url"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`

	// JWTSecret signs API bearer tokens. Empty disables authentication.
	JWTSecret string `json:"-"`

	CronExpression string `json:"cron_expression"`
	CronTimezone   string `json:"cron_timezone"`

	StalenessWindow    time.Duration `json:"-"`
	StalenessWindowStr string        `json:"staleness_window"`

	CalBaseURLLegacy  string `json:"cal_base_url_legacy,omitempty"`
	CalBaseURLCurrent string `json:"cal_base_url_current,omitempty"`

	WhatsAppGatewayURL string `json:"whatsapp_gateway_url,omitempty"`
	WhatsAppToken      string `json:"-"`

	WebhookSecret string `json:"-"`

	BatchSize        int           `json:"batch_size"`
	BatchPause       time.Duration `json:"-"`
	BatchPauseStr    string        `json:"batch_pause"`
	ActionTimeout    time.Duration `json:"-"`
	ActionTimeoutStr string        `json:"action_timeout"`
	StatusFilter     string        `json:"status_filter"`

	RetryPolicy         string        `json:"retry_policy"`
	RetryBackoffBase    time.Duration `json:"-"`
	RetryBackoffBaseStr string        `json:"retry_backoff_base"`
	RetryBackoffMax     time.Duration `json:"-"`
	RetryBackoffMaxStr  string        `json:"retry_backoff_max"`

	// RunLockKey: all instances sharing the same database must use the same key.
	RunLockKey int64 `json:"run_lock_key"`
	DryRun     bool  `json:"dry_run"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	// Optional .env for local development. Real environments set variables
	// directly; a missing file is not an error.
	if err := godotenv.Load(); err == nil {
		log.Println("config: loaded .env file")
	}

	cfg := Config{
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		HTTPAddr:                  os.Getenv("HTTP_ADDR"),
		JWTSecret:                 os.Getenv("JWT_SECRET"),
		CronExpression:            os.Getenv("CRON_EXPRESSION"),
		CronTimezone:              os.Getenv("CRON_TIMEZONE"),
		StalenessWindowStr:        os.Getenv("STALENESS_WINDOW"),
		CalBaseURLLegacy:          os.Getenv("CAL_BASE_URL_LEGACY"),
		CalBaseURLCurrent:         os.Getenv("CAL_BASE_URL_CURRENT"),
		WhatsAppGatewayURL:        os.Getenv("WHATSAPP_GATEWAY_URL"),
		WhatsAppToken:             os.Getenv("WHATSAPP_TOKEN"),
		WebhookSecret:             os.Getenv("WEBHOOK_SECRET"),
		BatchPauseStr:             os.Getenv("BATCH_PAUSE"),
		ActionTimeoutStr:          os.Getenv("ACTION_TIMEOUT"),
		StatusFilter:              os.Getenv("STATUS_FILTER"),
		RetryPolicy:               os.Getenv("RETRY_POLICY"),
		RetryBackoffBaseStr:       os.Getenv("RETRY_BACKOFF_BASE"),
		RetryBackoffMaxStr:        os.Getenv("RETRY_BACKOFF_MAX"),
		DryRun:                    os.Getenv("DRY_RUN") == "true",
		CircuitBreakerCooldownStr: os.Getenv("CIRCUIT_BREAKER_COOLDOWN"),
		MetricsEnabled:            os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:               os.Getenv("METRICS_PATH"),
		DBConnMaxLifetimeStr:      os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:      os.Getenv("DB_CONN_MAX_IDLE_TIME"),
		HTTPShutdownTimeoutStr:    os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
	}

	if batchStr := os.Getenv("BATCH_SIZE"); batchStr != "" {
		if n, err := parseInt(batchStr); err == nil && n > 0 {
			cfg.BatchSize = n
		} else {
			log.Printf("config: invalid BATCH_SIZE %q (must be a positive integer), using default 5", batchStr)
		}
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 5
	}

	if keyStr := os.Getenv("RUN_LOCK_KEY"); keyStr != "" {
		if n, err := parseInt(keyStr); err == nil && n > 0 {
			cfg.RunLockKey = int64(n)
		} else {
			log.Printf("config: invalid RUN_LOCK_KEY %q (must be a positive integer), ignoring", keyStr)
		}
	}

	if cbStr := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); cbStr != "" {
		if n, err := parseInt(cbStr); err == nil {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Printf("config: invalid CIRCUIT_BREAKER_THRESHOLD %q, using default 5", cbStr)
		}
	} else {
		cfg.CircuitBreakerThreshold = 5
	}

	if maxOpenStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxOpenStr != "" {
		if n, err := parseInt(maxOpenStr); err == nil && n > 0 {
			cfg.DBMaxOpenConns = n
		}
	}
	if cfg.DBMaxOpenConns == 0 {
		cfg.DBMaxOpenConns = 25
	}

	if maxIdleStr := os.Getenv("DB_MAX_IDLE_CONNS"); maxIdleStr != "" {
		if n, err := parseInt(maxIdleStr); err == nil && n > 0 {
			cfg.DBMaxIdleConns = n
		}
	}
	if cfg.DBMaxIdleConns == 0 {
		cfg.DBMaxIdleConns = 5
	}

	// Support platform PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.CronExpression == "" {
		cfg.CronExpression = "* * * * *"
	}
	if cfg.CronTimezone == "" {
		cfg.CronTimezone = "UTC"
	}
	if cfg.StalenessWindowStr == "" {
		cfg.StalenessWindowStr = "65m"
	}
	if cfg.BatchPauseStr == "" {
		cfg.BatchPauseStr = "1s"
	}
	if cfg.ActionTimeoutStr == "" {
		cfg.ActionTimeoutStr = "10s"
	}
	if cfg.StatusFilter == "" {
		cfg.StatusFilter = "ACCEPTED"
	}
	if cfg.RetryPolicy == "" {
		cfg.RetryPolicy = "next-tick"
	}
	if cfg.RetryBackoffBaseStr == "" {
		cfg.RetryBackoffBaseStr = "5m"
	}
	if cfg.RetryBackoffMaxStr == "" {
		cfg.RetryBackoffMaxStr = "6h"
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "2m"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.DBConnMaxIdleTimeStr == "" {
		cfg.DBConnMaxIdleTimeStr = "5m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.StalenessWindowStr); err == nil {
		cfg.StalenessWindow = d
	}
	if d, err := time.ParseDuration(cfg.BatchPauseStr); err == nil {
		cfg.BatchPause = d
	}
	if d, err := time.ParseDuration(cfg.ActionTimeoutStr); err == nil {
		cfg.ActionTimeout = d
	}
	if d, err := time.ParseDuration(cfg.RetryBackoffBaseStr); err == nil {
		cfg.RetryBackoffBase = d
	}
	if d, err := time.ParseDuration(cfg.RetryBackoffMaxStr); err == nil {
		cfg.RetryBackoffMax = d
	}
	if d, err := time.ParseDuration(cfg.CircuitBreakerCooldownStr); err == nil {
		cfg.CircuitBreakerCooldown = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxLifetimeStr); err == nil {
		cfg.DBConnMaxLifetime = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxIdleTimeStr); err == nil {
		cfg.DBConnMaxIdleTime = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}

	return cfg
}

// parseInt parses a string as a non-negative integer.
func parseInt(s string) (int, error) {
	if s == "" {
		return 0, os.ErrInvalid
	}
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		DatabaseURL             string `json:"database_url"`
		RedisAddr               string `json:"redis_addr,omitempty"`
		HTTPAddr                string `json:"http_addr"`
		JWTSecret               string `json:"jwt_secret"`
		CronExpression          string `json:"cron_expression"`
		CronTimezone            string `json:"cron_timezone"`
		StalenessWindow         string `json:"staleness_window"`
		CalBaseURLLegacy        string `json:"cal_base_url_legacy,omitempty"`
		CalBaseURLCurrent       string `json:"cal_base_url_current,omitempty"`
		WhatsAppGatewayURL      string `json:"whatsapp_gateway_url,omitempty"`
		WhatsAppToken           string `json:"whatsapp_token"`
		WebhookSecret           string `json:"webhook_secret"`
		BatchSize               int    `json:"batch_size"`
		BatchPause              string `json:"batch_pause"`
		ActionTimeout           string `json:"action_timeout"`
		StatusFilter            string `json:"status_filter"`
		RetryPolicy             string `json:"retry_policy"`
		RetryBackoffBase        string `json:"retry_backoff_base"`
		RetryBackoffMax         string `json:"retry_backoff_max"`
		RunLockKey              int64  `json:"run_lock_key"`
		DryRun                  bool   `json:"dry_run"`
		CircuitBreakerThreshold int    `json:"circuit_breaker_threshold"`
		CircuitBreakerCooldown  string `json:"circuit_breaker_cooldown"`
		MetricsEnabled          bool   `json:"metrics_enabled"`
		MetricsPath             string `json:"metrics_path"`
		DBMaxOpenConns          int    `json:"db_max_open_conns"`
		DBMaxIdleConns          int    `json:"db_max_idle_conns"`
		DBConnMaxLifetime       string `json:"db_conn_max_lifetime"`
		DBConnMaxIdleTime       string `json:"db_conn_max_idle_time"`
		HTTPShutdownTimeout     string `json:"http_shutdown_timeout"`
	}{
		DatabaseURL:             maskSecret(c.DatabaseURL),
		RedisAddr:               c.RedisAddr,
		HTTPAddr:                c.HTTPAddr,
		JWTSecret:               maskPresence(c.JWTSecret),
		CronExpression:          c.CronExpression,
		CronTimezone:            c.CronTimezone,
		StalenessWindow:         c.StalenessWindowStr,
		CalBaseURLLegacy:        c.CalBaseURLLegacy,
		CalBaseURLCurrent:       c.CalBaseURLCurrent,
		WhatsAppGatewayURL:      c.WhatsAppGatewayURL,
		WhatsAppToken:           maskPresence(c.WhatsAppToken),
		WebhookSecret:           maskPresence(c.WebhookSecret),
		BatchSize:               c.BatchSize,
		BatchPause:              c.BatchPauseStr,
		ActionTimeout:           c.ActionTimeoutStr,
		StatusFilter:            c.StatusFilter,
		RetryPolicy:             c.RetryPolicy,
		RetryBackoffBase:        c.RetryBackoffBaseStr,
		RetryBackoffMax:         c.RetryBackoffMaxStr,
		RunLockKey:              c.RunLockKey,
		DryRun:                  c.DryRun,
		CircuitBreakerThreshold: c.CircuitBreakerThreshold,
		CircuitBreakerCooldown:  c.CircuitBreakerCooldownStr,
		MetricsEnabled:          c.MetricsEnabled,
		MetricsPath:             c.MetricsPath,
		DBMaxOpenConns:          c.DBMaxOpenConns,
		DBMaxIdleConns:          c.DBMaxIdleConns,
		DBConnMaxLifetime:       c.DBConnMaxLifetimeStr,
		DBConnMaxIdleTime:       c.DBConnMaxIdleTimeStr,
		HTTPShutdownTimeout:     c.HTTPShutdownTimeoutStr,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}

// maskPresence shows whether a secret is set without revealing it.
func maskPresence(s string) string {
	if s == "" {
		return "(unset)"
	}
	return "***"
}
