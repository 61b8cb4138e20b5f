package config

import (
	"fmt"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	for _, check := range []struct {
		field string
		value string
	}{
		{"STALENESS_WINDOW", cfg.StalenessWindowStr},
		{"BATCH_PAUSE", cfg.BatchPauseStr},
		{"ACTION_TIMEOUT", cfg.ActionTimeoutStr},
		{"RETRY_BACKOFF_BASE", cfg.RetryBackoffBaseStr},
		{"RETRY_BACKOFF_MAX", cfg.RetryBackoffMaxStr},
		{"CIRCUIT_BREAKER_COOLDOWN", cfg.CircuitBreakerCooldownStr},
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr},
	} {
		if check.value == "" {
			continue
		}
		d, err := time.ParseDuration(check.value)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   check.field,
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   check.field,
				Message: "must be positive",
			})
		}
	}

	switch cfg.RetryPolicy {
	case "", "none", "next-tick", "backoff":
	default:
		errs = append(errs, ValidationError{
			Field:   "RETRY_POLICY",
			Message: fmt.Sprintf("must be 'none', 'next-tick' or 'backoff', got %q", cfg.RetryPolicy),
		})
	}

	if _, err := time.LoadLocation(cfg.CronTimezone); err != nil {
		errs = append(errs, ValidationError{
			Field:   "CRON_TIMEZONE",
			Message: fmt.Sprintf("unknown timezone: %v", err),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
