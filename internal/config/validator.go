package config

import (
	"fmt"

	"deskrelay/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateEnvironment(cfg); err != nil {
		errors = append(errors, err)
	}

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateDatabase(cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if err := validateWebhook(cfg); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateEnvironment(cfg *Config) error {
	switch cfg.Environment {
	case constants.EnvironmentProduction,
		constants.EnvironmentStaging,
		constants.EnvironmentDevelopment,
		constants.EnvironmentTest:
		return nil
	case "":
		return &ValidationError{
			Field:   "environment",
			Message: "environment is required (production, staging, development, test)",
		}
	default:
		return &ValidationError{
			Field:   "environment",
			Message: fmt.Sprintf("unknown environment %q", cfg.Environment),
		}
	}
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Postgres.Host == "" {
		return &ValidationError{
			Field:   "database.postgres.host",
			Message: "postgres host is required",
		}
	}

	if cfg.RunMigrations && cfg.MigrationsPath == "" {
		return &ValidationError{
			Field:   "database.migrations_path",
			Message: "migrations path is required when run_migrations is enabled",
		}
	}

	return nil
}

func validateWebhook(cfg *Config) error {
	// The bypass is an operational escape hatch for non-production
	// environments only. It is decided here, once, at startup.
	if cfg.Webhook.SkipVerification && cfg.Environment == constants.EnvironmentProduction {
		return &ValidationError{
			Field:   "webhook.skip_verification",
			Message: "signature verification cannot be skipped in production",
		}
	}

	if !cfg.Webhook.SkipVerification && cfg.Webhook.SigningSecret == "" {
		return &ValidationError{
			Field:   "webhook.signing_secret",
			Message: "signing secret is required unless skip_verification is set",
		}
	}

	if cfg.Webhook.MaxPayloadBytes < 0 {
		return &ValidationError{
			Field:   "webhook.max_payload_bytes",
			Message: "max payload bytes must not be negative",
		}
	}

	if cfg.Webhook.MinContentBytes < 0 {
		return &ValidationError{
			Field:   "webhook.min_content_bytes",
			Message: "min content bytes must not be negative",
		}
	}

	return nil
}
