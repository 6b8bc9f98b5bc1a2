package config

import (
	"encoding/json"
	"fmt"
	"os"

	"wareply/internal/constants"
	"wareply/internal/models"
	"wareply/internal/security"
)

var (
	ErrMissingAPIBaseURL    = models.ConfigError{Message: "missing WhatsApp API base URL"}
	ErrMissingPhoneNumberID = models.ConfigError{Message: "missing WhatsApp phone number ID"}
	ErrMissingDBPath        = models.ConfigError{Message: "missing database path"}
)

func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.WhatsApp.APIBaseURL == "" {
		return ErrMissingAPIBaseURL
	}
	if c.WhatsApp.PhoneNumberID == "" {
		return ErrMissingPhoneNumberID
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}

	if c.BusinessHours.Enabled {
		if c.BusinessHours.Start == "" || c.BusinessHours.End == "" {
			return models.ConfigError{Message: "business hours enabled but start/end not set"}
		}
		if c.BusinessHours.Timezone == "" {
			c.BusinessHours.Timezone = "UTC"
		}
	}

	if c.AI.Model == "" {
		c.AI.Model = constants.DefaultModel
	}
	if c.AI.MaxTokens <= 0 {
		c.AI.MaxTokens = constants.DefaultMaxTokens
	}
	if c.AI.ContextWindow <= 0 {
		c.AI.ContextWindow = constants.DefaultContextWindow
	}
	if c.AI.MaxToolIterations <= 0 {
		c.AI.MaxToolIterations = constants.DefaultMaxToolIterations
	}
	if c.AI.ChatTimeoutSec <= 0 {
		c.AI.ChatTimeoutSec = constants.DefaultChatTimeoutSec
	}
	if c.AI.ChannelTimeoutSec <= 0 {
		c.AI.ChannelTimeoutSec = constants.DefaultChannelTimeoutSec
	}

	if c.Queue.AIConcurrency <= 0 {
		c.Queue.AIConcurrency = constants.DefaultAIQueueConcurrency
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = constants.DefaultQueueMaxAttempts
	}
	if c.Queue.CompletedRetention <= 0 {
		c.Queue.CompletedRetention = constants.DefaultCompletedRetention
	}
	if c.Queue.FailedRetention <= 0 {
		c.Queue.FailedRetention = constants.DefaultFailedRetention
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.CleanupIntervalHours <= 0 {
		c.Server.CleanupIntervalHours = constants.CleanupSchedulerIntervalHours
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = constants.DefaultRetentionDays
	}
	if c.WhatsApp.TimeoutSec <= 0 {
		c.WhatsApp.TimeoutSec = constants.DefaultHTTPTimeout
	}

	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if url := os.Getenv("WHATSAPP_API_URL"); url != "" {
		c.WhatsApp.APIBaseURL = url
	}

	// SECURITY: tokens are only ever read from the environment
	if token := os.Getenv("WAREPLY_WHATSAPP_ACCESS_TOKEN"); token != "" {
		c.WhatsApp.AccessToken = token
	}
	if token := os.Getenv("WAREPLY_WEBHOOK_VERIFY_TOKEN"); token != "" {
		c.WhatsApp.VerifyToken = token
	}
	if token := os.Getenv("WAREPLY_ADMIN_TOKEN"); token != "" {
		c.Server.AdminToken = token
	}

	if path := os.Getenv("DB_PATH"); path != "" {
		c.Database.Path = path
	}
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv("WAREPLY_ENV") == "production"

	if isProduction {
		if c.WhatsApp.VerifyToken == "" {
			return models.ConfigError{Message: "webhook verify token is required in production (set WAREPLY_WEBHOOK_VERIFY_TOKEN)"}
		}
		if c.WhatsApp.AccessToken == "" {
			return models.ConfigError{Message: "WhatsApp access token is required in production (set WAREPLY_WHATSAPP_ACCESS_TOKEN)"}
		}
		if c.Server.AdminToken == "" {
			return models.ConfigError{Message: "admin token is required in production (set WAREPLY_ADMIN_TOKEN)"}
		}
		if len(c.Server.AdminToken) < 32 {
			return models.ConfigError{Message: "admin token must be at least 32 characters long"}
		}
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
	} else if c.WhatsApp.VerifyToken == "" {
		fmt.Fprintf(os.Stderr, "WARNING: webhook verify token not set. Set WAREPLY_WEBHOOK_VERIFY_TOKEN for security.\n")
	}

	return nil
}
