package models

// Config holds the application configuration
type Config struct {
	WhatsApp      WhatsAppConfig      `json:"whatsapp"`
	AI            AIConfig            `json:"ai"`
	BusinessHours BusinessHoursConfig `json:"businessHours"`
	Database      DatabaseConfig      `json:"database"`
	Queue         QueueConfig         `json:"queue"`
	Retry         RetryConfig         `json:"retry"`
	Server        ServerConfig        `json:"server"`
	Tracing       TracingConfig       `json:"tracing"`
	LogLevel      string              `json:"log_level"`
	RetentionDays int                 `json:"retentionDays"`
}

// WhatsAppConfig holds WhatsApp Cloud API related configuration.
// AccessToken and VerifyToken are expected via environment variables.
type WhatsAppConfig struct {
	APIBaseURL    string `json:"api_base_url"`
	PhoneNumberID string `json:"phone_number_id"`
	AccessToken   string `json:"-"`
	VerifyToken   string `json:"-"`
	TimeoutSec    int    `json:"timeoutSec"`
}

// AIConfig holds model backend configuration. Enabled, AutoReply, Model
// and the timeouts are re-read from the live config snapshot per message
// so operators can change them without a restart.
type AIConfig struct {
	Enabled           bool   `json:"enabled"`
	AutoReply         bool   `json:"autoReply"`
	Model             string `json:"model"`
	MaxTokens         int    `json:"maxTokens"`
	ContextWindow     int    `json:"contextWindow"`
	MaxToolIterations int    `json:"maxToolIterations"`
	ChatTimeoutSec    int    `json:"chatTimeoutSec"`
	ChannelTimeoutSec int    `json:"channelTimeoutSec"`
}

// BusinessHoursConfig gates automated replies by wall-clock time.
// Start and End are "HH:MM" in the configured timezone.
type BusinessHoursConfig struct {
	Enabled  bool   `json:"enabled"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

// DatabaseConfig holds database related configuration
type DatabaseConfig struct {
	Path string `json:"path"`
}

// QueueConfig holds job queue related configuration
type QueueConfig struct {
	AIConcurrency      int `json:"aiConcurrency"`
	MaxAttempts        int `json:"maxAttempts"`
	CompletedRetention int `json:"completedRetention"`
	FailedRetention    int `json:"failedRetention"`
}

// RetryConfig holds retry backoff configuration
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// ServerConfig holds HTTP server configuration. AdminToken is expected
// via environment variable.
type ServerConfig struct {
	Port                 int    `json:"port"`
	AdminToken           string `json:"-"`
	ReadTimeoutSec       int    `json:"readTimeoutSec"`
	WriteTimeoutSec      int    `json:"writeTimeoutSec"`
	IdleTimeoutSec       int    `json:"idleTimeoutSec"`
	CleanupIntervalHours int    `json:"cleanupIntervalHours"`
}

// TracingConfig contains OpenTelemetry configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	UseStdout      bool    `json:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
