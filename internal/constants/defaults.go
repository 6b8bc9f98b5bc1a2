package constants

// Default queue configuration values
const (
	DefaultQueueMaxAttempts       = 3
	DefaultAIQueueConcurrency     = 1
	DefaultCompletedRetention     = 200
	DefaultFailedRetention        = 100
	DefaultWorkerHeartbeatSec     = 30
	CleanupSchedulerIntervalHours = 24
)

// Default retry backoff values
const (
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 30000
	DefaultMaxAttempts           = 3
	DefaultDatabaseRetryAttempts = 3
)

// Default AI orchestration values
const (
	DefaultContextWindow     = 10
	DefaultMaxToolIterations = 5
	DefaultMaxTokens         = 1024
	DefaultChatTimeoutSec    = 30
	DefaultChannelTimeoutSec = 90
	DefaultModel             = "claude-sonnet-4-5"
)

// Default server values
const (
	DefaultServerPort           = 8082
	DefaultServerReadTimeoutSec = 15
	DefaultServerWriteTimeout   = 15
	DefaultServerIdleTimeoutSec = 60
	DefaultGracefulShutdownSec  = 30
	ServerErrorChannelSize      = 1
)

// Default data retention values
const (
	DefaultRetentionDays = 90
	DefaultHTTPTimeout   = 30
)

// Privacy settings
const (
	DefaultPhoneMaskLength = 4
)

// At-rest encryption parameters
const (
	EncryptionSalt       = "wareply-salt-v1"
	EncryptionLookupSalt = "wareply-lookup-salt-v1"
	EncryptionNonceSize  = 12
	EncryptionKeySize    = 32
	EncryptionIterations = 100000
)
