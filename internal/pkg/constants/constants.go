package constants

import "time"

// Service identification
const (
	ServiceName    = "branchtalk"
	ServiceVersion = "v1.0.0"
	APIVersion     = "v1"
)

// Timeouts
const (
	DatabaseTimeout         = 10 * time.Second
	HealthCheckTimeout      = 5 * time.Second
	GracefulShutdownTimeout = 30 * time.Second
)

// Database configuration
const (
	DatabaseMaxOpenConns    = 25
	DatabaseMaxIdleConns    = 25
	DatabaseConnMaxLifetime = 5 * time.Minute

	// Query limits
	DefaultQueryLimit = 50
	MaxQueryLimit     = 1000

	// Write retries for SQLITE_BUSY contention
	DefaultMaxRetries = 3
)

// Status values reported by handlers
const (
	StatusOK                 = "ok"
	StatusProcessing         = "processing"
	StatusServiceUnavailable = "service_unavailable"
)

// Context keys
const (
	ContextKeyPrincipal = "principal"
)

// Log levels
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Log formats
const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

// HTTP headers
const (
	HeaderContentType     = "Content-Type"
	HeaderAuthorization   = "Authorization"
	HeaderFingerprintHash = "X-Fingerprint-Hash"
)

// Content types
const (
	ContentTypeEventStream = "text/event-stream"
)

// Model defaults
const (
	DefaultModel         = "gpt-4o-mini"
	DefaultMaxTokens     = 4096
	DefaultContextTokens = 8192
	DefaultTemperature   = 0.7
)

// Chunked replay defaults
const (
	DefaultChunkSize    = 12
	DefaultChunkDelayMS = 40
)

// Delivery session defaults
const (
	DefaultQueueTimeoutSec = 30
	DefaultPingIntervalSec = 25
	DefaultPongGraceSec    = 10
)

// WebSocket configuration
const (
	WebSocketWriteWait      = 10 * time.Second
	WebSocketPongWait       = 60 * time.Second
	WebSocketMaxMessageSize = 4096
)

// Usage plans
const (
	PlanFree = "free"
	PlanPaid = "paid"

	DefaultFreeDailyLimit = 20
	DefaultPaidDailyLimit = 200

	// Counter buckets roll over at midnight UTC
	UsageDayFormat = "2006-01-02"
)

// Default paths
const (
	DefaultDBPath         = "./data/branchtalk.db"
	DefaultMigrationsPath = "./internal/adapters/storage/sqlite/migrations"
)
