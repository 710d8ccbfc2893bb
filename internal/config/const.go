package config

// Log levels accepted by logger.InitLogger.
const (
	LogLevelDebug   string = "debug"
	LogLevelInfo    string = "info"
	LogLevelWarning string = "warn"
	LogLevelError   string = "error"

	LogFilePath string = "rain-striper/log/log_output.txt"
)

// Version is reported by `rainctl version`.
const Version string = "0.1.0"

// Default sizes used when an opaque parameter or layout field is left
// at its zero value.
const (
	DefaultHeaderSizeB uint32 = 4096
	MinStripeTotal     int    = 5
	MinBlockSizeB      uint32 = 64
)
