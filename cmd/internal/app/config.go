package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string

	LogLevel string
	// LogSource annotates every log line with file:line. Costly enough to
	// be worth switching off on hot deployments.
	LogSource bool

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// SeedUsers is a dev-mode credential list, `user:password:role1|role2`
	// entries separated by commas. Empty means no users can log in.
	SeedUsers string

	// MetricsEnabled gates the /metrics route.
	MetricsEnabled bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("MSS_HTTP_ADDR", "0.0.0.0:8080"),

		LogLevel:  EnvString("MSS_LOG_LEVEL", "info"),
		LogSource: EnvBool("MSS_LOG_SOURCE", true),

		ReadHeaderTimeout: EnvDuration("MSS_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("MSS_HTTP_READ_TIMEOUT", 15*time.Second),
		// /ws responses outlive any write timeout; the server-wide values
		// apply to the JSON routes and the gateway hijacks the connection.
		WriteTimeout: EnvDuration("MSS_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:  EnvDuration("MSS_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("MSS_HTTP_MAX_HEADER_BYTES", 1<<20),

		SeedUsers: EnvString("MSS_SEED_USERS", ""),

		MetricsEnabled: EnvBool("MSS_METRICS_ENABLED", true),
	}
}
