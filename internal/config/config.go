// Package config provides application configuration management.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Configuration upper bounds to prevent resource exhaustion.
const (
	maxMaxBrowsers           = 20
	maxContextsPerBrowserCap = 32
	maxContextTimeout        = 10 * time.Minute
	minContextTimeout        = 1 * time.Second
	maxWaitTimeout           = 5 * time.Minute
	minWaitTimeout           = 100 * time.Millisecond
	maxRecycleUses           = 10000
	minReaperInterval        = 100 * time.Millisecond
	maxReaperInterval        = 1 * time.Minute
	minBrowserAge            = 1 * time.Minute
	maxBrowserAge            = 24 * time.Hour
)

// Config holds all application configuration.
// Configuration is loaded from environment variables at startup.
type Config struct {
	// Server settings
	Host string
	Port int

	// Browser settings
	Headless    bool
	NoSandbox   bool
	BrowserPath string

	// Pool settings - the capacity bounds ARE the back-pressure mechanism
	MaxBrowsers           int
	MaxContextsPerBrowser int
	ContextTimeout        time.Duration
	WaitTimeout           time.Duration
	RecycleUses           int64
	ReaperInterval        time.Duration
	MaxBrowserAge         time.Duration

	// Fingerprint allowlist overrides
	FingerprintsPath      string
	FingerprintsHotReload bool

	// Logging
	LogLevel  string
	LogPretty bool

	// Metrics
	MetricsEnabled bool

	// Profiling
	PProfEnabled  bool
	PProfPort     int
	PProfBindAddr string // Bind address for pprof server (default: localhost only)
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		Host: getEnvString("HOST", "0.0.0.0"),
		Port: getEnvInt("PORT", 8191),

		// Browser
		Headless:    getEnvBool("HEADLESS", true),
		NoSandbox:   getEnvBool("NO_SANDBOX", true),
		BrowserPath: getEnvString("BROWSER_PATH", ""),

		// Pool - defaults sized for a single capture node
		MaxBrowsers:           getEnvInt("POOL_MAX_BROWSERS", 4),
		MaxContextsPerBrowser: getEnvInt("POOL_MAX_CONTEXTS_PER_BROWSER", 4),
		ContextTimeout:        getEnvDuration("POOL_CONTEXT_TIMEOUT", 30*time.Second),
		WaitTimeout:           getEnvDuration("POOL_WAIT_TIMEOUT", 5*time.Second),
		RecycleUses:           int64(getEnvInt("POOL_RECYCLE_USES", 50)),
		ReaperInterval:        getEnvDuration("POOL_REAPER_INTERVAL", 10*time.Second),
		MaxBrowserAge:         getEnvDuration("POOL_MAX_BROWSER_AGE", 30*time.Minute),

		// Fingerprints
		FingerprintsPath:      getEnvString("FINGERPRINTS_PATH", ""),
		FingerprintsHotReload: getEnvBool("FINGERPRINTS_HOT_RELOAD", false),

		// Logging
		LogLevel:  getEnvString("LOG_LEVEL", "info"),
		LogPretty: getEnvBool("LOG_PRETTY", false),

		// Metrics
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),

		// Profiling - disabled by default for security
		PProfEnabled:  getEnvBool("PPROF_ENABLED", false),
		PProfPort:     getEnvInt("PPROF_PORT", 6060),
		PProfBindAddr: getEnvString("PPROF_BIND_ADDR", "127.0.0.1"), // Localhost only by default
	}
}

// Validate checks configuration values and logs warnings for invalid values.
// Invalid values are corrected to sensible defaults.
func (c *Config) Validate() {
	// Port validation - allow 0 for system-assigned ports
	if c.Port < 0 || c.Port > 65535 {
		log.Warn().Int("port", c.Port).Msg("Invalid port, using default 8191")
		c.Port = 8191
	}

	// BrowserPath validation - prevent path traversal attacks
	if c.BrowserPath != "" {
		if strings.Contains(c.BrowserPath, "..") {
			log.Error().
				Str("path", c.BrowserPath).
				Msg("BrowserPath contains path traversal sequence (..), ignoring")
			c.BrowserPath = ""
		} else if !strings.HasPrefix(c.BrowserPath, "/") && !strings.HasPrefix(c.BrowserPath, "C:") && !strings.HasPrefix(c.BrowserPath, "c:") {
			log.Warn().
				Str("path", c.BrowserPath).
				Msg("BrowserPath should be an absolute path")
		}
	}

	// Browser cap validation with upper bound
	if c.MaxBrowsers < 1 {
		log.Warn().Int("max_browsers", c.MaxBrowsers).Msg("Invalid browser cap, using default 4")
		c.MaxBrowsers = 4
	} else if c.MaxBrowsers > maxMaxBrowsers {
		log.Warn().
			Int("max_browsers", c.MaxBrowsers).
			Int("max", maxMaxBrowsers).
			Msg("Browser cap too large, capping to maximum")
		c.MaxBrowsers = maxMaxBrowsers
	}

	// Context-per-browser cap validation
	if c.MaxContextsPerBrowser < 1 {
		log.Warn().Int("max_contexts", c.MaxContextsPerBrowser).Msg("Invalid per-browser context cap, using default 4")
		c.MaxContextsPerBrowser = 4
	} else if c.MaxContextsPerBrowser > maxContextsPerBrowserCap {
		log.Warn().
			Int("max_contexts", c.MaxContextsPerBrowser).
			Int("max", maxContextsPerBrowserCap).
			Msg("Per-browser context cap too large, capping to maximum")
		c.MaxContextsPerBrowser = maxContextsPerBrowserCap
	}

	// ContextTimeout validation
	if c.ContextTimeout < minContextTimeout {
		log.Warn().
			Dur("timeout", c.ContextTimeout).
			Dur("min", minContextTimeout).
			Msg("Context timeout too short, using minimum")
		c.ContextTimeout = minContextTimeout
	} else if c.ContextTimeout > maxContextTimeout {
		log.Warn().
			Dur("timeout", c.ContextTimeout).
			Dur("max", maxContextTimeout).
			Msg("Context timeout too long, using maximum")
		c.ContextTimeout = maxContextTimeout
	}

	// WaitTimeout validation
	if c.WaitTimeout < minWaitTimeout {
		log.Warn().
			Dur("timeout", c.WaitTimeout).
			Dur("min", minWaitTimeout).
			Msg("Wait timeout too short, using minimum")
		c.WaitTimeout = minWaitTimeout
	} else if c.WaitTimeout > maxWaitTimeout {
		log.Warn().
			Dur("timeout", c.WaitTimeout).
			Dur("max", maxWaitTimeout).
			Msg("Wait timeout too long, using maximum")
		c.WaitTimeout = maxWaitTimeout
	}

	// RecycleUses validation with upper bound
	if c.RecycleUses < 1 {
		log.Warn().Int64("uses", c.RecycleUses).Msg("Invalid recycle threshold, using default 50")
		c.RecycleUses = 50
	} else if c.RecycleUses > maxRecycleUses {
		log.Warn().
			Int64("uses", c.RecycleUses).
			Int("max", maxRecycleUses).
			Msg("Recycle threshold too large, capping to maximum")
		c.RecycleUses = maxRecycleUses
	}

	// ReaperInterval validation
	if c.ReaperInterval < minReaperInterval {
		log.Warn().
			Dur("interval", c.ReaperInterval).
			Dur("min", minReaperInterval).
			Msg("Reaper interval too short, using minimum")
		c.ReaperInterval = minReaperInterval
	} else if c.ReaperInterval > maxReaperInterval {
		log.Warn().
			Dur("interval", c.ReaperInterval).
			Dur("max", maxReaperInterval).
			Msg("Reaper interval too long, using maximum")
		c.ReaperInterval = maxReaperInterval
	}

	// Cross-validate reaper interval vs context timeout
	if c.ReaperInterval >= c.ContextTimeout {
		log.Warn().
			Dur("reaper_interval", c.ReaperInterval).
			Dur("context_timeout", c.ContextTimeout).
			Msg("POOL_REAPER_INTERVAL should be less than POOL_CONTEXT_TIMEOUT for timely reclamation")
	}

	// MaxBrowserAge validation
	if c.MaxBrowserAge < minBrowserAge {
		log.Warn().
			Dur("age", c.MaxBrowserAge).
			Dur("min", minBrowserAge).
			Msg("Browser age limit too short, using minimum")
		c.MaxBrowserAge = minBrowserAge
	} else if c.MaxBrowserAge > maxBrowserAge {
		log.Warn().
			Dur("age", c.MaxBrowserAge).
			Dur("max", maxBrowserAge).
			Msg("Browser age limit too long, using maximum")
		c.MaxBrowserAge = maxBrowserAge
	}

	// Fingerprints path validation
	if c.FingerprintsPath != "" {
		if strings.Contains(c.FingerprintsPath, "..") {
			log.Error().
				Str("path", c.FingerprintsPath).
				Msg("FingerprintsPath contains path traversal sequence (..), ignoring")
			c.FingerprintsPath = ""
		}
		if c.FingerprintsHotReload && c.FingerprintsPath != "" {
			if _, err := os.Stat(c.FingerprintsPath); os.IsNotExist(err) {
				log.Warn().
					Str("path", c.FingerprintsPath).
					Msg("FingerprintsPath does not exist - hot-reload will watch for file creation")
			}
		}
	}

	// Warn if hot-reload is enabled but no path is set
	if c.FingerprintsHotReload && c.FingerprintsPath == "" {
		log.Warn().Msg("FINGERPRINTS_HOT_RELOAD enabled but FINGERPRINTS_PATH not set - hot-reload disabled")
		c.FingerprintsHotReload = false
	}

	// Log level validation
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		log.Warn().Str("level", c.LogLevel).Msg("Invalid log level, using 'info'")
		c.LogLevel = "info"
	}

	// PProf security warning
	if c.PProfEnabled && c.PProfBindAddr != "127.0.0.1" && c.PProfBindAddr != "localhost" {
		log.Warn().
			Str("addr", c.PProfBindAddr).
			Msg("WARNING: pprof exposed on non-localhost address - this is a security risk")
	}
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		// Use ParseInt with explicit bounds to catch overflow
		intValue, err := strconv.ParseInt(value, 10, 32)
		if err == nil {
			return int(intValue)
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Bool("default", defaultValue).
			Msg("Invalid boolean in environment variable, using default")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil {
			// Reject negative or zero durations
			if duration > 0 {
				return duration
			}
			log.Warn().
				Str("key", key).
				Str("value", value).
				Dur("default", defaultValue).
				Msg("Duration must be positive, using default")
			return defaultValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Dur("default", defaultValue).
			Msg("Invalid duration in environment variable, using default")
	}
	return defaultValue
}
