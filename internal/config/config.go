package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the tabgain daemon.
type Config struct {
	// CDP connection settings
	CDPAddress string
	CDPPort    int

	// Control API bind settings
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool

	// Persistence
	RulesPath       string
	AuditDir        string
	AuditBufferSize int
	AuditMaxSizeMB  int

	// Audio settings
	SampleRate     int
	RampTimeMS     int
	SpeakerBufMS   int
	CapturePipeDir string

	// Browser launch
	LaunchBrowser bool
	ProfileDir    string

	// Logging
	LogLevel string
	LogFile  string

	// Optional ntfy endpoint for capture-failure alerts
	NotifyEndpoint string
}

// Load reads configuration from environment variables and an optional .env
// file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:       getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:          getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9222),
		BindAddr:         getEnvOrDefault("TABGAIN_BIND_ADDR", "127.0.0.1:8199"),
		PortCandidates:   getEnvListOrDefault("TABGAIN_PORT_CANDIDATES", []string{"127.0.0.1:8199", "127.0.0.1:8299", "127.0.0.1:8399"}),
		PortAutoFallback: getEnvBoolOrDefault("TABGAIN_PORT_AUTO_FALLBACK", true),
		RulesPath:        getEnvOrDefault("TABGAIN_RULES_PATH", "./data/rules.json"),
		AuditDir:         getEnvOrDefault("TABGAIN_AUDIT_DIR", "./data/audit"),
		AuditBufferSize:  getEnvIntOrDefault("TABGAIN_AUDIT_BUFFER_SIZE", 1024),
		AuditMaxSizeMB:   getEnvIntOrDefault("TABGAIN_AUDIT_MAX_SIZE_MB", 50),
		SampleRate:       getEnvIntOrDefault("TABGAIN_SAMPLE_RATE", 44100),
		RampTimeMS:       getEnvIntOrDefault("TABGAIN_RAMP_TIME_MS", 10),
		SpeakerBufMS:     getEnvIntOrDefault("TABGAIN_SPEAKER_BUFFER_MS", 100),
		CapturePipeDir:   getEnvOrDefault("TABGAIN_CAPTURE_PIPE_DIR", "/run/tabgain"),
		LaunchBrowser:    getEnvBoolOrDefault("TABGAIN_LAUNCH_BROWSER", false),
		ProfileDir:       getEnvOrDefault("TABGAIN_PROFILE_DIR", "./data/profile"),
		LogLevel:         strings.ToLower(getEnvOrDefault("TABGAIN_LOG_LEVEL", "info")),
		LogFile:          getEnvOrDefault("TABGAIN_LOG_FILE", "logs/tabgaind.log"),
		NotifyEndpoint:   getEnvOrDefault("TABGAIN_NOTIFY_ENDPOINT", ""),
	}

	if cfg.SampleRate < 8000 {
		cfg.SampleRate = 8000
	}
	if cfg.RampTimeMS < 1 {
		cfg.RampTimeMS = 1
	}

	return cfg, nil
}

// CDPURL returns the CDP HTTP endpoint.
func (c *Config) CDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
