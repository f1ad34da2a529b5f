package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Title generation timeouts are validated against this range. The wider
// 1-999 range applies to per-request call timeouts, not this surface.
const (
	TitleTimeoutMinSeconds = 10
	TitleTimeoutMaxSeconds = 120

	RequestTimeoutMinSeconds = 1
	RequestTimeoutMaxSeconds = 999
)

// TitleGeneration configures the secondary title task.
type TitleGeneration struct {
	Enabled        bool
	ProviderType   string
	Model          string
	BaseURL        string
	TimeoutSeconds int
}

// Config holds resolved application configuration values.
type Config struct {
	Port    string
	GinMode string

	LogLevel  string
	LogFormat string

	// DataDir is the root for all persisted state.
	DataDir     string
	DatabaseDSN string
	ResultsDir  string

	// CredentialKeyPath points at the master key backing credential encryption.
	CredentialKeyPath string

	// DefaultRequestTimeoutSeconds bounds generate calls when the provider
	// config does not carry its own timeout.
	DefaultRequestTimeoutSeconds int

	TitleGeneration TitleGeneration

	EventBufferSize              int
	ServerShutdownTimeoutSeconds int
}

// Load reads configuration from the environment, applying defaults.
func Load() *Config {
	// Load .env file if it exists.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	dataDir := getEnvOrDefault("PROMPTD_DATA_DIR", defaultDataDir())

	cfg := &Config{
		Port:    getEnvOrDefault("PORT", "8315"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", ""),

		DataDir:     dataDir,
		DatabaseDSN: getEnvOrDefault("DATABASE_DSN", filepath.Join(dataDir, "promptd.db")),
		ResultsDir:  getEnvOrDefault("RESULTS_DIR", filepath.Join(dataDir, "results")),

		CredentialKeyPath: getEnvOrDefault("CREDENTIAL_KEY_PATH", filepath.Join(dataDir, "credential.key")),

		DefaultRequestTimeoutSeconds: getEnvAsInt("REQUEST_TIMEOUT_SECONDS", 120),

		TitleGeneration: TitleGeneration{
			Enabled:        getEnvOrDefault("TITLE_GENERATION_ENABLED", "true") == "true",
			ProviderType:   getEnvOrDefault("TITLE_GENERATION_PROVIDER", "ollama"),
			Model:          getEnvOrDefault("TITLE_GENERATION_MODEL", "llama3.2:1b"),
			BaseURL:        getEnvOrDefault("TITLE_GENERATION_BASE_URL", ""),
			TimeoutSeconds: getEnvAsInt("TITLE_GENERATION_TIMEOUT_SECONDS", 30),
		},

		EventBufferSize:              getEnvAsInt("EVENT_BUFFER_SIZE", 64),
		ServerShutdownTimeoutSeconds: getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 10),
	}

	if cfg.DefaultRequestTimeoutSeconds < RequestTimeoutMinSeconds || cfg.DefaultRequestTimeoutSeconds > RequestTimeoutMaxSeconds {
		log.Printf("Warning: REQUEST_TIMEOUT_SECONDS=%d out of range [%d,%d], using 120",
			cfg.DefaultRequestTimeoutSeconds, RequestTimeoutMinSeconds, RequestTimeoutMaxSeconds)
		cfg.DefaultRequestTimeoutSeconds = 120
	}

	if cfg.TitleGeneration.TimeoutSeconds < TitleTimeoutMinSeconds || cfg.TitleGeneration.TimeoutSeconds > TitleTimeoutMaxSeconds {
		log.Printf("Warning: TITLE_GENERATION_TIMEOUT_SECONDS=%d out of range [%d,%d], using 30",
			cfg.TitleGeneration.TimeoutSeconds, TitleTimeoutMinSeconds, TitleTimeoutMaxSeconds)
		cfg.TitleGeneration.TimeoutSeconds = 30
	}

	return cfg
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".promptd"
	}
	return filepath.Join(home, ".promptd")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
		log.Printf("Warning: Failed to parse environment variable %s='%s' as int, using default %d", key, value, defaultValue)
	}
	return defaultValue
}
