package params

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Server struct {
	ListenAddr string
	// EnableMetrics exposes the Prometheus registry on /metrics.
	EnableMetrics bool
}

type Storage struct {
	// DataDir is the Pebble database directory. Empty runs the node
	// without persistence, which is fine for local development.
	DataDir string
}

type Economy struct {
	// StartingBalance is credited to every account on first contact.
	StartingBalance float64
}

type Config struct {
	Server  Server
	Storage Storage
	Economy Economy
	LogFile string
}

func Default() Config {
	return Config{
		Server: Server{
			ListenAddr:    ":8080",
			EnableMetrics: true,
		},
		Storage: Storage{
			DataDir: "data",
		},
		Economy: Economy{
			StartingBalance: 1000.0,
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.Server.ListenAddr = getEnv("LISTEN_ADDR", cfg.Server.ListenAddr)
	cfg.Storage.DataDir = getEnv("DATA_DIR", cfg.Storage.DataDir)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)

	if v := os.Getenv("ENABLE_METRICS"); v != "" {
		cfg.Server.EnableMetrics = v == "true"
	}

	if v := os.Getenv("STARTING_BALANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.Economy.StartingBalance = f
		}
	}

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
