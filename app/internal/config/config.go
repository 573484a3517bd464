package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process-level defaults. CLI flags override these.
type Config struct {
	DBPath       string
	Parallel     int
	RoundWait    time.Duration
	BatchWait    time.Duration
	ProbeTimeout time.Duration
	MaxExpand    int // cap on hosts a single CIDR add may expand to
}

// Load reads configuration from the environment, honoring a local .env
// file when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		DBPath:       getenv("PINGLOG_DB", "latency.db"),
		Parallel:     envInt("PINGLOG_PARALLEL", 10),
		RoundWait:    envDurSecs("PINGLOG_ROUND_WAIT_SECS", 900),
		BatchWait:    envDurSecs("PINGLOG_BATCH_WAIT_SECS", 5),
		ProbeTimeout: envDurSecs("PINGLOG_PROBE_TIMEOUT_SECS", 1),
		MaxExpand:    envInt("PINGLOG_MAX_EXPAND", 1024),
	}
}

// Helper functions
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDurSecs(k string, def int) time.Duration {
	return time.Duration(envInt(k, def)) * time.Second
}
