// Package config provides environment-based configuration for benchmark campaigns.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Placement strategy names accepted by BENCH_PLACEMENT.
const (
	PlacementBestFit = "bestfit"
	PlacementByName  = "byname"
	PlacementFirst   = "first"
)

// Config holds all configuration for a campaign session and the results API.
type Config struct {
	// Database configuration
	DatabaseDSN string

	// Logging
	LogLevel string
	LogJSON  bool

	// Server configuration
	APIPort int
	APIHost string

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration

	Nodes      NodesConfig
	SSH        SSHConfig
	Supervisor SupervisorConfig
	Timeline   TimelineConfig
	Assets     AssetsConfig
}

// NodesConfig describes the physical node pool and how VMs are placed on it.
type NodesConfig struct {
	Addresses       []string
	Capacity        int // vcpu-equivalent slots per node
	User            string
	PortBase        int
	Placement       string
	PlacementTarget string
}

// SSHConfig holds the remote execution settings.
type SSHConfig struct {
	KeyFile        string
	PublicKeyFile  string // installed in every VM, defaults to KeyFile + ".pub"
	KnownHostsFile string
	VMUser         string
	DialTimeout    time.Duration
}

// SupervisorConfig bounds command restarts.
type SupervisorConfig struct {
	PollInterval time.Duration
	MaxAttempts  int
	Backoff      time.Duration
	MaxBackoff   time.Duration
}

// TimelineConfig holds scenario execution delays.
type TimelineConfig struct {
	SettleDelay  time.Duration
	MonitorDelay time.Duration
}

// AssetsConfig locates the files uploaded to nodes and VMs.
type AssetsConfig struct {
	Dir     string // contains phoronix/ and one directory per custom test
	WorkDir string // local scratch space for generated and downloaded files
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := LoadWithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if len(c.Nodes.Addresses) == 0 {
		return fmt.Errorf("BENCH_NODES is required")
	}
	if c.Nodes.Capacity <= 0 {
		return fmt.Errorf("BENCH_NODE_CAPACITY must be positive")
	}
	switch c.Nodes.Placement {
	case PlacementBestFit, PlacementByName, PlacementFirst:
	default:
		return fmt.Errorf("BENCH_PLACEMENT must be one of %s, %s, %s", PlacementBestFit, PlacementByName, PlacementFirst)
	}
	if c.SSH.KeyFile == "" {
		return fmt.Errorf("BENCH_SSH_KEY is required")
	}
	if c.Supervisor.MaxAttempts < 1 {
		return fmt.Errorf("BENCH_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

// LoadWithDefaults loads configuration with defaults for development.
// It does not validate required fields, useful for testing.
func LoadWithDefaults() *Config {
	home, _ := os.UserHomeDir()
	keyFile := getEnv("BENCH_SSH_KEY", home+"/.ssh/id_rsa")
	return &Config{
		DatabaseDSN:     getEnv("DATABASE_URL", "postgres://localhost:5432/benchctl?sslmode=disable"),
		LogLevel:        getEnv("BENCH_LOG_LEVEL", "info"),
		LogJSON:         getBoolEnv("BENCH_LOG_JSON", true),
		APIPort:         getIntEnv("API_PORT", 8080),
		APIHost:         getEnv("API_HOST", "0.0.0.0"),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		Nodes: NodesConfig{
			Addresses:       getListEnv("BENCH_NODES"),
			Capacity:        getIntEnv("BENCH_NODE_CAPACITY", 40),
			User:            getEnv("BENCH_NODE_USER", "root"),
			PortBase:        getIntEnv("BENCH_PORT_BASE", 2020),
			Placement:       strings.ToLower(getEnv("BENCH_PLACEMENT", PlacementBestFit)),
			PlacementTarget: getEnv("BENCH_PLACEMENT_TARGET", ""),
		},
		SSH: SSHConfig{
			KeyFile:        keyFile,
			PublicKeyFile:  getEnv("BENCH_SSH_PUBLIC_KEY", keyFile+".pub"),
			KnownHostsFile: getEnv("BENCH_SSH_KNOWN_HOSTS", ""),
			VMUser:         getEnv("BENCH_VM_USER", "phil"),
			DialTimeout:    getDurationEnv("BENCH_SSH_TIMEOUT", 10*time.Second),
		},
		Supervisor: SupervisorConfig{
			PollInterval: getDurationEnv("BENCH_POLL_INTERVAL", 100*time.Millisecond),
			MaxAttempts:  getIntEnv("BENCH_MAX_ATTEMPTS", 5),
			Backoff:      getDurationEnv("BENCH_BACKOFF", time.Second),
			MaxBackoff:   getDurationEnv("BENCH_MAX_BACKOFF", 30*time.Second),
		},
		Timeline: TimelineConfig{
			SettleDelay:  getDurationEnv("BENCH_SETTLE_DELAY", 30*time.Second),
			MonitorDelay: getDurationEnv("BENCH_MONITOR_DELAY", 2*time.Second),
		},
		Assets: AssetsConfig{
			Dir:     getEnv("BENCH_ASSETS_DIR", "../utils"),
			WorkDir: getEnv("BENCH_WORK_DIR", os.TempDir()),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
