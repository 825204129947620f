package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/alexjbarnes/mailbox-sync/internal/auth"
	"github.com/alexjbarnes/mailbox-sync/internal/mailbox"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for mailbox-sync.
type Config struct {
	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	// LogLevel overrides the level implied by Environment.
	LogLevel string `env:"LOG_LEVEL"`

	// StateDir holds the database and the download/upload spool. Defaults
	// to ~/.mailbox-sync.
	StateDir string `env:"MAILBOX_STATE_DIR"`
	// SpoolDir is watched for outgoing messages, one subdirectory per
	// contact. Empty disables the watcher.
	SpoolDir string `env:"MAILBOX_SPOOL_DIR"`
	// InboxDir receives delivered messages, one subdirectory per contact.
	// Empty means received messages are acked without being written out.
	InboxDir string `env:"MAILBOX_INBOX_DIR"`

	// Tor
	TorSocksAddr     string        `env:"TOR_SOCKS_ADDR" envDefault:"127.0.0.1:9050"`
	TorCheckInterval time.Duration `env:"TOR_CHECK_INTERVAL" envDefault:"30s"`

	// Mailbox timings
	RetryMinInterval      time.Duration `env:"RETRY_MIN_INTERVAL" envDefault:"1m"`
	RetryMaxInterval      time.Duration `env:"RETRY_MAX_INTERVAL" envDefault:"24h"`
	ReachabilityPeriod    time.Duration `env:"REACHABILITY_PERIOD" envDefault:"10m"`
	ConnectivityFreshness time.Duration `env:"CONNECTIVITY_FRESHNESS" envDefault:"10s"`
	UploadCheckDelay      time.Duration `env:"UPLOAD_CHECK_DELAY" envDefault:"5s"`
	UploadRetryDelay      time.Duration `env:"UPLOAD_RETRY_DELAY" envDefault:"1m"`
	MaxLatency            time.Duration `env:"MAX_LATENCY" envDefault:"336h"`

	IOWorkers int `env:"IO_WORKERS" envDefault:"8"`

	// HTTP listener for /metrics, /status and the control API. Empty
	// disables it.
	HTTPListenAddr string `env:"HTTP_LISTEN_ADDR"`
	// ControlAPIKeys lists bcrypt hashes of control API keys.
	// Format: "name1:hash1,name2:hash2"
	ControlAPIKeys string `env:"CONTROL_API_KEYS"`

	// Pair with a mailbox at startup. Both or neither must be set.
	PairAddress    string `env:"PAIR_ADDRESS"`
	PairSetupToken string `env:"PAIR_SETUP_TOKEN"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.StateDir == "" {
		dir, err := DefaultStateDir()
		if err != nil {
			return nil, err
		}

		cfg.StateDir = dir
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// The watcher attributes files to contacts by comparing event paths
	// with SpoolDir, so every directory is made absolute up front.
	for _, p := range []*string{&cfg.StateDir, &cfg.SpoolDir, &cfg.InboxDir} {
		if *p == "" {
			continue
		}

		abs, err := filepath.Abs(*p)
		if err != nil {
			return nil, fmt.Errorf("resolving %q to absolute path: %w", *p, err)
		}

		*p = abs
	}

	return cfg, nil
}

func (c *Config) validate() error {
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"TOR_CHECK_INTERVAL", c.TorCheckInterval},
		{"RETRY_MIN_INTERVAL", c.RetryMinInterval},
		{"RETRY_MAX_INTERVAL", c.RetryMaxInterval},
		{"REACHABILITY_PERIOD", c.ReachabilityPeriod},
		{"CONNECTIVITY_FRESHNESS", c.ConnectivityFreshness},
		{"UPLOAD_CHECK_DELAY", c.UploadCheckDelay},
		{"UPLOAD_RETRY_DELAY", c.UploadRetryDelay},
		{"MAX_LATENCY", c.MaxLatency},
	}

	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.d)
		}
	}

	if c.RetryMinInterval > c.RetryMaxInterval {
		return fmt.Errorf("RETRY_MIN_INTERVAL (%s) exceeds RETRY_MAX_INTERVAL (%s)", c.RetryMinInterval, c.RetryMaxInterval)
	}

	if c.IOWorkers < 1 {
		return fmt.Errorf("IO_WORKERS must be at least 1, got %d", c.IOWorkers)
	}

	if (c.PairAddress == "") != (c.PairSetupToken == "") {
		return fmt.Errorf("PAIR_ADDRESS and PAIR_SETUP_TOKEN must be set together")
	}

	if c.TorSocksAddr == "" {
		return fmt.Errorf("TOR_SOCKS_ADDR is required")
	}

	if _, err := c.ParseControlAPIKeys(); err != nil {
		return err
	}

	return nil
}

// DefaultStateDir returns ~/.mailbox-sync.
func DefaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".mailbox-sync"), nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// DatabasePath is where the state database lives.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.StateDir, "state.db")
}

// Mailbox converts the timing settings for the mailbox subsystem.
func (c *Config) Mailbox() mailbox.Config {
	return mailbox.Config{
		ConnectivityFreshness: c.ConnectivityFreshness,
		ReachabilityPeriod:    c.ReachabilityPeriod,
		UploadCheckDelay:      c.UploadCheckDelay,
		UploadRetryDelay:      c.UploadRetryDelay,
		MaxLatency:            c.MaxLatency,
	}
}

// ParseControlAPIKeys parses the CONTROL_API_KEYS string.
// Format: "name1:hash1,name2:hash2". Hashes come from the hash-key
// command and are checked when the key store is built.
func (c *Config) ParseControlAPIKeys() ([]auth.KeyHash, error) {
	if c.ControlAPIKeys == "" {
		return nil, nil
	}

	seen := make(map[string]struct{})

	var keys []auth.KeyHash

	for _, pair := range strings.Split(c.ControlAPIKeys, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		// bcrypt hashes contain '$' but never ':'.
		idx := strings.Index(pair, ":")
		if idx < 0 {
			return nil, fmt.Errorf("invalid control api key entry (missing ':')")
		}

		name := pair[:idx]

		hash := pair[idx+1:]
		if name == "" || hash == "" {
			return nil, fmt.Errorf("empty name or hash in entry %d", len(keys)+1)
		}

		if !strings.HasPrefix(hash, "$2") {
			return nil, fmt.Errorf("entry %d is not a bcrypt hash; generate one with mailbox-sync hash-key", len(keys)+1)
		}

		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate key name %q in CONTROL_API_KEYS", name)
		}

		seen[name] = struct{}{}
		keys = append(keys, auth.KeyHash{Name: name, Hash: hash})
	}

	return keys, nil
}
