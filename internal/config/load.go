package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			cfg.expandPaths()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.expandPaths()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("GOCODE_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("GOCODE_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("GOCODE_DATA_DIR", &c.DataDir)
	envStr("GOCODE_DB_DSN", &c.Database.DSN)
	envStr("GOCODE_MODEL", &c.Agent.Model)
	envStr("GOCODE_LOG_LEVEL", &c.Log.Level)
	envStr("GOCODE_OTLP_ENDPOINT", &c.Trace.Endpoint)

	if v := os.Getenv("GOCODE_MAX_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Agent.MaxSteps = n
		}
	}
	if c.Trace.Endpoint != "" {
		c.Trace.Enabled = true
	}
}

// expandPaths resolves "~" prefixes against the user home directory.
func (c *Config) expandPaths() {
	c.DataDir = expandHome(c.DataDir)
	if c.Database.DSN != "" && !strings.Contains(c.Database.DSN, "://") {
		c.Database.DSN = expandHome(c.Database.DSN)
	}
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// DatabasePath returns the effective database location: the configured DSN
// or the default SQLite file under DataDir.
func (c *Config) DatabasePath() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	return filepath.Join(c.DataDir, "gocode.db")
}

// Hash fingerprints the config for change detection.
func (c *Config) Hash() string {
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
