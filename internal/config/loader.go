package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultDataDirName = ".mcpregistry"

// Load reads configuration from an optional JSON/YAML file plus recognized
// environment variables, then validates it. The file may be empty; every
// value has a default.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	cfg := DefaultConfig()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, defaultDataDirName)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides maps the recognized environment variables onto the
// config. Environment wins over file values.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("MCPREGISTRY_LISTEN"); val != "" {
		cfg.Listen = val
	}
	if val := os.Getenv("MCPREGISTRY_DATA_DIR"); val != "" {
		cfg.DataDir = val
	}
	if val := os.Getenv("MCPREGISTRY_NAMESPACE"); val != "" {
		cfg.Namespace = val
	}
	if val := os.Getenv("STORAGE_BACKEND"); val != "" {
		cfg.StorageBackend = val
	}

	if cfg.Embeddings == nil {
		cfg.Embeddings = &EmbeddingsConfig{}
	}
	if val := os.Getenv("EMBEDDINGS_PROVIDER"); val != "" {
		cfg.Embeddings.Provider = val
	}
	if val := os.Getenv("EMBEDDINGS_MODEL_NAME"); val != "" {
		cfg.Embeddings.ModelName = val
	}
	if val := os.Getenv("EMBEDDINGS_MODEL_DIMENSIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Embeddings.Dimensions = n
		}
	}
	if val := os.Getenv("AWS_REGION"); val != "" && cfg.Embeddings.Region == "" {
		cfg.Embeddings.Region = val
	}

	if cfg.Security == nil {
		cfg.Security = DefaultConfig().Security
	}
	if val := os.Getenv("SECURITY_SCAN_ENABLED"); val != "" {
		cfg.Security.ScanEnabled = parseBool(val)
	}
	if val := os.Getenv("SECURITY_SCAN_ON_REGISTRATION"); val != "" {
		cfg.Security.ScanOnRegistration = parseBool(val)
	}
	if val := os.Getenv("SECURITY_SCAN_BLOCK_UNSAFE_SERVERS"); val != "" {
		cfg.Security.BlockUnsafeServers = parseBool(val)
	}
	if val := os.Getenv("SECURITY_ANALYZERS"); val != "" {
		cfg.Security.Analyzers = splitAndTrim(val)
	}
	if val := os.Getenv("SECURITY_SCAN_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Security.ScanTimeout = d
		} else if n, err := strconv.Atoi(val); err == nil {
			cfg.Security.ScanTimeout = time.Duration(n) * time.Second
		}
	}

	if cfg.Auth == nil {
		cfg.Auth = DefaultConfig().Auth
	}
	if val := os.Getenv("AUTH_JWKS_URL"); val != "" {
		cfg.Auth.JWKSURL = val
	}
	if val := os.Getenv("AUTH_ISSUER"); val != "" {
		cfg.Auth.Issuer = val
	}
	if val := os.Getenv("AUTH_AUDIENCE"); val != "" {
		cfg.Auth.Audience = val
	}

	if cfg.Federation == nil {
		cfg.Federation = DefaultConfig().Federation
	}
	if val := os.Getenv("FEDERATION_EXPORT_TOKEN"); val != "" {
		cfg.Federation.ExportToken = val
	}

	if cfg.Scopes == nil {
		cfg.Scopes = &ScopesConfig{}
	}
	if val := os.Getenv("SCOPES_FILE"); val != "" {
		cfg.Scopes.File = val
	}
}

func parseBool(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
