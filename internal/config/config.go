// Package config defines the registry configuration and its loader.
package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultListen    = ":8080"
	defaultNamespace = "default"
)

// Storage backend selectors.
const (
	BackendFile             = "file"
	BackendDistributedIndex = "distributed-index"
)

// Embeddings provider selectors.
const (
	EmbeddingsLocal   = "local"
	EmbeddingsBedrock = "bedrock"
)

// Config is the process-wide configuration. It is constructed once at
// startup and never mutated afterwards.
type Config struct {
	Listen    string `json:"listen" mapstructure:"listen"`
	DataDir   string `json:"data_dir" mapstructure:"data-dir"`
	Namespace string `json:"namespace" mapstructure:"namespace"`

	StorageBackend string `json:"storage_backend" mapstructure:"storage-backend"`

	Embeddings *EmbeddingsConfig `json:"embeddings,omitempty" mapstructure:"embeddings"`
	Search     *SearchConfig     `json:"search,omitempty" mapstructure:"search"`
	Auth       *AuthConfig       `json:"auth,omitempty" mapstructure:"auth"`
	Scopes     *ScopesConfig     `json:"scopes,omitempty" mapstructure:"scopes"`
	Security   *SecurityConfig   `json:"security,omitempty" mapstructure:"security"`
	Federation *FederationConfig `json:"federation,omitempty" mapstructure:"federation"`
	Tokens     *TokensConfig     `json:"tokens,omitempty" mapstructure:"tokens"`
	Gateway    *GatewayConfig    `json:"gateway,omitempty" mapstructure:"gateway"`

	// Logging configuration
	Logging *LogConfig `json:"logging,omitempty" mapstructure:"logging"`

	// Observability (metrics + tracing)
	Observability *ObservabilityConfig `json:"observability,omitempty" mapstructure:"observability"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level         string `json:"level" mapstructure:"level"`
	EnableFile    bool   `json:"enable_file" mapstructure:"enable-file"`
	EnableConsole bool   `json:"enable_console" mapstructure:"enable-console"`
	Filename      string `json:"filename" mapstructure:"filename"`
	LogDir        string `json:"log_dir,omitempty" mapstructure:"log-dir"`
	MaxSize       int    `json:"max_size" mapstructure:"max-size"`       // MB
	MaxBackups    int    `json:"max_backups" mapstructure:"max-backups"` // number of backup files
	MaxAge        int    `json:"max_age" mapstructure:"max-age"`         // days
	Compress      bool   `json:"compress" mapstructure:"compress"`
	JSONFormat    bool   `json:"json_format" mapstructure:"json-format"`
}

// EmbeddingsConfig selects and tunes the embedding provider.
type EmbeddingsConfig struct {
	Provider   string `json:"provider" mapstructure:"provider"` // local, bedrock
	ModelName  string `json:"model_name" mapstructure:"model-name"`
	Dimensions int    `json:"dimensions" mapstructure:"dimensions"` // 384 or 1024
	Region     string `json:"region,omitempty" mapstructure:"region"`
}

// SearchConfig tunes the hybrid ranking pipeline.
type SearchConfig struct {
	BM25Weight     float64       `json:"bm25_weight" mapstructure:"bm25-weight"`
	KNNWeight      float64       `json:"knn_weight" mapstructure:"knn-weight"`
	TopKPerType    int           `json:"top_k_per_type" mapstructure:"top-k-per-type"`
	MaxResults     int           `json:"max_results" mapstructure:"max-results"`
	QueryTimeout   time.Duration `json:"query_timeout" mapstructure:"query-timeout"`
}

// AuthConfig configures ingress JWT verification.
type AuthConfig struct {
	JWKSURL          string `json:"jwks_url" mapstructure:"jwks-url"`
	Issuer           string `json:"issuer" mapstructure:"issuer"`
	Audience         string `json:"audience,omitempty" mapstructure:"audience"`
	GroupsClaim      string `json:"groups_claim" mapstructure:"groups-claim"`
	UsernameClaim    string `json:"username_claim" mapstructure:"username-claim"`
	Disabled         bool   `json:"disabled,omitempty" mapstructure:"disabled"`
}

// ScopesConfig points at the scope definitions.
type ScopesConfig struct {
	// File is an optional YAML scope file; when set it is loaded into the
	// scope repository at startup and watched for changes.
	File string `json:"file,omitempty" mapstructure:"file"`
}

// SecurityConfig configures the scan orchestrator.
type SecurityConfig struct {
	ScanEnabled        bool          `json:"scan_enabled" mapstructure:"scan-enabled"`
	ScanOnRegistration bool          `json:"scan_on_registration" mapstructure:"scan-on-registration"`
	BlockUnsafeServers bool          `json:"block_unsafe_servers" mapstructure:"block-unsafe-servers"`
	Analyzers          []string      `json:"analyzers,omitempty" mapstructure:"analyzers"`
	ScanTimeout        time.Duration `json:"scan_timeout" mapstructure:"scan-timeout"`
	SweepInterval      time.Duration `json:"sweep_interval" mapstructure:"sweep-interval"`
}

// FederationConfig configures the server side of federation.
type FederationConfig struct {
	// ExportToken is the static token accepted on the export endpoint.
	ExportToken string `json:"export_token,omitempty" mapstructure:"export-token"`
	// ExpectedClientID/ExpectedIssuer constrain OAuth2 callers of the
	// export endpoint.
	ExpectedClientID string        `json:"expected_client_id,omitempty" mapstructure:"expected-client-id"`
	ExpectedIssuer   string        `json:"expected_issuer,omitempty" mapstructure:"expected-issuer"`
	PeerFetchTimeout time.Duration `json:"peer_fetch_timeout" mapstructure:"peer-fetch-timeout"`
}

// TokensConfig configures the background token refresh service.
type TokensConfig struct {
	Enabled       bool          `json:"enabled" mapstructure:"enabled"`
	Dir           string        `json:"dir,omitempty" mapstructure:"dir"`
	WakeInterval  time.Duration `json:"wake_interval" mapstructure:"wake-interval"`
	RefreshBuffer time.Duration `json:"refresh_buffer" mapstructure:"refresh-buffer"`
	Credentials   []CredentialConfig `json:"credentials,omitempty" mapstructure:"credentials"`
}

// CredentialConfig is one OAuth2 client-credentials set the refresher keeps
// fresh (ingress M2M or an egress provider token).
type CredentialConfig struct {
	Name         string   `json:"name" mapstructure:"name"`
	Kind         string   `json:"kind" mapstructure:"kind"` // ingress, egress
	TokenURL     string   `json:"token_url" mapstructure:"token-url"`
	ClientID     string   `json:"client_id" mapstructure:"client-id"`
	ClientSecret string   `json:"client_secret" mapstructure:"client-secret"`
	Scopes       []string `json:"scopes,omitempty" mapstructure:"scopes"`
}

// GatewayConfig tunes the reverse proxy edge.
type GatewayConfig struct {
	RequestTimeout     time.Duration `json:"request_timeout" mapstructure:"request-timeout"`
	MaxConnsPerBackend int64         `json:"max_conns_per_backend" mapstructure:"max-conns-per-backend"`
}

// ObservabilityConfig enables metrics and tracing exports.
type ObservabilityConfig struct {
	MetricsEnabled bool   `json:"metrics_enabled" mapstructure:"metrics-enabled"`
	TracingEnabled bool   `json:"tracing_enabled" mapstructure:"tracing-enabled"`
	OTLPEndpoint   string `json:"otlp_endpoint,omitempty" mapstructure:"otlp-endpoint"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Listen:         defaultListen,
		DataDir:        "", // Will be set to ~/.mcpregistry by loader
		Namespace:      defaultNamespace,
		StorageBackend: BackendFile,
		Embeddings: &EmbeddingsConfig{
			Provider:   EmbeddingsLocal,
			ModelName:  "hashing-v1",
			Dimensions: 384,
		},
		Search: &SearchConfig{
			BM25Weight:   0.4,
			KNNWeight:    0.6,
			TopKPerType:  3,
			MaxResults:   10,
			QueryTimeout: 5 * time.Second,
		},
		Auth: &AuthConfig{
			GroupsClaim:   "groups",
			UsernameClaim: "preferred_username",
		},
		Scopes: &ScopesConfig{},
		Security: &SecurityConfig{
			ScanEnabled:        true,
			ScanOnRegistration: true,
			BlockUnsafeServers: true,
			Analyzers:          []string{"rules"},
			ScanTimeout:        60 * time.Second,
			SweepInterval:      24 * time.Hour,
		},
		Federation: &FederationConfig{
			PeerFetchTimeout: 30 * time.Second,
		},
		Tokens: &TokensConfig{
			Enabled:       false,
			WakeInterval:  5 * time.Minute,
			RefreshBuffer: time.Hour,
		},
		Gateway: &GatewayConfig{
			RequestTimeout:     30 * time.Second,
			MaxConnsPerBackend: 64,
		},
		Logging: &LogConfig{
			Level:         "info",
			EnableFile:    true,
			EnableConsole: true,
			Filename:      "main.log",
			MaxSize:       10,
			MaxBackups:    5,
			MaxAge:        30,
			Compress:      true,
			JSONFormat:    false,
		},
		Observability: &ObservabilityConfig{
			MetricsEnabled: true,
		},
	}
}

// Validate validates the configuration, filling defaults where sensible.
func (c *Config) Validate() error {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Namespace == "" {
		c.Namespace = defaultNamespace
	}

	switch c.StorageBackend {
	case BackendFile, BackendDistributedIndex:
	case "":
		c.StorageBackend = BackendFile
	default:
		return fmt.Errorf("unknown storage backend %q (want %q or %q)",
			c.StorageBackend, BackendFile, BackendDistributedIndex)
	}

	if c.Embeddings == nil {
		c.Embeddings = DefaultConfig().Embeddings
	}
	switch c.Embeddings.Provider {
	case EmbeddingsLocal:
		if c.Embeddings.Dimensions == 0 {
			c.Embeddings.Dimensions = 384
		}
	case EmbeddingsBedrock:
		if c.Embeddings.Dimensions == 0 {
			c.Embeddings.Dimensions = 1024
		}
	case "":
		c.Embeddings.Provider = EmbeddingsLocal
		c.Embeddings.Dimensions = 384
	default:
		return fmt.Errorf("unknown embeddings provider %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions != 384 && c.Embeddings.Dimensions != 1024 {
		return fmt.Errorf("embedding dimensions must be 384 or 1024, got %d", c.Embeddings.Dimensions)
	}

	if c.Search == nil {
		c.Search = DefaultConfig().Search
	}
	if c.Search.BM25Weight <= 0 && c.Search.KNNWeight <= 0 {
		c.Search.BM25Weight = 0.4
		c.Search.KNNWeight = 0.6
	}
	if c.Search.TopKPerType <= 0 {
		c.Search.TopKPerType = 3
	}
	if c.Search.MaxResults <= 0 {
		c.Search.MaxResults = 10
	}
	if c.Search.QueryTimeout <= 0 {
		c.Search.QueryTimeout = 5 * time.Second
	}

	if c.Security == nil {
		c.Security = DefaultConfig().Security
	}
	if c.Security.ScanTimeout <= 0 {
		c.Security.ScanTimeout = 60 * time.Second
	}

	if c.Federation == nil {
		c.Federation = DefaultConfig().Federation
	}
	if c.Federation.PeerFetchTimeout <= 0 {
		c.Federation.PeerFetchTimeout = 30 * time.Second
	}

	if c.Tokens == nil {
		c.Tokens = DefaultConfig().Tokens
	}
	if c.Tokens.WakeInterval <= 0 {
		c.Tokens.WakeInterval = 5 * time.Minute
	}
	// The refresh buffer has a hard floor of one hour.
	if c.Tokens.RefreshBuffer < time.Hour {
		c.Tokens.RefreshBuffer = time.Hour
	}

	if c.Gateway == nil {
		c.Gateway = DefaultConfig().Gateway
	}
	if c.Gateway.RequestTimeout <= 0 {
		c.Gateway.RequestTimeout = 30 * time.Second
	}
	if c.Gateway.MaxConnsPerBackend <= 0 {
		c.Gateway.MaxConnsPerBackend = 64
	}

	for i := range c.Tokens.Credentials {
		cred := &c.Tokens.Credentials[i]
		if cred.Name == "" || cred.TokenURL == "" || cred.ClientID == "" {
			return fmt.Errorf("token credential %d: name, token-url and client-id are required", i)
		}
		if cred.Kind != "ingress" && cred.Kind != "egress" {
			return fmt.Errorf("token credential %q: kind must be ingress or egress", cred.Name)
		}
	}

	return nil
}

// IndexName returns the namespaced index name for a base, e.g.
// IndexName("mcp-servers") -> "mcp-servers-default".
func (c *Config) IndexName(base string) string {
	return base + "-" + strings.ToLower(c.Namespace)
}
