package contracts

import (
	"regexp"
	"time"
)

// SyncMode controls which peer items a sync accepts.
type SyncMode string

const (
	SyncModeAll       SyncMode = "all"
	SyncModeWhitelist SyncMode = "whitelist"
	SyncModeTagFilter SyncMode = "tag_filter"
)

// PeerAuthType is how the local registry authenticates to a peer.
type PeerAuthType string

const (
	PeerAuthNone        PeerAuthType = "none"
	PeerAuthAPIKey      PeerAuthType = "api_key"
	PeerAuthOAuth2      PeerAuthType = "oauth2"
	PeerAuthStaticToken PeerAuthType = "static_token"
)

// Sync interval bounds in minutes.
const (
	MinSyncIntervalMinutes = 5
	MaxSyncIntervalMinutes = 1440
)

var peerIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidPeerID reports whether the peer id is lowercase-alphanum-dashes-underscores.
func ValidPeerID(id string) bool {
	return id != "" && peerIDPattern.MatchString(id)
}

// PeerAuth carries the credentials used against a peer's export endpoint.
type PeerAuth struct {
	Type        PeerAuthType      `json:"type"`
	Credentials map[string]string `json:"credentials,omitempty"`
}

// PeerRegistry is the configuration of one remote registry to pull from.
type PeerRegistry struct {
	PeerID              string    `json:"peer_id"`
	Name                string    `json:"name"`
	Endpoint            string    `json:"endpoint"`
	Enabled             bool      `json:"enabled"`
	SyncMode            SyncMode  `json:"sync_mode"`
	WhitelistServers    []string  `json:"whitelist_servers,omitempty"`
	WhitelistAgents     []string  `json:"whitelist_agents,omitempty"`
	TagFilters          []string  `json:"tag_filters,omitempty"`
	SyncIntervalMinutes int       `json:"sync_interval_minutes"`
	Auth                PeerAuth  `json:"auth"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// PeerSyncStatus is the durable per-peer sync state.
type PeerSyncStatus struct {
	PeerID              string    `json:"peer_id"`
	IsHealthy           bool      `json:"is_healthy"`
	LastHealthCheck     time.Time `json:"last_health_check,omitempty"`
	LastSuccessfulSync  time.Time `json:"last_successful_sync,omitempty"`
	LastSyncAttempt     time.Time `json:"last_sync_attempt,omitempty"`
	CurrentGeneration   int64     `json:"current_generation"`
	TotalServersSynced  int       `json:"total_servers_synced"`
	TotalAgentsSynced   int       `json:"total_agents_synced"`
	ServersOrphaned     int       `json:"servers_orphaned"`
	AgentsOrphaned      int       `json:"agents_orphaned"`
	SyncInProgress      bool      `json:"sync_in_progress"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

// ExternalSourceConfig configures one of the two fixed external catalogs.
type ExternalSourceConfig struct {
	Enabled       bool     `json:"enabled"`
	Endpoint      string   `json:"endpoint"`
	AuthEnvVar    string   `json:"auth_env_var,omitempty"`
	SyncOnStartup bool     `json:"sync_on_startup"`
	Servers       []string `json:"servers,omitempty"`
	Agents        []string `json:"agents,omitempty"`
}

// FederationConfigID is the fixed id of the singleton federation config doc.
const FederationConfigID = "federation-config"

// FederationConfig is the single per-namespace external-source configuration.
type FederationConfig struct {
	ConfigID  string               `json:"config_id"`
	Anthropic ExternalSourceConfig `json:"anthropic"`
	Asor      ExternalSourceConfig `json:"asor"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// ServerExportItem is the wire shape of one server on the export endpoint.
type ServerExportItem struct {
	Path                string     `json:"path"`
	ServerName          string     `json:"server_name"`
	Description         string     `json:"description,omitempty"`
	ProxyPassURL        string     `json:"proxy_pass_url"`
	SupportedTransports []string   `json:"supported_transports,omitempty"`
	Tags                []string   `json:"tags,omitempty"`
	ToolList            []Tool     `json:"tool_list,omitempty"`
	Visibility          Visibility `json:"visibility"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// AgentExportItem is the wire shape of one agent on the export endpoint.
type AgentExportItem struct {
	Path                string       `json:"path"`
	AgentName           string       `json:"agent_name"`
	Description         string       `json:"description,omitempty"`
	ProxyPassURL        string       `json:"proxy_pass_url"`
	SupportedTransports []string     `json:"supported_transports,omitempty"`
	Tags                []string     `json:"tags,omitempty"`
	ProtocolVersion     string       `json:"protocol_version,omitempty"`
	Skills              []AgentSkill `json:"skills,omitempty"`
	Visibility          Visibility   `json:"visibility"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// ServerExportResponse is the body of GET /api/federation/servers.
type ServerExportResponse struct {
	TotalCount int                `json:"total_count"`
	Items      []ServerExportItem `json:"items"`
	Generation int64              `json:"generation"`
}

// AgentExportResponse is the body of GET /api/federation/agents.
type AgentExportResponse struct {
	TotalCount int               `json:"total_count"`
	Items      []AgentExportItem `json:"items"`
	Generation int64             `json:"generation"`
}

// TopologyNodeType classifies a node in the unified topology snapshot.
type TopologyNodeType string

const (
	NodeTypeLocal     TopologyNodeType = "local"
	NodeTypePeer      TopologyNodeType = "peer"
	NodeTypeAnthropic TopologyNodeType = "anthropic"
	NodeTypeAsor      TopologyNodeType = "asor"
)

// TopologyNode is one source in the unified topology.
type TopologyNode struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Type      TopologyNodeType `json:"type"`
	Endpoint  string           `json:"endpoint,omitempty"`
	Enabled   bool             `json:"enabled"`
	IsHealthy bool             `json:"is_healthy"`
	LastSync  time.Time        `json:"last_sync,omitempty"`
}

// TopologyEdge is a directed sync edge from a source node to the local node.
type TopologyEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Topology is the unified federation topology snapshot.
type Topology struct {
	Nodes []TopologyNode `json:"nodes"`
	Edges []TopologyEdge `json:"edges"`
}
