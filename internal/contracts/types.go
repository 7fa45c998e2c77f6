// Package contracts defines the typed documents stored and exchanged by the
// registry: servers, agents, skills, scopes, scan results and federation state.
package contracts

import (
	"time"
)

// APIResponse is the standard wrapper for all API responses
type APIResponse struct {
	Success bool              `json:"success"`
	Data    interface{}       `json:"data,omitempty"`
	Error   string            `json:"error,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Transport names accepted in SupportedTransports.
const (
	TransportStdio          = "stdio"
	TransportSSE            = "sse"
	TransportStreamableHTTP = "streamable-http"
	TransportWebSocket      = "websocket"
)

// Visibility controls who can see an entity and whether it federates.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
	VisibilityGroup   Visibility = "group"
)

// VersionStatus is the release state of a single server version.
type VersionStatus string

const (
	VersionStable     VersionStatus = "stable"
	VersionBeta       VersionStatus = "beta"
	VersionDeprecated VersionStatus = "deprecated"
)

// Tool is one entry in a server's tool list.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
}

// ServerVersion is one routable version of a server. At most one version per
// server carries IsDefault=true; the registry service enforces this.
type ServerVersion struct {
	Version      string        `json:"version"`
	ProxyPassURL string        `json:"proxy_pass_url"`
	Status       VersionStatus `json:"status"`
	IsDefault    bool          `json:"is_default"`
	Released     time.Time     `json:"released,omitempty"`
	SunsetDate   *time.Time    `json:"sunset_date,omitempty"`
}

// FederationMeta marks an entity as a federated copy owned by the sync engine.
// Zero values mean the entity is locally owned.
type FederationMeta struct {
	OriginPeer string `json:"origin_peer,omitempty"`
	OriginType string `json:"origin_type,omitempty"` // peer, anthropic, asor
	Generation int64  `json:"generation,omitempty"`
}

// IsFederated reports whether the entity was produced by a sync source.
func (m FederationMeta) IsFederated() bool {
	return m.OriginPeer != "" || m.OriginType != ""
}

// Server is a registered MCP server.
type Server struct {
	Path                string          `json:"path"`
	ServerName          string          `json:"server_name"`
	Description         string          `json:"description,omitempty"`
	ProxyPassURL        string          `json:"proxy_pass_url"`
	SupportedTransports []string        `json:"supported_transports,omitempty"`
	AuthType            string          `json:"auth_type,omitempty"`
	Tags                []string        `json:"tags,omitempty"`
	ToolList            []Tool          `json:"tool_list,omitempty"`
	NumTools            int             `json:"num_tools"`
	IsEnabled           bool            `json:"is_enabled"`
	Visibility          Visibility      `json:"visibility"`
	Versions            []ServerVersion `json:"versions,omitempty"`
	Federation          FederationMeta  `json:"federation,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// DefaultVersion returns the version flagged as default, or nil.
func (s *Server) DefaultVersion() *ServerVersion {
	for i := range s.Versions {
		if s.Versions[i].IsDefault {
			return &s.Versions[i]
		}
	}
	return nil
}

// FindVersion returns the named version, or nil.
func (s *Server) FindVersion(version string) *ServerVersion {
	for i := range s.Versions {
		if s.Versions[i].Version == version {
			return &s.Versions[i]
		}
	}
	return nil
}

// HasTag reports whether the server carries the given tag.
func (s *Server) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AgentSkill is one capability advertised on an A2A agent card.
type AgentSkill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// TrustLevel grades how much an agent's card has been verified.
type TrustLevel string

const (
	TrustLow      TrustLevel = "low"
	TrustMedium   TrustLevel = "medium"
	TrustHigh     TrustLevel = "high"
	TrustVerified TrustLevel = "verified"
)

// Agent is a registered A2A agent.
type Agent struct {
	Path                string         `json:"path"`
	AgentName           string         `json:"agent_name"`
	Description         string         `json:"description,omitempty"`
	ProxyPassURL        string         `json:"proxy_pass_url"`
	SupportedTransports []string       `json:"supported_transports,omitempty"`
	AuthType            string         `json:"auth_type,omitempty"`
	Tags                []string       `json:"tags,omitempty"`
	ProtocolVersion     string         `json:"protocol_version,omitempty"`
	Capabilities        []string       `json:"capabilities,omitempty"`
	Skills              []AgentSkill   `json:"skills,omitempty"`
	TrustLevel          TrustLevel     `json:"trust_level,omitempty"`
	IsEnabled           bool           `json:"is_enabled"`
	Visibility          Visibility     `json:"visibility"`
	Federation          FederationMeta `json:"federation,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// SkillTool names a tool a skill is allowed to use and where it lives.
type SkillTool struct {
	ToolName     string   `json:"tool_name"`
	ServerPath   string   `json:"server_path"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Skill is a reusable, versioned instruction document targeting agents.
type Skill struct {
	Path         string            `json:"path"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	SkillMDURL   string            `json:"skill_md_url,omitempty"`
	Version      string            `json:"version,omitempty"`
	Author       string            `json:"author,omitempty"`
	Visibility   Visibility        `json:"visibility"`
	Tags         []string          `json:"tags,omitempty"`
	TargetAgents []string          `json:"target_agents,omitempty"`
	AllowedTools []SkillTool       `json:"allowed_tools,omitempty"`
	Requirements map[string]string `json:"requirements,omitempty"`
	RatingSum    float64           `json:"rating_sum"`
	RatingCount  int               `json:"rating_count"`
	IsEnabled    bool              `json:"is_enabled"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Rating returns the running average rating, or 0 when unrated.
func (s *Skill) Rating() float64 {
	if s.RatingCount == 0 {
		return 0
	}
	return s.RatingSum / float64(s.RatingCount)
}

// VirtualServer composes several real backends under one synthetic path.
// ToolRoutes maps a tool name to the backend server path that serves it.
type VirtualServer struct {
	Path         string            `json:"path"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	BackendPaths []string          `json:"backend_paths"`
	ToolRoutes   map[string]string `json:"tool_routes,omitempty"`
	IsEnabled    bool              `json:"is_enabled"`
	Visibility   Visibility        `json:"visibility"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}
