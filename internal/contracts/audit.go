package contracts

import (
	"time"
)

// Audit stream names.
const (
	AuditStreamRegistryAPI = "registry_api"
	AuditStreamMCPAccess   = "mcp_access"
)

// AuditIdentity captures who performed the audited action.
type AuditIdentity struct {
	Username   string   `json:"username,omitempty"`
	AuthMethod string   `json:"auth_method,omitempty"`
	Groups     []string `json:"groups,omitempty"`
	Scopes     []string `json:"scopes,omitempty"`
	IsAdmin    bool     `json:"is_admin"`
}

// AuditRequest describes the inbound HTTP request.
type AuditRequest struct {
	Method    string `json:"method"`
	Path      string `json:"path"`
	ClientIP  string `json:"client_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// AuditResponse describes the outcome of the request.
type AuditResponse struct {
	StatusCode int   `json:"status_code"`
	DurationMs int64 `json:"duration_ms"`
}

// AuditAction names the operation performed and its target resource.
type AuditAction struct {
	Operation    string `json:"operation,omitempty"`
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
}

// AuditAuthorization records the FGAC decision for the request.
type AuditAuthorization struct {
	Decision           string   `json:"decision,omitempty"`
	RequiredPermission string   `json:"required_permission,omitempty"`
	EvaluatedScopes    []string `json:"evaluated_scopes,omitempty"`
}

// AuditMCPServer identifies the proxied server on mcp_access events.
type AuditMCPServer struct {
	Name string `json:"name,omitempty"`
	Path string `json:"path,omitempty"`
}

// AuditMCPRequest describes the MCP-level request on mcp_access events.
type AuditMCPRequest struct {
	Method      string `json:"method,omitempty"`
	ToolName    string `json:"tool_name,omitempty"`
	ResourceURI string `json:"resource_uri,omitempty"`
	Transport   string `json:"transport,omitempty"`
	JSONRPCID   string `json:"jsonrpc_id,omitempty"`
}

// AuditMCPResponse describes the MCP-level outcome on mcp_access events.
type AuditMCPResponse struct {
	Status     string `json:"status,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	ErrorCode  string `json:"error_code,omitempty"`
}

// AuditEvent is one append-only record in an audit stream. Events within a
// request are totally ordered; across requests ordering is by timestamp with
// ties broken by request id.
type AuditEvent struct {
	Timestamp     time.Time           `json:"timestamp"`
	RequestID     string              `json:"request_id"`
	LogType       string              `json:"log_type"`
	Version       string              `json:"version"`
	CorrelationID string              `json:"correlation_id,omitempty"`
	Identity      AuditIdentity       `json:"identity"`
	Request       AuditRequest        `json:"request"`
	Response      AuditResponse       `json:"response"`
	Action        AuditAction         `json:"action"`
	Authorization AuditAuthorization  `json:"authorization"`
	MCPServer     *AuditMCPServer     `json:"mcp_server,omitempty"`
	MCPRequest    *AuditMCPRequest    `json:"mcp_request,omitempty"`
	MCPResponse   *AuditMCPResponse   `json:"mcp_response,omitempty"`
}
