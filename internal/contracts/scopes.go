package contracts

// ScopeType discriminates the three scope document variants.
type ScopeType string

const (
	ScopeTypeServer       ScopeType = "server_scope"
	ScopeTypeGroupMapping ScopeType = "group_mapping"
	ScopeTypeUI           ScopeType = "ui_scope"
)

// AdminScopeName grants unconditional access; recognized by name.
const AdminScopeName = "mcp-registry-admin"

// ServerAccessRule permits MCP methods (and optionally specific tools) on one
// server. An empty Tools list with populated Methods means all tools pass.
type ServerAccessRule struct {
	Server  string   `json:"server" yaml:"server"`
	Methods []string `json:"methods" yaml:"methods"`
	Tools   []string `json:"tools,omitempty" yaml:"tools,omitempty"`
}

// AllowsMethod reports whether the rule permits the MCP protocol method.
func (r ServerAccessRule) AllowsMethod(method string) bool {
	for _, m := range r.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// AllowsTool reports whether the rule permits the named tool. An empty tool
// list means every tool of the server is allowed.
func (r ServerAccessRule) AllowsTool(tool string) bool {
	if len(r.Tools) == 0 {
		return true
	}
	for _, t := range r.Tools {
		if t == tool {
			return true
		}
	}
	return false
}

// UIPermissions controls what the UI may list per scope.
type UIPermissions struct {
	ListService []string `json:"list_service,omitempty" yaml:"list_service,omitempty"`
}

// ScopeDocument is the stored form of all three scope variants.
type ScopeDocument struct {
	ScopeType ScopeType `json:"scope_type" yaml:"scope_type"`

	// server_scope and ui_scope
	ScopeName string `json:"scope_name,omitempty" yaml:"scope_name,omitempty"`

	// server_scope
	ServerAccess []ServerAccessRule `json:"server_access,omitempty" yaml:"server_access,omitempty"`

	// group_mapping
	GroupName     string   `json:"group_name,omitempty" yaml:"group_name,omitempty"`
	GroupMappings []string `json:"group_mappings,omitempty" yaml:"group_mappings,omitempty"`

	// ui_scope
	UIPermissions *UIPermissions `json:"ui_permissions,omitempty" yaml:"ui_permissions,omitempty"`
}

// Key returns the uniqueness key of the document: the scope name for scope
// variants, the group name for group mappings.
func (d *ScopeDocument) Key() string {
	if d.ScopeType == ScopeTypeGroupMapping {
		return d.GroupName
	}
	return d.ScopeName
}
