package registry

import (
	"fmt"
	"net/url"
	"regexp"

	"github.com/xeipuuv/gojsonschema"

	"mcpregistry-go/internal/apperrors"
	"mcpregistry-go/internal/contracts"
)

// Entity paths are absolute, lowercase slug segments: /fininfo, /team/docs.
var pathPattern = regexp.MustCompile(`^/[a-z0-9][a-z0-9_-]*(/[a-z0-9][a-z0-9_-]*)*$`)

var validTransports = map[string]bool{
	contracts.TransportStdio:          true,
	contracts.TransportSSE:            true,
	contracts.TransportStreamableHTTP: true,
	contracts.TransportWebSocket:      true,
}

func validatePath(path string) error {
	if !pathPattern.MatchString(path) {
		return apperrors.Newf(apperrors.KindBadRequest, "invalid path %q", path)
	}
	return nil
}

func validateProxyURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperrors.Newf(apperrors.KindBadRequest, "invalid proxy_pass_url %q", raw)
	}
	return nil
}

func validateTransports(transports []string) error {
	for _, t := range transports {
		if !validTransports[t] {
			return apperrors.Newf(apperrors.KindBadRequest, "unsupported transport %q", t)
		}
	}
	return nil
}

func validateVisibility(v contracts.Visibility) error {
	switch v {
	case contracts.VisibilityPublic, contracts.VisibilityPrivate, contracts.VisibilityGroup, "":
		return nil
	}
	return apperrors.Newf(apperrors.KindBadRequest, "unknown visibility %q", v)
}

// validateToolSchemas checks that every tool's input_schema is itself a
// valid JSON Schema document.
func validateToolSchemas(tools []contracts.Tool) error {
	for _, tool := range tools {
		if tool.Name == "" {
			return apperrors.New(apperrors.KindBadRequest, "tool with empty name")
		}
		if len(tool.InputSchema) == 0 {
			continue
		}
		if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(tool.InputSchema)); err != nil {
			return apperrors.Wrap(apperrors.KindBadRequest,
				fmt.Sprintf("tool %s has an invalid input_schema", tool.Name), err)
		}
	}
	return nil
}

func validateServer(server *contracts.Server) error {
	if server.ServerName == "" {
		return apperrors.New(apperrors.KindBadRequest, "server_name is required")
	}
	if err := validatePath(server.Path); err != nil {
		return err
	}
	if err := validateProxyURL(server.ProxyPassURL); err != nil {
		return err
	}
	if err := validateTransports(server.SupportedTransports); err != nil {
		return err
	}
	if err := validateVisibility(server.Visibility); err != nil {
		return err
	}
	if err := validateToolSchemas(server.ToolList); err != nil {
		return err
	}

	defaults := 0
	for _, v := range server.Versions {
		if v.Version == "" {
			return apperrors.New(apperrors.KindBadRequest, "version with empty version string")
		}
		if err := validateProxyURL(v.ProxyPassURL); err != nil {
			return err
		}
		if v.IsDefault {
			defaults++
		}
	}
	if defaults > 1 {
		return apperrors.New(apperrors.KindBadRequest, "at most one version may be default")
	}
	return nil
}

func validateAgent(agent *contracts.Agent) error {
	if agent.AgentName == "" {
		return apperrors.New(apperrors.KindBadRequest, "agent_name is required")
	}
	if err := validatePath(agent.Path); err != nil {
		return err
	}
	if err := validateProxyURL(agent.ProxyPassURL); err != nil {
		return err
	}
	if err := validateTransports(agent.SupportedTransports); err != nil {
		return err
	}
	if err := validateVisibility(agent.Visibility); err != nil {
		return err
	}
	for _, skill := range agent.Skills {
		if skill.ID == "" || skill.Name == "" {
			return apperrors.New(apperrors.KindBadRequest, "agent skill requires id and name")
		}
	}
	switch agent.TrustLevel {
	case contracts.TrustLow, contracts.TrustMedium, contracts.TrustHigh, contracts.TrustVerified, "":
	default:
		return apperrors.Newf(apperrors.KindBadRequest, "unknown trust_level %q", agent.TrustLevel)
	}
	return nil
}

func validateSkill(skill *contracts.Skill) error {
	if skill.Name == "" {
		return apperrors.New(apperrors.KindBadRequest, "name is required")
	}
	if err := validatePath(skill.Path); err != nil {
		return err
	}
	if err := validateVisibility(skill.Visibility); err != nil {
		return err
	}
	for _, tool := range skill.AllowedTools {
		if tool.ToolName == "" || tool.ServerPath == "" {
			return apperrors.New(apperrors.KindBadRequest, "allowed_tools entries require tool_name and server_path")
		}
	}
	return nil
}

func validateVirtualServer(vs *contracts.VirtualServer) error {
	if vs.Name == "" {
		return apperrors.New(apperrors.KindBadRequest, "name is required")
	}
	if err := validatePath(vs.Path); err != nil {
		return err
	}
	if len(vs.BackendPaths) == 0 {
		return apperrors.New(apperrors.KindBadRequest, "backend_paths must not be empty")
	}
	return nil
}
