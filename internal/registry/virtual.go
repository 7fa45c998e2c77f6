package registry

import (
	"context"

	"go.uber.org/zap"

	"mcpregistry-go/internal/apperrors"
	"mcpregistry-go/internal/contracts"
	"mcpregistry-go/internal/storage"
)

// CreateVirtualServer validates backend paths, derives the tool routing
// table, and persists the composite.
func (s *Service) CreateVirtualServer(ctx context.Context, vs *contracts.VirtualServer) (*contracts.VirtualServer, error) {
	if err := validateVirtualServer(vs); err != nil {
		return nil, err
	}

	routes, err := s.buildToolRoutes(ctx, vs.BackendPaths)
	if err != nil {
		return nil, err
	}
	vs.ToolRoutes = routes
	vs.IsEnabled = true
	if vs.Visibility == "" {
		vs.Visibility = contracts.VisibilityPrivate
	}

	if _, err := storage.RetryTransient(ctx, func() (struct{}, error) {
		return struct{}{}, s.backend.VirtualServers().Create(ctx, vs)
	}); err != nil {
		return nil, err
	}

	s.logger.Info("virtual server created",
		zap.String("path", vs.Path), zap.Int("tools", len(routes)))
	return vs, nil
}

// buildToolRoutes assembles the tool name to backend path table. The first
// backend listing a tool wins, so routing is deterministic for duplicates.
func (s *Service) buildToolRoutes(ctx context.Context, backendPaths []string) (map[string]string, error) {
	routes := map[string]string{}
	for _, backendPath := range backendPaths {
		server, err := s.backend.Servers().Get(ctx, backendPath)
		if err != nil {
			if apperrors.KindOf(err) == apperrors.KindNotFound {
				return nil, apperrors.Newf(apperrors.KindBadRequest,
					"backend path %s does not exist", backendPath)
			}
			return nil, err
		}
		for _, tool := range server.ToolList {
			if _, taken := routes[tool.Name]; !taken {
				routes[tool.Name] = server.Path
			}
		}
	}
	return routes, nil
}

// GetVirtualServer returns one virtual server by path.
func (s *Service) GetVirtualServer(ctx context.Context, path string) (*contracts.VirtualServer, error) {
	return s.backend.VirtualServers().Get(ctx, path)
}

// ListVirtualServers returns every virtual server.
func (s *Service) ListVirtualServers(ctx context.Context) ([]*contracts.VirtualServer, error) {
	return s.backend.VirtualServers().ListAll(ctx)
}

// UpdateVirtualServer replaces the composite and rebuilds its routes.
func (s *Service) UpdateVirtualServer(ctx context.Context, vs *contracts.VirtualServer) (*contracts.VirtualServer, error) {
	if err := validateVirtualServer(vs); err != nil {
		return nil, err
	}
	routes, err := s.buildToolRoutes(ctx, vs.BackendPaths)
	if err != nil {
		return nil, err
	}
	vs.ToolRoutes = routes

	if err := s.backend.VirtualServers().Update(ctx, vs); err != nil {
		return nil, err
	}
	return vs, nil
}

// DeleteVirtualServer removes the composite after a name echo.
func (s *Service) DeleteVirtualServer(ctx context.Context, path, echoName string) error {
	vs, err := s.backend.VirtualServers().Get(ctx, path)
	if err != nil {
		return err
	}
	if echoName != vs.Name {
		return apperrors.Newf(apperrors.KindBadRequest,
			"confirmation name does not match virtual server name %q", vs.Name)
	}
	return s.backend.VirtualServers().Delete(ctx, path)
}

// VirtualServerTools assembles the unified tool list of a composite from
// its live backend documents.
func (s *Service) VirtualServerTools(ctx context.Context, path string) ([]contracts.Tool, error) {
	vs, err := s.backend.VirtualServers().Get(ctx, path)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var tools []contracts.Tool
	for _, backendPath := range vs.BackendPaths {
		server, err := s.backend.Servers().Get(ctx, backendPath)
		if err != nil {
			continue
		}
		for _, tool := range server.ToolList {
			if seen[tool.Name] {
				continue
			}
			seen[tool.Name] = true
			tools = append(tools, tool)
		}
	}
	return tools, nil
}

// ResolveVirtualTool maps a tool call on a virtual server to the backend
// server that serves it.
func (s *Service) ResolveVirtualTool(ctx context.Context, vsPath, toolName string) (*contracts.Server, error) {
	vs, err := s.backend.VirtualServers().Get(ctx, vsPath)
	if err != nil {
		return nil, err
	}

	backendPath, ok := vs.ToolRoutes[toolName]
	if !ok {
		return nil, apperrors.Newf(apperrors.KindNotFound,
			"virtual server %s has no route for tool %s", vsPath, toolName)
	}
	return s.backend.Servers().Get(ctx, backendPath)
}
