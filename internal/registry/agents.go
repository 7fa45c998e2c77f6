package registry

import (
	"context"

	"go.uber.org/zap"

	"mcpregistry-go/internal/apperrors"
	"mcpregistry-go/internal/contracts"
	"mcpregistry-go/internal/storage"
)

// RegisterAgent validates and persists a new agent. Agents carry no tool
// list, so they are not scan-gated and start enabled.
func (s *Service) RegisterAgent(ctx context.Context, agent *contracts.Agent) (*contracts.Agent, error) {
	if err := validateAgent(agent); err != nil {
		return nil, err
	}
	if agent.Visibility == "" {
		agent.Visibility = contracts.VisibilityPrivate
	}
	if agent.TrustLevel == "" {
		agent.TrustLevel = contracts.TrustLow
	}
	agent.IsEnabled = true

	if _, err := storage.RetryTransient(ctx, func() (struct{}, error) {
		return struct{}{}, s.backend.Agents().Create(ctx, agent)
	}); err != nil {
		return nil, err
	}

	if err := s.indexer.IndexAgent(ctx, agent); err != nil {
		s.logger.Warn("failed to index agent", zap.String("path", agent.Path), zap.Error(err))
	}

	s.logger.Info("agent registered", zap.String("path", agent.Path))
	return agent, nil
}

// GetAgent returns one agent by path.
func (s *Service) GetAgent(ctx context.Context, path string) (*contracts.Agent, error) {
	return s.backend.Agents().Get(ctx, path)
}

// ListAgents returns every agent, filtering disabled ones unless asked.
func (s *Service) ListAgents(ctx context.Context, includeDisabled bool) ([]*contracts.Agent, error) {
	agents, err := s.backend.Agents().ListAll(ctx)
	if err != nil {
		return nil, err
	}
	if includeDisabled {
		return agents, nil
	}
	out := agents[:0]
	for _, agent := range agents {
		if agent.IsEnabled {
			out = append(out, agent)
		}
	}
	return out, nil
}

// ToggleAgent flips the enabled flag.
func (s *Service) ToggleAgent(ctx context.Context, path string, enabled bool) error {
	if err := s.backend.Agents().SetEnabled(ctx, path, enabled); err != nil {
		return err
	}
	agent, err := s.backend.Agents().Get(ctx, path)
	if err != nil {
		return err
	}
	return s.indexer.IndexAgent(ctx, agent)
}

// UpdateAgent replaces the stored document with conflict detection.
func (s *Service) UpdateAgent(ctx context.Context, agent *contracts.Agent) (*contracts.Agent, error) {
	if err := validateAgent(agent); err != nil {
		return nil, err
	}
	if err := s.backend.Agents().Update(ctx, agent); err != nil {
		return nil, err
	}
	if err := s.indexer.IndexAgent(ctx, agent); err != nil {
		s.logger.Warn("failed to reindex agent", zap.String("path", agent.Path), zap.Error(err))
	}
	return agent, nil
}

// DeleteAgent removes the agent after a name echo and cascades its
// embedding document.
func (s *Service) DeleteAgent(ctx context.Context, path, echoName string) error {
	agent, err := s.backend.Agents().Get(ctx, path)
	if err != nil {
		return err
	}
	if echoName != agent.AgentName {
		return apperrors.Newf(apperrors.KindBadRequest,
			"confirmation name does not match agent name %q", agent.AgentName)
	}

	if err := s.backend.Agents().Delete(ctx, path); err != nil {
		return err
	}
	if err := s.indexer.Remove(ctx, contracts.EntityTypeAgent, path); err != nil {
		s.logger.Warn("failed to remove embedding document", zap.String("path", path), zap.Error(err))
	}

	s.logger.Info("agent deleted", zap.String("path", path))
	return nil
}
