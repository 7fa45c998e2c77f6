package registry

import (
	"context"

	"go.uber.org/zap"

	"mcpregistry-go/internal/apperrors"
	"mcpregistry-go/internal/contracts"
	"mcpregistry-go/internal/storage"
)

// CreateSkill validates and persists a new skill. Allowed tools must point
// at servers that exist.
func (s *Service) CreateSkill(ctx context.Context, skill *contracts.Skill) (*contracts.Skill, error) {
	if err := validateSkill(skill); err != nil {
		return nil, err
	}
	if skill.Visibility == "" {
		skill.Visibility = contracts.VisibilityPrivate
	}
	skill.IsEnabled = true
	skill.RatingSum = 0
	skill.RatingCount = 0

	for _, tool := range skill.AllowedTools {
		if _, err := s.backend.Servers().Get(ctx, tool.ServerPath); err != nil {
			if apperrors.KindOf(err) == apperrors.KindNotFound {
				return nil, apperrors.Newf(apperrors.KindBadRequest,
					"allowed tool %s references unknown server %s", tool.ToolName, tool.ServerPath)
			}
			return nil, err
		}
	}

	if _, err := storage.RetryTransient(ctx, func() (struct{}, error) {
		return struct{}{}, s.backend.Skills().Create(ctx, skill)
	}); err != nil {
		return nil, err
	}

	s.logger.Info("skill created", zap.String("path", skill.Path))
	return skill, nil
}

// GetSkill returns one skill by path.
func (s *Service) GetSkill(ctx context.Context, path string) (*contracts.Skill, error) {
	return s.backend.Skills().Get(ctx, path)
}

// ListSkills returns every skill.
func (s *Service) ListSkills(ctx context.Context) ([]*contracts.Skill, error) {
	return s.backend.Skills().ListAll(ctx)
}

// UpdateSkill replaces the stored document, preserving the rating counters.
func (s *Service) UpdateSkill(ctx context.Context, skill *contracts.Skill) (*contracts.Skill, error) {
	if err := validateSkill(skill); err != nil {
		return nil, err
	}

	current, err := s.backend.Skills().Get(ctx, skill.Path)
	if err != nil {
		return nil, err
	}
	skill.RatingSum = current.RatingSum
	skill.RatingCount = current.RatingCount

	if err := s.backend.Skills().Update(ctx, skill); err != nil {
		return nil, err
	}
	return skill, nil
}

// RateSkill folds one rating in [1, 5] into the running average.
func (s *Service) RateSkill(ctx context.Context, path string, rating float64) (*contracts.Skill, error) {
	if rating < 1 || rating > 5 {
		return nil, apperrors.Newf(apperrors.KindBadRequest, "rating must be between 1 and 5, got %v", rating)
	}

	// Read-modify-write with one retry on a concurrent rating.
	for attempt := 0; attempt < 2; attempt++ {
		skill, err := s.backend.Skills().Get(ctx, path)
		if err != nil {
			return nil, err
		}
		skill.RatingSum += rating
		skill.RatingCount++

		err = s.backend.Skills().Update(ctx, skill)
		if err == nil {
			return skill, nil
		}
		if apperrors.KindOf(err) != apperrors.KindConflict {
			return nil, err
		}
	}
	return nil, apperrors.Newf(apperrors.KindConflict, "skill %s is being rated concurrently", path)
}

// DeleteSkill removes the skill after a name echo.
func (s *Service) DeleteSkill(ctx context.Context, path, echoName string) error {
	skill, err := s.backend.Skills().Get(ctx, path)
	if err != nil {
		return err
	}
	if echoName != skill.Name {
		return apperrors.Newf(apperrors.KindBadRequest,
			"confirmation name does not match skill name %q", skill.Name)
	}
	if err := s.backend.Skills().Delete(ctx, path); err != nil {
		return err
	}
	s.logger.Info("skill deleted", zap.String("path", path))
	return nil
}

// SkillTools resolves the skill's allowed tools against the current server
// documents, returning full tool definitions where they still exist.
func (s *Service) SkillTools(ctx context.Context, path string) ([]contracts.Tool, error) {
	skill, err := s.backend.Skills().Get(ctx, path)
	if err != nil {
		return nil, err
	}

	var tools []contracts.Tool
	for _, allowed := range skill.AllowedTools {
		server, err := s.backend.Servers().Get(ctx, allowed.ServerPath)
		if err != nil {
			continue
		}
		for _, tool := range server.ToolList {
			if tool.Name == allowed.ToolName {
				tools = append(tools, tool)
				break
			}
		}
	}
	return tools, nil
}
