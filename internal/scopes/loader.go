package scopes

import (
	"context"
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"mcpregistry-go/internal/contracts"
	"mcpregistry-go/internal/storage"
)

// scopeFile is the YAML shape of a scope definitions file.
type scopeFile struct {
	Scopes []contracts.ScopeDocument `yaml:"scopes"`
}

// LoadFile reads a scope YAML file into the repository. Existing documents
// with the same key are replaced; documents absent from the file are left
// alone (the repository is also writable through the admin API).
func LoadFile(ctx context.Context, path string, repo storage.ScopeRepository, logger *zap.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read scope file: %w", err)
	}

	var file scopeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse scope file %s: %w", path, err)
	}

	for i := range file.Scopes {
		doc := file.Scopes[i]
		if doc.Key() == "" {
			logger.Warn("skipping scope document without a key", zap.Int("index", i))
			continue
		}
		if err := repo.Put(ctx, &doc); err != nil {
			return fmt.Errorf("failed to store scope %s: %w", doc.Key(), err)
		}
	}

	logger.Info("scope file loaded", zap.String("path", path), zap.Int("scopes", len(file.Scopes)))
	return nil
}

// WatchFile reloads the scope file whenever it changes on disk. The watcher
// runs until the context ends.
func WatchFile(ctx context.Context, path string, repo storage.ScopeRepository, logger *zap.Logger) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read scope file for watching: %w", err)
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		if err := LoadFile(ctx, path, repo, logger); err != nil {
			logger.Error("scope file reload failed", zap.String("path", path), zap.Error(err))
		}
	})
	v.WatchConfig()

	logger.Info("watching scope file", zap.String("path", path))
	return nil
}
