package search

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"mcpregistry-go/internal/contracts"
	"mcpregistry-go/internal/embeddings"
	"mcpregistry-go/internal/storage"
)

// Indexer keeps the embeddings index in step with entity mutations. When the
// embedding gate has latched, documents are still indexed for lexical search,
// just without a vector.
type Indexer struct {
	index    storage.SearchIndex
	embedder *embeddings.Gate
	logger   *zap.Logger
}

// NewIndexer builds an indexer over the given index and gate.
func NewIndexer(index storage.SearchIndex, embedder *embeddings.Gate, logger *zap.Logger) *Indexer {
	return &Indexer{index: index, embedder: embedder, logger: logger}
}

// IndexServer upserts the server's search document.
func (ix *Indexer) IndexServer(ctx context.Context, server *contracts.Server) error {
	doc := BuildServerDocument(server)
	return ix.upsert(ctx, doc)
}

// IndexAgent upserts the agent's search document.
func (ix *Indexer) IndexAgent(ctx context.Context, agent *contracts.Agent) error {
	doc := BuildAgentDocument(agent)
	return ix.upsert(ctx, doc)
}

// Remove drops the entity's search document.
func (ix *Indexer) Remove(ctx context.Context, entityType contracts.EntityType, path string) error {
	return ix.index.Delete(ctx, entityType, path)
}

func (ix *Indexer) upsert(ctx context.Context, doc *contracts.EmbeddingDocument) error {
	if !ix.embedder.Unavailable() {
		vec, err := ix.embedder.Embed(ctx, doc.TextForEmbedding)
		if err == nil {
			doc.Embedding = vec
		} else {
			ix.logger.Warn("indexing without embedding",
				zap.String("doc", doc.DocID()), zap.Error(err))
		}
	}
	doc.IndexedAt = time.Now().UTC()
	return ix.index.Index(ctx, doc)
}

// BuildServerDocument derives the search document for a server.
func BuildServerDocument(server *contracts.Server) *contracts.EmbeddingDocument {
	var b strings.Builder
	b.WriteString(server.ServerName)
	b.WriteString(". ")
	b.WriteString(server.Description)
	b.WriteString(". Tags: ")
	b.WriteString(strings.Join(server.Tags, ", "))
	if len(server.ToolList) > 0 {
		var names, descs []string
		for _, t := range server.ToolList {
			names = append(names, t.Name)
			if t.Description != "" {
				descs = append(descs, t.Description)
			}
		}
		b.WriteString(". Tools: ")
		b.WriteString(strings.Join(names, ", "))
		b.WriteString(". ")
		b.WriteString(strings.Join(descs, " "))
	}

	return &contracts.EmbeddingDocument{
		EntityType:       contracts.EntityTypeServer,
		Path:             server.Path,
		Name:             server.ServerName,
		Description:      server.Description,
		Tags:             server.Tags,
		IsEnabled:        server.IsEnabled,
		TextForEmbedding: b.String(),
		Tools:            server.ToolList,
		Metadata: map[string]interface{}{
			"proxy_pass_url": server.ProxyPassURL,
			"num_tools":      server.NumTools,
			"visibility":     string(server.Visibility),
		},
	}
}

// BuildAgentDocument derives the search document for an agent.
func BuildAgentDocument(agent *contracts.Agent) *contracts.EmbeddingDocument {
	var b strings.Builder
	b.WriteString(agent.AgentName)
	b.WriteString(". ")
	b.WriteString(agent.Description)
	b.WriteString(". Tags: ")
	b.WriteString(strings.Join(agent.Tags, ", "))
	b.WriteString(". Capabilities: ")
	b.WriteString(strings.Join(agent.Capabilities, ", "))
	if len(agent.Skills) > 0 {
		var names, descs []string
		for _, s := range agent.Skills {
			names = append(names, s.Name)
			if s.Description != "" {
				descs = append(descs, s.Description)
			}
		}
		b.WriteString(". Skills: ")
		b.WriteString(strings.Join(names, ", "))
		b.WriteString(". ")
		b.WriteString(strings.Join(descs, " "))
	}

	return &contracts.EmbeddingDocument{
		EntityType:       contracts.EntityTypeAgent,
		Path:             agent.Path,
		Name:             agent.AgentName,
		Description:      agent.Description,
		Tags:             agent.Tags,
		IsEnabled:        agent.IsEnabled,
		TextForEmbedding: b.String(),
		Skills:           agent.Skills,
		Metadata: map[string]interface{}{
			"proxy_pass_url":   agent.ProxyPassURL,
			"protocol_version": agent.ProtocolVersion,
			"trust_level":      string(agent.TrustLevel),
			"visibility":       string(agent.Visibility),
		},
	}
}
