package contracts

import (
	"time"
)

// EntityType discriminates indexed entities.
type EntityType string

const (
	EntityTypeServer EntityType = "server"
	EntityTypeAgent  EntityType = "agent"
)

// SearchMode reports how a query was scored.
type SearchMode string

const (
	SearchModeHybrid  SearchMode = "hybrid"
	SearchModeLexical SearchMode = "lexical-only"
)

// EmbeddingDocument is the per-entity search document. One document exists
// per (entity_type, path); the embedding dimension is fixed per namespace.
type EmbeddingDocument struct {
	EntityType       EntityType             `json:"entity_type"`
	Path             string                 `json:"path"`
	Name             string                 `json:"name"`
	Description      string                 `json:"description,omitempty"`
	Tags             []string               `json:"tags,omitempty"`
	IsEnabled        bool                   `json:"is_enabled"`
	TextForEmbedding string                 `json:"text_for_embedding"`
	Embedding        []float32              `json:"embedding,omitempty"`
	Tools            []Tool                 `json:"tools,omitempty"`
	Skills           []AgentSkill           `json:"skills,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	IndexedAt        time.Time              `json:"indexed_at"`
}

// DocID returns the index document id, unique per (entity_type, path).
func (d *EmbeddingDocument) DocID() string {
	return string(d.EntityType) + ":" + d.Path
}

// SearchHit is one scored entity in a grouped search response.
type SearchHit struct {
	EntityType     EntityType             `json:"entity_type"`
	Path           string                 `json:"path"`
	Name           string                 `json:"name"`
	Description    string                 `json:"description,omitempty"`
	Tags           []string               `json:"tags,omitempty"`
	RelevanceScore float64                `json:"relevance_score"`
	MatchContext   string                 `json:"match_context,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// ToolHit is a matching tool surfaced at the top level of a search response,
// carrying the full input schema so a client can invoke it directly.
type ToolHit struct {
	ServerPath     string                 `json:"server_path"`
	Name           string                 `json:"name"`
	Description    string                 `json:"description,omitempty"`
	InputSchema    map[string]interface{} `json:"input_schema,omitempty"`
	RelevanceScore float64                `json:"relevance_score"`
}

// SearchResponse groups hits by entity type.
type SearchResponse struct {
	Servers    []SearchHit `json:"servers"`
	Agents     []SearchHit `json:"agents"`
	Tools      []ToolHit   `json:"tools"`
	SearchMode SearchMode  `json:"search_mode"`
}
