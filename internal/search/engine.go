// Package search ranks servers, agents and tools against free-form queries
// with a weighted fusion of BM25 and vector k-NN scores, degrading to
// lexical-only scoring when embeddings are unavailable.
package search

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mcpregistry-go/internal/config"
	"mcpregistry-go/internal/contracts"
	"mcpregistry-go/internal/embeddings"
	"mcpregistry-go/internal/storage"
)

// Request is one search invocation.
type Request struct {
	Query           string
	EntityTypes     []contracts.EntityType
	MaxResults      int
	IncludeDisabled bool
}

// Engine runs the hybrid retrieval pipeline over a SearchIndex.
type Engine struct {
	index    storage.SearchIndex
	embedder *embeddings.Gate
	cfg      *config.SearchConfig
	logger   *zap.Logger
}

// New builds an engine. The embedder gate decides hybrid vs lexical mode.
func New(index storage.SearchIndex, embedder *embeddings.Gate, cfg *config.SearchConfig, logger *zap.Logger) *Engine {
	return &Engine{index: index, embedder: embedder, cfg: cfg, logger: logger}
}

// candidate is one fused hit before grouping.
type candidate struct {
	doc       *contracts.EmbeddingDocument
	bm25      float64
	knn       float64
	hasBM25   bool
	hasKNN    bool
	boost     float64
	relevance float64
}

// Search executes the pipeline and groups hits by entity type.
func (e *Engine) Search(ctx context.Context, req Request) (*contracts.SearchResponse, error) {
	resp := &contracts.SearchResponse{
		Servers:    []contracts.SearchHit{},
		Agents:     []contracts.SearchHit{},
		Tools:      []contracts.ToolHit{},
		SearchMode: contracts.SearchModeHybrid,
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return resp, nil
	}

	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = e.cfg.MaxResults
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	var vector []float32
	if !e.embedder.Unavailable() {
		var err error
		vector, err = e.embedder.Embed(ctx, query)
		if err != nil {
			vector = nil
		}
	}
	if vector == nil {
		resp.SearchMode = contracts.SearchModeLexical
	}

	candidates, err := e.retrieve(ctx, query, vector, req.EntityTypes, maxResults, req.IncludeDisabled)
	if err != nil {
		return nil, err
	}

	terms := queryTerms(query)
	for _, c := range candidates {
		c.boost = textBoost(c.doc, terms)
	}
	score(candidates, resp.SearchMode, e.cfg)

	// Ties break by higher boost, then lexicographic path.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].relevance != candidates[j].relevance {
			return candidates[i].relevance > candidates[j].relevance
		}
		if candidates[i].boost != candidates[j].boost {
			return candidates[i].boost > candidates[j].boost
		}
		return candidates[i].doc.Path < candidates[j].doc.Path
	})

	topK := e.cfg.TopKPerType
	for _, c := range candidates {
		hit := contracts.SearchHit{
			EntityType:     c.doc.EntityType,
			Path:           c.doc.Path,
			Name:           c.doc.Name,
			Description:    c.doc.Description,
			Tags:           c.doc.Tags,
			RelevanceScore: c.relevance,
			MatchContext:   matchContext(c.doc, terms),
			Metadata:       c.doc.Metadata,
		}

		switch c.doc.EntityType {
		case contracts.EntityTypeServer:
			if len(resp.Servers) < topK {
				resp.Servers = append(resp.Servers, hit)
				for _, tool := range matchingTools(c.doc, terms) {
					resp.Tools = append(resp.Tools, contracts.ToolHit{
						ServerPath:     c.doc.Path,
						Name:           tool.Name,
						Description:    tool.Description,
						InputSchema:    tool.InputSchema,
						RelevanceScore: c.relevance,
					})
				}
			}
		case contracts.EntityTypeAgent:
			if len(resp.Agents) < topK {
				resp.Agents = append(resp.Agents, hit)
			}
		}
	}

	e.logger.Debug("search complete",
		zap.String("query", query),
		zap.String("mode", string(resp.SearchMode)),
		zap.Int("servers", len(resp.Servers)),
		zap.Int("agents", len(resp.Agents)),
		zap.Int("tools", len(resp.Tools)))
	return resp, nil
}

// retrieve runs the BM25 and k-NN sub-queries (in parallel in hybrid mode)
// and merges hits by document id.
func (e *Engine) retrieve(ctx context.Context, query string, vector []float32, entityTypes []contracts.EntityType, limit int, includeDisabled bool) ([]*candidate, error) {
	var lexHits, vecHits []storage.IndexHit

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := e.index.LexicalSearch(gctx, query, entityTypes, limit, includeDisabled)
		if err != nil {
			return err
		}
		lexHits = hits
		return nil
	})
	if vector != nil {
		g.Go(func() error {
			hits, err := e.index.VectorSearch(gctx, vector, entityTypes, limit, includeDisabled)
			if err != nil {
				return err
			}
			vecHits = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := map[string]*candidate{}
	order := []*candidate{}
	for _, hit := range lexHits {
		c := &candidate{doc: hit.Doc, bm25: hit.Score, hasBM25: true}
		merged[hit.Doc.DocID()] = c
		order = append(order, c)
	}
	for _, hit := range vecHits {
		if c, ok := merged[hit.Doc.DocID()]; ok {
			c.knn = hit.Score
			c.hasKNN = true
			continue
		}
		c := &candidate{doc: hit.Doc, knn: hit.Score, hasKNN: true}
		merged[hit.Doc.DocID()] = c
		order = append(order, c)
	}
	return order, nil
}

// score fills candidate.relevance. Hybrid mode fuses min-max normalized
// sub-query scores plus the boost contribution, renormalized to [0, 1];
// lexical mode is boost-only on the fixed scale.
func score(candidates []*candidate, mode contracts.SearchMode, cfg *config.SearchConfig) {
	if mode == contracts.SearchModeLexical {
		for _, c := range candidates {
			c.relevance = minF(1, c.boost/maxLexicalBoost)
		}
		return
	}

	normBM25 := minMax(candidates, func(c *candidate) (float64, bool) { return c.bm25, c.hasBM25 })
	normKNN := minMax(candidates, func(c *candidate) (float64, bool) { return c.knn, c.hasKNN })

	var maxFused float64
	fused := make([]float64, len(candidates))
	for i, c := range candidates {
		fused[i] = cfg.BM25Weight*normBM25[i] + cfg.KNNWeight*normKNN[i] + c.boost/maxLexicalBoost
		if fused[i] > maxFused {
			maxFused = fused[i]
		}
	}
	for i, c := range candidates {
		if maxFused > 0 {
			c.relevance = fused[i] / maxFused
		}
	}
}

// minMax normalizes present scores to [0, 1]; absent scores stay 0.
func minMax(candidates []*candidate, get func(*candidate) (float64, bool)) []float64 {
	lo, hi := 0.0, 0.0
	first := true
	for _, c := range candidates {
		v, ok := get(c)
		if !ok {
			continue
		}
		if first {
			lo, hi = v, v
			first = false
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}

	out := make([]float64, len(candidates))
	for i, c := range candidates {
		v, ok := get(c)
		if !ok {
			continue
		}
		if hi == lo {
			out[i] = 1
			continue
		}
		out[i] = (v - lo) / (hi - lo)
	}
	return out
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
