package search

import (
	"strings"
	"unicode"

	"mcpregistry-go/internal/contracts"
)

// Per-field boost weights for the text post-pass.
const (
	boostPath        = 5.0
	boostName        = 3.0
	boostDescription = 2.0
	boostTags        = 1.5
	boostToolOrSkill = 1.0

	// maxLexicalBoost caps the lexical-only relevance at 1.0: a hit matching
	// path, name, description, tags and one tool saturates the scale.
	maxLexicalBoost = 12.5
)

// queryTerms splits a free-form query into lowercase match terms.
func queryTerms(query string) []string {
	return strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func fieldMatches(value string, terms []string) bool {
	if value == "" {
		return false
	}
	lower := strings.ToLower(value)
	for _, t := range terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// textBoost scores one document against the query terms with the per-field
// weights. Tool and skill entries contribute individually.
func textBoost(doc *contracts.EmbeddingDocument, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}

	var boost float64
	if fieldMatches(doc.Path, terms) {
		boost += boostPath
	}
	if fieldMatches(doc.Name, terms) {
		boost += boostName
	}
	if fieldMatches(doc.Description, terms) {
		boost += boostDescription
	}
	if fieldMatches(strings.Join(doc.Tags, " "), terms) {
		boost += boostTags
	}
	for _, tool := range doc.Tools {
		if fieldMatches(tool.Name, terms) || fieldMatches(tool.Description, terms) {
			boost += boostToolOrSkill
		}
	}
	for _, skill := range doc.Skills {
		if fieldMatches(skill.Name, terms) || fieldMatches(skill.Description, terms) {
			boost += boostToolOrSkill
		}
	}
	return boost
}

// matchingTools returns the document's tools whose name or description
// matches a query term.
func matchingTools(doc *contracts.EmbeddingDocument, terms []string) []contracts.Tool {
	var out []contracts.Tool
	for _, tool := range doc.Tools {
		if fieldMatches(tool.Name, terms) || fieldMatches(tool.Description, terms) {
			out = append(out, tool)
		}
	}
	return out
}

// matchContext picks a short human-readable snippet for a hit: the most
// specific matched field wins.
func matchContext(doc *contracts.EmbeddingDocument, terms []string) string {
	for _, tool := range doc.Tools {
		if fieldMatches(tool.Name, terms) {
			return "tool: " + tool.Name
		}
	}
	for _, skill := range doc.Skills {
		if fieldMatches(skill.Name, terms) {
			return "skill: " + skill.Name
		}
	}
	if fieldMatches(doc.Description, terms) {
		return snippet(doc.Description, 120)
	}
	return ""
}

func snippet(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut + "..."
}
