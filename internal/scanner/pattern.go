// Package scanner inspects registered servers' tool lists for prompt
// injection, destructive instructions and embedded secrets, and drives the
// scan lifecycle (pending, in_progress, safe/unsafe/failed).
package scanner

import (
	"math"
	"regexp"
	"strings"

	"mcpregistry-go/internal/contracts"
)

// ThreatPattern matches one class of threat in tool text.
type ThreatPattern struct {
	Name        string
	Description string
	Regex       *regexp.Regexp
	Keywords    []string
	Severity    contracts.FindingSeverity
}

// Match returns all matches of the pattern in the content.
func (p *ThreatPattern) Match(content string) []string {
	if p.Regex != nil {
		return p.Regex.FindAllString(content, -1)
	}
	lower := strings.ToLower(content)
	var matches []string
	for _, keyword := range p.Keywords {
		if strings.Contains(lower, strings.ToLower(keyword)) {
			matches = append(matches, keyword)
		}
	}
	return matches
}

// PatternBuilder assembles a ThreatPattern fluently.
type PatternBuilder struct {
	pattern ThreatPattern
}

// NewPattern starts a builder for the named pattern.
func NewPattern(name string) *PatternBuilder {
	return &PatternBuilder{pattern: ThreatPattern{Name: name}}
}

func (b *PatternBuilder) WithDescription(desc string) *PatternBuilder {
	b.pattern.Description = desc
	return b
}

func (b *PatternBuilder) WithRegex(pattern string) *PatternBuilder {
	b.pattern.Regex = regexp.MustCompile(pattern)
	return b
}

func (b *PatternBuilder) WithKeywords(keywords ...string) *PatternBuilder {
	b.pattern.Keywords = keywords
	return b
}

func (b *PatternBuilder) WithSeverity(sev contracts.FindingSeverity) *PatternBuilder {
	b.pattern.Severity = sev
	return b
}

func (b *PatternBuilder) Build() *ThreatPattern {
	return &b.pattern
}

// highEntropyCandidate matches base64-like, hex or long alphanumeric runs
// that could be embedded credentials.
var highEntropyCandidate = regexp.MustCompile(`[a-zA-Z0-9+/=_\-]{20,}`)

// ShannonEntropy measures the randomness of a string in bits per character.
// Values above 4.5 suggest random secrets rather than natural language.
func ShannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}

	freq := make(map[rune]int)
	for _, r := range s {
		freq[r]++
	}

	var entropy float64
	length := float64(len(s))
	for _, count := range freq {
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// FindHighEntropyStrings returns up to maxMatches candidate strings whose
// entropy exceeds the threshold.
func FindHighEntropyStrings(content string, threshold float64, maxMatches int) []string {
	if threshold <= 0 {
		threshold = 4.5
	}
	if maxMatches <= 0 {
		maxMatches = 10
	}

	candidates := highEntropyCandidate.FindAllString(content, maxMatches*2)
	var out []string
	for _, candidate := range candidates {
		if len(out) >= maxMatches {
			break
		}
		if ShannonEntropy(candidate) > threshold {
			out = append(out, candidate)
		}
	}
	return out
}
