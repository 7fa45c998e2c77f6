package scanner

import (
	"context"
	"encoding/json"
	"strings"

	"mcpregistry-go/internal/contracts"
)

// Analyzer inspects one tool and emits a finding.
type Analyzer interface {
	Name() string
	AnalyzeTool(ctx context.Context, tool contracts.Tool) (*contracts.ToolFinding, error)
}

// defaultPatterns is the built-in rule set applied to tool names,
// descriptions and input schemas.
func defaultPatterns() []*ThreatPattern {
	return []*ThreatPattern{
		NewPattern("prompt_injection").
			WithDescription("instructions that try to override the model's behavior").
			WithKeywords(
				"ignore previous instructions",
				"ignore all previous",
				"disregard prior instructions",
				"you must always call this tool",
				"do not tell the user",
				"hide this from the user",
			).
			WithSeverity(contracts.FindingCritical).
			Build(),
		NewPattern("tool_shadowing").
			WithDescription("attempts to suppress or replace other tools").
			WithKeywords(
				"instead of using other tools",
				"never use any other tool",
				"all other tools are deprecated",
			).
			WithSeverity(contracts.FindingHigh).
			Build(),
		NewPattern("destructive_command").
			WithDescription("shell commands with destructive or exfiltrating effect").
			WithRegex(`(?i)(rm\s+-rf\s+/|curl[^|]*\|\s*(sh|bash)|wget[^|]*\|\s*(sh|bash)|mkfs\.|dd\s+if=)`).
			WithSeverity(contracts.FindingHigh).
			Build(),
		NewPattern("sensitive_file_access").
			WithDescription("references to credential files or key material").
			WithRegex(`(?i)(\.ssh/id_[a-z0-9]+|\.aws/credentials|/etc/shadow|\.env\b|\.npmrc|\.netrc)`).
			WithSeverity(contracts.FindingMedium).
			Build(),
		NewPattern("embedded_aws_key").
			WithDescription("AWS access key id embedded in tool text").
			WithRegex(`\bAKIA[0-9A-Z]{16}\b`).
			WithSeverity(contracts.FindingCritical).
			Build(),
		NewPattern("data_exfiltration").
			WithDescription("instructions to transmit local data to remote endpoints").
			WithKeywords(
				"send the contents to",
				"upload environment variables",
				"post the file to http",
			).
			WithSeverity(contracts.FindingHigh).
			Build(),
	}
}

// RuleAnalyzer runs the pattern rules plus an entropy pass over each tool.
type RuleAnalyzer struct {
	patterns         []*ThreatPattern
	entropyThreshold float64
}

// NewRuleAnalyzer builds the analyzer with the built-in rule set.
func NewRuleAnalyzer() *RuleAnalyzer {
	return &RuleAnalyzer{patterns: defaultPatterns(), entropyThreshold: 4.7}
}

func (a *RuleAnalyzer) Name() string { return "rules" }

// AnalyzeTool matches every pattern against the tool's text surface and
// reports the highest severity found.
func (a *RuleAnalyzer) AnalyzeTool(_ context.Context, tool contracts.Tool) (*contracts.ToolFinding, error) {
	content := toolText(tool)

	finding := &contracts.ToolFinding{
		ToolName: tool.Name,
		Analyzer: a.Name(),
		Severity: contracts.FindingSafe,
		IsSafe:   true,
	}

	var summaries []string
	for _, pattern := range a.patterns {
		matches := pattern.Match(content)
		if len(matches) == 0 {
			continue
		}
		finding.ThreatNames = append(finding.ThreatNames, pattern.Name)
		summaries = append(summaries, pattern.Description)
		if severityRank(pattern.Severity) > severityRank(finding.Severity) {
			finding.Severity = pattern.Severity
		}
	}

	if secrets := FindHighEntropyStrings(content, a.entropyThreshold, 5); len(secrets) > 0 {
		finding.ThreatNames = append(finding.ThreatNames, "high_entropy_string")
		summaries = append(summaries, "high-entropy string that may be an embedded secret")
		if severityRank(contracts.FindingMedium) > severityRank(finding.Severity) {
			finding.Severity = contracts.FindingMedium
		}
	}

	if len(finding.ThreatNames) > 0 {
		finding.IsSafe = false
		finding.ThreatSummary = strings.Join(summaries, "; ")
	}
	return finding, nil
}

// toolText flattens the tool's name, description and schema into one
// searchable string.
func toolText(tool contracts.Tool) string {
	var b strings.Builder
	b.WriteString(tool.Name)
	b.WriteString("\n")
	b.WriteString(tool.Description)
	if len(tool.InputSchema) > 0 {
		if raw, err := json.Marshal(tool.InputSchema); err == nil {
			b.WriteString("\n")
			b.Write(raw)
		}
	}
	return b.String()
}

func severityRank(s contracts.FindingSeverity) int {
	switch s {
	case contracts.FindingCritical:
		return 4
	case contracts.FindingHigh:
		return 3
	case contracts.FindingMedium:
		return 2
	case contracts.FindingLow:
		return 1
	default:
		return 0
	}
}
