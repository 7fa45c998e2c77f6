package contracts

import (
	"time"
)

// ScanStatus is the lifecycle state of a security scan.
type ScanStatus string

const (
	ScanStatusSafe       ScanStatus = "safe"
	ScanStatusUnsafe     ScanStatus = "unsafe"
	ScanStatusPending    ScanStatus = "pending"
	ScanStatusInProgress ScanStatus = "in_progress"
	ScanStatusFailed     ScanStatus = "failed"
)

// FindingSeverity grades one analyzer finding on one tool.
type FindingSeverity string

const (
	FindingSafe     FindingSeverity = "SAFE"
	FindingLow      FindingSeverity = "LOW"
	FindingMedium   FindingSeverity = "MEDIUM"
	FindingHigh     FindingSeverity = "HIGH"
	FindingCritical FindingSeverity = "CRITICAL"
)

// SecurityPendingTag is attached to servers gated behind an unsafe verdict.
const SecurityPendingTag = "security-pending"

// ToolFinding is one analyzer's verdict on a single tool.
type ToolFinding struct {
	ToolName      string          `json:"tool_name"`
	Analyzer      string          `json:"analyzer"`
	Severity      FindingSeverity `json:"severity"`
	ThreatNames   []string        `json:"threat_names,omitempty"`
	ThreatSummary string          `json:"threat_summary,omitempty"`
	IsSafe        bool            `json:"is_safe"`
}

// Vulnerability is one reportable issue on a scan record.
type Vulnerability struct {
	Severity       string `json:"severity"`
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	CVEID          string `json:"cve_id,omitempty"`
	PackageName    string `json:"package_name,omitempty"`
	PackageVersion string `json:"package_version,omitempty"`
	FixedVersion   string `json:"fixed_version,omitempty"`
}

// ScanResult is one completed (or attempted) scan of a server. Multiple
// results may exist per server; the latest timestamp wins.
type ScanResult struct {
	ScanID        string            `json:"scan_id"`
	ServerPath    string            `json:"server_path"`
	ScanTimestamp time.Time         `json:"scan_timestamp"`
	ScanStatus    ScanStatus        `json:"scan_status"`
	Findings      []ToolFinding     `json:"findings,omitempty"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities,omitempty"`
	RiskScore     float64           `json:"risk_score"`
	TotalVulnerabilities int        `json:"total_vulnerabilities"`
	CriticalCount int               `json:"critical_count"`
	HighCount     int               `json:"high_count"`
	MediumCount   int               `json:"medium_count"`
	LowCount      int               `json:"low_count"`
	ScanMetadata  map[string]string `json:"scan_metadata,omitempty"`
}

// RecomputeCounts derives the severity buckets from Vulnerabilities.
func (r *ScanResult) RecomputeCounts() {
	r.TotalVulnerabilities = len(r.Vulnerabilities)
	r.CriticalCount, r.HighCount, r.MediumCount, r.LowCount = 0, 0, 0, 0
	for _, v := range r.Vulnerabilities {
		switch FindingSeverity(v.Severity) {
		case FindingCritical:
			r.CriticalCount++
		case FindingHigh:
			r.HighCount++
		case FindingMedium:
			r.MediumCount++
		case FindingLow:
			r.LowCount++
		}
	}
}
