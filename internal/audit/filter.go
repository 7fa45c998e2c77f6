package audit

import (
	"time"

	"mcpregistry-go/internal/contracts"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// Filter selects audit events for queries and exports. Zero values mean no
// constraint on that dimension.
type Filter struct {
	Stream        string
	From          time.Time
	To            time.Time
	Username      string
	Operation     string
	ResourceType  string
	StatusMin     int
	StatusMax     int
	SortAscending bool
	Limit         int
	Offset        int
}

func (f *Filter) normalize() {
	if f.Limit <= 0 {
		f.Limit = defaultQueryLimit
	}
	if f.Limit > maxQueryLimit {
		f.Limit = maxQueryLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// streams returns the bucket names the filter touches.
func (f *Filter) streams() []string {
	if f.Stream != "" {
		return []string{f.Stream}
	}
	return []string{contracts.AuditStreamRegistryAPI, contracts.AuditStreamMCPAccess}
}

func (f *Filter) matches(event *contracts.AuditEvent) bool {
	if !f.From.IsZero() && event.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && event.Timestamp.After(f.To) {
		return false
	}
	if f.Username != "" && event.Identity.Username != f.Username {
		return false
	}
	if f.Operation != "" && event.Action.Operation != f.Operation {
		return false
	}
	if f.ResourceType != "" && event.Action.ResourceType != f.ResourceType {
		return false
	}
	if f.StatusMin > 0 && event.Response.StatusCode < f.StatusMin {
		return false
	}
	if f.StatusMax > 0 && event.Response.StatusCode > f.StatusMax {
		return false
	}
	return true
}
