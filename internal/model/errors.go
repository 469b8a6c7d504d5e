package model

import (
	"time"
)

// Severity grades how serious a captured failure is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Category classifies a captured failure by origin.
type Category string

const (
	CategoryNetwork        Category = "network"
	CategoryDatabase       Category = "database"
	CategoryValidation     Category = "validation"
	CategoryProcessing     Category = "processing"
	CategoryAuthentication Category = "authentication"
	CategoryPermission     Category = "permission"
	CategoryTimeout        Category = "timeout"
	CategoryResource       Category = "resource"
	CategoryUnknown        Category = "unknown"
)

// ErrorRecord is one captured failure. Appended to the in-memory history
// and the durable log; never mutated except to mark resolution.
type ErrorRecord struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Message    string            `json:"message"`
	Severity   Severity          `json:"severity"`
	Category   Category          `json:"category"`
	Timestamp  time.Time         `json:"timestamp"`
	Context    map[string]string `json:"context,omitempty"`
	Resolved   bool              `json:"resolved"`
	ResolvedAt *time.Time        `json:"resolved_at,omitempty"`
}

// Resolve marks the record resolved at the given time.
func (r *ErrorRecord) Resolve(at time.Time) {
	r.Resolved = true
	t := at.UTC()
	r.ResolvedAt = &t
}
