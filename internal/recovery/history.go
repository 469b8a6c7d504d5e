package recovery

import (
	"sync"
	"time"

	"github.com/seekwell/apply-cli/internal/model"
)

// History is a bounded in-memory ring of recent error records.
type History struct {
	mu      sync.Mutex
	records []*model.ErrorRecord
	next    int
	full    bool
}

// Stats summarizes the in-memory error history.
type Stats struct {
	Total          int                    `json:"total"`
	ByCategory     map[model.Category]int `json:"by_category"`
	BySeverity     map[model.Severity]int `json:"by_severity"`
	Resolved       int                    `json:"resolved"`
	ResolutionRate float64                `json:"resolution_rate"`
	MeanResolution time.Duration          `json:"mean_resolution_ns"`
}

// NewHistory creates a ring holding at most size records.
func NewHistory(size int) *History {
	if size < 1 {
		size = 1
	}
	return &History{records: make([]*model.ErrorRecord, size)}
}

// Append adds a record, evicting the oldest once the ring is full.
func (h *History) Append(record *model.ErrorRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records[h.next] = record
	h.next++
	if h.next == len(h.records) {
		h.next = 0
		h.full = true
	}
}

// Recent returns up to n records, newest first.
func (h *History) Recent(n int) []*model.ErrorRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	size := h.next
	if h.full {
		size = len(h.records)
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]*model.ErrorRecord, 0, n)
	for i := 1; i <= n; i++ {
		idx := (h.next - i + len(h.records)) % len(h.records)
		out = append(out, h.records[idx])
	}
	return out
}

// Stats computes counts by category and severity, the resolution rate, and
// the mean time-to-resolution across resolved records.
func (h *History) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := Stats{
		ByCategory: make(map[model.Category]int),
		BySeverity: make(map[model.Severity]int),
	}

	var totalResolution time.Duration
	for _, r := range h.records {
		if r == nil {
			continue
		}
		stats.Total++
		stats.ByCategory[r.Category]++
		stats.BySeverity[r.Severity]++
		if r.Resolved {
			stats.Resolved++
			if r.ResolvedAt != nil {
				totalResolution += r.ResolvedAt.Sub(r.Timestamp)
			}
		}
	}

	if stats.Total > 0 {
		stats.ResolutionRate = float64(stats.Resolved) / float64(stats.Total)
	}
	if stats.Resolved > 0 {
		stats.MeanResolution = totalResolution / time.Duration(stats.Resolved)
	}
	return stats
}
