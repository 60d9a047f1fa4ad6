package toolproto

import (
	"sync"
	"time"

	"github.com/deployforge/deployforge/pkg/credentials"
)

// CallRecord is one entry in the rolling call history. Arguments are
// stored redacted; raw credential values never enter the history.
type CallRecord struct {
	Server    string                 `json:"server"`
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	Success   bool                   `json:"success"`
	Fallback  bool                   `json:"fallback"`
	Error     string                 `json:"error,omitempty"`
	Duration  time.Duration          `json:"duration"`
	Timestamp time.Time              `json:"timestamp"`
}

// CallStats aggregates history per (server, tool) pair.
type CallStats struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Fallbacks int `json:"fallbacks"`
}

// History is a bounded rolling buffer of call records. When full, the
// oldest record is dropped.
type History struct {
	mu      sync.Mutex
	records []CallRecord
	max     int
}

// NewHistory creates a history holding at most max records.
func NewHistory(max int) *History {
	if max <= 0 {
		max = 500
	}
	return &History{
		records: make([]CallRecord, 0, max),
		max:     max,
	}
}

// Record appends a call record, redacting sensitive argument values.
func (h *History) Record(rec CallRecord) {
	if rec.Arguments != nil {
		redacted := credentials.RedactAny(rec.Arguments)
		rec.Arguments = redacted.(map[string]interface{})
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.records) >= h.max {
		copy(h.records, h.records[1:])
		h.records = h.records[:len(h.records)-1]
	}
	h.records = append(h.records, rec)
}

// Recent returns up to n most recent records, newest last.
func (h *History) Recent(n int) []CallRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n <= 0 || n > len(h.records) {
		n = len(h.records)
	}
	out := make([]CallRecord, n)
	copy(out, h.records[len(h.records)-n:])
	return out
}

// Stats aggregates the current buffer per (server, tool).
func (h *History) Stats() map[string]map[string]CallStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := make(map[string]map[string]CallStats)
	for _, rec := range h.records {
		byTool, ok := stats[rec.Server]
		if !ok {
			byTool = make(map[string]CallStats)
			stats[rec.Server] = byTool
		}
		s := byTool[rec.Tool]
		s.Total++
		if rec.Success {
			s.Succeeded++
		} else {
			s.Failed++
		}
		if rec.Fallback {
			s.Fallbacks++
		}
		byTool[rec.Tool] = s
	}
	return stats
}

// Len returns the number of buffered records.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}
