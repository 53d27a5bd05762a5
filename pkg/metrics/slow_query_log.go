package metrics

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// SlowLog keeps the most recent operations that ran longer than a
// threshold and reports each one on a logger
type SlowLog struct {
	threshold  time.Duration
	maxEntries int
	logger     *slog.Logger
	entries    []SlowEntry
	mu         sync.RWMutex
}

// SlowEntry is one slow operation
type SlowEntry struct {
	Timestamp  time.Time     `json:"timestamp"`
	Duration   time.Duration `json:"duration_ns"`
	Operation  string        `json:"operation"`
	Collection string        `json:"collection"`
	Filter     string        `json:"filter,omitempty"`
	IndexUsed  string        `json:"index_used,omitempty"`
	Examined   int           `json:"docs_examined"`
	Returned   int           `json:"docs_returned"`
}

// NewSlowLog creates a slow log. A threshold of zero or less disables it.
func NewSlowLog(threshold time.Duration, maxEntries int, logger *slog.Logger) *SlowLog {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &SlowLog{
		threshold:  threshold,
		maxEntries: maxEntries,
		logger:     logger,
		entries:    make([]SlowEntry, 0, maxEntries),
	}
}

// Record keeps entry if it exceeds the threshold
func (s *SlowLog) Record(entry SlowEntry) {
	if !s.Exceeds(entry.Duration) {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	s.mu.Lock()
	if len(s.entries) >= s.maxEntries {
		s.entries = s.entries[1:]
	}
	s.entries = append(s.entries, entry)
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Warn("slow operation",
			"op", entry.Operation,
			"collection", entry.Collection,
			"duration", entry.Duration,
			"filter", entry.Filter,
			"index", entry.IndexUsed,
			"examined", entry.Examined,
			"returned", entry.Returned)
	}
}

// Exceeds reports whether an operation taking d would be kept
func (s *SlowLog) Exceeds(d time.Duration) bool {
	return s != nil && s.threshold > 0 && d >= s.threshold
}

// Entries returns a copy of the kept entries, oldest first
func (s *SlowLog) Entries() []SlowEntry {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SlowEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Slowest returns the n slowest kept entries, slowest first
func (s *SlowLog) Slowest(n int) []SlowEntry {
	entries := s.Entries()
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Duration > entries[j].Duration })
	if n < len(entries) {
		entries = entries[:n]
	}
	return entries
}

// Clear removes every entry
func (s *SlowLog) Clear() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make([]SlowEntry, 0, s.maxEntries)
}
