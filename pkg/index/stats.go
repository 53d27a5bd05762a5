package index

import "time"

// Stats holds statistics about an index
type Stats struct {
	Entries  int   // Total number of indexed documents
	Keys     int   // Number of distinct keys (cardinality)
	Lookups  int64 // Candidate lookups served
	Multikey bool  // True once an array-valued key was indexed

	LastUpdated time.Time
}

// Selectivity estimates how selective the index is (0.0 to 1.0).
// Lower values mean more documents share a key.
func (s Stats) Selectivity() float64 {
	if s.Entries == 0 {
		return 1.0
	}
	return float64(s.Keys) / float64(s.Entries)
}

// ToMap converts statistics to a map for display
func (s Stats) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"entries":      s.Entries,
		"keys":         s.Keys,
		"lookups":      s.Lookups,
		"multikey":     s.Multikey,
		"selectivity":  s.Selectivity(),
		"last_updated": s.LastUpdated,
	}
}
