package model

import "time"

// RestrictionCategory names why an issue is hidden from the public report.
type RestrictionCategory string

const (
	RestrictionNone         RestrictionCategory = ""
	RestrictionSecurity     RestrictionCategory = "security"
	RestrictionConfidential RestrictionCategory = "confidential"
)

// RemovedCounts tallies every candidate dropped from a digest, by reason.
type RemovedCounts struct {
	Security     int `json:"security"`
	Confidential int `json:"confidential"`
	Duplicates   int `json:"duplicates"`
	Invalid      int `json:"invalid"`
}

func (r RemovedCounts) Total() int {
	return r.Security + r.Confidential + r.Duplicates + r.Invalid
}

// Restricted is the number of candidates dropped for access restrictions.
func (r RemovedCounts) Restricted() int {
	return r.Security + r.Confidential
}

func (r *RemovedCounts) AddRestricted(category RestrictionCategory) {
	switch category {
	case RestrictionSecurity:
		r.Security++
	case RestrictionConfidential:
		r.Confidential++
	}
}

func (r *RemovedCounts) Merge(o RemovedCounts) {
	r.Security += o.Security
	r.Confidential += o.Confidential
	r.Duplicates += o.Duplicates
	r.Invalid += o.Invalid
}

// OmittedCandidate remembers a restricted issue only by what ranking needs.
// Its summary is never stored.
type OmittedCandidate struct {
	Key      string              `json:"key"`
	Category RestrictionCategory `json:"category"`
	RankTime time.Time           `json:"rank_time"`
}

// Position is the resume point of an enumeration: the query index into the
// session's criteria and the offset within that query's results.
type Position struct {
	Query  int `json:"query"`
	Offset int `json:"offset"`
}

// Session is the server-side state behind a cursor.
type Session struct {
	ID          string             `json:"id"`
	Backend     string             `json:"backend"`
	Filter      Filter             `json:"filter"`
	QueryTotals []int              `json:"query_totals"`
	Position    Position           `json:"position"`
	Seq         int                `json:"seq"`
	Seen        []string           `json:"seen"`
	Qualified   []string           `json:"qualified"`
	Omitted     []OmittedCandidate `json:"omitted,omitempty"`
	Removed     RemovedCounts      `json:"removed"`
	Exhausted   bool               `json:"exhausted"`
	CreatedAt   time.Time          `json:"created_at"`
}

// BackendTotal is the sum of backend-reported totals over all criteria.
func (s *Session) BackendTotal() int {
	total := 0
	for _, t := range s.QueryTotals {
		total += t
	}
	return total
}

// Total is the number of identifiers the session will have qualified once
// exhausted: everything the backend reported minus everything removed.
func (s *Session) Total() int {
	return s.BackendTotal() - s.Removed.Total()
}
