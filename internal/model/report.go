package model

import "time"

// Report is a finalized digest as archived.
type Report struct {
	ID        int64         `json:"id"`
	SessionID *string       `json:"session_id,omitempty"`
	Backend   string        `json:"backend"`
	Filter    Filter        `json:"filter"`
	Markdown  string        `json:"markdown"`
	HTML      string        `json:"html"`
	Qualified int           `json:"qualified"`
	Removed   RemovedCounts `json:"removed"`
	CreatedAt time.Time     `json:"created_at"`
}
