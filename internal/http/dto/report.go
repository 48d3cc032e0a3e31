package dto

import (
	"strconv"
	"time"

	"basegraph.app/digest/internal/model"
)

type ReportResponse struct {
	ID        string              `json:"id"`
	SessionID *string             `json:"session_id,omitempty"`
	Backend   string              `json:"backend"`
	Filter    model.Filter        `json:"filter"`
	Markdown  string              `json:"markdown"`
	HTML      string              `json:"html"`
	Qualified int                 `json:"qualified"`
	Removed   model.RemovedCounts `json:"removed"`
	CreatedAt time.Time           `json:"created_at"`
}

func ToReportResponse(r *model.Report) ReportResponse {
	return ReportResponse{
		ID:        strconv.FormatInt(r.ID, 10),
		SessionID: r.SessionID,
		Backend:   r.Backend,
		Filter:    r.Filter,
		Markdown:  r.Markdown,
		HTML:      r.HTML,
		Qualified: r.Qualified,
		Removed:   r.Removed,
		CreatedAt: r.CreatedAt,
	}
}
