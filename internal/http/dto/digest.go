package dto

import (
	"strconv"
	"time"

	"basegraph.app/digest/internal/model"
	"basegraph.app/digest/internal/service"
)

type ComponentRequest struct {
	Product   string `json:"product"`
	Component string `json:"component"`
}

// DigestRequest is the single request shape of POST /api/v1/digest. Mode
// selects which of the other fields apply.
type DigestRequest struct {
	Mode        string             `json:"mode"`
	Components  []ComponentRequest `json:"components,omitempty"`
	Whiteboards []string           `json:"whiteboards,omitempty"`
	Projects    []string           `json:"projects,omitempty"`
	Days        int                `json:"days"`
	Cursor      string             `json:"cursor,omitempty"`
	PageSize    int                `json:"pageSize,omitempty"`
	Session     string             `json:"session,omitempty"`
	IDs         []string           `json:"ids,omitempty"`
	SkipCache   bool               `json:"skip_cache,omitempty"`
}

func (r DigestRequest) Filter() model.Filter {
	f := model.Filter{
		Whiteboards: r.Whiteboards,
		Projects:    r.Projects,
		Days:        r.Days,
	}
	for _, c := range r.Components {
		f.Components = append(f.Components, model.ComponentRef{Product: c.Product, Component: c.Component})
	}
	return f
}

func (r DigestRequest) DiscoverRequest() service.DiscoverRequest {
	return service.DiscoverRequest{Filter: r.Filter(), SkipCache: r.SkipCache}
}

type CandidateResponse struct {
	ID             string    `json:"id"`
	LastChangeTime time.Time `json:"last_change_time"`
	Product        string    `json:"product"`
	Component      string    `json:"component"`
}

type DiscoverResponse struct {
	Session    string              `json:"session"`
	Cursor     *string             `json:"cursor,omitempty"`
	Total      int                 `json:"total"`
	Candidates []CandidateResponse `json:"candidates"`
	Removed    model.RemovedCounts `json:"removed"`
}

type PageResponse struct {
	QualifiedIDs []string            `json:"qualifiedIds"`
	NextCursor   *string             `json:"nextCursor,omitempty"`
	Total        int                 `json:"total"`
	Removed      model.RemovedCounts `json:"removed"`
}

// FinalizeResponse serves finalize and oneshot. Report ids are strings so
// browsers keep every digit.
type FinalizeResponse struct {
	Output   string              `json:"output"`
	HTML     string              `json:"html"`
	Count    int                 `json:"count"`
	Removed  model.RemovedCounts `json:"removed"`
	ReportID *string             `json:"report_id,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func ToDiscoverResponse(r *service.DiscoverResponse) DiscoverResponse {
	resp := DiscoverResponse{
		Session:    r.SessionID,
		Cursor:     optional(r.Cursor),
		Total:      r.Total,
		Candidates: make([]CandidateResponse, 0, len(r.Candidates)),
		Removed:    r.Removed,
	}
	for _, c := range r.Candidates {
		resp.Candidates = append(resp.Candidates, CandidateResponse{
			ID:             c.ID,
			LastChangeTime: c.LastChangeTime,
			Product:        c.Product,
			Component:      c.Component,
		})
	}
	return resp
}

func ToPageResponse(r *service.PageResponse) PageResponse {
	ids := r.QualifiedIDs
	if ids == nil {
		ids = []string{}
	}
	return PageResponse{
		QualifiedIDs: ids,
		NextCursor:   optional(r.NextCursor),
		Total:        r.Total,
		Removed:      r.Removed,
	}
}

func ToFinalizeResponse(r *service.FinalizeResponse) FinalizeResponse {
	resp := FinalizeResponse{
		Output:  r.Output,
		HTML:    r.HTML,
		Count:   r.Count,
		Removed: r.Removed,
	}
	if r.ReportID != nil {
		id := strconv.FormatInt(*r.ReportID, 10)
		resp.ReportID = &id
	}
	return resp
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
