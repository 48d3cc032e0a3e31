package store

import (
	"context"
	"errors"

	"basegraph.app/digest/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a session was advanced by someone else since
// it was read.
var ErrConflict = errors.New("conflict")

// SessionStore holds enumeration state between page requests. Sessions
// expire after the store's TTL.
type SessionStore interface {
	Create(ctx context.Context, s *model.Session) error
	Get(ctx context.Context, id string) (*model.Session, error)
	// Advance stores s if the stored copy is still at sequence prevSeq.
	// Otherwise it returns ErrConflict and leaves the stored copy alone.
	Advance(ctx context.Context, s *model.Session, prevSeq int) error
	Delete(ctx context.Context, id string) error
}

// ReportStore archives finalized digests.
type ReportStore interface {
	Create(ctx context.Context, r *model.Report) error
	GetByID(ctx context.Context, id int64) (*model.Report, error)
	ListRecent(ctx context.Context, limit int) ([]model.Report, error)
}
