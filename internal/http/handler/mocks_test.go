package handler_test

import (
	"context"
	"net/http/httptest"

	"basegraph.app/digest/internal/model"
	"basegraph.app/digest/internal/service"
	"basegraph.app/digest/internal/store"
)

type mockDigestService struct {
	discoverFn func(ctx context.Context, req service.DiscoverRequest) (*service.DiscoverResponse, error)
	pageFn     func(ctx context.Context, req service.PageRequest) (*service.PageResponse, error)
	finalizeFn func(ctx context.Context, req service.FinalizeRequest) (*service.FinalizeResponse, error)
	oneshotFn  func(ctx context.Context, req service.DiscoverRequest) (*service.FinalizeResponse, error)
	streamFn   func(ctx context.Context, req service.DiscoverRequest) (<-chan service.StreamEvent, error)
}

func (m *mockDigestService) Discover(ctx context.Context, req service.DiscoverRequest) (*service.DiscoverResponse, error) {
	if m.discoverFn != nil {
		return m.discoverFn(ctx, req)
	}
	return &service.DiscoverResponse{}, nil
}

func (m *mockDigestService) Page(ctx context.Context, req service.PageRequest) (*service.PageResponse, error) {
	if m.pageFn != nil {
		return m.pageFn(ctx, req)
	}
	return &service.PageResponse{}, nil
}

func (m *mockDigestService) Finalize(ctx context.Context, req service.FinalizeRequest) (*service.FinalizeResponse, error) {
	if m.finalizeFn != nil {
		return m.finalizeFn(ctx, req)
	}
	return &service.FinalizeResponse{}, nil
}

func (m *mockDigestService) Oneshot(ctx context.Context, req service.DiscoverRequest) (*service.FinalizeResponse, error) {
	if m.oneshotFn != nil {
		return m.oneshotFn(ctx, req)
	}
	return &service.FinalizeResponse{}, nil
}

func (m *mockDigestService) Stream(ctx context.Context, req service.DiscoverRequest) (<-chan service.StreamEvent, error) {
	if m.streamFn != nil {
		return m.streamFn(ctx, req)
	}
	ch := make(chan service.StreamEvent)
	close(ch)
	return ch, nil
}

type mockReportStore struct {
	getByIDFn func(ctx context.Context, id int64) (*model.Report, error)
}

func (m *mockReportStore) Create(context.Context, *model.Report) error { return nil }

func (m *mockReportStore) GetByID(ctx context.Context, id int64) (*model.Report, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, store.ErrNotFound
}

func (m *mockReportStore) ListRecent(context.Context, int) ([]model.Report, error) {
	return []model.Report{}, nil
}

// streamRecorder adds CloseNotify to httptest.ResponseRecorder; gin's
// Context.Stream requires it.
type streamRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func newStreamRecorder() *streamRecorder {
	return &streamRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool, 1)}
}

func (r *streamRecorder) CloseNotify() <-chan bool {
	return r.closed
}
