package handler_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/digest/core/config"
	"basegraph.app/digest/internal/http/handler"
	"basegraph.app/digest/internal/model"
	"basegraph.app/digest/internal/service"
	"basegraph.app/digest/internal/service/issue_tracker"
)

var _ = Describe("DigestHandler", func() {
	var (
		router *gin.Engine
		svc    *mockDigestService
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		svc = &mockDigestService{}
		h := handler.NewDigestHandler(svc)
		router.POST("/digest", h.Handle)
	})

	post := func(body any) *streamRecorder {
		raw, err := json.Marshal(body)
		Expect(err).ToNot(HaveOccurred())
		req := httptest.NewRequest(http.MethodPost, "/digest", bytes.NewBuffer(raw))
		req.Header.Set("Content-Type", "application/json")
		w := newStreamRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	decode := func(w *streamRecorder) map[string]any {
		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		return resp
	}

	It("returns 400 on a malformed body", func() {
		req := httptest.NewRequest(http.MethodPost, "/digest", bytes.NewBufferString(`{`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("rejects an unknown mode", func() {
		w := post(map[string]any{"mode": "rewind"})

		Expect(w.Code).To(Equal(http.StatusBadRequest))
		Expect(decode(w)["kind"]).To(Equal("unknown_mode"))
	})

	It("translates the discover request into a filter", func() {
		var got service.DiscoverRequest
		svc.discoverFn = func(_ context.Context, req service.DiscoverRequest) (*service.DiscoverResponse, error) {
			got = req
			return &service.DiscoverResponse{
				SessionID:  "s-1",
				Cursor:     "c-1",
				Total:      1,
				Candidates: []service.Candidate{{ID: "101", Product: "Firefox", Component: "Address Bar"}},
			}, nil
		}

		w := post(map[string]any{
			"mode":        "discover",
			"components":  []map[string]string{{"product": "Firefox", "component": "Address Bar"}},
			"whiteboards": []string{"sng"},
			"days":        7,
			"skip_cache":  true,
		})

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(got.SkipCache).To(BeTrue())
		Expect(got.Filter.Days).To(Equal(7))
		Expect(got.Filter.Components).To(Equal([]model.ComponentRef{{Product: "Firefox", Component: "Address Bar"}}))
		Expect(got.Filter.Whiteboards).To(Equal([]string{"sng"}))

		resp := decode(w)
		Expect(resp["session"]).To(Equal("s-1"))
		Expect(resp["cursor"]).To(Equal("c-1"))
		Expect(resp["candidates"]).To(HaveLen(1))
	})

	It("omits nextCursor on the final page", func() {
		svc.pageFn = func(_ context.Context, req service.PageRequest) (*service.PageResponse, error) {
			Expect(req.Cursor).To(Equal("c-1"))
			Expect(req.PageSize).To(Equal(50))
			return &service.PageResponse{QualifiedIDs: []string{"1", "2"}, Total: 2}, nil
		}

		w := post(map[string]any{"mode": "page", "cursor": "c-1", "pageSize": 50})

		Expect(w.Code).To(Equal(http.StatusOK))
		resp := decode(w)
		Expect(resp).ToNot(HaveKey("nextCursor"))
		Expect(resp["qualifiedIds"]).To(Equal([]any{"1", "2"}))
		Expect(resp["total"]).To(BeNumerically("==", 2))
	})

	It("returns 409 for a stale cursor", func() {
		svc.pageFn = func(context.Context, service.PageRequest) (*service.PageResponse, error) {
			return nil, &service.ProtocolError{Kind: service.ProtocolStaleCursor, Message: "cursor is stale"}
		}

		w := post(map[string]any{"mode": "page", "cursor": "old"})

		Expect(w.Code).To(Equal(http.StatusConflict))
		Expect(decode(w)["kind"]).To(Equal("stale_cursor"))
	})

	It("returns 400 when finalizing an unfinished session", func() {
		svc.finalizeFn = func(_ context.Context, req service.FinalizeRequest) (*service.FinalizeResponse, error) {
			Expect(req.SessionID).To(Equal("s-1"))
			return nil, &service.ProtocolError{Kind: service.ProtocolUnfinished, Message: "not exhausted"}
		}

		w := post(map[string]any{"mode": "finalize", "session": "s-1"})

		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("returns the rendered report on finalize", func() {
		reportID := int64(7245006752471040)
		svc.finalizeFn = func(_ context.Context, req service.FinalizeRequest) (*service.FinalizeResponse, error) {
			Expect(req.IDs).To(Equal([]string{"1", "2"}))
			return &service.FinalizeResponse{
				Output:   "# Digest",
				HTML:     "<h1>Digest</h1>",
				Count:    2,
				Removed:  model.RemovedCounts{Security: 1},
				ReportID: &reportID,
			}, nil
		}

		w := post(map[string]any{"mode": "finalize", "ids": []string{"1", "2"}})

		Expect(w.Code).To(Equal(http.StatusOK))
		resp := decode(w)
		Expect(resp["output"]).To(Equal("# Digest"))
		Expect(resp["report_id"]).To(Equal("7245006752471040"))
		Expect(resp["removed"]).To(HaveKeyWithValue("security", BeNumerically("==", 1)))
	})

	It("maps backend failures to 502", func() {
		svc.oneshotFn = func(context.Context, service.DiscoverRequest) (*service.FinalizeResponse, error) {
			return nil, &issue_tracker.BackendError{Backend: "bugzilla", Op: "search", StatusCode: 500, Err: errors.New("boom")}
		}

		w := post(map[string]any{"mode": "oneshot", "whiteboards": []string{"sng"}, "days": 7})

		Expect(w.Code).To(Equal(http.StatusBadGateway))
		Expect(decode(w)["error"]).To(ContainSubstring("bugzilla"))
	})

	It("hides configuration details behind a 500", func() {
		svc.oneshotFn = func(context.Context, service.DiscoverRequest) (*service.FinalizeResponse, error) {
			return nil, &config.ConfigurationError{Missing: []string{"BUGZILLA_API_KEY"}}
		}

		w := post(map[string]any{"mode": "oneshot"})

		Expect(w.Code).To(Equal(http.StatusInternalServerError))
		Expect(w.Body.String()).ToNot(ContainSubstring("BUGZILLA_API_KEY"))
	})

	It("maps an exhausted budget to 504", func() {
		svc.discoverFn = func(context.Context, service.DiscoverRequest) (*service.DiscoverResponse, error) {
			return nil, context.DeadlineExceeded
		}

		w := post(map[string]any{"mode": "discover", "whiteboards": []string{"x"}, "days": 1})

		Expect(w.Code).To(Equal(http.StatusGatewayTimeout))
	})

	Describe("stream mode", func() {
		It("writes newline-delimited events up to the terminal one", func() {
			svc.streamFn = func(context.Context, service.DiscoverRequest) (<-chan service.StreamEvent, error) {
				total := 1
				ch := make(chan service.StreamEvent, 4)
				ch <- service.StreamEvent{Type: service.EventValid, ID: "1", Summary: "Fix", Assignee: "Ann"}
				ch <- service.StreamEvent{Type: service.EventInvalid, ID: "2", Reason: "restricted: security"}
				ch <- service.StreamEvent{Type: service.EventDone, Output: "# Digest", Removed: &model.RemovedCounts{Security: 1}, Total: &total}
				close(ch)
				return ch, nil
			}

			w := post(map[string]any{"mode": "stream", "whiteboards": []string{"sng"}, "days": 7})

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Header().Get("Content-Type")).To(Equal("application/x-ndjson"))

			var types []string
			scanner := bufio.NewScanner(strings.NewReader(w.Body.String()))
			for scanner.Scan() {
				var ev map[string]any
				Expect(json.Unmarshal(scanner.Bytes(), &ev)).To(Succeed())
				types = append(types, ev["type"].(string))
				if ev["type"] == "invalid" {
					Expect(ev).ToNot(HaveKey("summary"))
				}
			}
			Expect(types).To(Equal([]string{"valid", "invalid", "done"}))
		})

		It("answers 400 before streaming when the filter is invalid", func() {
			svc.streamFn = func(context.Context, service.DiscoverRequest) (<-chan service.StreamEvent, error) {
				return nil, &service.ProtocolError{Kind: service.ProtocolInvalidFilter, Message: "filter needs a criterion"}
			}

			w := post(map[string]any{"mode": "stream"})

			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(w.Header().Get("Content-Type")).To(ContainSubstring("application/json"))
		})
	})
})
