package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/digest/internal/http/handler"
	"basegraph.app/digest/internal/model"
)

var _ = Describe("ReportHandler", func() {
	var router *gin.Engine

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
	})

	Context("without an archive", func() {
		BeforeEach(func() {
			h := handler.NewReportHandler(nil)
			router.GET("/reports/:id", h.GetByID)
		})

		It("returns 501", func() {
			Expect(get("/reports/1").Code).To(Equal(http.StatusNotImplemented))
		})
	})

	Context("with an archive", func() {
		var reports *mockReportStore

		BeforeEach(func() {
			reports = &mockReportStore{}
			h := handler.NewReportHandler(reports)
			router.GET("/reports", h.ListRecent)
			router.GET("/reports/:id", h.GetByID)
		})

		It("returns the report", func() {
			reports.getByIDFn = func(_ context.Context, id int64) (*model.Report, error) {
				return &model.Report{ID: id, Backend: "jira", Markdown: "# x", Qualified: 3}, nil
			}

			w := get("/reports/42")

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["id"]).To(Equal("42"))
			Expect(resp["backend"]).To(Equal("jira"))
		})

		It("returns 404 for an unknown report", func() {
			Expect(get("/reports/42").Code).To(Equal(http.StatusNotFound))
		})

		It("returns 400 for a non-numeric id", func() {
			Expect(get("/reports/abc").Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 500 when the store fails", func() {
			reports.getByIDFn = func(context.Context, int64) (*model.Report, error) {
				return nil, errors.New("connection refused")
			}
			Expect(get("/reports/42").Code).To(Equal(http.StatusInternalServerError))
		})

		It("validates the list limit", func() {
			Expect(get("/reports?limit=500").Code).To(Equal(http.StatusBadRequest))
			Expect(get("/reports?limit=5").Code).To(Equal(http.StatusOK))
		})
	})
})
