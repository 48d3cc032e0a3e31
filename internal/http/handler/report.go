package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"basegraph.app/digest/internal/http/dto"
	"basegraph.app/digest/internal/store"
)

type ReportHandler struct {
	reports store.ReportStore
}

// NewReportHandler accepts a nil store; every lookup then answers 501.
func NewReportHandler(reports store.ReportStore) *ReportHandler {
	return &ReportHandler{reports: reports}
}

func (h *ReportHandler) GetByID(c *gin.Context) {
	ctx := c.Request.Context()

	if h.reports == nil {
		c.JSON(http.StatusNotImplemented, dto.ErrorResponse{Error: "report archive is not configured"})
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid report id"})
		return
	}

	report, err := h.reports.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "report not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to load report", "error", err, "report_id", id)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to load report"})
		return
	}

	c.JSON(http.StatusOK, dto.ToReportResponse(report))
}

func (h *ReportHandler) ListRecent(c *gin.Context) {
	ctx := c.Request.Context()

	if h.reports == nil {
		c.JSON(http.StatusNotImplemented, dto.ErrorResponse{Error: "report archive is not configured"})
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "limit must be between 1 and 100"})
			return
		}
		limit = n
	}

	reports, err := h.reports.ListRecent(ctx, limit)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list reports", "error", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to list reports"})
		return
	}

	resp := make([]dto.ReportResponse, 0, len(reports))
	for i := range reports {
		resp = append(resp, dto.ToReportResponse(&reports[i]))
	}
	c.JSON(http.StatusOK, gin.H{"reports": resp})
}
