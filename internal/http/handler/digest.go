package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"basegraph.app/digest/common/logger"
	"basegraph.app/digest/core/config"
	"basegraph.app/digest/internal/http/dto"
	"basegraph.app/digest/internal/service"
	"basegraph.app/digest/internal/service/issue_tracker"
)

const ndjsonContentType = "application/x-ndjson"

type DigestHandler struct {
	digestService service.DigestService
}

func NewDigestHandler(digestService service.DigestService) *DigestHandler {
	return &DigestHandler{digestService: digestService}
}

// Handle dispatches on the request mode.
func (h *DigestHandler) Handle(c *gin.Context) {
	var req dto.DigestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(c.Request.Context(), "invalid digest request", "error", err)
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{
		Mode:      logger.Ptr(req.Mode),
		Component: "digest.http.digest",
	})
	c.Request = c.Request.WithContext(ctx)

	switch req.Mode {
	case "discover":
		resp, err := h.digestService.Discover(ctx, req.DiscoverRequest())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, dto.ToDiscoverResponse(resp))
	case "page":
		resp, err := h.digestService.Page(ctx, service.PageRequest{
			Cursor:    req.Cursor,
			PageSize:  req.PageSize,
			SkipCache: req.SkipCache,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, dto.ToPageResponse(resp))
	case "finalize":
		resp, err := h.digestService.Finalize(ctx, service.FinalizeRequest{
			SessionID: req.Session,
			IDs:       req.IDs,
			Days:      req.Days,
			SkipCache: req.SkipCache,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, dto.ToFinalizeResponse(resp))
	case "oneshot":
		resp, err := h.digestService.Oneshot(ctx, req.DiscoverRequest())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, dto.ToFinalizeResponse(resp))
	case "stream":
		h.stream(c, req)
	default:
		writeError(c, &service.ProtocolError{
			Kind:    service.ProtocolUnknownMode,
			Message: fmt.Sprintf("unknown mode %q", req.Mode),
		})
	}
}

// stream writes one JSON object per line and flushes each. A client that
// disconnects cancels the request context, which stops the producer.
func (h *DigestHandler) stream(c *gin.Context, req dto.DigestRequest) {
	ctx := c.Request.Context()

	events, err := h.digestService.Stream(ctx, req.DiscoverRequest())
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Type", ndjsonContentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Content-Type-Options", "nosniff")
	c.Status(http.StatusOK)

	c.Stream(func(w io.Writer) bool {
		ev, ok := <-events
		if !ok {
			return false
		}
		line, err := json.Marshal(ev)
		if err != nil {
			slog.ErrorContext(ctx, "failed to encode stream event", "error", err, "type", ev.Type)
			return false
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return false
		}
		return !ev.Terminal()
	})
}

// writeError maps the error taxonomy onto status codes.
func writeError(c *gin.Context, err error) {
	ctx := c.Request.Context()

	var protoErr *service.ProtocolError
	var backendErr *issue_tracker.BackendError
	var configErr *config.ConfigurationError

	switch {
	case errors.As(err, &protoErr):
		status := http.StatusBadRequest
		if protoErr.Kind == service.ProtocolStaleCursor {
			status = http.StatusConflict
		}
		slog.InfoContext(ctx, "protocol error", "kind", protoErr.Kind, "error", err)
		c.JSON(status, dto.ErrorResponse{Error: protoErr.Message, Kind: string(protoErr.Kind)})
	case errors.As(err, &backendErr):
		slog.ErrorContext(ctx, "backend failed", "error", err, "backend", backendErr.Backend, "status", backendErr.StatusCode)
		c.JSON(http.StatusBadGateway, dto.ErrorResponse{Error: err.Error(), Kind: "backend"})
	case errors.As(err, &configErr):
		slog.ErrorContext(ctx, "configuration incomplete", "error", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "server is not configured", Kind: "configuration"})
	case errors.Is(err, context.DeadlineExceeded):
		slog.WarnContext(ctx, "execution budget exceeded", "error", err)
		c.JSON(http.StatusGatewayTimeout, dto.ErrorResponse{Error: "execution budget exceeded; use discover and page", Kind: "budget"})
	default:
		slog.ErrorContext(ctx, "digest request failed", "error", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to build digest"})
	}
}
