package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/yndnr/mdmcache-go/internal/core/domain"
	"github.com/yndnr/mdmcache-go/internal/core/service"
	"github.com/yndnr/mdmcache-go/internal/telemetry/logger"
)

// DefaultMaxRecordBytes bounds the body of a record feeding request.
const DefaultMaxRecordBytes = 64 << 20

// RecordStore is the part of the document store the admin routes use.
type RecordStore interface {
	PutMany(ctx context.Context, class domain.ClassName, recs []domain.Record) (int, error)
	Get(ctx context.Context, class domain.ClassName, ref string) (domain.Record, error)
	Delete(ctx context.Context, class domain.ClassName, ref string) error
	Count(ctx context.Context, class domain.ClassName) (int, error)
}

// Config wires a Handler.
type Config struct {
	Snapshots *service.SnapshotService
	// Records enables the admin record routes when set.
	Records RecordStore
	// Ready reports whether the server can take traffic. Nil means always.
	Ready          func(ctx context.Context) error
	MaxRecordBytes int64
	Logger         *slog.Logger
}

// Handler is the main HTTP handler that routes requests to appropriate handlers.
type Handler struct {
	snapshots *service.SnapshotService
	records   RecordStore
	ready     func(ctx context.Context) error
	maxBytes  int64
	logger    *slog.Logger
	mux       *http.ServeMux
}

// New creates a Handler.
func New(cfg Config) (*Handler, error) {
	if cfg.Snapshots == nil {
		return nil, fmt.Errorf("handler: snapshot service is required")
	}
	h := &Handler{
		snapshots: cfg.Snapshots,
		records:   cfg.Records,
		ready:     cfg.Ready,
		maxBytes:  cfg.MaxRecordBytes,
		logger:    cfg.Logger,
		mux:       http.NewServeMux(),
	}
	if h.maxBytes <= 0 {
		h.maxBytes = DefaultMaxRecordBytes
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.registerRoutes()
	return h, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.handle("GET /health", h.handleHealth)
	h.handle("GET /ready", h.handleReady)

	// "plan" is more specific than "{zone}", so it always wins.
	h.handle("GET /mdm/plan", h.handlePlan)
	h.handle("GET /mdm/{zone}", h.handleFetch)
	h.handle("GET /mdm/{zone}/{suffix}", h.handleFetch)
	h.handle("POST /mdm/{zone}/rebuild", h.handleRebuild)
	h.handle("POST /mdm/{zone}/{suffix}/rebuild", h.handleRebuild)
	h.handle("GET /mdm/{zone}/{suffix}/manifest", h.handleManifest)

	if h.records != nil {
		h.handle("PUT /admin/v1/records/{class}", h.handlePutRecords)
		h.handle("GET /admin/v1/records/{class}", h.handleCountRecords)
		h.handle("GET /admin/v1/records/{class}/{ref}", h.handleGetRecord)
		h.handle("DELETE /admin/v1/records/{class}/{ref}", h.handleDeleteRecord)
	}
}

// handle registers fn and reports the matched pattern to RouteInfo.
func (h *Handler) handle(pattern string, fn http.HandlerFunc) {
	h.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		markRoute(r.Context(), pattern)
		fn(w, r)
	})
}

// writeJSON writes a JSON response with standard envelope format.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID := logger.RequestIDFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := encodeJSON(w, NewResponse(requestID, data)); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// writeError writes an error response with standard envelope format.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	WriteError(w, logger.RequestIDFromContext(r.Context()), status, code, message)
}

// WriteError writes the error envelope. Middleware uses it before the
// request reaches a handler.
func WriteError(w http.ResponseWriter, requestID string, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	_ = encodeJSON(w, NewErrorResponse(requestID, code, message))
}

// handleServiceError converts service errors to HTTP responses.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.DomainError
	if errors.As(err, &de) {
		status := StatusForCode(de.Code)
		if status >= http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "request failed", "code", de.Code, "error", err)
			h.writeError(w, r, status, de.Code, de.Message)
			return
		}
		message := de.Message
		if de.Details != "" {
			message += ": " + de.Details
		}
		h.writeError(w, r, status, de.Code, message)
		return
	}

	if errors.Is(err, context.Canceled) {
		h.logger.DebugContext(r.Context(), "request cancelled")
	} else {
		h.logger.ErrorContext(r.Context(), "internal error", "error", err)
	}
	internal := domain.ErrInternalServer
	h.writeError(w, r, http.StatusInternalServerError, internal.Code, internal.Message)
}

// StatusForCode maps error codes to HTTP status codes. The last four digits
// of a code carry its status family.
func StatusForCode(code string) int {
	switch {
	case strings.HasSuffix(code, "-4040"), strings.HasSuffix(code, "-4041"):
		return http.StatusNotFound
	case strings.HasSuffix(code, "-4290"):
		return http.StatusTooManyRequests
	case strings.HasSuffix(code, "-4010"):
		return http.StatusUnauthorized
	case strings.HasSuffix(code, "-4030"), strings.HasSuffix(code, "-4031"):
		return http.StatusForbidden
	case strings.HasSuffix(code, "-4130"):
		return http.StatusRequestEntityTooLarge
	case strings.HasSuffix(code, "-4220"):
		return http.StatusUnprocessableEntity
	case strings.HasPrefix(code, "MDM-ARG-"), strings.HasSuffix(code, "-4000"):
		return http.StatusBadRequest
	case strings.HasSuffix(code, "-5020"):
		return http.StatusBadGateway
	case strings.HasSuffix(code, "-5030"):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Response is the standard API response envelope.
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
	}
}

// encodeJSON writes v without HTML escaping; class payloads carry free text.
func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
