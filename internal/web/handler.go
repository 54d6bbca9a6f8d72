// Package web binds the dispatcher to net/http.
package web

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rendis/actuator/internal/dispatch"
	"github.com/rendis/actuator/internal/logging"
	"github.com/rendis/actuator/pkg/schema"
)

// DefaultMaxBodyBytes bounds request bodies.
const DefaultMaxBodyBytes = 1 << 20

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-Id"

// Handler is an http.Handler that converts requests for the dispatcher.
// The dispatcher can be replaced atomically while serving.
type Handler struct {
	mu         sync.RWMutex
	dispatcher *dispatch.Dispatcher

	basePath string
	maxBody  int64
	logger   *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithBasePath mounts the handler under prefix. Requests outside it get 404.
func WithBasePath(prefix string) Option {
	return func(h *Handler) { h.basePath = "/" + strings.Trim(prefix, "/") }
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) { h.maxBody = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// NewHandler creates a Handler serving d.
func NewHandler(d *dispatch.Dispatcher, opts ...Option) *Handler {
	h := &Handler{
		dispatcher: d,
		basePath:   "/",
		maxBody:    DefaultMaxBodyBytes,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Swap replaces the dispatcher atomically.
func (h *Handler) Swap(d *dispatch.Dispatcher) {
	h.mu.Lock()
	h.dispatcher = d
	h.mu.Unlock()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set(RequestIDHeader, id)
	ctx := logging.WithRequestID(r.Context(), id)

	path, ok := h.strip(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, schema.ErrCodeNotFound, "no action matches "+r.Method+" "+r.URL.Path)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, schema.ErrCodeValidation, "request body too large")
			return
		}
		logging.LogWith(ctx, h.logger).Warn("read request body", slog.Any("error", err))
		writeError(w, http.StatusBadRequest, schema.ErrCodeValidation, "request body could not be read")
		return
	}

	req := schema.NewRequest(r.Method, path, body)
	for name, values := range r.Header {
		if len(values) > 0 {
			req.SetHeader(name, values[0])
		}
	}
	req.Query = r.URL.Query()

	h.mu.RLock()
	d := h.dispatcher
	h.mu.RUnlock()

	resp := d.Dispatch(ctx, req)
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 && r.Method != http.MethodHead {
		if _, err := w.Write(resp.Body); err != nil {
			logging.LogWith(ctx, h.logger).Debug("write response", slog.Any("error", err))
		}
	}
}

// strip removes the base path, reporting false when path lies outside it.
func (h *Handler) strip(path string) (string, bool) {
	if h.basePath == "/" {
		return path, true
	}
	rest, ok := strings.CutPrefix(path, h.basePath)
	if !ok || (rest != "" && !strings.HasPrefix(rest, "/")) {
		return "", false
	}
	return rest, true
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	resp, err := dispatch.JSONResponse(status, map[string]any{
		"code":      code,
		"message":   message,
		"retryable": false,
	})
	if err != nil {
		http.Error(w, message, status)
		return
	}
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
}
