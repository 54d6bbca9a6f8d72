package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rendis/actuator/internal/jsoncodec"
	"github.com/rendis/actuator/internal/logging"
	"github.com/rendis/actuator/pkg/schema"
)

// errorBody is the JSON body of every error response.
type errorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Retryable bool           `json:"retryable"`
}

// ErrorHandler is the dispatch error boundary. Client errors are reported
// as-is; server errors are logged with request context and answered with a
// generic body.
type ErrorHandler struct {
	logger *slog.Logger
}

// NewErrorHandler creates the error boundary.
func NewErrorHandler(logger *slog.Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle converts err into a response.
func (h *ErrorHandler) Handle(ctx context.Context, req *schema.Request, err error) *schema.Response {
	log := logging.LogWith(ctx, h.logger).With(
		slog.String("method", req.Method),
		slog.String("path", "/"+strings.Join(req.Path, "/")),
	)

	var ae *schema.ActionError
	if !errors.As(err, &ae) {
		ae = schema.NewError(schema.ErrCodeExecution, "internal error").WithCause(err)
	}

	status := ae.Status()
	body := errorBody{
		Code:      ae.Code,
		Message:   ae.Message,
		Details:   ae.Details,
		Retryable: ae.Retryable(),
	}

	switch {
	case status >= http.StatusInternalServerError && ae.Code != schema.ErrCodeTimeout:
		attrs := []any{slog.String("code", ae.Code), slog.Any("error", err)}
		if ae.Cause != nil {
			attrs = append(attrs, slog.String("cause", ae.Cause.Error()))
		}
		var pe *PanicError
		if errors.As(err, &pe) {
			attrs = append(attrs, slog.String("stack", string(pe.Stack)))
		}
		log.Error("action invocation failed", attrs...)
		body.Code = schema.ErrCodeExecution
		body.Message = "internal server error"
		body.Details = nil
	case ae.Code == schema.ErrCodeTimeout:
		log.Warn("action timed out", slog.Any("error", err))
	default:
		log.Debug("request rejected", slog.String("code", ae.Code), slog.String("message", ae.Message))
	}

	data, mErr := jsoncodec.Marshal(body)
	if mErr != nil {
		data = []byte(`{"code":"EXECUTION_ERROR","message":"internal server error","retryable":false}`)
	}
	return &schema.Response{
		Status:  status,
		Headers: map[string]string{"Content-Type": contentTypeJSON},
		Body:    data,
	}
}
