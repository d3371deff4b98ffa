// Package errors defines the HTTP error envelope and the typed errors the
// server maps onto it.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"
)

// Error codes carried in the envelope.
const (
	CodeNotFound             = "NOT_FOUND"
	CodeMethodNotAllowed     = "METHOD_NOT_ALLOWED"
	CodeValidation           = "VALIDATION_ERROR"
	CodeInternal             = "INTERNAL_ERROR"
	CodeServiceUnavailable   = "SERVICE_UNAVAILABLE"
	CodeExternalService      = "EXTERNAL_SERVICE_ERROR"
	CodeBadRequest           = "BAD_REQUEST"
	CodeUnsupportedMediaType = "UNSUPPORTED_MEDIA_TYPE"
)

// RequestIDHeader is the header carrying the request id on both the
// request and the response.
const RequestIDHeader = "X-Request-ID"

// ErrorBody is the inner object of the envelope.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// HTTPErrorResponse is the JSON body of every error response:
//
//	{"error":{"code":"...","message":"...","request_id":"...","details":{}}}
type HTTPErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// AppError is an error with an HTTP status and an envelope code.
type AppError struct {
	Code    string
	Status  int
	Message string
	Details map[string]any
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns e with key set in its details.
func (e *AppError) WithDetails(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Envelope converts e into an error envelope tagged with requestID.
func (e *AppError) Envelope(requestID string) *gferrors.ErrorEnvelope {
	env := gferrors.NewErrorEnvelope(e.Code, e.Message)
	if requestID != "" {
		env = env.WithCorrelationID(requestID)
	}
	if len(e.Details) > 0 {
		env.Details = e.Details
	}
	return env
}

// New builds an AppError.
func New(status int, code, message string) *AppError {
	return &AppError{Code: code, Status: status, Message: message}
}

// NewNotFoundError reports a missing resource.
func NewNotFoundError(message string) *AppError {
	return New(http.StatusNotFound, CodeNotFound, message)
}

// NewMethodNotAllowedError reports a route that exists for other methods.
func NewMethodNotAllowedError(method string) *AppError {
	return New(http.StatusMethodNotAllowed, CodeMethodNotAllowed,
		fmt.Sprintf("method %s not allowed", method))
}

// NewValidationError reports an invalid request.
func NewValidationError(message string, details map[string]any) *AppError {
	e := New(http.StatusBadRequest, CodeValidation, message)
	e.Details = details
	return e
}

// NewInternalError wraps an unexpected failure. The cause is logged but
// never rendered.
func NewInternalError(message string, err error) *AppError {
	e := New(http.StatusInternalServerError, CodeInternal, message)
	e.Err = err
	return e
}

// NewServiceUnavailableError reports that the server cannot take the
// request right now.
func NewServiceUnavailableError(message string, details map[string]any) *AppError {
	e := New(http.StatusServiceUnavailable, CodeServiceUnavailable, message)
	e.Details = details
	return e
}

// NewExternalServiceError reports a failure of an upstream (Ghost, S3).
func NewExternalServiceError(message string) *AppError {
	return New(http.StatusBadGateway, CodeExternalService, message)
}

// WrapInternal wraps err as an internal error carrying the request id
// found in ctx, if any.
func WrapInternal(ctx context.Context, err error, message string) *AppError {
	e := NewInternalError(message, err)
	if id := RequestIDFromContext(ctx); id != "" {
		e.WithDetails("request_id", id)
	}
	return e
}

type requestIDKey struct{}

// WithRequestID returns a context carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id stored by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// As extracts an AppError from err. Non-AppErrors become internal errors.
func As(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return NewInternalError("internal server error", err)
}

// RespondWithError writes err as an error envelope. The request id comes
// from the request context, then the response header, then the request
// header.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := As(err)

	var requestID string
	if r != nil {
		requestID = RequestIDFromContext(r.Context())
	}
	if requestID == "" {
		requestID = w.Header().Get(RequestIDHeader)
	}
	if requestID == "" && r != nil {
		requestID = r.Header.Get(RequestIDHeader)
	}

	WriteEnvelope(w, appErr.Status, appErr.Envelope(requestID))
}

// WriteEnvelope renders env as the HTTP error body with status.
func WriteEnvelope(w http.ResponseWriter, status int, env *gferrors.ErrorEnvelope) {
	WriteJSON(w, status, HTTPErrorResponse{Error: BodyFromEnvelope(env)})
}

// BodyFromEnvelope maps an envelope onto the wire body. The correlation id
// becomes request_id; context entries are merged into details.
func BodyFromEnvelope(env *gferrors.ErrorEnvelope) ErrorBody {
	if env == nil {
		return ErrorBody{Code: CodeInternal, Message: "internal server error"}
	}
	body := ErrorBody{
		Code:      env.Code,
		Message:   env.Message,
		RequestID: env.CorrelationID,
	}
	if len(env.Details)+len(env.Context) > 0 {
		body.Details = make(map[string]any, len(env.Details)+len(env.Context))
		for k, v := range env.Details {
			body.Details[k] = v
		}
		for k, v := range env.Context {
			body.Details[k] = v
		}
	}
	return body
}

// WriteJSON writes v as a JSON response with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
