package observability

import (
	"context"

	"github.com/google/uuid"
)

// Attribute keys used in logs.
const (
	CorrelationIDKey = "correlation_id"
	RequestIDKey     = "request_id"
	CallerIDKey      = "caller_id"
	UserIDKey        = "user_id"
	OperationKey     = "operation"
)

type ctxKey int

const (
	correlationKey ctxKey = iota
	requestKey
	callerKey
)

// WithCorrelationID stores id, generating one when empty. The correlation id
// follows a request across the API, the bus and the worker.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, correlationKey, id)
}

func CorrelationIDFromContext(ctx context.Context) string {
	return stringValue(ctx, correlationKey)
}

// WithRequestID stores id, generating one when empty.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, requestKey, id)
}

func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestKey)
}

// WithCallerID records the authenticated user making the request. It can
// differ from the user a log line is about, e.g. an operator comping a coach.
func WithCallerID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, callerKey, id)
}

func CallerIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	id, ok := ctx.Value(callerKey).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// NewRequestContext gives ctx a fresh request id and either the caller's
// correlation id or a new one.
func NewRequestContext(ctx context.Context, correlationID string) context.Context {
	return WithCorrelationID(WithRequestID(ctx, ""), correlationID)
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}
