package middleware

import "context"

// Context keys for values set by the middleware chain.
type contextKeyRequestID struct{}
type contextKeyAdvisorID struct{}

// Exported for use in handlers and test helpers.
var (
	ContextKeyRequestID = contextKeyRequestID{}
	ContextKeyAdvisorID = contextKeyAdvisorID{}
)

// GetRequestID retrieves the request correlation ID from the context.
func GetRequestID(ctx context.Context) string {
	id, ok := ctx.Value(ContextKeyRequestID).(string)
	if !ok {
		return ""
	}
	return id
}

// GetAdvisorID retrieves the authenticated advisor ID from the context.
// Empty when the request was not authenticated (regulated mode off).
func GetAdvisorID(ctx context.Context) string {
	id, ok := ctx.Value(ContextKeyAdvisorID).(string)
	if !ok {
		return ""
	}
	return id
}
