package testutil

import (
	"context"

	"capbridge/internal/platform/middleware"
)

// WithRequestID adds a request ID to the context, simulating the request ID
// middleware.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, middleware.ContextKeyRequestID, requestID)
}
