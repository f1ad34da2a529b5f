package logger

import (
	"context"

	"github.com/google/uuid"
)

// WithRequestID adds a queued request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// WithPromptID adds the owning prompt ID to the context.
func WithPromptID(ctx context.Context, promptID string) context.Context {
	return context.WithValue(ctx, ContextKeyPromptID, promptID)
}

// WithResponseID adds a response ID to the context.
func WithResponseID(ctx context.Context, responseID string) context.Context {
	return context.WithValue(ctx, ContextKeyResponseID, responseID)
}

// WithOperation adds an operation name to the context.
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, ContextKeyOperation, operation)
}

// GenerateRequestID generates a new request ID.
func GenerateRequestID() string {
	return uuid.New().String()
}
