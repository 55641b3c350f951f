package transport

import (
	"context"

	"github.com/google/uuid"

	"github.com/arenabench/agentbox/pkg/api"
)

// RequestID ensures every request carries a correlation ID in its
// context, generating one when the transport did not supply one.
func RequestID() Middleware {
	return func(next CompletionCreator) CompletionCreator {
		return CompletionCreatorFunc(func(ctx context.Context, req *api.ChatCompletionRequest, w CompletionWriter) error {
			if RequestIDFromContext(ctx) == "" {
				ctx = ContextWithRequestID(ctx, uuid.NewString())
			}
			return next.CreateCompletion(ctx, req, w)
		})
	}
}
