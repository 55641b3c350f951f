package transport

import "context"

// Middleware wraps a CompletionCreator with cross-cutting behavior.
type Middleware func(CompletionCreator) CompletionCreator

// Chain composes middleware so the first argument is outermost:
// Chain(a, b, c)(h) runs a, then b, then c, then h.
func Chain(middlewares ...Middleware) Middleware {
	return func(next CompletionCreator) CompletionCreator {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

type requestIDKey struct{}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext extracts the request ID from the context, or ""
// when none is set.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type runIDKey struct{}

// ContextWithRunID returns a context carrying the run ID minted for
// this request.
func ContextWithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFromContext extracts the run ID from the context, or "" when
// none is set.
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
