package transport

import (
	"context"

	"github.com/arenabench/agentbox/pkg/api"
)

// CompletionCreator executes one chat completion request. An
// implementation writes its result through the CompletionWriter: a
// sequence of chunks when the request asked for streaming, one buffered
// response otherwise.
//
// The context carries cancellation from the client connection and from
// explicit run cancellation; implementations should stop work when it
// is done.
type CompletionCreator interface {
	CreateCompletion(ctx context.Context, req *api.ChatCompletionRequest, w CompletionWriter) error
}

// CompletionCreatorFunc adapts a function to the CompletionCreator
// interface.
type CompletionCreatorFunc func(ctx context.Context, req *api.ChatCompletionRequest, w CompletionWriter) error

// CreateCompletion calls f(ctx, req, w).
func (f CompletionCreatorFunc) CreateCompletion(ctx context.Context, req *api.ChatCompletionRequest, w CompletionWriter) error {
	return f(ctx, req, w)
}

// CompletionWriter is how a CompletionCreator delivers its result. The
// transport supplies the implementation: the HTTP adapter writes chunks
// as server-sent events and buffered responses as plain JSON.
//
// A writer is single-use, and the two modes are mutually exclusive:
// once WriteChunk has been called, WriteResponse fails, and vice versa.
type CompletionWriter interface {
	// WriteChunk sends one streaming chunk.
	WriteChunk(ctx context.Context, chunk api.ChatCompletionChunk) error

	// WriteResponse sends a complete non-streaming response.
	WriteResponse(ctx context.Context, resp *api.ChatCompletionResponse) error

	// Flush forces buffered data out to the client.
	Flush() error
}
