package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/arenabench/agentbox/pkg/api"
)

// Logging logs every request's completion with its correlation IDs,
// the requested agent and model, the stream flag, and the duration.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next CompletionCreator) CompletionCreator {
		return CompletionCreatorFunc(func(ctx context.Context, req *api.ChatCompletionRequest, w CompletionWriter) error {
			start := time.Now()
			err := next.CreateCompletion(ctx, req, w)
			duration := time.Since(start)

			attrs := []slog.Attr{
				slog.String("request_id", RequestIDFromContext(ctx)),
				slog.String("run_id", RunIDFromContext(ctx)),
				slog.String("model", req.Model),
				slog.String("agent", req.Agent),
				slog.Bool("stream", req.Stream),
				slog.Duration("duration", duration),
			}

			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
				logger.LogAttrs(ctx, slog.LevelError, "request failed", attrs...)
			} else {
				logger.LogAttrs(ctx, slog.LevelInfo, "request completed", attrs...)
			}
			return err
		})
	}
}
