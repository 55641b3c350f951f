package transport

import (
	"context"
	"fmt"

	"github.com/arenabench/agentbox/pkg/api"
)

// Recovery converts panics in downstream creators into server errors,
// so one broken request cannot take the process down.
func Recovery() Middleware {
	return func(next CompletionCreator) CompletionCreator {
		return CompletionCreatorFunc(func(ctx context.Context, req *api.ChatCompletionRequest, w CompletionWriter) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = api.NewServerError(fmt.Sprintf("internal error: %v", r))
				}
			}()
			return next.CreateCompletion(ctx, req, w)
		})
	}
}
