package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/arenabench/agentbox/pkg/api"
	"github.com/arenabench/agentbox/pkg/run"
	"github.com/arenabench/agentbox/pkg/sandbox"
	"github.com/arenabench/agentbox/pkg/translate"
)

// WarmSandbox is one provisioned sandbox plus usage and health
// bookkeeping. Between Acquire and Release it is exclusively owned by
// one caller, so the entity itself needs no locking.
type WarmSandbox struct {
	client *sandbox.Client
	runner *run.Runner

	info      sandbox.Info
	workDir   string
	createdAt time.Time
	lastUsed  time.Time // zero until first use
	requests  int

	outcome run.Outcome
}

// newWarmSandbox wraps a freshly provisioned sandbox.
func newWarmSandbox(client *sandbox.Client, runner *run.Runner, info sandbox.Info, workDir string) *WarmSandbox {
	return &WarmSandbox{
		client:    client,
		runner:    runner,
		info:      info,
		workDir:   workDir,
		createdAt: time.Now(),
	}
}

// ID returns the provider's sandbox identifier.
func (w *WarmSandbox) ID() string { return w.info.SandboxID }

// PublicURL returns the sandbox's public base URL, when the provider
// assigned one.
func (w *WarmSandbox) PublicURL() string { return w.info.PublicURL }

// Age returns the time since provisioning.
func (w *WarmSandbox) Age() time.Duration { return time.Since(w.createdAt) }

// Requests returns how many runs this sandbox has served.
func (w *WarmSandbox) Requests() int { return w.requests }

// Outcome returns the last run's summary.
func (w *WarmSandbox) Outcome() run.Outcome { return w.outcome }

// Stream executes req against this sandbox and returns the lazy chunk
// stream. The channel closes after the terminal chunks; once drained,
// the run's outcome is recorded for the release decision.
func (w *WarmSandbox) Stream(ctx context.Context, completionID string, req *run.Request, includeUsage bool) <-chan api.ChatCompletionChunk {
	w.touch()

	events, outcome := w.runner.Run(ctx, &w.info, req)
	tr := translate.New(completionID, req.Model, includeUsage)

	out := make(chan api.ChatCompletionChunk, 16)
	go func() {
		defer close(out)
		for ev := range events {
			for _, chunk := range tr.Translate(ev) {
				select {
				case out <- chunk:
				case <-ctx.Done():
					// Consumer is gone; keep draining events so the
					// outcome still lands and cleanup still runs.
				}
			}
		}
		w.outcome = *outcome
	}()
	return out
}

// Complete executes req and returns one aggregated response. The run's
// outcome is recorded before Complete returns.
func (w *WarmSandbox) Complete(ctx context.Context, completionID string, req *run.Request) *api.ChatCompletionResponse {
	w.touch()

	events, outcome := w.runner.Run(ctx, &w.info, req)
	resp := translate.Aggregate(completionID, req.Model, events)
	w.outcome = *outcome
	return resp
}

// Reset clears the task workspace so the next, unrelated task starts
// clean, and forgets the previous run's outcome. The pack directory
// lives outside the workspace and survives; bootstrap recreates the
// rest on the next run.
func (w *WarmSandbox) Reset(ctx context.Context) error {
	res, err := w.client.Exec(ctx, w.info.SandboxID, &sandbox.ExecRequest{
		Command: "find " + w.workDir + " -mindepth 1 -delete",
	})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("workspace reset exited %d: %s", res.ExitCode, res.Stderr)
	}
	w.outcome = run.Outcome{}
	return nil
}

// IsReusable reports whether the last run left the sandbox fit for the
// pool: no error, no artifacts, no termination scheduled.
func (w *WarmSandbox) IsReusable() bool {
	return w.outcome.Reusable()
}

// Expired reports whether the sandbox exceeded its age or request
// budget, whichever comes first. A zero budget never expires.
func (w *WarmSandbox) Expired(maxAge time.Duration, maxRequests int) bool {
	if maxAge > 0 && time.Since(w.createdAt) >= maxAge {
		return true
	}
	if maxRequests > 0 && w.requests >= maxRequests {
		return true
	}
	return false
}

// touch records one more use.
func (w *WarmSandbox) touch() {
	w.lastUsed = time.Now()
	w.requests++
}
