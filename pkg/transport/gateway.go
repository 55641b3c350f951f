package transport

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/arenabench/agentbox/pkg/api"
	"github.com/arenabench/agentbox/pkg/auth"
	"github.com/arenabench/agentbox/pkg/pool"
	"github.com/arenabench/agentbox/pkg/run"
)

// recordTimeout bounds the ledger write after a run finishes.
const recordTimeout = 5 * time.Second

// GatewayConfig holds the Gateway's fixed parameters.
type GatewayConfig struct {
	// DefaultAgent fills in requests that do not name an agent.
	DefaultAgent string

	// DefaultModel fills in requests that do not name a model.
	DefaultModel string

	// Validation bounds request shape and task size.
	Validation api.ValidationConfig
}

// Gateway turns chat completion requests into sandbox runs. It owns
// the request-level orchestration: validate, acquire a sandbox from
// the pool, execute, release, and record the finished run in the
// ledger.
type Gateway struct {
	pool  *pool.Manager
	store RunStore
	cfg   GatewayConfig
}

// NewGateway creates a Gateway. The pool must not be nil. The store
// may be nil, in which case finished runs are not recorded.
func NewGateway(p *pool.Manager, store RunStore, cfg GatewayConfig) (*Gateway, error) {
	if p == nil {
		return nil, errors.New("transport: pool must not be nil")
	}
	if cfg.DefaultAgent == "" {
		cfg.DefaultAgent = "claude-cli"
	}
	return &Gateway{pool: p, store: store, cfg: cfg}, nil
}

// CreateCompletion implements CompletionCreator.
func (g *Gateway) CreateCompletion(ctx context.Context, req *api.ChatCompletionRequest, w CompletionWriter) error {
	if req.Model == "" {
		req.Model = g.cfg.DefaultModel
	}
	if req.Agent == "" {
		req.Agent = g.cfg.DefaultAgent
	}
	if apiErr := api.ValidateRequest(req, g.cfg.Validation); apiErr != nil {
		return apiErr
	}
	task, apiErr := api.TaskText(req)
	if apiErr != nil {
		return apiErr
	}

	runID := RunIDFromContext(ctx)
	if runID == "" {
		runID = api.NewRunID()
	}
	completionID := api.NewCompletionID()
	started := time.Now()

	sb, err := g.pool.Acquire(ctx)
	if err != nil {
		return api.NewOverloadedError("no sandbox available: " + err.Error())
	}

	runReq := &run.Request{
		RunID: runID,
		Task:  task,
		Agent: req.Agent,
		Model: req.Model,
	}

	var writeErr error
	if req.Stream {
		chunks := sb.Stream(ctx, completionID, runReq, api.IncludeUsage(req))
		for chunk := range chunks {
			if writeErr != nil {
				// Keep draining so the run's outcome still lands
				// and sandbox cleanup still happens.
				continue
			}
			writeErr = w.WriteChunk(ctx, chunk)
		}
	} else {
		resp := sb.Complete(ctx, completionID, runReq)
		writeErr = w.WriteResponse(ctx, resp)
	}

	// The outcome must be read before Release: a reusable sandbox is
	// reset on its way back into the pool. A broken client write or a
	// cancelled request leaves the workspace in an unknown state, so
	// the caller votes against reuse; the recorded outcome can still
	// veto reuse on its own but never force it.
	outcome := sb.Outcome()
	sandboxID := sb.ID()
	g.pool.Release(ctx, sb, writeErr == nil && ctx.Err() == nil)

	g.record(ctx, runID, req, sandboxID, started, outcome)
	return writeErr
}

// record persists the finished run. Recording is best-effort: a
// storage failure is logged, never surfaced to a request whose result
// already went out.
func (g *Gateway) record(ctx context.Context, runID string, req *api.ChatCompletionRequest, sandboxID string, started time.Time, outcome run.Outcome) {
	if g.store == nil {
		return
	}

	status := api.RunStatusCompleted
	if outcome.HasError {
		status = api.RunStatusFailed
	}
	artifacts := make([]api.RunArtifact, 0, len(outcome.Artifacts))
	for _, a := range outcome.Artifacts {
		artifacts = append(artifacts, api.RunArtifact{Path: a.Path, SizeBytes: a.SizeBytes})
	}

	rec := &api.RunRecord{
		ID:              runID,
		Object:          api.ObjectRun,
		Created:         started.Unix(),
		Subject:         auth.IdentityFromContext(ctx).SubjectOrEmpty(),
		Agent:           req.Agent,
		Model:           req.Model,
		SandboxID:       sandboxID,
		Status:          status,
		ExitCode:        outcome.ExitCode,
		DurationSeconds: outcome.Duration.Seconds(),
		SandboxSeconds:  outcome.SandboxSeconds,
		ArtifactCount:   len(artifacts),
		Artifacts:       artifacts,
		Error:           outcome.Err,
	}

	// The request context may already be cancelled (client gone,
	// explicit cancel); the record still has to land. WithoutCancel
	// keeps the tenant scope attached.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := g.store.SaveRun(sctx, rec); err != nil {
		slog.Warn("run record save failed",
			"run_id", runID,
			"error", err.Error(),
		)
	}
}
