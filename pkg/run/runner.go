package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/arenabench/agentbox/pkg/debug"
	"github.com/arenabench/agentbox/pkg/observability"
	"github.com/arenabench/agentbox/pkg/sandbox"
)

// bootstrapTimeoutSeconds bounds the workspace preparation script.
const bootstrapTimeoutSeconds = 120

// Config holds the Runner's fixed parameters.
type Config struct {
	// Agent is the default agent implementation started in the sandbox.
	Agent string

	// Model is the default model id passed to the agent.
	Model string

	// Timeout bounds a single agent-run attempt. A first attempt that
	// exceeds it is retried once; the retry gets the same budget.
	Timeout time.Duration

	// WorkDir is the task workspace inside the sandbox.
	WorkDir string

	// ArtifactsDir, relative to WorkDir, is scanned for produced files
	// after the agent finishes.
	ArtifactsDir string

	// Pack overrides the default upload bundle.
	Pack *Pack

	// Notify, when set, observes every emitted event before it reaches
	// the consumer (the debug event stream taps in here). It must not
	// block.
	Notify func(runID string, ev Event)
}

// Request is one task to execute.
type Request struct {
	RunID string
	Task  string
	Agent string // overrides Config.Agent when set
	Model string // overrides Config.Model when set
}

// Runner turns (request, sandbox) pairs into normalized event sequences.
type Runner struct {
	client *sandbox.Client
	cfg    Config
	pack   *Pack
}

// NewRunner creates a Runner. The sandbox client must not be nil.
func NewRunner(client *sandbox.Client, cfg Config) (*Runner, error) {
	if client == nil {
		return nil, fmt.Errorf("run: sandbox client must not be nil")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "/workspace"
	}
	if cfg.ArtifactsDir == "" {
		cfg.ArtifactsDir = "artifacts"
	}
	pack := cfg.Pack
	if pack == nil {
		pack = DefaultPack(cfg.WorkDir, cfg.ArtifactsDir)
	}
	return &Runner{client: client, cfg: cfg, pack: pack}, nil
}

// Run executes the full sequence for one request against one sandbox:
// upload the agent pack, bootstrap the workspace, stream the agent run,
// collect artifacts, and tear the sandbox down when the run leaves it
// unfit for reuse. Events arrive on the returned channel in emission
// order; the channel closes after exactly one terminal event.
//
// The returned Outcome is written before the channel closes and must
// only be read after the channel is drained.
func (r *Runner) Run(ctx context.Context, sb *sandbox.Info, req *Request) (<-chan Event, *Outcome) {
	out := make(chan Event, 16)
	outcome := &Outcome{}
	go func() {
		defer close(out)
		r.run(ctx, sb, req, out, outcome)
	}()
	return out, outcome
}

func (r *Runner) run(ctx context.Context, sb *sandbox.Info, req *Request, out chan<- Event, outcome *Outcome) {
	start := time.Now()

	emit := func(ev Event) {
		if r.cfg.Notify != nil {
			r.cfg.Notify(req.RunID, ev)
		}
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	}

	finish := func(label string) {
		elapsed := time.Since(start).Seconds()
		outcome.SandboxSeconds = elapsed
		observability.RunsTotal.WithLabelValues(label).Inc()
		observability.RunDuration.Observe(elapsed)
		observability.SandboxSecondsTotal.Add(elapsed)
	}

	agent := req.Agent
	if agent == "" {
		agent = r.cfg.Agent
	}
	model := req.Model
	if model == "" {
		model = r.cfg.Model
	}

	debug.Log("run", "run starting",
		"run_id", req.RunID,
		"sandbox_id", sb.SandboxID,
		"agent", agent,
	)

	// (1) Upload the agent pack. Setup failures are terminal: a broken
	// workspace cannot be salvaged by re-running the agent.
	emit(Event{Type: EventStatus, Text: "uploading agent pack"})
	if err := r.upload(ctx, sb.SandboxID); err != nil {
		outcome.HasError = true
		outcome.Err = "workspace setup failed: " + err.Error()
		r.discard(sb.SandboxID, "failed", outcome)
		finish("error")
		emit(Event{Type: EventError, Text: outcome.Err})
		return
	}

	// (2) Bootstrap the workspace.
	emit(Event{Type: EventStatus, Text: "preparing workspace"})
	if err := r.bootstrap(ctx, sb.SandboxID); err != nil {
		outcome.HasError = true
		outcome.Err = "workspace setup failed: " + err.Error()
		r.discard(sb.SandboxID, "failed", outcome)
		finish("error")
		emit(Event{Type: EventError, Text: outcome.Err})
		return
	}

	// (3) Stream the agent run. Exceeding the attempt deadline is the
	// one recoverable condition, retried exactly once with identical
	// parameters. Every other failure is terminal immediately.
	result, err := r.invokeAgent(ctx, sb, req.Task, agent, model, emit)
	if err != nil && retryable(ctx, err) {
		observability.RunRetriesTotal.Inc()
		slog.Warn("agent run timed out, retrying",
			"run_id", req.RunID,
			"sandbox_id", sb.SandboxID,
			"timeout", r.cfg.Timeout,
		)
		emit(Event{Type: EventReasoning, Text: "Execution attempt timed out, retrying..."})
		result, err = r.invokeAgent(ctx, sb, req.Task, agent, model, emit)
	}
	if err != nil {
		outcome.HasError = true
		outcome.Err = "agent execution failed: " + err.Error()
		label := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			label = "timeout"
		}
		r.discard(sb.SandboxID, "failed", outcome)
		finish(label)
		emit(Event{Type: EventError, Text: outcome.Err})
		return
	}

	outcome.ExitCode = result.ExitCode
	outcome.HasError = !result.Success
	if outcome.HasError {
		outcome.Err = fmt.Sprintf("agent exited %d", result.ExitCode)
	}

	// (4) Collect artifacts left in the artifacts directory.
	emit(Event{Type: EventStatus, Text: "collecting artifacts"})
	artifacts := r.collectArtifacts(ctx, sb.SandboxID)
	for i := range artifacts {
		emit(Event{Type: EventArtifact, Artifact: &artifacts[i]})
	}
	outcome.ProducedArtifacts = len(artifacts) > 0
	outcome.Artifacts = artifacts

	// (5) Terminate unless the pool can take the sandbox back. A run
	// that errored or produced artifacts leaves state behind that must
	// not leak into an unrelated task.
	if outcome.HasError {
		r.discard(sb.SandboxID, "failed", outcome)
	} else if outcome.ProducedArtifacts {
		r.discard(sb.SandboxID, "artifacts", outcome)
	}

	if result.Duration <= 0 {
		result.Duration = time.Since(start)
	}
	outcome.Duration = result.Duration

	label := "success"
	if outcome.HasError {
		label = "error"
	}
	finish(label)

	debug.Log("run", "run finished",
		"run_id", req.RunID,
		"sandbox_id", sb.SandboxID,
		"success", result.Success,
		"exit_code", result.ExitCode,
		"artifacts", len(artifacts),
	)

	emit(Event{Type: EventComplete, Result: result})
}

// invokeAgent performs one agent-run attempt under the configured
// deadline, forwarding stream events to emit as they arrive. It returns
// the run result carried by the provider's complete event.
func (r *Runner) invokeAgent(ctx context.Context, sb *sandbox.Info, task, agent, model string, emit func(Event)) (*Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	events, err := r.client.RunAgent(attemptCtx, sb.SandboxID, &sandbox.AgentRunRequest{
		Task:           task,
		Agent:          agent,
		Model:          model,
		WorkDir:        r.cfg.WorkDir,
		TimeoutSeconds: int(r.cfg.Timeout.Seconds()),
	})
	if err != nil {
		return nil, err
	}

	for ev := range events {
		switch ev.Type {
		case sandbox.StreamStatus:
			// Provider progress lines surface as reasoning, never as
			// final content.
			emit(Event{Type: EventReasoning, Text: ev.Message})

		case sandbox.StreamAgentOutput:
			if ev.StreamEvent != nil && ev.StreamEvent.Text != "" {
				emit(Event{Type: EventOutput, Text: ev.StreamEvent.Text})
			}
			if ev.Result != "" {
				emit(Event{Type: EventOutput, Text: ev.Result})
			}

		case sandbox.StreamComplete:
			return &Result{
				Success:  ev.Success,
				ExitCode: ev.ExitCode,
				Duration: time.Duration(ev.DurationSeconds * float64(time.Second)),
			}, nil

		case sandbox.StreamError:
			return nil, fmt.Errorf("agent reported: %s", ev.Error)
		}
	}

	// The stream ended without a terminal event: either the attempt
	// deadline fired mid-stream or the connection dropped.
	if err := attemptCtx.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New("agent stream ended without completion")
}

// retryable reports whether an agent invocation failed on its own
// attempt deadline rather than the caller's context.
func retryable(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil
}

// upload writes every pack file into the sandbox.
func (r *Runner) upload(ctx context.Context, sandboxID string) error {
	for _, f := range r.pack.Files {
		req := &sandbox.WriteFileRequest{
			Path:    path.Join(r.pack.Dir, f.Path),
			Content: f.Content,
		}
		if err := r.client.WriteFile(ctx, sandboxID, req); err != nil {
			return fmt.Errorf("write %s: %w", f.Path, err)
		}
	}
	return nil
}

// bootstrap runs the pack's workspace preparation script.
func (r *Runner) bootstrap(ctx context.Context, sandboxID string) error {
	res, err := r.client.Exec(ctx, sandboxID, &sandbox.ExecRequest{
		Command:        r.pack.BootstrapCommand(),
		TimeoutSeconds: bootstrapTimeoutSeconds,
	})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = strings.TrimSpace(res.Stdout)
		}
		return fmt.Errorf("bootstrap exited %d: %s", res.ExitCode, msg)
	}
	return nil
}

// collectArtifacts lists files under the artifacts directory. Collection
// is best-effort: a missing directory or a listing failure means no
// artifacts, never a failed run.
func (r *Runner) collectArtifacts(ctx context.Context, sandboxID string) []Artifact {
	dir := path.Join(r.cfg.WorkDir, r.cfg.ArtifactsDir)
	res, err := r.client.Exec(ctx, sandboxID, &sandbox.ExecRequest{
		Command: fmt.Sprintf("find %s -type f -exec wc -c {} \\; 2>/dev/null", dir),
	})
	if err != nil || res.ExitCode != 0 {
		return nil
	}

	var artifacts []Artifact
	for _, line := range strings.Split(res.Stdout, "\n") {
		// wc -c prints "<bytes> <path>"; paths may contain spaces.
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		size, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			continue
		}
		artifacts = append(artifacts, Artifact{
			Path:      strings.Join(fields[1:], " "),
			SizeBytes: size,
		})
	}
	return artifacts
}

// discard tears the sandbox down after a run that left it unusable.
// Termination failures are logged and swallowed; cleanup never fails
// the caller's request.
func (r *Runner) discard(sandboxID, reason string, outcome *Outcome) {
	if outcome.TerminationScheduled {
		return
	}
	outcome.TerminationScheduled = true

	// Cleanup proceeds even when the caller's context is already gone.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := r.client.Terminate(ctx, sandboxID); err != nil {
		slog.Warn("sandbox terminate failed",
			"sandbox_id", sandboxID,
			"reason", reason,
			"error", err.Error(),
		)
	}
	observability.SandboxTerminateTotal.WithLabelValues(reason).Inc()
}
