package run

import "time"

// EventType classifies a normalized execution event.
type EventType int

const (
	EventStatus    EventType = iota // Lifecycle progress message
	EventOutput                     // Agent output text (delta or final)
	EventReasoning                  // Agent thinking, never final content
	EventArtifact                   // One produced file
	EventError                      // Terminal failure
	EventComplete                   // Terminal success summary
)

// String returns the event type name for logs and debug streams.
func (t EventType) String() string {
	switch t {
	case EventStatus:
		return "status"
	case EventOutput:
		return "output"
	case EventReasoning:
		return "reasoning"
	case EventArtifact:
		return "artifact"
	case EventError:
		return "error"
	case EventComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Event is a single normalized execution event. The Type tag selects
// which fields carry data: Text for status/output/reasoning/error,
// Artifact for artifact events, Result for the terminal complete event.
type Event struct {
	// Type indicates what kind of event this is.
	Type EventType

	// Text carries the message for status, output, reasoning, and
	// error events.
	Text string

	// Artifact is populated for artifact events.
	Artifact *Artifact

	// Result is populated on the terminal complete event.
	Result *Result
}

// Terminal reports whether the event ends the sequence.
func (e Event) Terminal() bool {
	return e.Type == EventError || e.Type == EventComplete
}

// Artifact describes one file produced by a run.
type Artifact struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// Result summarizes a successfully finished run.
type Result struct {
	Success  bool
	ExitCode int
	Duration time.Duration
}

// Outcome is the post-run summary driving the pool's release decision
// and the ledger record. It is written by the Runner before the event
// channel closes; callers must drain the channel before reading it.
type Outcome struct {
	// HasError is set when the run ended with a terminal error event.
	HasError bool

	// Err carries the terminal error message when HasError is set.
	Err string

	// ExitCode is the agent's exit code, valid when the run completed.
	ExitCode int

	// ProducedArtifacts is set when the run left files in the
	// artifacts directory.
	ProducedArtifacts bool

	// Artifacts lists the collected files, in discovery order.
	Artifacts []Artifact

	// Duration is the agent execution time reported on completion.
	Duration time.Duration

	// SandboxSeconds is the wall-clock sandbox time the whole run
	// consumed, including upload, bootstrap, and artifact collection.
	SandboxSeconds float64

	// TerminationScheduled is set once the Runner has itself torn the
	// sandbox down; only idempotent terminate may run afterwards.
	TerminationScheduled bool
}

// Reusable reports whether the sandbox that served this run can go back
// to the pool: no error, no artifacts, and no termination scheduled.
func (o Outcome) Reusable() bool {
	return !o.HasError && !o.ProducedArtifacts && !o.TerminationScheduled
}
