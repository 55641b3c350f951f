package sandbox

// Info identifies one provisioned sandbox.
type Info struct {
	SandboxID string `json:"sandbox_id"`
	PublicURL string `json:"public_url,omitempty"`
}

// CreateRequest configures a new sandbox.
type CreateRequest struct {
	Template   string `json:"template,omitempty"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

// WriteFileRequest writes one file into the sandbox filesystem. Parent
// directories are created as needed.
type WriteFileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// ExecRequest runs a single shell command inside the sandbox.
type ExecRequest struct {
	Command        string `json:"command"`
	WorkDir        string `json:"work_dir,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// ExecResult is the outcome of one exec call.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// AgentRunRequest starts the provider's streaming agent-run endpoint.
type AgentRunRequest struct {
	Task           string `json:"task"`
	Agent          string `json:"agent"`
	Model          string `json:"model,omitempty"`
	WorkDir        string `json:"work_dir,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// StreamEventType tags one agent-run stream event.
type StreamEventType string

const (
	StreamStatus      StreamEventType = "status"
	StreamAgentOutput StreamEventType = "agent-output"
	StreamComplete    StreamEventType = "complete"
	StreamError       StreamEventType = "error"
)

// StreamEvent is one newline-delimited JSON event from the agent-run
// stream. The Type tag selects which of the remaining fields carry data:
//
//   - status: Message
//   - agent-output: exactly one of StreamEvent (incremental delta) or
//     Result (final text)
//   - complete: Success, ExitCode, DurationSeconds; terminal
//   - error: Error; terminal
type StreamEvent struct {
	Type StreamEventType `json:"type"`

	// status fields
	Message string `json:"message,omitempty"`

	// agent-output fields
	StreamEvent *OutputDelta `json:"stream_event,omitempty"`
	Result      string       `json:"result,omitempty"`

	// complete fields
	Success         bool    `json:"success,omitempty"`
	ExitCode        int     `json:"exit_code,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`

	// error fields
	Error string `json:"error,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e StreamEvent) Terminal() bool {
	return e.Type == StreamComplete || e.Type == StreamError
}

// OutputDelta is an incremental slice of agent output text.
type OutputDelta struct {
	Text string `json:"text"`
}

// errorResponse is the provider's error body shape.
type errorResponse struct {
	Error string `json:"error"`
}
