package api

import "fmt"

// Chat Completions wire types for the gateway surface. These mirror the
// OpenAI Chat Completions API format plus the agentbox extensions.

// ChatCompletionRequest is the request body for /v1/chat/completions.
type ChatCompletionRequest struct {
	Model         string             `json:"model"`
	Messages      []ChatMessage      `json:"messages"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	MaxTokens     *int               `json:"max_tokens,omitempty"`
	N             int                `json:"n,omitempty"`
	Stream        bool               `json:"stream"`
	StreamOptions *ChatStreamOptions `json:"stream_options,omitempty"`
	User          string             `json:"user,omitempty"`

	// Agent selects the CLI-agent implementation that executes the task
	// inside the sandbox. Empty means the server default.
	Agent string `json:"agent,omitempty"`
}

// ChatStreamOptions controls streaming behavior.
type ChatStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// ChatMessage represents a message in the Chat Completions format.
// Content is either a string or an array of content parts.
type ChatMessage struct {
	Role             string  `json:"role"`
	Content          any     `json:"content"`
	Name             string  `json:"name,omitempty"`
	ReasoningContent *string `json:"reasoning_content,omitempty"`
}

// ContentText flattens a message's content to plain text. String content is
// returned as-is; content-part arrays are concatenated over their "text"
// fields. Non-text parts are skipped.
func (m ChatMessage) ContentText() string {
	switch c := m.Content.(type) {
	case string:
		return c
	case []any:
		var out string
		for _, part := range c {
			p, ok := part.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := p["text"].(string); ok {
				out += text
			}
		}
		return out
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", c)
	}
}

// ChatCompletionResponse is the non-streaming response from /v1/chat/completions.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *ChatUsage   `json:"usage,omitempty"`
}

// ChatChoice represents one completion choice.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatUsage holds usage accounting for a completion. Token counts are zero
// for sandbox-executed runs; SandboxSeconds reports billable sandbox time.
type ChatUsage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	SandboxSeconds   float64 `json:"sandbox_seconds,omitempty"`
}

// ChatCompletionChunk is a single SSE chunk in a streaming response.
type ChatCompletionChunk struct {
	ID      string            `json:"id"`
	Object  string            `json:"object"`
	Created int64             `json:"created"`
	Model   string            `json:"model"`
	Choices []ChatChunkChoice `json:"choices"`
	Usage   *ChatUsage        `json:"usage,omitempty"`
}

// ChatChunkChoice represents a streaming choice delta.
type ChatChunkChoice struct {
	Index        int            `json:"index"`
	Delta        ChatChunkDelta `json:"delta"`
	FinishReason *string        `json:"finish_reason"`
}

// ChatChunkDelta holds incremental content in a streaming chunk.
// ReasoningContent carries sandbox status and agent thinking; Content
// carries final answer text.
type ChatChunkDelta struct {
	Role             string  `json:"role,omitempty"`
	Content          *string `json:"content,omitempty"`
	ReasoningContent *string `json:"reasoning_content,omitempty"`
}

// Object type constants used on responses and chunks.
const (
	ObjectChatCompletion      = "chat.completion"
	ObjectChatCompletionChunk = "chat.completion.chunk"
)

// Finish reasons emitted by the gateway. Sandbox runs never truncate on
// token limits, so "stop" is the only terminal reason.
const (
	FinishReasonStop = "stop"
)

// RunRecord is the wire representation of one recorded run, returned by
// the /v1/runs endpoints.
type RunRecord struct {
	ID              string        `json:"id"`
	Object          string        `json:"object"`
	Created         int64         `json:"created"`
	Subject         string        `json:"subject,omitempty"`
	Agent           string        `json:"agent"`
	Model           string        `json:"model"`
	SandboxID       string        `json:"sandbox_id,omitempty"`
	Status          string        `json:"status"`
	ExitCode        int           `json:"exit_code"`
	DurationSeconds float64       `json:"duration_seconds"`
	SandboxSeconds  float64       `json:"sandbox_seconds"`
	ArtifactCount   int           `json:"artifact_count"`
	Artifacts       []RunArtifact `json:"artifacts,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// RunArtifact is one file the agent left in the artifacts directory.
type RunArtifact struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// Run status values.
const (
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// RunList is the response for GET /v1/runs.
type RunList struct {
	Object  string      `json:"object"`
	Data    []RunRecord `json:"data"`
	HasMore bool        `json:"has_more"`
	FirstID string      `json:"first_id,omitempty"`
	LastID  string      `json:"last_id,omitempty"`
}

// ObjectRun is the object type for run records.
const ObjectRun = "run"
