// Package translate maps normalized run events onto OpenAI-compatible
// Chat Completions chunks and aggregated responses.
package translate

import (
	"time"

	"github.com/arenabench/agentbox/pkg/api"
	"github.com/arenabench/agentbox/pkg/run"
)

// Translator converts one run's normalized event sequence into Chat
// Completions chunks. It is stateful per stream: the first chunk opens
// the assistant message, the terminal event closes it with a finish
// reason plus, when requested, a trailing usage chunk.
//
// Not safe for concurrent use; one Translator serves one stream.
type Translator struct {
	id           string
	model        string
	created      int64
	includeUsage bool
	roleSent     bool
}

// New creates a Translator for one completion stream.
func New(completionID, model string, includeUsage bool) *Translator {
	return &Translator{
		id:           completionID,
		model:        model,
		created:      time.Now().Unix(),
		includeUsage: includeUsage,
	}
}

// Translate converts one normalized event into zero or more chunks, in
// emission order. Status and reasoning surface as reasoning_content,
// output as content. Terminal events produce the finish chunk; the
// stream is complete once those are written.
func (t *Translator) Translate(ev run.Event) []api.ChatCompletionChunk {
	switch ev.Type {
	case run.EventStatus, run.EventReasoning:
		return []api.ChatCompletionChunk{t.reasoningChunk(ev.Text)}

	case run.EventOutput:
		return []api.ChatCompletionChunk{t.contentChunk(ev.Text)}

	case run.EventArtifact:
		// Artifacts surface through the run ledger and the debug event
		// stream, not the chat surface.
		return nil

	case run.EventError:
		// A failure still yields a well-formed, terminated stream: the
		// failure becomes assistant content followed by a normal stop.
		return []api.ChatCompletionChunk{
			t.contentChunk(errorText(ev.Text)),
			t.finishChunk(),
		}

	case run.EventComplete:
		chunks := []api.ChatCompletionChunk{t.finishChunk()}
		if t.includeUsage {
			chunks = append(chunks, t.usageChunk(ev.Result))
		}
		return chunks
	}
	return nil
}

// reasoningChunk wraps text as reasoning_content, visible as thinking
// but never as final content.
func (t *Translator) reasoningChunk(text string) api.ChatCompletionChunk {
	return t.chunk(api.ChatChunkDelta{ReasoningContent: &text}, nil)
}

// contentChunk wraps text as assistant content.
func (t *Translator) contentChunk(text string) api.ChatCompletionChunk {
	return t.chunk(api.ChatChunkDelta{Content: &text}, nil)
}

// finishChunk closes the stream with the terminal finish reason.
func (t *Translator) finishChunk() api.ChatCompletionChunk {
	reason := api.FinishReasonStop
	return t.chunk(api.ChatChunkDelta{}, &reason)
}

// chunk assembles one chunk, attaching the assistant role to the first
// of the stream.
func (t *Translator) chunk(delta api.ChatChunkDelta, finish *string) api.ChatCompletionChunk {
	if !t.roleSent {
		delta.Role = "assistant"
		t.roleSent = true
	}
	return api.ChatCompletionChunk{
		ID:      t.id,
		Object:  api.ObjectChatCompletionChunk,
		Created: t.created,
		Model:   t.model,
		Choices: []api.ChatChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	}
}

// usageChunk is the trailing usage-only chunk: empty choices, usage set.
func (t *Translator) usageChunk(res *run.Result) api.ChatCompletionChunk {
	usage := &api.ChatUsage{}
	if res != nil {
		usage.SandboxSeconds = res.Duration.Seconds()
	}
	return api.ChatCompletionChunk{
		ID:      t.id,
		Object:  api.ObjectChatCompletionChunk,
		Created: t.created,
		Model:   t.model,
		Choices: []api.ChatChunkChoice{},
		Usage:   usage,
	}
}

// errorText renders a terminal failure as user-readable content.
func errorText(msg string) string {
	if msg == "" {
		msg = "unknown failure"
	}
	return "The sandbox run failed: " + msg
}
