package translate

import (
	"strings"
	"time"

	"github.com/arenabench/agentbox/pkg/api"
	"github.com/arenabench/agentbox/pkg/run"
)

// Aggregate drains a full event sequence into a single non-streaming
// completion response. Status and reasoning lines accumulate into the
// message's reasoning_content extension, output into content; a
// terminal error is rendered as content just like in streaming mode.
func Aggregate(completionID, model string, events <-chan run.Event) *api.ChatCompletionResponse {
	var content strings.Builder
	var reasoning []string
	var result *run.Result

	for ev := range events {
		switch ev.Type {
		case run.EventStatus, run.EventReasoning:
			reasoning = append(reasoning, ev.Text)
		case run.EventOutput:
			content.WriteString(ev.Text)
		case run.EventError:
			content.WriteString(errorText(ev.Text))
		case run.EventComplete:
			result = ev.Result
		}
	}

	msg := api.ChatMessage{Role: "assistant", Content: content.String()}
	if len(reasoning) > 0 {
		rc := strings.Join(reasoning, "\n")
		msg.ReasoningContent = &rc
	}

	usage := &api.ChatUsage{}
	if result != nil {
		usage.SandboxSeconds = result.Duration.Seconds()
	}

	return &api.ChatCompletionResponse{
		ID:      completionID,
		Object:  api.ObjectChatCompletion,
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []api.ChatChoice{{
			Index:        0,
			Message:      msg,
			FinishReason: api.FinishReasonStop,
		}},
		Usage: usage,
	}
}
