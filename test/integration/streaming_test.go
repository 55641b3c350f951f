package integration

import (
	"strings"
	"testing"
	"time"
)

func TestStreamingCompletion(t *testing.T) {
	e := newEnv(t, envConfig{})

	result := e.streamCompletion(t, userRequest("write fizzbuzz", true))

	if !result.done {
		t.Error("stream did not end with [DONE]")
	}
	if result.runID == "" {
		t.Error("missing X-Run-ID header")
	}
	if got := result.content(); got != "Hello world." {
		t.Errorf("content = %q, want %q", got, "Hello world.")
	}
	if got := result.reasoning(); !strings.Contains(got, "agent booting") {
		t.Errorf("reasoning %q does not carry the provider status line", got)
	}
	if got := result.finishReason(); got != "stop" {
		t.Errorf("finish_reason = %q, want stop", got)
	}

	// Setup progress is thinking, never final content.
	if got := result.content(); strings.Contains(got, "uploading") || strings.Contains(got, "workspace") {
		t.Errorf("setup status leaked into content: %q", got)
	}

	// The assistant role rides the first chunk only.
	if len(result.chunks) == 0 || len(result.chunks[0].Choices) == 0 {
		t.Fatal("no chunks")
	}
	if role := result.chunks[0].Choices[0].Delta.Role; role != "assistant" {
		t.Errorf("first chunk role = %q, want assistant", role)
	}
	for _, c := range result.chunks[1:] {
		for _, choice := range c.Choices {
			if choice.Delta.Role != "" {
				t.Error("role repeated after the first chunk")
			}
		}
	}
}

func TestStreamingUsageChunk(t *testing.T) {
	e := newEnv(t, envConfig{})

	req := userRequest("task", true)
	req.StreamOptions = includeUsage()

	result := e.streamCompletion(t, req)
	usage := result.usage()
	if usage == nil {
		t.Fatal("no usage chunk despite include_usage")
	}
	if usage.SandboxSeconds <= 0 {
		t.Errorf("sandbox_seconds = %v, want > 0", usage.SandboxSeconds)
	}

	// The usage chunk trails the finish chunk and carries no choices.
	last := result.chunks[len(result.chunks)-1]
	if last.Usage == nil {
		t.Error("usage is not the final chunk")
	}
	if len(last.Choices) != 0 {
		t.Error("usage chunk carries choices")
	}
}

func TestStreamingWithoutUsageChunk(t *testing.T) {
	e := newEnv(t, envConfig{})

	result := e.streamCompletion(t, userRequest("task", true))
	if result.usage() != nil {
		t.Error("usage chunk present without include_usage")
	}
}

func TestStreamingRetryAfterTimeout(t *testing.T) {
	e := newEnv(t, envConfig{attemptTimeout: 300 * time.Millisecond})
	e.provider.hangFirstRun = true

	result := e.streamCompletion(t, userRequest("task", true))

	if got := e.provider.agentCallCount(); got != 2 {
		t.Errorf("agent-run called %d times, want 2", got)
	}
	if got := strings.Count(result.reasoning(), "retrying"); got != 1 {
		t.Errorf("retry notice appears %d times in reasoning, want exactly 1:\n%s", got, result.reasoning())
	}
	// Content comes from the second attempt only, with no duplicates.
	if got := result.content(); got != "Hello world." {
		t.Errorf("content = %q, want %q", got, "Hello world.")
	}
	if got := result.finishReason(); got != "stop" {
		t.Errorf("finish_reason = %q, want stop", got)
	}
	if !result.done {
		t.Error("stream did not terminate")
	}
}

func TestStreamingRetryFailureIsTerminal(t *testing.T) {
	e := newEnv(t, envConfig{attemptTimeout: 200 * time.Millisecond})
	e.provider.hangFirstRun = true
	// The retry's stream ends without a terminal event, so the second
	// attempt fails too. There is no third attempt.
	e.provider.agentLines = nil

	result := e.streamCompletion(t, userRequest("task", true))

	if got := e.provider.agentCallCount(); got != 2 {
		t.Errorf("agent-run called %d times, want 2 (one retry, then surrender)", got)
	}
	if got := result.content(); !strings.Contains(got, "failed") {
		t.Errorf("failure not surfaced as content: %q", got)
	}
	if got := result.finishReason(); got != "stop" {
		t.Errorf("finish_reason = %q, want stop", got)
	}
	if !result.done {
		t.Error("stream did not terminate cleanly after the failed retry")
	}
}

func TestStreamingAgentError(t *testing.T) {
	e := newEnv(t, envConfig{})
	e.provider.agentLines = []string{
		`{"type":"status","message":"agent booting"}`,
		`{"type":"error","error":"agent crashed on startup"}`,
	}

	result := e.streamCompletion(t, userRequest("task", true))

	if got := result.content(); !strings.Contains(got, "agent crashed on startup") {
		t.Errorf("failure text missing from content: %q", got)
	}
	if got := result.finishReason(); got != "stop" {
		t.Errorf("finish_reason = %q, want stop", got)
	}
	if !result.done {
		t.Error("stream did not terminate after error")
	}
	if len(e.provider.terminatedIDs()) == 0 {
		t.Error("failed sandbox was not terminated")
	}
}
