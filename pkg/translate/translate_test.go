package translate

import (
	"strings"
	"testing"
	"time"

	"github.com/arenabench/agentbox/pkg/api"
	"github.com/arenabench/agentbox/pkg/run"
)

func TestTranslator_FirstChunkCarriesRole(t *testing.T) {
	tr := New("chatcmpl-test", "bench-1", false)

	first := tr.Translate(run.Event{Type: run.EventStatus, Text: "starting"})
	if len(first) != 1 {
		t.Fatalf("got %d chunks, want 1", len(first))
	}
	if first[0].Choices[0].Delta.Role != "assistant" {
		t.Errorf("first chunk role = %q, want assistant", first[0].Choices[0].Delta.Role)
	}

	second := tr.Translate(run.Event{Type: run.EventOutput, Text: "hi"})
	if second[0].Choices[0].Delta.Role != "" {
		t.Errorf("second chunk role = %q, want empty", second[0].Choices[0].Delta.Role)
	}
}

func TestTranslator_StatusAndReasoningBecomeReasoningContent(t *testing.T) {
	tr := New("chatcmpl-test", "bench-1", false)

	for _, ev := range []run.Event{
		{Type: run.EventStatus, Text: "uploading agent pack"},
		{Type: run.EventReasoning, Text: "thinking"},
	} {
		chunks := tr.Translate(ev)
		if len(chunks) != 1 {
			t.Fatalf("got %d chunks for %s, want 1", len(chunks), ev.Type)
		}
		delta := chunks[0].Choices[0].Delta
		if delta.ReasoningContent == nil || *delta.ReasoningContent != ev.Text {
			t.Errorf("%s: reasoning_content = %v, want %q", ev.Type, delta.ReasoningContent, ev.Text)
		}
		if delta.Content != nil {
			t.Errorf("%s leaked into content: %q", ev.Type, *delta.Content)
		}
	}
}

func TestTranslator_OutputBecomesContent(t *testing.T) {
	tr := New("chatcmpl-test", "bench-1", false)

	chunks := tr.Translate(run.Event{Type: run.EventOutput, Text: "the answer"})
	delta := chunks[0].Choices[0].Delta
	if delta.Content == nil || *delta.Content != "the answer" {
		t.Errorf("content = %v, want %q", delta.Content, "the answer")
	}
	if delta.ReasoningContent != nil {
		t.Errorf("output leaked into reasoning_content: %q", *delta.ReasoningContent)
	}
}

func TestTranslator_ArtifactProducesNoChunk(t *testing.T) {
	tr := New("chatcmpl-test", "bench-1", false)

	chunks := tr.Translate(run.Event{
		Type:     run.EventArtifact,
		Artifact: &run.Artifact{Path: "/workspace/artifacts/out.png", SizeBytes: 9},
	})
	if len(chunks) != 0 {
		t.Errorf("got %d chunks for artifact event, want 0", len(chunks))
	}
}

func TestTranslator_CompleteWithoutUsage(t *testing.T) {
	tr := New("chatcmpl-test", "bench-1", false)

	chunks := tr.Translate(run.Event{
		Type:   run.EventComplete,
		Result: &run.Result{Success: true, Duration: 3 * time.Second},
	})
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1 (no usage requested)", len(chunks))
	}
	fr := chunks[0].Choices[0].FinishReason
	if fr == nil || *fr != api.FinishReasonStop {
		t.Errorf("finish_reason = %v, want stop", fr)
	}
	if chunks[0].Usage != nil {
		t.Error("usage attached without stream_options.include_usage")
	}
}

func TestTranslator_CompleteWithUsage(t *testing.T) {
	tr := New("chatcmpl-test", "bench-1", true)

	chunks := tr.Translate(run.Event{
		Type:   run.EventComplete,
		Result: &run.Result{Success: true, Duration: 2500 * time.Millisecond},
	})
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want finish + usage", len(chunks))
	}

	finish := chunks[0]
	if fr := finish.Choices[0].FinishReason; fr == nil || *fr != api.FinishReasonStop {
		t.Errorf("finish_reason = %v, want stop", fr)
	}

	usage := chunks[1]
	if len(usage.Choices) != 0 {
		t.Errorf("usage chunk has %d choices, want 0", len(usage.Choices))
	}
	if usage.Usage == nil || usage.Usage.SandboxSeconds != 2.5 {
		t.Errorf("usage = %+v, want sandbox_seconds 2.5", usage.Usage)
	}
}

func TestTranslator_ErrorTerminatesCleanly(t *testing.T) {
	tr := New("chatcmpl-test", "bench-1", true)

	chunks := tr.Translate(run.Event{Type: run.EventError, Text: "bootstrap exited 1"})
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want content + finish", len(chunks))
	}

	content := chunks[0].Choices[0].Delta.Content
	if content == nil || !strings.Contains(*content, "bootstrap exited 1") {
		t.Errorf("error content = %v, want failure description", content)
	}
	if fr := chunks[1].Choices[0].FinishReason; fr == nil || *fr != api.FinishReasonStop {
		t.Errorf("finish_reason = %v, want stop even on failure", fr)
	}
}

func TestTranslator_ChunkEnvelope(t *testing.T) {
	tr := New("chatcmpl-abc", "bench-1", false)

	chunks := tr.Translate(run.Event{Type: run.EventOutput, Text: "x"})
	c := chunks[0]
	if c.ID != "chatcmpl-abc" {
		t.Errorf("id = %q", c.ID)
	}
	if c.Object != api.ObjectChatCompletionChunk {
		t.Errorf("object = %q", c.Object)
	}
	if c.Model != "bench-1" {
		t.Errorf("model = %q", c.Model)
	}
	if c.Created == 0 {
		t.Error("created timestamp missing")
	}
}

func TestAggregate(t *testing.T) {
	events := make(chan run.Event, 8)
	events <- run.Event{Type: run.EventStatus, Text: "uploading agent pack"}
	events <- run.Event{Type: run.EventReasoning, Text: "planning"}
	events <- run.Event{Type: run.EventOutput, Text: "part one, "}
	events <- run.Event{Type: run.EventOutput, Text: "part two"}
	events <- run.Event{Type: run.EventArtifact, Artifact: &run.Artifact{Path: "a", SizeBytes: 1}}
	events <- run.Event{Type: run.EventComplete, Result: &run.Result{Success: true, Duration: 4 * time.Second}}
	close(events)

	resp := Aggregate("chatcmpl-agg", "bench-1", events)

	if resp.Object != api.ObjectChatCompletion {
		t.Errorf("object = %q", resp.Object)
	}
	if len(resp.Choices) != 1 {
		t.Fatalf("got %d choices, want 1", len(resp.Choices))
	}

	choice := resp.Choices[0]
	if choice.FinishReason != api.FinishReasonStop {
		t.Errorf("finish_reason = %q", choice.FinishReason)
	}
	if got := choice.Message.ContentText(); got != "part one, part two" {
		t.Errorf("content = %q", got)
	}
	if choice.Message.ReasoningContent == nil {
		t.Fatal("reasoning_content missing")
	}
	if got := *choice.Message.ReasoningContent; got != "uploading agent pack\nplanning" {
		t.Errorf("reasoning_content = %q", got)
	}

	if resp.Usage == nil || resp.Usage.SandboxSeconds != 4 {
		t.Errorf("usage = %+v, want sandbox_seconds 4", resp.Usage)
	}
}

func TestAggregate_ErrorRun(t *testing.T) {
	events := make(chan run.Event, 4)
	events <- run.Event{Type: run.EventStatus, Text: "uploading agent pack"}
	events <- run.Event{Type: run.EventError, Text: "workspace setup failed: disk full"}
	close(events)

	resp := Aggregate("chatcmpl-err", "bench-1", events)

	content := resp.Choices[0].Message.ContentText()
	if !strings.Contains(content, "disk full") {
		t.Errorf("content = %q, want failure description", content)
	}
	if resp.Choices[0].FinishReason != api.FinishReasonStop {
		t.Errorf("finish_reason = %q, want stop", resp.Choices[0].FinishReason)
	}
	if resp.Usage == nil {
		t.Error("usage missing on error response")
	}
}
