package pool

import (
	"context"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/arenabench/agentbox/pkg/api"
	"github.com/arenabench/agentbox/pkg/run"
	"github.com/arenabench/agentbox/pkg/sandbox"
)

func newTestWarm(t *testing.T, p *poolProvider) *WarmSandbox {
	t.Helper()

	srv := httptest.NewServer(p.handler())
	t.Cleanup(srv.Close)

	client := sandbox.NewClient(srv.URL, "", 5*time.Second)
	runner, err := run.NewRunner(client, run.Config{Agent: "claude-cli", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return newWarmSandbox(client, runner, sandbox.Info{SandboxID: "sbx-warm"}, "/workspace")
}

func happyAgentLines() []string {
	return []string{
		`{"type":"status","message":"agent starting"}`,
		`{"type":"agent-output","stream_event":{"text":"hello world"}}`,
		`{"type":"complete","success":true,"exit_code":0,"duration_seconds":1.5}`,
	}
}

func collectChunks(t *testing.T, ch <-chan api.ChatCompletionChunk) []api.ChatCompletionChunk {
	t.Helper()
	var chunks []api.ChatCompletionChunk
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return chunks
			}
			chunks = append(chunks, c)
		case <-time.After(5 * time.Second):
			t.Fatal("chunk stream did not terminate")
		}
	}
}

func TestWarmSandbox_StreamHappyPath(t *testing.T) {
	p := newPoolProvider()
	p.agentLines = happyAgentLines()
	w := newTestWarm(t, p)

	req := &run.Request{RunID: "run-1", Task: "say hello", Model: "claude-sonnet-4"}
	chunks := collectChunks(t, w.Stream(context.Background(), "chatcmpl-1", req, true))

	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}
	if chunks[0].Choices[0].Delta.Role != "assistant" {
		t.Fatal("first chunk should open the assistant message")
	}

	var reasoning, content, finishes int
	for _, c := range chunks {
		if len(c.Choices) == 0 {
			continue
		}
		d := c.Choices[0].Delta
		if d.ReasoningContent != nil {
			reasoning++
		}
		if d.Content != nil {
			content++
			if *d.Content != "hello world" {
				t.Fatalf("unexpected content %q", *d.Content)
			}
		}
		if c.Choices[0].FinishReason != nil {
			finishes++
		}
	}
	if reasoning < 3 {
		t.Fatalf("expected status and reasoning chunks, got %d", reasoning)
	}
	if content != 1 {
		t.Fatalf("expected exactly one content chunk, got %d", content)
	}
	if finishes != 1 {
		t.Fatalf("expected exactly one finish chunk, got %d", finishes)
	}

	last := chunks[len(chunks)-1]
	if last.Usage == nil {
		t.Fatal("expected a trailing usage chunk")
	}
	if last.Usage.SandboxSeconds != 1.5 {
		t.Fatalf("expected sandbox_seconds 1.5, got %v", last.Usage.SandboxSeconds)
	}

	if !w.IsReusable() {
		t.Fatalf("clean run should leave the sandbox reusable, outcome %+v", w.Outcome())
	}
	if w.Requests() != 1 {
		t.Fatalf("expected request count 1, got %d", w.Requests())
	}
	if w.lastUsed.IsZero() {
		t.Fatal("expected last-used to be recorded")
	}
	if len(p.terminatedIDs()) != 0 {
		t.Fatalf("clean run must not terminate, got %v", p.terminatedIDs())
	}
}

func TestWarmSandbox_StreamWithoutUsage(t *testing.T) {
	p := newPoolProvider()
	p.agentLines = happyAgentLines()
	w := newTestWarm(t, p)

	req := &run.Request{RunID: "run-1", Task: "say hello"}
	chunks := collectChunks(t, w.Stream(context.Background(), "chatcmpl-1", req, false))

	for _, c := range chunks {
		if c.Usage != nil {
			t.Fatal("usage chunk must only appear when requested")
		}
	}
}

func TestWarmSandbox_StreamFailureNotReusable(t *testing.T) {
	p := newPoolProvider()
	p.agentLines = []string{`{"type":"error","error":"agent crashed"}`}
	w := newTestWarm(t, p)

	req := &run.Request{RunID: "run-2", Task: "explode"}
	chunks := collectChunks(t, w.Stream(context.Background(), "chatcmpl-2", req, false))

	var sawFailureText, sawFinish bool
	for _, c := range chunks {
		if len(c.Choices) == 0 {
			continue
		}
		d := c.Choices[0].Delta
		if d.Content != nil && strings.Contains(*d.Content, "agent crashed") {
			sawFailureText = true
		}
		if c.Choices[0].FinishReason != nil {
			sawFinish = true
		}
	}
	if !sawFailureText {
		t.Fatal("failure should surface as assistant content")
	}
	if !sawFinish {
		t.Fatal("a failed stream must still terminate cleanly")
	}

	if w.IsReusable() {
		t.Fatal("failed run must leave the sandbox non-reusable")
	}
	out := w.Outcome()
	if !out.HasError || !out.TerminationScheduled {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if !contains(p.terminatedIDs(), "sbx-warm") {
		t.Fatal("failed run should have terminated the sandbox")
	}
}

func TestWarmSandbox_StreamWithArtifactsNotReusable(t *testing.T) {
	p := newPoolProvider()
	p.agentLines = happyAgentLines()
	p.artifacts = "532 /workspace/artifacts/solution.py\n"
	w := newTestWarm(t, p)

	req := &run.Request{RunID: "run-3", Task: "produce a file"}
	chunks := collectChunks(t, w.Stream(context.Background(), "chatcmpl-3", req, false))
	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}

	if w.IsReusable() {
		t.Fatal("a run that produced artifacts must not be reusable")
	}
	out := w.Outcome()
	if !out.ProducedArtifacts || !out.TerminationScheduled {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if !contains(p.terminatedIDs(), "sbx-warm") {
		t.Fatal("artifact-producing run should have terminated the sandbox")
	}
}

func TestWarmSandbox_CompleteAggregates(t *testing.T) {
	p := newPoolProvider()
	p.agentLines = happyAgentLines()
	w := newTestWarm(t, p)

	req := &run.Request{RunID: "run-4", Task: "say hello", Model: "claude-sonnet-4"}
	resp := w.Complete(context.Background(), "chatcmpl-4", req)

	if len(resp.Choices) != 1 {
		t.Fatalf("expected one choice, got %d", len(resp.Choices))
	}
	msg := resp.Choices[0].Message
	if got := msg.ContentText(); got != "hello world" {
		t.Fatalf("unexpected content %q", got)
	}
	if msg.ReasoningContent == nil || !strings.Contains(*msg.ReasoningContent, "agent starting") {
		t.Fatal("expected agent status in reasoning_content")
	}
	if resp.Usage == nil || resp.Usage.SandboxSeconds != 1.5 {
		t.Fatalf("unexpected usage %+v", resp.Usage)
	}

	if !w.IsReusable() {
		t.Fatal("clean run should leave the sandbox reusable")
	}
	if w.Requests() != 1 {
		t.Fatalf("expected request count 1, got %d", w.Requests())
	}
}

func TestWarmSandbox_ResetClearsOutcome(t *testing.T) {
	p := newPoolProvider()
	w := newTestWarm(t, p)
	w.outcome = run.Outcome{HasError: true, ExitCode: 3}

	if err := w.Reset(context.Background()); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if !reflect.DeepEqual(w.Outcome(), run.Outcome{}) {
		t.Fatalf("expected cleared outcome, got %+v", w.Outcome())
	}
	if !contains(p.resetIDs(), "sbx-warm") {
		t.Fatal("expected a workspace wipe exec")
	}
}

func TestWarmSandbox_ResetFailure(t *testing.T) {
	p := newPoolProvider()
	p.resetExit = 1
	w := newTestWarm(t, p)

	err := w.Reset(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "exited 1") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestWarmSandbox_Expired(t *testing.T) {
	tests := []struct {
		name        string
		age         time.Duration
		requests    int
		maxAge      time.Duration
		maxRequests int
		want        bool
	}{
		{name: "fresh", age: 0, maxAge: time.Hour, maxRequests: 10, want: false},
		{name: "over age", age: 2 * time.Hour, maxAge: time.Hour, maxRequests: 10, want: true},
		{name: "over requests", requests: 10, maxAge: time.Hour, maxRequests: 10, want: true},
		{name: "age budget disabled", age: 100 * time.Hour, maxRequests: 10, want: false},
		{name: "request budget disabled", requests: 1000, maxAge: time.Hour, want: false},
		{name: "both disabled", age: 100 * time.Hour, requests: 1000, want: false},
	}

	client := sandbox.NewClient("http://127.0.0.1:1", "", time.Second)
	runner, err := run.NewRunner(client, run.Config{Agent: "claude-cli"})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWarmSandbox(client, runner, sandbox.Info{SandboxID: "sbx-x"}, "/workspace")
			w.createdAt = time.Now().Add(-tt.age)
			w.requests = tt.requests
			if got := w.Expired(tt.maxAge, tt.maxRequests); got != tt.want {
				t.Fatalf("Expired(%s, %d) = %v, want %v", tt.maxAge, tt.maxRequests, got, tt.want)
			}
		})
	}
}
