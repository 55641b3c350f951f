package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestClient_Create(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr bool
		wantID  string
		wantURL string
	}{
		{
			name: "successful create",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/sandboxes" {
					t.Errorf("path = %q, want /api/sandboxes", r.URL.Path)
				}
				if r.Method != http.MethodPost {
					t.Errorf("method = %q, want POST", r.Method)
				}
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(Info{SandboxID: "sbx-1", PublicURL: "https://sbx-1.example.com"})
			},
			wantID:  "sbx-1",
			wantURL: "https://sbx-1.example.com",
		},
		{
			name: "create without public url",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(Info{SandboxID: "sbx-2"})
			},
			wantID: "sbx-2",
		},
		{
			name: "provider at capacity (429)",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"at capacity"}`))
			},
			wantErr: true,
		},
		{
			name: "provider server error (500)",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error":"internal error"}`))
			},
			wantErr: true,
		},
		{
			name: "empty sandbox_id rejected",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{}`))
			},
			wantErr: true,
		},
		{
			name: "invalid JSON response",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{invalid json`))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			client := NewClient(srv.URL, "", 0)
			info, err := client.Create(context.Background(), &CreateRequest{})

			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if info.SandboxID != tt.wantID {
				t.Errorf("sandbox_id = %q, want %q", info.SandboxID, tt.wantID)
			}
			if info.PublicURL != tt.wantURL {
				t.Errorf("public_url = %q, want %q", info.PublicURL, tt.wantURL)
			}
		})
	}
}

func TestClient_AuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(Info{SandboxID: "sbx-1"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret-token", 0)
	if _, err := client.Create(context.Background(), &CreateRequest{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotAuth != "Bearer secret-token" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer secret-token")
	}
}

func TestClient_WriteFile(t *testing.T) {
	var gotPath string
	var gotBody WriteFileRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", 0)
	err := client.WriteFile(context.Background(), "sbx-1", &WriteFileRequest{
		Path:    "/workspace/pack/tools.md",
		Content: "# tools",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/api/sandboxes/sbx-1/files/write" {
		t.Errorf("path = %q, want /api/sandboxes/sbx-1/files/write", gotPath)
	}
	if gotBody.Path != "/workspace/pack/tools.md" {
		t.Errorf("body path = %q", gotBody.Path)
	}
	if gotBody.Content != "# tools" {
		t.Errorf("body content = %q", gotBody.Content)
	}
}

func TestClient_Exec(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantErr  bool
		wantExit int
		wantOut  string
	}{
		{
			name: "successful exec",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/sandboxes/sbx-1/exec" {
					t.Errorf("path = %q", r.URL.Path)
				}
				json.NewEncoder(w).Encode(ExecResult{Stdout: "ok\n", ExitCode: 0})
			},
			wantExit: 0,
			wantOut:  "ok\n",
		},
		{
			name: "non-zero exit is not a client error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(ExecResult{Stderr: "command not found", ExitCode: 127})
			},
			wantExit: 127,
		},
		{
			name: "provider error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				w.Write([]byte(`{"error":"sandbox gone"}`))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			client := NewClient(srv.URL, "", 0)
			result, err := client.Exec(context.Background(), "sbx-1", &ExecRequest{Command: "echo ok"})

			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.ExitCode != tt.wantExit {
				t.Errorf("exit_code = %d, want %d", result.ExitCode, tt.wantExit)
			}
			if result.Stdout != tt.wantOut {
				t.Errorf("stdout = %q, want %q", result.Stdout, tt.wantOut)
			}
		})
	}
}

func TestClient_ErrorMessageExtracted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"disk full"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", 0)
	_, err := client.Exec(context.Background(), "sbx-1", &ExecRequest{Command: "true"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("error %q does not carry provider message", err)
	}
}

func TestClient_Terminate(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"terminated", http.StatusOK, false},
		{"already gone is idempotent success", http.StatusNotFound, false},
		{"server error", http.StatusInternalServerError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/sandboxes/sbx-1/terminate" {
					t.Errorf("path = %q", r.URL.Path)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			client := NewClient(srv.URL, "", 0)
			err := client.Terminate(context.Background(), "sbx-1")
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestClient_Health(t *testing.T) {
	var gotCommand string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ExecRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotCommand = req.Command
		json.NewEncoder(w).Encode(ExecResult{ExitCode: 0})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", 0)
	if err := client.Health(context.Background(), "sbx-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotCommand != "true" {
		t.Errorf("health probe command = %q, want %q", gotCommand, "true")
	}
}

func TestClient_Unreachable(t *testing.T) {
	client := NewClient("http://localhost:1", "", time.Second)
	_, err := client.Create(context.Background(), &CreateRequest{})
	if err == nil {
		t.Error("expected error for unreachable provider, got nil")
	}
}

func TestClient_RunAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sandboxes/sbx-1/agent-run" {
			t.Errorf("path = %q, want /api/sandboxes/sbx-1/agent-run", r.URL.Path)
		}
		var req AgentRunRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Task != "solve it" {
			t.Errorf("task = %q, want %q", req.Task, "solve it")
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		fl := w.(http.Flusher)
		lines := []string{
			`{"type":"status","message":"agent started"}`,
			`{"type":"agent-output","stream_event":{"text":"working"}}`,
			`{"type":"agent-output","result":"final answer"}`,
			`{"type":"complete","success":true,"exit_code":0,"duration_seconds":1.5}`,
		}
		for _, line := range lines {
			fmt.Fprintln(w, line)
			fl.Flush()
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", 0)
	ch, err := client.RunAgent(context.Background(), "sbx-1", &AgentRunRequest{
		Task:  "solve it",
		Agent: "claude-cli",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var events []StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}

	if len(events) != 4 {
		t.Fatalf("got %d events, want 4", len(events))
	}
	if events[0].Type != StreamStatus || events[0].Message != "agent started" {
		t.Errorf("event 0 = %+v", events[0])
	}
	if events[1].Type != StreamAgentOutput || events[1].StreamEvent == nil || events[1].StreamEvent.Text != "working" {
		t.Errorf("event 1 = %+v", events[1])
	}
	if events[2].Type != StreamAgentOutput || events[2].Result != "final answer" {
		t.Errorf("event 2 = %+v", events[2])
	}
	last := events[3]
	if last.Type != StreamComplete || !last.Success || last.ExitCode != 0 || last.DurationSeconds != 1.5 {
		t.Errorf("event 3 = %+v", last)
	}
}

func TestClient_RunAgent_MalformedLinesSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"type":"status","message":"ok"}`)
		fmt.Fprintln(w, `{not json`)
		fmt.Fprintln(w, ``)
		fmt.Fprintln(w, `{"type":"complete","success":true}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", 0)
	ch, err := client.RunAgent(context.Background(), "sbx-1", &AgentRunRequest{Task: "t", Agent: "a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var events []StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (malformed and blank lines skipped)", len(events))
	}
	if events[1].Type != StreamComplete {
		t.Errorf("last event = %+v, want complete", events[1])
	}
}

func TestClient_RunAgent_ErrorStatusBeforeStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"no such sandbox"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", 0)
	_, err := client.RunAgent(context.Background(), "sbx-gone", &AgentRunRequest{Task: "t", Agent: "a"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "no such sandbox") {
		t.Errorf("error %q does not carry provider message", err)
	}
}

func TestClient_RunAgent_StopsAfterTerminalEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"type":"error","error":"agent crashed"}`)
		// Anything after a terminal event must not be delivered.
		fmt.Fprintln(w, `{"type":"status","message":"ghost"}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", 0)
	ch, err := client.RunAgent(context.Background(), "sbx-1", &AgentRunRequest{Task: "t", Agent: "a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var events []StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Type != StreamError || events[0].Error != "agent crashed" {
		t.Errorf("event = %+v", events[0])
	}
}

func TestClient_RunAgent_DeadlineSurfacesAsDeadlineExceeded(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := NewClient(srv.URL, "", 0)
	_, err := client.RunAgent(ctx, "sbx-1", &AgentRunRequest{Task: "t", Agent: "a"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error %v does not unwrap to context.DeadlineExceeded", err)
	}
}

func TestStreamEvent_Terminal(t *testing.T) {
	tests := []struct {
		ev   StreamEvent
		want bool
	}{
		{StreamEvent{Type: StreamStatus}, false},
		{StreamEvent{Type: StreamAgentOutput}, false},
		{StreamEvent{Type: StreamComplete}, true},
		{StreamEvent{Type: StreamError}, true},
	}
	for _, tt := range tests {
		if got := tt.ev.Terminal(); got != tt.want {
			t.Errorf("Terminal(%s) = %v, want %v", tt.ev.Type, got, tt.want)
		}
	}
}
