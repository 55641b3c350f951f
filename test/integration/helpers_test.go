// Package integration exercises the assembled gateway end to end: the
// real pool, runner, translator, and HTTP surface run against an
// in-process fake of the sandbox provider API.
package integration

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arenabench/agentbox/pkg/api"
	"github.com/arenabench/agentbox/pkg/debug"
	"github.com/arenabench/agentbox/pkg/pool"
	"github.com/arenabench/agentbox/pkg/run"
	"github.com/arenabench/agentbox/pkg/sandbox"
	"github.com/arenabench/agentbox/pkg/storage/memory"
	"github.com/arenabench/agentbox/pkg/transport"
	transporthttp "github.com/arenabench/agentbox/pkg/transport/http"
	"github.com/arenabench/agentbox/pkg/watch"
)

func TestMain(m *testing.M) {
	debug.Init("", "ERROR")
	os.Exit(m.Run())
}

// fakeProvider implements the sandbox provider HTTP API in process.
// Agent runs stream the configured NDJSON lines; every interaction is
// recorded for assertions.
type fakeProvider struct {
	mu         sync.Mutex
	creates    int
	agentCalls int
	terminated []string

	down          bool          // create returns 503
	uploadFail    bool          // files/write returns 500
	bootstrapFail bool          // the bootstrap exec exits nonzero
	hangFirstRun  bool          // first agent-run blocks until the caller gives up
	gate          chan struct{} // when set, agent-run waits here before streaming
	agentLines    []string      // NDJSON lines per successful agent run
	artifacts     string        // stdout of the artifact listing exec

	server *httptest.Server
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{
		agentLines: []string{
			`{"type":"status","message":"agent booting"}`,
			`{"type":"agent-output","stream_event":{"text":"Hello "}}`,
			`{"type":"agent-output","stream_event":{"text":"world."}}`,
			`{"type":"complete","success":true,"exit_code":0,"duration_seconds":1.5}`,
		},
	}
	p.server = httptest.NewServer(p.handler())
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakeProvider) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/sandboxes", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.down {
			http.Error(w, `{"error":"no capacity"}`, http.StatusServiceUnavailable)
			return
		}
		p.creates++
		json.NewEncoder(w).Encode(map[string]string{
			"sandbox_id": fmt.Sprintf("sbx-%d", p.creates),
		})
	})

	mux.HandleFunc("POST /api/sandboxes/{id}/files/write", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		fail := p.uploadFail
		p.mu.Unlock()
		if fail {
			http.Error(w, `{"error":"disk full"}`, http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("POST /api/sandboxes/{id}/exec", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Command string `json:"command"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		p.mu.Lock()
		defer p.mu.Unlock()
		switch {
		case strings.Contains(req.Command, "bootstrap.sh") && p.bootstrapFail:
			json.NewEncoder(w).Encode(map[string]any{"exit_code": 1, "stderr": "bootstrap.sh: not found"})
		case strings.Contains(req.Command, "wc -c"):
			json.NewEncoder(w).Encode(map[string]any{"exit_code": 0, "stdout": p.artifacts})
		default:
			json.NewEncoder(w).Encode(map[string]any{"exit_code": 0})
		}
	})

	mux.HandleFunc("POST /api/sandboxes/{id}/agent-run", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.agentCalls++
		first := p.agentCalls == 1
		hang := p.hangFirstRun
		gate := p.gate
		lines := append([]string(nil), p.agentLines...)
		p.mu.Unlock()

		if hang && first {
			// Emit nothing; the attempt deadline fires on the caller.
			// Consume the body so the server watches the connection and
			// cancels r.Context() when the caller gives up.
			io.Copy(io.Discard, r.Body)
			<-r.Context().Done()
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		f, _ := w.(http.Flusher)
		if gate != nil {
			// Flush headers so the client sees the stream open, then
			// wait for the test to release the events.
			w.WriteHeader(http.StatusOK)
			if f != nil {
				f.Flush()
			}
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}
		for _, line := range lines {
			fmt.Fprintln(w, line)
			if f != nil {
				f.Flush()
			}
		}
	})

	mux.HandleFunc("POST /api/sandboxes/{id}/terminate", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.terminated = append(p.terminated, r.PathValue("id"))
		p.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

func (p *fakeProvider) agentCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.agentCalls
}

func (p *fakeProvider) terminatedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.terminated...)
}

// env is one assembled gateway stack on top of a fakeProvider.
type env struct {
	provider *fakeProvider
	pool     *pool.Manager
	store    transport.RunStore
	events   *watch.Registry
	gateway  *httptest.Server
}

// envConfig tweaks the stack; the zero value gives a pool of one with
// a generous attempt timeout and eager refill off.
type envConfig struct {
	poolSize       int
	attemptTimeout time.Duration
	eagerRefill    bool
	providerDown   bool // provider rejects creates from the start
}

func newEnv(t *testing.T, cfg envConfig) *env {
	t.Helper()

	if cfg.poolSize == 0 {
		cfg.poolSize = 1
	}
	if cfg.attemptTimeout == 0 {
		cfg.attemptTimeout = 30 * time.Second
	}

	provider := newFakeProvider(t)
	provider.down = cfg.providerDown
	client := sandbox.NewClient(provider.server.URL, "", 10*time.Second)
	t.Cleanup(func() { client.Close() })

	events := watch.NewRegistry(time.Minute)
	t.Cleanup(events.Close)

	runner, err := run.NewRunner(client, run.Config{
		Agent:   "claude-cli",
		Timeout: cfg.attemptTimeout,
		Notify:  events.Publish,
	})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	pm, err := pool.NewManager(client, runner, pool.Config{
		TargetSize:  cfg.poolSize,
		MaxAge:      time.Hour,
		MaxRequests: 100,
		Interval:    time.Hour, // no maintenance ticks during tests
		EagerRefill: cfg.eagerRefill,
		WorkDir:     "/workspace",
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	pm.Start(t.Context())
	t.Cleanup(pm.Stop)

	store := memory.New(100)
	t.Cleanup(func() { store.Close() })

	gw, err := transport.NewGateway(pm, store, transport.GatewayConfig{
		DefaultAgent: "claude-cli",
		DefaultModel: "claude-sonnet",
		Validation:   api.DefaultValidationConfig(),
	})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}

	srv := transporthttp.NewServer(gw, store, events)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &env{
		provider: provider,
		pool:     pm,
		store:    store,
		events:   events,
		gateway:  ts,
	}
}

// includeUsage builds the stream options asking for the usage chunk.
func includeUsage() *api.ChatStreamOptions {
	return &api.ChatStreamOptions{IncludeUsage: true}
}

// userRequest builds a minimal completion request for one task.
func userRequest(task string, stream bool) api.ChatCompletionRequest {
	return api.ChatCompletionRequest{
		Stream: stream,
		Messages: []api.ChatMessage{
			{Role: "user", Content: task},
		},
	}
}

// post sends a JSON body to the gateway.
func (e *env) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(e.gateway.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

// get fetches a gateway path and decodes the JSON response into out.
func (e *env) get(t *testing.T, path string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(e.gateway.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	if out != nil {
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode GET %s: %v", path, err)
		}
	}
	return resp
}

// streamResult is a fully drained SSE completion stream.
type streamResult struct {
	runID  string
	chunks []api.ChatCompletionChunk
	done   bool // [DONE] sentinel observed
}

// streamCompletion posts a streaming request and drains the SSE body.
func (e *env) streamCompletion(t *testing.T, req api.ChatCompletionRequest) *streamResult {
	t.Helper()
	resp := e.post(t, "/v1/chat/completions", req)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("stream request returned %d: %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	result := &streamResult{runID: resp.Header.Get("X-Run-ID")}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			result.done = true
			break
		}
		var chunk api.ChatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			t.Fatalf("malformed chunk %q: %v", data, err)
		}
		result.chunks = append(result.chunks, chunk)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("reading stream: %v", err)
	}
	return result
}

// reasoning concatenates every reasoning_content delta.
func (r *streamResult) reasoning() string {
	var b strings.Builder
	for _, c := range r.chunks {
		for _, choice := range c.Choices {
			if choice.Delta.ReasoningContent != nil {
				b.WriteString(*choice.Delta.ReasoningContent)
			}
		}
	}
	return b.String()
}

// content concatenates every content delta.
func (r *streamResult) content() string {
	var b strings.Builder
	for _, c := range r.chunks {
		for _, choice := range c.Choices {
			if choice.Delta.Content != nil {
				b.WriteString(*choice.Delta.Content)
			}
		}
	}
	return b.String()
}

// finishReason returns the terminal finish reason, or "".
func (r *streamResult) finishReason() string {
	for _, c := range r.chunks {
		for _, choice := range c.Choices {
			if choice.FinishReason != nil {
				return *choice.FinishReason
			}
		}
	}
	return ""
}

// usage returns the trailing usage payload, or nil.
func (r *streamResult) usage() *api.ChatUsage {
	for i := len(r.chunks) - 1; i >= 0; i-- {
		if r.chunks[i].Usage != nil {
			return r.chunks[i].Usage
		}
	}
	return nil
}

// drainStream reads a streaming response to the end and closes it.
func drainStream(t *testing.T, resp *http.Response) {
	t.Helper()
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		t.Errorf("draining stream: %v", err)
	}
}

// decodeJSON drains a response body into out and closes it.
func decodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

// decodeError reads the standard error envelope from a response.
func decodeError(t *testing.T, resp *http.Response) *api.APIError {
	t.Helper()
	defer resp.Body.Close()
	var envelope api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decoding error response: %v", err)
	}
	if envelope.Error == nil {
		t.Fatal("error response has no error payload")
	}
	return envelope.Error
}
