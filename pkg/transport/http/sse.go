package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/arenabench/agentbox/pkg/api"
	"github.com/arenabench/agentbox/pkg/transport"
)

// writerState tracks which response mode an sseWriter has committed to.
type writerState int

const (
	stateIdle writerState = iota
	stateStreaming
	stateCompleted
)

// sseWriter implements transport.CompletionWriter over one HTTP
// response. Chunks go out as data-only server-sent events, flushed
// per chunk so clients see deltas as they happen; a buffered response
// goes out as a single JSON body. The state machine enforces that the
// two modes stay mutually exclusive and that nothing follows the
// [DONE] sentinel.
type sseWriter struct {
	mu    sync.Mutex
	w     http.ResponseWriter
	state writerState
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	return &sseWriter{w: w}
}

// WriteChunk sends one chunk as an SSE data frame. The first call
// commits the response to streaming and emits the SSE headers.
func (s *sseWriter) WriteChunk(_ context.Context, chunk api.ChatCompletionChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateCompleted:
		return fmt.Errorf("write after stream completed")
	case stateIdle:
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		s.w.WriteHeader(http.StatusOK)
		s.state = stateStreaming
	}

	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("marshal chunk: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flushLocked()
	return nil
}

// WriteResponse sends one complete JSON response. It is only valid
// before any chunk has been written.
func (s *sseWriter) WriteResponse(_ context.Context, resp *api.ChatCompletionResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateStreaming:
		return fmt.Errorf("WriteResponse after streaming started")
	case stateCompleted:
		return fmt.Errorf("write after stream completed")
	}
	s.state = stateCompleted

	s.w.Header().Set("Content-Type", "application/json")
	s.w.WriteHeader(http.StatusOK)
	return json.NewEncoder(s.w).Encode(resp)
}

// Flush implements transport.CompletionWriter.
func (s *sseWriter) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked()
	return nil
}

func (s *sseWriter) flushLocked() {
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
}

// writeError emits an error in whatever shape the response can still
// take: one final data frame when streaming already started, a plain
// JSON error response when nothing has been written yet. After a
// completed response it is a no-op.
func (s *sseWriter) writeError(apiErr *api.APIError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateStreaming:
		data, err := json.Marshal(api.ErrorResponse{Error: apiErr})
		if err != nil {
			return
		}
		fmt.Fprintf(s.w, "data: %s\n\n", data)
		s.flushLocked()
	case stateIdle:
		s.state = stateCompleted
		transport.WriteAPIError(s.w, apiErr)
	}
}

// Done terminates the event stream with the [DONE] sentinel. It is a
// no-op unless streaming started, so a request that never produced a
// chunk keeps its plain JSON response.
func (s *sseWriter) Done() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateStreaming {
		return
	}
	s.state = stateCompleted
	fmt.Fprint(s.w, "data: [DONE]\n\n")
	s.flushLocked()
}
