package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/arenabench/agentbox/pkg/debug"
)

// maxEventBytes caps one NDJSON line. Final agent-output results can be
// large; anything beyond this limit is a protocol violation.
const maxEventBytes = 4 * 1024 * 1024

// readEvents reads newline-delimited JSON events from the agent-run
// response body and sends them on ch until EOF, a terminal event, or
// context cancellation. The channel is NOT closed by this function; the
// caller is responsible for closing it.
//
// Malformed lines are logged and skipped.
func readEvents(ctx context.Context, body io.Reader, ch chan<- StreamEvent) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventBytes)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var ev StreamEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			slog.Warn("skipping malformed agent-run event",
				"error", err.Error(),
				"data", debug.Truncate(string(line), 200),
			)
			continue
		}

		select {
		case ch <- ev:
		case <-ctx.Done():
			return
		}

		if ev.Terminal() {
			return
		}
	}

	// Scanner error (e.g., connection dropped mid-stream).
	if err := scanner.Err(); err != nil {
		// Context cancellation is not an error from our perspective.
		if ctx.Err() != nil {
			return
		}
		select {
		case ch <- StreamEvent{Type: StreamError, Error: "stream read error: " + err.Error()}:
		case <-ctx.Done():
		}
	}
}
