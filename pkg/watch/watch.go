// Package watch fans normalized run events out to debug watchers.
//
// The Registry maps run ids to single-consumer channels so an events
// endpoint can observe a run live. It is deliberately independent of
// the pool and the runner: it observes events, it never participates
// in sandbox lifecycle decisions.
package watch

import (
	"sync"
	"time"

	"github.com/arenabench/agentbox/pkg/debug"
	"github.com/arenabench/agentbox/pkg/run"
)

// eventBuffer is the per-run channel capacity. A watcher attaching
// shortly after a run starts still sees the buffered early events.
const eventBuffer = 64

// Event is one observed run event, timestamped for the debug wire.
type Event struct {
	RunID     string        `json:"run_id"`
	Type      string        `json:"type"`
	Text      string        `json:"text,omitempty"`
	Artifact  *run.Artifact `json:"artifact,omitempty"`
	Result    *ResultInfo   `json:"result,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// ResultInfo mirrors a terminal complete event's summary.
type ResultInfo struct {
	Success         bool    `json:"success"`
	ExitCode        int     `json:"exit_code"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// FromRun converts a normalized run event for the debug wire.
func FromRun(runID string, ev run.Event) Event {
	out := Event{
		RunID:     runID,
		Type:      ev.Type.String(),
		Text:      ev.Text,
		Artifact:  ev.Artifact,
		Timestamp: time.Now().UTC(),
	}
	if ev.Result != nil {
		out.Result = &ResultInfo{
			Success:         ev.Result.Success,
			ExitCode:        ev.Result.ExitCode,
			DurationSeconds: ev.Result.Duration.Seconds(),
		}
	}
	return out
}

// Registry tracks one buffered, single-consumer event channel per run
// id. Publishing never blocks: when a watcher cannot keep up, events
// are dropped. A janitor retires channels that have seen no publish
// for the idle timeout, so abandoned watchers cannot accumulate.
//
// All methods are safe for concurrent access.
type Registry struct {
	mu       sync.Mutex
	watchers map[string]*watcher
	idle     time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

type watcher struct {
	ch      chan Event
	lastPub time.Time
}

// NewRegistry creates a Registry whose janitor drops channels idle for
// longer than idleTimeout.
func NewRegistry(idleTimeout time.Duration) *Registry {
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	r := &Registry{
		watchers: make(map[string]*watcher),
		idle:     idleTimeout,
		stop:     make(chan struct{}),
	}
	go r.janitor()
	return r
}

// Publish delivers ev to the run's watcher channel, creating the channel
// on first use. A terminal event closes the channel and retires the
// entry, ending the watcher's range loop.
func (r *Registry) Publish(runID string, ev run.Event) {
	if runID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.watchers[runID]
	if !ok {
		if ev.Terminal() {
			// Nobody watched and the run is over; nothing to retire.
			return
		}
		w = &watcher{ch: make(chan Event, eventBuffer)}
		r.watchers[runID] = w
	}
	w.lastPub = time.Now()

	select {
	case w.ch <- FromRun(runID, ev):
	default:
		debug.Log("watch", "dropping debug event, watcher buffer full",
			"run_id", runID,
			"type", ev.Type.String(),
		)
	}

	if ev.Terminal() {
		close(w.ch)
		delete(r.watchers, runID)
	}
}

// Watch returns the consumer channel for a run id, creating it if the
// run has not published yet. The channel closes when the run emits its
// terminal event or the janitor retires the entry. At most one consumer
// may read from it; a second Watch call for the same id returns the
// same channel.
func (r *Registry) Watch(runID string) <-chan Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.watchers[runID]
	if !ok {
		w = &watcher{ch: make(chan Event, eventBuffer), lastPub: time.Now()}
		r.watchers[runID] = w
	}
	return w.ch
}

// Len reports the number of live watcher channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watchers)
}

// Close stops the janitor and closes every outstanding channel.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, w := range r.watchers {
		close(w.ch)
		delete(r.watchers, id)
	}
}

// janitor periodically retires channels with no recent publish.
func (r *Registry) janitor() {
	ticker := time.NewTicker(r.idle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case now := <-ticker.C:
			r.mu.Lock()
			for id, w := range r.watchers {
				if now.Sub(w.lastPub) > r.idle {
					close(w.ch)
					delete(r.watchers, id)
					debug.Log("watch", "retired idle watcher", "run_id", id)
				}
			}
			r.mu.Unlock()
		}
	}
}
