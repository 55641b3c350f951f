package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arenabench/agentbox/pkg/debug"
	"github.com/arenabench/agentbox/pkg/observability"
	"github.com/arenabench/agentbox/pkg/run"
	"github.com/arenabench/agentbox/pkg/sandbox"
)

// ErrNoSandbox is returned by Acquire when no pooled sandbox is idle
// and fresh provisioning failed.
var ErrNoSandbox = errors.New("no pool available")

const (
	defaultInterval  = time.Minute
	healthTimeout    = 10 * time.Second
	terminateTimeout = 15 * time.Second
)

// Config controls the warm pool.
type Config struct {
	// TargetSize is the number of idle sandboxes to keep provisioned.
	// Zero disables pooling entirely.
	TargetSize int

	// MaxAge retires a sandbox this long after provisioning. Zero
	// means no age limit.
	MaxAge time.Duration

	// MaxRequests retires a sandbox after this many runs. Zero means
	// no request limit.
	MaxRequests int

	// Interval is the maintenance loop period.
	Interval time.Duration

	// EagerRefill tops the pool up right after an Acquire removes a
	// sandbox instead of waiting for the next maintenance tick.
	EagerRefill bool

	// Template is the provider image to provision from.
	Template string

	// TTLSeconds is passed to the provider as the sandbox lifetime.
	TTLSeconds int

	// WorkDir is the task workspace wiped by Reset between runs.
	WorkDir string
}

// Manager keeps a bounded set of pre-provisioned sandboxes ready so a
// request can skip the cold-start cost. It hands out at most one owner
// per sandbox and never exceeds TargetSize idle entries.
//
// Two locks split the contention profile: mu guards the idle slice and
// is only ever held for cheap slice surgery, while fillMu serializes
// whole top-up rounds so concurrent triggers (periodic and eager)
// cannot jointly over-provision. Slow provider calls happen under
// fillMu alone, never under mu.
type Manager struct {
	client *sandbox.Client
	runner *run.Runner
	cfg    Config

	mu      sync.Mutex
	idle    []*WarmSandbox
	enabled bool
	started bool
	stopped bool

	fillMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a pool manager. The client and runner are
// required; pooling itself is optional and controlled by
// Config.TargetSize.
func NewManager(client *sandbox.Client, runner *run.Runner, cfg Config) (*Manager, error) {
	if client == nil {
		return nil, errors.New("pool: sandbox client must not be nil")
	}
	if runner == nil {
		return nil, errors.New("pool: runner must not be nil")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "/workspace"
	}
	return &Manager{client: client, runner: runner, cfg: cfg}, nil
}

// Start fills the pool to its target size and launches the maintenance
// loop. When the target size is zero, or the provider turns out to be
// unreachable during the initial fill, pooling stays disabled: Acquire
// then provisions fresh on every call and no loop runs. Start is a
// one-shot; later calls are no-ops.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started || m.stopped {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	if m.cfg.TargetSize <= 0 {
		slog.Info("warm pool disabled", "target", m.cfg.TargetSize)
		return
	}

	observability.PoolTarget.Set(float64(m.cfg.TargetSize))
	created := m.fill(ctx)
	if created == 0 && m.size() == 0 {
		slog.Warn("warm pool disabled, provider unavailable at startup",
			"target", m.cfg.TargetSize)
		return
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	if m.stopped {
		// Stop ran while the initial fill was in flight. Its drain may
		// have missed sandboxes the fill landed afterwards, so drain
		// again here and never publish the loop.
		drained := m.idle
		m.idle = nil
		observability.PoolSize.Set(0)
		m.mu.Unlock()
		cancel()
		for _, w := range drained {
			m.terminate(w, "shutdown")
		}
		return
	}
	m.enabled = true
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	slog.Info("warm pool started",
		"size", m.size(),
		"target", m.cfg.TargetSize,
		"interval", m.cfg.Interval.String(),
		"eager_refill", m.cfg.EagerRefill)
	go m.maintain(loopCtx)
}

// Acquire hands out one sandbox for exclusive use: a pooled one when
// available, a freshly provisioned one otherwise. Expired pool entries
// found on the way out are terminated and the pop retried. The caller
// must hand the sandbox back through Release.
func (m *Manager) Acquire(ctx context.Context) (*WarmSandbox, error) {
	for {
		m.mu.Lock()
		if len(m.idle) == 0 {
			m.mu.Unlock()
			break
		}
		w := m.idle[0]
		m.idle = m.idle[1:]
		observability.PoolSize.Set(float64(len(m.idle)))
		m.mu.Unlock()

		if w.Expired(m.cfg.MaxAge, m.cfg.MaxRequests) {
			debug.Log("pool", "discarding expired sandbox on acquire",
				"sandbox_id", w.ID(), "age", w.Age().String(), "requests", fmt.Sprint(w.Requests()))
			m.terminate(w, "expired")
			continue
		}

		debug.Log("pool", "sandbox acquired from pool", "sandbox_id", w.ID())
		m.refillAsync()
		return w, nil
	}

	w, err := m.provision(ctx)
	if err != nil {
		return nil, err
	}
	debug.Log("pool", "sandbox provisioned on demand", "sandbox_id", w.ID())
	m.refillAsync()
	return w, nil
}

// Release hands a sandbox back after use. It is terminated instead of
// re-queued when the caller marks it non-reusable, its own run outcome
// marks it non-reusable, it has expired, or the pool has no room. A
// caller-supplied reusable=true never overrides a negative outcome;
// the reverse override is allowed.
func (m *Manager) Release(ctx context.Context, w *WarmSandbox, reusable bool) {
	if w == nil {
		return
	}
	if w.Outcome().TerminationScheduled {
		// The run already tore it down.
		return
	}
	if !reusable || !w.IsReusable() || w.Expired(m.cfg.MaxAge, m.cfg.MaxRequests) || !m.Enabled() {
		m.terminate(w, "released")
		return
	}

	if err := w.Reset(ctx); err != nil {
		slog.Warn("sandbox reset failed, terminating",
			"sandbox_id", w.ID(), "error", err.Error())
		m.terminate(w, "released")
		return
	}

	// Capacity is re-checked under the pool lock right before the
	// append; a pool already at target terminates the surplus rather
	// than over-queueing.
	m.mu.Lock()
	if len(m.idle) >= m.cfg.TargetSize {
		m.mu.Unlock()
		m.terminate(w, "surplus")
		return
	}
	m.idle = append(m.idle, w)
	observability.PoolSize.Set(float64(len(m.idle)))
	m.mu.Unlock()
	debug.Log("pool", "sandbox returned to pool", "sandbox_id", w.ID(), "requests", fmt.Sprint(w.Requests()))
}

// Stop cancels the maintenance loop, waits for it to unwind, then
// best-effort terminates every idle sandbox. Sandboxes out on loan are
// not touched; their owners terminate them on Release because the pool
// reports disabled from here on.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.enabled = false
	m.stopped = true
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	m.mu.Lock()
	drained := m.idle
	m.idle = nil
	observability.PoolSize.Set(0)
	m.mu.Unlock()

	for _, w := range drained {
		m.terminate(w, "shutdown")
	}
	if len(drained) > 0 {
		slog.Info("warm pool drained", "terminated", len(drained))
	}
}

// Status is a point-in-time snapshot of the pool.
type Status struct {
	Enabled bool `json:"enabled"`
	Size    int  `json:"size"`
	Target  int  `json:"target"`
}

// Status reports the pool's current state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{Enabled: m.enabled, Size: len(m.idle), Target: m.cfg.TargetSize}
}

// Enabled reports whether pooling is active.
func (m *Manager) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

func (m *Manager) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.idle)
}

// refillAsync schedules a top-up after an Acquire removed a sandbox,
// when eager refill is on and the pool is running.
func (m *Manager) refillAsync() {
	if !m.cfg.EagerRefill || !m.Enabled() {
		return
	}
	go m.fill(context.Background())
}

// maintain is the periodic health-check, expiry and top-up cycle. It
// exits when Stop cancels its context.
func (m *Manager) maintain(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
			m.fill(ctx)
		}
	}
}

// sweep probes every idle sandbox and drops the unhealthy and expired
// ones. Probes run against a snapshot outside the pool lock so a slow
// health check never blocks Acquire; a sandbox handed out in the
// meantime is left alone because the conditional remove misses it.
func (m *Manager) sweep(ctx context.Context) {
	m.mu.Lock()
	snapshot := append([]*WarmSandbox(nil), m.idle...)
	m.mu.Unlock()

	for _, w := range snapshot {
		if ctx.Err() != nil {
			return
		}
		if w.Expired(m.cfg.MaxAge, m.cfg.MaxRequests) {
			if m.removeByID(w.ID()) {
				debug.Log("pool", "expiring sandbox",
					"sandbox_id", w.ID(), "age", w.Age().String(), "requests", fmt.Sprint(w.Requests()))
				m.terminate(w, "expired")
			}
			continue
		}

		hctx, cancel := context.WithTimeout(ctx, healthTimeout)
		err := m.client.Health(hctx, w.ID())
		cancel()
		if err != nil {
			// Health failures are dropped silently; they never
			// surface to a request.
			debug.Log("pool", "dropping unhealthy sandbox",
				"sandbox_id", w.ID(), "error", err.Error())
			if m.removeByID(w.ID()) {
				m.terminate(w, "unhealthy")
			}
		}
	}
}

// fill tops the pool up to the target size, one sandbox at a time.
// fillMu serializes concurrent rounds so they cannot jointly
// over-provision; the remaining need is re-read under the pool lock
// before every append and any surplus is terminated.
func (m *Manager) fill(ctx context.Context) int {
	m.fillMu.Lock()
	defer m.fillMu.Unlock()

	created := 0
	for ctx.Err() == nil {
		m.mu.Lock()
		need := m.cfg.TargetSize - len(m.idle)
		stopped := m.stopped
		m.mu.Unlock()
		if need <= 0 || stopped {
			return created
		}

		w, err := m.provision(ctx)
		if err != nil {
			slog.Warn("pool fill stopped, provisioning failed",
				"error", err.Error(), "created", created)
			return created
		}

		m.mu.Lock()
		if m.stopped || len(m.idle) >= m.cfg.TargetSize {
			stopped = m.stopped
			m.mu.Unlock()
			if stopped {
				m.terminate(w, "shutdown")
			} else {
				m.terminate(w, "surplus")
			}
			return created
		}
		m.idle = append(m.idle, w)
		observability.PoolSize.Set(float64(len(m.idle)))
		m.mu.Unlock()
		created++
	}
	return created
}

// provision creates one fresh sandbox at the provider.
func (m *Manager) provision(ctx context.Context) (*WarmSandbox, error) {
	start := time.Now()
	info, err := m.client.Create(ctx, &sandbox.CreateRequest{
		Template:   m.cfg.Template,
		TTLSeconds: m.cfg.TTLSeconds,
	})
	observability.SandboxProvisionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		observability.SandboxProvisionTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrNoSandbox, err)
	}
	observability.SandboxProvisionTotal.WithLabelValues("success").Inc()
	return newWarmSandbox(m.client, m.runner, *info, m.cfg.WorkDir), nil
}

// removeByID takes a sandbox out of the idle set if it is still there.
// It reports false when a concurrent Acquire got to it first.
func (m *Manager) removeByID(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, w := range m.idle {
		if w.ID() == id {
			m.idle = append(m.idle[:i], m.idle[i+1:]...)
			observability.PoolSize.Set(float64(len(m.idle)))
			return true
		}
	}
	return false
}

// terminate best-effort tears a sandbox down. Failures are logged and
// swallowed; the provider reaps leaked sandboxes by TTL.
func (m *Manager) terminate(w *WarmSandbox, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), terminateTimeout)
	defer cancel()
	if err := m.client.Terminate(ctx, w.ID()); err != nil {
		slog.Warn("sandbox terminate failed",
			"sandbox_id", w.ID(), "reason", reason, "error", err.Error())
	}
	observability.SandboxTerminateTotal.WithLabelValues(reason).Inc()
}
