package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arenabench/agentbox/pkg/api"
	"github.com/arenabench/agentbox/pkg/transport"
	"github.com/arenabench/agentbox/pkg/watch"
)

// Config holds the HTTP adapter's settings.
type Config struct {
	// MaxBodySize caps request bodies in bytes.
	MaxBodySize int64

	// MetricsPath exposes Prometheus metrics when non-empty.
	MetricsPath string
}

// DefaultConfig returns the adapter defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodySize: 10 * 1024 * 1024, // 10 MB
		MetricsPath: "/metrics",
	}
}

// Adapter exposes the completion pipeline, the run ledger, and the run
// event stream over HTTP.
type Adapter struct {
	creator  transport.CompletionCreator
	store    transport.RunStore
	events   *watch.Registry
	inflight *transport.InFlightRegistry
	mux      *http.ServeMux
	config   Config
}

// NewAdapter creates an Adapter. The store and the events registry may
// be nil; the corresponding endpoints then report 501.
func NewAdapter(creator transport.CompletionCreator, store transport.RunStore, events *watch.Registry, config Config) *Adapter {
	a := &Adapter{
		creator:  creator,
		store:    store,
		events:   events,
		inflight: transport.NewInFlightRegistry(),
		mux:      http.NewServeMux(),
		config:   config,
	}
	a.routes()
	return a
}

func (a *Adapter) routes() {
	a.mux.HandleFunc("POST /v1/chat/completions", a.handleCreateCompletion)
	a.mux.HandleFunc("GET /v1/runs", a.handleListRuns)
	a.mux.HandleFunc("GET /v1/runs/{id}", a.handleGetRun)
	a.mux.HandleFunc("DELETE /v1/runs/{id}", a.handleDeleteRun)
	a.mux.HandleFunc("GET /v1/runs/{id}/events", a.handleRunEvents)
	a.mux.HandleFunc("GET /healthz", a.handleHealth)
	if a.config.MetricsPath != "" {
		a.mux.Handle("GET "+a.config.MetricsPath, promhttp.Handler())
	}
}

// Handler returns the adapter's root handler with request-ID
// propagation applied.
func (a *Adapter) Handler() http.Handler {
	return requestIDMiddleware(a.mux)
}

// handleCreateCompletion serves POST /v1/chat/completions: decode,
// mint a run ID, register it for cancellation, and hand off to the
// completion pipeline.
func (a *Adapter) handleCreateCompletion(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("", "Content-Type must be application/json"),
			http.StatusUnsupportedMediaType)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)
	var req api.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("", fmt.Sprintf("request body exceeds %d bytes", a.config.MaxBodySize)),
				http.StatusRequestEntityTooLarge)
			return
		}
		transport.WriteAPIError(w, api.NewInvalidRequestError("", "invalid JSON: "+err.Error()))
		return
	}

	// Every completion is one run. The ID is minted before the handler
	// starts so the client can watch the run's events and a DELETE can
	// cancel it mid-flight; the header carries it out ahead of the
	// first chunk.
	runID := api.NewRunID()
	w.Header().Set("X-Run-ID", runID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	a.inflight.Register(runID, cancel)
	defer a.inflight.Remove(runID)
	ctx = transport.ContextWithRunID(ctx, runID)

	sw := newSSEWriter(w)
	if err := a.creator.CreateCompletion(ctx, &req, sw); err != nil {
		sw.writeError(transport.APIErrorFrom(err))
	}
	sw.Done()
}

// handleListRuns serves GET /v1/runs.
func (a *Adapter) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		transport.WriteErrorResponse(w,
			api.NewServerError("run storage not configured"),
			http.StatusNotImplemented)
		return
	}

	opts, apiErr := parseListOptions(r)
	if apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}

	list, err := a.store.ListRuns(r.Context(), opts)
	if err != nil {
		transport.WriteAPIError(w, transport.APIErrorFrom(err))
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleGetRun serves GET /v1/runs/{id}.
func (a *Adapter) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !api.ValidateRunID(id) {
		transport.WriteAPIError(w, api.NewInvalidRequestError("id", "invalid run ID format"))
		return
	}
	if a.store == nil {
		transport.WriteErrorResponse(w,
			api.NewServerError("run storage not configured"),
			http.StatusNotImplemented)
		return
	}

	rec, err := a.store.GetRun(r.Context(), id)
	if err != nil {
		transport.WriteAPIError(w, transport.APIErrorFrom(err))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleDeleteRun serves DELETE /v1/runs/{id}. An in-flight run is
// cancelled rather than deleted; its ledger record lands once the
// cancelled run finishes.
func (a *Adapter) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !api.ValidateRunID(id) {
		transport.WriteAPIError(w, api.NewInvalidRequestError("id", "invalid run ID format"))
		return
	}

	if a.inflight.Cancel(id) {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if a.store == nil {
		transport.WriteErrorResponse(w,
			api.NewServerError("run storage not configured"),
			http.StatusNotImplemented)
		return
	}
	if err := a.store.DeleteRun(r.Context(), id); err != nil {
		transport.WriteAPIError(w, transport.APIErrorFrom(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHealth serves GET /healthz, reporting storage reachability when
// a store is configured.
func (a *Adapter) handleHealth(w http.ResponseWriter, r *http.Request) {
	if a.store != nil {
		if err := a.store.HealthCheck(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseListOptions extracts pagination and filter parameters for run
// listings.
func parseListOptions(r *http.Request) (transport.ListOptions, *api.APIError) {
	q := r.URL.Query()
	opts := transport.ListOptions{
		After:  q.Get("after"),
		Before: q.Get("before"),
		Agent:  q.Get("agent"),
		Status: q.Get("status"),
		Order:  q.Get("order"),
	}

	if opts.After != "" && opts.Before != "" {
		return opts, api.NewInvalidRequestError("after", "cannot combine after and before cursors")
	}
	if opts.Order != "" && opts.Order != "asc" && opts.Order != "desc" {
		return opts, api.NewInvalidRequestError("order", `order must be "asc" or "desc"`)
	}
	if opts.Status != "" && opts.Status != api.RunStatusCompleted && opts.Status != api.RunStatusFailed {
		return opts, api.NewInvalidRequestError("status", `status must be "completed" or "failed"`)
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			return opts, api.NewInvalidRequestError("limit", "limit must be a positive integer")
		}
		opts.Limit = n
	}
	return opts, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// requestIDMiddleware propagates a caller-supplied X-Request-ID or
// generates one, records it in the context, and echoes it on the
// response.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		ctx := transport.ContextWithRequestID(r.Context(), id)
		rw := &requestIDResponseWriter{ResponseWriter: w, requestID: id}
		next.ServeHTTP(rw, r.WithContext(ctx))
	})
}

// requestIDResponseWriter sets the X-Request-ID header right before the
// first write, so handlers that never touch headers still echo it.
type requestIDResponseWriter struct {
	http.ResponseWriter
	requestID string
	wrote     bool
}

func (w *requestIDResponseWriter) WriteHeader(status int) {
	w.ensureHeader()
	w.ResponseWriter.WriteHeader(status)
}

func (w *requestIDResponseWriter) Write(b []byte) (int, error) {
	w.ensureHeader()
	return w.ResponseWriter.Write(b)
}

func (w *requestIDResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the WebSocket handshake take over the connection.
func (w *requestIDResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (w *requestIDResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *requestIDResponseWriter) ensureHeader() {
	if !w.wrote {
		w.Header().Set("X-Request-ID", w.requestID)
		w.wrote = true
	}
}
