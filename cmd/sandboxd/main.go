// Command sandboxd is a minimal local implementation of the sandbox
// provider API, for development and demos. Every "sandbox" is a
// directory under a common root; exec requests run in subprocesses with
// the well-known sandbox paths (/workspace, /opt/agentbox) remapped
// into that directory.
//
// Configuration:
//
//	SANDBOXD_PORT           - Listen port (default: 9090)
//	SANDBOXD_ROOT           - Root for sandbox directories (default: $TMPDIR/sandboxd)
//	SANDBOXD_TOKEN          - Require this bearer token when set
//	SANDBOXD_AGENT_CMD      - Shell command run for agent-run requests;
//	                          receives AGENT_TASK, AGENT_NAME, AGENT_MODEL
//	                          (default: a built-in echo agent)
//	SANDBOXD_MAX_CONCURRENT - Max concurrent executions per sandbox (default: 2)
//
// It is not a security boundary: subprocesses run with the daemon's
// privileges. Use it against trusted tasks only.
package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// sandboxPrefixes are the absolute paths the gateway's runner uses
// inside a real sandbox. Commands and file writes referencing them are
// remapped under the per-sandbox directory.
var sandboxPrefixes = []string{"/workspace", "/opt/agentbox"}

const defaultAgentCmd = `echo "[$AGENT_NAME] task acknowledged"; echo "$AGENT_TASK" | head -c 400; echo; echo "(sandboxd echo agent; set SANDBOXD_AGENT_CMD to run a real one)"`

func main() {
	port := envOr("SANDBOXD_PORT", "9090")
	root := envOr("SANDBOXD_ROOT", filepath.Join(os.TempDir(), "sandboxd"))
	token := os.Getenv("SANDBOXD_TOKEN")
	agentCmd := envOr("SANDBOXD_AGENT_CMD", defaultAgentCmd)
	maxConcurrent := envOrInt("SANDBOXD_MAX_CONCURRENT", 2)

	if err := os.MkdirAll(root, 0o755); err != nil {
		slog.Error("cannot create sandbox root", "root", root, "error", err.Error())
		os.Exit(1)
	}

	srv := &providerServer{
		root:          root,
		token:         token,
		agentCmd:      agentCmd,
		maxConcurrent: int32(maxConcurrent),
		sandboxes:     map[string]*localSandbox{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sandboxes", srv.auth(srv.handleCreate))
	mux.HandleFunc("POST /api/sandboxes/{id}/files/write", srv.auth(srv.handleWriteFile))
	mux.HandleFunc("POST /api/sandboxes/{id}/exec", srv.auth(srv.handleExec))
	mux.HandleFunc("POST /api/sandboxes/{id}/agent-run", srv.auth(srv.handleAgentRun))
	mux.HandleFunc("POST /api/sandboxes/{id}/terminate", srv.auth(srv.handleTerminate))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	httpSrv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		// No write timeout: agent-run streams are long-lived.
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("sandboxd starting", "port", port, "root", root, "max_concurrent", maxConcurrent)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err.Error())
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpSrv.Shutdown(shutdownCtx)
}

// --- Server ---

type providerServer struct {
	root          string
	token         string
	agentCmd      string
	maxConcurrent int32

	mu        sync.Mutex
	sandboxes map[string]*localSandbox
}

type localSandbox struct {
	id   string
	dir  string
	load atomic.Int32
}

// auth enforces the optional bearer token.
func (s *providerServer) auth(next http.HandlerFunc) http.HandlerFunc {
	if s.token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.token {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r)
	}
}

// lookup resolves the {id} path value. A nil return means the response
// is already written.
func (s *providerServer) lookup(w http.ResponseWriter, r *http.Request) *localSandbox {
	id := r.PathValue("id")
	s.mu.Lock()
	sb := s.sandboxes[id]
	s.mu.Unlock()
	if sb == nil {
		writeError(w, http.StatusNotFound, "unknown sandbox "+id)
		return nil
	}
	return sb
}

// --- Handlers ---

func (s *providerServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	id := "sbx-" + randomHex(6)
	dir := filepath.Join(s.root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "creating sandbox dir: "+err.Error())
		return
	}

	sb := &localSandbox{id: id, dir: dir}
	s.mu.Lock()
	s.sandboxes[id] = sb
	s.mu.Unlock()

	slog.Info("sandbox created", "sandbox_id", id, "dir", dir)
	writeJSON(w, http.StatusOK, map[string]string{"sandbox_id": id})
}

func (s *providerServer) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	sb := s.lookup(w, r)
	if sb == nil {
		return
	}

	var req struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 10<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	dst := sb.mapPath(req.Path)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := os.WriteFile(dst, []byte(req.Content), 0o644); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *providerServer) handleExec(w http.ResponseWriter, r *http.Request) {
	sb := s.lookup(w, r)
	if sb == nil {
		return
	}
	if !s.admit(w, sb) {
		return
	}
	defer sb.load.Add(-1)

	var req struct {
		Command        string `json:"command"`
		WorkDir        string `json:"work_dir"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}
	if req.TimeoutSeconds <= 0 {
		req.TimeoutSeconds = 30
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(req.TimeoutSeconds)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", sb.rewrite(req.Command))
	cmd.Dir = sb.workDir(req.WorkDir)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	writeJSON(w, http.StatusOK, map[string]any{
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
		"exit_code": exitCode(err),
	})
}

func (s *providerServer) handleAgentRun(w http.ResponseWriter, r *http.Request) {
	sb := s.lookup(w, r)
	if sb == nil {
		return
	}
	if !s.admit(w, sb) {
		return
	}
	defer sb.load.Add(-1)

	var req struct {
		Task           string `json:"task"`
		Agent          string `json:"agent"`
		Model          string `json:"model"`
		WorkDir        string `json:"work_dir"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.TimeoutSeconds <= 0 {
		req.TimeoutSeconds = 600
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, _ := w.(http.Flusher)
	emit := func(ev map[string]any) {
		json.NewEncoder(w).Encode(ev)
		if flusher != nil {
			flusher.Flush()
		}
	}

	slog.Info("agent run", "sandbox_id", sb.id, "agent", req.Agent, "task_len", len(req.Task))
	emit(map[string]any{"type": "status", "message": "agent starting"})

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(req.TimeoutSeconds)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", sb.rewrite(s.agentCmd))
	cmd.Dir = sb.workDir(req.WorkDir)
	cmd.Env = append(os.Environ(),
		"AGENT_TASK="+req.Task,
		"AGENT_NAME="+req.Agent,
		"AGENT_MODEL="+req.Model,
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		emit(map[string]any{"type": "error", "error": err.Error()})
		return
	}
	cmd.Stderr = cmd.Stdout

	start := time.Now()
	if err := cmd.Start(); err != nil {
		emit(map[string]any{"type": "error", "error": "starting agent: " + err.Error()})
		return
	}

	// Each output line becomes one incremental delta.
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		emit(map[string]any{
			"type":         "agent-output",
			"stream_event": map[string]string{"text": scanner.Text() + "\n"},
		})
	}

	err = cmd.Wait()
	code := exitCode(err)
	emit(map[string]any{
		"type":             "complete",
		"success":          code == 0,
		"exit_code":        code,
		"duration_seconds": time.Since(start).Seconds(),
	})
}

func (s *providerServer) handleTerminate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	sb := s.sandboxes[id]
	delete(s.sandboxes, id)
	s.mu.Unlock()

	// Idempotent: terminating an unknown sandbox is fine.
	if sb != nil {
		if err := os.RemoveAll(sb.dir); err != nil {
			slog.Warn("sandbox dir cleanup failed", "sandbox_id", id, "error", err.Error())
		}
		slog.Info("sandbox terminated", "sandbox_id", id)
	}
	w.WriteHeader(http.StatusOK)
}

// admit enforces the per-sandbox concurrency cap.
func (s *providerServer) admit(w http.ResponseWriter, sb *localSandbox) bool {
	if sb.load.Add(1) > s.maxConcurrent {
		sb.load.Add(-1)
		writeError(w, http.StatusTooManyRequests,
			fmt.Sprintf("sandbox %s at capacity (%d concurrent executions)", sb.id, s.maxConcurrent))
		return false
	}
	return true
}

// --- Path mapping ---

// mapPath places an absolute sandbox path under the sandbox directory.
func (sb *localSandbox) mapPath(p string) string {
	clean := path.Clean("/" + strings.TrimPrefix(p, "/"))
	return filepath.Join(sb.dir, filepath.FromSlash(clean))
}

// rewrite remaps the well-known sandbox prefixes in a command string so
// the gateway's bootstrap, artifact, and reset commands operate on the
// local sandbox directory.
func (sb *localSandbox) rewrite(cmd string) string {
	for _, prefix := range sandboxPrefixes {
		cmd = strings.ReplaceAll(cmd, prefix, sb.mapPath(prefix))
	}
	return cmd
}

// workDir maps the requested working directory, defaulting to the
// sandbox root. The directory is created on demand so exec works before
// bootstrap has run.
func (sb *localSandbox) workDir(wd string) string {
	dir := sb.dir
	if wd != "" {
		dir = sb.mapPath(wd)
	}
	os.MkdirAll(dir, 0o755)
	return dir
}

// --- Helpers ---

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func randomHex(n int) string {
	b := make([]byte, n)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
