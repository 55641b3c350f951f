package integration

import (
	"net/http"
	"strings"
	"testing"

	"github.com/arenabench/agentbox/pkg/api"
)

func TestInvalidJSONRequest(t *testing.T) {
	e := newEnv(t, envConfig{})

	resp, err := http.Post(e.gateway.URL+"/v1/chat/completions", "application/json",
		strings.NewReader(`{"messages": [`))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	apiErr := decodeError(t, resp)
	if apiErr.Type != api.ErrorTypeInvalidRequest {
		t.Errorf("error type = %q", apiErr.Type)
	}
}

func TestWrongContentType(t *testing.T) {
	e := newEnv(t, envConfig{})

	resp, err := http.Post(e.gateway.URL+"/v1/chat/completions", "text/plain",
		strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415", resp.StatusCode)
	}
}

func TestMissingMessages(t *testing.T) {
	e := newEnv(t, envConfig{})

	resp := e.post(t, "/v1/chat/completions", api.ChatCompletionRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	apiErr := decodeError(t, resp)
	if apiErr.Param != "messages" {
		t.Errorf("error param = %q, want messages", apiErr.Param)
	}

	// Validation rejects before any sandbox is touched.
	if got := e.provider.agentCallCount(); got != 0 {
		t.Errorf("agent-run called %d times for an invalid request", got)
	}
}

func TestProviderUnavailable(t *testing.T) {
	e := newEnv(t, envConfig{providerDown: true})

	// Pooling never came up and fresh provisioning fails too.
	if e.pool.Enabled() {
		t.Error("pool reports enabled with the provider down")
	}
	resp := e.post(t, "/v1/chat/completions", userRequest("task", false))
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	apiErr := decodeError(t, resp)
	if apiErr.Type != api.ErrorTypeOverloaded {
		t.Errorf("error type = %q, want overloaded", apiErr.Type)
	}
}

func TestSetupFailureIsTerminalWithoutRetry(t *testing.T) {
	e := newEnv(t, envConfig{})
	e.provider.uploadFail = true

	result := e.streamCompletion(t, userRequest("task", true))

	if got := result.content(); !strings.Contains(got, "workspace setup failed") {
		t.Errorf("setup failure not surfaced as content: %q", got)
	}
	if got := result.finishReason(); got != "stop" {
		t.Errorf("finish_reason = %q, want stop", got)
	}
	if !result.done {
		t.Error("stream did not terminate")
	}
	// A broken workspace is never retried.
	if got := e.provider.agentCallCount(); got != 0 {
		t.Errorf("agent-run called %d times after a setup failure", got)
	}
	if len(e.provider.terminatedIDs()) == 0 {
		t.Error("broken sandbox was not terminated")
	}
}

func TestBootstrapFailureIsTerminalWithoutRetry(t *testing.T) {
	e := newEnv(t, envConfig{})
	e.provider.bootstrapFail = true

	result := e.streamCompletion(t, userRequest("task", true))

	if got := result.content(); !strings.Contains(got, "workspace setup failed") {
		t.Errorf("bootstrap failure not surfaced as content: %q", got)
	}
	if got := e.provider.agentCallCount(); got != 0 {
		t.Errorf("agent-run called %d times after a bootstrap failure", got)
	}
	if !result.done {
		t.Error("stream did not terminate")
	}
}

func TestUnknownRunNotFound(t *testing.T) {
	e := newEnv(t, envConfig{})

	resp := e.get(t, "/v1/runs/"+api.NewRunID(), nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestMalformedRunID(t *testing.T) {
	e := newEnv(t, envConfig{})

	resp := e.get(t, "/v1/runs/not-a-run-id", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
