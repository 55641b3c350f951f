package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client calls the sandbox provider's REST API.
//
// All methods wrap transport failures with %w so callers can inspect the
// underlying cause (in particular context.DeadlineExceeded on the
// streaming agent-run call).
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient creates a Client for the provider at baseURL. The timeout
// applies to every call except RunAgent, whose lifetime is controlled by
// its context instead.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	// Normalize: remove trailing slash from base URL.
	baseURL = strings.TrimRight(baseURL, "/")

	if timeout == 0 {
		timeout = 120 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
		token:   token,
	}
}

// Create provisions a new sandbox.
func (c *Client) Create(ctx context.Context, req *CreateRequest) (*Info, error) {
	var info Info
	if err := c.postJSON(ctx, "/api/sandboxes", req, &info); err != nil {
		return nil, err
	}
	if info.SandboxID == "" {
		return nil, fmt.Errorf("provider returned empty sandbox_id")
	}
	return &info, nil
}

// WriteFile writes one file into the sandbox filesystem.
func (c *Client) WriteFile(ctx context.Context, sandboxID string, req *WriteFileRequest) error {
	return c.postJSON(ctx, "/api/sandboxes/"+sandboxID+"/files/write", req, nil)
}

// Exec runs a single command inside the sandbox and waits for it.
func (c *Client) Exec(ctx context.Context, sandboxID string, req *ExecRequest) (*ExecResult, error) {
	var result ExecResult
	if err := c.postJSON(ctx, "/api/sandboxes/"+sandboxID+"/exec", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Health probes the sandbox with a trivial exec. The provider has no
// dedicated health endpoint; a sandbox that can run a no-op command is
// considered alive.
func (c *Client) Health(ctx context.Context, sandboxID string) error {
	res, err := c.Exec(ctx, sandboxID, &ExecRequest{Command: "true"})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("health probe exited %d", res.ExitCode)
	}
	return nil
}

// Terminate tears down the sandbox. Termination is idempotent: a 404
// from the provider means the sandbox is already gone and is not an
// error.
func (c *Client) Terminate(ctx context.Context, sandboxID string) error {
	httpReq, err := c.newRequest(ctx, "/api/sandboxes/"+sandboxID+"/terminate", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sandbox request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}
	return nil
}

// RunAgent invokes the streaming agent-run endpoint and returns a channel
// of decoded stream events. The channel is closed when the stream ends, a
// terminal event arrives, or ctx is cancelled.
//
// The client timeout is not applied here because an agent run can
// legitimately outlast any fixed HTTP timeout; ctx controls the request
// lifetime instead.
func (c *Client) RunAgent(ctx context.Context, sandboxID string, req *AgentRunRequest) (<-chan StreamEvent, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := c.baseURL + "/api/sandboxes/" + sandboxID + "/agent-run"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	// Use a client without timeout for streaming; it shares the pooled
	// transport with the regular client.
	streamClient := &http.Client{
		Transport: c.httpClient.Transport,
	}

	resp, err := streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sandbox request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}

	ch := make(chan StreamEvent, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		readEvents(ctx, resp.Body, ch)
	}()

	return ch, nil
}

// Close releases idle connections held by the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// postJSON sends a JSON body to path and decodes the JSON response into
// out when out is non-nil.
func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := c.newRequest(ctx, path, bytes.NewReader(body))
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sandbox request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// newRequest builds an authenticated POST request against the provider.
func (c *Client) newRequest(ctx context.Context, path string, body io.Reader) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	return httpReq, nil
}

// statusError converts a non-2xx provider response into an error carrying
// the provider's message when one can be extracted from the body.
func statusError(resp *http.Response) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && len(data) > 0 {
		var errResp errorResponse
		if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("sandbox provider HTTP %d: %s", resp.StatusCode, errResp.Error)
		}
	}
	return fmt.Errorf("sandbox provider HTTP %d", resp.StatusCode)
}
