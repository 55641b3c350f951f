package api

import (
	"fmt"
	"regexp"
)

// ValidationConfig holds configurable limits for request validation.
type ValidationConfig struct {
	MaxMessages int
	MaxTaskSize int
}

// DefaultValidationConfig returns a ValidationConfig with sensible defaults.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxMessages: 100,
		MaxTaskSize: 256 * 1024, // 256KB
	}
}

// Agent names travel into sandbox bootstrap commands, so they are restricted
// to a conservative character set.
var agentNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// ValidateRequest checks a ChatCompletionRequest for validity. It returns an
// *APIError describing the first validation failure, or nil if the request is valid.
func ValidateRequest(req *ChatCompletionRequest, cfg ValidationConfig) *APIError {
	if req.Model == "" {
		return NewInvalidRequestError("model", "model is required")
	}

	if len(req.Messages) == 0 {
		return NewInvalidRequestError("messages", "messages must contain at least one entry")
	}

	if cfg.MaxMessages > 0 && len(req.Messages) > cfg.MaxMessages {
		return NewInvalidRequestError("messages",
			fmt.Sprintf("messages exceeds maximum of %d entries", cfg.MaxMessages))
	}

	if req.N > 1 {
		return NewInvalidRequestError("n", "multiple choices are not supported")
	}

	if req.MaxTokens != nil && *req.MaxTokens <= 0 {
		return NewInvalidRequestError("max_tokens", "max_tokens must be positive")
	}

	if req.Temperature != nil {
		if *req.Temperature < 0.0 || *req.Temperature > 2.0 {
			return NewInvalidRequestError("temperature", "temperature must be between 0.0 and 2.0")
		}
	}

	if req.TopP != nil {
		if *req.TopP < 0.0 || *req.TopP > 1.0 {
			return NewInvalidRequestError("top_p", "top_p must be between 0.0 and 1.0")
		}
	}

	if req.Agent != "" && !agentNamePattern.MatchString(req.Agent) {
		return NewInvalidRequestError("agent",
			fmt.Sprintf("invalid agent name %q", req.Agent))
	}

	if task, apiErr := TaskText(req); apiErr != nil {
		return apiErr
	} else if cfg.MaxTaskSize > 0 && len(task) > cfg.MaxTaskSize {
		return NewInvalidRequestError("messages",
			fmt.Sprintf("task text exceeds maximum of %d bytes", cfg.MaxTaskSize))
	}

	return nil
}

// TaskText extracts the task to execute: the content of the last user
// message. Earlier turns are context the CLI agent does not replay, so only
// the final user message matters.
func TaskText(req *ChatCompletionRequest) (string, *APIError) {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role != "user" {
			continue
		}
		text := req.Messages[i].ContentText()
		if text == "" {
			return "", NewInvalidRequestError("messages", "last user message has no text content")
		}
		return text, nil
	}
	return "", NewInvalidRequestError("messages", "messages must contain a user message")
}

// IncludeUsage reports whether the client asked for a trailing usage chunk
// on a streaming response.
func IncludeUsage(req *ChatCompletionRequest) bool {
	return req.StreamOptions != nil && req.StreamOptions.IncludeUsage
}
