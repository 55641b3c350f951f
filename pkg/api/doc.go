// Package api defines the wire types for the agentbox gateway surface.
//
// The gateway speaks the OpenAI Chat Completions format with two extensions:
// an "agent" request field selecting the CLI-agent implementation that runs
// the task, and a "sandbox_seconds" usage field reporting billable sandbox
// time. This package provides request/response/chunk types, structured API
// errors, request validation, and ID generation.
//
// The package has zero external dependencies (Go standard library only) and
// performs no I/O. All types produce JSON compatible with OpenAI client
// libraries; the extension fields are ignored by clients that do not know
// them.
package api
