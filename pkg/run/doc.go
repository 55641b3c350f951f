// Package run drives one agent task against one sandbox.
//
// The Runner produces a lazy, ordered, finite sequence of normalized
// events for each (request, sandbox) pair: it uploads the agent pack,
// bootstraps the workspace, consumes the provider's agent-run stream,
// collects artifacts, and tears the sandbox down when it cannot be
// reused. The sequence ends with exactly one terminal event (complete
// or error) and is never restarted.
package run
