// Package sandbox is the HTTP client for the sandbox provider API.
//
// It wraps the provider's REST endpoints (create, file write, exec,
// terminate) and its streaming agent-run endpoint, which delivers
// newline-delimited JSON events. The client performs no interpretation
// of agent output beyond decoding the wire envelope; higher layers map
// stream events onto normalized run events.
package sandbox
