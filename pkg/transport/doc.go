// Package transport defines the transport-agnostic contracts between
// the HTTP layer and the completion pipeline.
//
// The central abstraction is CompletionCreator, implemented by the
// Gateway: it executes one benchmark task and delivers the result
// through a CompletionWriter, which hides whether the client asked for
// a chunk stream or a single buffered response. Cross-cutting behavior
// (panic recovery, request IDs, logging) composes as Middleware around
// the creator, mirroring net/http middleware but operating on decoded
// requests instead of raw bytes.
//
// RunStore abstracts the run ledger so the HTTP layer can serve the
// /v1/runs surface without knowing the storage backend, and the
// InFlightRegistry tracks runs still executing so they can be
// cancelled by ID.
package transport
