package transport

import (
	"context"

	"github.com/arenabench/agentbox/pkg/api"
)

// ListOptions controls pagination, filtering, and ordering for run
// listings.
type ListOptions struct {
	After  string // Cursor: return runs after this ID.
	Before string // Cursor: return runs before this ID.
	Limit  int    // Maximum number of runs to return (default 20, max 100).
	Agent  string // Filter by agent name.
	Status string // Filter by run status.
	Order  string // Sort order: "asc" or "desc" (default "desc").
}

// RunStore persists the run ledger. Storage adapters (memory, postgres)
// implement it; the transport layer records a run after its event
// sequence finishes and serves the /v1/runs surface from it.
type RunStore interface {
	// SaveRun persists one finished run.
	SaveRun(ctx context.Context, rec *api.RunRecord) error

	// GetRun retrieves a run by ID. Returns storage.ErrNotFound if the
	// run does not exist or has been deleted (soft delete).
	GetRun(ctx context.Context, id string) (*api.RunRecord, error)

	// ListRuns returns a paginated list of recorded runs. Results are
	// scoped by tenant (when present in the context) and optionally
	// filtered by agent and status.
	ListRuns(ctx context.Context, opts ListOptions) (*api.RunList, error)

	// DeleteRun soft-deletes a run by ID.
	DeleteRun(ctx context.Context, id string) error

	// HealthCheck verifies the store connection is functional.
	HealthCheck(ctx context.Context) error

	// Close releases database connections and resources.
	Close() error
}
