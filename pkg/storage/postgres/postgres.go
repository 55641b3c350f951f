// Package postgres provides a PostgreSQL implementation of
// transport.RunStore. It uses pgx/v5 for connection pooling and JSONB
// for the artifact list.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arenabench/agentbox/pkg/api"
	"github.com/arenabench/agentbox/pkg/storage"
	"github.com/arenabench/agentbox/pkg/transport"
)

// Store is a PostgreSQL-backed RunStore.
type Store struct {
	pool *pgxpool.Pool
}

// Ensure Store implements transport.RunStore at compile time.
var _ transport.RunStore = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connectivity.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// SaveRun persists one finished run.
func (s *Store) SaveRun(ctx context.Context, rec *api.RunRecord) error {
	tenantID := storage.GetTenant(ctx)

	var artifactsJSON []byte
	if len(rec.Artifacts) > 0 {
		var err error
		artifactsJSON, err = json.Marshal(rec.Artifacts)
		if err != nil {
			return fmt.Errorf("marshaling artifacts: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO runs (
			id, tenant_id, subject, agent, model, sandbox_id, status,
			exit_code, duration_seconds, sandbox_seconds,
			artifacts, error, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		rec.ID, tenantID, rec.Subject, rec.Agent, rec.Model, rec.SandboxID, rec.Status,
		rec.ExitCode, rec.DurationSeconds, rec.SandboxSeconds,
		nullJSON(artifactsJSON), rec.Error, rec.Created,
	)

	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID, excluding soft-deleted runs.
func (s *Store) GetRun(ctx context.Context, id string) (*api.RunRecord, error) {
	tenantID := storage.GetTenant(ctx)

	query := `
		SELECT id, subject, agent, model, sandbox_id, status,
		       exit_code, duration_seconds, sandbox_seconds,
		       artifacts, error, created_at
		FROM runs
		WHERE id = $1 AND deleted_at IS NULL
	`
	args := []any{id}

	if tenantID != "" {
		query += " AND tenant_id = $2"
		args = append(args, tenantID)
	}

	rec, err := scanRun(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}
	return rec, nil
}

// ListRuns returns a paginated list of recorded runs, newest first by
// default, with keyset pagination on (created_at, id).
func (s *Store) ListRuns(ctx context.Context, opts transport.ListOptions) (*api.RunList, error) {
	tenantID := storage.GetTenant(ctx)

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	asc := opts.Order == "asc"

	query := `
		SELECT id, subject, agent, model, sandbox_id, status,
		       exit_code, duration_seconds, sandbox_seconds,
		       artifacts, error, created_at
		FROM runs
		WHERE deleted_at IS NULL
	`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if tenantID != "" {
		query += " AND tenant_id = " + arg(tenantID)
	}
	if opts.Agent != "" {
		query += " AND agent = " + arg(opts.Agent)
	}
	if opts.Status != "" {
		query += " AND status = " + arg(opts.Status)
	}

	// Keyset cursors compare against the anchor row's sort key. An
	// unknown anchor id yields an empty page, matching the in-memory
	// store's behavior.
	forward, backward := "<", ">"
	if asc {
		forward, backward = ">", "<"
	}
	if opts.After != "" {
		query += fmt.Sprintf(" AND (created_at, id) %s (SELECT created_at, id FROM runs WHERE id = %s)",
			forward, arg(opts.After))
	} else if opts.Before != "" {
		query += fmt.Sprintf(" AND (created_at, id) %s (SELECT created_at, id FROM runs WHERE id = %s)",
			backward, arg(opts.Before))
	}

	if asc {
		query += " ORDER BY created_at ASC, id ASC"
	} else {
		query += " ORDER BY created_at DESC, id DESC"
	}
	// Fetch one extra row to detect whether more pages exist.
	query += " LIMIT " + arg(limit+1)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var data []api.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		data = append(data, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	hasMore := len(data) > limit
	if hasMore {
		data = data[:limit]
	}

	result := &api.RunList{
		Object:  "list",
		Data:    data,
		HasMore: hasMore,
	}
	if result.Data == nil {
		result.Data = []api.RunRecord{}
	}
	if len(result.Data) > 0 {
		result.FirstID = result.Data[0].ID
		result.LastID = result.Data[len(result.Data)-1].ID
	}

	return result, nil
}

// DeleteRun soft-deletes a run by setting deleted_at.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	tenantID := storage.GetTenant(ctx)

	query := "UPDATE runs SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL"
	args := []any{time.Now(), id}

	if tenantID != "" {
		query += " AND tenant_id = $3"
		args = append(args, tenantID)
	}

	result, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleting run: %w", err)
	}

	if result.RowsAffected() == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// scanRun reads one run row into a record.
func scanRun(row pgx.Row) (*api.RunRecord, error) {
	var rec api.RunRecord
	var artifactsJSON *[]byte

	err := row.Scan(
		&rec.ID, &rec.Subject, &rec.Agent, &rec.Model, &rec.SandboxID, &rec.Status,
		&rec.ExitCode, &rec.DurationSeconds, &rec.SandboxSeconds,
		&artifactsJSON, &rec.Error, &rec.Created,
	)
	if err != nil {
		return nil, err
	}

	rec.Object = api.ObjectRun
	if artifactsJSON != nil {
		if err := json.Unmarshal(*artifactsJSON, &rec.Artifacts); err != nil {
			return nil, fmt.Errorf("unmarshaling artifacts: %w", err)
		}
	}
	rec.ArtifactCount = len(rec.Artifacts)

	return &rec, nil
}

// nullJSON converts nil/empty byte slices to nil for nullable JSONB columns.
func nullJSON(b []byte) *[]byte {
	if len(b) == 0 {
		return nil
	}
	return &b
}

// isDuplicateKey checks if the error is a PostgreSQL unique violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
