package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-replay/api/schemas"
)

// ErrFlowNotFound is returned when no flow has the requested id.
var ErrFlowNotFound = errors.New("flow not found")

// DBPool abstracts pgxpool.Pool so the store can be tested with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schemaSQL = `
    CREATE TABLE IF NOT EXISTS flows (
        id TEXT PRIMARY KEY,
        name TEXT NOT NULL DEFAULT '',
        definition JSONB NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL
    );
    CREATE TABLE IF NOT EXISTS flow_runs (
        run_id TEXT PRIMARY KEY,
        flow_id TEXT NOT NULL,
        status TEXT NOT NULL,
        error_code TEXT,
        report JSONB NOT NULL,
        started_at TIMESTAMPTZ NOT NULL,
        duration_ms BIGINT NOT NULL
    );
`

const upsertFlowSQL = `
    INSERT INTO flows (id, name, definition, updated_at)
    VALUES ($1, $2, $3, $4)
    ON CONFLICT (id) DO UPDATE SET
        name = EXCLUDED.name,
        definition = EXCLUDED.definition,
        updated_at = EXCLUDED.updated_at;
`

// RunRecord is one finished replay as persisted in flow_runs.
type RunRecord struct {
	RunID      string
	FlowID     string
	Status     schemas.ActionStatus
	ErrorCode  schemas.ErrorCode
	Report     []byte
	StartedAt  time.Time
	DurationMs int64
}

// Store persists recorded flows and their run history in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool: pool,
		log:  logger.Named("flow_store"),
	}, nil
}

// Connect opens a pgx pool for url and wraps it in a Store. The returned
// cleanup closes the pool.
func Connect(ctx context.Context, url string, logger *zap.Logger) (*Store, func(), error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to parse PGX pool config: %w", err)
	}
	poolConfig.MaxConns = 4
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to create PGX connection pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

// EnsureSchema creates the tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveFlow inserts or replaces a flow by id.
func (s *Store) SaveFlow(ctx context.Context, f *schemas.Flow) error {
	definition, err := encodeFlow(f)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, upsertFlowSQL, f.ID, f.Name, definition, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save flow %s: %w", f.ID, err)
	}
	s.log.Debug("Saved flow.", zap.String("flow_id", f.ID))
	return nil
}

// ImportFlows saves several flows in one transaction. Either all are stored or
// none are.
func (s *Store) ImportFlows(ctx context.Context, flows []*schemas.Flow) error {
	if len(flows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for _, f := range flows {
		definition, err := encodeFlow(f)
		if err != nil {
			return err
		}
		batch.Queue(upsertFlowSQL, f.ID, f.Name, definition, now)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	br := tx.SendBatch(ctx, batch)
	if br == nil {
		return fmt.Errorf("failed to send batch: batch results is nil")
	}
	for i := range flows {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("failed to import flow %s (index %d): %w", flows[i].ID, i, err)
		}
	}
	// Results must be drained before the transaction is used again.
	_ = br.Close()

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Imported flows.", zap.Int("count", len(flows)))
	return nil
}

// GetFlow loads one flow by id.
func (s *Store) GetFlow(ctx context.Context, id string) (*schemas.Flow, error) {
	var definition []byte
	err := s.pool.QueryRow(ctx, `SELECT definition FROM flows WHERE id = $1;`, id).Scan(&definition)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query flow %s: %w", id, err)
	}
	var f schemas.Flow
	if err := json.Unmarshal(definition, &f); err != nil {
		return nil, fmt.Errorf("failed to decode flow %s: %w", id, err)
	}
	return &f, nil
}

// ListFlows returns every stored flow, most recently updated first.
func (s *Store) ListFlows(ctx context.Context) ([]schemas.FlowSummary, error) {
	query := `
        SELECT id, name, updated_at
        FROM flows
        ORDER BY updated_at DESC, id ASC;
    `
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}
	defer rows.Close()

	var out []schemas.FlowSummary
	for rows.Next() {
		var sum schemas.FlowSummary
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan flow row: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// DeleteFlow removes a flow. Its run history is kept.
func (s *Store) DeleteFlow(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM flows WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("failed to delete flow %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrFlowNotFound, id)
	}
	return nil
}

// SaveRun records a finished replay.
func (s *Store) SaveRun(ctx context.Context, rec RunRecord) error {
	report := rec.Report
	if len(report) == 0 || string(report) == "null" {
		report = []byte("{}")
	}
	var code *string
	if rec.ErrorCode != "" {
		c := string(rec.ErrorCode)
		code = &c
	}
	_, err := s.pool.Exec(ctx, `
        INSERT INTO flow_runs (run_id, flow_id, status, error_code, report, started_at, duration_ms)
        VALUES ($1, $2, $3, $4, $5, $6, $7);
    `, rec.RunID, rec.FlowID, string(rec.Status), code, report, rec.StartedAt.UTC(), rec.DurationMs)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", rec.RunID, err)
	}
	return nil
}

// ListRuns returns the most recent runs of a flow, newest first.
func (s *Store) ListRuns(ctx context.Context, flowID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
        SELECT run_id, status, error_code, started_at, duration_ms
        FROM flow_runs
        WHERE flow_id = $1
        ORDER BY started_at DESC
        LIMIT $2;
    `
	rows, err := s.pool.Query(ctx, query, flowID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec := RunRecord{FlowID: flowID}
		var status string
		var code *string
		if err := rows.Scan(&rec.RunID, &status, &code, &rec.StartedAt, &rec.DurationMs); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		rec.Status = schemas.ActionStatus(status)
		if code != nil {
			rec.ErrorCode = schemas.ErrorCode(*code)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

func encodeFlow(f *schemas.Flow) ([]byte, error) {
	if f == nil || f.ID == "" {
		return nil, errors.New("flow must have an id")
	}
	definition, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to encode flow %s: %w", f.ID, err)
	}
	return definition, nil
}
