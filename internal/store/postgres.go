package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
)

// DBPool abstracts pgxpool.Pool so it can be mocked in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Postgres implements schemas.Store on PostgreSQL.
type Postgres struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.Store = (*Postgres)(nil)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS web_scenarios (
    id          TEXT PRIMARY KEY,
    project_id  TEXT NOT NULL DEFAULT '',
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    steps       JSONB NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS web_executions (
    id               TEXT PRIMARY KEY,
    scenario_id      TEXT NOT NULL,
    status           TEXT NOT NULL,
    duration_ms      BIGINT NOT NULL,
    error            TEXT NOT NULL DEFAULT '',
    screenshot       BYTEA,
    screenshot_uri   TEXT NOT NULL DEFAULT '',
    screenshot_error TEXT NOT NULL DEFAULT '',
    started_at       TIMESTAMPTZ NOT NULL,
    finished_at      TIMESTAMPTZ NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS web_executions_scenario_idx ON web_executions (scenario_id, created_at DESC);
CREATE TABLE IF NOT EXISTS web_execution_steps (
    execution_id TEXT NOT NULL REFERENCES web_executions (id) ON DELETE CASCADE,
    idx          INTEGER NOT NULL,
    step         TEXT NOT NULL,
    type         TEXT NOT NULL,
    status       TEXT NOT NULL,
    duration_ms  BIGINT NOT NULL,
    error        TEXT NOT NULL DEFAULT '',
    info         TEXT NOT NULL DEFAULT '',
    score        DOUBLE PRECISION NOT NULL DEFAULT 0,
    PRIMARY KEY (execution_id, idx)
);
CREATE TABLE IF NOT EXISTS element_fingerprints (
    scenario_id TEXT NOT NULL,
    selector    TEXT NOT NULL,
    fingerprint JSONB NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (scenario_id, selector)
);`

// NewPostgres creates a store on pool and verifies the connection.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*Postgres, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return newPostgres(pool, logger), nil
}

func newPostgres(pool DBPool, logger *zap.Logger) *Postgres {
	return &Postgres{pool: pool, log: logger.Named("store")}
}

// Migrate creates missing tables.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

// -- Scenarios --

func (s *Postgres) SaveScenario(ctx context.Context, sc *schemas.WebScenario) error {
	steps, err := encodeSteps(sc.Steps)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = now
	}
	sc.UpdatedAt = now

	_, err = s.pool.Exec(ctx, `
        INSERT INTO web_scenarios (id, project_id, name, description, steps, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (id) DO UPDATE SET
            project_id = EXCLUDED.project_id,
            name = EXCLUDED.name,
            description = EXCLUDED.description,
            steps = EXCLUDED.steps,
            updated_at = EXCLUDED.updated_at;
    `, sc.ID, sc.ProjectID, sc.Name, sc.Description, steps, sc.CreatedAt.UTC(), sc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save scenario %s: %w", sc.ID, err)
	}
	return nil
}

const selectScenario = `
        SELECT id, project_id, name, description, steps, created_at, updated_at
        FROM web_scenarios`

func (s *Postgres) GetScenario(ctx context.Context, id string) (*schemas.WebScenario, error) {
	list, err := s.queryScenarios(ctx, selectScenario+" WHERE id = $1;", id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("scenario %s: %w", id, ErrNotFound)
	}
	return &list[0], nil
}

func (s *Postgres) ListScenarios(ctx context.Context, projectID string) ([]schemas.WebScenario, error) {
	if projectID == "" {
		return s.queryScenarios(ctx, selectScenario+" ORDER BY name ASC;")
	}
	return s.queryScenarios(ctx, selectScenario+" WHERE project_id = $1 ORDER BY name ASC;", projectID)
}

func (s *Postgres) queryScenarios(ctx context.Context, query string, args ...interface{}) ([]schemas.WebScenario, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scenarios: %w", err)
	}
	defer rows.Close()

	var out []schemas.WebScenario
	for rows.Next() {
		var sc schemas.WebScenario
		var steps []byte
		if err := rows.Scan(&sc.ID, &sc.ProjectID, &sc.Name, &sc.Description, &steps, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan scenario row: %w", err)
		}
		if sc.Steps, err = decodeSteps(steps); err != nil {
			return nil, fmt.Errorf("scenario %s: %w", sc.ID, err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// -- Executions --

// SaveExecution writes the record and its step timeline in one transaction.
// Saving the same id again replaces the timeline.
func (s *Postgres) SaveExecution(ctx context.Context, exec *schemas.WebExecution) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx, `
        INSERT INTO web_executions (id, scenario_id, status, duration_ms, error, screenshot, screenshot_uri, screenshot_error, started_at, finished_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (id) DO UPDATE SET
            status = EXCLUDED.status,
            duration_ms = EXCLUDED.duration_ms,
            error = EXCLUDED.error,
            screenshot = EXCLUDED.screenshot,
            screenshot_uri = EXCLUDED.screenshot_uri,
            screenshot_error = EXCLUDED.screenshot_error,
            finished_at = EXCLUDED.finished_at;
    `, exec.ID, exec.ScenarioID, string(exec.Status), exec.DurationMS, exec.Error,
		exec.Screenshot, exec.ScreenshotURI, exec.ScreenshotError,
		exec.StartedAt.UTC(), exec.FinishedAt.UTC(), exec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", exec.ID, err)
	}

	if _, err = tx.Exec(ctx, `DELETE FROM web_execution_steps WHERE execution_id = $1;`, exec.ID); err != nil {
		return fmt.Errorf("failed to clear steps of execution %s: %w", exec.ID, err)
	}
	for _, l := range exec.Logs {
		_, err = tx.Exec(ctx, `
            INSERT INTO web_execution_steps (execution_id, idx, step, type, status, duration_ms, error, info, score)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
        `, exec.ID, l.Index, l.Step, string(l.Type), string(l.Status), l.DurationMS, l.Error, l.Info, l.Score)
		if err != nil {
			return fmt.Errorf("failed to save step %d of execution %s: %w", l.Index, exec.ID, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

const selectExecution = `
        SELECT id, scenario_id, status, duration_ms, error, screenshot, screenshot_uri, screenshot_error, started_at, finished_at, created_at
        FROM web_executions`

func (s *Postgres) GetExecution(ctx context.Context, id string) (*schemas.WebExecution, error) {
	list, err := s.queryExecutions(ctx, selectExecution+" WHERE id = $1;", id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	return &list[0], nil
}

// ListExecutions returns the newest executions of a scenario first.
func (s *Postgres) ListExecutions(ctx context.Context, scenarioID string, limit int) ([]schemas.WebExecution, error) {
	return s.queryExecutions(ctx,
		selectExecution+" WHERE scenario_id = $1 ORDER BY created_at DESC LIMIT $2;",
		scenarioID, limitOrDefault(limit))
}

func (s *Postgres) queryExecutions(ctx context.Context, query string, args ...interface{}) ([]schemas.WebExecution, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	var out []schemas.WebExecution
	for rows.Next() {
		var e schemas.WebExecution
		var status string
		if err := rows.Scan(&e.ID, &e.ScenarioID, &status, &e.DurationMS, &e.Error, &e.Screenshot,
			&e.ScreenshotURI, &e.ScreenshotError, &e.StartedAt, &e.FinishedAt, &e.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}
		e.Status = schemas.RunState(status)
		out = append(out, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	// The rows are closed before the timelines are read so the connection is free.
	for i := range out {
		if out[i].Logs, err = s.stepLogs(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Postgres) stepLogs(ctx context.Context, executionID string) ([]schemas.StepLog, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT idx, step, type, status, duration_ms, error, info, score
        FROM web_execution_steps
        WHERE execution_id = $1
        ORDER BY idx ASC;
    `, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps of execution %s: %w", executionID, err)
	}
	defer rows.Close()

	logs := []schemas.StepLog{}
	for rows.Next() {
		var l schemas.StepLog
		var kind, status string
		if err := rows.Scan(&l.Index, &l.Step, &kind, &status, &l.DurationMS, &l.Error, &l.Info, &l.Score); err != nil {
			return nil, fmt.Errorf("failed to scan step row: %w", err)
		}
		l.Type = schemas.StepKind(kind)
		l.Status = schemas.StepStatus(status)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return logs, nil
}

// -- Fingerprints --

func (s *Postgres) LoadFingerprint(ctx context.Context, scenarioID, selector string) (*schemas.ElementFingerprint, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT fingerprint FROM element_fingerprints
        WHERE scenario_id = $1 AND selector = $2;
    `, scenarioID, selector)
	if err != nil {
		return nil, fmt.Errorf("failed to query fingerprint: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var data []byte
	if err := rows.Scan(&data); err != nil {
		return nil, fmt.Errorf("failed to scan fingerprint row: %w", err)
	}
	return decodeFingerprint(data)
}

func (s *Postgres) SaveFingerprint(ctx context.Context, scenarioID, selector string, fp schemas.ElementFingerprint) error {
	data, err := encodeFingerprint(fp)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
        INSERT INTO element_fingerprints (scenario_id, selector, fingerprint, updated_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (scenario_id, selector) DO UPDATE SET
            fingerprint = EXCLUDED.fingerprint,
            updated_at = EXCLUDED.updated_at;
    `, scenarioID, selector, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save fingerprint for %s: %w", selector, err)
	}
	return nil
}
