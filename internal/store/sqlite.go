package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/xkilldash9x/mender/api/schemas"
)

// SQLite implements schemas.Store on a single database file. Timestamps are
// stored as unix milliseconds.
type SQLite struct {
	db  *sql.DB
	log *zap.Logger
}

var _ schemas.Store = (*SQLite)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS web_scenarios (
    id          TEXT PRIMARY KEY,
    project_id  TEXT NOT NULL DEFAULT '',
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    steps       TEXT NOT NULL,
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS web_executions (
    id               TEXT PRIMARY KEY,
    scenario_id      TEXT NOT NULL,
    status           TEXT NOT NULL,
    duration_ms      INTEGER NOT NULL,
    error            TEXT NOT NULL DEFAULT '',
    screenshot       BLOB,
    screenshot_uri   TEXT NOT NULL DEFAULT '',
    screenshot_error TEXT NOT NULL DEFAULT '',
    started_at       INTEGER NOT NULL,
    finished_at      INTEGER NOT NULL,
    created_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS web_executions_scenario_idx ON web_executions (scenario_id, created_at DESC);
CREATE TABLE IF NOT EXISTS web_execution_steps (
    execution_id TEXT NOT NULL REFERENCES web_executions (id) ON DELETE CASCADE,
    idx          INTEGER NOT NULL,
    step         TEXT NOT NULL,
    type         TEXT NOT NULL,
    status       TEXT NOT NULL,
    duration_ms  INTEGER NOT NULL,
    error        TEXT NOT NULL DEFAULT '',
    info         TEXT NOT NULL DEFAULT '',
    score        REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (execution_id, idx)
);
CREATE TABLE IF NOT EXISTS element_fingerprints (
    scenario_id TEXT NOT NULL,
    selector    TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    updated_at  INTEGER NOT NULL,
    PRIMARY KEY (scenario_id, selector)
);`

// OpenSQLite opens (creating if needed) the database at path and migrates it.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLite, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}
	// One writer at a time; WAL still lets readers proceed.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &SQLite{db: db, log: logger.Named("store")}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func millis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// -- Scenarios --

func (s *SQLite) SaveScenario(ctx context.Context, sc *schemas.WebScenario) error {
	steps, err := encodeSteps(sc.Steps)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = now
	}
	sc.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO web_scenarios (id, project_id, name, description, steps, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (id) DO UPDATE SET
            project_id = excluded.project_id,
            name = excluded.name,
            description = excluded.description,
            steps = excluded.steps,
            updated_at = excluded.updated_at;
    `, sc.ID, sc.ProjectID, sc.Name, sc.Description, string(steps), millis(sc.CreatedAt), millis(sc.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save scenario %s: %w", sc.ID, err)
	}
	return nil
}

func (s *SQLite) GetScenario(ctx context.Context, id string) (*schemas.WebScenario, error) {
	list, err := s.queryScenarios(ctx, selectScenario+" WHERE id = ?;", id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("scenario %s: %w", id, ErrNotFound)
	}
	return &list[0], nil
}

func (s *SQLite) ListScenarios(ctx context.Context, projectID string) ([]schemas.WebScenario, error) {
	if projectID == "" {
		return s.queryScenarios(ctx, selectScenario+" ORDER BY name ASC;")
	}
	return s.queryScenarios(ctx, selectScenario+" WHERE project_id = ? ORDER BY name ASC;", projectID)
}

func (s *SQLite) queryScenarios(ctx context.Context, query string, args ...interface{}) ([]schemas.WebScenario, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scenarios: %w", err)
	}
	defer rows.Close()

	var out []schemas.WebScenario
	for rows.Next() {
		var sc schemas.WebScenario
		var steps string
		var created, updated int64
		if err := rows.Scan(&sc.ID, &sc.ProjectID, &sc.Name, &sc.Description, &steps, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan scenario row: %w", err)
		}
		if sc.Steps, err = decodeSteps([]byte(steps)); err != nil {
			return nil, fmt.Errorf("scenario %s: %w", sc.ID, err)
		}
		sc.CreatedAt, sc.UpdatedAt = fromMillis(created), fromMillis(updated)
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// -- Executions --

func (s *SQLite) SaveExecution(ctx context.Context, exec *schemas.WebExecution) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.ExecContext(ctx, `
        INSERT INTO web_executions (id, scenario_id, status, duration_ms, error, screenshot, screenshot_uri, screenshot_error, started_at, finished_at, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (id) DO UPDATE SET
            status = excluded.status,
            duration_ms = excluded.duration_ms,
            error = excluded.error,
            screenshot = excluded.screenshot,
            screenshot_uri = excluded.screenshot_uri,
            screenshot_error = excluded.screenshot_error,
            finished_at = excluded.finished_at;
    `, exec.ID, exec.ScenarioID, string(exec.Status), exec.DurationMS, exec.Error,
		exec.Screenshot, exec.ScreenshotURI, exec.ScreenshotError,
		millis(exec.StartedAt), millis(exec.FinishedAt), millis(exec.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", exec.ID, err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM web_execution_steps WHERE execution_id = ?;`, exec.ID); err != nil {
		return fmt.Errorf("failed to clear steps of execution %s: %w", exec.ID, err)
	}
	for _, l := range exec.Logs {
		_, err = tx.ExecContext(ctx, `
            INSERT INTO web_execution_steps (execution_id, idx, step, type, status, duration_ms, error, info, score)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
        `, exec.ID, l.Index, l.Step, string(l.Type), string(l.Status), l.DurationMS, l.Error, l.Info, l.Score)
		if err != nil {
			return fmt.Errorf("failed to save step %d of execution %s: %w", l.Index, exec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLite) GetExecution(ctx context.Context, id string) (*schemas.WebExecution, error) {
	list, err := s.queryExecutions(ctx, selectExecution+" WHERE id = ?;", id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	return &list[0], nil
}

// ListExecutions returns the newest executions of a scenario first.
func (s *SQLite) ListExecutions(ctx context.Context, scenarioID string, limit int) ([]schemas.WebExecution, error) {
	return s.queryExecutions(ctx,
		selectExecution+" WHERE scenario_id = ? ORDER BY created_at DESC, id ASC LIMIT ?;",
		scenarioID, limitOrDefault(limit))
}

func (s *SQLite) queryExecutions(ctx context.Context, query string, args ...interface{}) ([]schemas.WebExecution, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	var out []schemas.WebExecution
	for rows.Next() {
		var e schemas.WebExecution
		var status string
		var started, finished, created int64
		if err := rows.Scan(&e.ID, &e.ScenarioID, &status, &e.DurationMS, &e.Error, &e.Screenshot,
			&e.ScreenshotURI, &e.ScreenshotError, &started, &finished, &created); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}
		e.Status = schemas.RunState(status)
		e.StartedAt, e.FinishedAt, e.CreatedAt = fromMillis(started), fromMillis(finished), fromMillis(created)
		out = append(out, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	// A single connection is shared, so the timelines are read after the rows close.
	for i := range out {
		if out[i].Logs, err = s.stepLogs(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLite) stepLogs(ctx context.Context, executionID string) ([]schemas.StepLog, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT idx, step, type, status, duration_ms, error, info, score
        FROM web_execution_steps
        WHERE execution_id = ?
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

func (s *SQLite) LoadFingerprint(ctx context.Context, scenarioID, selector string) (*schemas.ElementFingerprint, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
        SELECT fingerprint FROM element_fingerprints
        WHERE scenario_id = ? AND selector = ?;
    `, scenarioID, selector).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query fingerprint: %w", err)
	}
	return decodeFingerprint([]byte(data))
}

func (s *SQLite) SaveFingerprint(ctx context.Context, scenarioID, selector string, fp schemas.ElementFingerprint) error {
	data, err := encodeFingerprint(fp)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO element_fingerprints (scenario_id, selector, fingerprint, updated_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT (scenario_id, selector) DO UPDATE SET
            fingerprint = excluded.fingerprint,
            updated_at = excluded.updated_at;
    `, scenarioID, selector, string(data), millis(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save fingerprint for %s: %w", selector, err)
	}
	return nil
}
