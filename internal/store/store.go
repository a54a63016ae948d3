// Package store persists scenarios, execution records and last known good
// fingerprints in PostgreSQL or SQLite.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/config"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultListLimit caps ListExecutions when no limit is given.
const DefaultListLimit = 50

// Open connects to the configured backend and prepares its schema.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (schemas.Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		s, err := NewPostgres(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil
	case config.DriverSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

func encodeSteps(steps []schemas.Step) ([]byte, error) {
	if steps == nil {
		steps = []schemas.Step{}
	}
	data, err := json.Marshal(steps)
	if err != nil {
		return nil, fmt.Errorf("failed to encode steps: %w", err)
	}
	return data, nil
}

func decodeSteps(data []byte) ([]schemas.Step, error) {
	var steps []schemas.Step
	if len(data) == 0 {
		return steps, nil
	}
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("failed to decode steps: %w", err)
	}
	return steps, nil
}

func encodeFingerprint(fp schemas.ElementFingerprint) ([]byte, error) {
	data, err := json.Marshal(fp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fingerprint: %w", err)
	}
	return data, nil
}

func decodeFingerprint(data []byte) (*schemas.ElementFingerprint, error) {
	var fp schemas.ElementFingerprint
	if err := json.Unmarshal(data, &fp); err != nil {
		return nil, fmt.Errorf("failed to decode fingerprint: %w", err)
	}
	return &fp, nil
}
