package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/config"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "mender.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_SQLite(t *testing.T) {
	cfg := config.DatabaseConfig{Driver: config.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "open.db")}
	s, err := Open(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NoError(t, s.Close())

	_, err = Open(context.Background(), config.DatabaseConfig{Driver: "mysql"}, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, `unsupported database driver "mysql"`)
}

func TestSQLite_Scenarios(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	fp := &schemas.ElementFingerprint{
		TagName:           "button",
		TextContent:       "Sign in",
		VisualBoundingBox: schemas.BoundingBox{X: 10, Y: 20, Width: 90, Height: 32},
		Neighbors:         []schemas.Neighbor{{Tag: "input"}},
	}
	login := &schemas.WebScenario{
		ID:        "login",
		ProjectID: "shop",
		Name:      "Login",
		Steps: []schemas.Step{
			{Type: schemas.StepGoto, Value: "https://shop.test/login"},
			{Type: schemas.StepClick, Selector: "#signin", Fingerprint: fp},
		},
	}
	require.NoError(t, s.SaveScenario(ctx, login))
	require.NoError(t, s.SaveScenario(ctx, &schemas.WebScenario{ID: "browse", ProjectID: "shop", Name: "Browse"}))
	require.NoError(t, s.SaveScenario(ctx, &schemas.WebScenario{ID: "admin", ProjectID: "ops", Name: "Admin"}))

	got, err := s.GetScenario(ctx, "login")
	require.NoError(t, err)
	assert.Equal(t, login.Steps, got.Steps)
	assert.True(t, login.CreatedAt.Equal(got.CreatedAt))

	t.Run("resave keeps creation time", func(t *testing.T) {
		created := got.CreatedAt
		got.Name = "Login v2"
		time.Sleep(2 * time.Millisecond)
		require.NoError(t, s.SaveScenario(ctx, got))

		again, err := s.GetScenario(ctx, "login")
		require.NoError(t, err)
		assert.Equal(t, "Login v2", again.Name)
		assert.True(t, created.Equal(again.CreatedAt))
		assert.True(t, again.UpdatedAt.After(created))
	})

	t.Run("list is filtered and ordered by name", func(t *testing.T) {
		list, err := s.ListScenarios(ctx, "shop")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "browse", list[0].ID)
		assert.Equal(t, "login", list[1].ID)

		all, err := s.ListScenarios(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := s.GetScenario(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSQLite_Executions(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	exec := sampleExecution()
	exec.Logs[1].Score = 0.75
	exec.Logs[1].Info = "substituted"
	require.NoError(t, s.SaveExecution(ctx, exec))

	got, err := s.GetExecution(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, schemas.RunFailed, got.Status)
	assert.Equal(t, exec.Logs, got.Logs)
	assert.Equal(t, exec.Screenshot, got.Screenshot)
	assert.True(t, exec.StartedAt.Equal(got.StartedAt))
	assert.True(t, exec.FinishedAt.Equal(got.FinishedAt))

	t.Run("resave replaces the timeline", func(t *testing.T) {
		exec.Status = schemas.RunSuccess
		exec.Logs = exec.Logs[:1]
		require.NoError(t, s.SaveExecution(ctx, exec))

		again, err := s.GetExecution(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, schemas.RunSuccess, again.Status)
		assert.Len(t, again.Logs, 1)
	})

	t.Run("empty timeline reads back empty", func(t *testing.T) {
		bare := &schemas.WebExecution{ID: "run-0", ScenarioID: "other", Status: schemas.RunError, CreatedAt: time.Now()}
		require.NoError(t, s.SaveExecution(ctx, bare))

		again, err := s.GetExecution(ctx, "run-0")
		require.NoError(t, err)
		assert.NotNil(t, again.Logs)
		assert.Empty(t, again.Logs)
		assert.Empty(t, again.Screenshot)
	})

	t.Run("list newest first with limit", func(t *testing.T) {
		for i, id := range []string{"run-2", "run-3"} {
			e := sampleExecution()
			e.ID = id
			e.CreatedAt = exec.CreatedAt.Add(time.Duration(i+1) * time.Minute)
			require.NoError(t, s.SaveExecution(ctx, e))
		}

		list, err := s.ListExecutions(ctx, "checkout", 2)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "run-3", list[0].ID)
		assert.Equal(t, "run-2", list[1].ID)
		assert.Len(t, list[0].Logs, 2)

		list, err = s.ListExecutions(ctx, "checkout", 0)
		require.NoError(t, err)
		assert.Len(t, list, 3)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := s.GetExecution(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSQLite_Fingerprints(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	fp, err := s.LoadFingerprint(ctx, "checkout", "#buy")
	require.NoError(t, err)
	assert.Nil(t, fp)

	first := schemas.ElementFingerprint{TagName: "button", TextContent: "Buy", Neighbors: []schemas.Neighbor{}}
	require.NoError(t, s.SaveFingerprint(ctx, "checkout", "#buy", first))
	second := schemas.ElementFingerprint{TagName: "button", TextContent: "Buy now", Neighbors: []schemas.Neighbor{{Tag: "span", Text: "$9"}}}
	require.NoError(t, s.SaveFingerprint(ctx, "checkout", "#buy", second))

	fp, err = s.LoadFingerprint(ctx, "checkout", "#buy")
	require.NoError(t, err)
	require.NotNil(t, fp)
	assert.Equal(t, second, *fp)

	other, err := s.LoadFingerprint(ctx, "other", "#buy")
	require.NoError(t, err)
	assert.Nil(t, other, "fingerprints are scoped per scenario")
}
