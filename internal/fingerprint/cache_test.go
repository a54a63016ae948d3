package fingerprint

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/mocks"
)

func TestCache_MemoryOnly(t *testing.T) {
	ctx := context.Background()
	cache, err := NewCache(2, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	fp, err := cache.LoadFingerprint(ctx, "sc-1", "#save")
	require.NoError(t, err)
	assert.Nil(t, fp, "nothing recorded yet")

	saved := schemas.ElementFingerprint{TagName: "button", TextContent: "Save"}
	require.NoError(t, cache.SaveFingerprint(ctx, "sc-1", "#save", saved))

	fp, err = cache.LoadFingerprint(ctx, "sc-1", "#save")
	require.NoError(t, err)
	require.NotNil(t, fp)
	assert.Equal(t, saved, *fp)

	other, err := cache.LoadFingerprint(ctx, "sc-2", "#save")
	require.NoError(t, err)
	assert.Nil(t, other, "entries are scoped per scenario")
}

func TestCache_Eviction(t *testing.T) {
	ctx := context.Background()
	cache, err := NewCache(2, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	for _, sel := range []string{"#a", "#b", "#c"} {
		require.NoError(t, cache.SaveFingerprint(ctx, "sc", sel, schemas.ElementFingerprint{TagName: "div"}))
	}
	assert.Equal(t, 2, cache.Len())

	fp, err := cache.LoadFingerprint(ctx, "sc", "#a")
	require.NoError(t, err)
	assert.Nil(t, fp, "oldest entry should have been evicted")
}

func TestCache_RejectsInvalidFingerprint(t *testing.T) {
	cache, err := NewCache(4, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	err = cache.SaveFingerprint(context.Background(), "sc", "#x", schemas.ElementFingerprint{})
	assert.ErrorIs(t, err, schemas.ErrInvalidFingerprint)
	assert.Zero(t, cache.Len())
}

func TestCache_ReadThrough(t *testing.T) {
	ctx := context.Background()
	backing := new(mocks.MockFingerprintStore)
	stored := &schemas.ElementFingerprint{TagName: "a", TextContent: "Docs"}
	backing.On("LoadFingerprint", mock.Anything, "sc", "a.docs").Return(stored, nil).Once()

	cache, err := NewCache(8, backing, zaptest.NewLogger(t))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		fp, err := cache.LoadFingerprint(ctx, "sc", "a.docs")
		require.NoError(t, err)
		require.NotNil(t, fp)
		assert.Equal(t, "Docs", fp.TextContent)
	}
	backing.AssertExpectations(t)
}

func TestCache_WriteThroughFailure(t *testing.T) {
	ctx := context.Background()
	backing := new(mocks.MockFingerprintStore)
	fp := schemas.ElementFingerprint{TagName: "input"}
	dbErr := errors.New("disk full")
	backing.On("SaveFingerprint", mock.Anything, "sc", "#email", fp).Return(dbErr)

	cache, err := NewCache(8, backing, zaptest.NewLogger(t))
	require.NoError(t, err)

	err = cache.SaveFingerprint(ctx, "sc", "#email", fp)
	assert.ErrorIs(t, err, dbErr)

	// The in-memory copy is still usable for the rest of the run.
	got, err := cache.LoadFingerprint(ctx, "sc", "#email")
	require.NoError(t, err)
	assert.Equal(t, &fp, got)
	backing.AssertExpectations(t)
}
