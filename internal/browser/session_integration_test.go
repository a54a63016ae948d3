package browser_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/browser"
	"github.com/xkilldash9x/mender/internal/config"
	"github.com/xkilldash9x/mender/internal/executor"
	"github.com/xkilldash9x/mender/internal/resolver"
)

const testPage = `<!DOCTYPE html>
<html><body>
  <h1 id="title">Checkout</h1>
  <form>
    <label for="email">Email</label>
    <input id="email" name="email" type="text">
    <button id="submit-v2" type="button" onclick="document.getElementById('status').innerText='Order placed'">Place order</button>
  </form>
  <p id="status">Waiting</p>
  <p id="hidden" style="display:none">secret</p>
</body></html>`

func requireChrome(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser integration test in short mode")
	}
	for _, name := range []string{"headless-shell", "chromium", "chromium-browser", "google-chrome", "google-chrome-stable"} {
		if _, err := exec.LookPath(name); err == nil {
			return
		}
	}
	t.Skip("no Chrome or Chromium binary found")
}

type fixture struct {
	ctx    context.Context
	driver schemas.Driver
	url    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	requireChrome(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, testPage)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	cfg := config.NewDefaultConfig().Browser
	cfg.PostLoadWait = 0
	cfg.Args = []string{"--user-data-dir=" + t.TempDir()}
	m := browser.NewManager(ctx, cfg, 100, zaptest.NewLogger(t))
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := m.Shutdown(shutdownCtx); err != nil {
			t.Logf("browser shutdown: %v", err)
		}
	})

	drv, release, err := m.NewDriver(ctx)
	require.NoError(t, err)
	t.Cleanup(release)

	return &fixture{ctx: ctx, driver: drv, url: srv.URL}
}

func (f *fixture) one(t *testing.T, selector string) schemas.ElementHandle {
	t.Helper()
	handles, err := f.driver.QueryBySelector(f.ctx, selector)
	require.NoError(t, err)
	require.Len(t, handles, 1)
	return handles[0]
}

func TestSession_DriverOperations(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.driver.Navigate(f.ctx, f.url))

	url, err := f.driver.CurrentURL(f.ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, f.url))

	t.Run("query", func(t *testing.T) {
		none, err := f.driver.QueryBySelector(f.ctx, "#does-not-exist")
		require.NoError(t, err)
		assert.Empty(t, none)

		all, err := f.driver.QueryBySelector(f.ctx, "p")
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("text and visibility", func(t *testing.T) {
		text, err := f.driver.GetText(f.ctx, f.one(t, "#title"))
		require.NoError(t, err)
		assert.Equal(t, "Checkout", strings.TrimSpace(text))

		visible, err := f.driver.IsVisible(f.ctx, f.one(t, "#title"))
		require.NoError(t, err)
		assert.True(t, visible)

		visible, err = f.driver.IsVisible(f.ctx, f.one(t, "#hidden"))
		require.NoError(t, err)
		assert.False(t, visible)
	})

	t.Run("fingerprint", func(t *testing.T) {
		fp, err := f.driver.GetFingerprint(f.ctx, f.one(t, "#submit-v2"))
		require.NoError(t, err)
		assert.Equal(t, "button", fp.TagName)
		assert.Equal(t, "Place order", fp.TextContent)
		assert.Greater(t, fp.VisualBoundingBox.Width, 0.0)
		assert.Contains(t, fp.AccessibilityPath, "form > button")
		assert.NotNil(t, fp.Neighbors)
		assert.Equal(t, "label", fp.Neighbors[0].Tag)
	})

	t.Run("candidates", func(t *testing.T) {
		candidates, err := f.driver.QueryCandidatesByTag(f.ctx, "p", 1)
		require.NoError(t, err)
		require.Len(t, candidates, 1)
		assert.Equal(t, "Waiting", candidates[0].Fingerprint.TextContent)

		_, err = f.driver.QueryCandidatesByTag(f.ctx, "p; alert(1)", 10)
		assert.Error(t, err)
	})

	t.Run("type and click", func(t *testing.T) {
		email := f.one(t, "#email")
		require.NoError(t, f.driver.Type(f.ctx, email, "first"))
		require.NoError(t, f.driver.Type(f.ctx, email, "ada@example.com"))
		value, err := f.driver.GetText(f.ctx, email)
		require.NoError(t, err)
		assert.Equal(t, "ada@example.com", value)

		require.NoError(t, f.driver.Click(f.ctx, f.one(t, "#submit-v2")))
		assert.Eventually(t, func() bool {
			text, err := f.driver.GetText(f.ctx, f.one(t, "#status"))
			return err == nil && text == "Order placed"
		}, 5*time.Second, 50*time.Millisecond)
	})

	t.Run("screenshot", func(t *testing.T) {
		shot, err := f.driver.Screenshot(f.ctx)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(shot), "\x89PNG"))
	})
}

func TestSession_HealsRenamedButton(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.driver.Navigate(f.ctx, f.url))

	// Recorded against an earlier build where the button had another id.
	step := schemas.Step{
		Type:     schemas.StepClick,
		Selector: "#submit",
		Fingerprint: &schemas.ElementFingerprint{
			TagName:     "button",
			TextContent: "Place order",
		},
	}

	res := resolver.New(resolver.DefaultOptions(), nil, zaptest.NewLogger(t))
	exec := executor.New(res, nil, executor.DefaultOptions(), zaptest.NewLogger(t))

	entry := exec.Execute(f.ctx, f.driver, "checkout", 0, step)
	assert.Equal(t, schemas.StepHealed, entry.Status, entry.Error)
	assert.GreaterOrEqual(t, entry.Score, resolver.DefaultThreshold)
}
