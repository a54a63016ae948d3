package reporting_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/mender/internal/reporting"
)

func TestTextReporter_Timeline(t *testing.T) {
	w := newMockWriter()
	r := reporting.NewTextReporter(w)

	require.NoError(t, r.Write(failedEntry()))
	out := w.Buffer.String()

	assert.Contains(t, out, "Checkout (checkout)  FAILED")
	assert.Contains(t, out, "run run-1, 1.5s")
	assert.Regexp(t, `1  OK\s+800ms  GOTO https://shop.test`, out)
	assert.Regexp(t, `2  HEALED\s+120ms  CLICK #buy  \[score 0.82\] substituted <button> for #buy`, out)
	assert.Regexp(t, `3  FAILED\s+40ms  ASSERT_VISIBLE .done  not visible`, out)
	assert.Regexp(t, `-  NOT RUN\s+1 step\(s\)`, out)
	assert.Contains(t, out, "1 ok, 1 healed, 1 failed, 0 errored, 1 not run")
	assert.Contains(t, out, "error: step 3 (ASSERT_VISIBLE .done) FAILED: not visible")
	assert.Contains(t, out, "screenshot: /tmp/shots/run-1.png (9 B)")
	assert.NotContains(t, out, "\x1b[", "no escape codes when the writer is not a terminal")
}

func TestTextReporter_Totals(t *testing.T) {
	w := newMockWriter()
	r := reporting.NewTextReporter(w)

	require.NoError(t, r.Write(failedEntry()))
	require.NoError(t, r.Write(successEntry()))
	require.NoError(t, r.Close())

	out := w.Buffer.String()
	assert.Contains(t, out, "login  SUCCESS")
	assert.Contains(t, out, "screenshot: unavailable (target closed)")
	assert.Contains(t, out, "2 run(s): 1 succeeded, 1 failed, 0 errored")
	assert.True(t, w.Closed)
}

func TestTextReporter_WriteError(t *testing.T) {
	w := newMockWriter()
	w.FailWrite = true
	r := reporting.NewTextReporter(w)

	assert.ErrorContains(t, r.Write(successEntry()), "simulated write error")
	assert.ErrorContains(t, r.Close(), "failed to write report")
	assert.True(t, w.Closed, "the writer is closed even when the totals cannot be written")
}
