// File: cmd/validate_test.go
package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loginScenario = `id: login
name: Login
project_id: shop
steps:
  - type: goto
    value: https://shop.test/login
  - type: type
    selector: "#email"
    value: ada@example.com
  - type: click
    selector: "button[type=submit]"
  - type: assert_url
    value: /account
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestValidateCmd(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "login.yaml", loginScenario)

	out, err := executeRoot(t, "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "ok   "+good+" (login, 4 steps)")
}

func TestValidateCmd_ReportsEveryBadFile(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "login.yaml", loginScenario)
	noSteps := writeFile(t, dir, "empty.yaml", "id: empty\n")
	badSelector := writeFile(t, dir, "bad.yaml", "id: bad\nsteps:\n  - type: click\n    selector: \"javascript:alert(1)\"\n")

	out, err := executeRoot(t, "validate", good, noSteps, badSelector)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 3 scenario file(s) are invalid")
	assert.Contains(t, out, "ok   "+good)
	assert.Contains(t, out, "FAIL "+noSteps)
	assert.Contains(t, out, "FAIL "+badSelector)
}

func TestValidateCmd_RequiresArgs(t *testing.T) {
	_, err := executeRoot(t, "validate")
	assert.Error(t, err)
}
