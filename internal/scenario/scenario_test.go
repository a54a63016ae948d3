package scenario

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/mender/api/schemas"
)

const checkoutYAML = `
name: Checkout
project_id: shop
steps:
  - type: goto
    value: https://shop.test/cart
  - type: CLICK
    selector: "#checkout"
    fingerprint:
      tag_name: BUTTON
      text_content: Checkout
      visual_bounding_box: {x: 100, y: 400, width: 120, height: 40}
      neighbors: []
  - type: TYPE
    selector: "input[name=email]"
    value: buyer@shop.test
  - type: WAIT
    value: "250"
  - type: ASSERT_TEXT
    selector: ".status"
    value: Thank you
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_YAML(t *testing.T) {
	sc, err := Load(writeFile(t, "checkout.yaml", checkoutYAML))
	require.NoError(t, err)

	assert.Equal(t, "checkout", sc.ID, "id defaults to the file name")
	assert.Equal(t, "Checkout", sc.Name)
	assert.Equal(t, "shop", sc.ProjectID)
	require.Len(t, sc.Steps, 5)
	assert.Equal(t, schemas.StepGoto, sc.Steps[0].Type)
	require.NotNil(t, sc.Steps[1].Fingerprint)
	assert.Equal(t, "button", sc.Steps[1].Fingerprint.TagName)
	assert.Equal(t, 120.0, sc.Steps[1].Fingerprint.VisualBoundingBox.Width)
	assert.NotNil(t, sc.Steps[1].Fingerprint.Neighbors)
	assert.Equal(t, "250", sc.Steps[3].Value)
}

func TestLoad_JSON(t *testing.T) {
	doc := `{
  "id": "login",
  "steps": [
    {"type": "GOTO", "value": "https://app.test/login"},
    {"type": "ASSERT_VISIBLE", "selector": "form#login"},
    {"type": "ASSERT_URL", "value": "/login"}
  ]
}`
	sc, err := Load(writeFile(t, "whatever.json", doc))
	require.NoError(t, err)
	assert.Equal(t, "login", sc.ID)
	assert.Equal(t, "login", sc.Name)
	assert.Len(t, sc.Steps, 3)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorContains(t, err, "failed to read scenario file")
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := Load(writeFile(t, "typo.yaml", "id: x\nsteps:\n  - type: CLICK\n    selecter: '#a'\n"))
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("empty document", func(t *testing.T) {
		_, err := Load(writeFile(t, "empty.yaml", ""))
		assert.ErrorIs(t, err, ErrInvalid)
		assert.ErrorContains(t, err, "empty document")
	})

	t.Run("validation failure names the file", func(t *testing.T) {
		path := writeFile(t, "bad.yaml", "id: bad\nsteps:\n  - type: CLICK\n")
		_, err := Load(path)
		assert.ErrorIs(t, err, ErrInvalid)
		assert.ErrorContains(t, err, path)
		assert.ErrorContains(t, err, "step 1 (CLICK): selector is empty")
	})
}

func TestLoadAll(t *testing.T) {
	good := writeFile(t, "a.yaml", checkoutYAML)
	list, err := LoadAll([]string{good, good})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = LoadAll([]string{good, writeFile(t, "b.yaml", "id: b\nsteps: []\n")})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	sc := &schemas.WebScenario{Steps: []schemas.Step{
		{Type: "HOVER", Selector: "#a"},
		{Type: schemas.StepGoto, Value: "shop.test"},
		{Type: schemas.StepWait, Value: "soon"},
	}}
	err := Validate(sc)
	require.ErrorIs(t, err, ErrInvalid)
	msg := err.Error()
	assert.Contains(t, msg, "id is empty")
	assert.Contains(t, msg, `step 1 (HOVER): unsupported step type "HOVER"`)
	assert.Contains(t, msg, "step 2 (GOTO): GOTO needs an absolute URL")
	assert.Contains(t, msg, "step 3 (WAIT)")
}

func TestValidateStep(t *testing.T) {
	tests := []struct {
		name    string
		step    schemas.Step
		wantErr string
	}{
		{"goto", schemas.Step{Type: schemas.StepGoto, Value: "https://a.test"}, ""},
		{"goto about blank", schemas.Step{Type: schemas.StepGoto, Value: "about:blank"}, ""},
		{"goto relative", schemas.Step{Type: schemas.StepGoto, Value: "/cart"}, "absolute URL"},
		{"wait", schemas.Step{Type: schemas.StepWait, Value: "0"}, ""},
		{"wait padded", schemas.Step{Type: schemas.StepWait, Value: " 500 "}, ""},
		{"wait negative", schemas.Step{Type: schemas.StepWait, Value: "-5"}, "non-negative"},
		{"assert url empty", schemas.Step{Type: schemas.StepAssertURL}, "expected URL fragment"},
		{"type without text is allowed", schemas.Step{Type: schemas.StepType, Selector: "input"}, ""},
		{"click without selector", schemas.Step{Type: schemas.StepClick}, "selector is empty"},
		{
			"fingerprint without tag",
			schemas.Step{Type: schemas.StepClick, Selector: "#a", Fingerprint: &schemas.ElementFingerprint{TextContent: "Buy"}},
			"tag name is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStep(tt.step)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidateSelector(t *testing.T) {
	valid := []string{"button", "#submit", ".btn.primary", "[data-test=buy]", "*", ":root > body", "DIV.card"}
	for _, s := range valid {
		assert.NoError(t, ValidateSelector(s), s)
	}

	invalid := map[string]string{
		"":                              "empty",
		strings.Repeat("a", 1001):       "exceeds 1000",
		"a[href='javascript:alert(1)']": "dangerous pattern",
		"img[ONERROR=x]":                "dangerous pattern",
		"div <SCRIPT>":                  "dangerous pattern",
		"> div":                         "valid character",
		"1col":                          "valid character",
	}
	for sel, want := range invalid {
		assert.ErrorContains(t, ValidateSelector(sel), want, sel)
	}
}

func TestIsFile(t *testing.T) {
	assert.True(t, IsFile("scenarios/checkout.yaml"))
	assert.True(t, IsFile("x.JSON"))
	assert.False(t, IsFile("checkout"))

	dir := t.TempDir()
	plain := filepath.Join(dir, "scenario")
	require.NoError(t, os.WriteFile(plain, []byte("id: x"), 0o644))
	assert.True(t, IsFile(plain))
}
