// Package scenario loads scenario files and checks them before they are run.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/mender/api/schemas"
)

// ErrInvalid is wrapped by every load and validation failure.
var ErrInvalid = errors.New("invalid scenario")

// IsFile reports whether arg names a scenario file rather than a stored
// scenario id.
func IsFile(arg string) bool {
	switch strings.ToLower(filepath.Ext(arg)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	_, err := os.Stat(arg)
	return err == nil
}

// Load reads and validates the scenario stored in path. JSON files are read
// by the same decoder as YAML. A scenario without an id takes the file name.
func Load(path string) (*schemas.WebScenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file %s: %w", path, err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if sc.ID == "" {
		sc.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if sc.Name == "" {
		sc.Name = sc.ID
	}
	if err := Validate(sc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// LoadAll loads every path, stopping at the first failure.
func LoadAll(paths []string) ([]*schemas.WebScenario, error) {
	out := make([]*schemas.WebScenario, 0, len(paths))
	for _, p := range paths {
		sc, err := Load(p)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, nil
}

// Parse decodes a single scenario document. Unknown fields are rejected so
// that a misspelt key does not silently drop a selector or value. Step kinds
// are normalised to upper case and fingerprint tag names to lower case.
func Parse(data []byte) (*schemas.WebScenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var sc schemas.WebScenario
	if err := dec.Decode(&sc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalid)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	for i := range sc.Steps {
		sc.Steps[i].Type = schemas.StepKind(strings.ToUpper(strings.TrimSpace(string(sc.Steps[i].Type))))
		if fp := sc.Steps[i].Fingerprint; fp != nil {
			fp.TagName = strings.ToLower(strings.TrimSpace(fp.TagName))
		}
	}
	return &sc, nil
}
