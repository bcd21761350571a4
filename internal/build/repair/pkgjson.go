package repair

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// packageJSON edits a manifest while leaving fields it does not know
// about untouched.
type packageJSON struct {
	path   string
	fields map[string]json.RawMessage
	dirty  bool
}

func loadPackageJSON(path string) (*packageJSON, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read package.json: %w", err)
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to parse package.json: %w", err)
	}
	return &packageJSON{path: path, fields: fields}, nil
}

// section decodes an object field of string values, such as dependencies
// or scripts. Missing or malformed sections come back empty.
func (p *packageJSON) section(key string) map[string]string {
	out := make(map[string]string)
	if raw, ok := p.fields[key]; ok {
		json.Unmarshal(raw, &out)
	}
	return out
}

func (p *packageJSON) hasDependency(name string) bool {
	if _, ok := p.section("dependencies")[name]; ok {
		return true
	}
	_, ok := p.section("devDependencies")[name]
	return ok
}

// addDependency inserts name into the given section unless the project
// already declares it anywhere. Reports whether the manifest changed.
func (p *packageJSON) addDependency(sectionKey, name, version string) bool {
	if p.hasDependency(name) {
		return false
	}
	sec := p.section(sectionKey)
	sec[name] = version
	raw, err := json.Marshal(sec)
	if err != nil {
		return false
	}
	p.fields[sectionKey] = raw
	p.dirty = true
	return true
}

func (p *packageJSON) getString(key string) string {
	var out string
	if raw, ok := p.fields[key]; ok {
		json.Unmarshal(raw, &out)
	}
	return out
}

// setString sets a top-level string field. Reports whether the value
// changed.
func (p *packageJSON) setString(key, value string) bool {
	raw, err := json.Marshal(value)
	if err != nil {
		return false
	}
	if existing, ok := p.fields[key]; ok && bytes.Equal(existing, raw) {
		return false
	}
	p.fields[key] = raw
	p.dirty = true
	return true
}

func (p *packageJSON) save() error {
	if !p.dirty {
		return nil
	}
	data, err := json.MarshalIndent(p.fields, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode package.json: %w", err)
	}
	if err := os.WriteFile(p.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write package.json: %w", err)
	}
	p.dirty = false
	return nil
}
