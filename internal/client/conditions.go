package client

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed wmo_codes.yaml
var wmoCodesYAML []byte

// ConditionTable maps provider-specific weather codes to human-readable text.
// It is built once and never mutated.
type ConditionTable struct {
	version int
	codes   map[int]string
}

var wmoTable = mustLoadConditionTable(wmoCodesYAML)

// WMOConditions returns the embedded WMO code table used by Open-Meteo.
func WMOConditions() *ConditionTable { return wmoTable }

// LoadConditionTable parses a {version, codes} YAML document.
func LoadConditionTable(data []byte) (*ConditionTable, error) {
	var doc struct {
		Version int            `yaml:"version"`
		Codes   map[int]string `yaml:"codes"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse condition table: %w", err)
	}
	if doc.Version < 1 {
		return nil, fmt.Errorf("condition table: version must be >= 1, got %d", doc.Version)
	}
	if len(doc.Codes) == 0 {
		return nil, fmt.Errorf("condition table: no codes")
	}
	return &ConditionTable{version: doc.Version, codes: doc.Codes}, nil
}

func mustLoadConditionTable(data []byte) *ConditionTable {
	t, err := LoadConditionTable(data)
	if err != nil {
		panic(err)
	}
	return t
}

// Version is the table's data version.
func (t *ConditionTable) Version() int { return t.version }

// Describe returns the text for code, or "Unknown (<code>)".
func (t *ConditionTable) Describe(code int) string {
	if s, ok := t.codes[code]; ok {
		return s
	}
	return fmt.Sprintf("Unknown (%d)", code)
}
