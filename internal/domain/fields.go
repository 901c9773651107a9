package domain

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed layouts/field_units.yaml
var fieldUnitsYAML []byte

// FieldInfo is display metadata for one field family.
type FieldInfo struct {
	Label string `yaml:"label" json:"label"`
	Unit  string `yaml:"unit" json:"unit"`
}

type fieldLayout struct {
	Version     string               `yaml:"version"`
	Description string               `yaml:"description"`
	Fields      map[string]FieldInfo `yaml:"fields"`
}

var fieldInfos = mustLoadFieldLayout()

func mustLoadFieldLayout() map[string]FieldInfo {
	var layout fieldLayout
	if err := yaml.Unmarshal(fieldUnitsYAML, &layout); err != nil {
		panic(fmt.Sprintf("invalid embedded field layout: %v", err))
	}
	return layout.Fields
}

// FieldInfoFor resolves the metadata for a flat field name. Per-phase names
// ("Voltage/L1", "Current/N") share their base field's metadata; all THD
// fields share the THD entry.
func FieldInfoFor(fieldName string) (FieldInfo, bool) {
	base := fieldName
	if idx := strings.Index(fieldName, "/"); idx != -1 {
		base = fieldName[:idx]
	}
	info, ok := fieldInfos[base]
	return info, ok
}

// FieldMetadata returns a copy of the base field metadata table.
func FieldMetadata() map[string]FieldInfo {
	result := make(map[string]FieldInfo, len(fieldInfos))
	for name, info := range fieldInfos {
		result[name] = info
	}
	return result
}
