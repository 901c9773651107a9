package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldInfoFor(t *testing.T) {
	info, ok := FieldInfoFor("Voltage")
	require.True(t, ok)
	assert.Equal(t, "V", info.Unit)

	// Per-phase names resolve to their base field.
	info, ok = FieldInfoFor("Voltage/L1")
	require.True(t, ok)
	assert.Equal(t, "V", info.Unit)

	info, ok = FieldInfoFor("Current/N")
	require.True(t, ok)
	assert.Equal(t, "A", info.Unit)

	// All THD variants share one entry.
	info, ok = FieldInfoFor("THD/VoltageL2")
	require.True(t, ok)
	assert.Equal(t, "%", info.Unit)

	_, ok = FieldInfoFor("NoSuchField")
	assert.False(t, ok)
}

func TestFieldMetadataCoversRegisterMaps(t *testing.T) {
	// Every mapped field must resolve to display metadata, otherwise the
	// API and discovery layers would serve fields without units.
	for _, mappings := range [][]RegisterMapping{SDM120Registers, SDM630Registers} {
		for _, mapping := range mappings {
			_, ok := FieldInfoFor(mapping.Name)
			assert.True(t, ok, "no metadata for %s", mapping.Name)
		}
	}
}

func TestFieldMetadataReturnsCopy(t *testing.T) {
	first := FieldMetadata()
	first["Voltage"] = FieldInfo{Label: "clobbered", Unit: "x"}

	second := FieldMetadata()
	assert.Equal(t, "V", second["Voltage"].Unit)
}
