package domain

import "math"

// RegisterMapping binds one semantic field name to the input-register
// address where the meter exposes it. Two consecutive registers starting at
// Address encode the field as an IEEE-754 float32.
type RegisterMapping struct {
	Name    string
	Address uint16
}

// SDM120Registers maps the single-phase schema. Import/Sum and
// ReactiveImport/ReactiveSum deliberately share addresses: both names are
// independent outward-facing fields backed by the same total-energy register
// on the meter, kept as literal duplicate entries for compatibility.
var SDM120Registers = []RegisterMapping{
	{"Voltage", 0x0000},
	{"Current", 0x0006},
	{"Power", 0x000C},
	{"ApparentPower", 0x0012},
	{"ReactivePower", 0x0018},
	{"Cosphi", 0x001E},
	{"PhaseAngle", 0x0024},
	{"Frequency", 0x0046},
	{"Import", 0x0156},
	{"Export", 0x0160},
	{"ReactiveImport", 0x0158},
	{"ReactiveExport", 0x0162},
	{"Sum", 0x0156},
	{"ReactiveSum", 0x0158},
}

// SDM630Registers maps the three-phase schema. As with SDM120, Sum/Import
// and ReactiveSum/ReactiveImport alias the same registers on purpose.
var SDM630Registers = []RegisterMapping{
	{"Voltage/L1", 0x0000},
	{"Voltage/L2", 0x0002},
	{"Voltage/L3", 0x0004},
	{"Voltage", 0x002A},
	{"Current/L1", 0x0006},
	{"Current/L2", 0x0008},
	{"Current/L3", 0x000A},
	{"Current", 0x0030},
	{"Power/L1", 0x000C},
	{"Power/L2", 0x000E},
	{"Power/L3", 0x0010},
	{"Power", 0x0034},
	{"ApparentPower/L1", 0x0012},
	{"ApparentPower/L2", 0x0014},
	{"ApparentPower/L3", 0x0016},
	{"ApparentPower", 0x0038},
	{"ReactivePower/L1", 0x0018},
	{"ReactivePower/L2", 0x001A},
	{"ReactivePower/L3", 0x001C},
	{"ReactivePower", 0x003C},
	{"Cosphi/L1", 0x001E},
	{"Cosphi/L2", 0x0020},
	{"Cosphi/L3", 0x0022},
	{"Cosphi", 0x003E},
	{"PhaseAngle/L1", 0x0024},
	{"PhaseAngle/L2", 0x0026},
	{"PhaseAngle/L3", 0x0028},
	{"Frequency", 0x0046},
	{"Import", 0x0156},
	{"Export", 0x0160},
	{"ReactiveImport", 0x0158},
	{"ReactiveExport", 0x0162},
	{"Sum", 0x0156},
	{"ReactiveSum", 0x0158},
	{"Voltage/L1-L2", 0x00C8},
	{"Voltage/L2-L3", 0x00CA},
	{"Voltage/L3-L1", 0x00CC},
	{"Current/N", 0x00E0},
	{"THD/VoltageL1", 0x00EA},
	{"THD/VoltageL2", 0x00EC},
	{"THD/VoltageL3", 0x00EE},
	{"THD/CurrentL1", 0x00F0},
	{"THD/CurrentL2", 0x00F2},
	{"THD/CurrentL3", 0x00F4},
	{"THD/VoltageAvg", 0x00F8},
	{"THD/CurrentAvg", 0x00FA},
}

// RegisterMapFor returns the register map for a schema. The returned slice
// is shared static data and must not be mutated.
func RegisterMapFor(meterType MeterType) []RegisterMapping {
	if meterType == MeterTypeSDM630 {
		return SDM630Registers
	}
	return SDM120Registers
}

// DecodeFloat32 reassembles two register words as returned by a single
// register read into an IEEE-754 float32. The meter transmits the high word
// first; the words are concatenated big-endian and reinterpreted.
func DecodeFloat32(high, low uint16) float32 {
	return math.Float32frombits(uint32(high)<<16 | uint32(low))
}

// EncodeFloat32 is the inverse of DecodeFloat32, used by the meter simulator
// and tests to produce register words from a value.
func EncodeFloat32(value float32) (high, low uint16) {
	bits := math.Float32bits(value)
	return uint16(bits >> 16), uint16(bits)
}
