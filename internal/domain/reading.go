package domain

// PhaseData holds the per-phase measurements of a three-phase meter.
// Nil fields were not read successfully this cycle.
type PhaseData struct {
	Voltage       *float64
	Current       *float64
	Power         *float64
	ApparentPower *float64
	ReactivePower *float64
	PowerFactor   *float64
	PhaseAngle    *float64
	THDVoltage    *float64
	THDCurrent    *float64
}

// EnergyTotals holds the accumulated energy counters of a meter.
type EnergyTotals struct {
	ImportActive   *float64 // kWh imported
	ExportActive   *float64 // kWh exported
	ImportReactive *float64 // kVArh imported
	ExportReactive *float64 // kVArh exported
	TotalActive    *float64 // total kWh
	TotalReactive  *float64 // total kVArh
}

// SDM120Reading is a single-phase meter reading. All instantaneous fields
// are optional; Energy is nil when no energy register decoded.
type SDM120Reading struct {
	Voltage       *float64
	Current       *float64
	Power         *float64
	ApparentPower *float64
	ReactivePower *float64
	PowerFactor   *float64
	PhaseAngle    *float64
	Frequency     *float64
	Energy        *EnergyTotals
}

// Type returns the single-phase schema.
func (r *SDM120Reading) Type() MeterType { return MeterTypeSDM120 }

// Flatten converts the reading into the flat wire schema, omitting absent
// fields. Key names are the historical publish/query field names.
func (r *SDM120Reading) Flatten() map[string]float64 {
	result := make(map[string]float64)
	putField(result, "Voltage", r.Voltage)
	putField(result, "Current", r.Current)
	putField(result, "Power", r.Power)
	putField(result, "ApparentPower", r.ApparentPower)
	putField(result, "ReactivePower", r.ReactivePower)
	putField(result, "Cosphi", r.PowerFactor)
	putField(result, "PhaseAngle", r.PhaseAngle)
	putField(result, "Frequency", r.Frequency)
	flattenEnergy(result, r.Energy)
	return result
}

// SDM630Reading is a three-phase meter reading. Each phase block is nil when
// none of its fields decoded; the same holds for Energy.
type SDM630Reading struct {
	PhaseL1 *PhaseData
	PhaseL2 *PhaseData
	PhaseL3 *PhaseData

	VoltageAverage     *float64
	CurrentTotal       *float64
	PowerTotal         *float64
	ApparentPowerTotal *float64
	ReactivePowerTotal *float64
	PowerFactorTotal   *float64
	Frequency          *float64

	VoltageL1L2 *float64
	VoltageL2L3 *float64
	VoltageL3L1 *float64

	CurrentNeutral *float64

	THDVoltageAvg *float64
	THDCurrentAvg *float64

	Energy *EnergyTotals
}

// Type returns the three-phase schema.
func (r *SDM630Reading) Type() MeterType { return MeterTypeSDM630 }

// Flatten converts the reading into the flat wire schema, omitting absent
// fields and absent phase/energy blocks.
func (r *SDM630Reading) Flatten() map[string]float64 {
	result := make(map[string]float64)
	flattenPhase(result, "L1", r.PhaseL1)
	flattenPhase(result, "L2", r.PhaseL2)
	flattenPhase(result, "L3", r.PhaseL3)
	putField(result, "Voltage", r.VoltageAverage)
	putField(result, "Current", r.CurrentTotal)
	putField(result, "Power", r.PowerTotal)
	putField(result, "ApparentPower", r.ApparentPowerTotal)
	putField(result, "ReactivePower", r.ReactivePowerTotal)
	putField(result, "Cosphi", r.PowerFactorTotal)
	putField(result, "Frequency", r.Frequency)
	putField(result, "Voltage/L1-L2", r.VoltageL1L2)
	putField(result, "Voltage/L2-L3", r.VoltageL2L3)
	putField(result, "Voltage/L3-L1", r.VoltageL3L1)
	putField(result, "Current/N", r.CurrentNeutral)
	putField(result, "THD/VoltageAvg", r.THDVoltageAvg)
	putField(result, "THD/CurrentAvg", r.THDCurrentAvg)
	flattenEnergy(result, r.Energy)
	return result
}

// BuildReading assembles a schema-specific reading from the decoded field
// values of one poll, applying the sub-block presence rules: a phase or
// energy block is materialized only when at least one of its fields decoded.
// The caller guarantees values is non-empty.
func BuildReading(meterType MeterType, values map[string]float64) Reading {
	if meterType == MeterTypeSDM630 {
		return buildSDM630Reading(values)
	}
	return buildSDM120Reading(values)
}

func buildSDM120Reading(values map[string]float64) *SDM120Reading {
	return &SDM120Reading{
		Voltage:       field(values, "Voltage"),
		Current:       field(values, "Current"),
		Power:         field(values, "Power"),
		ApparentPower: field(values, "ApparentPower"),
		ReactivePower: field(values, "ReactivePower"),
		PowerFactor:   field(values, "Cosphi"),
		PhaseAngle:    field(values, "PhaseAngle"),
		Frequency:     field(values, "Frequency"),
		Energy:        buildEnergyTotals(values),
	}
}

func buildSDM630Reading(values map[string]float64) *SDM630Reading {
	return &SDM630Reading{
		PhaseL1:            buildPhaseData(values, "L1"),
		PhaseL2:            buildPhaseData(values, "L2"),
		PhaseL3:            buildPhaseData(values, "L3"),
		VoltageAverage:     field(values, "Voltage"),
		CurrentTotal:       field(values, "Current"),
		PowerTotal:         field(values, "Power"),
		ApparentPowerTotal: field(values, "ApparentPower"),
		ReactivePowerTotal: field(values, "ReactivePower"),
		PowerFactorTotal:   field(values, "Cosphi"),
		Frequency:          field(values, "Frequency"),
		VoltageL1L2:        field(values, "Voltage/L1-L2"),
		VoltageL2L3:        field(values, "Voltage/L2-L3"),
		VoltageL3L1:        field(values, "Voltage/L3-L1"),
		CurrentNeutral:     field(values, "Current/N"),
		THDVoltageAvg:      field(values, "THD/VoltageAvg"),
		THDCurrentAvg:      field(values, "THD/CurrentAvg"),
		Energy:             buildEnergyTotals(values),
	}
}

func buildPhaseData(values map[string]float64, phase string) *PhaseData {
	keys := []string{
		"Voltage/" + phase,
		"Current/" + phase,
		"Power/" + phase,
		"ApparentPower/" + phase,
		"ReactivePower/" + phase,
		"Cosphi/" + phase,
		"PhaseAngle/" + phase,
		"THD/Voltage" + phase,
		"THD/Current" + phase,
	}
	if !anyPresent(values, keys) {
		return nil
	}
	return &PhaseData{
		Voltage:       field(values, keys[0]),
		Current:       field(values, keys[1]),
		Power:         field(values, keys[2]),
		ApparentPower: field(values, keys[3]),
		ReactivePower: field(values, keys[4]),
		PowerFactor:   field(values, keys[5]),
		PhaseAngle:    field(values, keys[6]),
		THDVoltage:    field(values, keys[7]),
		THDCurrent:    field(values, keys[8]),
	}
}

var energyKeys = []string{"Import", "Export", "ReactiveImport", "ReactiveExport", "Sum", "ReactiveSum"}

func buildEnergyTotals(values map[string]float64) *EnergyTotals {
	if !anyPresent(values, energyKeys) {
		return nil
	}
	return &EnergyTotals{
		ImportActive:   field(values, "Import"),
		ExportActive:   field(values, "Export"),
		ImportReactive: field(values, "ReactiveImport"),
		ExportReactive: field(values, "ReactiveExport"),
		TotalActive:    field(values, "Sum"),
		TotalReactive:  field(values, "ReactiveSum"),
	}
}

func flattenPhase(result map[string]float64, phase string, data *PhaseData) {
	if data == nil {
		return
	}
	putField(result, "Voltage/"+phase, data.Voltage)
	putField(result, "Current/"+phase, data.Current)
	putField(result, "Power/"+phase, data.Power)
	putField(result, "ApparentPower/"+phase, data.ApparentPower)
	putField(result, "ReactivePower/"+phase, data.ReactivePower)
	putField(result, "Cosphi/"+phase, data.PowerFactor)
	putField(result, "PhaseAngle/"+phase, data.PhaseAngle)
	putField(result, "THD/Voltage"+phase, data.THDVoltage)
	putField(result, "THD/Current"+phase, data.THDCurrent)
}

func flattenEnergy(result map[string]float64, energy *EnergyTotals) {
	if energy == nil {
		return
	}
	putField(result, "Import", energy.ImportActive)
	putField(result, "Export", energy.ExportActive)
	putField(result, "ReactiveImport", energy.ImportReactive)
	putField(result, "ReactiveExport", energy.ExportReactive)
	putField(result, "Sum", energy.TotalActive)
	putField(result, "ReactiveSum", energy.TotalReactive)
}

func field(values map[string]float64, key string) *float64 {
	if v, ok := values[key]; ok {
		value := v
		return &value
	}
	return nil
}

func putField(result map[string]float64, key string, value *float64) {
	if value != nil {
		result[key] = *value
	}
}

func anyPresent(values map[string]float64, keys []string) bool {
	for _, key := range keys {
		if _, ok := values[key]; ok {
			return true
		}
	}
	return false
}
