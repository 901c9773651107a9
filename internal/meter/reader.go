// Package meter implements register-map driven acquisition of SDM meter readings.
package meter

import (
	"errors"
	"time"

	"github.com/jellevictoor/sdm-modbus-reader/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrMeterUnreachable signals that not a single register of a meter could be
// read this attempt. It is a transient condition: the caller skips the meter
// for this cycle and retries on the next one.
var ErrMeterUnreachable = errors.New("meter unreachable: no registers could be read")

// registersPerField is the number of consecutive 16-bit registers that
// encode one float32 field.
const registersPerField = 2

// DefaultFieldDelay is the settling time the bus needs between register
// queries. SDM meters drop requests that arrive back-to-back.
const DefaultFieldDelay = 50 * time.Millisecond

// Reader reads all mapped fields of a meter through a register bus and
// assembles a typed reading. Per-field failures degrade that field to
// absent; only a fully non-responsive meter fails the read.
type Reader struct {
	bus        domain.RegisterBus
	fieldDelay time.Duration
	logger     zerolog.Logger
}

// NewReader creates a reader on top of the given bus. A non-positive
// fieldDelay falls back to DefaultFieldDelay.
func NewReader(bus domain.RegisterBus, fieldDelay time.Duration) *Reader {
	if fieldDelay <= 0 {
		fieldDelay = DefaultFieldDelay
	}
	return &Reader{
		bus:        bus,
		fieldDelay: fieldDelay,
		logger:     log.With().Str("component", "meter_reader").Logger(),
	}
}

// Read attempts every field in the schema's register map, in declared order,
// and assembles whatever succeeded into a reading. Returns
// ErrMeterUnreachable when all fields failed.
func (r *Reader) Read(deviceID uint8, meterType domain.MeterType) (domain.Reading, error) {
	registerMap := domain.RegisterMapFor(meterType)
	values := make(map[string]float64, len(registerMap))

	for i, mapping := range registerMap {
		if value, ok := r.readField(deviceID, mapping); ok {
			values[mapping.Name] = value
		}

		// Settling delay between bus transactions, not after the last one.
		if i < len(registerMap)-1 {
			time.Sleep(r.fieldDelay)
		}
	}

	if len(values) == 0 {
		return nil, ErrMeterUnreachable
	}

	r.logger.Debug().
		Uint8("device_id", deviceID).
		Str("meter_type", string(meterType)).
		Int("fields_read", len(values)).
		Int("fields_mapped", len(registerMap)).
		Msg("Meter read complete")

	return domain.BuildReading(meterType, values), nil
}

// readField reads and decodes a single field. Any failure degrades the field
// to absent; it never aborts the remaining fields.
func (r *Reader) readField(deviceID uint8, mapping domain.RegisterMapping) (float64, bool) {
	words, err := r.bus.ReadRegisters(deviceID, mapping.Address, registersPerField)
	if err != nil {
		r.logger.Debug().
			Uint8("device_id", deviceID).
			Str("field", mapping.Name).
			Uint16("address", mapping.Address).
			Err(err).
			Msg("Register read failed")
		return 0, false
	}
	if len(words) != registersPerField {
		r.logger.Debug().
			Uint8("device_id", deviceID).
			Str("field", mapping.Name).
			Uint16("address", mapping.Address).
			Int("words", len(words)).
			Msg("Malformed register response")
		return 0, false
	}

	return float64(domain.DecodeFloat32(words[0], words[1])), true
}
