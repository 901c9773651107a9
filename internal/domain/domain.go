// Package domain provides core domain models and interfaces for the sdm-modbus-reader application
package domain

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// MeterType identifies the register schema a meter exposes.
type MeterType string

const (
	// MeterTypeSDM120 is the single-phase schema (SDM120/SDM220/SDM230).
	MeterTypeSDM120 MeterType = "SDM120"
	// MeterTypeSDM630 is the three-phase schema.
	MeterTypeSDM630 MeterType = "SDM630"
)

// ParseMeterType converts a configuration string into a MeterType.
func ParseMeterType(s string) (MeterType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SDM120", "SDM220", "SDM230":
		return MeterTypeSDM120, nil
	case "SDM630":
		return MeterTypeSDM630, nil
	default:
		return "", fmt.Errorf("unknown meter type %q (supported: SDM120, SDM220, SDM230, SDM630)", s)
	}
}

// Modbus RTU station address bounds. Address 0 is the broadcast address and
// addresses above 247 are reserved by the protocol.
const (
	MinMeterAddress = 1
	MaxMeterAddress = 247
)

// MeterConfig is the immutable identity of one configured meter.
type MeterConfig struct {
	Type        MeterType `json:"meter_type"`
	Address     uint8     `json:"meter_id"`
	DisplayName string    `json:"meter_name"`
	Slug        string    `json:"slug"`
}

// NewMeterConfig validates the bus address and derives the slug from the
// display name. An out-of-range address is a configuration error and must
// abort startup.
func NewMeterConfig(meterType MeterType, address int, displayName string) (MeterConfig, error) {
	if address < MinMeterAddress || address > MaxMeterAddress {
		return MeterConfig{}, fmt.Errorf("meter address must be between %d and %d, got %d",
			MinMeterAddress, MaxMeterAddress, address)
	}
	if displayName == "" {
		displayName = fmt.Sprintf("%s %d", meterType, address)
	}
	return MeterConfig{
		Type:        meterType,
		Address:     uint8(address),
		DisplayName: displayName,
		Slug:        Slugify(displayName),
	}, nil
}

var (
	slugStripPattern    = regexp.MustCompile(`[^\w\s-]`)
	slugCollapsePattern = regexp.MustCompile(`[-\s]+`)
)

// Slugify converts a display name into a URL-safe identifier used as the
// publish-topic segment for that meter.
func Slugify(text string) string {
	text = strings.ToLower(text)
	text = slugStripPattern.ReplaceAllString(text, "")
	text = slugCollapsePattern.ReplaceAllString(text, "-")
	return strings.Trim(text, "-")
}

// Reading is one successfully assembled meter reading. Implementations are
// the schema-specific types SDM120Reading and SDM630Reading. A Reading is
// immutable once built.
type Reading interface {
	// Type returns the schema this reading was decoded with.
	Type() MeterType

	// Flatten converts the reading into the flat field-name -> value wire
	// schema, omitting absent fields and absent sub-blocks entirely.
	Flatten() map[string]float64
}

// StoredReading is the latest captured reading for one meter, owned by the
// ReadingStore. It is replaced whole on every successful poll.
type StoredReading struct {
	MeterID   uint8     `json:"meter_id"`
	MeterType MeterType `json:"meter_type"`
	MeterName string    `json:"meter_name"`
	Slug      string    `json:"slug"`
	Reading   Reading   `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// RegisterBus is the transport used to read contiguous 16-bit input
// registers from a device on the field bus. The bus is half-duplex;
// implementations serialize transactions internally.
type RegisterBus interface {
	// Connect opens the underlying transport.
	Connect() error

	// ReadRegisters reads count contiguous 16-bit registers starting at
	// address from the device, preserving big-endian word order.
	ReadRegisters(deviceID uint8, address uint16, count uint16) ([]uint16, error)

	// Close releases the transport.
	Close() error
}

// MeterReader reads every mapped field of a meter and assembles a Reading.
type MeterReader interface {
	// Read returns the assembled reading, or ErrMeterUnreachable when not a
	// single register could be read this attempt.
	Read(deviceID uint8, meterType MeterType) (Reading, error)
}

// MessagePublisher fans out a reading's flattened fields to a pub/sub broker.
type MessagePublisher interface {
	// Connect establishes a connection to the messaging system
	Connect(ctx context.Context) error

	// PublishFields sends each field value to the meter's topic, retained
	PublishFields(ctx context.Context, meterSlug string, fields map[string]float64) error

	// Close terminates the connection to the messaging system
	Close() error
}
