// Package transport provides the Modbus register bus used to query meters.
package transport

import (
	"fmt"
	"strings"
	"sync"

	"github.com/jellevictoor/sdm-modbus-reader/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/simonvetter/modbus"
)

// ModbusBus reads SDM input registers over Modbus. The default transport is
// RTU over a serial line; a tcp:// port value selects Modbus TCP, which the
// meter simulator and integration tests use.
//
// The physical bus is half-duplex: a mutex serializes transactions so the
// unit-id switch and the register read of one query can never interleave
// with another.
type ModbusBus struct {
	client *modbus.ModbusClient
	mutex  sync.Mutex
	logger zerolog.Logger
}

// NewModbusBus builds a bus client from the serial configuration. The port
// is not opened yet; Connect does that.
func NewModbusBus(cfg *config.Config) (*ModbusBus, error) {
	url := cfg.Serial.Port
	if !strings.Contains(url, "://") {
		url = "rtu://" + url
	}

	parity, err := parityFromConfig(cfg.Serial.Parity)
	if err != nil {
		return nil, err
	}

	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:      url,
		Speed:    uint(cfg.Serial.Baudrate),
		DataBits: uint(cfg.Serial.DataBits),
		Parity:   parity,
		StopBits: uint(cfg.Serial.StopBits),
		Timeout:  cfg.SerialTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create modbus client for %s: %w", url, err)
	}

	return &ModbusBus{
		client: client,
		logger: log.With().Str("component", "modbus").Str("url", url).Logger(),
	}, nil
}

func parityFromConfig(parity string) (uint, error) {
	switch parity {
	case "N":
		return modbus.PARITY_NONE, nil
	case "E":
		return modbus.PARITY_EVEN, nil
	case "O":
		return modbus.PARITY_ODD, nil
	default:
		return 0, fmt.Errorf("unsupported parity %q", parity)
	}
}

// Connect opens the serial port (or TCP connection). The bus is mandatory:
// callers treat a failure here as fatal.
func (b *ModbusBus) Connect() error {
	if err := b.client.Open(); err != nil {
		return fmt.Errorf("failed to open modbus transport: %w", err)
	}
	b.logger.Info().Msg("Modbus transport opened")
	return nil
}

// ReadRegisters reads count contiguous 16-bit input registers starting at
// address from the given device, preserving the meter's big-endian word
// order.
func (b *ModbusBus) ReadRegisters(deviceID uint8, address uint16, count uint16) ([]uint16, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if err := b.client.SetUnitId(deviceID); err != nil {
		return nil, fmt.Errorf("failed to select device %d: %w", deviceID, err)
	}

	words, err := b.client.ReadRegisters(address, count, modbus.INPUT_REGISTER)
	if err != nil {
		return nil, fmt.Errorf("register read at 0x%04X on device %d failed: %w", address, deviceID, err)
	}
	if len(words) != int(count) {
		return nil, fmt.Errorf("short register read at 0x%04X on device %d: got %d words, want %d",
			address, deviceID, len(words), count)
	}

	return words, nil
}

// Close releases the transport.
func (b *ModbusBus) Close() error {
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("failed to close modbus transport: %w", err)
	}
	return nil
}
