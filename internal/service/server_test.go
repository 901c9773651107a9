package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jellevictoor/sdm-modbus-reader/internal/config"
	"github.com/jellevictoor/sdm-modbus-reader/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBus serves every register from a value map shared by all devices,
// tracking which devices were queried and in what order.
type fakeBus struct {
	mutex       sync.Mutex
	values      map[uint16]float32
	deviceOrder []uint8
	closed      bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{values: map[uint16]float32{
		0x0000: 230.5,  // Voltage (SDM120) / Voltage L1 (SDM630)
		0x0006: 1.234,  // Current
		0x0156: 1234.5, // Import / Sum
	}}
}

func (b *fakeBus) Connect() error { return nil }

func (b *fakeBus) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.closed = true
	return nil
}

func (b *fakeBus) ReadRegisters(deviceID uint8, address uint16, _ uint16) ([]uint16, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if len(b.deviceOrder) == 0 || b.deviceOrder[len(b.deviceOrder)-1] != deviceID {
		b.deviceOrder = append(b.deviceOrder, deviceID)
	}
	value, ok := b.values[address]
	if !ok {
		return nil, assert.AnError
	}
	high, low := domain.EncodeFloat32(value)
	return []uint16{high, low}, nil
}

func (b *fakeBus) devices() []uint8 {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return append([]uint8(nil), b.deviceOrder...)
}

func testServerConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Meters = []string{"SDM120:101:Heat Pump", "SDM120:102:Garage"}
	cfg.Poll.IntervalSeconds = 1
	cfg.Poll.FieldDelayMs = 1
	cfg.MQTT.Enabled = false
	cfg.API.Enabled = false
	return cfg
}

func TestNewPollingServer(t *testing.T) {
	server, err := NewPollingServer(testServerConfig(), newFakeBus(), nil)
	require.NoError(t, err)

	assert.NotNil(t, server.Store())
	assert.Len(t, server.meters, 2)
	assert.Nil(t, server.apiServer)
}

func TestNewPollingServerInvalidMeters(t *testing.T) {
	cfg := testServerConfig()
	cfg.Meters = []string{"SDM120:101", "SDM630:101"}

	_, err := NewPollingServer(cfg, newFakeBus(), nil)
	assert.Error(t, err)
}

func TestRunCycleReadsAllMetersInOrder(t *testing.T) {
	bus := newFakeBus()
	server, err := NewPollingServer(testServerConfig(), bus, nil)
	require.NoError(t, err)

	stats := server.runCycle(context.Background(), 1)

	assert.Equal(t, uint64(1), stats.Cycle)
	assert.Equal(t, 2, stats.MetersOK)
	assert.Equal(t, 0, stats.MetersFail)
	// Voltage, Current, Import and Sum decode per meter.
	assert.Equal(t, 8, stats.FieldsRead)

	// Configuration order, strictly sequential.
	assert.Equal(t, []uint8{101, 102}, bus.devices())

	stored, found := server.Store().GetByMeterID(101)
	require.True(t, found)
	assert.InDelta(t, 230.5, stored.Reading.Flatten()["Voltage"], 0.0001)
}

func TestRunCycleCountsFailures(t *testing.T) {
	bus := newFakeBus()
	bus.values = map[uint16]float32{} // nothing answers
	server, err := NewPollingServer(testServerConfig(), bus, nil)
	require.NoError(t, err)

	stats := server.runCycle(context.Background(), 1)

	assert.Equal(t, 0, stats.MetersOK)
	assert.Equal(t, 2, stats.MetersFail)
	assert.Equal(t, 0, server.Store().Count())
}

func TestRunCycleStopsBetweenMeters(t *testing.T) {
	bus := newFakeBus()
	server, err := NewPollingServer(testServerConfig(), bus, nil)
	require.NoError(t, err)

	// Cancellation before the cycle starts: no meter is touched.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stats := server.runCycle(ctx, 1)

	assert.Equal(t, 0, stats.MetersOK+stats.MetersFail)
	assert.Empty(t, bus.devices())
}

func TestStartAndStop(t *testing.T) {
	bus := newFakeBus()
	server, err := NewPollingServer(testServerConfig(), bus, nil)
	require.NoError(t, err)

	require.NoError(t, server.Start(context.Background()))

	// Wait for the first cycle to land readings for both meters.
	deadline := time.After(5 * time.Second)
	for server.Store().Count() < 2 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for first poll cycle")
		case <-time.After(10 * time.Millisecond):
		}
	}

	require.NoError(t, server.Stop(context.Background()))
	assert.True(t, bus.closed)
}

func TestStopClosesPublisher(t *testing.T) {
	bus := newFakeBus()
	publisher := &closeTrackingPublisher{}
	server, err := NewPollingServer(testServerConfig(), bus, publisher)
	require.NoError(t, err)

	require.NoError(t, server.Start(context.Background()))
	require.NoError(t, server.Stop(context.Background()))
	assert.True(t, publisher.closed)
}

type closeTrackingPublisher struct {
	closed bool
}

func (p *closeTrackingPublisher) Connect(_ context.Context) error { return nil }

func (p *closeTrackingPublisher) PublishFields(_ context.Context, _ string, _ map[string]float64) error {
	return nil
}

func (p *closeTrackingPublisher) Close() error {
	p.closed = true
	return nil
}
