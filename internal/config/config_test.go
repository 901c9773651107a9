package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jellevictoor/sdm-modbus-reader/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Meters = []string{"SDM630:100:Main Panel", "SDM120:101"}
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
	assert.Equal(t, 9600, cfg.Serial.Baudrate)
	assert.Equal(t, "N", cfg.Serial.Parity)
	assert.Equal(t, 1, cfg.Serial.StopBits)
	assert.Equal(t, 8, cfg.Serial.DataBits)
	assert.Equal(t, 10, cfg.Poll.IntervalSeconds)
	assert.Equal(t, 50, cfg.Poll.FieldDelayMs)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "home/energy/sdm", cfg.MQTT.TopicPrefix)
	assert.False(t, cfg.HomeAssistant.Enabled)
	assert.Equal(t, "homeassistant", cfg.HomeAssistant.DiscoveryPrefix)
	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, 8000, cfg.API.Port)
}

func TestLoadFromFile(t *testing.T) {
	content := `
log_level: debug
meters:
  - "SDM630:100:Main Panel"
  - "SDM120:101:Heat Pump"
serial:
  port: /dev/ttyUSB1
  baudrate: 19200
poll:
  interval_seconds: 5
mqtt:
  enabled: false
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/dev/ttyUSB1", cfg.Serial.Port)
	assert.Equal(t, 19200, cfg.Serial.Baudrate)
	assert.Equal(t, 5, cfg.Poll.IntervalSeconds)
	assert.False(t, cfg.MQTT.Enabled)

	// Unset keys keep their defaults.
	assert.Equal(t, "N", cfg.Serial.Parity)
	assert.Equal(t, 50, cfg.Poll.FieldDelayMs)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("meters: [unterminated"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	// A config file without meters fails validation at load time.
	content := `
serial:
  port: /dev/ttyUSB0
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one meter")
}

func TestValidate(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateSerialSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad parity", func(c *Config) { c.Serial.Parity = "X" }},
		{"bad stopbits", func(c *Config) { c.Serial.StopBits = 3 }},
		{"bad databits", func(c *Config) { c.Serial.DataBits = 9 }},
		{"zero interval", func(c *Config) { c.Poll.IntervalSeconds = 0 }},
		{"negative interval", func(c *Config) { c.Poll.IntervalSeconds = -1 }},
		{"no meters", func(c *Config) { c.Meters = nil }},
		{"bad meter spec", func(c *Config) { c.Meters = []string{"SDM120"} }},
		{"meter address zero", func(c *Config) { c.Meters = []string{"SDM120:0"} }},
		{"meter address too high", func(c *Config) { c.Meters = []string{"SDM120:248"} }},
		{"duplicate address", func(c *Config) { c.Meters = []string{"SDM120:101", "SDM630:101"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseMeterSpec(t *testing.T) {
	meter, err := ParseMeterSpec("SDM630:100:Main Panel")
	require.NoError(t, err)
	assert.Equal(t, domain.MeterTypeSDM630, meter.Type)
	assert.Equal(t, uint8(100), meter.Address)
	assert.Equal(t, "Main Panel", meter.DisplayName)
	assert.Equal(t, "main-panel", meter.Slug)
}

func TestParseMeterSpecDefaultName(t *testing.T) {
	meter, err := ParseMeterSpec("sdm120:101")
	require.NoError(t, err)
	assert.Equal(t, domain.MeterTypeSDM120, meter.Type)
	assert.Equal(t, "SDM120 101", meter.DisplayName)
	assert.Equal(t, "sdm120-101", meter.Slug)
}

func TestParseMeterSpecErrors(t *testing.T) {
	for _, spec := range []string{"", "SDM120", "SDM999:1", "SDM120:abc", "SDM120:300"} {
		t.Run(spec, func(t *testing.T) {
			_, err := ParseMeterSpec(spec)
			assert.Error(t, err)
		})
	}
}

func TestMeterConfigsPreserveOrder(t *testing.T) {
	cfg := validConfig()
	cfg.Meters = []string{"SDM120:5", "SDM630:3", "SDM120:9"}

	meters, err := cfg.MeterConfigs()
	require.NoError(t, err)
	require.Len(t, meters, 3)

	// Polling order is configuration order, not address order.
	assert.Equal(t, uint8(5), meters[0].Address)
	assert.Equal(t, uint8(3), meters[1].Address)
	assert.Equal(t, uint8(9), meters[2].Address)
}

func TestDurationHelpers(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, time.Second, cfg.SerialTimeout())
	assert.Equal(t, 10*time.Second, cfg.PollInterval())
	assert.Equal(t, 50*time.Millisecond, cfg.FieldDelay())
}
