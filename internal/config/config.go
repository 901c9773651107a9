// Package config provides configuration management for the sdm-modbus-reader application.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jellevictoor/sdm-modbus-reader/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	// General settings
	LogLevel string `mapstructure:"log_level"`

	// Meter specifications, format TYPE:ADDRESS[:DISPLAY NAME]
	Meters []string `mapstructure:"meters"`

	// Serial bus settings
	Serial struct {
		Port           string `mapstructure:"port"`
		Baudrate       int    `mapstructure:"baudrate"`
		Parity         string `mapstructure:"parity"`
		StopBits       int    `mapstructure:"stopbits"`
		DataBits       int    `mapstructure:"databits"`
		TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	} `mapstructure:"serial"`

	// Poll loop settings
	Poll struct {
		IntervalSeconds int `mapstructure:"interval_seconds"`
		FieldDelayMs    int `mapstructure:"field_delay_ms"`
	} `mapstructure:"poll"`

	// MQTT settings
	MQTT struct {
		Enabled     bool   `mapstructure:"enabled"`
		Host        string `mapstructure:"host"`
		Port        int    `mapstructure:"port"`
		Username    string `mapstructure:"username"`
		Password    string `mapstructure:"password"`
		TopicPrefix string `mapstructure:"topic_prefix"`
	} `mapstructure:"mqtt"`

	// Home Assistant MQTT auto-discovery settings
	HomeAssistant struct {
		Enabled         bool   `mapstructure:"enabled"`
		DiscoveryPrefix string `mapstructure:"discovery_prefix"`
		RetainDiscovery bool   `mapstructure:"retain_discovery"`
	} `mapstructure:"homeassistant"`

	// HTTP API settings
	API struct {
		Enabled bool   `mapstructure:"enabled"`
		Host    string `mapstructure:"host"`
		Port    int    `mapstructure:"port"`
	} `mapstructure:"api"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{
		LogLevel: "info",
	}

	// Default serial settings match the SDM factory defaults
	cfg.Serial.Port = "/dev/ttyUSB0"
	cfg.Serial.Baudrate = 9600
	cfg.Serial.Parity = "N"
	cfg.Serial.StopBits = 1
	cfg.Serial.DataBits = 8
	cfg.Serial.TimeoutSeconds = 1

	// Default poll settings
	cfg.Poll.IntervalSeconds = 10
	cfg.Poll.FieldDelayMs = 50

	// Default MQTT settings
	cfg.MQTT.Enabled = true
	cfg.MQTT.Host = "localhost"
	cfg.MQTT.Port = 1883
	cfg.MQTT.TopicPrefix = "home/energy/sdm"

	// Default Home Assistant settings
	cfg.HomeAssistant.Enabled = false
	cfg.HomeAssistant.DiscoveryPrefix = "homeassistant"
	cfg.HomeAssistant.RetainDiscovery = true

	// Default API settings
	cfg.API.Enabled = true
	cfg.API.Host = "0.0.0.0"
	cfg.API.Port = 8000

	return cfg
}

// Load reads the configuration from a file and environment variables.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Set up Viper
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Override with specific config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		// Config file not found, use defaults
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			fmt.Println("No configuration file found, using defaults")
		} else {
			// Other errors (like invalid YAML) should be returned
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	// Bind environment variables
	v.SetEnvPrefix("SDM")
	v.AutomaticEnv()

	// Unmarshal config
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for fatal errors. Validation failures
// abort startup before any bus traffic happens.
func (c *Config) Validate() error {
	switch c.Serial.Parity {
	case "N", "E", "O":
	default:
		return fmt.Errorf("serial parity must be N, E or O, got %q", c.Serial.Parity)
	}
	if c.Serial.StopBits != 1 && c.Serial.StopBits != 2 {
		return fmt.Errorf("serial stopbits must be 1 or 2, got %d", c.Serial.StopBits)
	}
	if c.Serial.DataBits != 7 && c.Serial.DataBits != 8 {
		return fmt.Errorf("serial databits must be 7 or 8, got %d", c.Serial.DataBits)
	}
	if c.Poll.IntervalSeconds <= 0 {
		return fmt.Errorf("poll interval must be positive, got %d", c.Poll.IntervalSeconds)
	}
	if len(c.Meters) == 0 {
		return errors.New("at least one meter must be configured")
	}
	if _, err := c.MeterConfigs(); err != nil {
		return err
	}
	return nil
}

// MeterConfigs parses the configured meter specifications, in configuration
// order. Duplicate bus addresses are rejected.
func (c *Config) MeterConfigs() ([]domain.MeterConfig, error) {
	meters := make([]domain.MeterConfig, 0, len(c.Meters))
	seen := make(map[uint8]string, len(c.Meters))

	for _, spec := range c.Meters {
		meter, err := ParseMeterSpec(spec)
		if err != nil {
			return nil, err
		}
		if previous, ok := seen[meter.Address]; ok {
			return nil, fmt.Errorf("meter spec %q reuses bus address %d already taken by %q",
				spec, meter.Address, previous)
		}
		seen[meter.Address] = spec
		meters = append(meters, meter)
	}

	return meters, nil
}

// ParseMeterSpec parses a meter specification of the form
// TYPE:ADDRESS[:DISPLAY NAME], e.g. "SDM120:101" or "SDM630:100:Main Panel".
func ParseMeterSpec(spec string) (domain.MeterConfig, error) {
	parts := strings.SplitN(spec, ":", 3)
	if len(parts) < 2 {
		return domain.MeterConfig{}, fmt.Errorf("invalid meter spec %q, expected TYPE:ADDRESS[:DISPLAY NAME]", spec)
	}

	meterType, err := domain.ParseMeterType(parts[0])
	if err != nil {
		return domain.MeterConfig{}, fmt.Errorf("invalid meter spec %q: %w", spec, err)
	}

	address, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return domain.MeterConfig{}, fmt.Errorf("invalid meter spec %q: address %q is not a number", spec, parts[1])
	}

	displayName := ""
	if len(parts) == 3 {
		displayName = strings.TrimSpace(parts[2])
	}

	meter, err := domain.NewMeterConfig(meterType, address, displayName)
	if err != nil {
		return domain.MeterConfig{}, fmt.Errorf("invalid meter spec %q: %w", spec, err)
	}
	return meter, nil
}

// SerialTimeout returns the per-transaction bus timeout.
func (c *Config) SerialTimeout() time.Duration {
	return time.Duration(c.Serial.TimeoutSeconds) * time.Second
}

// PollInterval returns the poll cycle cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalSeconds) * time.Second
}

// FieldDelay returns the inter-field bus settling delay.
func (c *Config) FieldDelay() time.Duration {
	return time.Duration(c.Poll.FieldDelayMs) * time.Millisecond
}

// Print displays the current configuration.
func (c *Config) Print() {
	logger := log.With().Str("component", "config").Logger()
	logger.Info().Msg("sdm-modbus-reader Configuration:")
	logger.Info().Msg("-----------------------------")
	logger.Info().Str("log_level", c.LogLevel).Msg("Log Level")

	logger.Info().
		Str("port", c.Serial.Port).
		Int("baudrate", c.Serial.Baudrate).
		Str("parity", c.Serial.Parity).
		Int("stopbits", c.Serial.StopBits).
		Int("databits", c.Serial.DataBits).
		Msg("Serial Bus")

	logger.Info().
		Int("interval_seconds", c.Poll.IntervalSeconds).
		Int("field_delay_ms", c.Poll.FieldDelayMs).
		Msg("Polling")

	meters, err := c.MeterConfigs()
	if err == nil {
		for _, meter := range meters {
			logger.Info().
				Str("type", string(meter.Type)).
				Uint8("address", meter.Address).
				Str("name", meter.DisplayName).
				Str("slug", meter.Slug).
				Msg("Meter")
		}
	}

	logger.Info().Bool("enabled", c.MQTT.Enabled).Msg("MQTT Enabled")
	if c.MQTT.Enabled {
		logger.Info().
			Str("host", c.MQTT.Host).
			Int("port", c.MQTT.Port).
			Str("topic_prefix", c.MQTT.TopicPrefix).
			Msg("MQTT Configuration")
	}

	logger.Info().Bool("enabled", c.HomeAssistant.Enabled).Msg("Home Assistant Discovery Enabled")
	if c.HomeAssistant.Enabled {
		logger.Info().
			Str("discovery_prefix", c.HomeAssistant.DiscoveryPrefix).
			Msg("Home Assistant Configuration")
	}

	logger.Info().Bool("enabled", c.API.Enabled).Msg("API Enabled")
	if c.API.Enabled {
		logger.Info().
			Str("host", c.API.Host).
			Int("port", c.API.Port).
			Msg("API Server")
	}

	logger.Info().Msg("-----------------------------")
}
