// Package homeassistant provides MQTT auto-discovery support for Home Assistant integration.
package homeassistant

import (
	"fmt"
	"strings"

	"github.com/jellevictoor/sdm-modbus-reader/internal/domain"
)

// Config holds the Home Assistant auto-discovery configuration.
type Config struct {
	Enabled         bool
	DiscoveryPrefix string
	RetainDiscovery bool
}

// DiscoveryMessage represents a Home Assistant MQTT discovery message.
type DiscoveryMessage struct {
	Name              string     `json:"name"`
	UniqueID          string     `json:"unique_id"`
	StateTopic        string     `json:"state_topic"`
	DeviceClass       string     `json:"device_class,omitempty"`
	UnitOfMeasurement string     `json:"unit_of_measurement,omitempty"`
	StateClass        string     `json:"state_class,omitempty"`
	Device            DeviceInfo `json:"device"`
}

// DeviceInfo represents device information for Home Assistant. Each meter
// appears as its own device so a multi-meter bus shows up as separate
// entries in the device registry.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model,omitempty"`
	SwVersion    string   `json:"sw_version,omitempty"`
}

// AutoDiscovery generates Home Assistant MQTT auto-discovery messages
// for meter fields.
type AutoDiscovery struct {
	config      Config
	topicPrefix string
}

// New creates a new Home Assistant auto-discovery instance. topicPrefix is
// the prefix state values are published under.
func New(config Config, topicPrefix string) *AutoDiscovery {
	return &AutoDiscovery{
		config:      config,
		topicPrefix: topicPrefix,
	}
}

// MessagesFor generates discovery messages for the fields a meter actually
// reported, keyed by discovery topic. Fields with no known metadata are
// skipped.
func (ad *AutoDiscovery) MessagesFor(meter domain.MeterConfig, fields map[string]float64) map[string]DiscoveryMessage {
	device := ad.deviceInfo(meter)
	messages := make(map[string]DiscoveryMessage, len(fields))

	for fieldName := range fields {
		info, ok := domain.FieldInfoFor(fieldName)
		if !ok {
			continue
		}

		objectID := objectIDFor(meter.Slug, fieldName)
		messages[ad.discoveryTopic(meter.Slug, fieldName)] = DiscoveryMessage{
			Name:              fieldLabel(fieldName, info),
			UniqueID:          objectID,
			StateTopic:        fmt.Sprintf("%s/%s/%s", ad.topicPrefix, meter.Slug, fieldName),
			DeviceClass:       deviceClassFor(fieldName, info.Unit),
			UnitOfMeasurement: info.Unit,
			StateClass:        stateClassFor(info.Unit),
			Device:            device,
		}
	}

	return messages
}

// CleanupMessages generates empty-payload messages that remove the given
// fields from Home Assistant, keyed by discovery topic.
func (ad *AutoDiscovery) CleanupMessages(meter domain.MeterConfig, fieldNames []string) map[string]string {
	messages := make(map[string]string, len(fieldNames))
	for _, fieldName := range fieldNames {
		messages[ad.discoveryTopic(meter.Slug, fieldName)] = ""
	}
	return messages
}

// Retain reports whether discovery messages should be published retained.
func (ad *AutoDiscovery) Retain() bool {
	return ad.config.RetainDiscovery
}

func (ad *AutoDiscovery) deviceInfo(meter domain.MeterConfig) DeviceInfo {
	return DeviceInfo{
		Identifiers:  []string{fmt.Sprintf("sdm_%s", meter.Slug)},
		Name:         meter.DisplayName,
		Manufacturer: "Eastron",
		Model:        string(meter.Type),
		SwVersion:    "sdm-modbus-reader",
	}
}

// discoveryTopic builds the Home Assistant discovery topic:
// <discovery_prefix>/sensor/<node_id>/<object_id>/config
func (ad *AutoDiscovery) discoveryTopic(slug, fieldName string) string {
	nodeID := fmt.Sprintf("sdm_%s", slug)
	return fmt.Sprintf("%s/sensor/%s/%s/config", ad.config.DiscoveryPrefix, nodeID, objectIDFor(slug, fieldName))
}

// objectIDFor flattens a field name into a discovery object id. Field names
// may contain slashes ("Voltage/L1") which are not valid in object ids.
func objectIDFor(slug, fieldName string) string {
	field := strings.ToLower(strings.ReplaceAll(fieldName, "/", "_"))
	field = strings.ReplaceAll(field, "-", "_")
	return fmt.Sprintf("sdm_%s_%s", slug, field)
}

// fieldLabel expands a per-phase field name into a readable entity name,
// "Voltage/L1" becomes "Voltage L1".
func fieldLabel(fieldName string, info domain.FieldInfo) string {
	if idx := strings.Index(fieldName, "/"); idx != -1 {
		return fmt.Sprintf("%s %s", info.Label, fieldName[idx+1:])
	}
	return info.Label
}

// deviceClassFor maps a field to the Home Assistant device class, where
// one exists, based on its unit.
func deviceClassFor(fieldName, unit string) string {
	switch unit {
	case "V":
		return "voltage"
	case "A":
		return "current"
	case "W":
		return "power"
	case "VA":
		return "apparent_power"
	case "VAr":
		return "reactive_power"
	case "Hz":
		return "frequency"
	case "kWh":
		return "energy"
	}
	if strings.HasPrefix(fieldName, "Cosphi") {
		return "power_factor"
	}
	return ""
}

// stateClassFor distinguishes accumulating energy counters from
// instantaneous measurements.
func stateClassFor(unit string) string {
	switch unit {
	case "kWh", "kVArh":
		return "total_increasing"
	default:
		return "measurement"
	}
}
