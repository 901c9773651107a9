// Package service provides the acquisition orchestration: read a meter,
// store the result, fan it out.
package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jellevictoor/sdm-modbus-reader/internal/domain"
	"github.com/jellevictoor/sdm-modbus-reader/internal/homeassistant"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// rawPublisher is the optional capability of publishing arbitrary payloads
// to fully qualified topics. Discovery announcements need it; the plain
// field fan-out does not.
type rawPublisher interface {
	PublishRaw(ctx context.Context, topic string, payload []byte, retain bool) error
}

// AcquisitionService orchestrates one meter read: on success the reading is
// stamped, stored and (when a publisher is configured) published; on failure
// nothing changes. A failed meter is not an error at this layer, one
// unreachable meter must never halt polling of the others, so failures
// surface only through the caller's cycle counters.
type AcquisitionService struct {
	reader    domain.MeterReader
	store     *domain.ReadingStore
	publisher domain.MessagePublisher
	discovery *homeassistant.AutoDiscovery
	announced map[uint8]bool
	logger    zerolog.Logger
}

// NewAcquisitionService wires the reader, store and optional publisher.
// A nil publisher disables fan-out entirely; a nil discovery disables
// Home Assistant announcements.
func NewAcquisitionService(reader domain.MeterReader, store *domain.ReadingStore,
	publisher domain.MessagePublisher, discovery *homeassistant.AutoDiscovery) *AcquisitionService {
	return &AcquisitionService{
		reader:    reader,
		store:     store,
		publisher: publisher,
		discovery: discovery,
		announced: make(map[uint8]bool),
		logger:    log.With().Str("component", "acquisition").Logger(),
	}
}

// ReadAndStore reads the meter and, on success, saves and publishes the
// reading. Returns nil when the meter was unreachable this attempt.
func (s *AcquisitionService) ReadAndStore(ctx context.Context, meter domain.MeterConfig) *domain.StoredReading {
	reading, err := s.reader.Read(meter.Address, meter.Type)
	if err != nil {
		s.logger.Debug().
			Uint8("meter_id", meter.Address).
			Str("meter_name", meter.DisplayName).
			Err(err).
			Msg("Meter read failed")
		return nil
	}

	stored := domain.StoredReading{
		MeterID:   meter.Address,
		MeterType: meter.Type,
		MeterName: meter.DisplayName,
		Slug:      meter.Slug,
		Reading:   reading,
		Timestamp: time.Now(),
	}
	s.store.Save(stored)

	if s.publisher != nil {
		fields := reading.Flatten()
		s.announceDiscovery(ctx, meter, fields)
		if err := s.publisher.PublishFields(ctx, meter.Slug, fields); err != nil {
			// Best effort: the reading is already stored, the broker gets
			// the next cycle's values on recovery.
			s.logger.Warn().
				Uint8("meter_id", meter.Address).
				Str("meter_name", meter.DisplayName).
				Err(err).
				Msg("Failed to publish reading")
		}
	}

	return &stored
}

// announceDiscovery publishes Home Assistant discovery configs for a
// meter's fields once, on its first successful reading. Announcing from
// observed fields rather than the register map keeps phantom entities for
// fields the meter never answered out of Home Assistant.
func (s *AcquisitionService) announceDiscovery(ctx context.Context, meter domain.MeterConfig, fields map[string]float64) {
	if s.discovery == nil || s.announced[meter.Address] {
		return
	}
	raw, ok := s.publisher.(rawPublisher)
	if !ok {
		return
	}

	for topic, message := range s.discovery.MessagesFor(meter, fields) {
		payload, err := json.Marshal(message)
		if err != nil {
			s.logger.Warn().Str("topic", topic).Err(err).Msg("Failed to marshal discovery message")
			continue
		}
		if err := raw.PublishRaw(ctx, topic, payload, s.discovery.Retain()); err != nil {
			// Leave the meter unannounced so the next cycle retries.
			s.logger.Warn().Str("topic", topic).Err(err).Msg("Failed to publish discovery message")
			return
		}
	}

	s.announced[meter.Address] = true
	s.logger.Info().
		Uint8("meter_id", meter.Address).
		Str("meter_name", meter.DisplayName).
		Msg("Published Home Assistant discovery configuration")
}
