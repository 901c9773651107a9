package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jellevictoor/sdm-modbus-reader/internal/api"
	"github.com/jellevictoor/sdm-modbus-reader/internal/config"
	"github.com/jellevictoor/sdm-modbus-reader/internal/domain"
	"github.com/jellevictoor/sdm-modbus-reader/internal/homeassistant"
	"github.com/jellevictoor/sdm-modbus-reader/internal/meter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// PollingServer drives the acquisition of all configured meters on a fixed
// cadence and hosts the HTTP query surface. Meters are read strictly
// sequentially, in configuration order: the underlying bus is half-duplex
// and cannot arbitrate concurrent transactions.
type PollingServer struct {
	config      *config.Config
	meters      []domain.MeterConfig
	bus         domain.RegisterBus
	store       *domain.ReadingStore
	publisher   domain.MessagePublisher
	acquisition *AcquisitionService
	apiServer   *api.Server
	done        chan struct{}
	wg          sync.WaitGroup
	logger      zerolog.Logger
	startTime   time.Time
}

// CycleStats aggregates the outcome of one poll cycle, the only visibility
// the operator gets into per-meter failures.
type CycleStats struct {
	Cycle      uint64
	MetersOK   int
	MetersFail int
	FieldsRead int
	Duration   time.Duration
}

// NewPollingServer creates the polling server and its collaborators. The
// meter set is validated configuration, fixed for the process lifetime.
func NewPollingServer(cfg *config.Config, bus domain.RegisterBus,
	publisher domain.MessagePublisher) (*PollingServer, error) {
	meters, err := cfg.MeterConfigs()
	if err != nil {
		return nil, fmt.Errorf("invalid meter configuration: %w", err)
	}

	store := domain.NewReadingStore()
	reader := meter.NewReader(bus, cfg.FieldDelay())

	var discovery *homeassistant.AutoDiscovery
	if cfg.HomeAssistant.Enabled && cfg.MQTT.Enabled {
		discovery = homeassistant.New(homeassistant.Config{
			Enabled:         true,
			DiscoveryPrefix: cfg.HomeAssistant.DiscoveryPrefix,
			RetainDiscovery: cfg.HomeAssistant.RetainDiscovery,
		}, cfg.MQTT.TopicPrefix)
	}

	server := &PollingServer{
		config:      cfg,
		meters:      meters,
		bus:         bus,
		store:       store,
		publisher:   publisher,
		acquisition: NewAcquisitionService(reader, store, publisher, discovery),
		done:        make(chan struct{}),
		logger:      log.With().Str("component", "server").Logger(),
	}

	// Initialize HTTP API server if enabled.
	if cfg.API.Enabled {
		server.apiServer = api.NewServer(cfg, store)
	}

	return server, nil
}

// Store exposes the reading store, e.g. for integration tests.
func (s *PollingServer) Store() *domain.ReadingStore {
	return s.store
}

// Start launches the poll loop and, if enabled, the HTTP API server.
func (s *PollingServer) Start(ctx context.Context) error {
	s.startTime = time.Now()

	if s.apiServer != nil {
		if err := s.apiServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
	}

	s.wg.Add(1)
	go s.pollLoop(ctx)

	s.logger.Info().
		Int("meters", len(s.meters)).
		Dur("interval", s.config.PollInterval()).
		Msg("Polling started")

	return nil
}

// Stop requests a cooperative shutdown: the in-flight meter read finishes,
// no new meter is started, and all components are closed.
func (s *PollingServer) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping server")

	close(s.done)
	s.wg.Wait()

	if s.apiServer != nil {
		if err := s.apiServer.Stop(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Failed to stop API server")
		}
	}

	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Error().Err(err).Msg("Failed to close message publisher")
		}
	}

	if err := s.bus.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to close register bus")
	}

	return nil
}

// pollLoop repeats acquisition cycles on the configured interval. When a
// cycle overruns the interval the next one starts immediately.
func (s *PollingServer) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	interval := s.config.PollInterval()
	var cycle uint64

	for {
		cycle++
		stats := s.runCycle(ctx, cycle)

		s.logger.Info().
			Uint64("cycle", stats.Cycle).
			Int("meters_ok", stats.MetersOK).
			Int("meters_failed", stats.MetersFail).
			Int("fields_read", stats.FieldsRead).
			Dur("duration", stats.Duration).
			Msg("Poll cycle complete")

		remaining := interval - stats.Duration
		if remaining < 0 {
			remaining = 0
		}

		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-time.After(remaining):
		}
	}
}

// runCycle reads every configured meter once, sequentially and in
// configuration order. Cancellation between meters stops the cycle; the
// meter currently on the wire always completes, so no partial reading is
// ever committed.
func (s *PollingServer) runCycle(ctx context.Context, cycle uint64) CycleStats {
	stats := CycleStats{Cycle: cycle}
	start := time.Now()

	for _, meterCfg := range s.meters {
		select {
		case <-s.done:
			stats.Duration = time.Since(start)
			return stats
		case <-ctx.Done():
			stats.Duration = time.Since(start)
			return stats
		default:
		}

		if stored := s.acquisition.ReadAndStore(ctx, meterCfg); stored != nil {
			stats.MetersOK++
			stats.FieldsRead += len(stored.Reading.Flatten())
		} else {
			stats.MetersFail++
		}
	}

	stats.Duration = time.Since(start)
	return stats
}
