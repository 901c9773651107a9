// Command meter-sim runs a Modbus TCP server that impersonates one or
// more SDM energy meters. It serves plausible, slowly drifting values
// for every input register the reader knows about, which makes it
// possible to develop and demo the full pipeline without hardware.
//
// Usage:
//
//	meter-sim -listen tcp://0.0.0.0:5502 -meters SDM120:1,SDM630:2
//
// Point the reader at it with serial.port set to the same tcp:// URL.
package main

import (
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jellevictoor/sdm-modbus-reader/internal/config"
	"github.com/jellevictoor/sdm-modbus-reader/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/simonvetter/modbus"
)

func main() {
	os.Exit(run())
}

func run() int {
	listenURL := flag.String("listen", "tcp://0.0.0.0:5502", "Modbus TCP listen URL")
	meterSpecs := flag.String("meters", "SDM120:1", "Comma-separated meter specs (TYPE:ADDR[:NAME])")
	flag.Parse()

	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()

	sim := newSimulator()
	for _, spec := range strings.Split(*meterSpecs, ",") {
		meter, err := config.ParseMeterSpec(strings.TrimSpace(spec))
		if err != nil {
			log.Error().Err(err).Str("spec", spec).Msg("Invalid meter spec")
			return 1
		}
		sim.addMeter(meter)
		log.Info().
			Str("type", string(meter.Type)).
			Uint8("address", meter.Address).
			Msg("Simulating meter")
	}

	server, err := modbus.NewServer(&modbus.ServerConfiguration{
		URL:        *listenURL,
		Timeout:    30 * time.Second,
		MaxClients: 5,
	}, sim)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create modbus server")
		return 1
	}

	if err := server.Start(); err != nil {
		log.Error().Err(err).Str("url", *listenURL).Msg("Failed to start modbus server")
		return 1
	}
	log.Info().Str("url", *listenURL).Msg("Meter simulator listening")

	// Drift the simulated values in the background so consecutive polls
	// do not return identical readings.
	stopDrift := make(chan struct{})
	go sim.drift(stopDrift)

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signalChan
	log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	close(stopDrift)
	if err := server.Stop(); err != nil {
		log.Error().Err(err).Msg("Error stopping modbus server")
		return 1
	}
	return 0
}

// simulator implements modbus.RequestHandler for a set of fake meters,
// each owning an independent register bank keyed by unit id.
type simulator struct {
	mutex  sync.RWMutex
	meters map[uint8]*meterState
}

type meterState struct {
	meterType domain.MeterType
	registers map[uint16]uint16
	fields    map[string]float64
}

func newSimulator() *simulator {
	return &simulator{meters: make(map[uint8]*meterState)}
}

func (s *simulator) addMeter(meter domain.MeterConfig) {
	state := &meterState{
		meterType: meter.Type,
		registers: make(map[uint16]uint16),
		fields:    make(map[string]float64),
	}
	for _, mapping := range domain.RegisterMapFor(meter.Type) {
		state.fields[mapping.Name] = baselineValue(mapping.Name)
	}
	state.encode()

	s.mutex.Lock()
	s.meters[meter.Address] = state
	s.mutex.Unlock()
}

// encode writes every field into its register pair. Must be called with
// the simulator mutex held when the meter is already published.
func (m *meterState) encode() {
	for _, mapping := range domain.RegisterMapFor(m.meterType) {
		high, low := domain.EncodeFloat32(float32(m.fields[mapping.Name]))
		m.registers[mapping.Address] = high
		m.registers[mapping.Address+1] = low
	}
}

// drift nudges the instantaneous fields every few seconds and slowly
// accumulates the energy counters.
func (s *simulator) drift(stop <-chan struct{}) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mutex.Lock()
			for _, state := range s.meters {
				for name, value := range state.fields {
					if isEnergyField(name) {
						state.fields[name] = value + rand.Float64()*0.01
						continue
					}
					state.fields[name] = value * (1 + (rand.Float64()-0.5)*0.02)
				}
				state.encode()
			}
			s.mutex.Unlock()
		}
	}
}

// isEnergyField reports whether a field is an accumulating counter, which
// only ever grows, as opposed to an instantaneous measurement.
func isEnergyField(name string) bool {
	info, ok := domain.FieldInfoFor(name)
	if !ok {
		return false
	}
	return info.Unit == "kWh" || info.Unit == "kVArh"
}

// baselineValue picks a plausible starting point for a field based on
// its base name.
func baselineValue(name string) float64 {
	base := name
	if idx := strings.Index(name, "/"); idx >= 0 {
		base = name[:idx]
	}
	switch base {
	case "Voltage":
		return 229 + rand.Float64()*3
	case "Current":
		return 0.5 + rand.Float64()*4
	case "Power":
		return 100 + rand.Float64()*900
	case "ApparentPower":
		return 120 + rand.Float64()*900
	case "ReactivePower":
		return 10 + rand.Float64()*100
	case "Cosphi":
		return 0.85 + rand.Float64()*0.14
	case "PhaseAngle":
		return rand.Float64() * 15
	case "Frequency":
		return 49.9 + rand.Float64()*0.2
	case "THD":
		return rand.Float64() * 5
	case "Import", "Sum":
		return 1000 + rand.Float64()*500
	case "Export":
		return 50 + rand.Float64()*50
	case "ReactiveImport", "ReactiveSum":
		return 200 + rand.Float64()*100
	case "ReactiveExport":
		return 10 + rand.Float64()*10
	default:
		return rand.Float64() * 100
	}
}

// HandleInputRegisters serves register reads from the addressed meter's
// bank. Unknown unit ids and unmapped addresses return modbus exceptions
// so the reader sees the same failures a real bus would produce.
func (s *simulator) HandleInputRegisters(req *modbus.InputRegistersRequest) ([]uint16, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	state, ok := s.meters[req.UnitId]
	if !ok {
		return nil, modbus.ErrIllegalFunction
	}

	values := make([]uint16, req.Quantity)
	for i := uint16(0); i < req.Quantity; i++ {
		value, ok := state.registers[req.Addr+i]
		if !ok {
			return nil, modbus.ErrIllegalDataAddress
		}
		values[i] = value
	}
	return values, nil
}

// HandleHoldingRegisters is not implemented, SDM meters are read through
// input registers only.
func (s *simulator) HandleHoldingRegisters(_ *modbus.HoldingRegistersRequest) ([]uint16, error) {
	return nil, modbus.ErrIllegalFunction
}

// HandleCoils is not implemented.
func (s *simulator) HandleCoils(_ *modbus.CoilsRequest) ([]bool, error) {
	return nil, modbus.ErrIllegalFunction
}

// HandleDiscreteInputs is not implemented.
func (s *simulator) HandleDiscreteInputs(_ *modbus.DiscreteInputsRequest) ([]bool, error) {
	return nil, modbus.ErrIllegalFunction
}
