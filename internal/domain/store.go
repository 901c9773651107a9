package domain

import "sync"

// ReadingStore is a concurrency-safe latest-value cache keyed by meter id.
// It is the only shared mutable state in the application: the poll loop
// writes, the query surface reads. Stored readings are replaced whole on
// every save; fields from an older reading never leak into a newer one.
type ReadingStore struct {
	mutex    sync.RWMutex
	readings map[uint8]StoredReading
}

// NewReadingStore creates an empty reading store.
func NewReadingStore() *ReadingStore {
	return &ReadingStore{
		readings: make(map[uint8]StoredReading),
	}
}

// Save replaces any existing stored reading for the meter with the new one.
func (s *ReadingStore) Save(reading StoredReading) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.readings[reading.MeterID] = reading
}

// GetByMeterID returns the latest reading for a meter, if one exists.
func (s *ReadingStore) GetByMeterID(meterID uint8) (StoredReading, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	reading, ok := s.readings[meterID]
	return reading, ok
}

// GetAll returns a snapshot of the latest readings for all meters. The
// returned map is independent of the store: callers may mutate or iterate it
// without observing concurrent saves.
func (s *ReadingStore) GetAll() map[uint8]StoredReading {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	snapshot := make(map[uint8]StoredReading, len(s.readings))
	for id, reading := range s.readings {
		snapshot[id] = reading
	}
	return snapshot
}

// Count returns the number of meters with a stored reading.
func (s *ReadingStore) Count() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.readings)
}
