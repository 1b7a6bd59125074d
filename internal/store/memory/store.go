package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"glucolink/internal/domain"
	storepkg "glucolink/internal/store"
)

// Store is the in-memory implementation used by tests and as a fallback when
// postgres is unavailable. Readings are keyed by device timestamp, matching
// the dedup contract of the durable store.
type Store struct {
	mu sync.RWMutex

	latest    *domain.Reading
	readings  map[time.Time]domain.Reading
	session   *domain.VendorSession
	events    []domain.Event
	maxEvents int
}

func NewStore() *Store {
	return &Store{
		readings:  make(map[time.Time]domain.Reading),
		events:    make([]domain.Event, 0, 256),
		maxEvents: 1000,
	}
}

func (s *Store) UpsertLatest(r domain.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := r
	s.latest = &cp
	return nil
}

func (s *Store) UpsertReading(r domain.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings[r.DeviceTimestamp.UTC()] = r
	return nil
}

func (s *Store) Latest() (domain.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return domain.Reading{}, storepkg.ErrNotFound
	}
	return *s.latest, nil
}

func (s *Store) ReadingsSince(since time.Time) ([]domain.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Reading, 0, len(s.readings))
	for ts, r := range s.readings {
		if !ts.Before(since) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DeviceTimestamp.Before(out[j].DeviceTimestamp)
	})
	return out, nil
}

func (s *Store) SaveVendorSession(v domain.VendorSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v.UpdatedAt = time.Now().UTC()
	s.session = &v
	return nil
}

func (s *Store) LoadVendorSession() (domain.VendorSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return domain.VendorSession{}, storepkg.ErrNotFound
	}
	return *s.session, nil
}

func (s *Store) ClearVendorSession() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
	return nil
}

func (s *Store) AppendEvent(eventType domain.EventType, payload map[string]interface{}) domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	event := domain.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	s.events = append(s.events, event)
	if len(s.events) > s.maxEvents {
		s.events = s.events[len(s.events)-s.maxEvents:]
	}
	return event
}

func (s *Store) ListEvents(limit int) []domain.Event {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Event, 0, limit)
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.events[i])
	}
	return out
}
