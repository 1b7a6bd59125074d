package store

import (
	"errors"
	"time"

	"glucolink/internal/domain"
)

var ErrNotFound = errors.New("not found")

// Store is the persistence contract consumed by the poller and the HTTP
// layer. Reading writes are idempotent upserts keyed by device timestamp;
// the latest reading is a single record replaced whole on each write.
type Store interface {
	UpsertLatest(r domain.Reading) error
	UpsertReading(r domain.Reading) error
	Latest() (domain.Reading, error)
	ReadingsSince(since time.Time) ([]domain.Reading, error)

	SaveVendorSession(s domain.VendorSession) error
	LoadVendorSession() (domain.VendorSession, error)
	ClearVendorSession() error

	AppendEvent(eventType domain.EventType, payload map[string]interface{}) domain.Event
	ListEvents(limit int) []domain.Event
}
