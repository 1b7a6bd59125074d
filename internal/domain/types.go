package domain

import (
	"encoding/json"
	"time"
)

// Direction is the canonical trend of a glucose reading, using the
// Nightscout-compatible vocabulary.
type Direction string

const (
	DirectionDoubleUp      Direction = "DoubleUp"
	DirectionSingleUp      Direction = "SingleUp"
	DirectionFortyFiveUp   Direction = "FortyFiveUp"
	DirectionFlat          Direction = "Flat"
	DirectionFortyFiveDown Direction = "FortyFiveDown"
	DirectionSingleDown    Direction = "SingleDown"
	DirectionDoubleDown    Direction = "DoubleDown"
	DirectionNone          Direction = "NONE"
)

// ReadingKindSGV marks sensor glucose values; kept as a field so other entry
// kinds (mbg, calibration) can be added without a schema change.
const ReadingKindSGV = "sgv"

// Reading is a single canonical glucose measurement. DeviceTimestamp is the
// instant the sensor took the measurement and uniquely identifies the reading;
// CapturedAt is when this process observed it.
type Reading struct {
	DeviceTimestamp time.Time       `json:"device_timestamp"`
	CapturedAt      time.Time       `json:"captured_at"`
	SGV             int             `json:"sgv"`
	Direction       Direction       `json:"direction"`
	Kind            string          `json:"kind"`
	Raw             json.RawMessage `json:"raw,omitempty"`
}

// Connection is one vendor-side patient data stream.
type Connection struct {
	PatientID string `json:"patientId"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// VendorSession is the persisted shape of an authenticated vendor session.
// The token is stored encrypted at rest.
type VendorSession struct {
	Token     string    `json:"-"`
	SubjectID string    `json:"subject_id"`
	PatientID string    `json:"patient_id"`
	ExpiresAt time.Time `json:"expires_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type EventType string

const (
	EventFetchSucceeded     EventType = "FetchSucceeded"
	EventFetchFailed        EventType = "FetchFailed"
	EventSessionRenewed     EventType = "SessionRenewed"
	EventSessionInvalidated EventType = "SessionInvalidated"
)

// Event is an append-only diagnostic record of poller activity.
type Event struct {
	ID        string                 `json:"event_id"`
	Type      EventType              `json:"event_type"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
}
