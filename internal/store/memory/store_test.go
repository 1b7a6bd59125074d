package memory

import (
	"errors"
	"testing"
	"time"

	"glucolink/internal/domain"
	storepkg "glucolink/internal/store"
)

func reading(ts time.Time, sgv int) domain.Reading {
	return domain.Reading{
		DeviceTimestamp: ts,
		CapturedAt:      time.Now().UTC(),
		SGV:             sgv,
		Direction:       domain.DirectionFlat,
		Kind:            domain.ReadingKindSGV,
	}
}

func TestUpsertReading_IdempotentByDeviceTimestamp(t *testing.T) {
	st := NewStore()
	ts := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	if err := st.UpsertReading(reading(ts, 120)); err != nil {
		t.Fatalf("UpsertReading: %v", err)
	}
	// Same device timestamp again: same physical measurement, must not duplicate.
	if err := st.UpsertReading(reading(ts, 121)); err != nil {
		t.Fatalf("UpsertReading: %v", err)
	}

	got, err := st.ReadingsSince(ts.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ReadingsSince: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 record, got %d", len(got))
	}
	if got[0].SGV != 121 {
		t.Fatalf("second write should replace, SGV = %d", got[0].SGV)
	}
}

func TestReadingsSince_OrderedAscending(t *testing.T) {
	st := NewStore()
	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	for _, offset := range []time.Duration{30 * time.Minute, 0, 15 * time.Minute} {
		if err := st.UpsertReading(reading(base.Add(offset), 100)); err != nil {
			t.Fatalf("UpsertReading: %v", err)
		}
	}

	got, err := st.ReadingsSince(base.Add(10 * time.Minute))
	if err != nil {
		t.Fatalf("ReadingsSince: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 readings in window, got %d", len(got))
	}
	if !got[0].DeviceTimestamp.Before(got[1].DeviceTimestamp) {
		t.Fatal("readings not in ascending device-timestamp order")
	}
}

func TestLatest_ReplacedWhole(t *testing.T) {
	st := NewStore()
	if _, err := st.Latest(); !errors.Is(err, storepkg.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty store, got %v", err)
	}

	first := reading(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), 120)
	first.Direction = domain.DirectionSingleUp
	if err := st.UpsertLatest(first); err != nil {
		t.Fatalf("UpsertLatest: %v", err)
	}
	second := reading(time.Date(2024, 6, 1, 10, 5, 0, 0, time.UTC), 125)
	if err := st.UpsertLatest(second); err != nil {
		t.Fatalf("UpsertLatest: %v", err)
	}

	got, err := st.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got.SGV != 125 || got.Direction != domain.DirectionFlat {
		t.Fatalf("latest not fully replaced: %+v", got)
	}
}

func TestVendorSessionRoundTrip(t *testing.T) {
	st := NewStore()
	if _, err := st.LoadVendorSession(); !errors.Is(err, storepkg.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := st.SaveVendorSession(domain.VendorSession{
		Token:     "tok",
		SubjectID: "subject-1",
		PatientID: "A",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}); err != nil {
		t.Fatalf("SaveVendorSession: %v", err)
	}

	got, err := st.LoadVendorSession()
	if err != nil {
		t.Fatalf("LoadVendorSession: %v", err)
	}
	if got.Token != "tok" || got.PatientID != "A" {
		t.Fatalf("unexpected session: %+v", got)
	}

	if err := st.ClearVendorSession(); err != nil {
		t.Fatalf("ClearVendorSession: %v", err)
	}
	if _, err := st.LoadVendorSession(); !errors.Is(err, storepkg.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after clear, got %v", err)
	}
}

func TestEvents_NewestFirst(t *testing.T) {
	st := NewStore()
	st.AppendEvent(domain.EventFetchSucceeded, map[string]interface{}{"n": 1})
	st.AppendEvent(domain.EventFetchFailed, map[string]interface{}{"n": 2})

	events := st.ListEvents(10)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != domain.EventFetchFailed {
		t.Fatalf("expected newest event first, got %s", events[0].Type)
	}
}
