package librelinkup

import (
	"errors"
	"testing"
	"time"
)

func TestIsValid_ExpiryMarginBoundaries(t *testing.T) {
	cases := []struct {
		name      string
		expiresIn time.Duration
		want      bool
	}{
		{"just inside margin", 59 * time.Second, false},
		{"just outside margin", 61 * time.Second, true},
		{"long lived", time.Hour, true},
		{"already expired", -time.Minute, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewSession()
			s.RecordLogin("tok", "subject-1", time.Now().UTC().Add(tc.expiresIn))
			if got := s.IsValid(); got != tc.want {
				t.Fatalf("IsValid() = %v, want %v for expiry in %s", got, tc.want, tc.expiresIn)
			}
		})
	}
}

func TestIsValid_UnknownExpiryIsValidUntilFailure(t *testing.T) {
	s := NewSession()
	s.RecordLogin("tok", "subject-1", time.Time{})
	if !s.IsValid() {
		t.Fatal("session with unknown expiry should be valid until a failure")
	}
	s.Invalidate()
	if s.IsValid() {
		t.Fatal("invalidated session should not be valid")
	}
}

func TestIsValid_EmptySession(t *testing.T) {
	if NewSession().IsValid() {
		t.Fatal("empty session should not be valid")
	}
}

func TestAuthenticatedHeaders(t *testing.T) {
	s := NewSession()
	if _, err := s.AuthenticatedHeaders(); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}

	s.RecordLogin("tok-abc", "subject-1", time.Now().UTC().Add(time.Hour))
	h, err := s.AuthenticatedHeaders()
	if err != nil {
		t.Fatalf("AuthenticatedHeaders: %v", err)
	}
	if got := h.Get("Authorization"); got != "Bearer tok-abc" {
		t.Fatalf("Authorization = %q", got)
	}
	// sha256("subject-1"), lowercase hex.
	want := "95efa64dfaf09a0f9bbdf42842b80fc01d96a1c75aaccc53d101a31ccb6da774"
	if got := h.Get("account-id"); got != want {
		t.Fatalf("account-id = %q, want %q", got, want)
	}
}

func TestRecordRenewedTicket(t *testing.T) {
	s := NewSession()
	if s.RecordRenewedTicket("tok-new", time.Now().Add(time.Hour)) {
		t.Fatal("renewed ticket must not apply to a logged-out session")
	}

	s.RecordLogin("tok-old", "subject-1", time.Now().UTC().Add(time.Minute))
	s.SelectPatient("patient-1")
	if !s.RecordRenewedTicket("tok-new", time.Now().UTC().Add(time.Hour)) {
		t.Fatal("renewed ticket should apply to a live session")
	}

	h, err := s.AuthenticatedHeaders()
	if err != nil {
		t.Fatalf("AuthenticatedHeaders: %v", err)
	}
	if got := h.Get("Authorization"); got != "Bearer tok-new" {
		t.Fatalf("Authorization = %q, want renewed token", got)
	}
	if s.PatientID() != "patient-1" {
		t.Fatal("renewed ticket must not touch the patient selection")
	}
}

func TestInvalidate_KeepsPatientSelection(t *testing.T) {
	s := NewSession()
	s.RecordLogin("tok", "subject-1", time.Now().UTC().Add(time.Hour))
	s.SelectPatient("patient-1")
	s.Invalidate()

	if s.IsValid() {
		t.Fatal("session should be invalid after Invalidate")
	}
	if s.PatientID() != "patient-1" {
		t.Fatalf("PatientID = %q, want selection kept across invalidation", s.PatientID())
	}
}

func TestExportRestore_RoundTrip(t *testing.T) {
	expires := time.Now().UTC().Add(2 * time.Hour).Truncate(time.Second)
	s := NewSession()
	s.RecordLogin("tok", "subject-1", expires)
	s.SelectPatient("patient-1")

	restored := NewSession()
	restored.Restore(s.Export())
	if !restored.IsValid() {
		t.Fatal("restored session should be valid")
	}
	if restored.PatientID() != "patient-1" {
		t.Fatalf("restored PatientID = %q", restored.PatientID())
	}
}
