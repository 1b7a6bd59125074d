package librelinkup

import (
	"errors"
	"fmt"
)

var (
	// ErrNotLoggedIn is returned when authenticated headers are requested
	// without a live session. Callers must log in first; there is no
	// implicit login.
	ErrNotLoggedIn = errors.New("librelinkup: not logged in")

	// ErrUnauthorized signals an HTTP 401/403-class response. The caller
	// decides whether to invalidate the session; the client only detects.
	ErrUnauthorized = errors.New("librelinkup: unauthorized")

	ErrNoConnections = errors.New("librelinkup: no connections available")
)

// AuthError is a rejected or malformed login. SuggestedRegion is set when the
// vendor indicates the account lives in a different API region; the client
// never retries against it on its own.
type AuthError struct {
	Reason          string
	SuggestedRegion string
}

func (e *AuthError) Error() string {
	if e.SuggestedRegion != "" {
		return fmt.Sprintf("librelinkup: login failed: %s (account region appears to be %s)", e.Reason, e.SuggestedRegion)
	}
	return "librelinkup: login failed: " + e.Reason
}

// VendorError is a vendor-level soft failure: HTTP 200 with a non-zero status
// code embedded in the body.
type VendorError struct {
	Endpoint string
	Status   int
}

func (e *VendorError) Error() string {
	return fmt.Sprintf("librelinkup: %s returned vendor status %d", e.Endpoint, e.Status)
}

// ConnectionNotFoundError reports that the configured patient id is absent
// from the vendor's connection listing. Selection never falls back to a
// different patient when a target is configured.
type ConnectionNotFoundError struct {
	PatientID string
}

func (e *ConnectionNotFoundError) Error() string {
	return fmt.Sprintf("librelinkup: configured patient id %q not found in connections", e.PatientID)
}
