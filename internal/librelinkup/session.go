package librelinkup

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"glucolink/internal/domain"
)

// validityMargin is subtracted from the token expiry when checking validity.
// Remote calls take non-zero time; a token expiring mid-request must not
// succeed once and fail on the next call.
const validityMargin = 60 * time.Second

// Session holds the mutable authentication state for one LibreLinkUp account:
// the bearer token, the subject (account) id, the token expiry, and the
// selected patient stream. Token and subject id are always set or cleared
// together. The selected patient id survives invalidation: it is a user
// preference, not an auth artifact.
//
// All methods are safe for concurrent use, but the system as a whole assumes
// at most one fetch cycle mutating the session at a time.
type Session struct {
	mu        sync.Mutex
	token     string
	subjectID string
	expiresAt time.Time // zero when the vendor supplied no expiry
	patientID string
}

func NewSession() *Session {
	return &Session{}
}

// IsValid reports whether the session can be used for authenticated calls:
// token and subject id present, and the expiry (when known) is more than the
// safety margin away. A session with no known expiry is treated as valid
// until a call fails.
func (s *Session) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" || s.subjectID == "" {
		return false
	}
	if s.expiresAt.IsZero() {
		return true
	}
	return time.Now().UTC().Before(s.expiresAt.Add(-validityMargin))
}

// AuthenticatedHeaders returns the Authorization bearer header plus the
// account-id header the vendor requires: the lowercase-hex SHA-256 digest of
// the subject id, so the cleartext account identifier is never sent on
// authenticated calls. Returns ErrNotLoggedIn when the session is empty.
func (s *Session) AuthenticatedHeaders() (http.Header, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" || s.subjectID == "" {
		return nil, ErrNotLoggedIn
	}
	sum := sha256.Sum256([]byte(s.subjectID))
	h := http.Header{}
	h.Set("Authorization", "Bearer "+s.token)
	h.Set("account-id", hex.EncodeToString(sum[:]))
	return h, nil
}

// RecordLogin installs the result of a successful login. A zero expiresAt
// means the vendor supplied neither an absolute expiry nor a duration; the
// session is then considered valid until the next failure rather than
// assumed valid forever.
func (s *Session) RecordLogin(token, subjectID string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.subjectID = subjectID
	s.expiresAt = expiresAt
}

// RecordRenewedTicket applies a refreshed token that the vendor piggybacked
// on an otherwise-failed response. Subject id and patient selection are left
// untouched. Ignored when not logged in, since applying a token without a
// subject id would break the both-or-neither invariant.
func (s *Session) RecordRenewedTicket(token string, expiresAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subjectID == "" || token == "" {
		return false
	}
	s.token = token
	s.expiresAt = expiresAt
	return true
}

// Invalidate clears the authentication state after a 401/403-class failure.
// The selected patient id is kept.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.subjectID = ""
	s.expiresAt = time.Time{}
}

// PatientID returns the cached stream selection, empty if none chosen yet.
func (s *Session) PatientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.patientID
}

// SelectPatient caches the chosen patient stream across fetch cycles.
func (s *Session) SelectPatient(patientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patientID = patientID
}

// Export snapshots the session for persistence.
func (s *Session) Export() domain.VendorSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.VendorSession{
		Token:     s.token,
		SubjectID: s.subjectID,
		PatientID: s.patientID,
		ExpiresAt: s.expiresAt,
	}
}

// Restore loads a previously persisted session, typically at startup.
func (s *Session) Restore(v domain.VendorSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = v.Token
	s.subjectID = v.SubjectID
	s.patientID = v.PatientID
	s.expiresAt = v.ExpiresAt
}
