package librelinkup

import (
	"github.com/rs/zerolog/log"

	"glucolink/internal/domain"
)

// SelectConnection picks the patient stream to poll. With a configured
// target id, only an exact match is accepted; a misconfigured id must fail
// loudly instead of being masked by defaulting to another patient's data.
// With no target, the first entry in vendor order is used and a warning is
// logged so the implicit choice is visible.
func SelectConnection(conns []domain.Connection, targetPatientID string) (string, error) {
	if len(conns) == 0 {
		return "", ErrNoConnections
	}
	if targetPatientID != "" {
		for _, c := range conns {
			if c.PatientID == targetPatientID {
				log.Info().
					Str("patient_id", c.PatientID).
					Str("name", c.FirstName+" "+c.LastName).
					Msg("using configured connection")
				return c.PatientID, nil
			}
		}
		return "", &ConnectionNotFoundError{PatientID: targetPatientID}
	}
	first := conns[0]
	log.Warn().
		Str("patient_id", first.PatientID).
		Str("name", first.FirstName+" "+first.LastName).
		Int("available", len(conns)).
		Msg("no connection configured, using the first one found")
	return first.PatientID, nil
}
