package librelinkup

import (
	"encoding/json"
	"time"

	"glucolink/internal/domain"
)

// Wire shapes for the three vendor endpoints. Only the fields this module
// reads are declared; raw measurement payloads are kept as json.RawMessage
// and attached to canonical readings for forward compatibility.

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// authTicket appears in login responses and, on soft failures, as a
// top-level "ticket" on any endpoint. Expires is a POSIX timestamp in
// seconds; Duration is a validity window in seconds. Either or both may be
// absent.
type authTicket struct {
	Token    string `json:"token"`
	Expires  int64  `json:"expires"`
	Duration int64  `json:"duration"`
}

// expiresAt resolves the ticket expiry: an absolute timestamp wins over a
// duration; with neither, the zero time is returned and the session is
// treated as valid only until the next failure.
func (t authTicket) expiresAt(now time.Time) time.Time {
	if t.Expires > 0 {
		return time.Unix(t.Expires, 0).UTC()
	}
	if t.Duration > 0 {
		return now.Add(time.Duration(t.Duration) * time.Second).UTC()
	}
	return time.Time{}
}

type loginResponse struct {
	Status int `json:"status"`
	Data   struct {
		AuthTicket authTicket `json:"authTicket"`
		User       struct {
			ID string `json:"id"`
		} `json:"user"`
		Redirect bool   `json:"redirect"`
		Region   string `json:"region"`
	} `json:"data"`
	Ticket *authTicket `json:"ticket"`
}

type connectionsResponse struct {
	Status int               `json:"status"`
	Data   []connectionEntry `json:"data"`
	Ticket *authTicket       `json:"ticket"`
}

type connectionEntry struct {
	PatientID string `json:"patientId"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type graphResponse struct {
	Status int `json:"status"`
	Data   struct {
		Connection struct {
			GlucoseMeasurement json.RawMessage `json:"glucoseMeasurement"`
		} `json:"connection"`
		GraphData []json.RawMessage `json:"graphData"`
	} `json:"data"`
	Ticket *authTicket `json:"ticket"`
}

// measurement is the vendor's measurement shape. The latest reading carries
// ValueInMgPerDl and a TrendArrow phrase; history points carry Value and no
// trend. Pointers distinguish absent from zero.
type measurement struct {
	Timestamp      string `json:"Timestamp"`
	ValueInMgPerDl *int   `json:"ValueInMgPerDl"`
	Value          *int   `json:"Value"`
	TrendArrow     string `json:"TrendArrow"`
}

// SessionFields is the outcome of a successful login, ready to be recorded
// on a Session. A zero ExpiresAt means the vendor supplied no expiry.
type SessionFields struct {
	Token     string
	SubjectID string
	ExpiresAt time.Time
}

// GraphResult is one decomposed graph payload: the latest reading (nil when
// the vendor omitted it or it carried no value) plus zero or more history
// points, in vendor order.
type GraphResult struct {
	Latest  *domain.Reading
	History []domain.Reading
}
