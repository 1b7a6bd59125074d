package fetcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"glucolink/internal/domain"
	"glucolink/internal/librelinkup"
	"glucolink/internal/store/memory"
)

// fakeAPI scripts the three vendor calls and counts attempts.
type fakeAPI struct {
	loginCalls int
	connCalls  int
	graphCalls int

	loginErr error
	connErr  error
	graphErr error

	conns []domain.Connection
	graph *librelinkup.GraphResult
}

func (f *fakeAPI) Login(ctx context.Context) (librelinkup.SessionFields, error) {
	f.loginCalls++
	if f.loginErr != nil {
		return librelinkup.SessionFields{}, f.loginErr
	}
	return librelinkup.SessionFields{
		Token:     "tok",
		SubjectID: "subject-1",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}, nil
}

func (f *fakeAPI) ListConnections(ctx context.Context) ([]domain.Connection, error) {
	f.connCalls++
	if f.connErr != nil {
		return nil, f.connErr
	}
	return f.conns, nil
}

func (f *fakeAPI) FetchGraph(ctx context.Context, patientID string) (*librelinkup.GraphResult, error) {
	f.graphCalls++
	if f.graphErr != nil {
		return nil, f.graphErr
	}
	return f.graph, nil
}

func oneConnection() []domain.Connection {
	return []domain.Connection{{PatientID: "A", FirstName: "Ada", LastName: "Lovelace"}}
}

func TestRun_HappyPath(t *testing.T) {
	latest := &domain.Reading{
		DeviceTimestamp: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
		SGV:             120,
		Direction:       domain.DirectionFlat,
		Kind:            domain.ReadingKindSGV,
	}
	api := &fakeAPI{
		conns: oneConnection(),
		graph: &librelinkup.GraphResult{
			Latest: latest,
			History: []domain.Reading{
				{DeviceTimestamp: time.Date(2024, 6, 1, 9, 45, 0, 0, time.UTC), SGV: 118, Direction: domain.DirectionNone, Kind: domain.ReadingKindSGV},
			},
		},
	}
	session := librelinkup.NewSession()
	f := New(api, session, "", nil)

	result, err := f.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Latest == nil || result.Latest.SGV != 120 || result.Latest.Direction != domain.DirectionFlat {
		t.Fatalf("unexpected latest: %+v", result.Latest)
	}
	if !result.Latest.DeviceTimestamp.Equal(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected device timestamp: %s", result.Latest.DeviceTimestamp)
	}
	if len(result.History) != 1 {
		t.Fatalf("expected 1 history point, got %d", len(result.History))
	}
	if api.loginCalls != 1 || api.connCalls != 1 || api.graphCalls != 1 {
		t.Fatalf("unexpected call counts: login=%d conn=%d graph=%d", api.loginCalls, api.connCalls, api.graphCalls)
	}
	if session.PatientID() != "A" {
		t.Fatalf("stream selection not cached, PatientID = %q", session.PatientID())
	}
	if result.CycleID == "" {
		t.Fatal("missing cycle id")
	}
}

func TestRun_SkipsLoginWhenSessionValid(t *testing.T) {
	api := &fakeAPI{conns: oneConnection(), graph: &librelinkup.GraphResult{}}
	session := librelinkup.NewSession()
	session.RecordLogin("tok", "subject-1", time.Now().UTC().Add(time.Hour))

	if _, err := New(api, session, "", nil).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if api.loginCalls != 0 {
		t.Fatalf("expected no login with a valid session, got %d", api.loginCalls)
	}
}

func TestRun_LoginFailureIsTerminal(t *testing.T) {
	api := &fakeAPI{loginErr: &librelinkup.AuthError{Reason: "bad credentials"}}
	_, err := New(api, librelinkup.NewSession(), "", nil).Run(context.Background())

	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Step != StepLogin {
		t.Fatalf("expected StepError at login, got %v", err)
	}
	if api.loginCalls != 1 {
		t.Fatalf("expected exactly 1 login attempt, got %d", api.loginCalls)
	}
	if api.connCalls != 0 {
		t.Fatal("must not list connections after a failed login")
	}
}

func TestRun_ConnectionsRetryBound(t *testing.T) {
	// listStreams fails on every call: the cycle must make exactly 2
	// attempts and at most 2 logins, never more.
	api := &fakeAPI{connErr: errors.New("boom")}
	_, err := New(api, librelinkup.NewSession(), "", nil).Run(context.Background())

	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Step != StepConnections {
		t.Fatalf("expected StepError at connections, got %v", err)
	}
	if api.connCalls != 2 {
		t.Fatalf("expected exactly 2 list attempts, got %d", api.connCalls)
	}
	if api.loginCalls > 2 {
		t.Fatalf("expected at most 2 logins, got %d", api.loginCalls)
	}
}

func TestRun_UnauthorizedInvalidatesBeforeRelogin(t *testing.T) {
	api := &fakeAPI{connErr: librelinkup.ErrUnauthorized}
	session := librelinkup.NewSession()
	session.RecordLogin("stale", "subject-1", time.Now().UTC().Add(time.Hour))
	session.SelectPatient("A")

	_, err := New(api, session, "", nil).Run(context.Background())
	if err == nil {
		t.Fatal("expected failure")
	}
	// The relogin succeeded, so the session holds the fresh token; the
	// cached stream selection must have survived the invalidation.
	if !session.IsValid() {
		t.Fatal("expected a fresh session from the retry login")
	}
	if session.PatientID() != "A" {
		t.Fatal("stream selection lost across invalidation")
	}
	if api.loginCalls != 1 {
		t.Fatalf("expected 1 retry login, got %d", api.loginCalls)
	}
}

func TestRun_GraphRetryBound(t *testing.T) {
	api := &fakeAPI{conns: oneConnection(), graphErr: errors.New("boom")}
	session := librelinkup.NewSession()
	session.RecordLogin("tok", "subject-1", time.Now().UTC().Add(time.Hour))

	_, err := New(api, session, "", nil).Run(context.Background())
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Step != StepGraph {
		t.Fatalf("expected StepError at graph, got %v", err)
	}
	if api.graphCalls != 2 {
		t.Fatalf("expected exactly 2 graph attempts, got %d", api.graphCalls)
	}
	if api.loginCalls != 1 {
		t.Fatalf("expected 1 retry login, got %d", api.loginCalls)
	}
}

func TestRun_ConfiguredTargetNotFoundFails(t *testing.T) {
	api := &fakeAPI{conns: oneConnection(), graph: &librelinkup.GraphResult{}}
	session := librelinkup.NewSession()
	session.RecordLogin("tok", "subject-1", time.Now().UTC().Add(time.Hour))

	_, err := New(api, session, "Z", nil).Run(context.Background())
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Step != StepSelect {
		t.Fatalf("expected StepError at select, got %v", err)
	}
	if api.graphCalls != 0 {
		t.Fatal("must not fetch a graph for an unselected stream")
	}
	if session.PatientID() != "" {
		t.Fatal("must not cache a failed selection")
	}
}

func TestRun_CachedSelectionSkipsSelect(t *testing.T) {
	// Even with a configured target that is absent from the listing, a
	// previously cached selection wins; selection is only re-derived when
	// absent.
	api := &fakeAPI{conns: oneConnection(), graph: &librelinkup.GraphResult{}}
	session := librelinkup.NewSession()
	session.RecordLogin("tok", "subject-1", time.Now().UTC().Add(time.Hour))
	session.SelectPatient("cached")

	if _, err := New(api, session, "Z", nil).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if session.PatientID() != "cached" {
		t.Fatalf("cached selection replaced: %q", session.PatientID())
	}
}

func TestRun_UnauthorizedAppendsSessionEvents(t *testing.T) {
	api := &fakeAPI{connErr: librelinkup.ErrUnauthorized}
	session := librelinkup.NewSession()
	session.RecordLogin("stale", "subject-1", time.Now().UTC().Add(time.Hour))
	st := memory.NewStore()

	if _, err := New(api, session, "", st).Run(context.Background()); err == nil {
		t.Fatal("expected failure")
	}
	events := st.ListEvents(5)
	if len(events) != 2 {
		t.Fatalf("expected invalidation + renewal events, got %+v", events)
	}
	if events[0].Type != domain.EventSessionRenewed || events[1].Type != domain.EventSessionInvalidated {
		t.Fatalf("unexpected event order: %s, %s", events[0].Type, events[1].Type)
	}
}

type recordingSaver struct {
	saved []domain.VendorSession
}

func (r *recordingSaver) SaveVendorSession(v domain.VendorSession) error {
	r.saved = append(r.saved, v)
	return nil
}

func TestRun_PersistsSessionAfterLoginAndSelection(t *testing.T) {
	api := &fakeAPI{conns: oneConnection(), graph: &librelinkup.GraphResult{}}
	saver := &recordingSaver{}

	if _, err := New(api, librelinkup.NewSession(), "", saver).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(saver.saved) != 2 {
		t.Fatalf("expected 2 persists (login, selection), got %d", len(saver.saved))
	}
	last := saver.saved[len(saver.saved)-1]
	if last.Token != "tok" || last.PatientID != "A" {
		t.Fatalf("unexpected persisted session: %+v", last)
	}
}
