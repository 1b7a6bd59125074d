// Package fetcher drives one fetch cycle against the vendor API:
// login -> list connections -> select stream -> fetch graph, with a single
// re-login retry wrapped around each data call. The one-extra-login policy
// bounds a cycle to at most 2 logins and 2 data calls while covering the
// common transient-expiry case; retrying across cycles is the poller's job.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"glucolink/internal/domain"
	"glucolink/internal/librelinkup"
	"glucolink/internal/metrics"
)

// Step names the state in which a cycle terminally failed.
type Step string

const (
	StepLogin       Step = "login"
	StepConnections Step = "connections"
	StepSelect      Step = "select"
	StepGraph       Step = "graph"
)

// StepError is the structured terminal failure of a cycle: the reason plus
// the step that failed. Cycles never panic the process; the poller logs the
// failure and moves on to the next tick.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("fetch cycle failed at %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// VendorAPI is the slice of the remote client the orchestrator needs.
type VendorAPI interface {
	Login(ctx context.Context) (librelinkup.SessionFields, error)
	ListConnections(ctx context.Context) ([]domain.Connection, error)
	FetchGraph(ctx context.Context, patientID string) (*librelinkup.GraphResult, error)
}

// SessionSaver persists the vendor session across restarts. Optional.
type SessionSaver interface {
	SaveVendorSession(domain.VendorSession) error
}

// EventSink records session lifecycle events. Savers that also implement it
// (the stores do) get invalidations and renewals in their event log.
type EventSink interface {
	AppendEvent(eventType domain.EventType, payload map[string]interface{}) domain.Event
}

// Result is the outcome of a successful cycle.
type Result struct {
	CycleID  string
	Latest   *domain.Reading
	History  []domain.Reading
	Duration time.Duration
}

type Fetcher struct {
	api             VendorAPI
	session         *librelinkup.Session
	targetPatientID string
	saver           SessionSaver
}

// New builds a fetcher. saver may be nil to disable session persistence.
func New(api VendorAPI, session *librelinkup.Session, targetPatientID string, saver SessionSaver) *Fetcher {
	return &Fetcher{
		api:             api,
		session:         session,
		targetPatientID: targetPatientID,
		saver:           saver,
	}
}

// Run executes one fetch cycle. The returned error, when non-nil, is always
// a *StepError.
func (f *Fetcher) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	cycleID := uuid.NewString()
	logger := log.With().Str("cycle_id", cycleID).Logger()

	if !f.session.IsValid() {
		if err := f.login(ctx); err != nil {
			return nil, &StepError{Step: StepLogin, Err: err}
		}
	}

	conns, err := f.api.ListConnections(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("list connections failed, retrying after login")
		if err := f.reloginAfter(ctx, err); err != nil {
			return nil, &StepError{Step: StepLogin, Err: err}
		}
		conns, err = f.api.ListConnections(ctx)
		if err != nil {
			return nil, &StepError{Step: StepConnections, Err: err}
		}
	}

	patientID := f.session.PatientID()
	if patientID == "" {
		patientID, err = librelinkup.SelectConnection(conns, f.targetPatientID)
		if err != nil {
			return nil, &StepError{Step: StepSelect, Err: err}
		}
		f.session.SelectPatient(patientID)
		f.persistSession()
	}

	graph, err := f.api.FetchGraph(ctx, patientID)
	if err != nil {
		logger.Warn().Err(err).Msg("fetch graph failed, retrying after login")
		if err := f.reloginAfter(ctx, err); err != nil {
			return nil, &StepError{Step: StepLogin, Err: err}
		}
		graph, err = f.api.FetchGraph(ctx, patientID)
		if err != nil {
			return nil, &StepError{Step: StepGraph, Err: err}
		}
	}

	result := &Result{
		CycleID:  cycleID,
		Latest:   graph.Latest,
		History:  graph.History,
		Duration: time.Since(start),
	}
	logger.Info().
		Int("history_points", len(result.History)).
		Bool("has_latest", result.Latest != nil).
		Dur("duration", result.Duration).
		Msg("fetch cycle done")
	return result, nil
}

// reloginAfter is the retry edge back to NeedLogin. An authentication-class
// failure clears the session first; other failures just trigger a fresh
// login, which overwrites the session either way.
func (f *Fetcher) reloginAfter(ctx context.Context, cause error) error {
	if errors.Is(cause, librelinkup.ErrUnauthorized) {
		f.session.Invalidate()
		f.recordEvent(domain.EventSessionInvalidated, map[string]interface{}{"cause": cause.Error()})
	}
	return f.login(ctx)
}

func (f *Fetcher) login(ctx context.Context) error {
	fields, err := f.api.Login(ctx)
	if err != nil {
		metrics.LoginAttempts.WithLabelValues("failure").Inc()
		return err
	}
	metrics.LoginAttempts.WithLabelValues("success").Inc()
	f.session.RecordLogin(fields.Token, fields.SubjectID, fields.ExpiresAt)
	f.recordEvent(domain.EventSessionRenewed, map[string]interface{}{
		"expires_at": fields.ExpiresAt,
	})
	f.persistSession()
	return nil
}

func (f *Fetcher) recordEvent(eventType domain.EventType, payload map[string]interface{}) {
	if sink, ok := f.saver.(EventSink); ok {
		sink.AppendEvent(eventType, payload)
	}
}

func (f *Fetcher) persistSession() {
	if f.saver == nil {
		return
	}
	if err := f.saver.SaveVendorSession(f.session.Export()); err != nil {
		// Persistence is a convenience; the cycle proceeds without it.
		log.Warn().Err(err).Msg("persist vendor session failed")
	}
}
