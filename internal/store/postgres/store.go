package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"glucolink/internal/domain"
	"glucolink/internal/security/secretbox"
	storepkg "glucolink/internal/store"
)

// Store is the durable postgres-backed store. Readings are keyed by device
// timestamp with ON CONFLICT upserts; the latest reading lives in the
// single-row app_state table; the vendor session token is encrypted before
// it is written.
type Store struct {
	db  *sql.DB
	box *secretbox.Box
}

// NewStore opens the database, verifies connectivity and ensures the schema.
// box may be nil, in which case vendor-session persistence is disabled.
func NewStore(databaseURL string, box *secretbox.Box) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{db: db, box: box}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`create table if not exists readings (
			device_timestamp timestamptz primary key,
			captured_at      timestamptz not null,
			sgv              integer not null,
			direction        text not null,
			kind             text not null,
			raw              jsonb
		)`,
		`create index if not exists readings_captured_at_idx on readings (captured_at)`,
		`create table if not exists app_state (
			key        text primary key,
			value_json jsonb not null,
			updated_at timestamptz not null default now()
		)`,
		`create table if not exists vendor_sessions (
			provider   text primary key,
			token_enc  text not null,
			subject_id text not null,
			patient_id text not null default '',
			expires_at timestamptz,
			updated_at timestamptz not null default now()
		)`,
		`create table if not exists events (
			id         uuid primary key,
			event_type text not null,
			payload    jsonb,
			created_at timestamptz not null
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) UpsertReading(r domain.Reading) error {
	_, err := s.db.Exec(
		`insert into readings(device_timestamp, captured_at, sgv, direction, kind, raw)
		 values ($1, $2, $3, $4, $5, $6::jsonb)
		 on conflict (device_timestamp) do update
		 set captured_at = excluded.captured_at,
		     sgv = excluded.sgv,
		     direction = excluded.direction,
		     kind = excluded.kind,
		     raw = excluded.raw`,
		r.DeviceTimestamp.UTC(), r.CapturedAt.UTC(), r.SGV, string(r.Direction), r.Kind, nullableRaw(r.Raw),
	)
	if err != nil {
		return fmt.Errorf("upsert reading: %w", err)
	}
	return nil
}

func (s *Store) UpsertLatest(r domain.Reading) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal latest reading: %w", err)
	}
	_, err = s.db.Exec(
		`insert into app_state(key, value_json, updated_at)
		 values ('latest_reading', $1::jsonb, now())
		 on conflict (key) do update
		 set value_json = excluded.value_json, updated_at = now()`,
		string(raw),
	)
	if err != nil {
		return fmt.Errorf("upsert latest reading: %w", err)
	}
	return nil
}

func (s *Store) Latest() (domain.Reading, error) {
	var raw []byte
	err := s.db.QueryRow(`select value_json from app_state where key = 'latest_reading'`).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Reading{}, storepkg.ErrNotFound
		}
		return domain.Reading{}, fmt.Errorf("load latest reading: %w", err)
	}
	var r domain.Reading
	if err := json.Unmarshal(raw, &r); err != nil {
		return domain.Reading{}, fmt.Errorf("decode latest reading: %w", err)
	}
	return r, nil
}

func (s *Store) ReadingsSince(since time.Time) ([]domain.Reading, error) {
	rows, err := s.db.Query(
		`select device_timestamp, captured_at, sgv, direction, kind, coalesce(raw, 'null'::jsonb)
		 from readings
		 where device_timestamp >= $1
		 order by device_timestamp asc`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Reading, 0, 64)
	for rows.Next() {
		var r domain.Reading
		var direction string
		var raw []byte
		if err := rows.Scan(&r.DeviceTimestamp, &r.CapturedAt, &r.SGV, &direction, &r.Kind, &raw); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		r.Direction = domain.Direction(direction)
		if string(raw) != "null" {
			r.Raw = raw
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) SaveVendorSession(v domain.VendorSession) error {
	if s.box == nil {
		return nil
	}
	tokenEnc, err := s.box.Seal(v.Token)
	if err != nil {
		return fmt.Errorf("encrypt vendor token: %w", err)
	}
	_, err = s.db.Exec(
		`insert into vendor_sessions(provider, token_enc, subject_id, patient_id, expires_at, updated_at)
		 values ('librelinkup', $1, $2, $3, $4, now())
		 on conflict (provider) do update
		 set token_enc = excluded.token_enc,
		     subject_id = excluded.subject_id,
		     patient_id = excluded.patient_id,
		     expires_at = excluded.expires_at,
		     updated_at = now()`,
		tokenEnc, v.SubjectID, v.PatientID, nullableTime(v.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("save vendor session: %w", err)
	}
	return nil
}

func (s *Store) LoadVendorSession() (domain.VendorSession, error) {
	if s.box == nil {
		return domain.VendorSession{}, storepkg.ErrNotFound
	}
	var v domain.VendorSession
	var tokenEnc string
	var expiresAt sql.NullTime
	err := s.db.QueryRow(
		`select token_enc, subject_id, patient_id, expires_at, updated_at
		 from vendor_sessions where provider = 'librelinkup'`,
	).Scan(&tokenEnc, &v.SubjectID, &v.PatientID, &expiresAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.VendorSession{}, storepkg.ErrNotFound
		}
		return domain.VendorSession{}, fmt.Errorf("load vendor session: %w", err)
	}
	token, err := s.box.Open(tokenEnc)
	if err != nil {
		// A key rotation leaves an undecryptable row behind; treat it as
		// absent so the next login overwrites it.
		log.Warn().Err(err).Msg("stored vendor token undecryptable, ignoring persisted session")
		return domain.VendorSession{}, storepkg.ErrNotFound
	}
	v.Token = token
	if expiresAt.Valid {
		v.ExpiresAt = expiresAt.Time.UTC()
	}
	return v, nil
}

func (s *Store) ClearVendorSession() error {
	if _, err := s.db.Exec(`delete from vendor_sessions where provider = 'librelinkup'`); err != nil {
		return fmt.Errorf("clear vendor session: %w", err)
	}
	return nil
}

func (s *Store) AppendEvent(eventType domain.EventType, payload map[string]interface{}) domain.Event {
	event := domain.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	raw, _ := json.Marshal(payload)
	if _, err := s.db.Exec(
		`insert into events(id, event_type, payload, created_at)
		 values ($1, $2, $3::jsonb, $4)`,
		event.ID, string(eventType), string(raw), event.CreatedAt,
	); err != nil {
		log.Warn().Err(err).Msg("append event failed")
	}
	return event
}

func (s *Store) ListEvents(limit int) []domain.Event {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`select id, event_type, payload, created_at
		 from events order by created_at desc limit $1`,
		limit,
	)
	if err != nil {
		log.Warn().Err(err).Msg("list events failed")
		return []domain.Event{}
	}
	defer rows.Close()

	out := make([]domain.Event, 0, limit)
	for rows.Next() {
		var e domain.Event
		var eventType string
		var payloadRaw []byte
		if err := rows.Scan(&e.ID, &eventType, &payloadRaw, &e.CreatedAt); err != nil {
			continue
		}
		e.Type = domain.EventType(eventType)
		_ = json.Unmarshal(payloadRaw, &e.Payload)
		if e.Payload == nil {
			e.Payload = map[string]interface{}{}
		}
		out = append(out, e)
	}
	return out
}

func nullableRaw(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
