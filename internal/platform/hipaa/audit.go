package hipaa

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ReleaseOutcome classifies a release decision.
type ReleaseOutcome string

const (
	OutcomeReleased ReleaseOutcome = "released"
	OutcomeDenied   ReleaseOutcome = "denied"
	// OutcomeFailed means processing stopped before a decision, for example
	// because the recognizer was unavailable.
	OutcomeFailed ReleaseOutcome = "failed"
)

// ReleaseEvent records one release decision. It carries verdicts and counts
// only; document text and PHI values are never part of an event.
type ReleaseEvent struct {
	ID                uuid.UUID      `json:"id"`
	Subject           string         `json:"subject"`
	RequestID         string         `json:"request_id,omitempty"`
	Outcome           ReleaseOutcome `json:"outcome"`
	NameMatch         bool           `json:"name_match"`
	EmailMatch        bool           `json:"email_match"`
	PhoneMatch        bool           `json:"phone_match"`
	DateOfBirthMatch  bool           `json:"date_of_birth_match"`
	GovernmentIDMatch bool           `json:"government_id_match"`
	Policy            string         `json:"policy,omitempty"`
	Counts            map[string]int `json:"counts,omitempty"`
	Detections        map[string]int `json:"detections,omitempty"`
	Units             int            `json:"units"`
	Reason            string         `json:"reason,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// Released reports whether the event authorized release.
func (e *ReleaseEvent) Released() bool { return e.Outcome == OutcomeReleased }

func (e *ReleaseEvent) stamp() {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
}

func (e *ReleaseEvent) countsJSON() ([]byte, []byte, error) {
	counts, err := json.Marshal(nonNil(e.Counts))
	if err != nil {
		return nil, nil, err
	}
	detections, err := json.Marshal(nonNil(e.Detections))
	if err != nil {
		return nil, nil, err
	}
	return counts, detections, nil
}

func nonNil(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}

// AuditSink persists release events.
type AuditSink interface {
	RecordRelease(ctx context.Context, event *ReleaseEvent) error
}

// ReleaseLister reads back a subject's release history.
type ReleaseLister interface {
	ListReleases(ctx context.Context, subject string, limit int) ([]*ReleaseEvent, error)
}

// LogAuditSink writes release events to a zerolog logger.
type LogAuditSink struct {
	logger zerolog.Logger
}

// NewLogAuditSink creates a sink that logs under the "release-audit" component.
func NewLogAuditSink(logger zerolog.Logger) *LogAuditSink {
	return &LogAuditSink{logger: logger.With().Str("component", "release-audit").Logger()}
}

func (s *LogAuditSink) RecordRelease(_ context.Context, event *ReleaseEvent) error {
	event.stamp()
	var ev *zerolog.Event
	switch event.Outcome {
	case OutcomeReleased:
		ev = s.logger.Info()
	case OutcomeDenied:
		ev = s.logger.Warn()
	default:
		ev = s.logger.Error()
	}

	counts := zerolog.Dict()
	for k, v := range event.Counts {
		counts.Int(k, v)
	}
	ev.Str("release_id", event.ID.String()).
		Str("subject", event.Subject).
		Str("request_id", event.RequestID).
		Str("outcome", string(event.Outcome)).
		Str("policy", event.Policy).
		Bool("name_match", event.NameMatch).
		Bool("email_match", event.EmailMatch).
		Bool("phone_match", event.PhoneMatch).
		Bool("date_of_birth_match", event.DateOfBirthMatch).
		Bool("government_id_match", event.GovernmentIDMatch).
		Int("units", event.Units).
		Dict("counts", counts)
	if event.Reason != "" {
		ev.Str("reason", event.Reason)
	}
	ev.Msg("release decision")
	return nil
}

const insertReleasePG = `
	INSERT INTO release_audit (
		id, subject, request_id, outcome,
		name_match, email_match, phone_match, date_of_birth_match, government_id_match,
		policy, counts, detections, units, reason, created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`

// PGAuditSink writes release events to the release_audit table in Postgres.
type PGAuditSink struct {
	pool *pgxpool.Pool
}

// NewPGAuditSink creates a sink backed by the given connection pool.
func NewPGAuditSink(pool *pgxpool.Pool) *PGAuditSink {
	return &PGAuditSink{pool: pool}
}

func (s *PGAuditSink) RecordRelease(ctx context.Context, event *ReleaseEvent) error {
	event.stamp()
	counts, detections, err := event.countsJSON()
	if err != nil {
		return fmt.Errorf("release audit: encode counts: %w", err)
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("release audit: acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, insertReleasePG,
		event.ID, event.Subject, event.RequestID, string(event.Outcome),
		event.NameMatch, event.EmailMatch, event.PhoneMatch, event.DateOfBirthMatch, event.GovernmentIDMatch,
		event.Policy, counts, detections, event.Units, event.Reason, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("release audit: insert: %w", err)
	}
	return nil
}

// ListReleases returns the most recent events for subject, newest first.
func (s *PGAuditSink) ListReleases(ctx context.Context, subject string, limit int) ([]*ReleaseEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, subject, request_id, outcome,
			name_match, email_match, phone_match, date_of_birth_match, government_id_match,
			policy, counts, detections, units, reason, created_at
		FROM release_audit WHERE subject = $1 ORDER BY created_at DESC LIMIT $2`, subject, limit)
	if err != nil {
		return nil, fmt.Errorf("release audit: list: %w", err)
	}
	defer rows.Close()

	var out []*ReleaseEvent
	for rows.Next() {
		var (
			e       ReleaseEvent
			outcome string
		)
		if err := rows.Scan(&e.ID, &e.Subject, &e.RequestID, &outcome,
			&e.NameMatch, &e.EmailMatch, &e.PhoneMatch, &e.DateOfBirthMatch, &e.GovernmentIDMatch,
			&e.Policy, &e.Counts, &e.Detections, &e.Units, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("release audit: scan: %w", err)
		}
		e.Outcome = ReleaseOutcome(outcome)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// PurgeReleases deletes events recorded before the cutoff.
func (s *PGAuditSink) PurgeReleases(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM release_audit WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("release audit: purge: %w", err)
	}
	return tag.RowsAffected(), nil
}

const insertReleaseSQL = `
	INSERT INTO release_audit (
		id, subject, request_id, outcome,
		name_match, email_match, phone_match, date_of_birth_match, government_id_match,
		policy, counts, detections, units, reason, created_at
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`

// sqlTimeLayout is fixed width so stored timestamps sort as text.
const sqlTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLAuditSink writes release events through database/sql. It backs the
// embedded SQLite store.
type SQLAuditSink struct {
	db *sql.DB
}

// NewSQLAuditSink creates a sink backed by db.
func NewSQLAuditSink(db *sql.DB) *SQLAuditSink {
	return &SQLAuditSink{db: db}
}

func (s *SQLAuditSink) RecordRelease(ctx context.Context, event *ReleaseEvent) error {
	event.stamp()
	counts, detections, err := event.countsJSON()
	if err != nil {
		return fmt.Errorf("release audit: encode counts: %w", err)
	}
	_, err = s.db.ExecContext(ctx, insertReleaseSQL,
		event.ID.String(), event.Subject, event.RequestID, string(event.Outcome),
		event.NameMatch, event.EmailMatch, event.PhoneMatch, event.DateOfBirthMatch, event.GovernmentIDMatch,
		event.Policy, string(counts), string(detections), event.Units, event.Reason,
		event.CreatedAt.UTC().Format(sqlTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("release audit: insert: %w", err)
	}
	return nil
}

// ListReleases returns the most recent events for subject, newest first.
func (s *SQLAuditSink) ListReleases(ctx context.Context, subject string, limit int) ([]*ReleaseEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject, request_id, outcome,
			name_match, email_match, phone_match, date_of_birth_match, government_id_match,
			policy, counts, detections, units, reason, created_at
		FROM release_audit WHERE subject = ? ORDER BY created_at DESC LIMIT ?`, subject, limit)
	if err != nil {
		return nil, fmt.Errorf("release audit: list: %w", err)
	}
	defer rows.Close()

	var out []*ReleaseEvent
	for rows.Next() {
		var (
			e                  ReleaseEvent
			id, outcome, ts    string
			counts, detections string
		)
		if err := rows.Scan(&id, &e.Subject, &e.RequestID, &outcome,
			&e.NameMatch, &e.EmailMatch, &e.PhoneMatch, &e.DateOfBirthMatch, &e.GovernmentIDMatch,
			&e.Policy, &counts, &detections, &e.Units, &e.Reason, &ts); err != nil {
			return nil, fmt.Errorf("release audit: scan: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("release audit: id: %w", err)
		}
		if e.CreatedAt, err = time.Parse(sqlTimeLayout, ts); err != nil {
			return nil, fmt.Errorf("release audit: created_at: %w", err)
		}
		e.Outcome = ReleaseOutcome(outcome)
		if err := json.Unmarshal([]byte(counts), &e.Counts); err != nil {
			return nil, fmt.Errorf("release audit: counts: %w", err)
		}
		if err := json.Unmarshal([]byte(detections), &e.Detections); err != nil {
			return nil, fmt.Errorf("release audit: detections: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// PurgeReleases deletes events recorded before the cutoff.
func (s *SQLAuditSink) PurgeReleases(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM release_audit WHERE created_at < ?`,
		before.UTC().Format(sqlTimeLayout))
	if err != nil {
		return 0, fmt.Errorf("release audit: purge: %w", err)
	}
	return res.RowsAffected()
}

// MultiAuditSink fans an event out to several sinks. Every sink is tried;
// failures are joined.
type MultiAuditSink []AuditSink

func (m MultiAuditSink) RecordRelease(ctx context.Context, event *ReleaseEvent) error {
	event.stamp()
	var errs []error
	for _, s := range m {
		if err := s.RecordRelease(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
