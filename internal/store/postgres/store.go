// Package postgres is a safety.Store on PostgreSQL. Trigger admission runs
// in one transaction under a per-user advisory lock.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/gyaneshwarpardhi/safewatch/internal/geo"
	"github.com/gyaneshwarpardhi/safewatch/internal/safety"
)

//go:embed schema.sql
var schema string

const (
	eventColumns = `id, user_id, trigger_mode, status, priority, confidence_score, escalation_level,
		lat, lng, description, officer_id, acknowledged_at, responded_at, verified_at,
		resolution_notes, created_at, updated_at, resolved_at`

	activeClause = `status NOT IN ('resolved', 'false_alarm')`

	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Store implements safety.Store.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

func New(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

var _ safety.Store = (*Store)(nil)

// Open connects with the lib/pq driver and pings the server.
func Open(dsn string, maxOpen, maxIdle int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) CreateEvent(ctx context.Context, ev *safety.Event, first *safety.EscalationRecord, limit safety.RateLimit, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ev.UserID); err != nil {
		return fmt.Errorf("lock user: %w", err)
	}

	var recent int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sos_events WHERE user_id = $1 AND created_at > $2`,
		ev.UserID, now.Add(-limit.Window),
	).Scan(&recent); err != nil {
		return fmt.Errorf("count recent events: %w", err)
	}
	if limit.Max > 0 && recent >= limit.Max {
		return safety.ErrRateLimitExceeded
	}

	var active bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM sos_events WHERE user_id = $1 AND `+activeClause+`)`,
		ev.UserID,
	).Scan(&active); err != nil {
		return fmt.Errorf("check active event: %w", err)
	}
	if active {
		return safety.ErrConflictingActiveEvent
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO sos_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		ev.ID, ev.UserID, string(ev.TriggerMode), string(ev.Status), ev.Priority, ev.ConfidenceScore, ev.EscalationLevel,
		ev.Location.Lat, ev.Location.Lng, ev.Description, ev.OfficerID, ev.AcknowledgedAt, ev.RespondedAt, ev.VerifiedAt,
		ev.ResolutionNotes, ev.CreatedAt, ev.UpdatedAt, ev.ResolvedAt,
	); err != nil {
		if isPQCode(err, pgUniqueViolation) {
			return safety.ErrConflictingActiveEvent
		}
		return fmt.Errorf("insert event: %w", err)
	}
	if first != nil {
		if err := insertEscalation(ctx, tx, first); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (*safety.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM sos_events WHERE id = $1`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, safety.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}
	return ev, nil
}

func (s *Store) UpdateEvent(ctx context.Context, ev *safety.Event, expect safety.Status) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sos_events
		SET status = $2, officer_id = $3, acknowledged_at = $4, responded_at = $5, verified_at = $6,
		    resolution_notes = $7, updated_at = $8, resolved_at = $9
		WHERE id = $1 AND status = $10`,
		ev.ID, string(ev.Status), ev.OfficerID, ev.AcknowledgedAt, ev.RespondedAt, ev.VerifiedAt,
		ev.ResolutionNotes, ev.UpdatedAt, ev.ResolvedAt, string(expect),
	)
	if err != nil {
		return fmt.Errorf("update event %s: %w", ev.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update event %s: %w", ev.ID, err)
	}
	if n == 0 {
		return s.missingOr(ctx, ev.ID, safety.ErrStale)
	}
	return nil
}

func (s *Store) AdvanceEscalation(ctx context.Context, rec *safety.EscalationRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE sos_events SET escalation_level = $2, updated_at = $3
		WHERE id = $1 AND escalation_level = $4 AND `+activeClause,
		rec.SOSEventID, rec.Level, rec.CreatedAt, rec.Level-1,
	)
	if err != nil {
		return fmt.Errorf("advance escalation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance escalation: %w", err)
	}
	if n == 0 {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM sos_events WHERE id = $1`, rec.SOSEventID).Scan(&status)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return safety.ErrNotFound
		case err != nil:
			return fmt.Errorf("advance escalation: %w", err)
		case safety.Status(status).Terminal():
			return safety.ErrInvalidTransition
		}
		return safety.ErrStale
	}
	if err := insertEscalation(ctx, tx, rec); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) ListEscalations(ctx context.Context, eventID string) ([]safety.EscalationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sos_event_id, level, target, status, created_at, updated_at
		FROM escalation_records WHERE sos_event_id = $1 ORDER BY level`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list escalations: %w", err)
	}
	defer rows.Close()

	out := []safety.EscalationRecord{}
	for rows.Next() {
		var r safety.EscalationRecord
		var target, status string
		if err := rows.Scan(&r.SOSEventID, &r.Level, &target, &status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}
		r.Target, r.Status = safety.Target(target), safety.DispatchStatus(status)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list escalations: %w", err)
	}
	if len(out) == 0 {
		if err := s.missingOr(ctx, eventID, nil); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) UpdateEscalationStatus(ctx context.Context, eventID string, level int, status safety.DispatchStatus, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE escalation_records SET status = $3, updated_at = $4 WHERE sos_event_id = $1 AND level = $2`,
		eventID, level, string(status), at,
	)
	if err != nil {
		return fmt.Errorf("update escalation status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return safety.ErrNotFound
	}
	return nil
}

func (s *Store) CountFalseAlarms(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sos_events WHERE user_id = $1 AND status = 'false_alarm'`, userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count false alarms: %w", err)
	}
	return n, nil
}

func (s *Store) ActiveEventForUser(ctx context.Context, userID string) (*safety.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM sos_events WHERE user_id = $1 AND `+activeClause+` LIMIT 1`, userID)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, safety.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("active event: %w", err)
	}
	return ev, nil
}

func (s *Store) ListActiveEvents(ctx context.Context) ([]*safety.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM sos_events WHERE `+activeClause+` ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list active events: %w", err)
	}
	defer rows.Close()

	var out []*safety.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) AddEvidence(ctx context.Context, rec *safety.EvidenceRecord) error {
	meta := rec.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO evidence_records (id, sos_event_id, kind, storage_ref, captured_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.SOSEventID, string(rec.Kind), rec.StorageRef, rec.CapturedAt, raw,
	)
	if isPQCode(err, pgForeignKeyViolation) {
		return safety.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("insert evidence: %w", err)
	}
	return nil
}

func (s *Store) ListEvidence(ctx context.Context, eventID string) ([]safety.EvidenceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, sos_event_id, kind, storage_ref, captured_at, metadata
		FROM evidence_records WHERE sos_event_id = $1 ORDER BY captured_at, id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}
	defer rows.Close()

	out := []safety.EvidenceRecord{}
	for rows.Next() {
		var r safety.EvidenceRecord
		var kind string
		var raw []byte
		if err := rows.Scan(&r.ID, &r.SOSEventID, &kind, &r.StorageRef, &r.CapturedAt, &raw); err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		r.Kind = safety.EvidenceKind(kind)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &r.Metadata); err != nil {
				s.logger.Warn("bad evidence metadata", zap.String("evidence_id", r.ID), zap.Error(err))
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}
	if len(out) == 0 {
		if err := s.missingOr(ctx, eventID, nil); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// missingOr returns ErrNotFound when the event does not exist, otherwise fallback.
func (s *Store) missingOr(ctx context.Context, id string, fallback error) error {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM sos_events WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check event %s: %w", id, err)
	}
	if !exists {
		return safety.ErrNotFound
	}
	return fallback
}

func insertEscalation(ctx context.Context, tx *sql.Tx, r *safety.EscalationRecord) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO escalation_records (sos_event_id, level, target, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.SOSEventID, r.Level, string(r.Target), string(r.Status), r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert escalation: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(sc scanner) (*safety.Event, error) {
	var (
		ev                     safety.Event
		mode, status           string
		lat, lng               float64
		ack, resp, ver, closed sql.NullTime
	)
	if err := sc.Scan(&ev.ID, &ev.UserID, &mode, &status, &ev.Priority, &ev.ConfidenceScore, &ev.EscalationLevel,
		&lat, &lng, &ev.Description, &ev.OfficerID, &ack, &resp, &ver,
		&ev.ResolutionNotes, &ev.CreatedAt, &ev.UpdatedAt, &closed); err != nil {
		return nil, err
	}
	ev.TriggerMode = safety.TriggerMode(mode)
	ev.Status = safety.Status(status)
	ev.Location = geo.Point{Lat: lat, Lng: lng}
	ev.AcknowledgedAt = nullTime(ack)
	ev.RespondedAt = nullTime(resp)
	ev.VerifiedAt = nullTime(ver)
	ev.ResolvedAt = nullTime(closed)
	return &ev, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func isPQCode(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}
