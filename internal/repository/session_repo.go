package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"studytrack-backend/internal/models"
)

// ErrOpenSessionExists means the at-most-one-open-session rule rejected a
// start. Backed by the partial unique index on sessions(user_id).
var ErrOpenSessionExists = errors.New("user already has an open session")

const sessionColumns = `id, user_id, status, start_time, stop_time, pauses, current_pause_start, total_paused_ms, total_study_ms, created_at`

type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

func (r *SessionRepo) Create(ctx context.Context, s *models.Session) error {
	pausesJSON, err := json.Marshal(s.Pauses)
	if err != nil {
		return fmt.Errorf("failed to encode pauses: %w", err)
	}

	err = r.pool.QueryRow(ctx, `
		INSERT INTO sessions (id, user_id, status, start_time, pauses, total_paused_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, s.ID, s.UserID, s.Status, s.StartTime, pausesJSON, s.TotalPausedMs).Scan(&s.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrOpenSessionExists
		}
		return err
	}
	return nil
}

func (r *SessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

// ApplyTransition persists an already-computed state transition with a
// conditional update: the write only lands if the stored row still matches
// the status (and, for resume, the open pause start) the transition was
// computed from. Returns false when the guard failed, i.e. a concurrent
// client committed first.
func (r *SessionRepo) ApplyTransition(ctx context.Context, s *models.Session, fromStatus string, fromPauseStart *time.Time) (bool, error) {
	pausesJSON, err := json.Marshal(s.Pauses)
	if err != nil {
		return false, fmt.Errorf("failed to encode pauses: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions
		SET status = $1,
			stop_time = $2,
			pauses = $3,
			current_pause_start = $4,
			total_paused_ms = $5,
			total_study_ms = $6
		WHERE id = $7
		  AND status = $8
		  AND current_pause_start IS NOT DISTINCT FROM $9
	`, s.Status, s.StopTime, pausesJSON, s.CurrentPauseStart, s.TotalPausedMs, s.TotalStudyMs,
		s.ID, fromStatus, fromPauseStart)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *SessionRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE user_id = $1
		ORDER BY start_time DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (r *SessionRepo) ListAll(ctx context.Context) ([]models.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		ORDER BY start_time DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

// ListOpenStartedBefore returns open sessions anchored at or before cutoff.
// Used by the auto-stop sweeper.
func (r *SessionRepo) ListOpenStartedBefore(ctx context.Context, cutoff time.Time) ([]models.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE status IN ('active', 'paused')
		  AND start_time <= $1
		ORDER BY start_time ASC
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

// DeleteByUser removes every session owned by userID. Run before deleting
// the identity record so the cascade ordering is observable.
func (r *SessionRepo) DeleteByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanSession(row pgx.Row) (*models.Session, error) {
	s := &models.Session{}
	var pausesJSON []byte
	var stopTime, currentPauseStart pgtype.Timestamptz
	var totalStudyMs pgtype.Int8

	err := row.Scan(
		&s.ID, &s.UserID, &s.Status, &s.StartTime, &stopTime, &pausesJSON,
		&currentPauseStart, &s.TotalPausedMs, &totalStudyMs, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if stopTime.Valid {
		t := stopTime.Time
		s.StopTime = &t
	}
	if currentPauseStart.Valid {
		t := currentPauseStart.Time
		s.CurrentPauseStart = &t
	}
	if totalStudyMs.Valid {
		v := totalStudyMs.Int64
		s.TotalStudyMs = &v
	}

	s.Pauses = []models.Pause{}
	if len(pausesJSON) > 0 {
		if err := json.Unmarshal(pausesJSON, &s.Pauses); err != nil {
			return nil, fmt.Errorf("failed to decode pauses: %w", err)
		}
	}
	return s, nil
}

func collectSessions(rows pgx.Rows) ([]models.Session, error) {
	sessions := make([]models.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}
