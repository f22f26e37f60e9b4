package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"studytrack-backend/internal/duration"
	"studytrack-backend/internal/models"
)

// IdentityLookup resolves a user id to its identity record. Satisfied by
// repository.UserRepo.
type IdentityLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// PauseView is a closed pause interval with its duration formatted for
// display.
type PauseView struct {
	PausedAt  time.Time `json:"paused_at"`
	ResumedAt time.Time `json:"resumed_at"`
	Duration  string    `json:"duration"`
}

// SessionView is a closed session formatted for the session log.
type SessionView struct {
	ID           uuid.UUID   `json:"id"`
	Status       string      `json:"status"`
	StartTime    time.Time   `json:"start_time"`
	StopTime     *time.Time  `json:"stop_time,omitempty"`
	TotalStudyMs int64       `json:"total_study_ms"`
	TotalStudy   string      `json:"total_study"`
	Pauses       []PauseView `json:"pauses,omitempty"`
}

// UserGroup is one user's block in the admin view: display identity, count,
// the open session if any, and the closed-session log.
type UserGroup struct {
	UserID       uuid.UUID       `json:"user_id"`
	DisplayName  string          `json:"display_name"`
	SessionCount int             `json:"session_count"`
	Open         *models.Session `json:"open_session,omitempty"`
	Closed       []SessionView   `json:"closed_sessions"`
}

// Aggregator groups an all-users snapshot by owner and folds in display
// names. Names are resolved lazily and cached for the aggregator's lifetime;
// a resolved id is never fetched again, and a missing identity record falls
// back to the raw id.
type Aggregator struct {
	identity IdentityLookup

	mu    sync.Mutex
	names map[uuid.UUID]string
}

func NewAggregator(identity IdentityLookup) *Aggregator {
	return &Aggregator{
		identity: identity,
		names:    make(map[uuid.UUID]string),
	}
}

// Group partitions the snapshot's sessions by user, preserving each group's
// internal feed order. Users appear in order of their most recent session.
func (a *Aggregator) Group(ctx context.Context, snap Snapshot) []UserGroup {
	order := make([]uuid.UUID, 0)
	byUser := make(map[uuid.UUID]*UserGroup)

	for _, s := range snap.Sessions {
		group, ok := byUser[s.UserID]
		if !ok {
			group = &UserGroup{
				UserID:      s.UserID,
				DisplayName: a.displayName(ctx, s.UserID),
				Closed:      make([]SessionView, 0),
			}
			byUser[s.UserID] = group
			order = append(order, s.UserID)
		}

		group.SessionCount++
		if s.Open() {
			open := s
			group.Open = &open
		} else {
			group.Closed = append(group.Closed, NewSessionView(s))
		}
	}

	groups := make([]UserGroup, 0, len(order))
	for _, userID := range order {
		groups = append(groups, *byUser[userID])
	}
	return groups
}

func (a *Aggregator) displayName(ctx context.Context, userID uuid.UUID) string {
	a.mu.Lock()
	name, ok := a.names[userID]
	a.mu.Unlock()
	if ok {
		return name
	}

	user, err := a.identity.GetByID(ctx, userID)
	switch {
	case err == nil:
		name = userID.String()
		if user.Name != "" {
			name = user.Name
		} else if user.Email != "" {
			name = user.Email
		}
	case errors.Is(err, pgx.ErrNoRows):
		// No identity record exists; the raw id is the permanent fallback.
		name = userID.String()
	default:
		// Transient lookup failure. Fall back for this snapshot only, so the
		// name resolves once the store recovers.
		return userID.String()
	}

	a.mu.Lock()
	a.names[userID] = name
	a.mu.Unlock()
	return name
}

// NewSessionView formats a closed session for display.
func NewSessionView(s models.Session) SessionView {
	view := SessionView{
		ID:        s.ID,
		Status:    s.Status,
		StartTime: s.StartTime,
		StopTime:  s.StopTime,
	}
	if s.TotalStudyMs != nil {
		view.TotalStudyMs = *s.TotalStudyMs
	}
	view.TotalStudy = duration.Format(view.TotalStudyMs)

	for _, p := range s.Pauses {
		view.Pauses = append(view.Pauses, PauseView{
			PausedAt:  p.PausedAt,
			ResumedAt: p.ResumedAt,
			Duration:  duration.Format(p.DurationMs),
		})
	}
	return view
}
