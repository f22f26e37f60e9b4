// Package session implements the study-session lifecycle: a session is
// created active, moves between active and paused, and ends exactly once in
// stopped or auto-stopped. Every transition is a pure function of
// (session, now) so the persistence layer can replay it against a guarded
// conditional update.
package session

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"studytrack-backend/internal/duration"
	"studytrack-backend/internal/models"
)

// AutoStopLimit is how long a session may stay open before the system
// force-stops it.
const AutoStopLimit = 10 * time.Hour

// ErrInvalidTransition is returned when a command's precondition does not
// hold (pause on a non-active session, resume on a non-paused one, and so
// on). Callers treat it as "command ignored".
var ErrInvalidTransition = errors.New("invalid session transition")

// Start creates a new active session anchored at now. The at-most-one open
// session rule is enforced by the store, not here.
func Start(userID uuid.UUID, now time.Time) models.Session {
	return models.Session{
		ID:            uuid.New(),
		UserID:        userID,
		Status:        models.StatusActive,
		StartTime:     now,
		Pauses:        []models.Pause{},
		TotalPausedMs: 0,
	}
}

// Pause opens a pause interval. Precondition: status is active.
func Pause(s models.Session, now time.Time) (models.Session, error) {
	if s.Status != models.StatusActive {
		return s, ErrInvalidTransition
	}
	pausedAt := now
	s.Status = models.StatusPaused
	s.CurrentPauseStart = &pausedAt
	return s, nil
}

// Resume closes the open pause interval: appends exactly one Pause record,
// adds its duration to the running total and clears the open-pause marker.
// Precondition: status is paused with an open pause start.
func Resume(s models.Session, now time.Time) (models.Session, error) {
	if s.Status != models.StatusPaused || s.CurrentPauseStart == nil {
		return s, ErrInvalidTransition
	}
	pausedAt := *s.CurrentPauseStart
	durationMs := duration.ElapsedSince(pausedAt, now)

	pauses := make([]models.Pause, len(s.Pauses), len(s.Pauses)+1)
	copy(pauses, s.Pauses)
	s.Pauses = append(pauses, models.Pause{
		PausedAt:   pausedAt,
		ResumedAt:  now,
		DurationMs: durationMs,
	})
	s.TotalPausedMs += durationMs
	s.CurrentPauseStart = nil
	s.Status = models.StatusActive
	return s, nil
}

// Stop closes the session and fixes totalStudyMs. Precondition: the session
// is open. A pause that is still open at stop time is not subtracted; only
// pause time accumulated at resume counts. That matches the original
// accounting even though it over-counts the trailing pause as study time.
func Stop(s models.Session, now time.Time) (models.Session, error) {
	return finish(s, now, models.StatusStopped)
}

// AutoStop is the system-triggered variant of Stop. It only differs in the
// terminal status. Idempotent at the caller: once the session is closed the
// precondition no longer holds.
func AutoStop(s models.Session, now time.Time) (models.Session, error) {
	return finish(s, now, models.StatusAutoStopped)
}

func finish(s models.Session, now time.Time, status string) (models.Session, error) {
	if !s.Open() {
		return s, ErrInvalidTransition
	}
	stopTime := now
	total := duration.Active(s.StartTime, stopTime, s.TotalPausedMs)
	s.Status = status
	s.StopTime = &stopTime
	s.TotalStudyMs = &total
	return s, nil
}

// AutoStopDue reports whether an open session has exceeded the limit.
// Always false for closed sessions, so repeated evaluation cannot re-fire.
func AutoStopDue(s models.Session, now time.Time, limit time.Duration) bool {
	if !s.Open() {
		return false
	}
	return duration.ElapsedSince(s.StartTime, now) >= limit.Milliseconds()
}

// ActiveElapsed derives the ticking display value for an open session:
// wall-clock time since the anchor minus accumulated pause time, clamped at
// zero. Recomputed from absolute timestamps on every call so missed ticks
// self-correct.
func ActiveElapsed(s models.Session, now time.Time) int64 {
	ms := duration.ElapsedSince(s.StartTime, now) - s.TotalPausedMs
	if ms < 0 {
		return 0
	}
	return ms
}
