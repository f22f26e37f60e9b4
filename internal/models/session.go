package models

import (
	"time"

	"github.com/google/uuid"
)

// Session statuses. "idle" is the absence of an open session, never stored.
const (
	StatusActive      = "active"
	StatusPaused      = "paused"
	StatusStopped     = "stopped"
	StatusAutoStopped = "auto-stopped"
)

// Pause is one closed pause/resume cycle. Appended on resume only.
type Pause struct {
	PausedAt   time.Time `json:"paused_at"`
	ResumedAt  time.Time `json:"resumed_at"`
	DurationMs int64     `json:"duration_ms"`
}

type Session struct {
	ID                uuid.UUID  `json:"id"`
	UserID            uuid.UUID  `json:"user_id"`
	Status            string     `json:"status"`
	StartTime         time.Time  `json:"start_time"`
	StopTime          *time.Time `json:"stop_time,omitempty"`
	Pauses            []Pause    `json:"pauses"`
	CurrentPauseStart *time.Time `json:"current_pause_start,omitempty"`
	TotalPausedMs     int64      `json:"total_paused_ms"`
	TotalStudyMs      *int64     `json:"total_study_ms,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Open reports whether the session is still mutable (active or paused).
func (s *Session) Open() bool {
	return s.Status == StatusActive || s.Status == StatusPaused
}

// Closed reports whether the session reached a terminal record state.
func (s *Session) Closed() bool {
	return s.Status == StatusStopped || s.Status == StatusAutoStopped
}
