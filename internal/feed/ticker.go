package feed

import (
	"context"
	"time"

	"github.com/google/uuid"

	"studytrack-backend/internal/duration"
	"studytrack-backend/internal/models"
	"studytrack-backend/internal/session"
)

// Tick is one second of the display clock for an active session.
type Tick struct {
	SessionID uuid.UUID `json:"session_id"`
	ElapsedMs int64     `json:"elapsed_ms"`
	Display   string    `json:"display"`
}

// RunTicker emits a Tick every second for an active session until ctx is
// cancelled. Each tick is re-derived from the anchor timestamp and the paused
// total, never incremented, so a stalled consumer self-corrects on the next
// tick.
func RunTicker(ctx context.Context, sess models.Session, out chan<- Tick) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			elapsed := session.ActiveElapsed(sess, now)
			tick := Tick{
				SessionID: sess.ID,
				ElapsedMs: elapsed,
				Display:   duration.Clock(elapsed),
			}
			select {
			case out <- tick:
			case <-ctx.Done():
				return
			}
		}
	}
}
