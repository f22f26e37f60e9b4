// Package duration holds the arithmetic for elapsed, paused and active study
// time. All values are non-negative integer milliseconds; every computation
// clamps at zero so clock skew never produces a negative duration.
package duration

import (
	"fmt"
	"time"

	"studytrack-backend/internal/models"
)

// ElapsedSince returns the milliseconds between anchor and now, clamped at zero.
func ElapsedSince(anchor, now time.Time) int64 {
	ms := now.Sub(anchor).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}

// Accumulate sums the closed pause intervals.
func Accumulate(pauses []models.Pause) int64 {
	var total int64
	for _, p := range pauses {
		total += p.DurationMs
	}
	return total
}

// Active computes stop − start − totalPausedMs, clamped at zero.
func Active(start, stop time.Time, totalPausedMs int64) int64 {
	ms := stop.Sub(start).Milliseconds() - totalPausedMs
	if ms < 0 {
		return 0
	}
	return ms
}

// Format renders a duration as "1h 45m 0s".
func Format(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	totalSeconds := ms / 1000
	h := totalSeconds / 3600
	m := (totalSeconds % 3600) / 60
	s := totalSeconds % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// Clock renders a duration as a zero-padded "01:45:00" clock face.
func Clock(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	totalSeconds := ms / 1000
	h := totalSeconds / 3600
	m := (totalSeconds % 3600) / 60
	s := totalSeconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
