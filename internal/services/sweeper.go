package services

import (
	"context"
	"log"
	"time"

	"studytrack-backend/internal/repository"
)

// AutoStopSweeper is the server-side safety net for abandoned sessions:
// connected feeds auto-stop overdue sessions as they observe them, but a
// session left open with no client connected would otherwise run forever.
type AutoStopSweeper struct {
	sessions *repository.SessionRepo
	svc      *SessionService
	limit    time.Duration
	interval time.Duration
	stopChan chan struct{}
}

func NewAutoStopSweeper(sessions *repository.SessionRepo, svc *SessionService, limit, interval time.Duration) *AutoStopSweeper {
	return &AutoStopSweeper{
		sessions: sessions,
		svc:      svc,
		limit:    limit,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

func (s *AutoStopSweeper) Start() {
	go s.loop()
	log.Printf("Auto-stop sweeper started (limit %s, every %s)", s.limit, s.interval)
}

func (s *AutoStopSweeper) Stop() {
	select {
	case <-s.stopChan:
		return
	default:
		close(s.stopChan)
	}
}

func (s *AutoStopSweeper) loop() {
	// Run on startup as well as by interval.
	s.sweep(context.Background(), time.Now())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sweep(context.Background(), time.Now())
		}
	}
}

func (s *AutoStopSweeper) sweep(ctx context.Context, now time.Time) {
	overdue, err := s.sessions.ListOpenStartedBefore(ctx, now.Add(-s.limit))
	if err != nil {
		log.Printf("auto-stop sweep: failed to list open sessions: %v", err)
		return
	}

	for _, sess := range overdue {
		if _, err := s.svc.AutoStop(ctx, sess.ID); err != nil {
			log.Printf("auto-stop sweep: failed to stop session %s: %v", sess.ID, err)
		}
	}
}
