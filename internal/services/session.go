package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"studytrack-backend/internal/models"
	"studytrack-backend/internal/repository"
	"studytrack-backend/internal/session"
)

// Redis pub/sub channels carrying session change events. Subscribers re-read
// the store on every event; the payload is advisory.
const FeedChannelAll = "sessions:all"

func FeedChannelUser(userID uuid.UUID) string {
	return "sessions:user:" + userID.String()
}

// A lost conditional update is retried with a fresh read this many times
// before the conflict is surfaced to the caller.
const transitionMaxAttempts = 3

// SessionService applies lifecycle commands to stored sessions. Each command
// is a read, a pure transition, and a conditional update guarded by the state
// the transition was computed from, so two racing clients can never both
// commit the same transition.
type SessionService struct {
	sessions *repository.SessionRepo
	redis    *redis.Client
	now      func() time.Time
}

func NewSessionService(sessions *repository.SessionRepo, redisClient *redis.Client) *SessionService {
	return &SessionService{
		sessions: sessions,
		redis:    redisClient,
		now:      time.Now,
	}
}

// Start creates a new active session for userID. The store's partial unique
// index rejects a second open session no matter how many clients race here.
func (s *SessionService) Start(ctx context.Context, userID uuid.UUID) (*models.Session, error) {
	sess := session.Start(userID, s.now())
	if err := s.sessions.Create(ctx, &sess); err != nil {
		if errors.Is(err, repository.ErrOpenSessionExists) {
			return nil, &ConflictError{Message: "You already have an open session"}
		}
		return nil, err
	}
	s.publish(ctx, "started", &sess)
	return &sess, nil
}

func (s *SessionService) Pause(ctx context.Context, userID, sessionID uuid.UUID) (*models.Session, error) {
	return s.transition(ctx, userID, sessionID, "paused", session.Pause)
}

func (s *SessionService) Resume(ctx context.Context, userID, sessionID uuid.UUID) (*models.Session, error) {
	return s.transition(ctx, userID, sessionID, "resumed", session.Resume)
}

func (s *SessionService) Stop(ctx context.Context, userID, sessionID uuid.UUID) (*models.Session, error) {
	return s.transition(ctx, userID, sessionID, "stopped", session.Stop)
}

// AutoStop force-closes an overdue session. System-issued, so there is no
// ownership check, and an already-closed session is a quiet no-op rather than
// an error: the check may be evaluated by many feeds at once.
func (s *SessionService) AutoStop(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	stopped, err := s.transition(ctx, uuid.Nil, sessionID, "auto-stopped", session.AutoStop)
	var invalid *InvalidTransitionError
	if errors.As(err, &invalid) {
		return nil, nil
	}
	return stopped, err
}

func (s *SessionService) transition(
	ctx context.Context,
	userID, sessionID uuid.UUID,
	event string,
	apply func(models.Session, time.Time) (models.Session, error),
) (*models.Session, error) {
	for attempt := 0; attempt < transitionMaxAttempts; attempt++ {
		current, err := s.sessions.GetByID(ctx, sessionID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, &NotFoundError{Message: "Session not found"}
			}
			return nil, err
		}

		if userID != uuid.Nil && current.UserID != userID {
			return nil, &ForbiddenError{Message: "Session belongs to another user"}
		}

		next, err := apply(*current, s.now())
		if err != nil {
			if errors.Is(err, session.ErrInvalidTransition) {
				return nil, &InvalidTransitionError{
					Message: "Command ignored: session is " + current.Status,
				}
			}
			return nil, err
		}

		committed, err := s.sessions.ApplyTransition(ctx, &next, current.Status, current.CurrentPauseStart)
		if err != nil {
			return nil, err
		}
		if committed {
			s.publish(ctx, event, &next)
			return &next, nil
		}
		// Lost the race; re-read and re-validate the precondition.
	}
	return nil, &ConflictError{Message: "Session was updated by another device. Please retry."}
}

func (s *SessionService) publish(ctx context.Context, event string, sess *models.Session) {
	payload, err := json.Marshal(map[string]string{
		"type":       "session." + event,
		"session_id": sess.ID.String(),
		"user_id":    sess.UserID.String(),
	})
	if err != nil {
		return
	}
	if err := s.redis.Publish(ctx, FeedChannelUser(sess.UserID), payload).Err(); err != nil {
		log.Printf("session feed: publish failed for user %s: %v", sess.UserID, err)
	}
	s.redis.Publish(ctx, FeedChannelAll, payload)
}
