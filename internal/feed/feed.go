// Package feed reconstructs session state for consumers from the store and
// its Redis change channel. Consumers receive immutable snapshots re-derived
// from the store on every delivery; nothing presented ever comes from a
// locally mutated copy, so a missed or reordered event only delays
// convergence, never corrupts it.
package feed

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"studytrack-backend/internal/models"
	"studytrack-backend/internal/services"
	"studytrack-backend/internal/session"
)

// Scope selects whose sessions a subscription observes: a single user, or
// every user (admin views).
type Scope struct {
	UserID uuid.UUID
	All    bool
}

// Snapshot is one consistent view of the scope's sessions, ordered by start
// time descending as delivered by the store.
type Snapshot struct {
	Sessions []models.Session // full scope in feed order
	Open     []models.Session // status active/paused; at most one per user
	Closed   []models.Session // stopped/auto-stopped, newest first
	At       time.Time
}

// OpenFor returns the user's open session in this snapshot, or nil.
func (s Snapshot) OpenFor(userID uuid.UUID) *models.Session {
	for i := range s.Open {
		if s.Open[i].UserID == userID {
			return &s.Open[i]
		}
	}
	return nil
}

// SessionLister is the store view snapshots are read from. Satisfied by
// repository.SessionRepo.
type SessionLister interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Session, error)
	ListAll(ctx context.Context) ([]models.Session, error)
}

// AutoStopIssuer commits the auto-stop transition against the store.
// Satisfied by services.SessionService.
type AutoStopIssuer interface {
	AutoStop(ctx context.Context, sessionID uuid.UUID) (*models.Session, error)
}

type Feed struct {
	sessions SessionLister
	svc      AutoStopIssuer
	redis    *redis.Client
	limit    time.Duration
	now      func() time.Time
}

func New(sessions SessionLister, svc AutoStopIssuer, redisClient *redis.Client, limit time.Duration) *Feed {
	return &Feed{
		sessions: sessions,
		svc:      svc,
		redis:    redisClient,
		limit:    limit,
		now:      time.Now,
	}
}

// Subscribe delivers an initial snapshot and then a fresh snapshot after
// every change event on the scope's channel, until ctx is cancelled. Delivery
// coalesces: if the consumer lags, intermediate snapshots are replaced by the
// latest one.
func (f *Feed) Subscribe(ctx context.Context, scope Scope) <-chan Snapshot {
	channel := services.FeedChannelAll
	if !scope.All {
		channel = services.FeedChannelUser(scope.UserID)
	}
	pubsub := f.redis.Subscribe(ctx, channel)
	out := make(chan Snapshot, 1)

	go func() {
		defer close(out)
		defer pubsub.Close()

		f.deliver(ctx, scope, out)

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				f.deliver(ctx, scope, out)
			}
		}
	}()

	return out
}

func (f *Feed) deliver(ctx context.Context, scope Scope, out chan Snapshot) {
	snap, err := f.BuildSnapshot(ctx, scope)
	if err != nil {
		log.Printf("session feed: failed to build snapshot: %v", err)
		return
	}
	select {
	case out <- snap:
	default:
		// Replace the undelivered snapshot with the newer one.
		select {
		case <-out:
		default:
		}
		select {
		case out <- snap:
		case <-ctx.Done():
		}
	}
}

// BuildSnapshot re-reads the scope from the store, partitions open from
// closed, and evaluates the auto-stop condition for each open session. An
// overdue session is auto-stopped and presented as closed in the same cycle.
func (f *Feed) BuildSnapshot(ctx context.Context, scope Scope) (Snapshot, error) {
	var all []models.Session
	var err error
	if scope.All {
		all, err = f.sessions.ListAll(ctx)
	} else {
		all, err = f.sessions.ListByUser(ctx, scope.UserID)
	}
	if err != nil {
		return Snapshot{}, err
	}

	now := f.now()
	snap := Snapshot{At: now, Sessions: make([]models.Session, 0, len(all))}
	for _, s := range all {
		if s.Open() && session.AutoStopDue(s, now, f.limit) {
			stopped, ok := f.autoStop(ctx, s, now)
			if !ok {
				// The transition did not commit; leave the session out of
				// this cycle and let the next delivery pick up the stored
				// state. Presenting it as open would restart clients'
				// clocks, presenting it as closed would invent totals that
				// were never written.
				continue
			}
			s = stopped
		}
		snap.Sessions = append(snap.Sessions, s)
		if s.Open() {
			snap.Open = append(snap.Open, s)
		} else {
			snap.Closed = append(snap.Closed, s)
		}
	}
	return snap, nil
}

func (f *Feed) autoStop(ctx context.Context, s models.Session, now time.Time) (models.Session, bool) {
	stopped, err := f.svc.AutoStop(ctx, s.ID)
	if err != nil {
		log.Printf("session feed: auto-stop of %s failed: %v", s.ID, err)
		return s, false
	}
	if stopped != nil {
		return *stopped, true
	}
	// A nil, nil result means another actor committed the auto-stop first;
	// derive the closed record locally so this cycle still presents it as
	// closed.
	forced, ferr := session.AutoStop(s, now)
	if ferr != nil {
		return s, false
	}
	return forced, true
}
