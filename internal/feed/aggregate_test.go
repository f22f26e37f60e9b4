package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"studytrack-backend/internal/models"
)

type fakeIdentityLookup struct {
	users    map[uuid.UUID]*models.User
	calls    map[uuid.UUID]int
	failures map[uuid.UUID]int
}

func newFakeIdentityLookup() *fakeIdentityLookup {
	return &fakeIdentityLookup{
		users:    make(map[uuid.UUID]*models.User),
		calls:    make(map[uuid.UUID]int),
		failures: make(map[uuid.UUID]int),
	}
}

func (f *fakeIdentityLookup) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	f.calls[id]++
	if f.failures[id] > 0 {
		f.failures[id]--
		return nil, errors.New("connection reset by peer")
	}
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, pgx.ErrNoRows
}

func closedSession(userID uuid.UUID, start time.Time, studyMs int64) models.Session {
	stop := start.Add(time.Duration(studyMs) * time.Millisecond)
	return models.Session{
		ID:           uuid.New(),
		UserID:       userID,
		Status:       models.StatusStopped,
		StartTime:    start,
		StopTime:     &stop,
		Pauses:       []models.Pause{},
		TotalStudyMs: &studyMs,
	}
}

func snapshotOf(sessions ...models.Session) Snapshot {
	snap := Snapshot{Sessions: sessions, At: time.Now()}
	for _, s := range sessions {
		if s.Open() {
			snap.Open = append(snap.Open, s)
		} else {
			snap.Closed = append(snap.Closed, s)
		}
	}
	return snap
}

func TestGroupPartitionsByUser(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	alice := uuid.New()
	bob := uuid.New()

	lookup := newFakeIdentityLookup()
	lookup.users[alice] = &models.User{ID: alice, Name: "Alice", Email: "alice@example.com"}
	lookup.users[bob] = &models.User{ID: bob, Email: "bob@example.com"}

	open := models.Session{
		ID: uuid.New(), UserID: alice, Status: models.StatusActive,
		StartTime: t0.Add(3 * time.Hour), Pauses: []models.Pause{},
	}

	// Feed order: newest first.
	snap := snapshotOf(
		open,
		closedSession(bob, t0.Add(2*time.Hour), 30*60*1000),
		closedSession(alice, t0.Add(time.Hour), 60*60*1000),
		closedSession(bob, t0, 45*60*1000),
	)

	groups := NewAggregator(lookup).Group(context.Background(), snap)
	if len(groups) != 2 {
		t.Fatalf("Expected 2 groups, got %d", len(groups))
	}

	// Alice first: her open session is the newest in the feed.
	if groups[0].UserID != alice {
		t.Errorf("Expected alice first, got %s", groups[0].UserID)
	}
	if groups[0].DisplayName != "Alice" {
		t.Errorf("Expected display name Alice, got %q", groups[0].DisplayName)
	}
	if groups[0].SessionCount != 2 {
		t.Errorf("Expected alice session count 2, got %d", groups[0].SessionCount)
	}
	if groups[0].Open == nil || groups[0].Open.ID != open.ID {
		t.Error("Expected alice's open session in her group")
	}
	if len(groups[0].Closed) != 1 {
		t.Errorf("Expected 1 closed session for alice, got %d", len(groups[0].Closed))
	}

	// Bob falls back to email, keeps feed order within the group.
	if groups[1].DisplayName != "bob@example.com" {
		t.Errorf("Expected email fallback, got %q", groups[1].DisplayName)
	}
	if len(groups[1].Closed) != 2 {
		t.Fatalf("Expected 2 closed sessions for bob, got %d", len(groups[1].Closed))
	}
	if !groups[1].Closed[0].StartTime.After(groups[1].Closed[1].StartTime) {
		t.Error("Expected bob's sessions newest first")
	}
}

func TestGroupUnknownIdentityFallsBackToRawID(t *testing.T) {
	ghost := uuid.New()
	snap := snapshotOf(closedSession(ghost, time.Now().Add(-time.Hour), 1000))

	groups := NewAggregator(newFakeIdentityLookup()).Group(context.Background(), snap)
	if len(groups) != 1 {
		t.Fatalf("Expected 1 group, got %d", len(groups))
	}
	if groups[0].DisplayName != ghost.String() {
		t.Errorf("Expected raw id fallback, got %q", groups[0].DisplayName)
	}
}

func TestIdentityCacheResolvesOnce(t *testing.T) {
	alice := uuid.New()
	lookup := newFakeIdentityLookup()
	lookup.users[alice] = &models.User{ID: alice, Name: "Alice"}

	agg := NewAggregator(lookup)
	snap := snapshotOf(
		closedSession(alice, time.Now().Add(-2*time.Hour), 1000),
		closedSession(alice, time.Now().Add(-3*time.Hour), 1000),
	)

	agg.Group(context.Background(), snap)
	agg.Group(context.Background(), snap)

	if lookup.calls[alice] != 1 {
		t.Errorf("Expected exactly 1 identity fetch, got %d", lookup.calls[alice])
	}

	// Unresolvable ids are cached too, so a miss is not refetched either.
	ghost := uuid.New()
	agg.Group(context.Background(), snapshotOf(closedSession(ghost, time.Now(), 1)))
	agg.Group(context.Background(), snapshotOf(closedSession(ghost, time.Now(), 1)))
	if lookup.calls[ghost] != 1 {
		t.Errorf("Expected exactly 1 lookup for missing identity, got %d", lookup.calls[ghost])
	}
}

func TestTransientIdentityFailureIsNotCached(t *testing.T) {
	alice := uuid.New()
	lookup := newFakeIdentityLookup()
	lookup.users[alice] = &models.User{ID: alice, Name: "Alice"}
	lookup.failures[alice] = 1

	agg := NewAggregator(lookup)
	snap := snapshotOf(closedSession(alice, time.Now().Add(-time.Hour), 1000))

	groups := agg.Group(context.Background(), snap)
	if groups[0].DisplayName != alice.String() {
		t.Errorf("Expected raw id fallback during the outage, got %q", groups[0].DisplayName)
	}

	// The failure must not pin the fallback; the next snapshot retries.
	groups = agg.Group(context.Background(), snap)
	if groups[0].DisplayName != "Alice" {
		t.Errorf("Expected the name once the lookup recovers, got %q", groups[0].DisplayName)
	}
	if lookup.calls[alice] != 2 {
		t.Errorf("Expected a second lookup after the transient failure, got %d", lookup.calls[alice])
	}
}

func TestNewSessionViewFormatsDurations(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	s := closedSession(uuid.New(), t0, 105*60*1000)
	s.Pauses = []models.Pause{
		{PausedAt: t0.Add(30 * time.Minute), ResumedAt: t0.Add(45 * time.Minute), DurationMs: 15 * 60 * 1000},
	}

	view := NewSessionView(s)
	if view.TotalStudy != "1h 45m 0s" {
		t.Errorf("Expected '1h 45m 0s', got %q", view.TotalStudy)
	}
	if len(view.Pauses) != 1 || view.Pauses[0].Duration != "0h 15m 0s" {
		t.Errorf("Expected formatted pause '0h 15m 0s', got %+v", view.Pauses)
	}
}

func TestSnapshotOpenFor(t *testing.T) {
	alice := uuid.New()
	bob := uuid.New()

	open := models.Session{ID: uuid.New(), UserID: alice, Status: models.StatusPaused, StartTime: time.Now()}
	snap := snapshotOf(open, closedSession(bob, time.Now().Add(-time.Hour), 1000))

	if got := snap.OpenFor(alice); got == nil || got.ID != open.ID {
		t.Error("Expected alice's open session")
	}
	if snap.OpenFor(bob) != nil {
		t.Error("Expected no open session for bob")
	}
}
