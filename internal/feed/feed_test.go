package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"studytrack-backend/internal/models"
	"studytrack-backend/internal/session"
)

type fakeSessionStore struct {
	sessions []models.Session
}

func (f *fakeSessionStore) ListAll(_ context.Context) ([]models.Session, error) {
	return append([]models.Session(nil), f.sessions...), nil
}

func (f *fakeSessionStore) ListByUser(_ context.Context, userID uuid.UUID) ([]models.Session, error) {
	out := make([]models.Session, 0)
	for _, s := range f.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeAutoStopper struct {
	result *models.Session
	err    error
	calls  int
}

func (f *fakeAutoStopper) AutoStop(_ context.Context, _ uuid.UUID) (*models.Session, error) {
	f.calls++
	return f.result, f.err
}

func newTestFeed(store SessionLister, stopper AutoStopIssuer, now time.Time) *Feed {
	f := New(store, stopper, nil, session.AutoStopLimit)
	f.now = func() time.Time { return now }
	return f
}

func activeSession(userID uuid.UUID, start time.Time) models.Session {
	return models.Session{
		ID:        uuid.New(),
		UserID:    userID,
		Status:    models.StatusActive,
		StartTime: start,
		Pauses:    []models.Pause{},
	}
}

func TestBuildSnapshotPartitionsOpenFromClosed(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	alice := uuid.New()
	bob := uuid.New()

	open := activeSession(alice, t0.Add(-time.Hour))
	store := &fakeSessionStore{sessions: []models.Session{
		open,
		closedSession(bob, t0.Add(-2*time.Hour), 30*60*1000),
		closedSession(alice, t0.Add(-3*time.Hour), 60*60*1000),
	}}
	f := newTestFeed(store, &fakeAutoStopper{}, t0)

	snap, err := f.BuildSnapshot(context.Background(), Scope{All: true})
	if err != nil {
		t.Fatalf("BuildSnapshot failed: %v", err)
	}
	if len(snap.Sessions) != 3 || len(snap.Open) != 1 || len(snap.Closed) != 2 {
		t.Fatalf("Expected 3/1/2 sessions, got %d/%d/%d", len(snap.Sessions), len(snap.Open), len(snap.Closed))
	}
	if snap.Open[0].ID != open.ID {
		t.Error("Expected the active session in Open")
	}

	// A user scope sees only that user's sessions.
	snap, err = f.BuildSnapshot(context.Background(), Scope{UserID: alice})
	if err != nil {
		t.Fatalf("BuildSnapshot failed: %v", err)
	}
	if len(snap.Sessions) != 2 {
		t.Fatalf("Expected 2 sessions for alice, got %d", len(snap.Sessions))
	}
	if got := snap.OpenFor(alice); got == nil || got.ID != open.ID {
		t.Error("Expected alice's open session in her scope")
	}
}

func TestBuildSnapshotAutoStopsOverdueInSameCycle(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	overdue := activeSession(uuid.New(), t0.Add(-(session.AutoStopLimit + time.Minute)))

	committed, err := session.AutoStop(overdue, t0)
	if err != nil {
		t.Fatalf("AutoStop failed: %v", err)
	}

	stopper := &fakeAutoStopper{result: &committed}
	f := newTestFeed(&fakeSessionStore{sessions: []models.Session{overdue}}, stopper, t0)

	snap, err := f.BuildSnapshot(context.Background(), Scope{All: true})
	if err != nil {
		t.Fatalf("BuildSnapshot failed: %v", err)
	}
	if stopper.calls != 1 {
		t.Errorf("Expected 1 auto-stop call, got %d", stopper.calls)
	}
	if len(snap.Open) != 0 || len(snap.Closed) != 1 {
		t.Fatalf("Expected the overdue session presented as closed, got %d open / %d closed", len(snap.Open), len(snap.Closed))
	}
	if snap.Closed[0].Status != models.StatusAutoStopped {
		t.Errorf("Expected status auto-stopped, got %q", snap.Closed[0].Status)
	}
	if snap.Closed[0].TotalStudyMs == nil {
		t.Error("Expected the committed study total on the closed record")
	}
}

func TestBuildSnapshotLostAutoStopRacePresentsClosed(t *testing.T) {
	// nil, nil from the issuer means another actor committed the auto-stop
	// first; the cycle still presents the session as closed.
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	overdue := activeSession(uuid.New(), t0.Add(-(session.AutoStopLimit + time.Minute)))

	f := newTestFeed(&fakeSessionStore{sessions: []models.Session{overdue}}, &fakeAutoStopper{}, t0)

	snap, err := f.BuildSnapshot(context.Background(), Scope{All: true})
	if err != nil {
		t.Fatalf("BuildSnapshot failed: %v", err)
	}
	if len(snap.Open) != 0 || len(snap.Closed) != 1 {
		t.Fatalf("Expected closed presentation, got %d open / %d closed", len(snap.Open), len(snap.Closed))
	}
	if snap.Closed[0].Status != models.StatusAutoStopped {
		t.Errorf("Expected status auto-stopped, got %q", snap.Closed[0].Status)
	}
}

func TestBuildSnapshotOmitsSessionWhenAutoStopFails(t *testing.T) {
	// A failed auto-stop commit must not surface a closed record whose totals
	// were never written, and must not keep ticking as open either.
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	alice := uuid.New()
	overdue := activeSession(alice, t0.Add(-(session.AutoStopLimit + time.Minute)))
	healthy := closedSession(alice, t0.Add(-2*time.Hour), 30*60*1000)

	stopper := &fakeAutoStopper{err: errors.New("session was updated by another device")}
	f := newTestFeed(&fakeSessionStore{sessions: []models.Session{overdue, healthy}}, stopper, t0)

	snap, err := f.BuildSnapshot(context.Background(), Scope{All: true})
	if err != nil {
		t.Fatalf("BuildSnapshot failed: %v", err)
	}
	if len(snap.Open) != 0 {
		t.Errorf("Expected the overdue session withheld from Open, got %d", len(snap.Open))
	}
	for _, s := range snap.Sessions {
		if s.ID == overdue.ID {
			t.Error("Expected the uncommitted session absent from this cycle")
		}
	}
	if len(snap.Closed) != 1 || snap.Closed[0].ID != healthy.ID {
		t.Errorf("Expected only the committed closed session, got %d", len(snap.Closed))
	}
}

func TestDeliverCoalescesToLatestSnapshot(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	alice := uuid.New()
	store := &fakeSessionStore{sessions: []models.Session{
		closedSession(alice, t0.Add(-2*time.Hour), 1000),
	}}
	f := newTestFeed(store, &fakeAutoStopper{}, t0)

	out := make(chan Snapshot, 1)
	scope := Scope{UserID: alice}

	// Two deliveries with no consumer in between: the undelivered snapshot is
	// replaced by the newer one.
	f.deliver(context.Background(), scope, out)
	store.sessions = append(store.sessions, closedSession(alice, t0.Add(-time.Hour), 2000))
	f.deliver(context.Background(), scope, out)

	snap := <-out
	if len(snap.Sessions) != 2 {
		t.Fatalf("Expected the latest snapshot with 2 sessions, got %d", len(snap.Sessions))
	}
	select {
	case <-out:
		t.Error("Expected exactly one coalesced delivery")
	default:
	}
}

func TestRunTickerCancelWhileBlockedDeliversNothing(t *testing.T) {
	sess := activeSession(uuid.New(), time.Now())
	ticks := make(chan Tick)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		RunTicker(ctx, sess, ticks)
		close(done)
	}()

	// Let the ticker fire and block on the unread channel, then cancel.
	time.Sleep(1200 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Expected the blocked ticker to exit on cancel")
	}
	select {
	case tick := <-ticks:
		t.Errorf("Expected no tick after cancel, got %+v", tick)
	default:
	}
}
