package websocket

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"studytrack-backend/internal/feed"
	"studytrack-backend/internal/middleware"
	"studytrack-backend/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub upgrades authenticated clients to websocket connections and serves each
// one a live session feed. A self scope carries the user's own snapshot plus
// the one-second tick clock while their session is active; the all scope
// carries the grouped admin view.
type Hub struct {
	feed     *feed.Feed
	identity feed.IdentityLookup
	jwt      *middleware.JWTAuth
}

func NewHub(f *feed.Feed, identity feed.IdentityLookup, jwt *middleware.JWTAuth) *Hub {
	return &Hub{
		feed:     f,
		identity: identity,
		jwt:      jwt,
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Authenticate via token query param
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	userID, role, err := h.jwt.ParseToken(tokenStr)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	// Scope is authorized before any subscription is issued; a user-role
	// caller can only ever watch their own sessions.
	scope := feed.Scope{UserID: userID}
	if r.URL.Query().Get("scope") == "all" {
		if role != models.RoleAdmin && role != models.RoleSuperadmin {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		scope.All = true
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	log.Printf("WebSocket connected: user %s (scope all=%v)", userID, scope.All)
	go h.serve(conn, scope, userID)
}

// serve is the connection's single writer: feed snapshots and clock ticks
// are multiplexed here, so no write ever races another.
func (h *Hub) serve(conn *websocket.Conn, scope feed.Scope, viewerID uuid.UUID) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer conn.Close()

	// Reader drains control frames and detects disconnect.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	snapshots := h.feed.Subscribe(ctx, scope)

	// The tick channel is replaced together with its ticker: a cancelled
	// ticker blocked mid-send holds a reference to the old channel only, so
	// it can never deliver a stale tick for a previous session.
	var ticks chan feed.Tick
	var tickCancel context.CancelFunc
	stopTicker := func() {
		if tickCancel != nil {
			tickCancel()
			tickCancel = nil
		}
		ticks = nil
	}
	defer stopTicker()

	var agg *feed.Aggregator
	if scope.All {
		agg = feed.NewAggregator(h.identity)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}

			// The tick clock runs only while the viewer's own session is
			// active; any transition away stops it immediately.
			stopTicker()
			if !scope.All {
				if open := snap.OpenFor(scope.UserID); open != nil && open.Status == models.StatusActive {
					// Assigned via a local so vet's lostcancel check can see
					// the cancel func escapes into stopTicker's deferred call.
					tickCtx, cancelTick := context.WithCancel(ctx)
					tickCancel = cancelTick
					ticks = make(chan feed.Tick)
					go feed.RunTicker(tickCtx, *open, ticks)
				}
			}

			var msg interface{}
			if scope.All {
				msg = map[string]interface{}{
					"type":   "groups",
					"at":     snap.At,
					"groups": agg.Group(ctx, snap),
				}
			} else {
				closed := make([]feed.SessionView, 0, len(snap.Closed))
				for _, s := range snap.Closed {
					closed = append(closed, feed.NewSessionView(s))
				}
				msg = map[string]interface{}{
					"type":            "snapshot",
					"at":              snap.At,
					"open_session":    snap.OpenFor(scope.UserID),
					"closed_sessions": closed,
				}
			}
			if err := writeMessage(conn, msg); err != nil {
				log.Printf("WebSocket disconnected: user %s", viewerID)
				return
			}
		case tick := <-ticks:
			if err := writeMessage(conn, map[string]interface{}{"type": "tick", "tick": tick}); err != nil {
				log.Printf("WebSocket disconnected: user %s", viewerID)
				return
			}
		}
	}
}

func writeMessage(conn *websocket.Conn, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
