package live

import (
	"net/http"
	"sync"

	"peerprep/proctoring/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	FrameEventAppended    = "event_appended"
	FrameSessionFinalized = "session_finalized"
)

// Frame is the JSON message pushed to live subscribers.
type Frame struct {
	Type           string               `json:"type"`
	SessionID      string               `json:"sessionId"`
	Status         models.SessionStatus `json:"status"`
	IntegrityScore int                  `json:"integrityScore"`
	EventCount     int                  `json:"eventCount"`
	Final          bool                 `json:"final"`
	Event          *models.Event        `json:"event,omitempty"`
}

// Hub fans committed session changes out to websocket subscribers, grouped
// by session id. It implements services.SessionObserver.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*Client]struct{}
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms: make(map[string]map[*Client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (h *Hub) Join(sessionID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[sessionID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[sessionID] = room
	}
	room[c] = struct{}{}
}

// Leave removes c and reports how many subscribers remain.
func (h *Hub) Leave(sessionID string, c *Client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[sessionID]
	if !ok {
		return 0
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, sessionID)
		return 0
	}
	return len(room)
}

func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

// Serve upgrades the request and streams frames for sessionID until the peer
// disconnects or the session is finalized.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sessionID string, initial Frame) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := NewClient(conn)
	h.Join(sessionID, c)
	c.Send(initial)
	if initial.Final {
		h.Leave(sessionID, c)
		c.Close()
	}

	go c.writePump()
	go c.readPump(func() {
		h.Leave(sessionID, c)
		c.Close()
	})
	return nil
}

func (h *Hub) broadcast(sessionID string, frame Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[sessionID] {
		if !c.Send(frame) {
			h.logger.Warn("dropping live frame for slow subscriber",
				zap.String("sessionId", sessionID),
				zap.String("type", frame.Type))
		}
	}
}

func (h *Hub) EventAppended(session models.Session, event models.Event, liveScore int) {
	ev := event.Clone()
	h.broadcast(session.ID, Frame{
		Type:           FrameEventAppended,
		SessionID:      session.ID,
		Status:         session.Status,
		IntegrityScore: liveScore,
		EventCount:     session.EventCount,
		Event:          &ev,
	})
}

// SessionFinalized sends the final score and disconnects every subscriber of
// the session.
func (h *Hub) SessionFinalized(session models.Session) {
	frame := Frame{
		Type:       FrameSessionFinalized,
		SessionID:  session.ID,
		Status:     session.Status,
		EventCount: len(session.Events),
		Final:      true,
	}
	if session.IntegrityScore != nil {
		frame.IntegrityScore = *session.IntegrityScore
	}

	h.mu.Lock()
	room := h.rooms[session.ID]
	delete(h.rooms, session.ID)
	h.mu.Unlock()

	for c := range room {
		c.Send(frame)
		c.Close()
	}
}
