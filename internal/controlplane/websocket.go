package controlplane

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iius-rcox/safetyamp-sync/internal/domain"
	"github.com/iius-rcox/safetyamp-sync/internal/engine"
)

var statusUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// statusEvent is one push to a connected /status/live client: a snapshot of
// whatever sessions are currently running plus the pause switch.
type statusEvent struct {
	Type      string              `json:"type"`
	Running   []domain.SyncSession `json:"running"`
	Pause     domain.PauseState    `json:"pause"`
	Timestamp time.Time            `json:"timestamp"`
}

// statusHub pushes periodic engine-state snapshots to every connected
// websocket client, the teacher's cmd/server/handlers/silence_ws.go
// WebSocketHub pattern adapted from event-driven silence updates to a
// polling snapshot of Engine state (this service has no discrete event bus
// feeding session transitions, only the Engine's own state).
type statusHub struct {
	eng    *engine.Engine
	log    *slog.Logger
	period time.Duration

	mu      sync.RWMutex
	clients map[*websocket.Conn]bool
}

func newStatusHub(eng *engine.Engine, log *slog.Logger) *statusHub {
	return &statusHub{
		eng:     eng,
		log:     log,
		period:  2 * time.Second,
		clients: make(map[*websocket.Conn]bool),
	}
}

// Run periodically broadcasts a snapshot to every connected client until ctx
// is canceled.
func (h *statusHub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.broadcast()
		}
	}
}

func (h *statusHub) broadcast() {
	event := statusEvent{
		Type:      "status_snapshot",
		Running:   h.eng.RunningSessions(),
		Pause:     h.eng.PauseState(),
		Timestamp: time.Now(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.WriteJSON(event); err != nil {
			h.log.Debug("status hub: dropping client after write error", "error", err)
			go h.unregister(c)
		}
	}
}

func (h *statusHub) register(c *websocket.Conn) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *statusHub) unregister(c *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.Close()
	}
	h.mu.Unlock()
}

func (h *statusHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.Close()
	}
	h.clients = make(map[*websocket.Conn]bool)
}

func (h *statusHub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := statusUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("status hub: upgrade failed", "error", err)
		return
	}
	h.register(conn)
	go h.readPump(conn)
}

// readPump drains client frames (none expected) purely to detect closes.
func (h *statusHub) readPump(conn *websocket.Conn) {
	defer h.unregister(conn)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
