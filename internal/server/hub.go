package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"meeting-insights-go/internal/logger"
	"meeting-insights-go/internal/types"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 32
)

type jobUpdate struct {
	Type      string          `json:"type"`
	JobID     string          `json:"job_id"`
	Status    types.JobStatus `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Error     string          `json:"error,omitempty"`
}

type initialJobs struct {
	Type string      `json:"type"`
	Jobs []types.Job `json:"jobs"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub pushes job transitions to connected websocket clients. Slow clients
// are dropped rather than allowed to stall a broadcast.
type Hub struct {
	upgrader websocket.Upgrader
	log      *logger.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

func NewHub(allowedOrigins []string, log *logger.Logger) *Hub {
	h := &Hub{
		clients: make(map[*client]struct{}),
		log:     log.Component("ws"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// Serve upgrades the request and sends the initial job list before any update.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, jobs []types.Job) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	if jobs == nil {
		jobs = []types.Job{}
	}
	first, err := json.Marshal(initialJobs{Type: "initial_jobs", Jobs: jobs})
	if err != nil {
		h.log.WithError(err).Error("failed to marshal initial jobs")
		conn.Close()
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	c.send <- first

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.WithField("clients", n).Info("websocket client connected")

	go h.writePump(c)
	go h.readPump(c)
}

// JobUpdated broadcasts one transition.
func (h *Hub) JobUpdated(job types.Job) {
	msg := jobUpdate{
		Type:      "job_update",
		JobID:     job.ID,
		Status:    job.Status,
		Timestamp: job.UpdatedAt,
	}
	if job.Status == types.StatusFailed {
		msg.Error = job.ErrorMessage
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.WithError(err).Error("failed to marshal job update")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Warn("dropping slow websocket client")
			h.dropLocked(c)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.dropLocked(c)
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

func (h *Hub) dropLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// writePump owns the connection; it closes it once send is closed or a
// write fails.
func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.drop(c)
			return
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readPump only watches for the peer going away.
func (h *Hub) readPump(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.drop(c)
			h.log.Debug("websocket client disconnected")
			return
		}
	}
}
