package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avcs-dna/sentinel/internal/api"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-session outgoing snapshot buffer depth. A
	// session whose buffer is full when a broadcast lands is dropped.
	sendBufSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins — callers should apply CORS at the reverse-proxy level.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients on every broadcast tick.
type Message struct {
	Event string            `json:"event"`
	Data  api.FleetResponse `json:"data"`
}

// Hub manages WebSocket sessions and broadcasts the current fleet snapshot
// to all of them every interval.
type Hub struct {
	eng      api.Engine
	interval time.Duration

	mu       sync.Mutex
	sessions map[*session]struct{}
}

// session is one connected dashboard. out carries marshalled snapshots from
// the broadcast loop to the session's writer; teardown is folded into a
// Once so the hub, the writer and the reader can all close the session
// without racing, and out is never closed — a send to a dying session just
// lands in its buffer.
type session struct {
	conn *websocket.Conn
	out  chan []byte

	done    chan struct{}
	closing sync.Once
}

func (s *session) close() {
	s.closing.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// New creates a Hub that reads from eng and broadcasts every interval.
func New(eng api.Engine, interval time.Duration) *Hub {
	return &Hub{
		eng:      eng,
		interval: interval,
		sessions: make(map[*session]struct{}),
	}
}

// Run starts the broadcast ticker loop. It blocks until ctx is cancelled,
// then closes every active session.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for s := range h.sessions {
				delete(h.sessions, s)
				s.close()
			}
			h.mu.Unlock()
			return
		case <-t.C:
			h.broadcast()
		}
	}
}

// ServeHTTP upgrades the connection and serves the session: one immediate
// snapshot so dashboards never render empty, then broadcasts from the
// ticker loop. Blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	s := &session{
		conn: conn,
		out:  make(chan []byte, sendBufSize),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
	defer h.drop(s)

	if snap, err := h.snapshot(); err == nil {
		s.out <- snap // fresh buffer, never blocks
	}

	go s.writeLoop()
	s.readLoop()
}

// Count returns the number of currently connected sessions.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (h *Hub) drop(s *session) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
	s.close()
}

func (h *Hub) broadcast() {
	snap, err := h.snapshot()
	if err != nil {
		return
	}

	var slow []*session
	h.mu.Lock()
	for s := range h.sessions {
		select {
		case s.out <- snap:
		default:
			delete(h.sessions, s)
			slow = append(slow, s)
		}
	}
	h.mu.Unlock()

	for _, s := range slow {
		slog.Warn("ws: dropping slow consumer",
			"remote", s.conn.RemoteAddr(), "buffered", sendBufSize)
		s.close()
	}
}

func (h *Hub) snapshot() ([]byte, error) {
	return json.Marshal(Message{Event: "fleet", Data: api.BuildFleet(h.eng)})
}

// writeLoop forwards snapshots to the wire and keeps the connection alive
// with pings. It exits when the session closes or a write fails.
func (s *session) writeLoop() {
	pings := time.NewTicker(pingPeriod)
	defer pings.Stop()
	defer s.close()

	for {
		var typ int
		var payload []byte
		select {
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			s.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck
			return
		case msg := <-s.out:
			typ, payload = websocket.TextMessage, msg
		case <-pings.C:
			typ = websocket.PingMessage
		}

		s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := s.conn.WriteMessage(typ, payload); err != nil {
			return
		}
	}
}

// readLoop consumes control frames (pong, close) until the peer goes away.
func (s *session) readLoop() {
	defer s.close()
	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
