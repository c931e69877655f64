package jobmanager

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bobmcallan/vire-analytics/internal/common"
	"github.com/bobmcallan/vire-analytics/internal/models"
)

const (
	subscriberBuffer = 64
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// JobWSHub fans job events out to websocket subscribers. It needs no event loop:
// Broadcast delivers directly and never blocks the job processor. A subscriber
// whose buffer is full is disconnected.
type JobWSHub struct {
	mu      sync.RWMutex
	clients map[*jobSubscriber]struct{}
	logger  *common.Logger
}

// jobSubscriber is one connection and the job subject it follows ("" for every job).
type jobSubscriber struct {
	conn    *websocket.Conn
	subject string
	send    chan []byte
}

// NewJobWSHub creates a hub with no subscribers.
func NewJobWSHub(logger *common.Logger) *JobWSHub {
	return &JobWSHub{
		clients: make(map[*jobSubscriber]struct{}),
		logger:  logger,
	}
}

// SubjectFilter reads the subscription from the query: ?account=<id> follows that
// account's snapshot jobs, ?user=<id> the user's roll-up jobs, neither follows all jobs.
func SubjectFilter(r *http.Request) (string, error) {
	account := r.URL.Query().Get("account")
	user := r.URL.Query().Get("user")
	switch {
	case account != "" && user != "":
		return "", errors.New("subscribe to an account or a user, not both")
	case account != "":
		return account, nil
	case user != "":
		return "user:" + user, nil
	default:
		return "", nil
	}
}

func (s *jobSubscriber) follows(job *models.Job) bool {
	return s.subject == "" || (job != nil && job.Subject() == s.subject)
}

// Broadcast sends a job event to every subscriber following its subject.
func (h *JobWSHub) Broadcast(event models.JobEvent) {
	h.mu.RLock()
	if len(h.clients) == 0 {
		h.mu.RUnlock()
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		h.mu.RUnlock()
		h.logger.Warn().Err(err).Msg("Failed to marshal job event")
		return
	}

	var slow []*jobSubscriber
	for c := range h.clients {
		if !c.follows(event.Job) {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn().Str("subject", c.subject).Msg("Job event subscriber too slow, disconnecting")
		h.remove(c)
	}
}

func (h *JobWSHub) add(c *jobSubscriber) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	return len(h.clients)
}

// remove drops a subscriber and closes its send channel once.
func (h *JobWSHub) remove(c *jobSubscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeWS upgrades the request and subscribes the connection to job events.
func (h *JobWSHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	subject, err := SubjectFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &jobSubscriber{conn: conn, subject: subject, send: make(chan []byte, subscriberBuffer)}
	n := h.add(c)
	h.logger.Debug().Str("subject", subject).Int("clients", n).Msg("Job event subscriber connected")

	go h.writeLoop(c)
	go h.readLoop(c)
}

// Stop disconnects every subscriber. The hub stays usable for new connections.
func (h *JobWSHub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// ClientCount returns the number of connected subscribers.
func (h *JobWSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// writeLoop forwards queued events and keeps the connection alive with pings.
func (h *JobWSHub) writeLoop(c *jobSubscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.remove(c)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readLoop discards client messages and unsubscribes when the peer goes away.
func (h *JobWSHub) readLoop(c *jobSubscriber) {
	defer h.remove(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
