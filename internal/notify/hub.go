package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stwalsh4118/couchcast/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
	broadcastQueue = 256
)

// client is one websocket observer
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans events out to every connected websocket client
type Hub struct {
	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}
	upgrader   websocket.Upgrader

	mu sync.RWMutex
}

var _ Notifier = (*Hub)(nil)

// NewHub creates a hub; allowedOrigins of "*" or empty accepts any origin
func NewHub(allowedOrigins []string) *Hub {
	h := &Hub{
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, broadcastQueue),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// Run processes registrations and broadcasts until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
			logger.Log.Debug().Str("remote", c.conn.RemoteAddr().String()).Msg("Websocket client registered")

		case c := <-h.unregister:
			h.remove(c)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow client, drop it rather than stall everyone
					go func(c *client) {
						select {
						case h.unregister <- c:
						case <-h.done:
						}
					}(c)
				}
			}
			h.mu.RUnlock()

		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and attaches the connection to the hub
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// publish queues an event for broadcast without blocking the caller
func (h *Hub) publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Log.Error().Err(err).Str("type", string(ev.Type)).Msg("Failed to encode event")
		return
	}

	select {
	case h.broadcast <- data:
	default:
		logger.Log.Warn().Str("type", string(ev.Type)).Msg("Notification queue full, dropping event")
	}
}

// PlaybackStarted announces the item now on screen
func (h *Hub) PlaybackStarted(itemID uuid.UUID, title, userDisplayName string) {
	ev := newEvent(EventPlaybackStarted, &itemID)
	ev.Title = title
	ev.User = userDisplayName
	h.publish(ev)
}

// PlaybackEnded announces a successful finish or skip
func (h *Hub) PlaybackEnded(itemID uuid.UUID) {
	h.publish(newEvent(EventPlaybackEnded, &itemID))
}

// PlaybackFailed announces an engine or selection failure
func (h *Hub) PlaybackFailed(itemID uuid.UUID, message string) {
	ev := newEvent(EventPlaybackFailed, &itemID)
	ev.Message = message
	h.publish(ev)
}

// QueueChanged tells observers to refresh the queue view
func (h *Hub) QueueChanged() {
	h.publish(newEvent(EventQueueChanged, nil))
}

// DownloadStarted announces a claimed download
func (h *Hub) DownloadStarted(itemID uuid.UUID) {
	h.publish(newEvent(EventDownloadStarted, &itemID))
}

// DownloadCompleted announces a newly playable item
func (h *Hub) DownloadCompleted(itemID uuid.UUID) {
	h.publish(newEvent(EventDownloadCompleted, &itemID))
}

// DownloadFailed announces a failed download
func (h *Hub) DownloadFailed(itemID uuid.UUID, message string) {
	ev := newEvent(EventDownloadFailed, &itemID)
	ev.Message = message
	h.publish(ev)
}

// readPump only services control frames; clients never send data we act on
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.Debug().Err(err).Msg("Websocket read error")
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
