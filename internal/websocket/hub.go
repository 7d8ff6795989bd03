// Package websocket pushes job progress and discovery events to connected
// UI clients.
package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vrsandeep/mediaflow/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

// Event types carried in the envelope.
const (
	TypeProgress     = "progress"
	TypeDiscovery    = "discovery"
	TypeAutoDownload = "auto_download"
)

// Envelope is the JSON frame sent to clients.
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The UI is served from the same process.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one websocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans broadcast messages out to every registered client. Clients that
// cannot keep up are dropped rather than slowing the sender.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	logger     *slog.Logger

	// Final job states that did not fit the broadcast queue. They are
	// delivered after everything already queued.
	pendingMu sync.Mutex
	pending   [][]byte
	flush     chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		flush:      make(chan struct{}, 1),
		logger:     slog.Default().With("component", "websocket"),
	}
}

// SetLogger replaces the hub's logger. Call it before Run.
func (h *Hub) SetLogger(logger *slog.Logger) {
	h.logger = logger.With("component", "websocket")
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.deliver(message)
		case <-h.flush:
			h.drainQueued()
			h.pendingMu.Lock()
			pending := h.pending
			h.pending = nil
			h.pendingMu.Unlock()
			for _, message := range pending {
				h.deliver(message)
			}
		}
	}
}

func (h *Hub) deliver(message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			close(client.send)
			delete(h.clients, client)
		}
	}
}

func (h *Hub) drainQueued() {
	for {
		select {
		case message := <-h.broadcast:
			h.deliver(message)
		default:
			return
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastJSON marshals v and queues it for every client. It never blocks;
// the message is dropped when the broadcast queue is full.
func (h *Hub) BroadcastJSON(v interface{}) {
	h.broadcastJSON(v, false)
}

func (h *Hub) broadcastJSON(v interface{}, keep bool) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("failed to marshal broadcast", "error", err)
		return
	}
	select {
	case h.broadcast <- data:
		return
	default:
	}
	if !keep {
		h.logger.Warn("broadcast queue full, dropping message")
		return
	}
	h.pendingMu.Lock()
	h.pending = append(h.pending, data)
	h.pendingMu.Unlock()
	select {
	case h.flush <- struct{}{}:
	default:
	}
}

// Progress broadcasts a job update. Intermediate updates may be dropped
// under load; a job's final state never is.
func (h *Hub) Progress(update models.ProgressUpdate) {
	h.broadcastJSON(Envelope{Type: TypeProgress, Payload: update}, update.Status.IsTerminal())
}

func (h *Hub) Discovery(evt models.DiscoveryEvent) {
	h.BroadcastJSON(Envelope{Type: TypeDiscovery, Payload: evt})
}

func (h *Hub) AutoDownload(evt models.AutoDownloadEvent) {
	h.BroadcastJSON(Envelope{Type: TypeAutoDownload, Payload: evt})
}

// ServeWs upgrades the request and registers the connection.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump only exists to process control frames and notice disconnects.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
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
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
