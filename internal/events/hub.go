package events

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/creatorpad/settlement-engine/internal/metrics"
	"github.com/creatorpad/settlement-engine/internal/model"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

type message struct {
	token common.Address
	data  []byte
}

type client struct {
	conn *websocket.Conn
	// token filters the stream to one token; the zero address receives all.
	token common.Address
}

// Hub manages WebSocket connections and broadcasts committed events to the
// connected clients.
type Hub struct {
	log        *slog.Logger
	clients    map[*websocket.Conn]*client
	broadcast  chan message
	register   chan *client
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
}

// NewHub creates a hub. Run must be started before clients connect.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:        log,
		clients:    make(map[*websocket.Conn]*client),
		broadcast:  make(chan message, 256),
		register:   make(chan *client),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
	}
}

// Run is the hub's event loop. It returns when ctx is done, closing every
// connection.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.conn] = c
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
			h.log.Info("ws client connected", "total", n, "token", c.token.Hex())

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn, c := range h.clients {
				if c.token != (common.Address{}) && c.token != msg.token {
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
		}
	}
}

// Publish queues events for broadcast. Events are dropped when the buffer
// is full rather than blocking settlement.
func (h *Hub) Publish(_ context.Context, events []model.Event) {
	for _, ev := range events {
		data, err := Encode(ev)
		if err != nil {
			h.log.Error("encode event", "type", ev.Type, "error", err)
			continue
		}
		select {
		case h.broadcast <- message{token: ev.Token, data: data}:
		default:
			metrics.EventsDropped.WithLabelValues("ws").Inc()
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades GET /ws. An optional ?token= query parameter limits the
// stream to one token.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	var token common.Address
	if q := strings.TrimSpace(r.URL.Query().Get("token")); q != "" {
		if !common.IsHexAddress(q) {
			http.Error(w, "invalid token address", http.StatusBadRequest)
			return
		}
		token = common.HexToAddress(q)
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("ws upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, token: token}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}

	// Read pump: keep the connection alive and detect disconnects.
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker keeps the connection alive through proxies.
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for range ticker.C {
			var err error
			h.mu.Lock()
			_, ok := h.clients[conn]
			if ok {
				err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			}
			h.mu.Unlock()
			if !ok || err != nil {
				return
			}
		}
	}()
}
