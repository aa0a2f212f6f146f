package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atmx/adaptive-amm/internal/metrics"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// WSMessage is a JSON message sent to WebSocket clients.
type WSMessage struct {
	Type      string `json:"type"`
	PoolID    string `json:"pool_id"`
	Account   string `json:"account,omitempty"`
	TokenIn   string `json:"token_in,omitempty"`
	AmountIn  string `json:"amount_in,omitempty"`
	AmountOut string `json:"amount_out,omitempty"`
	FeeBps    uint64 `json:"fee_bps,omitempty"`
	Reserve0  string `json:"reserve0,omitempty"`
	Reserve1  string `json:"reserve1,omitempty"`
	SpotPrice string `json:"spot_price,omitempty"`
	EMAPrice  string `json:"ema_price,omitempty"`
}

// wsClient is one connection and the pool it follows. An empty pool
// follows every pool.
type wsClient struct {
	conn *websocket.Conn
	pool string
}

func (c *wsClient) wants(poolID string) bool {
	return c.pool == "" || c.pool == poolID
}

// WSHub fans pool events out to WebSocket subscribers.
type WSHub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*wsClient

	events     chan WSMessage
	register   chan *wsClient
	unregister chan *websocket.Conn
	done       chan struct{}
	stopOnce   sync.Once
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*websocket.Conn]*wsClient),
		events:     make(chan WSMessage, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// Run delivers events until Stop is called. Must be called in a goroutine.
func (h *WSHub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.conn] = c
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			slog.Info("ws client connected", "pool", c.pool, "total", total)

		case conn := <-h.unregister:
			h.drop(conn)

		case msg := <-h.events:
			h.deliver(msg)

		case <-h.done:
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
			}
			clear(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return
		}
	}
}

// deliver writes msg to every subscriber of its pool and drops the
// connections that fail.
func (h *WSHub) deliver(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("ws encode failed", "pool", msg.PoolID, "err", err)
		return
	}

	var failed []*websocket.Conn
	h.mu.RLock()
	for conn, c := range h.clients {
		if !c.wants(msg.PoolID) {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			failed = append(failed, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range failed {
		h.drop(conn)
	}
}

// Stop closes every client and ends Run.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Clients returns the number of connected subscribers.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WSHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	total := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(total))
}

// Broadcast queues msg for delivery. It never blocks; when the queue is
// full the message is dropped.
func (h *WSHub) Broadcast(msg WSMessage) {
	select {
	case h.events <- msg:
	default:
		slog.Warn("ws queue full, dropping event", "pool", msg.PoolID, "type", msg.Type)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles GET /api/v1/ws?pool=eth-usdc. Without a pool parameter
// the client receives events from every pool.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	c := &wsClient{conn: conn, pool: r.URL.Query().Get("pool")}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	// Subscribers never send data; reading only detects disconnects and
	// processes pongs.
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go h.ping(conn)
}

// ping keeps the connection alive through proxies until it is dropped.
func (h *WSHub) ping(conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
		}
		h.mu.RLock()
		_, ok := h.clients[conn]
		h.mu.RUnlock()
		if !ok {
			return
		}
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
			return
		}
	}
}
