package ws

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"cashier-board/internal/board"
	"cashier-board/internal/order"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 16
)

type Snapshotter interface {
	Snapshot() board.View
}

// AllowOrigins accepts requests without an Origin header, same-host origins
// and the listed origins. "*" accepts everything.
func AllowOrigins(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[strings.TrimRight(strings.ToLower(origin), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set["*"]; ok {
			return true
		}
		if _, ok := set[strings.TrimRight(strings.ToLower(origin), "/")]; ok {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

// client is written to only by its ServeWS goroutine; everyone else queues
// on send.
type client struct {
	conn   *websocket.Conn
	send   chan any
	kicked chan struct{}
	once   sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn:   conn,
		send:   make(chan any, sendBuffer),
		kicked: make(chan struct{}),
	}
}

// enqueue never blocks. A client whose buffer is full is kicked.
func (c *client) enqueue(message any) bool {
	select {
	case c.send <- message:
		return true
	default:
		c.once.Do(func() { close(c.kicked) })
		return false
	}
}

func (c *client) write(value any) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(value)
}

// Hub relays board snapshots and new-order alerts to local display screens.
type Hub struct {
	Board       Snapshotter
	Heartbeat   time.Duration
	Logger      *zap.Logger
	CheckOrigin func(r *http.Request) bool

	mu   sync.RWMutex
	subs map[*client]struct{}
}

func NewHub(source Snapshotter, heartbeat time.Duration, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		Board:     source,
		Heartbeat: heartbeat,
		Logger:    logger,
		subs:      make(map[*client]struct{}),
	}
}

func (h *Hub) subscribe(c *client) (unsubscribe func()) {
	h.mu.Lock()
	h.subs[c] = struct{}{}
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.subs, c)
		h.mu.Unlock()
	}
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) broadcast(message any) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.subs))
	for c := range h.subs {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.enqueue(message) {
			h.Logger.Warn("display client too slow; disconnecting")
		}
	}
}

func (h *Hub) BoardChanged(v board.View) {
	h.broadcast(map[string]any{"type": "board.state", "data": v})
}

func (h *Hub) NewOrder(o order.Order) {
	h.broadcast(map[string]any{"type": "order.alert", "data": o})
}

// BoardReloaded tells displays that the board was rebuilt from scratch.
func (h *Hub) BoardReloaded(reason string) {
	h.broadcast(map[string]any{"type": "board.reloaded", "reason": reason, "at": time.Now().UTC()})
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	checkOrigin := h.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = AllowOrigins(nil)
	}
	upgrader := websocket.Upgrader{CheckOrigin: checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	c := newClient(conn)
	unsubscribe := h.subscribe(c)
	defer unsubscribe()

	if h.Board != nil {
		if err := c.write(map[string]any{"type": "board.state", "data": h.Board.Snapshot()}); err != nil {
			return
		}
	}

	clientClosed := make(chan struct{})
	go func() {
		defer close(clientClosed)
		for {
			if _, _, readErr := conn.ReadMessage(); readErr != nil {
				return
			}
		}
	}()

	var tick <-chan time.Time
	if h.Heartbeat > 0 {
		ticker := time.NewTicker(h.Heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	ctx := r.Context()
	for {
		select {
		case <-clientClosed:
			return
		case <-ctx.Done():
			return
		case <-c.kicked:
			return
		case message := <-c.send:
			if err := c.write(message); err != nil {
				h.Logger.Debug("display client write failed", zap.Error(err))
				return
			}
		case <-tick:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.Logger.Debug("display client ping failed", zap.Error(err))
				return
			}
		}
	}
}
