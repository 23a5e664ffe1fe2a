// Package realtime pushes order events to connected staff dashboards over
// WebSocket.
package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xenking/bookshop/internal/domain/auth"
	"github.com/xenking/bookshop/internal/domain/order"
	"github.com/xenking/bookshop/internal/notify"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	sendQueue      = 64
)

var groupCapability = map[string]auth.Capability{
	notify.GroupAdmins: auth.CapFeedAdmins,
	notify.GroupStaff:  auth.CapFeedStaff,
}

// Authenticator resolves a session token to a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.Principal, error)
}

// Hub tracks connections and their group membership.
type Hub struct {
	auth     Authenticator
	lg       *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]map[string]struct{}
	closed  bool
}

var _ notify.Broadcaster = (*Hub)(nil)

// NewHub creates a hub. allowedOrigins empty accepts any origin.
func NewHub(a Authenticator, lg *zap.Logger, allowedOrigins []string) *Hub {
	h := &Hub{
		auth:    a,
		lg:      lg.Named("realtime"),
		clients: map[*client]map[string]struct{}{},
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin(allowedOrigins),
	}
	return h
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
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

// ServeHTTP authenticates with the access_token query parameter and upgrades
// the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := r.URL.Query().Get("access_token")
	p, err := h.auth.Authenticate(ctx, token)
	if err != nil {
		if !errors.Is(err, auth.ErrUnauthenticated) {
			zctx.From(ctx).Error("Authenticate websocket", zap.Error(err))
		}
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		zctx.From(ctx).Debug("Websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, sendQueue),
		principal: p,
		lg:        h.lg.With(zap.String("user_id", p.UserID)),
	}
	if !h.register(c) {
		_ = conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = map[string]struct{}{}
	return true
}

// unregister removes c and closes its queue. Safe to call more than once.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) join(c *client, group string) error {
	capability, ok := groupCapability[group]
	if !ok {
		return errors.Errorf("unknown group %q", group)
	}
	if !c.principal.Can(capability) {
		return auth.ErrForbidden
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if groups, ok := h.clients[c]; ok {
		groups[group] = struct{}{}
	}
	return nil
}

func (h *Hub) leave(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if groups, ok := h.clients[c]; ok {
		clear(groups)
	}
}

// Broadcast sends e to every member of group. Members whose queue is full
// are disconnected.
func (h *Hub) Broadcast(group string, e order.Event) error {
	frame, err := encodeOrderFrame(e)
	if err != nil {
		return err
	}

	var slow []*client
	h.mu.RLock()
	for c, groups := range h.clients {
		if _, ok := groups[group]; !ok {
			continue
		}
		select {
		case c.send <- frame:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		c.lg.Warn("Dropping slow websocket client")
		h.unregister(c)
	}
	return nil
}

// Members returns how many connections are in group.
func (h *Hub) Members(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, groups := range h.clients {
		if _, ok := groups[group]; ok {
			n++
		}
	}
	return n
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

type client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	principal *auth.Principal
	lg        *zap.Logger
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.lg.Debug("Websocket read failed", zap.Error(err))
			}
			return
		}
		c.handle(data)
	}
}

func (c *client) handle(data []byte) {
	op, err := decodeOp(data)
	if err != nil {
		c.reply(encodeReply(FrameError, "message", "malformed message"))
		return
	}

	var group string
	switch op {
	case OpJoinAdmins:
		group = notify.GroupAdmins
	case OpJoinStaff:
		group = notify.GroupStaff
	case OpLeave:
		c.hub.leave(c)
		c.reply(encodeReply(FrameLeft, "group", "*"))
		return
	default:
		c.reply(encodeReply(FrameError, "message", "unknown op "+op))
		return
	}

	if err := c.hub.join(c, group); err != nil {
		c.reply(encodeReply(FrameError, "message", err.Error()))
		return
	}
	c.reply(encodeReply(FrameJoined, "group", group))
}

// reply queues a control frame. It is dropped when the queue is full.
func (c *client) reply(frame []byte) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- frame:
	default:
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
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
