package gateway

import (
	"context"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"go.uber.org/zap"

	"github.com/kapu/alkkagi-arena-go/internal/game"
	"github.com/kapu/alkkagi-arena-go/internal/obslog"
	"github.com/kapu/alkkagi-arena-go/internal/store"
)

// outMsg is the server-to-client envelope.
type outMsg struct {
	Type    string         `json:"type"`
	Session *game.Session  `json:"session,omitempty"`
	Event   *game.Event    `json:"event,omitempty"`
	Profile *store.Profile `json:"profile,omitempty"`
	Error   string         `json:"error,omitempty"`
	Code    string         `json:"code,omitempty"`
}

// client is one live websocket connection. Writes go through a buffered
// channel so a slow reader never blocks a broadcast.
type client struct {
	id    Identity
	conn  *websocket.Conn
	out   chan outMsg
	done  chan struct{}
	once  sync.Once
	specs map[string]struct{} // sessions watched as spectator
}

func newClient(id Identity, conn *websocket.Conn) *client {
	return &client{
		id:    id,
		conn:  conn,
		out:   make(chan outMsg, 32),
		done:  make(chan struct{}),
		specs: make(map[string]struct{}),
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// send enqueues a message, dropping it when the client is backed up.
func (c *client) send(m outMsg) {
	select {
	case c.out <- m:
	case <-c.done:
	default:
		obslog.L().Warn("client_send_drop", zap.String("user_id", c.id.UserID), zap.String("type", m.Type))
	}
}

func (c *client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case m := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(wctx, c.conn, m)
			cancel()
			if err != nil {
				c.close()
				return
			}
		}
	}
}

// Hub indexes live connections by user and by watched session, and fans
// session snapshots out to everyone entitled to them.
type Hub struct {
	mu       sync.RWMutex
	byUser   map[string]map[*client]struct{}
	watchers map[string]map[*client]struct{} // session id -> spectators
	members  map[string][]string             // session id -> participant user ids
}

func NewHub() *Hub {
	return &Hub{
		byUser:   make(map[string]map[*client]struct{}),
		watchers: make(map[string]map[*client]struct{}),
		members:  make(map[string][]string),
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.byUser[c.id.UserID]
	if !ok {
		set = make(map[*client]struct{})
		h.byUser[c.id.UserID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.byUser[c.id.UserID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byUser, c.id.UserID)
		}
	}
	for sid := range c.specs {
		if set, ok := h.watchers[sid]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.watchers, sid)
			}
		}
	}
}

func (h *Hub) watch(c *client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.watchers[sessionID]
	if !ok {
		set = make(map[*client]struct{})
		h.watchers[sessionID] = set
	}
	set[c] = struct{}{}
	c.specs[sessionID] = struct{}{}
}

func (h *Hub) unwatch(c *client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.watchers[sessionID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.watchers, sessionID)
		}
	}
	delete(c.specs, sessionID)
}

// Connected reports whether a user has at least one live connection.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

// BroadcastState pushes a snapshot to both participants and every
// spectator of the session.
func (h *Hub) BroadcastState(sess *game.Session) {
	ids := participantIDs(sess)
	h.mu.Lock()
	if sess.Ended() {
		delete(h.members, sess.ID)
	} else {
		h.members[sess.ID] = ids
	}
	h.mu.Unlock()
	h.forSession(sess.ID, ids, outMsg{Type: "state", Session: sess})
}

// Notify delivers one event to the session's audience.
func (h *Hub) Notify(ev game.Event) {
	h.mu.RLock()
	ids := h.members[ev.SessionID]
	h.mu.RUnlock()
	h.forSession(ev.SessionID, ids, outMsg{Type: "event", Event: &ev})
}

func (h *Hub) forSession(sessionID string, userIDs []string, m outMsg) {
	h.mu.RLock()
	targets := make(map[*client]struct{})
	for _, uid := range userIDs {
		for c := range h.byUser[uid] {
			targets[c] = struct{}{}
		}
	}
	for c := range h.watchers[sessionID] {
		targets[c] = struct{}{}
	}
	h.mu.RUnlock()
	for c := range targets {
		c.send(m)
	}
}

// sendToUser delivers to every connection a user holds.
func (h *Hub) sendToUser(userID string, m outMsg) {
	h.mu.RLock()
	conns := make([]*client, 0, len(h.byUser[userID]))
	for c := range h.byUser[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.send(m)
	}
}

func participantIDs(sess *game.Session) []string {
	out := make([]string, 0, 2)
	for _, c := range []game.Color{game.Black, game.White} {
		if p := sess.Player(c); p != nil && !p.IsAI {
			out = append(out, p.ID)
		}
	}
	return out
}
