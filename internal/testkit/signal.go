package testkit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/dkeye/voicesession/internal/adapters/signal"
	"github.com/dkeye/voicesession/internal/core"
	"github.com/dkeye/voicesession/internal/domain"
	"github.com/rs/zerolog"
)

var ErrSessionFull = errors.New("session_full")

// Hub is an in-memory relay. Members of one session see each other's events
// stamped with the sender's id, in order, on one goroutine per member.
type Hub struct {
	// MaxPeers caps members per session; zero means unlimited.
	MaxPeers int

	mu       sync.Mutex
	sessions map[string]map[domain.UserID]*Channel
	dials    int
}

func NewHub() *Hub {
	return &Hub{sessions: make(map[string]map[domain.UserID]*Channel)}
}

func (h *Hub) Connect(ctx context.Context, endpoint string, auth domain.AuthPayload) (core.SignalChannel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := auth.Session()
	if err != nil {
		return nil, err
	}
	key := s.Key()

	h.mu.Lock()
	h.dials++
	members := h.sessions[key]
	if members == nil {
		members = make(map[domain.UserID]*Channel)
		h.sessions[key] = members
	}
	if h.MaxPeers > 0 && len(members) >= h.MaxPeers {
		h.mu.Unlock()
		return nil, ErrSessionFull
	}
	ch := newChannel(h, key, auth)
	others := make([]*Channel, 0, len(members))
	for _, m := range members {
		others = append(others, m)
	}
	members[auth.UserID] = ch
	h.mu.Unlock()

	joined := core.PeerInfo{UserID: auth.UserID, DisplayName: auth.DisplayName, Role: auth.Role}
	for _, m := range others {
		m.deliver(core.EventPeerJoined, auth.UserID, joined)
	}
	return ch, nil
}

// Dials counts Connect calls.
func (h *Hub) Dials() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dials
}

// Members lists who is connected to the session with key.
func (h *Hub) Members(key string) []domain.UserID {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.UserID, 0, len(h.sessions[key]))
	for id := range h.sessions[key] {
		out = append(out, id)
	}
	return out
}

func (h *Hub) broadcast(from *Channel, event string, payload any) {
	h.mu.Lock()
	var others []*Channel
	for id, m := range h.sessions[from.key] {
		if id != from.user {
			others = append(others, m)
		}
	}
	h.mu.Unlock()
	for _, m := range others {
		m.deliver(event, from.user, payload)
	}
}

func (h *Hub) remove(c *Channel) {
	h.mu.Lock()
	members := h.sessions[c.key]
	if members[c.user] != c {
		h.mu.Unlock()
		return
	}
	delete(members, c.user)
	h.mu.Unlock()
	h.broadcast(c, core.EventPeerLeft, core.PeerInfo{UserID: c.user, DisplayName: c.auth.DisplayName})
}

// Channel is one member's end of the hub.
type Channel struct {
	hub   *Hub
	key   string
	user  domain.UserID
	auth  domain.AuthPayload
	inbox *signal.Inbox

	mu      sync.Mutex
	emitted []core.Message
	closed  bool
}

func newChannel(h *Hub, key string, auth domain.AuthPayload) *Channel {
	return &Channel{
		hub:   h,
		key:   key,
		user:  auth.UserID,
		auth:  auth,
		inbox: signal.NewInbox(zerolog.Nop()),
	}
}

func (c *Channel) deliver(event string, from domain.UserID, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	c.inbox.Push(core.Message{Event: event, From: from, Payload: raw})
}

func (c *Channel) On(event string, h core.SignalHandler) { c.inbox.On(event, h) }

func (c *Channel) Emit(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return core.ErrChannelClosed
	}
	c.emitted = append(c.emitted, core.Message{Event: event, From: c.user, Payload: raw})
	c.mu.Unlock()
	c.hub.broadcast(c, event, json.RawMessage(raw))
	return nil
}

// Emitted returns what this member sent for event.
func (c *Channel) Emitted(event string) []core.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []core.Message
	for _, m := range c.emitted {
		if m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

func (c *Channel) OnReconnect(func()) {}

func (c *Channel) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.inbox.Close()
	c.hub.remove(c)
}

func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Inject hands msg to this member as if the relay had sent it.
func (c *Channel) Inject(event string, from domain.UserID, payload any) {
	c.deliver(event, from, payload)
}

// GatedDialer holds Connect until Release, then dials through Inner. Entered
// is closed once the first Connect is waiting.
type GatedDialer struct {
	Inner   core.SignalDialer
	Entered chan struct{}

	release chan struct{}
	once    sync.Once
}

func NewGatedDialer(inner core.SignalDialer) *GatedDialer {
	return &GatedDialer{Inner: inner, Entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *GatedDialer) Connect(ctx context.Context, endpoint string, auth domain.AuthPayload) (core.SignalChannel, error) {
	g.once.Do(func() { close(g.Entered) })
	<-g.release
	return g.Inner.Connect(ctx, endpoint, auth)
}

func (g *GatedDialer) Release() { close(g.release) }
