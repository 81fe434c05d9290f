package relay

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/dkeye/voicesession/internal/config"
	"github.com/dkeye/voicesession/internal/core"
	"github.com/dkeye/voicesession/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// ChatEntry is one archived chat:message.
type ChatEntry struct {
	Session  domain.Session
	SenderID domain.UserID
	Sender   string
	Text     string
	At       time.Time
}

type ChatArchive interface {
	Append(ctx context.Context, e ChatEntry) error
}

// forwarded lists the events members may send to each other.
var forwarded = map[string]bool{
	core.EventOffer:        true,
	core.EventAnswer:       true,
	core.EventICECandidate: true,
	core.EventChat:         true,
	core.EventMediaState:   true,
}

func Forwardable(event string) bool { return forwarded[event] }

type Relay struct {
	Registry *Registry
	Scopes   *ScopeManager
	Policy   Policy
	Limiter  *RateLimiter
	Archive  ChatArchive
	Metrics  *Metrics

	// MaxNativePeers caps appointment sessions, which are always 1:1.
	MaxNativePeers int
}

func New(cfg config.Relay, archive ChatArchive, reg prometheus.Registerer) *Relay {
	return &Relay{
		Registry:       NewRegistry(),
		Scopes:         NewScopeManager(),
		Policy:         SimplePolicy{},
		Limiter:        NewRateLimiter(cfg.ChatLimit, cfg.ChatInterval),
		Archive:        archive,
		Metrics:        NewMetrics(reg),
		MaxNativePeers: cfg.MaxNativePeers,
	}
}

func (r *Relay) limitFor(s domain.Session) int {
	if s.Kind == domain.SessionAppointment {
		return r.MaxNativePeers
	}
	return 0
}

// Admit registers m and returns the members already present. When the same
// user reconnects the stale connection is closed without telling anyone, and
// replaced is true.
func (r *Relay) Admit(m *Member, cancel func()) (peers []core.PeerInfo, replaced bool, err error) {
	scope, stale, err := r.Scopes.Admit(m, r.limitFor(m.Scope))
	if err != nil {
		r.Metrics.Rejected.WithLabelValues(core.CodeSessionFull).Inc()
		log.Warn().Str("module", "relay").Str("sid", string(m.ID)).Str("session", m.Scope.Key()).Err(err).Msg("admit refused")
		return nil, false, err
	}
	if stale != nil {
		if _, ok := r.Registry.Unbind(stale.ID); ok {
			r.Metrics.Connections.Dec()
		}
		stale.Conn.Close()
	}
	r.Registry.Bind(m, cancel)
	r.Metrics.Connections.Inc()
	return scope.Peers(m.ID), stale != nil, nil
}

// Announce sends a control event from sid to the rest of its scope.
func (r *Relay) Announce(sid core.SessionID, event string, payload any) {
	m, ok := r.Registry.Get(sid)
	if !ok {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Str("event", event).Msg("marshal announce")
		return
	}
	r.publish(m, core.Envelope{Type: event, From: m.User.ID, Payload: raw})
}

// Forward relays env from sid to every other member of its scope, stamping
// the sender. Chat is rate limited and archived on the way through.
func (r *Relay) Forward(ctx context.Context, sid core.SessionID, env core.Envelope) error {
	m, ok := r.Registry.Get(sid)
	if !ok {
		return ErrNotMember
	}
	env.From = m.User.ID
	if env.Type == core.EventChat {
		payload, err := r.chat(ctx, m, env.Payload)
		if err != nil {
			return err
		}
		env.Payload = payload
	}
	r.publish(m, env)
	r.Metrics.Forwarded.WithLabelValues(env.Type).Inc()
	return nil
}

func (r *Relay) chat(ctx context.Context, m *Member, raw json.RawMessage) (json.RawMessage, error) {
	var p core.ChatPayload
	if err := json.Unmarshal(raw, &p); err != nil || strings.TrimSpace(p.Text) == "" {
		return nil, ErrBadPayload
	}
	if !r.Limiter.Allow(m.User.ID) {
		return nil, ErrRateLimited
	}
	text := p.Text
	if len(text) > domain.MaxChatTextLen {
		text = text[:domain.MaxChatTextLen]
	}
	sender := p.Sender
	if sender == "" {
		sender = m.User.DisplayName
	}
	// scope keys come from the authenticated session, never from the client
	out := core.NewChatPayload(m.Scope, sender, text)

	if r.Archive != nil {
		entry := ChatEntry{Session: m.Scope, SenderID: m.User.ID, Sender: sender, Text: text, At: time.Now()}
		if err := r.Archive.Append(ctx, entry); err != nil {
			log.Error().Err(err).Str("module", "relay").Str("session", m.Scope.Key()).Msg("archive chat")
		}
	}
	return json.Marshal(out)
}

func (r *Relay) publish(m *Member, env core.Envelope) {
	scope, ok := r.Scopes.Get(m.Scope.Key())
	if !ok {
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Str("event", env.Type).Msg("marshal envelope")
		return
	}
	res := scope.Broadcast(m.ID, data)
	if r.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch r.Policy.OnBackPressure(scope, slow) {
		case KickMember:
			r.Metrics.Dropped.Inc()
			r.Kick(slow.ID)
		case MarkSlow, DropFrame, NoAction:
		}
	}
}

// Kick closes sid's connection; its read loop then calls Leave.
func (r *Relay) Kick(sid core.SessionID) {
	if !r.Registry.Cancel(sid) {
		return
	}
	log.Info().Str("module", "relay").Str("sid", string(sid)).Msg("kicked")
}

// Leave forgets sid and tells the rest of its scope. Safe to call twice.
func (r *Relay) Leave(sid core.SessionID) {
	m, ok := r.Registry.Unbind(sid)
	if !ok {
		return
	}
	r.Metrics.Connections.Dec()
	scope, ok := r.Scopes.Get(m.Scope.Key())
	if !ok || !scope.Remove(sid) {
		return
	}
	r.Limiter.Forget(m.User.ID)
	raw, _ := json.Marshal(m.PeerInfo())
	data, _ := json.Marshal(core.Envelope{Type: core.EventPeerLeft, From: m.User.ID, Payload: raw})
	scope.Broadcast(sid, data)
	if r.Scopes.StopIfEmpty(m.Scope) {
		log.Info().Str("module", "relay").Str("session", m.Scope.Key()).Msg("session closed")
	}
}

// EvictSession kicks every member of s.
func (r *Relay) EvictSession(s domain.Session) int {
	scope, ok := r.Scopes.Get(s.Key())
	if !ok {
		return 0
	}
	n := 0
	for _, p := range scope.Members() {
		r.Kick(p)
		n++
	}
	return n
}
