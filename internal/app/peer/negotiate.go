package peer

import (
	"github.com/dkeye/voicesession/internal/core"
	"github.com/dkeye/voicesession/internal/domain"
	"github.com/pion/webrtc/v4"
)

// bindHandlers registers every event the native engine reacts to. The channel
// delivers them one at a time, so negotiation steps never interleave.
func (e *Engine) bindHandlers(st *session, ch core.SignalChannel) {
	ch.On(core.EventPeerJoined, func(m core.Message) { e.onPeerJoined(st, m) })
	ch.On(core.EventPeerLeft, func(m core.Message) { e.onPeerLeft(st, m) })
	ch.On(core.EventOffer, func(m core.Message) { e.onOffer(st, m) })
	ch.On(core.EventAnswer, func(m core.Message) { e.onAnswer(st, m) })
	ch.On(core.EventICECandidate, func(m core.Message) { e.onCandidate(st, m) })
	ch.On(core.EventChat, func(m core.Message) { e.onChat(m) })
	ch.On(core.EventMediaState, func(m core.Message) { e.onPeerMedia(m) })
	ch.On(core.EventError, func(m core.Message) { e.onRelayError(m) })
}

func (e *Engine) dropped(event string, err error) {
	e.log.Warn().Err(&core.SignalingApplyError{Event: event, Err: err}).Msg("signal dropped")
}

// pin binds the call to from when no peer is bound yet. Messages from any
// other peer are ignored.
func (e *Engine) pin(st *session, from domain.UserID) bool {
	e.mu.Lock()
	if !e.isCurrentLocked(st) || from == "" {
		e.mu.Unlock()
		return false
	}
	if st.remote == from {
		e.mu.Unlock()
		return true
	}
	if st.remote != "" {
		pinned := st.remote
		e.mu.Unlock()
		e.log.Warn().Str("peer", string(from)).Str("pinned", string(pinned)).Msg("ignoring third peer")
		return false
	}
	st.remote = from
	e.mu.Unlock()

	// the new peer missed our earlier announcement
	e.announceMedia(st)
	return true
}

func (e *Engine) channel(st *session) core.SignalChannel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return st.channel
}

// onPeerJoined makes the side that was already present the offerer.
func (e *Engine) onPeerJoined(st *session, m core.Message) {
	var p core.PeerInfo
	if err := m.Decode(&p); err != nil {
		e.dropped(m.Event, err)
		return
	}
	if p.UserID == "" {
		p.UserID = m.From
	}
	if p.DisplayName != "" {
		e.store.SetPeerName(string(p.UserID), p.DisplayName)
	}
	if !e.pin(st, p.UserID) {
		return
	}
	e.log.Info().Str("peer", string(p.UserID)).Msg("peer joined, offering")
	e.negotiateOffer(st)
}

func (e *Engine) onPeerLeft(st *session, m core.Message) {
	var p core.PeerInfo
	if err := m.Decode(&p); err != nil {
		e.dropped(m.Event, err)
		return
	}
	if p.UserID == "" {
		p.UserID = m.From
	}
	if e.remotePeer(st) != p.UserID {
		return
	}
	e.log.Info().Str("peer", string(p.UserID)).Msg("peer left")
	e.resetConnection(st)
}

// negotiateOffer creates, applies and sends a local offer.
func (e *Engine) negotiateOffer(st *session) {
	conn, ch := e.connection(st), e.channel(st)
	if conn == nil || ch == nil {
		return
	}
	offer, err := conn.CreateAndSetOffer()
	if err != nil {
		e.dropped(core.EventOffer, err)
		return
	}
	if err := ch.Emit(core.EventOffer, core.SDPPayload{SessionScopeID: st.scope.ScopeID(), SDP: offer.SDP}); err != nil {
		e.log.Warn().Err(err).Msg("send offer")
	}
}

// onOffer applies a remote offer and answers it.
func (e *Engine) onOffer(st *session, m core.Message) {
	if !e.pin(st, m.From) {
		return
	}
	var p core.SDPPayload
	if err := m.Decode(&p); err != nil {
		e.dropped(m.Event, err)
		return
	}
	if !e.inScope(st, m.Event, p.SessionScopeID) {
		return
	}
	conn, ch := e.connection(st), e.channel(st)
	if conn == nil || ch == nil {
		return
	}
	answer, err := conn.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP})
	if err != nil {
		e.dropped(m.Event, err)
		return
	}
	e.flushCandidates(st, conn)
	if err := ch.Emit(core.EventAnswer, core.SDPPayload{SessionScopeID: st.scope.ScopeID(), SDP: answer.SDP}); err != nil {
		e.log.Warn().Err(err).Msg("send answer")
	}
}

func (e *Engine) onAnswer(st *session, m core.Message) {
	if !e.pin(st, m.From) {
		return
	}
	var p core.SDPPayload
	if err := m.Decode(&p); err != nil {
		e.dropped(m.Event, err)
		return
	}
	if !e.inScope(st, m.Event, p.SessionScopeID) {
		return
	}
	conn := e.connection(st)
	if conn == nil {
		return
	}
	if err := conn.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}); err != nil {
		e.dropped(m.Event, err)
		return
	}
	e.flushCandidates(st, conn)
}

// onCandidate applies a remote candidate, or queues it until the remote
// description is in place.
func (e *Engine) onCandidate(st *session, m core.Message) {
	if !e.pin(st, m.From) {
		return
	}
	var p core.CandidatePayload
	if err := m.Decode(&p); err != nil {
		e.dropped(m.Event, err)
		return
	}
	if !e.inScope(st, m.Event, p.SessionScopeID) {
		return
	}

	conn := e.connection(st)
	if conn == nil {
		return
	}
	if !conn.HasRemoteDescription() {
		e.mu.Lock()
		if st.conn == conn {
			st.pending = append(st.pending, p.Candidate)
		}
		e.mu.Unlock()
		return
	}
	if err := conn.AddICECandidate(p.Candidate); err != nil {
		e.dropped(m.Event, err)
	}
}

func (e *Engine) flushCandidates(st *session, conn core.MediaConnection) {
	e.mu.Lock()
	if st.conn != conn {
		e.mu.Unlock()
		return
	}
	pending := st.pending
	st.pending = nil
	e.mu.Unlock()

	for _, c := range pending {
		if err := conn.AddICECandidate(c); err != nil {
			e.dropped(core.EventICECandidate, err)
		}
	}
}

func (e *Engine) sendCandidate(st *session, c webrtc.ICECandidateInit) {
	ch := e.channel(st)
	if ch == nil {
		e.log.Debug().Str("candidate", c.Candidate).Msg("no channel for local candidate")
		return
	}
	payload := core.CandidatePayload{SessionScopeID: st.scope.ScopeID(), Candidate: c}
	if err := ch.Emit(core.EventICECandidate, payload); err != nil {
		e.log.Warn().Err(err).Msg("send candidate")
	}
}

// inScope rejects payloads addressed to another session. An empty scope id
// is accepted; the relay already scoped the channel.
func (e *Engine) inScope(st *session, event, scope string) bool {
	if scope == "" || scope == st.scope.ScopeID() {
		return true
	}
	e.log.Warn().Str("event", event).Str("scope", scope).Msg("payload for another session")
	return false
}

func (e *Engine) onChat(m core.Message) {
	var p core.ChatPayload
	if err := m.Decode(&p); err != nil {
		e.dropped(m.Event, err)
		return
	}
	if p.Text == "" {
		return
	}
	sender := p.Sender
	if sender == "" {
		sender = string(m.From)
	}
	e.store.AppendChat(domain.NewChatMessage(sender, p.Text, false))
}

func (e *Engine) onPeerMedia(m core.Message) {
	var ms domain.MediaState
	if err := m.Decode(&ms); err != nil {
		e.dropped(m.Event, err)
		return
	}
	e.store.SetPeerMedia(string(m.From), ms)
}

func (e *Engine) onRelayError(m core.Message) {
	var p core.ErrorPayload
	if err := m.Decode(&p); err != nil {
		e.dropped(m.Event, err)
		return
	}
	e.log.Warn().Str("code", p.Code).Str("message", p.Message).Msg("relay error")
}
