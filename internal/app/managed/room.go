package managed

import (
	"github.com/dkeye/voicesession/internal/core"
	"github.com/dkeye/voicesession/internal/domain"
)

// events routes room callbacks for st; callbacks for a retired session are
// dropped.
func (e *Engine) events(st *session) core.ManagedEvents {
	live := func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.isCurrentLocked(st)
	}
	return core.ManagedEvents{
		ParticipantJoined: func(p core.ManagedParticipant) {
			if !live() {
				return
			}
			e.log.Info().Str("identity", p.Identity).Msg("participant joined")
			e.store.UpsertParticipant(p.Identity, displayName(p))
		},
		ParticipantLeft: func(p core.ManagedParticipant) {
			if !live() {
				return
			}
			e.log.Info().Str("identity", p.Identity).Msg("participant left")
			e.store.RemoveParticipant(p.Identity)
		},
		TrackSubscribed: func(p core.ManagedParticipant, t core.RemoteTrack, kind domain.TrackKind) {
			if !live() {
				return
			}
			e.store.UpsertParticipant(p.Identity, displayName(p))
			e.store.AddRemoteTrack(p.Identity, t, kind)
			e.sink.AttachRemote(p.Identity, t, kind)
		},
		TrackUnsubscribed: func(p core.ManagedParticipant, t core.RemoteTrack) {
			if !live() {
				return
			}
			e.store.RemoveRemoteTrack(t.StreamID(), t.ID())
			e.sink.Detach(p.Identity, t.ID())
		},
		TrackMuted: func(p core.ManagedParticipant, kind domain.TrackKind, muted bool) {
			if !live() {
				return
			}
			e.store.SetParticipantMedia(p.Identity, kind, !muted)
		},
		Disconnected: func() {
			if !live() {
				return
			}
			e.log.Warn().Msg("room disconnected by service")
			// Leave disconnects the room again; not from the service's goroutine.
			go e.Leave()
		},
	}
}

func (e *Engine) bindHandlers(st *session, ch core.SignalChannel) {
	ch.On(core.EventChat, func(m core.Message) {
		var p core.ChatPayload
		if err := m.Decode(&p); err != nil || p.Text == "" {
			return
		}
		sender := p.Sender
		if sender == "" {
			sender = string(m.From)
		}
		e.store.AppendChat(domain.NewChatMessage(sender, p.Text, false))
	})
	ch.On(core.EventMediaState, func(m core.Message) {
		var ms domain.MediaState
		if err := m.Decode(&ms); err != nil {
			e.log.Warn().Err(&core.SignalingApplyError{Event: m.Event, Err: err}).Msg("signal dropped")
			return
		}
		id := string(m.From)
		e.store.SetParticipantMedia(id, domain.TrackAudio, ms.MicOn)
		e.store.SetParticipantMedia(id, domain.TrackVideo, ms.VideoOn || ms.ScreenSharing)
	})
	ch.On(core.EventError, func(m core.Message) {
		var p core.ErrorPayload
		if err := m.Decode(&p); err == nil {
			e.log.Warn().Str("code", p.Code).Str("message", p.Message).Msg("relay error")
		}
	})
}

// screenPublisher publishes the screen capture as its own "screen" track.
type screenPublisher struct {
	e  *Engine
	st *session
}

func (p *screenPublisher) PublishScreen(t core.LocalTrack) error {
	e, st := p.e, p.st
	e.mu.Lock()
	room := st.room
	e.mu.Unlock()
	if room == nil {
		return core.ErrNotJoined
	}
	pub, err := room.Publish(t, domain.TrackScreen, domain.ScreenLabel)
	if err != nil {
		return err
	}
	e.sink.AttachLocal(t, domain.TrackScreen)
	if !e.attach(st, func() { st.screen, st.screenTrack = pub, t.ID() }) {
		e.sink.Detach(e.localID(), t.ID())
		_ = room.Unpublish(pub)
		return core.ErrJoinAborted
	}
	return nil
}

func (p *screenPublisher) UnpublishScreen() { p.e.unpublishScreens(p.st) }

// unpublishScreens removes the tracked screen publication, or, when none is
// tracked, every outgoing publication that looks like a screen.
func (e *Engine) unpublishScreens(st *session) {
	e.mu.Lock()
	room, tracked, trackID := st.room, st.screen, st.screenTrack
	st.screen, st.screenTrack = nil, ""
	e.mu.Unlock()
	if trackID != "" {
		e.sink.Detach(e.localID(), trackID)
	}
	if room == nil {
		return
	}

	targets := []core.Publication{tracked}
	if tracked == nil {
		targets = targets[:0]
		for _, pub := range room.Publications() {
			if pub.IsScreen() {
				targets = append(targets, pub)
			}
		}
	}
	for _, pub := range targets {
		if err := room.Unpublish(pub); err != nil {
			e.log.Warn().Err(err).Str("sid", pub.SID()).Msg("unpublish screen")
			continue
		}
		e.log.Info().Str("sid", pub.SID()).Str("name", pub.Name()).Msg("screen unpublished")
	}
}
