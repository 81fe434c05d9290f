package peer

import (
	"fmt"

	"github.com/dkeye/voicesession/internal/core"
	"github.com/dkeye/voicesession/internal/domain"
	"github.com/pion/webrtc/v4"
)

// openConnection builds a fresh peer connection for st, wires its callbacks,
// attaches every local track and hands the senders to the media controller.
func (e *Engine) openConnection(st *session) error {
	e.mu.Lock()
	ctrl, servers, ctx := st.media, st.capability.ICEServers(), st.ctx
	e.mu.Unlock()
	if ctrl == nil {
		return core.ErrJoinAborted
	}

	conn, err := e.deps.Connections.NewConnection(servers, core.SessionID(st.scope.Key()))
	if err != nil {
		return fmt.Errorf("new connection: %w", err)
	}
	conn.OnICECandidate(func(c webrtc.ICECandidateInit) { e.sendCandidate(st, c) })
	conn.OnTrack(func(t core.RemoteTrack) { e.onRemoteTrack(st, conn, t) })
	conn.OnTrackEnded(func(t core.RemoteTrack) { e.store.RemoveRemoteTrack(t.StreamID(), t.ID()) })
	conn.OnConnected(func() { e.onConnected(st, conn) })
	conn.OnClosed(func() { e.onConnectionClosed(st, conn) })

	if err := conn.Start(ctx); err != nil {
		conn.Close()
		return fmt.Errorf("start connection: %w", err)
	}
	for _, t := range ctrl.LocalTracks() {
		sender, err := conn.AddLocalTrack(t)
		if err != nil {
			conn.Close()
			return fmt.Errorf("add %s track: %w", ctrl.KindOf(t), err)
		}
		ctrl.BindSender(ctrl.KindOf(t), sender)
	}

	if !e.attach(st.gen, func(st *session) {
		st.conn = conn
		st.pending = nil
	}) {
		conn.Close()
		return core.ErrJoinAborted
	}
	return nil
}

func (e *Engine) connection(st *session) core.MediaConnection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return st.conn
}

func (e *Engine) remotePeer(st *session) domain.UserID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return st.remote
}

func (e *Engine) onRemoteTrack(st *session, conn core.MediaConnection, t core.RemoteTrack) {
	if e.connection(st) != conn {
		return
	}
	kind := domain.ClassifyTrack(t.Kind() == webrtc.RTPCodecTypeVideo, t.ID())
	owner := e.remotePeer(st)
	e.store.AddRemoteTrack(string(owner), t, kind)
}

func (e *Engine) onConnected(st *session, conn core.MediaConnection) {
	e.mu.Lock()
	if !e.isCurrentLocked(st) || st.conn != conn {
		e.mu.Unlock()
		return
	}
	ok := e.setStateLocked(core.StateConnected)
	e.mu.Unlock()
	if ok {
		e.log.Info().Str("peer", string(e.remotePeer(st))).Msg("media connected")
	}
}

// onConnectionClosed handles a transport that died under us. Closes we
// initiated have already swapped st.conn and are ignored here.
func (e *Engine) onConnectionClosed(st *session, conn core.MediaConnection) {
	e.mu.Lock()
	ours := e.isCurrentLocked(st) && st.conn == conn
	e.mu.Unlock()
	if !ours {
		return
	}
	e.log.Warn().Msg("media connection closed by transport")
	e.resetConnection(st)
}

// resetConnection drops the pinned peer and prepares a new connection so a
// rejoining peer can negotiate from scratch.
func (e *Engine) resetConnection(st *session) {
	e.mu.Lock()
	if !e.isCurrentLocked(st) {
		e.mu.Unlock()
		return
	}
	old, owner := st.conn, st.remote
	st.conn = nil
	st.remote = ""
	st.pending = nil
	if e.state == core.StateConnected {
		e.setStateLocked(core.StateNegotiating)
	}
	e.mu.Unlock()

	if owner != "" {
		e.store.RemoveStreamsOf(string(owner))
	}
	if old != nil {
		old.Close()
	}
	if err := e.openConnection(st); err != nil {
		e.log.Error().Err(err).Msg("reopen connection")
	}
}
