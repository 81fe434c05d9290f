package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dkeye/voicesession/internal/core"
	"github.com/dkeye/voicesession/internal/domain"
	"github.com/dkeye/voicesession/internal/relay"
	"github.com/rs/zerolog/log"
)

// handleAuth reads the first frame and admits the member. On success the
// write pump is running and the welcome is queued ahead of anything else.
func (ctl *SignalWSController) handleAuth(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, c *WsSignalConn) bool {
	if err := c.conn.SetReadDeadline(time.Now().Add(ctl.cfg.PongWait)); err != nil {
		return false
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("no auth frame")
		return false
	}
	var env core.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != core.EventAuth {
		ctl.reject(c, core.CodeBadAuth, "first frame must be auth")
		return false
	}
	var auth domain.AuthPayload
	if err := json.Unmarshal(env.Payload, &auth); err != nil {
		ctl.reject(c, core.CodeBadAuth, "malformed auth payload")
		return false
	}
	scope, err := auth.Session()
	if err != nil || auth.UserID == "" || len(auth.UserID) > domain.MaxUserIDLen {
		ctl.reject(c, core.CodeBadAuth, "auth needs a user and exactly one session id")
		return false
	}
	name := auth.DisplayName
	if len(name) > domain.MaxDisplayNameLen {
		name = name[:domain.MaxDisplayNameLen]
	}

	m := &relay.Member{
		ID:    sid,
		User:  domain.User{ID: auth.UserID, DisplayName: name, Role: auth.Role},
		Scope: scope,
		Conn:  c,
	}
	peers, replaced, err := ctl.Relay.Admit(m, func() {
		cancel()
		c.Close()
	})
	if errors.Is(err, relay.ErrSessionFull) {
		ctl.reject(c, core.CodeSessionFull, scope.Key())
		return false
	}
	if err != nil {
		ctl.reject(c, core.CodeBadAuth, err.Error())
		return false
	}

	go ctl.writePump(ctx, sid, c)
	ctl.sendJSON(c, core.EventWelcome, core.WelcomePayload{Session: scope, Peers: peers})
	if !replaced {
		ctl.Relay.Announce(sid, core.EventPeerJoined, m.PeerInfo())
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("session", scope.Key()).
		Str("user", string(auth.UserID)).Int("peers", len(peers)).Msg("auth accepted")
	return true
}

func (ctl *SignalWSController) handleLeave(sid core.SessionID) {
	ctl.Relay.Leave(sid)
}
