package signal

import (
	"context"
	"errors"

	"github.com/dkeye/voicesession/internal/core"
	"github.com/dkeye/voicesession/internal/relay"
	"github.com/rs/zerolog/log"
)

// handleForward passes offers, answers, candidates, chat and media state to
// the rest of the session. Only chat can be refused.
func (ctl *SignalWSController) handleForward(ctx context.Context, sid core.SessionID, c *WsSignalConn, env core.Envelope) {
	err := ctl.Relay.Forward(ctx, sid, env)
	switch {
	case err == nil:
	case errors.Is(err, relay.ErrRateLimited):
		ctl.sendError(c, core.CodeRateLimited, env.Type)
	case errors.Is(err, relay.ErrBadPayload):
		ctl.sendError(c, core.CodeBadPayload, env.Type)
	default:
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("type", env.Type).Msg("forward")
	}
}
