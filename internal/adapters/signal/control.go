package signal

import (
	"github.com/dkeye/voicesession/internal/core"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.sendJSON(conn, core.EventPong, struct{}{})
}

func (ctl *SignalWSController) sendError(conn *WsSignalConn, code, msg string) {
	ctl.Relay.Metrics.Rejected.WithLabelValues(code).Inc()
	ctl.sendJSON(conn, core.EventError, core.ErrorPayload{Code: code, Message: msg})
}

// reject answers before the write pump exists, so it writes directly.
func (ctl *SignalWSController) reject(conn *WsSignalConn, code, msg string) {
	if code != core.CodeSessionFull {
		ctl.Relay.Metrics.Rejected.WithLabelValues(code).Inc()
	}
	frame, err := encode(core.EventError, core.ErrorPayload{Code: code, Message: msg})
	if err != nil {
		return
	}
	if err := conn.writeNow(frame); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("code", code).Msg("reject write")
	}
}
