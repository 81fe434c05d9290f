package main

import (
	"context"
	"errors"
	"strings"

	"github.com/dkeye/voicesession/internal/domain"
	"github.com/rs/zerolog/log"
)

var errOneSession = errors.New("exactly one session id is required")

// session is the part of the facade the command loop drives.
type session interface {
	ToggleAudio(on bool) error
	ToggleVideo(on bool) error
	StartScreenShare(ctx context.Context) (bool, error)
	StopScreenShare() error
	SendChat(text string) error
	Leave()
}

func pickSession(appointment, room string) (domain.Session, error) {
	switch {
	case appointment != "" && room != "":
		return domain.Session{}, domain.ErrAmbiguousSession
	case appointment != "":
		return domain.NewAppointmentSession(appointment)
	case room != "":
		return domain.NewRoomSession(room)
	}
	return domain.Session{}, errOneSession
}

// run executes one stdin line and reports whether the loop should go on.
func run(ctx context.Context, s session, line string) bool {
	line = strings.TrimSpace(line)
	var err error
	switch line {
	case "":
		return true
	case "/mute":
		err = s.ToggleAudio(false)
	case "/unmute":
		err = s.ToggleAudio(true)
	case "/video on":
		err = s.ToggleVideo(true)
	case "/video off":
		err = s.ToggleVideo(false)
	case "/share":
		var ok bool
		ok, err = s.StartScreenShare(ctx)
		if err == nil && !ok {
			log.Warn().Msg("screen share unavailable")
		}
	case "/unshare":
		err = s.StopScreenShare()
	case "/leave":
		s.Leave()
		return false
	default:
		if strings.HasPrefix(line, "/") {
			log.Warn().Str("command", line).Msg("unknown command")
			return true
		}
		err = s.SendChat(line)
	}
	if err != nil {
		log.Warn().Err(err).Str("command", line).Msg("command failed")
	}
	return true
}
