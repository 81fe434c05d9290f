//go:build !linux

package devices

import (
	"context"

	"github.com/dkeye/voicesession/internal/core"
	"github.com/dkeye/voicesession/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type Devices struct {
	log zerolog.Logger
}

func New(_ domain.MediaConstraints, log zerolog.Logger) (*Devices, error) {
	l := log.With().Str("module", "devices").Logger()
	l.Warn().Msg("no capture on this platform; joining receive-only")
	return &Devices{log: l}, nil
}

// Codecs returns nil so peer connections use pion's default codecs.
func (d *Devices) Codecs() interface{ Populate(*webrtc.MediaEngine) } { return nil }

func (d *Devices) GetUserMedia(context.Context, domain.MediaConstraints) ([]core.LocalTrack, error) {
	return nil, ErrUnsupported
}

func (d *Devices) GetDisplayMedia(context.Context) (core.LocalTrack, error) {
	return nil, ErrUnsupported
}
