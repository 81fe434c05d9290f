//go:build linux

package devices

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/voicesession/internal/core"
	"github.com/dkeye/voicesession/internal/domain"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/rs/zerolog"
)

type Devices struct {
	selector *mediadevices.CodecSelector
	log      zerolog.Logger
}

// New prepares VP8 and Opus encoders. The returned CodecSelector must also
// populate every peer connection the tracks are added to.
func New(c domain.MediaConstraints, log zerolog.Logger) (*Devices, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	if c.VideoBitrate > 0 {
		vpxParams.BitRate = c.VideoBitrate
	}
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	d := &Devices{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		log: log.With().Str("module", "devices").Logger(),
	}
	for _, info := range mediadevices.EnumerateDevices() {
		d.log.Debug().Str("kind", fmt.Sprint(info.Kind)).Str("label", info.Label).Msg("media device")
	}
	return d, nil
}

// Codecs is handed to the peer connection factory.
func (d *Devices) Codecs() *mediadevices.CodecSelector { return d.selector }

func (d *Devices) GetUserMedia(ctx context.Context, c domain.MediaConstraints) ([]core.LocalTrack, error) {
	var errs []error
	for _, a := range plan(c) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
		if a.video {
			constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
				// raw formats only; MJPEG nodes on some cameras poison the encoder
				mc.FrameFormat = prop.FrameFormatOneOf{frame.FormatYUYV, frame.FormatI420, frame.FormatI444, frame.FormatRGBA}
				if c.Width > 0 {
					mc.Width = prop.IntRanged{Max: c.Width}
				}
				if c.Height > 0 {
					mc.Height = prop.IntRanged{Max: c.Height}
				}
			}
		}
		if a.audio {
			constraints.Audio = func(*mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			d.log.Warn().Err(err).Str("attempt", a.label).Msg("GetUserMedia failed")
			errs = append(errs, fmt.Errorf("%s: %w", a.label, err))
			continue
		}
		tracks := stream.GetTracks()
		out := make([]core.LocalTrack, 0, len(tracks))
		for _, t := range tracks {
			out = append(out, t)
		}
		d.log.Info().Str("attempt", a.label).Int("tracks", len(out)).Msg("local media captured")
		return out, nil
	}
	if len(errs) == 0 {
		return nil, nil
	}
	return nil, errors.Join(errs...)
}

func (d *Devices) GetDisplayMedia(ctx context.Context) (core.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(mc *mediadevices.MediaTrackConstraints) {
			mc.FrameFormat = prop.FrameFormatOneOf{frame.FormatI420, frame.FormatRGBA}
		},
		Codec: d.selector,
	})
	if err != nil {
		return nil, fmt.Errorf("display capture: %w", err)
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, errors.New("display capture returned no video")
	}
	for _, extra := range tracks[1:] {
		_ = extra.Close()
	}
	d.log.Info().Str("track_id", tracks[0].ID()).Msg("screen captured")
	return tracks[0], nil
}
