// Package media owns the local capture tracks of one session.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/voicesession/internal/core"
	"github.com/dkeye/voicesession/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

var ErrNoDevice = errors.New("no capture device available")

// ScreenPublisher puts a screen capture on the wire as a track of its own
// instead of substituting it into the camera sender.
type ScreenPublisher interface {
	PublishScreen(t core.LocalTrack) error
	UnpublishScreen()
}

// Controller is the only component holding raw capture handles. Engines hand
// it the outgoing senders; it never sees the connection itself.
type Controller struct {
	devices core.MediaDevices
	log     zerolog.Logger

	mu        sync.Mutex
	acquired  bool
	gen       uint64
	audio     core.LocalTrack
	video     core.LocalTrack
	screen    core.LocalTrack
	shareGen  uint64
	reverting bool
	senders   map[domain.TrackKind]core.Sender
	publisher ScreenPublisher
	state     domain.MediaState
	onChange  func(domain.MediaState)
}

func NewController(devices core.MediaDevices, log zerolog.Logger) *Controller {
	return &Controller{
		devices: devices,
		log:     log.With().Str("module", "media").Logger(),
		senders: make(map[domain.TrackKind]core.Sender),
	}
}

// OnChange sets a callback fired after every state change.
func (c *Controller) OnChange(fn func(domain.MediaState)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// UseScreenPublisher switches screen share from camera substitution to a
// separate publication.
func (c *Controller) UseScreenPublisher(p ScreenPublisher) {
	c.mu.Lock()
	c.publisher = p
	c.mu.Unlock()
}

func (c *Controller) State() domain.MediaState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) changed() {
	c.mu.Lock()
	fn, st := c.onChange, c.state
	c.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

// Acquire requests camera and microphone. Calling it twice without ReleaseAll
// in between returns ErrAlreadyAcquired.
func (c *Controller) Acquire(ctx context.Context, cons domain.MediaConstraints) (domain.MediaState, error) {
	c.mu.Lock()
	if c.acquired {
		st := c.state
		c.mu.Unlock()
		return st, core.ErrAlreadyAcquired
	}
	c.acquired = true
	gen := c.gen
	c.mu.Unlock()

	tracks, err := c.devices.GetUserMedia(ctx, cons)
	if err == nil && len(tracks) == 0 {
		err = ErrNoDevice
	}
	if err != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.acquired = false
		}
		c.mu.Unlock()
		return domain.MediaState{}, &core.MediaAcquisitionError{Err: err}
	}

	var audio, video core.LocalTrack
	var extra []core.LocalTrack
	for _, t := range tracks {
		switch {
		case t.Kind() == webrtc.RTPCodecTypeAudio && audio == nil:
			audio = t
		case t.Kind() == webrtc.RTPCodecTypeVideo && video == nil:
			video = t
		default:
			extra = append(extra, t)
		}
	}
	closeTracks(c.log, extra...)

	c.mu.Lock()
	if c.gen != gen {
		// released while the platform was prompting
		c.mu.Unlock()
		closeTracks(c.log, audio, video)
		return domain.MediaState{}, core.ErrJoinAborted
	}
	c.audio, c.video = audio, video
	c.state = domain.MediaState{MicOn: audio != nil, VideoOn: video != nil}
	st := c.state
	c.mu.Unlock()

	c.log.Info().Bool("audio", st.MicOn).Bool("video", st.VideoOn).Msg("local media acquired")
	c.changed()
	return st, nil
}

// LocalTracks returns the capture tracks in audio, video order.
func (c *Controller) LocalTracks() []core.LocalTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []core.LocalTrack
	if c.audio != nil {
		out = append(out, c.audio)
	}
	if c.video != nil {
		out = append(out, c.video)
	}
	return out
}

// KindOf maps a track returned by LocalTracks to its kind.
func (c *Controller) KindOf(t core.LocalTrack) domain.TrackKind {
	if t.Kind() == webrtc.RTPCodecTypeAudio {
		return domain.TrackAudio
	}
	return domain.TrackVideo
}

// BindSender hands over the outgoing slot for kind. A track toggled off before
// its sender existed is detached right away, and a running screen share moves
// to the new video sender.
func (c *Controller) BindSender(kind domain.TrackKind, s core.Sender) {
	c.mu.Lock()
	c.senders[kind] = s
	screen := c.screen
	if c.publisher != nil {
		screen = nil
	}
	off := (kind == domain.TrackAudio && !c.state.MicOn) || (kind == domain.TrackVideo && !c.state.VideoOn)
	c.mu.Unlock()
	if s == nil {
		return
	}
	switch {
	case kind == domain.TrackVideo && screen != nil:
		if err := s.ReplaceTrack(screen); err != nil {
			c.log.Warn().Err(err).Msg("carry screen share to new sender")
		}
	case off:
		if err := s.ReplaceTrack(nil); err != nil {
			c.log.Warn().Err(err).Str("kind", kind.String()).Msg("detach on bind")
		}
	}
}

// ToggleAudio enables or disables the outgoing microphone in place.
func (c *Controller) ToggleAudio(on bool) {
	c.toggle(domain.TrackAudio, on)
}

// ToggleVideo enables or disables the outgoing camera in place. While a screen
// share is active only the flag changes; the revert honours it.
func (c *Controller) ToggleVideo(on bool) {
	c.toggle(domain.TrackVideo, on)
}

func (c *Controller) toggle(kind domain.TrackKind, on bool) {
	c.mu.Lock()
	track := c.audio
	cur := c.state.MicOn
	if kind == domain.TrackVideo {
		track, cur = c.video, c.state.VideoOn
	}
	if track == nil || cur == on {
		c.mu.Unlock()
		return
	}
	sender := c.senders[kind]
	sharing := kind == domain.TrackVideo && c.screen != nil && c.publisher == nil
	c.mu.Unlock()

	if sender != nil && !sharing {
		var next core.LocalTrack
		if on {
			next = track
		}
		if err := sender.ReplaceTrack(next); err != nil {
			c.log.Warn().Err(err).Str("kind", kind.String()).Bool("on", on).Msg("toggle failed")
			return
		}
	}

	c.mu.Lock()
	if kind == domain.TrackAudio {
		c.state.MicOn = on
	} else {
		c.state.VideoOn = on
	}
	c.mu.Unlock()
	c.log.Info().Str("kind", kind.String()).Bool("on", on).Msg("toggled")
	c.changed()
}

// StartScreenShare substitutes a display capture for the outgoing camera with a
// single ReplaceTrack call, or hands it to the ScreenPublisher when one is set.
// The share reverts on its own once the source ends.
func (c *Controller) StartScreenShare(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.screen != nil {
		c.mu.Unlock()
		return true, nil
	}
	sender := c.senders[domain.TrackVideo]
	publisher := c.publisher
	gen := c.gen
	acquired := c.acquired
	c.mu.Unlock()
	if !acquired || (sender == nil && publisher == nil) {
		return false, core.ErrScreenShareUnavailable
	}

	screen, err := c.devices.GetDisplayMedia(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %v", core.ErrScreenShareUnavailable, err)
	}
	if publisher != nil {
		err = publisher.PublishScreen(screen)
	} else {
		err = sender.ReplaceTrack(screen)
	}
	if err != nil {
		closeTracks(c.log, screen)
		return false, fmt.Errorf("%w: %v", core.ErrScreenShareUnavailable, err)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		closeTracks(c.log, screen)
		return false, core.ErrScreenShareUnavailable
	}
	c.screen = screen
	c.shareGen++
	share := c.shareGen
	c.state.ScreenSharing = true
	c.mu.Unlock()

	screen.OnEnded(func(err error) {
		c.log.Info().AnErr("cause", err).Msg("screen source ended")
		c.revert(share)
	})
	c.log.Info().Str("track", screen.ID()).Msg("screen share started")
	c.changed()
	return true, nil
}

// StopScreenShare reverts to the camera. No-op when not sharing.
func (c *Controller) StopScreenShare() {
	c.mu.Lock()
	share := c.shareGen
	c.mu.Unlock()
	c.revert(share)
}

// revert runs at most once per share: the camera comes back only after the
// replace call confirms.
func (c *Controller) revert(share uint64) {
	c.mu.Lock()
	if c.screen == nil || c.shareGen != share || c.reverting {
		c.mu.Unlock()
		return
	}
	c.reverting = true
	screen := c.screen
	sender := c.senders[domain.TrackVideo]
	publisher := c.publisher
	var camera core.LocalTrack
	if c.state.VideoOn {
		camera = c.video
	}
	c.mu.Unlock()

	if publisher != nil {
		publisher.UnpublishScreen()
	} else if sender != nil {
		if err := sender.ReplaceTrack(camera); err != nil {
			c.log.Warn().Err(err).Msg("screen share revert failed")
			c.mu.Lock()
			c.reverting = false
			c.mu.Unlock()
			return
		}
	}

	c.mu.Lock()
	c.screen = nil
	c.reverting = false
	c.state.ScreenSharing = false
	c.mu.Unlock()

	closeTracks(c.log, screen)
	c.log.Info().Msg("screen share stopped")
	c.changed()
}

// ReleaseAll stops every local track. Idempotent.
func (c *Controller) ReleaseAll() {
	c.mu.Lock()
	c.gen++
	c.shareGen++
	tracks := []core.LocalTrack{c.audio, c.video, c.screen}
	was := c.acquired
	c.audio, c.video, c.screen = nil, nil, nil
	c.acquired = false
	c.reverting = false
	c.senders = make(map[domain.TrackKind]core.Sender)
	c.state = domain.MediaState{}
	c.mu.Unlock()

	closeTracks(c.log, tracks...)
	if was {
		c.log.Info().Msg("local media released")
		c.changed()
	}
}

func closeTracks(log zerolog.Logger, tracks ...core.LocalTrack) {
	for _, t := range tracks {
		if t == nil {
			continue
		}
		if err := t.Close(); err != nil {
			log.Warn().Err(err).Str("track", t.ID()).Msg("close track")
		}
	}
}
