// Package livekit adapts the LiveKit client SDK to core.ManagedRoomConnector.
package livekit

import (
	"context"
	"fmt"
	"strings"

	"github.com/dkeye/voicesession/internal/core"
	"github.com/dkeye/voicesession/internal/domain"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type Connector struct {
	log zerolog.Logger
}

func NewConnector(log zerolog.Logger) *Connector {
	return &Connector{log: log.With().Str("module", "livekit").Logger()}
}

// Connect joins the room behind token. The SDK call cannot be cancelled, so
// when ctx ends first a late room is disconnected in the background.
func (c *Connector) Connect(ctx context.Context, url, token string, ev core.ManagedEvents) (core.ManagedRoom, error) {
	cb := roomCallback(ev)

	type result struct {
		room *lksdk.Room
		err  error
	}
	done := make(chan result, 1)
	go func() {
		r, err := lksdk.ConnectToRoomWithToken(url, token, cb, lksdk.WithAutoSubscribe(true))
		done <- result{r, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("livekit connect %s: %w", url, res.err)
		}
		c.log.Info().Str("url", url).Str("room", res.room.Name()).
			Str("identity", res.room.LocalParticipant.Identity()).Msg("room connected")
		return &Room{room: res.room, log: c.log}, nil
	case <-ctx.Done():
		go func() {
			if res := <-done; res.room != nil {
				res.room.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}
}

func roomCallback(ev core.ManagedEvents) *lksdk.RoomCallback {
	cb := lksdk.NewRoomCallback()
	cb.OnParticipantConnected = func(rp *lksdk.RemoteParticipant) {
		if ev.ParticipantJoined != nil {
			ev.ParticipantJoined(participant(rp))
		}
	}
	cb.OnParticipantDisconnected = func(rp *lksdk.RemoteParticipant) {
		if ev.ParticipantLeft != nil {
			ev.ParticipantLeft(participant(rp))
		}
	}
	cb.OnDisconnected = func() {
		if ev.Disconnected != nil {
			ev.Disconnected()
		}
	}
	cb.ParticipantCallback.OnTrackSubscribed = func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
		if ev.TrackSubscribed != nil {
			ev.TrackSubscribed(participant(rp), track, kindOf(track.Kind() == webrtc.RTPCodecTypeVideo, pub.Source(), pub.Name()))
		}
	}
	cb.ParticipantCallback.OnTrackUnsubscribed = func(track *webrtc.TrackRemote, _ *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
		if ev.TrackUnsubscribed != nil {
			ev.TrackUnsubscribed(participant(rp), track)
		}
	}
	muted := func(on bool) func(lksdk.TrackPublication, lksdk.Participant) {
		return func(pub lksdk.TrackPublication, p lksdk.Participant) {
			if _, local := p.(*lksdk.LocalParticipant); local || ev.TrackMuted == nil {
				return
			}
			isVideo := pub.Kind() == lksdk.TrackKindVideo
			ev.TrackMuted(core.ManagedParticipant{Identity: p.Identity(), Name: p.Name()}, kindOf(isVideo, pub.Source(), pub.Name()), on)
		}
	}
	cb.ParticipantCallback.OnTrackMuted = muted(true)
	cb.ParticipantCallback.OnTrackUnmuted = muted(false)
	return cb
}

func participant(rp *lksdk.RemoteParticipant) core.ManagedParticipant {
	return core.ManagedParticipant{Identity: rp.Identity(), Name: rp.Name()}
}

// kindOf trusts the publication source and falls back to the name.
func kindOf(isVideo bool, src livekit.TrackSource, name string) domain.TrackKind {
	switch src {
	case livekit.TrackSource_SCREEN_SHARE:
		return domain.TrackScreen
	case livekit.TrackSource_MICROPHONE, livekit.TrackSource_SCREEN_SHARE_AUDIO:
		return domain.TrackAudio
	case livekit.TrackSource_CAMERA:
		return domain.TrackVideo
	}
	return domain.ClassifyTrack(isVideo, name)
}

func sourceOf(kind domain.TrackKind) livekit.TrackSource {
	switch kind {
	case domain.TrackAudio:
		return livekit.TrackSource_MICROPHONE
	case domain.TrackScreen:
		return livekit.TrackSource_SCREEN_SHARE
	}
	return livekit.TrackSource_CAMERA
}

func isScreen(src livekit.TrackSource, name string) bool {
	return src == livekit.TrackSource_SCREEN_SHARE || strings.Contains(strings.ToLower(name), domain.ScreenLabel)
}
