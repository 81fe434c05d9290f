package livekit

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/voicesession/internal/core"
	"github.com/dkeye/voicesession/internal/domain"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/rs/zerolog"
)

var errForeignPublication = errors.New("publication does not belong to this room")

type Room struct {
	room *lksdk.Room
	log  zerolog.Logger

	once sync.Once
}

func (r *Room) LocalIdentity() string { return r.room.LocalParticipant.Identity() }

func (r *Room) Participants() []core.ManagedParticipant {
	rps := r.room.GetRemoteParticipants()
	out := make([]core.ManagedParticipant, 0, len(rps))
	for _, rp := range rps {
		out = append(out, participant(rp))
	}
	return out
}

func (r *Room) Publish(track core.LocalTrack, kind domain.TrackKind, name string) (core.Publication, error) {
	lp, err := r.room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   name,
		Source: sourceOf(kind),
	})
	if err != nil {
		return nil, fmt.Errorf("publish %s: %w", name, err)
	}
	r.log.Info().Str("sid", lp.SID()).Str("name", name).Str("kind", kind.String()).Msg("track published")
	return &Publication{pub: lp}, nil
}

func (r *Room) Unpublish(pub core.Publication) error {
	p, ok := pub.(*Publication)
	if !ok {
		return errForeignPublication
	}
	if err := r.room.LocalParticipant.UnpublishTrack(p.SID()); err != nil {
		return fmt.Errorf("unpublish %s: %w", p.SID(), err)
	}
	return nil
}

// Publications lists what the local participant has on the service,
// including publications this process never tracked.
func (r *Room) Publications() []core.Publication {
	var out []core.Publication
	for _, tp := range r.room.LocalParticipant.TrackPublications() {
		if lp, ok := tp.(*lksdk.LocalTrackPublication); ok {
			out = append(out, &Publication{pub: lp})
		}
	}
	return out
}

func (r *Room) Disconnect() {
	r.once.Do(func() {
		r.room.Disconnect()
		r.log.Info().Msg("room disconnected")
	})
}

// Publication mutes instead of detaching: ReplaceTrack(nil) mutes and any
// track unmutes.
type Publication struct {
	pub *lksdk.LocalTrackPublication
}

func (p *Publication) ReplaceTrack(t core.LocalTrack) error {
	p.pub.SetMuted(t == nil)
	return nil
}

func (p *Publication) SID() string  { return p.pub.SID() }
func (p *Publication) Name() string { return p.pub.Name() }

func (p *Publication) Kind() domain.TrackKind {
	return kindOf(p.pub.Kind() == lksdk.TrackKindVideo, p.pub.Source(), p.pub.Name())
}

func (p *Publication) IsScreen() bool { return isScreen(p.pub.Source(), p.pub.Name()) }
