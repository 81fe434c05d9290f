package core

import (
	"context"

	"github.com/dkeye/voicesession/internal/domain"
)

// ManagedParticipant is a member of a room on the managed media service.
type ManagedParticipant struct {
	Identity string
	Name     string
}

// Publication is one outgoing track on the managed service. As a Sender,
// ReplaceTrack(nil) mutes it and any other value unmutes it.
type Publication interface {
	Sender
	SID() string
	Name() string
	Kind() domain.TrackKind
	IsScreen() bool
}

// ManagedEvents are delivered from the service's goroutines.
type ManagedEvents struct {
	ParticipantJoined func(p ManagedParticipant)
	ParticipantLeft   func(p ManagedParticipant)
	TrackSubscribed   func(p ManagedParticipant, track RemoteTrack, kind domain.TrackKind)
	TrackUnsubscribed func(p ManagedParticipant, track RemoteTrack)
	TrackMuted        func(p ManagedParticipant, kind domain.TrackKind, muted bool)
	Disconnected      func()
}

// ManagedRoom is a joined room on the managed service.
type ManagedRoom interface {
	LocalIdentity() string
	Participants() []ManagedParticipant
	Publish(track LocalTrack, kind domain.TrackKind, name string) (Publication, error)
	Unpublish(pub Publication) error
	Publications() []Publication
	Disconnect()
}

type ManagedRoomConnector interface {
	Connect(ctx context.Context, url, token string, ev ManagedEvents) (ManagedRoom, error)
}
