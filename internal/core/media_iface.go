package core

import (
	"context"

	"github.com/dkeye/voicesession/internal/domain"
	"github.com/pion/webrtc/v4"
)

// LocalTrack is a captured outgoing track. pion/mediadevices tracks satisfy it.
type LocalTrack interface {
	webrtc.TrackLocal
	// OnEnded fires when the source stops on its own (device unplugged,
	// screen share stopped from the OS).
	OnEnded(func(error))
	Close() error
}

// RemoteTrack is the read-only view of an incoming track. *webrtc.TrackRemote
// satisfies it; consumers that need RTP type-assert back.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// Sender is an outgoing slot. ReplaceTrack(nil) detaches the payload without
// renegotiating.
type Sender interface {
	ReplaceTrack(track LocalTrack) error
}

// MediaDevices is the platform capture API. Only the track controller calls it.
type MediaDevices interface {
	GetUserMedia(ctx context.Context, c domain.MediaConstraints) ([]LocalTrack, error)
	GetDisplayMedia(ctx context.Context) (LocalTrack, error)
}

type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources.
	Close()
	IsClosed() bool
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	HasRemoteDescription() bool
	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(RemoteTrack))
	// OnTrackEnded fires once the receiver of a remote track stops.
	OnTrackEnded(func(RemoteTrack))
	OnConnected(func())
	// OnClosed sets a callback for cleanup media session.
	OnClosed(func())
	// AddLocalTrack attaches a local track and returns its sender.
	AddLocalTrack(LocalTrack) (Sender, error)
}

type MediaConnectionFactory interface {
	NewConnection(servers []domain.ICEServer, sid SessionID) (MediaConnection, error)
}

// MediaSink is a render target. The managed engine attaches every local and
// remote handle to one.
type MediaSink interface {
	AttachLocal(track LocalTrack, kind domain.TrackKind)
	AttachRemote(participantID string, track RemoteTrack, kind domain.TrackKind)
	Detach(participantID, trackID string)
}
