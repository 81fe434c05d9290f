package app

import (
	"testing"

	"github.com/dkeye/voicesession/internal/domain"
	"github.com/dkeye/voicesession/internal/testkit"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func remote(stream, id string, kind webrtc.RTPCodecType) testkit.RemoteTrack {
	return testkit.RemoteTrack{TrackID: id, Stream: stream, Type: kind}
}

func TestRosterCountsDistinctStreams(t *testing.T) {
	s := NewStore(domain.User{ID: "me", DisplayName: "Me"}, RosterByStream, zerolog.Nop())
	assert.Len(t, s.Snapshot().Participants, 1)

	s.AddRemoteTrack("bob", remote("s1", "a", webrtc.RTPCodecTypeAudio), domain.TrackAudio)
	s.AddRemoteTrack("bob", remote("s1", "v", webrtc.RTPCodecTypeVideo), domain.TrackVideo)
	s.AddRemoteTrack("bob", remote("s2", "screen", webrtc.RTPCodecTypeVideo), domain.TrackScreen)
	snap := s.Snapshot()
	require.Len(t, snap.Participants, 3)
	assert.True(t, snap.Participants[0].Local)
	assert.Len(t, snap.RemoteStreams, 2)

	require.True(t, s.RemoveStream("s2"))
	assert.Len(t, s.Snapshot().Participants, 2)
}

func TestPeerMediaOverridesAssumedOn(t *testing.T) {
	s := NewStore(domain.User{ID: "me"}, RosterByStream, zerolog.Nop())
	s.AddRemoteTrack("bob", remote("s1", "a", webrtc.RTPCodecTypeAudio), domain.TrackAudio)
	assert.True(t, s.Snapshot().Participants[1].MicOn)

	s.SetPeerMedia("bob", domain.MediaState{MicOn: false, VideoOn: true})
	p := s.Snapshot().Participants[1]
	assert.False(t, p.MicOn)
	assert.True(t, p.VideoOn)
}

func TestByParticipantIgnoresStreams(t *testing.T) {
	s := NewStore(domain.User{ID: "me"}, RosterByParticipant, zerolog.Nop())
	s.UpsertParticipant("alice", "Alice")
	s.AddRemoteTrack("alice", remote("x", "a", webrtc.RTPCodecTypeAudio), domain.TrackAudio)
	s.AddRemoteTrack("alice", remote("y", "v", webrtc.RTPCodecTypeVideo), domain.TrackVideo)
	assert.Len(t, s.Snapshot().Participants, 2)

	s.SetParticipantMedia("alice", domain.TrackAudio, false)
	assert.False(t, s.Snapshot().Participants[1].MicOn)

	s.RemoveParticipant("alice")
	snap := s.Snapshot()
	assert.Len(t, snap.Participants, 1)
	assert.Empty(t, snap.RemoteStreams)
}

func TestResetClearsChatAndRoster(t *testing.T) {
	s := NewStore(domain.User{ID: "me"}, RosterByStream, zerolog.Nop())
	s.AppendChat(domain.NewChatMessage("me", "hi", true))
	s.AddRemoteTrack("bob", remote("s1", "a", webrtc.RTPCodecTypeAudio), domain.TrackAudio)
	s.Reset()
	snap := s.Snapshot()
	assert.Empty(t, snap.Messages)
	assert.Len(t, snap.Participants, 1)
}
