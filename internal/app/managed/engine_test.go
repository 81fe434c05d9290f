package managed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/voicesession/internal/core"
	"github.com/dkeye/voicesession/internal/core/mocks"
	"github.com/dkeye/voicesession/internal/domain"
	"github.com/dkeye/voicesession/internal/testkit"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fixture struct {
	engine    *Engine
	devices   *testkit.Devices
	connector *testkit.ManagedConnector
	hub       *testkit.Hub
	sink      *testkit.Sink
}

func newFixture(t *testing.T, capability domain.Capability) *fixture {
	ctrl := gomock.NewController(t)
	caps := mocks.NewMockCapabilityProvider(ctrl)
	caps.EXPECT().FetchCapability(gomock.Any(), gomock.Any()).Return(capability, nil).AnyTimes()

	f := &fixture{
		devices:   testkit.NewDevices("alice"),
		connector: &testkit.ManagedConnector{Identity: "alice"},
		hub:       testkit.NewHub(),
		sink:      testkit.NewSink(),
	}
	f.engine = New(Config{
		Self:           domain.User{ID: "alice", DisplayName: "Alice"},
		SignalEndpoint: "mem://relay",
		Constraints:    domain.DefaultConstraints(),
		URL:            "wss://fallback.example",
	}, Deps{
		Capabilities: caps,
		Devices:      f.devices,
		Connector:    f.connector,
		Dialer:       f.hub,
		Sink:         f.sink,
	}, zerolog.Nop())
	return f
}

func managedCapability() domain.Capability {
	return domain.Capability{Provider: domain.ProviderManaged, Token: "jwt", RoomName: "apt-7"}
}

func room(t *testing.T) domain.Session {
	s, err := domain.NewRoomSession("r-1")
	require.NoError(t, err)
	return s
}

func (f *fixture) room(t *testing.T) *testkit.ManagedRoom {
	rooms := f.connector.Rooms()
	require.NotEmpty(t, rooms)
	return rooms[len(rooms)-1]
}

func TestJoinPublishesAndConnects(t *testing.T) {
	f := newFixture(t, managedCapability())
	f.connector.Present = []core.ManagedParticipant{{Identity: "bob", Name: "Bob"}}

	require.NoError(t, f.engine.Join(context.Background(), room(t)))
	defer f.engine.Leave()

	assert.Equal(t, core.StateConnected, f.engine.State())
	url, token := f.connector.Last()
	assert.Equal(t, "wss://fallback.example", url)
	assert.Equal(t, "jwt", token)

	pubs := f.room(t).Publications()
	require.Len(t, pubs, 2)
	assert.Equal(t, domain.TrackAudio, pubs[0].Kind())
	assert.Equal(t, domain.TrackVideo, pubs[1].Kind())
	assert.Equal(t, []domain.TrackKind{domain.TrackAudio, domain.TrackVideo}, f.sink.Locals())

	snap := f.engine.Store().Snapshot()
	require.Len(t, snap.Participants, 2)
	assert.Equal(t, "Bob", snap.Participants[1].DisplayName)
}

func TestProviderMismatch(t *testing.T) {
	f := newFixture(t, domain.Capability{Provider: domain.ProviderNative})
	err := f.engine.Join(context.Background(), room(t))

	var pme *core.ProviderMismatchError
	require.ErrorAs(t, err, &pme)
	assert.Equal(t, domain.ProviderManaged, pme.Want)
	assert.Equal(t, 0, f.devices.Acquisitions())
	assert.Empty(t, f.connector.Rooms())
}

func TestConnectFailureReleasesMedia(t *testing.T) {
	f := newFixture(t, managedCapability())
	f.connector.Err = errors.New("401")

	require.Error(t, f.engine.Join(context.Background(), room(t)))
	assert.Equal(t, core.StateFailed, f.engine.State())
	assert.Equal(t, 0, f.devices.Open())
	assert.Equal(t, 0, f.hub.Dials())
}

func TestRosterFollowsRoomEvents(t *testing.T) {
	f := newFixture(t, managedCapability())
	require.NoError(t, f.engine.Join(context.Background(), room(t)))
	defer f.engine.Leave()
	r := f.room(t)

	bob := core.ManagedParticipant{Identity: "bob", Name: "Bob"}
	r.Join(bob)
	cam := testkit.RemoteTrack{TrackID: "TR_cam", Stream: "PA_bob", Type: webrtc.RTPCodecTypeVideo}
	mic := testkit.RemoteTrack{TrackID: "TR_mic", Stream: "PA_bob", Type: webrtc.RTPCodecTypeAudio}
	r.Subscribe(bob, cam, domain.TrackVideo)
	r.Subscribe(bob, mic, domain.TrackAudio)

	snap := f.engine.Store().Snapshot()
	require.Len(t, snap.Participants, 2)
	require.Contains(t, snap.RemoteStreams, "PA_bob")
	assert.Len(t, snap.RemoteStreams["PA_bob"].Tracks, 2)
	assert.Equal(t, 2, f.sink.Remotes())

	r.Mute(bob, domain.TrackAudio, true)
	p := f.engine.Store().Snapshot().Participants[1]
	assert.False(t, p.MicOn)
	assert.True(t, p.VideoOn)

	r.Unsubscribe(bob, cam)
	assert.Equal(t, 1, f.sink.Remotes())

	r.Leave(bob)
	snap = f.engine.Store().Snapshot()
	assert.Len(t, snap.Participants, 1)
	assert.Empty(t, snap.RemoteStreams)
}

func TestToggleMutesPublication(t *testing.T) {
	f := newFixture(t, managedCapability())
	require.NoError(t, f.engine.Join(context.Background(), room(t)))
	defer f.engine.Leave()

	f.engine.ToggleAudio(false)
	audio := f.room(t).Publications()[0].(*testkit.Publication)
	assert.Nil(t, audio.Current())
	f.engine.ToggleAudio(true)
	assert.NotNil(t, audio.Current())
	assert.Equal(t, 1, f.devices.Acquisitions())
}

func TestScreenSharePublishesSeparateTrack(t *testing.T) {
	f := newFixture(t, managedCapability())
	require.NoError(t, f.engine.Join(context.Background(), room(t)))
	defer f.engine.Leave()
	r := f.room(t)

	require.True(t, f.engine.StartScreenShare(context.Background()))
	pubs := r.Publications()
	require.Len(t, pubs, 3)
	assert.Contains(t, f.sink.Locals(), domain.TrackScreen)
	assert.True(t, pubs[2].IsScreen())
	assert.Equal(t, domain.ScreenLabel, pubs[2].Name())
	assert.True(t, f.engine.Store().Snapshot().ScreenSharing)

	// the OS ends the capture
	f.devices.LastScreen().End(nil)
	assert.Len(t, r.Publications(), 2)
	assert.Equal(t, []domain.TrackKind{domain.TrackAudio, domain.TrackVideo}, f.sink.Locals())
	assert.False(t, f.engine.Store().Snapshot().ScreenSharing)
}

func TestStopScreenShareFindsUntrackedPublication(t *testing.T) {
	f := newFixture(t, managedCapability())
	require.NoError(t, f.engine.Join(context.Background(), room(t)))
	defer f.engine.Leave()
	r := f.room(t)

	r.AddPublication("Screen (desktop)", domain.TrackVideo)
	require.Len(t, r.Publications(), 3)

	f.engine.StopScreenShare()
	pubs := r.Publications()
	require.Len(t, pubs, 2)
	for _, p := range pubs {
		assert.False(t, p.IsScreen())
	}
}

func TestLeaveReleasesEverything(t *testing.T) {
	f := newFixture(t, managedCapability())
	require.NoError(t, f.engine.Join(context.Background(), room(t)))
	require.True(t, f.engine.StartScreenShare(context.Background()))
	r := f.room(t)

	f.engine.Leave()
	f.engine.Leave()
	assert.Equal(t, core.StateIdle, f.engine.State())
	assert.Equal(t, 0, f.devices.Open())
	assert.Empty(t, r.Publications())
	assert.Equal(t, 1, r.Disconnects())
	assert.Empty(t, f.hub.Members(room(t).Key()))
	assert.Empty(t, f.sink.Locals())
}

func TestLeaveDuringSignalConnect(t *testing.T) {
	f := newFixture(t, managedCapability())
	dialer := testkit.NewGatedDialer(f.hub)
	f.engine.deps.Dialer = dialer

	done := make(chan error, 1)
	go func() { done <- f.engine.Join(context.Background(), room(t)) }()
	select {
	case <-dialer.Entered:
	case <-time.After(2 * time.Second):
		t.Fatal("join never reached the signal dial")
	}

	f.engine.Leave()
	dialer.Release()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, core.ErrJoinAborted)
	case <-time.After(2 * time.Second):
		t.Fatal("join did not return")
	}
	assert.Equal(t, core.StateIdle, f.engine.State())
	assert.Empty(t, f.hub.Members(room(t).Key()))
	assert.Equal(t, 1, f.room(t).Disconnects())
	assert.Empty(t, f.room(t).Publications())
	assert.Equal(t, 0, f.devices.Open())
	assert.Empty(t, f.sink.Locals())
}

func TestServiceDisconnectEndsSession(t *testing.T) {
	f := newFixture(t, managedCapability())
	require.NoError(t, f.engine.Join(context.Background(), room(t)))

	f.room(t).Drop()
	require.Eventually(t, func() bool { return f.engine.State() == core.StateIdle }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, f.devices.Open())
}

func TestChatOverSignalChannel(t *testing.T) {
	f := newFixture(t, managedCapability())
	require.NoError(t, f.engine.Join(context.Background(), room(t)))
	defer f.engine.Leave()

	other, err := f.hub.Connect(context.Background(), "mem://relay",
		domain.NewAuthPayload(domain.User{ID: "bob", DisplayName: "Bob"}, room(t), ""))
	require.NoError(t, err)
	defer other.Disconnect()

	require.NoError(t, other.Emit(core.EventChat, core.NewChatPayload(room(t), "Bob", "hey")))
	require.Eventually(t, func() bool {
		return len(f.engine.Store().Snapshot().Messages) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, f.engine.SendChat("hi"))
	msgs := f.engine.Store().Snapshot().Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, "Bob", msgs[0].Sender)
	assert.True(t, msgs[1].Local)
}

func TestPlaceholderSinkEmptiesAcrossCycles(t *testing.T) {
	f := newFixture(t, managedCapability())
	sink := NewPlaceholderSink()
	f.engine.sink = sink

	for i := 0; i < 2; i++ {
		require.NoError(t, f.engine.Join(context.Background(), room(t)))
		require.True(t, f.engine.StartScreenShare(context.Background()))
		local, _ := sink.Attached()
		assert.Equal(t, 3, local)

		f.engine.StopScreenShare()
		local, _ = sink.Attached()
		assert.Equal(t, 2, local)

		f.engine.Leave()
		local, remote := sink.Attached()
		assert.Zero(t, local)
		assert.Zero(t, remote)
	}
}
