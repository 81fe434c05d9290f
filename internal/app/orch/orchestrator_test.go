package orch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/voicesession/internal/app"
	"github.com/dkeye/voicesession/internal/app/peer"
	"github.com/dkeye/voicesession/internal/core"
	"github.com/dkeye/voicesession/internal/core/mocks"
	"github.com/dkeye/voicesession/internal/domain"
	"github.com/dkeye/voicesession/internal/testkit"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// stubEngine records what the facade forwards.
type stubEngine struct {
	provider domain.Provider
	caps     core.CapabilityProvider
	store    *app.Store

	mu      sync.Mutex
	state   core.EngineState
	joinErr error
	calls   []string
	fetched domain.Capability
}

func (s *stubEngine) record(c string) {
	s.mu.Lock()
	s.calls = append(s.calls, c)
	s.mu.Unlock()
}

func (s *stubEngine) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *stubEngine) Provider() domain.Provider { return s.provider }
func (s *stubEngine) Store() *app.Store         { return s.store }
func (s *stubEngine) State() core.EngineState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *stubEngine) Join(ctx context.Context, sess domain.Session) error {
	s.record("join")
	c, err := s.caps.FetchCapability(ctx, sess)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched = c
	if s.joinErr != nil {
		s.state = core.StateFailed
		return s.joinErr
	}
	s.state = core.StateConnected
	return nil
}

func (s *stubEngine) Leave() {
	s.record("leave")
	s.mu.Lock()
	s.state = core.StateIdle
	s.mu.Unlock()
}

func (s *stubEngine) ToggleAudio(on bool) { s.record("audio") }
func (s *stubEngine) ToggleVideo(on bool) { s.record("video") }
func (s *stubEngine) StartScreenShare(context.Context) bool {
	s.record("share")
	return true
}
func (s *stubEngine) StopScreenShare() { s.record("unshare") }
func (s *stubEngine) SendChat(text string) error {
	s.record("chat")
	return nil
}

type built struct {
	mu      sync.Mutex
	engines []*stubEngine
	joinErr error
}

func (b *built) builder(p domain.Provider) EngineBuilder {
	return func(caps core.CapabilityProvider, store *app.Store) Engine {
		b.mu.Lock()
		defer b.mu.Unlock()
		e := &stubEngine{provider: p, caps: caps, store: store, joinErr: b.joinErr}
		b.engines = append(b.engines, e)
		return e
	}
}

func (b *built) last() *stubEngine {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.engines[len(b.engines)-1]
}

func appointment(t *testing.T) domain.Session {
	s, err := domain.NewAppointmentSession("apt-9")
	require.NoError(t, err)
	return s
}

func newFacade(t *testing.T, c domain.Capability, times int) (*Orchestrator, *built) {
	ctrl := gomock.NewController(t)
	caps := mocks.NewMockCapabilityProvider(ctrl)
	caps.EXPECT().FetchCapability(gomock.Any(), gomock.Any()).Return(c, nil).Times(times)

	b := &built{}
	o := New(domain.User{ID: "u1", DisplayName: "U"}, caps, map[domain.Provider]EngineBuilder{
		domain.ProviderNative:  b.builder(domain.ProviderNative),
		domain.ProviderManaged: b.builder(domain.ProviderManaged),
	}, zerolog.Nop())
	t.Cleanup(o.Close)
	return o, b
}

func TestJoinDispatchesByProviderWithOneFetch(t *testing.T) {
	for _, p := range []domain.Provider{domain.ProviderNative, domain.ProviderManaged} {
		t.Run(string(p), func(t *testing.T) {
			c := domain.Capability{Provider: p, Token: "t-" + string(p)}
			o, b := newFacade(t, c, 1)

			require.NoError(t, o.Join(context.Background(), appointment(t)))
			got, ok := o.Provider()
			require.True(t, ok)
			assert.Equal(t, p, got)
			assert.Equal(t, c, b.last().fetched)
			assert.Equal(t, core.StateConnected, o.State())
		})
	}
}

func TestOperationsBeforeJoin(t *testing.T) {
	o, _ := newFacade(t, domain.Capability{}, 0)
	assert.ErrorIs(t, o.ToggleAudio(false), core.ErrNotJoined)
	assert.ErrorIs(t, o.ToggleVideo(false), core.ErrNotJoined)
	assert.ErrorIs(t, o.SendChat("x"), core.ErrNotJoined)
	assert.ErrorIs(t, o.StopScreenShare(), core.ErrNotJoined)
	_, err := o.StartScreenShare(context.Background())
	assert.ErrorIs(t, err, core.ErrNotJoined)
	_, ok := o.Provider()
	assert.False(t, ok)
	o.Leave()
}

func TestSecondJoinRejected(t *testing.T) {
	o, b := newFacade(t, domain.Capability{Provider: domain.ProviderNative}, 1)
	require.NoError(t, o.Join(context.Background(), appointment(t)))
	assert.ErrorIs(t, o.Join(context.Background(), appointment(t)), core.ErrAlreadyJoined)
	assert.Len(t, b.engines, 1)
}

func TestForwarding(t *testing.T) {
	o, b := newFacade(t, domain.Capability{Provider: domain.ProviderNative}, 1)
	require.NoError(t, o.Join(context.Background(), appointment(t)))

	require.NoError(t, o.ToggleAudio(false))
	require.NoError(t, o.ToggleVideo(true))
	ok, err := o.StartScreenShare(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, o.StopScreenShare())
	require.NoError(t, o.SendChat("hi"))
	o.Leave()

	assert.Equal(t, []string{"join", "audio", "video", "share", "unshare", "chat", "leave"}, b.last().Calls())
	assert.ErrorIs(t, o.SendChat("again"), core.ErrNotJoined)
}

func TestFailedJoinAllowsRetry(t *testing.T) {
	o, b := newFacade(t, domain.Capability{Provider: domain.ProviderNative}, 2)
	b.joinErr = errors.New("boom")
	require.Error(t, o.Join(context.Background(), appointment(t)))
	_, ok := o.Provider()
	assert.False(t, ok)

	b.joinErr = nil
	require.NoError(t, o.Join(context.Background(), appointment(t)))
	assert.Len(t, b.engines, 2)
}

func TestUnknownProvider(t *testing.T) {
	o, b := newFacade(t, domain.Capability{Provider: "carrier-pigeon"}, 1)
	require.Error(t, o.Join(context.Background(), appointment(t)))
	assert.Empty(t, b.engines)
}

func TestPrefetchedRejectsOtherSession(t *testing.T) {
	p := prefetched{session: appointment(t), capability: domain.Capability{Provider: domain.ProviderNative}}
	other, err := domain.NewRoomSession("r-2")
	require.NoError(t, err)
	_, err = p.FetchCapability(context.Background(), other)
	var cfe *core.CapabilityFetchError
	assert.ErrorAs(t, err, &cfe)
}

// The facade wired to the real native engine: snapshots reach subscribers.
func TestSubscribeSeesNativeSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	caps := mocks.NewMockCapabilityProvider(ctrl)
	caps.EXPECT().FetchCapability(gomock.Any(), gomock.Any()).
		Return(domain.Capability{Provider: domain.ProviderNative}, nil).Times(1)

	self := domain.User{ID: "alice", DisplayName: "Alice"}
	dev := testkit.NewDevices("alice")
	hub, net := testkit.NewHub(), testkit.NewNetwork()
	o := New(self, caps, map[domain.Provider]EngineBuilder{
		domain.ProviderNative: func(c core.CapabilityProvider, store *app.Store) Engine {
			return peer.New(peer.Config{Self: self, Constraints: domain.DefaultConstraints()},
				peer.Deps{Capabilities: c, Devices: dev, Connections: net, Dialer: hub, Store: store}, zerolog.Nop())
		},
	}, zerolog.Nop())
	defer o.Close()

	updates, cancel := o.Subscribe()
	defer cancel()

	require.NoError(t, o.Join(context.Background(), appointment(t)))
	require.NoError(t, o.ToggleAudio(false))

	deadline := time.After(time.Second)
	for {
		select {
		case snap := <-updates:
			if !snap.MicOn && snap.VideoOn && snap.Phase == core.StateNegotiating {
				assert.Len(t, snap.LocalStream, 2)
				o.Leave()
				assert.Equal(t, 0, dev.Open())
				return
			}
		case <-deadline:
			t.Fatal("no snapshot with mic off")
		}
	}
}
