package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/voicesession/internal/config"
	"github.com/dkeye/voicesession/internal/core"
	"github.com/dkeye/voicesession/internal/domain"
	"github.com/dkeye/voicesession/internal/relay"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSignal = config.Signal{
	PingPeriod: 200 * time.Millisecond,
	PongWait:   time.Second,
	ReadLimit:  1 << 16,
	MaxBackoff: 50 * time.Millisecond,
	SendBuffer: 16,
}

type server struct {
	relay *relay.Relay
	url   string
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := relay.New(config.Relay{MaxNativePeers: 2, ChatLimit: 2, ChatInterval: time.Minute}, nil, prometheus.NewRegistry())
	ctl := NewSignalWSController(r, testSignal)

	ctx, cancel := context.WithCancel(context.Background())
	engine := gin.New()
	engine.GET("/ws", func(c *gin.Context) { ctl.HandleSignal(ctx, c) })
	srv := httptest.NewServer(engine)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &server{relay: r, url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"}
}

func newTestDialer() *Dialer {
	d := NewDialer(testSignal, zerolog.Nop())
	d.MinBackoff = 10 * time.Millisecond
	return d
}

func auth(user, appointment string) domain.AuthPayload {
	return domain.AuthPayload{UserID: domain.UserID(user), Role: domain.RoleStudent, DisplayName: user, AppointmentID: appointment}
}

func connect(t *testing.T, s *server, user, appointment string) core.SignalChannel {
	t.Helper()
	ch, err := newTestDialer().Connect(context.Background(), s.url, auth(user, appointment))
	require.NoError(t, err)
	t.Cleanup(ch.Disconnect)
	return ch
}

type recorder struct {
	mu   sync.Mutex
	msgs []core.Message
}

func (r *recorder) handle(m core.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

func (r *recorder) all() []core.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Message(nil), r.msgs...)
}

func (r *recorder) len() int { return len(r.all()) }

func TestPeersExchangeOffers(t *testing.T) {
	s := newServer(t)
	alice := connect(t, s, "alice", "1")

	joined := &recorder{}
	alice.On(core.EventPeerJoined, joined.handle)
	offers := &recorder{}
	alice.On(core.EventOffer, offers.handle)

	bob := connect(t, s, "bob", "1")
	require.Eventually(t, func() bool { return joined.len() == 1 }, time.Second, 5*time.Millisecond)

	var p core.PeerInfo
	require.NoError(t, joined.all()[0].Decode(&p))
	assert.Equal(t, domain.UserID("bob"), p.UserID)

	require.NoError(t, bob.Emit(core.EventOffer, core.SDPPayload{SessionScopeID: "1", SDP: "v=0"}))
	require.Eventually(t, func() bool { return offers.len() == 1 }, time.Second, 5*time.Millisecond)
	got := offers.all()[0]
	assert.Equal(t, domain.UserID("bob"), got.From)
	var sdp core.SDPPayload
	require.NoError(t, got.Decode(&sdp))
	assert.Equal(t, "v=0", sdp.SDP)
}

func TestOtherSessionsSeeNothing(t *testing.T) {
	s := newServer(t)
	alice := connect(t, s, "alice", "1")
	eve := connect(t, s, "eve", "2")
	seen := &recorder{}
	eve.On(core.EventChat, seen.handle)
	eve.On(core.EventPeerJoined, seen.handle)

	require.NoError(t, alice.Emit(core.EventChat, core.ChatPayload{Text: "private"}))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, seen.len())
}

func TestMessagesHeldUntilHandler(t *testing.T) {
	s := newServer(t)
	alice := connect(t, s, "alice", "1")
	bob := connect(t, s, "bob", "1")

	require.NoError(t, bob.Emit(core.EventMediaState, domain.MediaState{MicOn: true}))
	require.NoError(t, bob.Emit(core.EventMediaState, domain.MediaState{VideoOn: true}))
	time.Sleep(50 * time.Millisecond)

	got := &recorder{}
	alice.On(core.EventMediaState, got.handle)
	require.Eventually(t, func() bool { return got.len() == 2 }, time.Second, 5*time.Millisecond)
	var first domain.MediaState
	require.NoError(t, got.all()[0].Decode(&first))
	assert.True(t, first.MicOn)
}

func TestThirdPeerRejected(t *testing.T) {
	s := newServer(t)
	connect(t, s, "alice", "1")
	connect(t, s, "bob", "1")

	_, err := newTestDialer().Connect(context.Background(), s.url, auth("carol", "1"))
	var rejected *core.RelayRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, core.CodeSessionFull, rejected.Code)
}

func TestInvalidAuthNeverDials(t *testing.T) {
	_, err := newTestDialer().Connect(context.Background(), "ws://127.0.0.1:1/ws", domain.AuthPayload{UserID: "u"})
	assert.ErrorIs(t, err, domain.ErrSessionIDEmpty)
}

func TestFirstFrameMustBeAuth(t *testing.T) {
	s := newServer(t)
	ws, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(core.Envelope{Type: core.EventChat, Payload: json.RawMessage(`{"text":"hi"}`)}))
	var env core.Envelope
	require.NoError(t, ws.ReadJSON(&env))
	assert.Equal(t, core.EventError, env.Type)
	var p core.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, core.CodeBadAuth, p.Code)
}

func TestPingAndUnknownEvent(t *testing.T) {
	s := newServer(t)
	ws, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	require.NoError(t, err)
	defer ws.Close()

	raw, _ := json.Marshal(auth("alice", "1"))
	require.NoError(t, ws.WriteJSON(core.Envelope{Type: core.EventAuth, Payload: raw}))
	var env core.Envelope
	require.NoError(t, ws.ReadJSON(&env))
	require.Equal(t, core.EventWelcome, env.Type)

	require.NoError(t, ws.WriteJSON(core.Envelope{Type: core.EventPing}))
	require.NoError(t, ws.ReadJSON(&env))
	assert.Equal(t, core.EventPong, env.Type)

	require.NoError(t, ws.WriteJSON(core.Envelope{Type: "room:create"}))
	require.NoError(t, ws.ReadJSON(&env))
	assert.Equal(t, core.EventError, env.Type)
}

func TestChatRateLimited(t *testing.T) {
	s := newServer(t)
	alice := connect(t, s, "alice", "1")
	connect(t, s, "bob", "1")
	errs := &recorder{}
	alice.On(core.EventError, errs.handle)

	for _, text := range []string{"a", "b", "c"} {
		require.NoError(t, alice.Emit(core.EventChat, core.ChatPayload{Text: text}))
	}
	require.Eventually(t, func() bool { return errs.len() == 1 }, time.Second, 5*time.Millisecond)
	var p core.ErrorPayload
	require.NoError(t, errs.all()[0].Decode(&p))
	assert.Equal(t, core.CodeRateLimited, p.Code)
}

func TestReconnectReauthsAndClearsHandlers(t *testing.T) {
	s := newServer(t)
	alice := connect(t, s, "alice", "1")
	bob := connect(t, s, "bob", "1")

	stale := &recorder{}
	alice.On(core.EventChat, stale.handle)
	reconnected := make(chan struct{}, 1)
	fresh := &recorder{}
	alice.OnReconnect(func() {
		alice.On(core.EventChat, fresh.handle)
		reconnected <- struct{}{}
	})

	scope, ok := s.relay.Scopes.Get("appointment:1")
	require.True(t, ok)
	for _, sid := range scope.Members() {
		if m, _ := s.relay.Registry.Get(sid); m != nil && m.User.ID == "alice" {
			s.relay.Kick(sid)
		}
	}

	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("no reconnect")
	}
	require.Eventually(t, func() bool {
		sc, ok := s.relay.Scopes.Get("appointment:1")
		return ok && sc.MemberCount() == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, bob.Emit(core.EventChat, core.ChatPayload{Text: "after"}))
	require.Eventually(t, func() bool { return fresh.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, stale.len())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	s := newServer(t)
	alice := connect(t, s, "alice", "1")
	alice.Disconnect()
	alice.Disconnect()
	assert.ErrorIs(t, alice.Emit(core.EventChat, core.ChatPayload{Text: "x"}), core.ErrChannelClosed)
	require.Eventually(t, func() bool { return s.relay.Registry.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestConnectHonoursContext(t *testing.T) {
	// accepts the socket but never welcomes
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := newTestDialer().Connect(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), auth("alice", "1"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
