package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/voicesession/internal/adapters/signal"
	"github.com/dkeye/voicesession/internal/config"
	"github.com/dkeye/voicesession/internal/core"
	"github.com/dkeye/voicesession/internal/domain"
	"github.com/dkeye/voicesession/internal/relay"
	"github.com/dkeye/voicesession/internal/relay/archive"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopConn struct{ closed bool }

func (c *nopConn) TrySend(core.Frame) error { return nil }
func (c *nopConn) Close()                   { c.closed = true }

type fixture struct {
	router  http.Handler
	relay   *relay.Relay
	archive *archive.DB
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := archive.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	reg := prometheus.NewRegistry()
	cfg := &config.Config{Mode: "test", Secret: "s3cret", Relay: config.Relay{MaxNativePeers: 2, ChatLimit: 5, ChatInterval: time.Second}}
	r := relay.New(cfg.Relay, db, reg)
	ctl := signal.NewSignalWSController(r, cfg.Signal)
	router := SetupRouter(context.Background(), cfg, Deps{Relay: r, Signal: ctl, History: db, Metrics: reg})
	return &fixture{router: router, relay: r, archive: db}
}

func (f *fixture) admit(t *testing.T, sid, user string, s domain.Session) *nopConn {
	t.Helper()
	conn := &nopConn{}
	m := &relay.Member{ID: core.SessionID(sid), User: domain.User{ID: domain.UserID(user), DisplayName: user}, Scope: s, Conn: conn}
	_, _, err := f.relay.Admit(m, func() { conn.Close(); f.relay.Leave(m.ID) })
	require.NoError(t, err)
	return conn
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestHealthAndClientCookie(t *testing.T) {
	f := setup(t)
	w := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Set-Cookie"), "ct=")
	assert.JSONEq(t, `{"status":"ok","members":0}`, w.Body.String())
}

func TestListSessions(t *testing.T) {
	f := setup(t)
	s, _ := domain.NewAppointmentSession("a1")
	f.admit(t, "c1", "u1", s)
	f.admit(t, "c2", "u2", s)

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Sessions []relay.ScopeInfo `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Sessions, 1)
	assert.Equal(t, "appointment:a1", body.Sessions[0].Key)
	assert.Equal(t, 2, body.Sessions[0].MemberCount)
}

func TestChatHistory(t *testing.T) {
	f := setup(t)
	s, _ := domain.NewRoomSession("r1")
	other, _ := domain.NewRoomSession("r2")
	ctx := context.Background()
	require.NoError(t, f.archive.Append(ctx, relay.ChatEntry{Session: s, SenderID: "u1", Sender: "Ann", Text: "hi", At: time.Now()}))
	require.NoError(t, f.archive.Append(ctx, relay.ChatEntry{Session: other, SenderID: "u2", Sender: "Bo", Text: "elsewhere", At: time.Now()}))

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/sessions/room/r1/chat", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Messages []ChatEntryResponse `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Messages, 1)
	assert.Equal(t, "hi", body.Messages[0].Text)
	assert.Equal(t, "Ann", body.Messages[0].Sender)
}

func TestChatHistoryValidation(t *testing.T) {
	f := setup(t)
	assert.Equal(t, http.StatusBadRequest, f.do(httptest.NewRequest(http.MethodGet, "/api/sessions/lobby/x/chat", nil)).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(httptest.NewRequest(http.MethodGet, "/api/sessions/room/x/chat?limit=0", nil)).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(httptest.NewRequest(http.MethodGet, "/api/sessions/room/x/chat?limit=abc", nil)).Code)
}

func TestEvictRequiresSecret(t *testing.T) {
	f := setup(t)
	s, _ := domain.NewAppointmentSession("a1")
	conn := f.admit(t, "c1", "u1", s)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/evict", strings.NewReader(`{"kind":"appointment","id":"a1"}`))
	assert.Equal(t, http.StatusUnauthorized, f.do(req).Code)
	assert.False(t, conn.closed)

	req = httptest.NewRequest(http.MethodPost, "/api/admin/evict", strings.NewReader(`{"kind":"appointment","id":"a1"}`))
	req.Header.Set("Authorization", "Bearer s3cret")
	w := f.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"session":"appointment:a1","evicted":1}`, w.Body.String())
	assert.True(t, conn.closed)
	assert.Equal(t, 0, f.relay.Registry.Len())
}

func TestEvictRejectsBadBody(t *testing.T) {
	f := setup(t)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/evict", strings.NewReader(`{"kind":"room"}`))
	req.Header.Set("Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusBadRequest, f.do(req).Code)
}

func TestMetricsExposed(t *testing.T) {
	f := setup(t)
	s, _ := domain.NewRoomSession("r1")
	f.admit(t, "c1", "u1", s)

	w := f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "voicesession_relay_members 1")
}
