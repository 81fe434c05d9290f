// Package peer is the native engine: one peer connection negotiated over the
// relay's signaling channel.
package peer

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/dkeye/voicesession/internal/app"
	"github.com/dkeye/voicesession/internal/app/media"
	"github.com/dkeye/voicesession/internal/core"
	"github.com/dkeye/voicesession/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type Config struct {
	Self           domain.User
	SignalEndpoint string
	Constraints    domain.MediaConstraints
}

type Deps struct {
	Capabilities core.CapabilityProvider
	Devices      core.MediaDevices
	Connections  core.MediaConnectionFactory
	Dialer       core.SignalDialer
	// Store is created when nil.
	Store *app.Store
}

// Engine is single-use per join: Leave returns it to idle and it may join again.
type Engine struct {
	cfg   Config
	deps  Deps
	store *app.Store
	log   zerolog.Logger

	mu    sync.Mutex
	state core.EngineState
	gen   uint64
	sess  *session
}

// session is everything one Join allocated. Fields are guarded by Engine.mu.
type session struct {
	gen        uint64
	scope      domain.Session
	capability domain.Capability
	cancel     context.CancelFunc
	ctx        context.Context

	media   *media.Controller
	conn    core.MediaConnection
	channel core.SignalChannel
	// remote is the one peer this 1:1 call is pinned to.
	remote  domain.UserID
	pending []webrtc.ICECandidateInit
}

func New(cfg Config, deps Deps, log zerolog.Logger) *Engine {
	store := deps.Store
	if store == nil {
		store = app.NewStore(cfg.Self, app.RosterByStream, log)
	}
	store.SetMode(app.RosterByStream)
	return &Engine{
		cfg:   cfg,
		deps:  deps,
		store: store,
		log:   log.With().Str("module", "peer").Str("user", string(cfg.Self.ID)).Logger(),
	}
}

func (e *Engine) Provider() domain.Provider { return domain.ProviderNative }

func (e *Engine) Store() *app.Store { return e.store }

func (e *Engine) State() core.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setStateLocked(to core.EngineState) bool {
	if e.state == to {
		return true
	}
	if !core.CanTransition(e.state, to) {
		e.log.Warn().Str("from", e.state.String()).Str("to", to.String()).Msg("rejected transition")
		return false
	}
	e.log.Debug().Str("from", e.state.String()).Str("to", to.String()).Msg("state")
	e.state = to
	e.store.SetPhase(to)
	return true
}

// current returns the session if it is still the one started by gen.
func (e *Engine) current(gen uint64) (*session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil || e.sess.gen != gen || e.gen != gen {
		return nil, false
	}
	return e.sess, true
}

// attach runs fn under the engine lock unless a Leave already retired gen.
// Leave bumps e.gen before its teardown snapshots the session, so anything
// attached after that point is handed back to the caller to release.
func (e *Engine) attach(gen uint64, fn func(st *session)) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil || e.sess.gen != gen || e.gen != gen {
		return false
	}
	fn(e.sess)
	return true
}

// Join fetches the capability, acquires media, opens the peer connection and
// the signaling channel, in that order. A Leave racing with it wins: Join
// then returns core.ErrJoinAborted with everything it allocated released.
func (e *Engine) Join(ctx context.Context, s domain.Session) error {
	if err := s.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	if e.state != core.StateIdle && e.state != core.StateFailed {
		state := e.state
		e.mu.Unlock()
		return fmt.Errorf("%w: join while %s", core.ErrInvalidState, state)
	}
	e.gen++
	sctx, cancel := context.WithCancel(context.Background())
	st := &session{gen: e.gen, scope: s, ctx: sctx, cancel: cancel}
	e.sess = st
	e.setStateLocked(core.StateJoining)
	e.mu.Unlock()

	log := e.log.With().Str("session", s.String()).Logger()
	log.Info().Msg("joining")

	capability, err := e.deps.Capabilities.FetchCapability(ctx, s)
	if err != nil {
		return e.fail(st, err)
	}
	if capability.Provider != domain.ProviderNative {
		return e.fail(st, &core.ProviderMismatchError{Want: domain.ProviderNative, Got: capability.Provider})
	}

	ctrl := media.NewController(e.deps.Devices, e.log)
	ctrl.OnChange(func(ms domain.MediaState) { e.onLocalMedia(st, ms) })
	if !e.attach(st.gen, func(st *session) {
		st.capability = capability
		st.media = ctrl
	}) {
		return core.ErrJoinAborted
	}
	if _, err := ctrl.Acquire(ctx, e.cfg.Constraints); err != nil {
		return e.fail(st, err)
	}
	e.store.SetLocalTracks(ctrl.LocalTracks())

	if err := e.openConnection(st); err != nil {
		return e.fail(st, err)
	}

	e.mu.Lock()
	if !e.isCurrentLocked(st) {
		e.mu.Unlock()
		return core.ErrJoinAborted
	}
	e.setStateLocked(core.StateNegotiating)
	e.mu.Unlock()

	auth := domain.NewAuthPayload(e.cfg.Self, s, roomToken(s, capability))
	ch, err := e.deps.Dialer.Connect(ctx, e.cfg.SignalEndpoint, auth)
	if err != nil {
		return e.fail(st, fmt.Errorf("signal connect: %w", err))
	}
	if !e.attach(st.gen, func(st *session) { st.channel = ch }) {
		ch.Disconnect()
		return core.ErrJoinAborted
	}
	e.bindHandlers(st, ch)
	ch.OnReconnect(func() {
		log.Info().Msg("signal channel reconnected")
		e.bindHandlers(st, ch)
		e.announceMedia(st)
	})
	e.announceMedia(st)

	log.Info().Msg("joined, waiting for peer")
	return nil
}

// roomToken is what a room session presents to the relay; appointments
// authenticate by membership alone.
func roomToken(s domain.Session, c domain.Capability) string {
	if s.Kind == domain.SessionRoom {
		return c.Token
	}
	return ""
}

func (e *Engine) isCurrentLocked(st *session) bool {
	return e.sess == st && st.gen == e.gen
}

// fail tears down what st holds and moves to failed, unless a Leave got there
// first, in which case the abort is reported instead of err.
func (e *Engine) fail(st *session, err error) error {
	e.teardown(st)

	e.mu.Lock()
	aborted := !e.isCurrentLocked(st)
	if !aborted {
		e.sess = nil
		e.setStateLocked(core.StateFailed)
	}
	e.mu.Unlock()

	if aborted {
		e.log.Info().AnErr("cause", err).Msg("join aborted")
		return core.ErrJoinAborted
	}
	e.store.SetLocalTracks(nil)
	e.store.ClearRemote()
	e.log.Error().Err(err).Str("session", st.scope.String()).Msg("join failed")
	return err
}

// Leave releases every resource the session holds. It never fails.
func (e *Engine) Leave() {
	e.mu.Lock()
	if e.state == core.StateIdle || e.state == core.StateLeaving {
		e.mu.Unlock()
		return
	}
	st := e.sess
	e.gen++
	e.setStateLocked(core.StateLeaving)
	e.mu.Unlock()

	if st != nil {
		e.teardown(st)
	}
	e.store.Reset()

	e.mu.Lock()
	e.sess = nil
	e.setStateLocked(core.StateIdle)
	e.mu.Unlock()
	e.log.Info().Msg("left")
}

// teardown is idempotent; each step runs even if an earlier one panicked.
func (e *Engine) teardown(st *session) {
	e.mu.Lock()
	conn, ctrl, ch, cancel := st.conn, st.media, st.channel, st.cancel
	st.conn, st.media, st.channel, st.cancel = nil, nil, nil, nil
	st.pending = nil
	e.mu.Unlock()

	if conn != nil {
		e.guard("close connection", conn.Close)
	}
	if ctrl != nil {
		e.guard("release media", ctrl.ReleaseAll)
	}
	if ch != nil {
		e.guard("disconnect channel", ch.Disconnect)
	}
	if cancel != nil {
		cancel()
	}
}

func (e *Engine) guard(step string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Str("step", step).Msg("teardown step")
		}
	}()
	fn()
}

func (e *Engine) controller() *media.Controller {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return nil
	}
	return e.sess.media
}

func (e *Engine) ToggleAudio(on bool) {
	if c := e.controller(); c != nil {
		c.ToggleAudio(on)
	}
}

func (e *Engine) ToggleVideo(on bool) {
	if c := e.controller(); c != nil {
		c.ToggleVideo(on)
	}
}

// StartScreenShare reports false when the platform has no display capture or
// the user declined; the camera keeps flowing in that case.
func (e *Engine) StartScreenShare(ctx context.Context) bool {
	c := e.controller()
	if c == nil {
		return false
	}
	ok, err := c.StartScreenShare(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("screen share not started")
	}
	return ok
}

func (e *Engine) StopScreenShare() {
	if c := e.controller(); c != nil {
		c.StopScreenShare()
	}
}

// SendChat appends the message locally before it goes out.
func (e *Engine) SendChat(text string) error {
	if strings.TrimSpace(text) == "" {
		return core.ErrEmptyChat
	}
	if len(text) > domain.MaxChatTextLen {
		text = text[:domain.MaxChatTextLen]
	}
	e.mu.Lock()
	if e.sess == nil || e.sess.channel == nil {
		e.mu.Unlock()
		return core.ErrNotJoined
	}
	ch, scope := e.sess.channel, e.sess.scope
	e.mu.Unlock()

	sender := e.cfg.Self.DisplayName
	e.store.AppendChat(domain.NewChatMessage(sender, text, true))
	if err := ch.Emit(core.EventChat, core.NewChatPayload(scope, sender, text)); err != nil {
		return fmt.Errorf("send chat: %w", err)
	}
	return nil
}

func (e *Engine) onLocalMedia(st *session, ms domain.MediaState) {
	e.store.SetLocalState(ms)
	e.announceMedia(st)
}

// announceMedia tells the peer our mic/camera/share flags.
func (e *Engine) announceMedia(st *session) {
	e.mu.Lock()
	ch, ctrl := st.channel, st.media
	e.mu.Unlock()
	if ch == nil || ctrl == nil {
		return
	}
	if err := ch.Emit(core.EventMediaState, ctrl.State()); err != nil {
		e.log.Debug().Err(err).Msg("announce media state")
	}
}
