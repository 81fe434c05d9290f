// Package managed is the engine that hands media routing to a managed room
// service. Chat and media-state still travel over the relay channel.
package managed

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
	"github.com/rs/zerolog"
)

type Config struct {
	Self           domain.User
	SignalEndpoint string
	Constraints    domain.MediaConstraints
	// URL is used when the capability carries no server url.
	URL string
}

type Deps struct {
	Capabilities core.CapabilityProvider
	Devices      core.MediaDevices
	Connector    core.ManagedRoomConnector
	Dialer       core.SignalDialer
	// Sink defaults to a recorder that renders nothing.
	Sink  core.MediaSink
	Store *app.Store
}

type Engine struct {
	cfg   Config
	deps  Deps
	sink  core.MediaSink
	store *app.Store
	log   zerolog.Logger

	mu    sync.Mutex
	state core.EngineState
	gen   uint64
	sess  *session
}

type session struct {
	gen   uint64
	scope domain.Session

	media   *media.Controller
	room    core.ManagedRoom
	channel core.SignalChannel
	pubs    []core.Publication
	screen  core.Publication

	// track ids handed to the sink
	attached    []string
	screenTrack string
}

func New(cfg Config, deps Deps, log zerolog.Logger) *Engine {
	store := deps.Store
	if store == nil {
		store = app.NewStore(cfg.Self, app.RosterByParticipant, log)
	}
	store.SetMode(app.RosterByParticipant)
	sink := deps.Sink
	if sink == nil {
		sink = NewPlaceholderSink()
	}
	return &Engine{
		cfg:   cfg,
		deps:  deps,
		sink:  sink,
		store: store,
		log:   log.With().Str("module", "managed").Str("user", string(cfg.Self.ID)).Logger(),
	}
}

func (e *Engine) Provider() domain.Provider { return domain.ProviderManaged }

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
	e.state = to
	e.store.SetPhase(to)
	return true
}

func (e *Engine) isCurrentLocked(st *session) bool {
	return e.sess == st && st.gen == e.gen
}

func (e *Engine) attach(st *session, fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.isCurrentLocked(st) {
		return false
	}
	fn()
	return true
}

// Join fails with ProviderMismatchError before touching any device when the
// backend routes the session elsewhere.
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
	st := &session{gen: e.gen, scope: s}
	e.sess = st
	e.setStateLocked(core.StateJoining)
	e.mu.Unlock()
	e.log.Info().Str("session", s.String()).Msg("joining")

	capability, err := e.deps.Capabilities.FetchCapability(ctx, s)
	if err != nil {
		return e.fail(st, err)
	}
	if capability.Provider != domain.ProviderManaged {
		return e.fail(st, &core.ProviderMismatchError{Want: domain.ProviderManaged, Got: capability.Provider})
	}
	url := capability.ServerURL
	if url == "" {
		url = e.cfg.URL
	}

	ctrl := media.NewController(e.deps.Devices, e.log)
	ctrl.UseScreenPublisher(&screenPublisher{e: e, st: st})
	ctrl.OnChange(func(ms domain.MediaState) { e.onLocalMedia(st, ms) })
	if !e.attach(st, func() { st.media = ctrl }) {
		return core.ErrJoinAborted
	}
	if _, err := ctrl.Acquire(ctx, e.cfg.Constraints); err != nil {
		return e.fail(st, err)
	}
	e.store.SetLocalTracks(ctrl.LocalTracks())

	e.mu.Lock()
	if !e.isCurrentLocked(st) {
		e.mu.Unlock()
		return core.ErrJoinAborted
	}
	e.setStateLocked(core.StateNegotiating)
	e.mu.Unlock()

	room, err := e.deps.Connector.Connect(ctx, url, capability.Token, e.events(st))
	if err != nil {
		return e.fail(st, fmt.Errorf("connect room: %w", err))
	}
	if !e.attach(st, func() { st.room = room }) {
		room.Disconnect()
		return core.ErrJoinAborted
	}
	if err := e.publishLocal(st, ctrl, room); err != nil {
		return e.fail(st, err)
	}
	for _, p := range room.Participants() {
		e.store.UpsertParticipant(p.Identity, displayName(p))
	}

	auth := domain.NewAuthPayload(e.cfg.Self, s, "")
	ch, err := e.deps.Dialer.Connect(ctx, e.cfg.SignalEndpoint, auth)
	if err != nil {
		return e.fail(st, fmt.Errorf("signal connect: %w", err))
	}
	if !e.attach(st, func() { st.channel = ch }) {
		ch.Disconnect()
		return core.ErrJoinAborted
	}
	e.bindHandlers(st, ch)
	ch.OnReconnect(func() { e.bindHandlers(st, ch) })

	e.mu.Lock()
	if !e.isCurrentLocked(st) {
		e.mu.Unlock()
		return core.ErrJoinAborted
	}
	e.setStateLocked(core.StateConnected)
	e.mu.Unlock()
	e.announceMedia(st)
	e.log.Info().Str("room", capability.RoomName).Str("identity", room.LocalIdentity()).Msg("joined")
	return nil
}

func (e *Engine) publishLocal(st *session, ctrl *media.Controller, room core.ManagedRoom) error {
	for _, t := range ctrl.LocalTracks() {
		kind := ctrl.KindOf(t)
		pub, err := room.Publish(t, kind, kind.String())
		if err != nil {
			return fmt.Errorf("publish %s: %w", kind, err)
		}
		e.sink.AttachLocal(t, kind)
		if !e.attach(st, func() {
			st.pubs = append(st.pubs, pub)
			st.attached = append(st.attached, t.ID())
		}) {
			e.sink.Detach(e.localID(), t.ID())
			return core.ErrJoinAborted
		}
		ctrl.BindSender(kind, pub)
	}
	return nil
}

func displayName(p core.ManagedParticipant) string {
	if p.Name != "" {
		return p.Name
	}
	return p.Identity
}

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
		return core.ErrJoinAborted
	}
	e.store.SetLocalTracks(nil)
	e.store.ClearRemote()
	e.log.Error().Err(err).Str("session", st.scope.String()).Msg("join failed")
	return err
}

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

func (e *Engine) teardown(st *session) {
	e.mu.Lock()
	room, ctrl, ch, pubs := st.room, st.media, st.channel, st.pubs
	if st.screen != nil {
		pubs = append(pubs, st.screen)
	}
	attached := st.attached
	if st.screenTrack != "" {
		attached = append(attached, st.screenTrack)
	}
	st.room, st.media, st.channel, st.pubs, st.screen = nil, nil, nil, nil, nil
	st.attached, st.screenTrack = nil, ""
	e.mu.Unlock()

	for _, id := range attached {
		e.guard("detach", func() { e.sink.Detach(e.localID(), id) })
	}

	if room != nil {
		for _, p := range pubs {
			e.guard("unpublish", func() {
				if err := room.Unpublish(p); err != nil {
					e.log.Debug().Err(err).Str("sid", p.SID()).Msg("unpublish")
				}
			})
		}
	}
	if ctrl != nil {
		e.guard("release media", ctrl.ReleaseAll)
	}
	if room != nil {
		e.guard("disconnect room", room.Disconnect)
	}
	if ch != nil {
		e.guard("disconnect channel", ch.Disconnect)
	}
}

func (e *Engine) localID() string { return string(e.cfg.Self.ID) }

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

// StopScreenShare also clears screen publications this engine lost track of.
func (e *Engine) StopScreenShare() {
	c := e.controller()
	if c == nil {
		return
	}
	if c.State().ScreenSharing {
		c.StopScreenShare()
		return
	}
	e.mu.Lock()
	st := e.sess
	e.mu.Unlock()
	if st != nil {
		e.unpublishScreens(st)
	}
}

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
