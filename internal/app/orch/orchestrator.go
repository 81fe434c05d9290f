// Package orch is the facade a UI talks to: it picks the engine the backend
// asks for and forwards every operation to it.
package orch

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/voicesession/internal/app"
	"github.com/dkeye/voicesession/internal/core"
	"github.com/dkeye/voicesession/internal/domain"
	"github.com/rs/zerolog"
)

// Engine is a transport strategy that renders into a shared Store.
type Engine interface {
	core.Engine
	Store() *app.Store
}

// EngineBuilder constructs an engine around a capability provider that only
// ever returns the capability already fetched, and the facade's store.
type EngineBuilder func(caps core.CapabilityProvider, store *app.Store) Engine

type Orchestrator struct {
	Capabilities core.CapabilityProvider
	Engines      map[domain.Provider]EngineBuilder

	store *app.Store
	log   zerolog.Logger

	mu      sync.Mutex
	engine  Engine
	joining bool
	gen     uint64
}

func New(self domain.User, caps core.CapabilityProvider, engines map[domain.Provider]EngineBuilder, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		Capabilities: caps,
		Engines:      engines,
		store:        app.NewStore(self, app.RosterByStream, log),
		log:          log.With().Str("module", "orch").Logger(),
	}
}

// prefetched hands the engine the capability the facade already has.
type prefetched struct {
	session    domain.Session
	capability domain.Capability
}

func (p prefetched) FetchCapability(_ context.Context, s domain.Session) (domain.Capability, error) {
	if s != p.session {
		return domain.Capability{}, &core.CapabilityFetchError{Session: s, Err: fmt.Errorf("capability was issued for %s", p.session)}
	}
	return p.capability, nil
}

// Join fetches the capability once and starts the engine its provider names.
func (o *Orchestrator) Join(ctx context.Context, s domain.Session) error {
	if err := s.Validate(); err != nil {
		return err
	}
	o.mu.Lock()
	if o.engine != nil || o.joining {
		o.mu.Unlock()
		return core.ErrAlreadyJoined
	}
	o.joining = true
	gen := o.gen
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.joining = false
		o.mu.Unlock()
	}()

	capability, err := o.Capabilities.FetchCapability(ctx, s)
	if err != nil {
		o.log.Error().Err(err).Str("session", s.String()).Msg("capability")
		return err
	}
	build, ok := o.Engines[capability.Provider]
	if !ok {
		return fmt.Errorf("no engine for provider %q", capability.Provider)
	}
	eng := build(prefetched{session: s, capability: capability}, o.store)

	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return core.ErrJoinAborted
	}
	o.engine = eng
	o.mu.Unlock()

	o.log.Info().Str("session", s.String()).Str("provider", string(capability.Provider)).Msg("dispatching join")
	if err := eng.Join(ctx, s); err != nil {
		o.mu.Lock()
		if o.engine == eng {
			o.engine = nil
		}
		o.mu.Unlock()
		return err
	}
	return nil
}

// Leave is safe at any time, including during Join.
func (o *Orchestrator) Leave() {
	o.mu.Lock()
	eng := o.engine
	o.engine = nil
	o.gen++
	o.mu.Unlock()
	if eng != nil {
		eng.Leave()
	}
}

func (o *Orchestrator) current() (Engine, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.engine == nil {
		return nil, core.ErrNotJoined
	}
	return o.engine, nil
}

// Provider reports which engine is live.
func (o *Orchestrator) Provider() (domain.Provider, bool) {
	eng, err := o.current()
	if err != nil {
		return "", false
	}
	return eng.Provider(), true
}

func (o *Orchestrator) State() core.EngineState {
	eng, err := o.current()
	if err != nil {
		return core.StateIdle
	}
	return eng.State()
}

// Close leaves and ends every subscription.
func (o *Orchestrator) Close() {
	o.Leave()
	o.store.Close()
}
