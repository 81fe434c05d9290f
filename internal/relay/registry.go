package relay

import (
	"sync"

	"github.com/dkeye/voicesession/internal/core"
	"github.com/rs/zerolog/log"
)

type registryEntry struct {
	Member *Member
	Cancel func()
}

// Registry maps live connections to their member.
type Registry struct {
	mu      sync.RWMutex
	members map[core.SessionID]*registryEntry
}

func NewRegistry() *Registry {
	return &Registry{members: make(map[core.SessionID]*registryEntry)}
}

func (r *Registry) Bind(m *Member, cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[m.ID] = &registryEntry{Member: m, Cancel: cancel}
	log.Info().Str("module", "relay.registry").Str("sid", string(m.ID)).Str("session", m.Scope.Key()).Msg("bound member")
}

func (r *Registry) Get(sid core.SessionID) (*Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.members[sid]; ok {
		return e.Member, true
	}
	return nil, false
}

func (r *Registry) Unbind(sid core.SessionID) (*Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.members[sid]
	if !ok {
		return nil, false
	}
	delete(r.members, sid)
	log.Info().Str("module", "relay.registry").Str("sid", string(sid)).Msg("unbind member")
	return e.Member, true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.members[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "relay.registry").Str("sid", string(sid)).Msg("canceled member")
	return true
}
