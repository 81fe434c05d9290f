package relay

import (
	"sort"
	"sync"

	"github.com/dkeye/voicesession/internal/domain"
)

type ScopeManager struct {
	mu     sync.RWMutex
	scopes map[string]*Scope
}

func NewScopeManager() *ScopeManager {
	return &ScopeManager{scopes: make(map[string]*Scope)}
}

// Admit creates the scope on first use. It holds the manager lock so a
// concurrent StopIfEmpty cannot orphan the new member.
func (f *ScopeManager) Admit(m *Member, limit int) (*Scope, *Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := m.Scope.Key()
	s, ok := f.scopes[key]
	if !ok {
		s = NewScope(m.Scope)
		f.scopes[key] = s
	}
	stale, err := s.Admit(m, limit)
	if err != nil && !ok {
		delete(f.scopes, key)
	}
	return s, stale, err
}

func (f *ScopeManager) Get(key string) (*Scope, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.scopes[key]
	return s, ok
}

func (f *ScopeManager) List() []ScopeInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]ScopeInfo, 0, len(f.scopes))
	for key, s := range f.scopes {
		out = append(out, ScopeInfo{Key: key, Kind: s.session.Kind, ID: s.session.ID, MemberCount: s.MemberCount()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// StopIfEmpty forgets the scope once its last member is gone.
func (f *ScopeManager) StopIfEmpty(s domain.Session) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	sc, ok := f.scopes[s.Key()]
	if !ok || sc.MemberCount() > 0 {
		return false
	}
	delete(f.scopes, s.Key())
	return true
}
