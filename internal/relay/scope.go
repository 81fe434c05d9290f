package relay

import (
	"sync"

	"github.com/dkeye/voicesession/internal/core"
	"github.com/dkeye/voicesession/internal/domain"
	"github.com/rs/zerolog/log"
)

// Scope is a threadsafe in-memory session membership.
// It never closes adapter-owned resources.
type Scope struct {
	session domain.Session

	mu     sync.RWMutex
	bySID  map[core.SessionID]*Member
	byUser map[domain.UserID]core.SessionID
}

func NewScope(s domain.Session) *Scope {
	return &Scope{
		session: s,
		bySID:   make(map[core.SessionID]*Member),
		byUser:  make(map[domain.UserID]core.SessionID),
	}
}

func (s *Scope) Session() domain.Session { return s.session }

func (s *Scope) MemberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bySID)
}

// Admit adds m. A user already present is replaced by the new connection and
// the stale member is returned. limit caps distinct users; zero is unlimited.
func (s *Scope) Admit(m *Member, limit int) (*Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale *Member
	if sid, ok := s.byUser[m.User.ID]; ok {
		stale = s.bySID[sid]
	}
	if stale == nil && limit > 0 && len(s.bySID) >= limit {
		return nil, ErrSessionFull
	}
	if stale != nil {
		delete(s.bySID, stale.ID)
	}
	s.bySID[m.ID] = m
	s.byUser[m.User.ID] = m.ID
	log.Info().Str("module", "relay.scope").Str("session", s.session.Key()).Str("sid", string(m.ID)).
		Str("user", string(m.User.ID)).Bool("replaced", stale != nil).Msg("member added")
	return stale, nil
}

// Remove reports whether sid was still a member.
func (s *Scope) Remove(sid core.SessionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.bySID[sid]
	if !ok {
		return false
	}
	delete(s.bySID, sid)
	if s.byUser[m.User.ID] == sid {
		delete(s.byUser, m.User.ID)
	}
	log.Info().Str("module", "relay.scope").Str("session", s.session.Key()).Str("sid", string(sid)).Msg("member removed")
	return true
}

func (s *Scope) Broadcast(from core.SessionID, data core.Frame) PublishResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := PublishResult{}
	for sid, m := range s.bySID {
		if sid == from {
			continue
		}
		if err := m.Conn.TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "relay.scope").Str("from", string(from)).Int("sent_to", res.SendTo).
		Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// Peers lists every member except the one with sid.
func (s *Scope) Peers(except core.SessionID) []core.PeerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.PeerInfo, 0, len(s.bySID))
	for sid, m := range s.bySID {
		if sid != except {
			out = append(out, m.PeerInfo())
		}
	}
	return out
}

// Members returns the connection ids in the scope.
func (s *Scope) Members() []core.SessionID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.SessionID, 0, len(s.bySID))
	for sid := range s.bySID {
		out = append(out, sid)
	}
	return out
}
