// Package relay scopes signaling traffic to one session at a time. It owns
// membership only; connections belong to the transport adapter.
package relay

import (
	"errors"

	"github.com/dkeye/voicesession/internal/core"
	"github.com/dkeye/voicesession/internal/domain"
)

var (
	ErrSessionFull = errors.New("session full")
	ErrRateLimited = errors.New("rate limited")
	ErrBadPayload  = errors.New("bad payload")
	ErrNotMember   = errors.New("not a session member")
)

// Conn is the outgoing side of one member's websocket.
type Conn interface {
	TrySend(f core.Frame) error
	Close()
}

// Member is one authenticated connection inside a session scope.
type Member struct {
	ID    core.SessionID
	User  domain.User
	Scope domain.Session
	Conn  Conn
}

func (m *Member) PeerInfo() core.PeerInfo {
	return core.PeerInfo{UserID: m.User.ID, DisplayName: m.User.DisplayName, Role: m.User.Role}
}

// PublishResult reports delivery stats/backpressure to the relay.
type PublishResult struct {
	SendTo  int
	Dropped []*Member
}

type ScopeInfo struct {
	Key         string             `json:"key"`
	Kind        domain.SessionKind `json:"kind"`
	ID          string             `json:"id"`
	MemberCount int                `json:"member_count"`
}
