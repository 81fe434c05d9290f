package domain

import "errors"

var (
	ErrSessionIDEmpty   = errors.New("session id empty")
	ErrAmbiguousSession = errors.New("session has both appointment and room id")
	ErrUnknownKind      = errors.New("unknown session kind")
)

type SessionKind string

const (
	SessionAppointment SessionKind = "appointment"
	SessionRoom        SessionKind = "room"
)

// Session identifies a call by exactly one of appointment id or room id.
type Session struct {
	Kind SessionKind `json:"kind"`
	ID   string      `json:"id"`
}

func NewAppointmentSession(id string) (Session, error) {
	if id == "" {
		return Session{}, ErrSessionIDEmpty
	}
	return Session{Kind: SessionAppointment, ID: id}, nil
}

func NewRoomSession(id string) (Session, error) {
	if id == "" {
		return Session{}, ErrSessionIDEmpty
	}
	return Session{Kind: SessionRoom, ID: id}, nil
}

func (s Session) Validate() error {
	if s.ID == "" {
		return ErrSessionIDEmpty
	}
	if s.Kind != SessionAppointment && s.Kind != SessionRoom {
		return ErrUnknownKind
	}
	return nil
}

// ScopeID is the identifier used on the wire (sessionScopeId).
func (s Session) ScopeID() string { return s.ID }

// Key is unique across kinds; the relay groups members by it.
func (s Session) Key() string { return string(s.Kind) + ":" + s.ID }

func (s Session) String() string { return s.Key() }
