// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxUserIDLen      = 64
	MaxDisplayNameLen = 64
)

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
	ErrUserIDEmpty        = errors.New("user id empty")
)

type UserID string

// Role is the platform role the backend assigned to the caller.
type Role string

const (
	RoleStudent   Role = "student"
	RoleCounselor Role = "counselor"
	RoleAdmin     Role = "admin"
)

type User struct {
	ID          UserID `json:"id"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
// An empty id gets a random one.
func NewUser(id UserID, displayName string, role Role) (*User, error) {
	if len(displayName) == 0 {
		return nil, ErrDisplayNameEmpty
	}
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	if id == "" {
		id = UserID(uuid.NewString())
	}
	return &User{ID: id, DisplayName: displayName, Role: role}, nil
}

func (u *User) SetDisplayName(name string) error {
	if len(name) == 0 {
		return ErrDisplayNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	u.DisplayName = name
	return nil
}

// AuthPayload is the first frame a client sends on the signaling channel.
// Exactly one of AppointmentID and RoomID is set.
type AuthPayload struct {
	UserID        UserID `json:"userId"`
	Role          Role   `json:"role"`
	DisplayName   string `json:"displayName,omitempty"`
	AppointmentID string `json:"appointmentId,omitempty"`
	RoomID        string `json:"roomId,omitempty"`
	RoomToken     string `json:"roomToken,omitempty"`
}

// NewAuthPayload scopes the handshake for u to session s.
func NewAuthPayload(u User, s Session, roomToken string) AuthPayload {
	p := AuthPayload{
		UserID:      u.ID,
		Role:        u.Role,
		DisplayName: u.DisplayName,
		RoomToken:   roomToken,
	}
	switch s.Kind {
	case SessionAppointment:
		p.AppointmentID = s.ID
	case SessionRoom:
		p.RoomID = s.ID
	}
	return p
}

// Session resolves the scope the payload claims.
func (p AuthPayload) Session() (Session, error) {
	switch {
	case p.AppointmentID != "" && p.RoomID != "":
		return Session{}, ErrAmbiguousSession
	case p.AppointmentID != "":
		return NewAppointmentSession(p.AppointmentID)
	case p.RoomID != "":
		return NewRoomSession(p.RoomID)
	}
	return Session{}, ErrSessionIDEmpty
}
