package core

import (
	"context"

	"github.com/dkeye/voicesession/internal/domain"
)

// SessionID names one engine instance in logs and in the connection factory.
type SessionID string

// CapabilityProvider is the backend's join-token endpoint.
//
//go:generate mockgen -source=engine_iface.go -destination=mocks/engine_mock.go -package=mocks CapabilityProvider
type CapabilityProvider interface {
	FetchCapability(ctx context.Context, s domain.Session) (domain.Capability, error)
}

// Engine is one transport strategy. The orchestrator picks one per join.
type Engine interface {
	Provider() domain.Provider
	State() EngineState
	Join(ctx context.Context, s domain.Session) error
	// Leave never fails and is a no-op when idle.
	Leave()
	ToggleAudio(on bool)
	ToggleVideo(on bool)
	// StartScreenShare reports whether the outgoing video now carries the screen.
	StartScreenShare(ctx context.Context) bool
	StopScreenShare()
	SendChat(text string) error
}
