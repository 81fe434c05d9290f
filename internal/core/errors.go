package core

import (
	"errors"
	"fmt"

	"github.com/dkeye/voicesession/internal/domain"
)

var (
	ErrInvalidState           = errors.New("invalid engine state")
	ErrJoinAborted            = errors.New("join aborted by leave")
	ErrNotJoined              = errors.New("session not joined")
	ErrAlreadyJoined          = errors.New("session already joined")
	ErrAlreadyAcquired        = errors.New("local media already acquired")
	ErrScreenShareUnavailable = errors.New("screen share unavailable")
	ErrChannelClosed          = errors.New("signal channel closed")
	ErrBackpressure           = errors.New("backpressure")
	ErrEmptyChat              = errors.New("empty chat message")
)

// CapabilityFetchError means the backend was unreachable or refused the join.
// Status is zero when no response arrived.
type CapabilityFetchError struct {
	Session domain.Session
	Status  int
	Err     error
}

func (e *CapabilityFetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch capability for %s: status %d", e.Session, e.Status)
	}
	return fmt.Sprintf("fetch capability for %s: %v", e.Session, e.Err)
}

func (e *CapabilityFetchError) Unwrap() error { return e.Err }

type ProviderMismatchError struct {
	Want domain.Provider
	Got  domain.Provider
}

func (e *ProviderMismatchError) Error() string {
	return fmt.Sprintf("provider mismatch: engine is %q, backend returned %q", e.Want, e.Got)
}

type MediaAcquisitionError struct {
	Err error
}

func (e *MediaAcquisitionError) Error() string {
	return "acquire local media: " + e.Err.Error()
}

func (e *MediaAcquisitionError) Unwrap() error { return e.Err }

// SignalingApplyError is logged and dropped, never returned to callers.
type SignalingApplyError struct {
	Event string
	Err   error
}

func (e *SignalingApplyError) Error() string {
	return fmt.Sprintf("apply %s: %v", e.Event, e.Err)
}

func (e *SignalingApplyError) Unwrap() error { return e.Err }

// RelayRejectedError is a session:error answered to the auth frame.
type RelayRejectedError struct {
	Code    string
	Message string
}

func (e *RelayRejectedError) Error() string {
	if e.Message == "" {
		return "relay rejected join: " + e.Code
	}
	return fmt.Sprintf("relay rejected join: %s (%s)", e.Code, e.Message)
}
