package core

import (
	"context"
	"encoding/json"

	"github.com/dkeye/voicesession/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Frame is a raw signaling payload as it travels over the wire.
type Frame []byte

// Signaling events. The webrtc:* and chat:message names are the wire contract
// shared with the platform backend; the rest are relay control events.
const (
	EventAuth         = "auth"
	EventOffer        = "webrtc:offer"
	EventAnswer       = "webrtc:answer"
	EventICECandidate = "webrtc:ice-candidate"
	EventChat         = "chat:message"
	EventMediaState   = "media:state"
	EventWelcome      = "session:welcome"
	EventPeerJoined   = "session:peer-joined"
	EventPeerLeft     = "session:peer-left"
	EventError        = "session:error"
	EventPing         = "ping"
	EventPong         = "pong"
)

// Envelope is the JSON frame exchanged with the relay. From is stamped by the
// relay and ignored when a client sets it.
type Envelope struct {
	Type    string          `json:"type"`
	From    domain.UserID   `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message is what a SignalChannel hands to a registered handler.
type Message struct {
	Event   string
	From    domain.UserID
	Payload json.RawMessage
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Payload, v)
}

type SignalHandler func(Message)

// SignalChannel is one authenticated, session-scoped message channel to the relay.
// Owned by the engine that opened it; the engine must Disconnect() it.
type SignalChannel interface {
	// On registers the handler for event, replacing any previous one.
	// Messages that arrived before any handler for their event are held
	// (bounded) and delivered to the first handler registered for it.
	On(event string, h SignalHandler)
	Emit(event string, payload any) error
	// OnReconnect fires after a transparent redial; handlers registered with On
	// have been dropped by then and must be registered again.
	OnReconnect(func())
	// Disconnect is idempotent.
	Disconnect()
}

type SignalDialer interface {
	Connect(ctx context.Context, endpoint string, auth domain.AuthPayload) (SignalChannel, error)
}

// SDPPayload carries webrtc:offer and webrtc:answer.
type SDPPayload struct {
	SessionScopeID string `json:"sessionScopeId"`
	SDP            string `json:"sdp"`
}

type CandidatePayload struct {
	SessionScopeID string                  `json:"sessionScopeId"`
	Candidate      webrtc.ICECandidateInit `json:"candidate"`
}

// ChatPayload doubles as the delivery payload the relay archives, hence the
// snake_case scope keys.
type ChatPayload struct {
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
	RoomID    string `json:"room_id,omitempty"`
}

// NewChatPayload fills the scope key matching s.Kind.
func NewChatPayload(s domain.Session, sender, text string) ChatPayload {
	p := ChatPayload{Sender: sender, Text: text}
	if s.Kind == domain.SessionRoom {
		p.RoomID = s.ID
	} else {
		p.SessionID = s.ID
	}
	return p
}

type PeerInfo struct {
	UserID      domain.UserID `json:"userId"`
	DisplayName string        `json:"displayName,omitempty"`
	Role        domain.Role   `json:"role,omitempty"`
}

type WelcomePayload struct {
	Session domain.Session `json:"session"`
	Peers   []PeerInfo     `json:"peers"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// Relay error codes carried in session:error.
const (
	CodeBadAuth      = "bad_auth"
	CodeBadPayload   = "bad_payload"
	CodeSessionFull  = "session_full"
	CodeRateLimited  = "rate_limited"
	CodeUnknownEvent = "unknown_event"
)
