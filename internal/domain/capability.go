package domain

import (
	"encoding/json"
	"fmt"
)

type Provider string

const (
	ProviderNative  Provider = "native"
	ProviderManaged Provider = "managed"
)

// ParseProvider maps the backend's provider flag. The backend still names the
// managed service after the vendor it originally used.
func ParseProvider(raw string) (Provider, error) {
	switch raw {
	case "native":
		return ProviderNative, nil
	case "managed", "twilio", "twilio-equivalent", "livekit":
		return ProviderManaged, nil
	}
	return "", fmt.Errorf("unknown provider %q", raw)
}

func (p *Provider) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	v, err := ParseProvider(raw)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type TransportConfig struct {
	ICEServers []ICEServer `json:"iceServers"`
}

// Capability is the one-time join credential issued by the backend.
// Immutable for the session's lifetime and never persisted.
type Capability struct {
	Provider  Provider         `json:"provider"`
	Token     string           `json:"token"`
	RoomName  string           `json:"roomName,omitempty"`
	ServerURL string           `json:"serverUrl,omitempty"`
	Transport *TransportConfig `json:"rtcConfig,omitempty"`
}

// ICEServers returns the capability's server list, or nil when the backend
// sent no transport config.
func (c Capability) ICEServers() []ICEServer {
	if c.Transport == nil {
		return nil
	}
	return c.Transport.ICEServers
}
