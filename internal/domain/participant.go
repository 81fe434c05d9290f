package domain

// LocalParticipantID is the synthetic roster entry for this client.
const LocalParticipantID = "local"

// Participant is derived from the live stream set, never authoritative.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	MicOn       bool   `json:"micOn"`
	VideoOn     bool   `json:"videoOn"`
	Local       bool   `json:"local,omitempty"`
}

// MediaState is what a peer announces about its own outgoing media.
type MediaState struct {
	MicOn         bool `json:"micOn"`
	VideoOn       bool `json:"videoOn"`
	ScreenSharing bool `json:"screenSharing"`
}

// LocalMediaState is owned by the track controller.
type LocalMediaState = MediaState
