package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderAliases(t *testing.T) {
	for raw, want := range map[string]Provider{
		"native":            ProviderNative,
		"managed":           ProviderManaged,
		"twilio-equivalent": ProviderManaged,
		"livekit":           ProviderManaged,
	} {
		got, err := ParseProvider(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
	_, err := ParseProvider("sms")
	assert.Error(t, err)
}

func TestCapabilityDecode(t *testing.T) {
	var c Capability
	require.NoError(t, json.Unmarshal([]byte(`{"provider":"twilio-equivalent","token":"tok","roomName":"r"}`), &c))
	assert.Equal(t, ProviderManaged, c.Provider)
	assert.Nil(t, c.ICEServers())

	require.NoError(t, json.Unmarshal([]byte(`{"provider":"native","token":"t","rtcConfig":{"iceServers":[]}}`), &c))
	assert.Empty(t, c.ICEServers())
}

func TestSessionKeysDoNotCollide(t *testing.T) {
	a, _ := NewAppointmentSession("7")
	r, _ := NewRoomSession("7")
	assert.NotEqual(t, a.Key(), r.Key())
	assert.Equal(t, a.ScopeID(), r.ScopeID())
	assert.ErrorIs(t, Session{Kind: "lobby", ID: "x"}.Validate(), ErrUnknownKind)
}

func TestClassifyTrack(t *testing.T) {
	assert.Equal(t, TrackAudio, ClassifyTrack(false, "screen"))
	assert.Equal(t, TrackScreen, ClassifyTrack(true, "Screen-1"))
	assert.Equal(t, TrackVideo, ClassifyTrack(true, "camera"))
}
