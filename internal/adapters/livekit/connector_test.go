package livekit

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/voicesession/internal/core"
	"github.com/dkeye/voicesession/internal/domain"
	"github.com/livekit/protocol/livekit"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfPrefersSource(t *testing.T) {
	assert.Equal(t, domain.TrackScreen, kindOf(true, livekit.TrackSource_SCREEN_SHARE, "cam"))
	assert.Equal(t, domain.TrackVideo, kindOf(true, livekit.TrackSource_CAMERA, "screen-ish"))
	assert.Equal(t, domain.TrackAudio, kindOf(false, livekit.TrackSource_MICROPHONE, ""))
	// unknown source falls back to the label
	assert.Equal(t, domain.TrackScreen, kindOf(true, livekit.TrackSource_UNKNOWN, "Screen 1"))
	assert.Equal(t, domain.TrackVideo, kindOf(true, livekit.TrackSource_UNKNOWN, "webcam"))
	assert.Equal(t, domain.TrackAudio, kindOf(false, livekit.TrackSource_UNKNOWN, "screen"))
}

func TestSourceRoundTrip(t *testing.T) {
	for _, k := range []domain.TrackKind{domain.TrackAudio, domain.TrackVideo, domain.TrackScreen} {
		assert.Equal(t, k, kindOf(k != domain.TrackAudio, sourceOf(k), ""))
	}
}

func TestIsScreenHeuristic(t *testing.T) {
	assert.True(t, isScreen(livekit.TrackSource_SCREEN_SHARE, ""))
	assert.True(t, isScreen(livekit.TrackSource_UNKNOWN, "my-SCREEN"))
	assert.False(t, isScreen(livekit.TrackSource_CAMERA, "camera"))
}

func TestConnectFailureIsReported(t *testing.T) {
	c := NewConnector(zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.Connect(ctx, "ws://127.0.0.1:1", "token", core.ManagedEvents{})
	require.Error(t, err)
}

func TestConnectHonoursContext(t *testing.T) {
	c := NewConnector(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Connect(ctx, "ws://10.255.255.1:7880", "token", core.ManagedEvents{})
	require.Error(t, err)
}
