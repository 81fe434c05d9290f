package main

import (
	"context"
	"testing"

	"github.com/dkeye/voicesession/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	calls []string
	share bool
}

func (r *recorder) ToggleAudio(on bool) error {
	r.calls = append(r.calls, map[bool]string{true: "unmute", false: "mute"}[on])
	return nil
}

func (r *recorder) ToggleVideo(on bool) error {
	r.calls = append(r.calls, map[bool]string{true: "video on", false: "video off"}[on])
	return nil
}

func (r *recorder) StartScreenShare(context.Context) (bool, error) {
	r.calls = append(r.calls, "share")
	return r.share, nil
}

func (r *recorder) StopScreenShare() error {
	r.calls = append(r.calls, "unshare")
	return nil
}

func (r *recorder) SendChat(text string) error {
	r.calls = append(r.calls, "chat:"+text)
	return nil
}

func (r *recorder) Leave() { r.calls = append(r.calls, "leave") }

func TestRunDispatchesCommands(t *testing.T) {
	r := &recorder{share: true}
	ctx := context.Background()
	for _, line := range []string{"/mute", "/unmute", "/video off", " /video on ", "/share", "/unshare", "", "/nope", "hello there"} {
		assert.True(t, run(ctx, r, line), line)
	}
	assert.False(t, run(ctx, r, "/leave"))
	assert.Equal(t, []string{"mute", "unmute", "video off", "video on", "share", "unshare", "chat:hello there", "leave"}, r.calls)
}

func TestPickSession(t *testing.T) {
	s, err := pickSession("a1", "")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionAppointment, s.Kind)

	s, err = pickSession("", "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionRoom, s.Kind)

	_, err = pickSession("a1", "r1")
	assert.ErrorIs(t, err, domain.ErrAmbiguousSession)
	_, err = pickSession("", "")
	assert.ErrorIs(t, err, errOneSession)
}
