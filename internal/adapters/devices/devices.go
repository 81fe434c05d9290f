// Package devices captures camera, microphone and screen with
// pion/mediadevices. Capture is only wired on linux; elsewhere every request
// fails and the engines run receive-only.
package devices

import (
	"errors"

	"github.com/dkeye/voicesession/internal/domain"
)

var ErrUnsupported = errors.New("media capture not supported on this platform")

type attempt struct {
	video bool
	audio bool
	label string
}

// plan lists what to try, most complete first. A busy or missing microphone
// must not cost the camera, and the other way round.
func plan(c domain.MediaConstraints) []attempt {
	switch {
	case c.Audio && c.Video:
		return []attempt{{true, true, "video+audio"}, {true, false, "video-only"}, {false, true, "audio-only"}}
	case c.Video:
		return []attempt{{true, false, "video-only"}}
	case c.Audio:
		return []attempt{{false, true, "audio-only"}}
	}
	return nil
}
