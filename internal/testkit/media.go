// Package testkit holds in-memory stand-ins for the platform capture API, the
// peer connection, the relay and the managed media service.
package testkit

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/voicesession/internal/core"
	"github.com/dkeye/voicesession/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Track is a capture handle backed by a real static-sample track so it can
// be bound to pion senders as well.
type Track struct {
	*webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	closed  bool
	onEnded func(error)
	release func()
}

func NewTrack(kind webrtc.RTPCodecType, id, streamID string) *Track {
	mime := webrtc.MimeTypeOpus
	if kind == webrtc.RTPCodecTypeVideo {
		mime = webrtc.MimeTypeVP8
	}
	t, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, streamID)
	if err != nil {
		panic(err)
	}
	return &Track{TrackLocalStaticSample: t}
}

func (t *Track) OnEnded(fn func(error)) {
	t.mu.Lock()
	t.onEnded = fn
	t.mu.Unlock()
}

func (t *Track) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	release := t.release
	t.mu.Unlock()
	if release != nil {
		release()
	}
	return nil
}

func (t *Track) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// End simulates the source stopping on its own. Every call fires the handler.
func (t *Track) End(err error) {
	t.mu.Lock()
	fn := t.onEnded
	t.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Devices counts acquisitions and handles that are still open.
type Devices struct {
	name string

	mu           sync.Mutex
	UserMediaErr error
	DisplayErr   error
	// Gate, when set, blocks GetUserMedia until it is closed.
	Gate         chan struct{}
	acquisitions int
	waiting      int
	displays     int
	open         int
	screens      []*Track
	tracks       []*Track
}

// NewDevices names the stream its tracks belong to after name.
func NewDevices(name string) *Devices {
	return &Devices{name: name}
}

func (d *Devices) StreamID() string { return "stream-" + d.name }

func (d *Devices) newTrack(kind webrtc.RTPCodecType, id string) *Track {
	t := NewTrack(kind, id, d.StreamID())
	t.release = func() {
		d.mu.Lock()
		d.open--
		d.mu.Unlock()
	}
	d.open++
	d.tracks = append(d.tracks, t)
	return t
}

func (d *Devices) GetUserMedia(ctx context.Context, c domain.MediaConstraints) ([]core.LocalTrack, error) {
	d.mu.Lock()
	gate := d.Gate
	d.mu.Unlock()
	if gate != nil {
		d.mu.Lock()
		d.waiting++
		d.mu.Unlock()
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.acquisitions++
	if d.UserMediaErr != nil {
		return nil, d.UserMediaErr
	}
	var out []core.LocalTrack
	if c.Audio {
		out = append(out, d.newTrack(webrtc.RTPCodecTypeAudio, d.name+"-audio"))
	}
	if c.Video {
		out = append(out, d.newTrack(webrtc.RTPCodecTypeVideo, d.name+"-camera"))
	}
	return out, nil
}

func (d *Devices) GetDisplayMedia(context.Context) (core.LocalTrack, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DisplayErr != nil {
		return nil, d.DisplayErr
	}
	d.displays++
	t := d.newTrack(webrtc.RTPCodecTypeVideo, fmt.Sprintf("%s-screen-%d", d.name, d.displays))
	d.screens = append(d.screens, t)
	return t, nil
}

// Acquisitions counts GetUserMedia calls.
func (d *Devices) Acquisitions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquisitions
}

// Waiting counts GetUserMedia calls that reached the gate.
func (d *Devices) Waiting() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.waiting
}

// Open counts handles not yet closed.
func (d *Devices) Open() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

func (d *Devices) LastScreen() *Track {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.screens) == 0 {
		return nil
	}
	return d.screens[len(d.screens)-1]
}

// Sender records every ReplaceTrack call.
type Sender struct {
	mu      sync.Mutex
	Err     error
	calls   []core.LocalTrack
	current core.LocalTrack
}

func NewSender(initial core.LocalTrack) *Sender {
	return &Sender{current: initial}
}

func (s *Sender) ReplaceTrack(t core.LocalTrack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.calls = append(s.calls, t)
	s.current = t
	return nil
}

func (s *Sender) Calls() []core.LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.LocalTrack(nil), s.calls...)
}

func (s *Sender) Current() core.LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// RemoteTrack is a plain core.RemoteTrack.
type RemoteTrack struct {
	TrackID string
	Stream  string
	Type    webrtc.RTPCodecType
}

func (r RemoteTrack) ID() string                { return r.TrackID }
func (r RemoteTrack) StreamID() string          { return r.Stream }
func (r RemoteTrack) Kind() webrtc.RTPCodecType { return r.Type }
