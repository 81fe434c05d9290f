package rtc

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/voicesession/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

var errClosed = errors.New("connection closed")

// WebRTCConnection adapts one pion PeerConnection to core.MediaConnection.
// Local candidates trickle out through OnICECandidate; nothing waits for
// gathering to complete.
type WebRTCConnection struct {
	pc  *webrtc.PeerConnection
	sid core.SessionID
	log zerolog.Logger

	mu           sync.Mutex
	onICE        func(webrtc.ICECandidateInit)
	onTrack      func(core.RemoteTrack)
	onTrackEnded func(core.RemoteTrack)
	onConnected  func()
	onClosed     func()
	cancel       context.CancelFunc
	closed       bool
	notified     bool
}

func newWebRTCConnection(pc *webrtc.PeerConnection, sid core.SessionID, log zerolog.Logger) *WebRTCConnection {
	return &WebRTCConnection{pc: pc, sid: sid, log: log.With().Str("sid", string(sid)).Logger()}
}

func (c *WebRTCConnection) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return errClosed
	}
	c.cancel = cancel
	c.mu.Unlock()
	context.AfterFunc(ctx, c.Close)

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.log.Debug().Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.log.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			if cb := c.connectedCallback(); cb != nil {
				cb()
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			c.notifyClosed()
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		cb := c.onICE
		c.mu.Unlock()
		if cb != nil {
			cb(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.log.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.mu.Lock()
		onTrack, onEnded := c.onTrack, c.onTrackEnded
		c.mu.Unlock()
		if onTrack != nil {
			onTrack(track)
		}
		go drainRTCP(func() error { _, _, err := receiver.ReadRTCP(); return err })
		go c.consume(track, onEnded)
	})
	return nil
}

func (c *WebRTCConnection) connectedCallback() func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onConnected
}

// consume reads the remote track until it stops. Nothing renders it here;
// reading keeps the jitter buffers and interceptors moving.
func (c *WebRTCConnection) consume(track *webrtc.TrackRemote, onEnded func(core.RemoteTrack)) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			break
		}
	}
	c.log.Debug().Str("track_id", track.ID()).Msg("remote track ended")
	if onEnded != nil {
		onEnded(track)
	}
}

// drainRTCP keeps the interceptors fed until read fails.
func drainRTCP(read func() error) {
	for read() == nil {
	}
}

func (c *WebRTCConnection) notifyClosed() {
	c.mu.Lock()
	if c.notified {
		c.mu.Unlock()
		return
	}
	c.notified = true
	cb := c.onClosed
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (c *WebRTCConnection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := c.pc.Close(); err != nil {
		c.log.Error().Err(err).Msg("close error")
	} else {
		c.log.Info().Msg("closed")
	}
	c.notifyClosed()
}

func (c *WebRTCConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) HasRemoteDescription() bool {
	return c.pc.RemoteDescription() != nil
}

func (c *WebRTCConnection) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) ApplyAnswer(answer webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(answer)
}

func (c *WebRTCConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onICE = fn
}

func (c *WebRTCConnection) OnTrack(fn func(core.RemoteTrack)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = fn
}

func (c *WebRTCConnection) OnTrackEnded(fn func(core.RemoteTrack)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrackEnded = fn
}

func (c *WebRTCConnection) OnConnected(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = fn
}

// OnClosed fires once, whether the transport failed or Close was called.
func (c *WebRTCConnection) OnClosed(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClosed = fn
}

// AddLocalTrack attaches t and drains the sender's RTCP for its lifetime.
func (c *WebRTCConnection) AddLocalTrack(t core.LocalTrack) (core.Sender, error) {
	sender, err := c.pc.AddTrack(t)
	if err != nil {
		return nil, err
	}
	go drainRTCP(func() error { _, _, err := sender.ReadRTCP(); return err })
	return &rtpSender{sender: sender}, nil
}

type rtpSender struct {
	sender *webrtc.RTPSender
}

// ReplaceTrack swaps the payload without renegotiating.
func (s *rtpSender) ReplaceTrack(t core.LocalTrack) error {
	if t == nil {
		return s.sender.ReplaceTrack(nil)
	}
	return s.sender.ReplaceTrack(t)
}
