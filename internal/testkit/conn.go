package testkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dkeye/voicesession/internal/core"
	"github.com/dkeye/voicesession/internal/domain"
	"github.com/pion/webrtc/v4"
)

const (
	offerPrefix  = "fake-offer:"
	answerPrefix = "fake-answer:"
)

var errNoRemoteDescription = errors.New("remote description not set")

// Network pairs Conns by the ids carried in their fake SDP. Once an answer is
// applied both ends see each other's tracks and report connected.
type Network struct {
	mu    sync.Mutex
	seq   int
	conns map[string]*Conn
	order []*Conn
	Err   error
}

func NewNetwork() *Network {
	return &Network{conns: make(map[string]*Conn)}
}

func (n *Network) NewConnection(servers []domain.ICEServer, sid core.SessionID) (core.MediaConnection, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return nil, n.Err
	}
	n.seq++
	c := &Conn{net: n, id: fmt.Sprintf("%s#%d", sid, n.seq), Servers: servers}
	n.conns[c.id] = c
	n.order = append(n.order, c)
	return c, nil
}

// Conns returns every connection created so far, in creation order.
func (n *Network) Conns() []*Conn {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*Conn(nil), n.order...)
}

func (n *Network) lookup(sdp, prefix string) *Conn {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conns[strings.TrimPrefix(sdp, prefix)]
}

type Conn struct {
	net     *Network
	id      string
	Servers []domain.ICEServer

	mu         sync.Mutex
	started    bool
	closed     bool
	remoteSet  bool
	peer       *Conn
	locals     []core.LocalTrack
	candidates []webrtc.ICECandidateInit

	onICE       func(webrtc.ICECandidateInit)
	onTrack     func(core.RemoteTrack)
	onEnded     func(core.RemoteTrack)
	onConnected func()
	onClosed    func()
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Start(context.Context) error {
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	fn := c.onClosed
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.remoteSet {
		return errNoRemoteDescription
	}
	c.candidates = append(c.candidates, ci)
	return nil
}

// Candidates returns the remote candidates applied so far.
func (c *Conn) Candidates() []webrtc.ICECandidateInit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), c.candidates...)
}

func (c *Conn) HasRemoteDescription() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteSet
}

func (c *Conn) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	if c.IsClosed() {
		return nil, errors.New("connection closed")
	}
	c.gather()
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerPrefix + c.id}, nil
}

func (c *Conn) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	peer := c.net.lookup(offer.SDP, offerPrefix)
	if peer == nil {
		return nil, fmt.Errorf("unknown offer %q", offer.SDP)
	}
	c.mu.Lock()
	c.remoteSet = true
	c.peer = peer
	c.mu.Unlock()
	c.gather()
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerPrefix + c.id}, nil
}

func (c *Conn) ApplyAnswer(answer webrtc.SessionDescription) error {
	peer := c.net.lookup(answer.SDP, answerPrefix)
	if peer == nil {
		return fmt.Errorf("unknown answer %q", answer.SDP)
	}
	c.mu.Lock()
	c.remoteSet = true
	c.peer = peer
	c.mu.Unlock()

	go c.link(peer)
	go peer.link(c)
	return nil
}

// link delivers from's tracks to c and then reports connected.
func (c *Conn) link(from *Conn) {
	from.mu.Lock()
	locals := append([]core.LocalTrack(nil), from.locals...)
	from.mu.Unlock()

	c.mu.Lock()
	onTrack, onConnected, closed := c.onTrack, c.onConnected, c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	for _, t := range locals {
		if onTrack != nil {
			onTrack(RemoteTrack{TrackID: t.ID(), Stream: t.StreamID(), Type: t.Kind()})
		}
	}
	if onConnected != nil {
		onConnected()
	}
}

// EndRemote fires OnTrackEnded for every track the linked peer sent.
func (c *Conn) EndRemote() {
	c.mu.Lock()
	peer, fn := c.peer, c.onEnded
	c.mu.Unlock()
	if peer == nil || fn == nil {
		return
	}
	peer.mu.Lock()
	locals := append([]core.LocalTrack(nil), peer.locals...)
	peer.mu.Unlock()
	for _, t := range locals {
		fn(RemoteTrack{TrackID: t.ID(), Stream: t.StreamID(), Type: t.Kind()})
	}
}

func (c *Conn) gather() {
	c.mu.Lock()
	fn := c.onICE
	c.mu.Unlock()
	if fn == nil {
		return
	}
	go fn(webrtc.ICECandidateInit{Candidate: "candidate:" + c.id})
}

func (c *Conn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *Conn) OnTrack(fn func(core.RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *Conn) OnTrackEnded(fn func(core.RemoteTrack)) {
	c.mu.Lock()
	c.onEnded = fn
	c.mu.Unlock()
}

func (c *Conn) OnConnected(fn func()) {
	c.mu.Lock()
	c.onConnected = fn
	c.mu.Unlock()
}

func (c *Conn) OnClosed(fn func()) {
	c.mu.Lock()
	c.onClosed = fn
	c.mu.Unlock()
}

func (c *Conn) AddLocalTrack(t core.LocalTrack) (core.Sender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("connection closed")
	}
	c.locals = append(c.locals, t)
	return NewSender(t), nil
}

func (c *Conn) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}
