package testkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dkeye/voicesession/internal/core"
	"github.com/dkeye/voicesession/internal/domain"
)

// ManagedConnector hands out ManagedRooms that tests drive by hand.
type ManagedConnector struct {
	mu       sync.Mutex
	Err      error
	Present  []core.ManagedParticipant
	rooms    []*ManagedRoom
	lastURL  string
	lastTok  string
	Identity string
}

func (c *ManagedConnector) Connect(ctx context.Context, url, token string, ev core.ManagedEvents) (core.ManagedRoom, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	id := c.Identity
	if id == "" {
		id = "local"
	}
	r := &ManagedRoom{identity: id, ev: ev, participants: append([]core.ManagedParticipant(nil), c.Present...)}
	c.rooms = append(c.rooms, r)
	c.lastURL, c.lastTok = url, token
	return r, nil
}

func (c *ManagedConnector) Rooms() []*ManagedRoom {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*ManagedRoom(nil), c.rooms...)
}

// Last returns the url and token of the latest Connect.
func (c *ManagedConnector) Last() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastURL, c.lastTok
}

type ManagedRoom struct {
	identity string
	ev       core.ManagedEvents

	mu           sync.Mutex
	participants []core.ManagedParticipant
	pubs         []*Publication
	seq          int
	disconnects  int
	PublishErr   error
}

func (r *ManagedRoom) LocalIdentity() string { return r.identity }

func (r *ManagedRoom) Participants() []core.ManagedParticipant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.ManagedParticipant(nil), r.participants...)
}

func (r *ManagedRoom) Publish(track core.LocalTrack, kind domain.TrackKind, name string) (core.Publication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.PublishErr != nil {
		return nil, r.PublishErr
	}
	r.seq++
	p := &Publication{Sender: NewSender(track), sid: fmt.Sprintf("TR_%d", r.seq), name: name, kind: kind}
	r.pubs = append(r.pubs, p)
	return p, nil
}

func (r *ManagedRoom) Unpublish(pub core.Publication) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.pubs {
		if p.SID() == pub.SID() {
			r.pubs = append(r.pubs[:i], r.pubs[i+1:]...)
			return nil
		}
	}
	return errors.New("publication not found")
}

func (r *ManagedRoom) Publications() []core.Publication {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.Publication, 0, len(r.pubs))
	for _, p := range r.pubs {
		out = append(out, p)
	}
	return out
}

func (r *ManagedRoom) Disconnect() {
	r.mu.Lock()
	r.disconnects++
	r.mu.Unlock()
}

func (r *ManagedRoom) Disconnects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disconnects
}

// AddPublication plants an outgoing track the engine did not publish itself,
// as the service does when another device of the same identity shares.
func (r *ManagedRoom) AddPublication(name string, kind domain.TrackKind) *Publication {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	p := &Publication{Sender: NewSender(nil), sid: fmt.Sprintf("TR_%d", r.seq), name: name, kind: kind}
	r.pubs = append(r.pubs, p)
	return p
}

func (r *ManagedRoom) Join(p core.ManagedParticipant) {
	r.mu.Lock()
	r.participants = append(r.participants, p)
	fn := r.ev.ParticipantJoined
	r.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

func (r *ManagedRoom) Leave(p core.ManagedParticipant) {
	r.mu.Lock()
	for i, q := range r.participants {
		if q.Identity == p.Identity {
			r.participants = append(r.participants[:i], r.participants[i+1:]...)
			break
		}
	}
	fn := r.ev.ParticipantLeft
	r.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

func (r *ManagedRoom) Subscribe(p core.ManagedParticipant, t core.RemoteTrack, kind domain.TrackKind) {
	if fn := r.ev.TrackSubscribed; fn != nil {
		fn(p, t, kind)
	}
}

func (r *ManagedRoom) Unsubscribe(p core.ManagedParticipant, t core.RemoteTrack) {
	if fn := r.ev.TrackUnsubscribed; fn != nil {
		fn(p, t)
	}
}

func (r *ManagedRoom) Mute(p core.ManagedParticipant, kind domain.TrackKind, muted bool) {
	if fn := r.ev.TrackMuted; fn != nil {
		fn(p, kind, muted)
	}
}

// Drop simulates the service closing the room.
func (r *ManagedRoom) Drop() {
	if fn := r.ev.Disconnected; fn != nil {
		fn()
	}
}

type Publication struct {
	*Sender
	sid  string
	name string
	kind domain.TrackKind
}

func (p *Publication) SID() string            { return p.sid }
func (p *Publication) Name() string           { return p.name }
func (p *Publication) Kind() domain.TrackKind { return p.kind }
func (p *Publication) IsScreen() bool {
	return p.kind == domain.TrackScreen || strings.Contains(strings.ToLower(p.name), domain.ScreenLabel)
}

// Sink records attachments.
type Sink struct {
	mu       sync.Mutex
	locals   []localAttachment
	remotes  map[string]string
	detached []string
}

type localAttachment struct {
	id   string
	kind domain.TrackKind
}

func NewSink() *Sink { return &Sink{remotes: make(map[string]string)} }

func (s *Sink) AttachLocal(t core.LocalTrack, kind domain.TrackKind) {
	s.mu.Lock()
	s.locals = append(s.locals, localAttachment{id: t.ID(), kind: kind})
	s.mu.Unlock()
}

func (s *Sink) AttachRemote(participantID string, t core.RemoteTrack, _ domain.TrackKind) {
	s.mu.Lock()
	s.remotes[t.ID()] = participantID
	s.mu.Unlock()
}

func (s *Sink) Detach(_, trackID string) {
	s.mu.Lock()
	delete(s.remotes, trackID)
	for i, l := range s.locals {
		if l.id == trackID {
			s.locals = append(s.locals[:i], s.locals[i+1:]...)
			break
		}
	}
	s.detached = append(s.detached, trackID)
	s.mu.Unlock()
}

func (s *Sink) Locals() []domain.TrackKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TrackKind, 0, len(s.locals))
	for _, l := range s.locals {
		out = append(out, l.kind)
	}
	return out
}

func (s *Sink) Remotes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.remotes)
}
