package app

import (
	"sort"
	"sync"

	"github.com/dkeye/voicesession/internal/core"
	"github.com/dkeye/voicesession/internal/domain"
	"github.com/rs/zerolog"
)

// RosterMode decides where remote roster entries come from.
type RosterMode int

const (
	// RosterByStream derives one entry per distinct remote stream id.
	RosterByStream RosterMode = iota
	// RosterByParticipant keeps entries the engine adds and removes explicitly.
	RosterByParticipant
)

type RemoteTrackInfo struct {
	Track core.RemoteTrack
	Kind  domain.TrackKind
}

type RemoteStream struct {
	ID     string
	Owner  string
	Tracks map[string]RemoteTrackInfo
}

// Snapshot is the provider-agnostic view the UI renders from.
type Snapshot struct {
	Phase         core.EngineState
	MicOn         bool
	VideoOn       bool
	ScreenSharing bool
	Messages      []domain.ChatMessage
	Participants  []domain.Participant
	RemoteStreams map[string]RemoteStream
	LocalStream   []core.LocalTrack
}

// Store holds the per-session derived state: RemoteStreamSet, roster and
// ChatLog. It never touches transport resources.
type Store struct {
	log  zerolog.Logger
	self domain.User

	mu           sync.RWMutex
	mode         RosterMode
	phase        core.EngineState
	local        domain.MediaState
	localTracks  []core.LocalTrack
	streams      map[string]*RemoteStream
	participants map[string]*domain.Participant
	peerNames    map[string]string
	peerMedia    map[string]domain.MediaState
	chat         []domain.ChatMessage

	pubMu sync.Mutex
	obs   *Observer[Snapshot]
}

func NewStore(self domain.User, mode RosterMode, log zerolog.Logger) *Store {
	s := &Store{
		log:  log,
		mode: mode,
		self: self,
		obs:  NewObserver[Snapshot](),
	}
	s.resetLocked()
	return s
}

func (s *Store) resetLocked() {
	s.phase = core.StateIdle
	s.local = domain.MediaState{}
	s.localTracks = nil
	s.streams = make(map[string]*RemoteStream)
	s.participants = make(map[string]*domain.Participant)
	s.peerNames = make(map[string]string)
	s.peerMedia = make(map[string]domain.MediaState)
	s.chat = nil
}

// SetMode switches roster derivation. Engines call it on construction.
func (s *Store) SetMode(m RosterMode) {
	s.mu.Lock()
	s.mode = m
	s.rebuildLocked()
	s.mu.Unlock()
}

func (s *Store) Subscribe() (<-chan Snapshot, func()) { return s.obs.Subscribe() }

func (s *Store) notify() {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	s.obs.Publish(s.Snapshot())
}

func (s *Store) Phase() core.EngineState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

func (s *Store) SetPhase(p core.EngineState) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
	s.notify()
}

func (s *Store) SetLocalState(ms domain.MediaState) {
	s.mu.Lock()
	s.local = ms
	s.mu.Unlock()
	s.notify()
}

func (s *Store) SetLocalTracks(tracks []core.LocalTrack) {
	s.mu.Lock()
	s.localTracks = append([]core.LocalTrack(nil), tracks...)
	s.mu.Unlock()
	s.notify()
}

// AddRemoteTrack records t under its stream id and reports whether the stream
// is new.
func (s *Store) AddRemoteTrack(owner string, t core.RemoteTrack, kind domain.TrackKind) bool {
	s.mu.Lock()
	st, ok := s.streams[t.StreamID()]
	if !ok {
		st = &RemoteStream{ID: t.StreamID(), Owner: owner, Tracks: make(map[string]RemoteTrackInfo)}
		s.streams[st.ID] = st
	}
	st.Tracks[t.ID()] = RemoteTrackInfo{Track: t, Kind: kind}
	s.rebuildLocked()
	s.mu.Unlock()

	s.log.Info().Str("module", "app.store").Str("stream", t.StreamID()).Str("track", t.ID()).
		Str("kind", kind.String()).Bool("new_stream", !ok).Msg("remote track added")
	s.notify()
	return !ok
}

// RemoveRemoteTrack drops one track; the stream goes with its last track.
func (s *Store) RemoveRemoteTrack(streamID, trackID string) {
	s.mu.Lock()
	st, ok := s.streams[streamID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(st.Tracks, trackID)
	if len(st.Tracks) == 0 {
		delete(s.streams, streamID)
	}
	s.rebuildLocked()
	s.mu.Unlock()
	s.notify()
}

func (s *Store) RemoveStream(streamID string) bool {
	s.mu.Lock()
	_, ok := s.streams[streamID]
	delete(s.streams, streamID)
	s.rebuildLocked()
	s.mu.Unlock()
	if ok {
		s.log.Info().Str("module", "app.store").Str("stream", streamID).Msg("remote stream removed")
		s.notify()
	}
	return ok
}

// RemoveStreamsOf drops every stream owned by owner and returns how many went.
func (s *Store) RemoveStreamsOf(owner string) int {
	s.mu.Lock()
	n := 0
	for id, st := range s.streams {
		if st.Owner == owner {
			delete(s.streams, id)
			n++
		}
	}
	s.rebuildLocked()
	s.mu.Unlock()
	if n > 0 {
		s.notify()
	}
	return n
}

func (s *Store) ClearRemote() {
	s.mu.Lock()
	s.streams = make(map[string]*RemoteStream)
	s.participants = make(map[string]*domain.Participant)
	s.mu.Unlock()
	s.notify()
}

func (s *Store) SetPeerName(owner, name string) {
	s.mu.Lock()
	s.peerNames[owner] = name
	s.rebuildLocked()
	s.mu.Unlock()
	s.notify()
}

// SetPeerMedia applies a peer's announced media state to every roster entry
// it owns.
func (s *Store) SetPeerMedia(owner string, ms domain.MediaState) {
	s.mu.Lock()
	s.peerMedia[owner] = ms
	s.rebuildLocked()
	s.mu.Unlock()
	s.notify()
}

func (s *Store) UpsertParticipant(id, name string) {
	s.mu.Lock()
	p, ok := s.participants[id]
	if !ok {
		p = &domain.Participant{ID: id, MicOn: true, VideoOn: true}
		s.participants[id] = p
	}
	p.DisplayName = name
	s.peerNames[id] = name
	s.mu.Unlock()
	s.notify()
}

func (s *Store) RemoveParticipant(id string) {
	s.mu.Lock()
	delete(s.participants, id)
	delete(s.peerMedia, id)
	for sid, st := range s.streams {
		if st.Owner == id {
			delete(s.streams, sid)
		}
	}
	s.mu.Unlock()
	s.notify()
}

// SetParticipantMedia updates one flag of an explicitly managed entry.
func (s *Store) SetParticipantMedia(id string, kind domain.TrackKind, on bool) {
	s.mu.Lock()
	if p, ok := s.participants[id]; ok {
		switch kind {
		case domain.TrackAudio:
			p.MicOn = on
		case domain.TrackVideo:
			p.VideoOn = on
		}
	}
	s.mu.Unlock()
	s.notify()
}

// rebuildLocked recomputes stream-derived roster entries.
func (s *Store) rebuildLocked() {
	if s.mode != RosterByStream {
		return
	}
	s.participants = make(map[string]*domain.Participant, len(s.streams))
	for id, st := range s.streams {
		p := &domain.Participant{ID: id, DisplayName: s.peerNames[st.Owner], MicOn: true, VideoOn: true}
		if p.DisplayName == "" {
			p.DisplayName = st.Owner
		}
		if ms, ok := s.peerMedia[st.Owner]; ok {
			p.MicOn = ms.MicOn
			p.VideoOn = ms.VideoOn || ms.ScreenSharing
		}
		s.participants[id] = p
	}
}

func (s *Store) AppendChat(m domain.ChatMessage) {
	s.mu.Lock()
	s.chat = append(s.chat, m)
	s.mu.Unlock()
	s.notify()
}

// Reset drops everything a session accumulated. Used on leave.
func (s *Store) Reset() {
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
	s.notify()
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Phase:         s.phase,
		MicOn:         s.local.MicOn,
		VideoOn:       s.local.VideoOn,
		ScreenSharing: s.local.ScreenSharing,
		Messages:      append([]domain.ChatMessage(nil), s.chat...),
		RemoteStreams: make(map[string]RemoteStream, len(s.streams)),
		LocalStream:   append([]core.LocalTrack(nil), s.localTracks...),
	}
	for id, st := range s.streams {
		cp := RemoteStream{ID: st.ID, Owner: st.Owner, Tracks: make(map[string]RemoteTrackInfo, len(st.Tracks))}
		for tid, ti := range st.Tracks {
			cp.Tracks[tid] = ti
		}
		snap.RemoteStreams[id] = cp
	}

	remote := make([]domain.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		remote = append(remote, *p)
	}
	sort.Slice(remote, func(i, j int) bool { return remote[i].ID < remote[j].ID })

	snap.Participants = make([]domain.Participant, 0, len(remote)+1)
	snap.Participants = append(snap.Participants, domain.Participant{
		ID:          domain.LocalParticipantID,
		DisplayName: s.self.DisplayName,
		MicOn:       s.local.MicOn,
		VideoOn:     s.local.VideoOn || s.local.ScreenSharing,
		Local:       true,
	})
	snap.Participants = append(snap.Participants, remote...)
	return snap
}

// Close ends every subscription.
func (s *Store) Close() { s.obs.Close() }
