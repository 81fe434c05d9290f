package managed

import (
	"sync"

	"github.com/dkeye/voicesession/internal/core"
	"github.com/dkeye/voicesession/internal/domain"
)

// PlaceholderSink stands in for a renderer: it only remembers what is attached.
type PlaceholderSink struct {
	mu     sync.Mutex
	local  map[string]domain.TrackKind
	remote map[string]string
}

func NewPlaceholderSink() *PlaceholderSink {
	return &PlaceholderSink{
		local:  make(map[string]domain.TrackKind),
		remote: make(map[string]string),
	}
}

func (s *PlaceholderSink) AttachLocal(t core.LocalTrack, kind domain.TrackKind) {
	s.mu.Lock()
	s.local[t.ID()] = kind
	s.mu.Unlock()
}

func (s *PlaceholderSink) AttachRemote(participantID string, t core.RemoteTrack, _ domain.TrackKind) {
	s.mu.Lock()
	s.remote[t.ID()] = participantID
	s.mu.Unlock()
}

func (s *PlaceholderSink) Detach(_, trackID string) {
	s.mu.Lock()
	delete(s.remote, trackID)
	delete(s.local, trackID)
	s.mu.Unlock()
}

// Attached counts local and remote attachments.
func (s *PlaceholderSink) Attached() (local, remote int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.local), len(s.remote)
}
