package media

import (
	"sync"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"
)

// Stream groups local tracks acquired together.
type Stream struct {
	id string

	mu     sync.RWMutex
	tracks []ports.LocalTrack
}

func NewStream(id string, tracks ...ports.LocalTrack) *Stream {
	return &Stream{id: id, tracks: tracks}
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Tracks() []ports.LocalTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ports.LocalTrack, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *Stream) AudioTracks() []ports.LocalTrack { return s.byKind(domain.MediaKindAudio) }
func (s *Stream) VideoTracks() []ports.LocalTrack { return s.byKind(domain.MediaKindVideo) }

func (s *Stream) AddTrack(track ports.LocalTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tracks {
		if t == track {
			return
		}
	}
	s.tracks = append(s.tracks, track)
}

func (s *Stream) RemoveTrack(track ports.LocalTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.tracks {
		if t == track {
			s.tracks = append(s.tracks[:i], s.tracks[i+1:]...)
			return
		}
	}
}

func (s *Stream) byKind(kind domain.MediaKind) []ports.LocalTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ports.LocalTrack
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}
