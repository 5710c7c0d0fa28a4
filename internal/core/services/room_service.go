package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MeshFactory builds the mesh hosting a room.
type MeshFactory func(room domain.RoomID) ports.Mesh

type peerForgetter interface {
	ForgetPeer(peerID domain.PeerID)
}

type room struct {
	mesh       ports.Mesh
	members    map[domain.PeerID]struct{}
	lastActive time.Time
}

// RoomSummary describes a hosted room.
type RoomSummary struct {
	ID           domain.RoomID   `json:"id"`
	Participants []domain.PeerID `json:"participants"`
	LastActive   time.Time       `json:"lastActive"`
}

// RoomService keeps one mesh per room, announces membership changes and
// closes rooms that stay empty longer than the idle TTL.
type RoomService struct {
	newMesh    MeshFactory
	publishers []ports.ParticipantPublisher
	metrics    ports.CallMetrics
	idleTTL    time.Duration
	maxPeers   int
	logger     *zap.SugaredLogger
	now        func() time.Time

	mu    sync.Mutex
	rooms map[domain.RoomID]*room
}

func NewRoomService(
	newMesh MeshFactory,
	publishers []ports.ParticipantPublisher,
	metrics ports.CallMetrics,
	idleTTL time.Duration,
	maxPeers int,
	logger *zap.SugaredLogger,
) *RoomService {
	return &RoomService{
		newMesh:    newMesh,
		publishers: publishers,
		metrics:    metrics,
		idleTTL:    idleTTL,
		maxPeers:   maxPeers,
		logger:     logger,
		now:        time.Now,
		rooms:      make(map[domain.RoomID]*room),
	}
}

// Room returns the mesh of an existing room.
func (s *RoomService) Room(id domain.RoomID) (ports.Mesh, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, fmt.Errorf("room %s: %w", id, domain.ErrRoomNotFound)
	}
	r.lastActive = s.now()
	return r.mesh, nil
}

// Join admits peerID to the room, creating the room on first use. Joining
// twice is a no-op.
func (s *RoomService) Join(ctx context.Context, id domain.RoomID, peerID domain.PeerID) (ports.Mesh, error) {
	s.mu.Lock()
	r, ok := s.rooms[id]
	if !ok {
		r = &room{mesh: s.newMesh(id), members: make(map[domain.PeerID]struct{})}
		s.rooms[id] = r
		s.logger.Infow("Room created", "room_id", id)
	}
	r.lastActive = s.now()
	if _, member := r.members[peerID]; member {
		s.mu.Unlock()
		return r.mesh, nil
	}
	if s.maxPeers > 0 && len(r.members) >= s.maxPeers {
		s.mu.Unlock()
		return nil, fmt.Errorf("room %s: %w", id, domain.ErrRoomFull)
	}
	r.members[peerID] = struct{}{}
	s.mu.Unlock()

	s.logger.Infow("Participant joined", "room_id", id, "peer_id", peerID)
	s.announce(ctx, id, peerID, true)
	return r.mesh, nil
}

// Leave removes peerID from the room and closes its connection.
func (s *RoomService) Leave(ctx context.Context, id domain.RoomID, peerID domain.PeerID) error {
	s.mu.Lock()
	r, ok := s.rooms[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("room %s: %w", id, domain.ErrRoomNotFound)
	}
	if _, member := r.members[peerID]; !member {
		s.mu.Unlock()
		return fmt.Errorf("peer %s in room %s: %w", peerID, id, domain.ErrPeerNotFound)
	}
	delete(r.members, peerID)
	r.lastActive = s.now()
	s.mu.Unlock()

	r.mesh.RemovePeer(peerID)
	if f, ok := s.metrics.(peerForgetter); ok {
		f.ForgetPeer(peerID)
	}
	s.logger.Infow("Participant left", "room_id", id, "peer_id", peerID)
	s.announce(ctx, id, peerID, false)
	return nil
}

func (s *RoomService) Rooms() []RoomSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]RoomSummary, 0, len(s.rooms))
	for id, r := range s.rooms {
		members := make([]domain.PeerID, 0, len(r.members))
		for peer := range r.members {
			members = append(members, peer)
		}
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
		out = append(out, RoomSummary{ID: id, Participants: members, LastActive: r.lastActive})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SweepIdle closes empty rooms idle for longer than the TTL and returns how
// many were closed.
func (s *RoomService) SweepIdle() int {
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	var idle []*room
	for id, r := range s.rooms {
		if len(r.members) == 0 && !r.lastActive.After(cutoff) {
			idle = append(idle, r)
			delete(s.rooms, id)
			s.logger.Infow("Closing idle room", "room_id", id)
		}
	}
	s.mu.Unlock()

	for _, r := range idle {
		if err := r.mesh.Close(); err != nil {
			s.logger.Warnw("Failed to close idle room", "error", err)
		}
	}
	return len(idle)
}

// Run sweeps idle rooms until ctx is done.
func (s *RoomService) Run(ctx context.Context) {
	interval := s.idleTTL / 2
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepIdle()
		}
	}
}

// Close tears down every room in parallel.
func (s *RoomService) Close() error {
	s.mu.Lock()
	rooms := s.rooms
	s.rooms = make(map[domain.RoomID]*room)
	s.mu.Unlock()

	var g errgroup.Group
	for id, r := range rooms {
		id, r := id, r
		g.Go(func() error {
			if err := r.mesh.Close(); err != nil {
				return fmt.Errorf("close room %s: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *RoomService) announce(ctx context.Context, id domain.RoomID, peerID domain.PeerID, joined bool) {
	for _, p := range s.publishers {
		var err error
		if joined {
			err = p.PublishParticipantJoined(ctx, id, peerID)
		} else {
			err = p.PublishParticipantLeft(ctx, id, peerID)
		}
		if err != nil {
			s.logger.Warnw("Failed to announce participant change",
				"room_id", id,
				"peer_id", peerID,
				"joined", joined,
				"error", err,
			)
		}
	}
}
