package webrtc

import (
	"context"
	"sync"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"
	"rillcall/internal/core/services"

	"go.uber.org/zap"
)

// peerSession owns one connection and the candidates that arrived before its
// remote description. The session mutex is held across remote-description
// application and the flush, so no candidate can overtake the queue.
type peerSession struct {
	peerID   domain.PeerID
	topology domain.Topology
	conn     ports.PeerConnection
	stats    *services.StatsTracker
	metrics  ports.CallMetrics
	logger   *zap.SugaredLogger

	mu             sync.Mutex
	pending        []domain.IceCandidateDescriptor
	remote         *domain.RemoteStream
	screenSender   ports.RTPSender
	transform      ports.FrameTransform
	tracksAttached bool
	connected      bool
	closed         bool
}

func newPeerSession(peerID domain.PeerID, topology domain.Topology, conn ports.PeerConnection, metrics ports.CallMetrics, logger *zap.SugaredLogger) *peerSession {
	return &peerSession{
		peerID:   peerID,
		topology: topology,
		conn:     conn,
		stats:    services.NewStatsTracker(),
		metrics:  metrics,
		logger:   logger.With("peer_id", peerID),
	}
}

// addCandidate applies c if the remote description is set, else queues it.
func (s *peerSession) addCandidate(ctx context.Context, c domain.IceCandidateDescriptor) (queued bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, nil
	}
	if !s.conn.HasRemoteDescription() {
		s.pending = append(s.pending, c)
		s.metrics.CandidateQueued(s.topology)
		return true, nil
	}
	return false, s.conn.AddICECandidate(ctx, c)
}

// setRemoteDescription applies desc and flushes queued candidates in arrival
// order. A candidate the connection rejects is logged and skipped.
func (s *peerSession) setRemoteDescription(ctx context.Context, desc domain.SessionDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrNoConnection
	}
	if err := s.conn.SetRemoteDescription(ctx, desc); err != nil {
		return err
	}
	// The remote description may have added receivers for unmatched m-lines.
	if s.transform != nil {
		installFrameTransform(s.conn, s.transform)
	}

	pending := s.pending
	s.pending = nil
	for _, c := range pending {
		if err := s.conn.AddICECandidate(ctx, c); err != nil {
			s.logger.Warnw("Failed to apply queued ICE candidate",
				"candidate", c.Candidate,
				"error", err,
			)
		}
	}
	if len(pending) > 0 {
		s.metrics.CandidatesFlushed(s.topology, len(pending))
		s.logger.Debugw("Flushed queued ICE candidates", "count", len(pending))
	}
	return nil
}

// useFrameTransform installs transform on the current senders and receivers
// and on receivers added by later remote descriptions. It reports false, and
// remembers nothing, when no sender or receiver supports insertable streams.
func (s *peerSession) useFrameTransform(transform ports.FrameTransform) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if installFrameTransform(s.conn, transform) == 0 {
		return false
	}
	s.transform = transform
	return true
}

// enqueue prepends candidates that arrived before the session existed.
func (s *peerSession) enqueue(early []domain.IceCandidateDescriptor) {
	if len(early) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(append([]domain.IceCandidateDescriptor(nil), early...), s.pending...)
}

func (s *peerSession) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *peerSession) remoteStream() *domain.RemoteStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remote == nil {
		return nil
	}
	rs := *s.remote
	return &rs
}

func (s *peerSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// markTracksAttached reports whether this call is the first to claim the
// attachment of local tracks.
func (s *peerSession) markTracksAttached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tracksAttached {
		return false
	}
	s.tracksAttached = true
	return true
}

// attachScreen adds the screen track as an extra sender unless the session
// already carries one.
func (s *peerSession) attachScreen(track ports.LocalTrack, stream ports.MediaStream) (ports.RTPSender, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.ErrNoConnection
	}
	if s.screenSender != nil {
		return s.screenSender, nil
	}
	sender, err := s.conn.AddTrack(track, stream)
	if err != nil {
		return nil, err
	}
	s.screenSender = sender
	return sender, nil
}

func (s *peerSession) currentScreenSender() ports.RTPSender {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screenSender
}

func (s *peerSession) takeScreenSender() ports.RTPSender {
	s.mu.Lock()
	defer s.mu.Unlock()
	sender := s.screenSender
	s.screenSender = nil
	return sender
}

// watch forwards connection callbacks to the hub while the session is open.
func (s *peerSession) watch(hub *EventHub) {
	s.conn.OnICECandidate(func(c domain.IceCandidateDescriptor) {
		if s.isClosed() {
			return
		}
		hub.Publish(domain.Event{Type: domain.EventICECandidateGathered, PeerID: s.peerID, Candidate: &c})
	})

	s.conn.OnRemoteStream(func(rs domain.RemoteStream) {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		rs.PeerID = s.peerID
		s.remote = &rs
		s.mu.Unlock()

		s.logger.Infow("Remote stream added", "stream_id", rs.ID)
		hub.Publish(domain.Event{Type: domain.EventRemoteStreamAdded, PeerID: s.peerID, Stream: &rs})
	})

	s.conn.OnConnectionStateChange(func(state domain.ConnectionState) {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		switch state {
		case domain.ConnectionStateConnected:
			if !s.connected {
				s.connected = true
				s.metrics.PeerConnected(s.topology)
			}
		case domain.ConnectionStateDisconnected, domain.ConnectionStateFailed, domain.ConnectionStateClosed:
			if s.connected {
				s.connected = false
				s.metrics.PeerDisconnected(s.topology)
			}
		}
		s.mu.Unlock()

		s.logger.Infow("Peer connection state changed", "state", state)
		hub.Publish(domain.Event{Type: domain.EventConnectionStateChanged, PeerID: s.peerID, State: state})
	})
}

// close drains the queue and closes the connection. It returns the last
// known remote stream.
func (s *peerSession) close() (*domain.RemoteStream, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil
	}
	s.closed = true
	s.pending = nil
	s.screenSender = nil
	s.transform = nil
	remote := s.remote
	s.remote = nil
	if s.connected {
		s.connected = false
		s.metrics.PeerDisconnected(s.topology)
	}
	s.mu.Unlock()

	return remote, s.conn.Close()
}
