package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"
	"rillcall/internal/core/services"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var _ ports.Mesh = (*MeshManager)(nil)

// MeshManager keeps one connection per remote participant, all sharing a
// single local capture stream.
type MeshManager struct {
	neg     *negotiator
	media   *localMedia
	quality *services.QualityService
	hub     *EventHub
	logger  *zap.SugaredLogger

	mu    sync.Mutex
	peers map[domain.PeerID]*peerSession
}

func NewMeshManager(cfg ManagerConfig, deps Dependencies) *MeshManager {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	quality := services.NewQualityService()
	return &MeshManager{
		neg:     newNegotiator(domain.TopologyMesh, cfg, deps),
		media:   newLocalMedia(deps.Devices, quality, cfg.DefaultQuality),
		quality: quality,
		hub:     NewEventHub(deps.Logger),
		logger:  deps.Logger,
		peers:   make(map[domain.PeerID]*peerSession),
	}
}

func (m *MeshManager) Subscribe(buffer int) (<-chan domain.Event, func()) {
	return m.hub.Subscribe(buffer)
}

// CreateOfferForPeer opens (or reuses) the connection to peerID and returns
// an offer.
func (m *MeshManager) CreateOfferForPeer(ctx context.Context, peerID domain.PeerID, video bool) (domain.SessionDescriptor, error) {
	session, err := m.preparePeer(ctx, peerID, video)
	if err != nil {
		return domain.SessionDescriptor{}, err
	}
	return m.neg.offer(ctx, session)
}

// AcceptOfferFromPeer applies peerID's offer, flushes its queued candidates
// and returns the answer.
func (m *MeshManager) AcceptOfferFromPeer(ctx context.Context, peerID domain.PeerID, offer domain.SessionDescriptor, video bool) (domain.SessionDescriptor, error) {
	if err := offer.Validate(); err != nil {
		return domain.SessionDescriptor{}, err
	}
	session, err := m.preparePeer(ctx, peerID, video)
	if err != nil {
		return domain.SessionDescriptor{}, err
	}
	return m.neg.answer(ctx, session, offer)
}

// CompleteHandshakeForPeer fails with ErrPeerNotFound for unknown peers.
func (m *MeshManager) CompleteHandshakeForPeer(ctx context.Context, peerID domain.PeerID, answer domain.SessionDescriptor) error {
	session, ok := m.peer(peerID)
	if !ok {
		return fmt.Errorf("complete handshake for peer %s: %w", peerID, domain.ErrPeerNotFound)
	}
	return m.neg.complete(ctx, session, answer)
}

// AddICECandidateForPeer ignores unknown peers; late signaling for a removed
// peer is expected.
func (m *MeshManager) AddICECandidateForPeer(ctx context.Context, peerID domain.PeerID, c domain.IceCandidateDescriptor) error {
	session, ok := m.peer(peerID)
	if !ok {
		return nil
	}
	_, err := session.addCandidate(ctx, c)
	return err
}

// RemovePeer closes and forgets peerID. Unknown peers are a no-op.
func (m *MeshManager) RemovePeer(peerID domain.PeerID) {
	m.mu.Lock()
	session, ok := m.peers[peerID]
	delete(m.peers, peerID)
	m.mu.Unlock()
	if !ok {
		return
	}

	remote, err := session.close()
	if err != nil {
		m.logger.Warnw("Failed to close peer connection", "peer_id", peerID, "error", err)
	}
	m.logger.Infow("Peer removed", "peer_id", peerID)
	m.hub.Publish(domain.Event{Type: domain.EventRemoteStreamRemoved, PeerID: peerID, Stream: remote})
}

// ParticipantCount includes the local participant.
func (m *MeshManager) ParticipantCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return 1 + len(m.peers)
}

func (m *MeshManager) Peers() []domain.PeerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]domain.PeerID, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// PendingCandidateCount reports queued candidates for peerID.
func (m *MeshManager) PendingCandidateCount(peerID domain.PeerID) int {
	session, ok := m.peer(peerID)
	if !ok {
		return 0
	}
	return session.pendingCount()
}

func (m *MeshManager) RemoteStream(peerID domain.PeerID) *domain.RemoteStream {
	session, ok := m.peer(peerID)
	if !ok {
		return nil
	}
	return session.remoteStream()
}

func (m *MeshManager) LocalStream() ports.MediaStream {
	return m.media.current()
}

func (m *MeshManager) ToggleMute() bool {
	return m.media.toggleMute()
}

func (m *MeshManager) ToggleCamera() bool {
	return m.media.toggleCamera()
}

// SetVideoQuality applies tier to every peer's camera sender.
func (m *MeshManager) SetVideoQuality(tier domain.QualityTier) error {
	if _, err := m.quality.Preset(tier); err != nil {
		return err
	}
	m.media.setTier(tier)

	var errs []error
	for _, session := range m.sessions() {
		sender := cameraSender(session.conn, session.currentScreenSender())
		if sender == nil {
			continue
		}
		if err := m.quality.ApplyToSender(sender, tier); err != nil {
			errs = append(errs, fmt.Errorf("peer %s: %w", session.peerID, err))
		}
	}
	return errors.Join(errs...)
}

// SwitchCamera replaces the shared video track on every peer.
func (m *MeshManager) SwitchCamera(ctx context.Context, deviceID string) error {
	stream := m.media.current()
	if stream == nil {
		return domain.ErrNoLocalStream
	}

	target, err := m.media.nextCamera(ctx, deviceID)
	if err != nil {
		return err
	}
	track, err := m.media.openCamera(ctx, target)
	if err != nil {
		return err
	}

	if m.media.current() != stream {
		track.Stop()
		return nil
	}

	var errs []error
	for _, session := range m.sessions() {
		sender := cameraSender(session.conn, session.currentScreenSender())
		if sender == nil {
			continue
		}
		if err := sender.ReplaceTrack(track); err != nil {
			errs = append(errs, fmt.Errorf("peer %s: %w", session.peerID, err))
		}
	}

	old, ok := m.media.swapCamera(stream, track)
	if !ok {
		track.Stop()
		return errors.Join(errs...)
	}
	if old != nil {
		old.Stop()
	}
	m.logger.Infow("Switched camera", "device_id", target, "peers", len(m.sessions()))
	return errors.Join(errs...)
}

// StartScreenShare shares one display capture with every peer, including
// peers added while sharing.
func (m *MeshManager) StartScreenShare(ctx context.Context) (ports.MediaStream, error) {
	if screen, sharing := m.media.screenStream(); sharing {
		return screen, nil
	}

	screen, err := m.media.devices.GetDisplayMedia(ctx, domain.DisplayConstraints{Audio: true})
	if err != nil {
		return nil, fmt.Errorf("failed to acquire display media: %w", err)
	}
	video := screen.VideoTracks()
	if len(video) == 0 {
		stopStream(screen)
		return nil, domain.ErrNoVideoSender
	}
	if !m.media.startSharing(screen) {
		stopStream(screen)
		current, _ := m.media.screenStream()
		return current, nil
	}

	for _, session := range m.sessions() {
		m.addScreenSender(session, screen)
	}
	video[0].OnEnded(func() {
		if current, sharing := m.media.screenStream(); sharing && current == screen {
			m.StopScreenShare()
		}
	})
	m.logger.Infow("Screen share started", "stream_id", screen.ID())
	return screen, nil
}

// StopScreenShare is idempotent.
func (m *MeshManager) StopScreenShare() {
	if !m.media.stopSharing() {
		return
	}
	for _, session := range m.sessions() {
		if sender := session.takeScreenSender(); sender != nil {
			if err := session.conn.RemoveTrack(sender); err != nil {
				m.logger.Warnw("Failed to remove screen sender", "peer_id", session.peerID, "error", err)
			}
		}
	}
	m.logger.Infow("Screen share stopped")
}

func (m *MeshManager) IsScreenSharing() bool {
	_, sharing := m.media.screenStream()
	return sharing
}

func (m *MeshManager) GetStats(ctx context.Context, peerID domain.PeerID) (domain.CallStatsSnapshot, error) {
	session, ok := m.peer(peerID)
	if !ok {
		return domain.CallStatsSnapshot{}, fmt.Errorf("stats for peer %s: %w", peerID, domain.ErrPeerNotFound)
	}
	report, err := session.conn.GetStats(ctx)
	if err != nil {
		return domain.CallStatsSnapshot{}, fmt.Errorf("failed to get stats: %w", err)
	}
	snapshot := session.stats.Snapshot(report)
	m.neg.metrics.StatsObserved(peerID, snapshot)
	return snapshot, nil
}

// Close closes every peer connection, stops local and screen tracks and ends
// every subscription. The manager can host a new session afterwards.
func (m *MeshManager) Close() error {
	m.mu.Lock()
	sessions := make([]*peerSession, 0, len(m.peers))
	for id, session := range m.peers {
		sessions = append(sessions, session)
		delete(m.peers, id)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, session := range sessions {
		session := session
		g.Go(func() error {
			if _, err := session.close(); err != nil {
				return fmt.Errorf("peer %s: %w", session.peerID, err)
			}
			return nil
		})
	}
	err := g.Wait()

	m.media.release()
	m.neg.credentials.ResetCache()
	m.hub.Close()
	return err
}

// preparePeer returns the session for peerID with local tracks attached.
func (m *MeshManager) preparePeer(ctx context.Context, peerID domain.PeerID, video bool) (*peerSession, error) {
	session, err := m.sessionFor(ctx, peerID)
	if err != nil {
		return nil, err
	}

	stream, err := m.media.acquire(ctx, video)
	if err != nil {
		return nil, err
	}
	if current, ok := m.peer(peerID); !ok || current != session {
		return nil, fmt.Errorf("peer %s removed during setup: %w", peerID, domain.ErrPeerNotFound)
	}

	if err := m.neg.attachTracks(session, stream); err != nil {
		return nil, err
	}
	if screen, sharing := m.media.screenStream(); sharing {
		m.addScreenSender(session, screen)
	}
	return session, nil
}

func (m *MeshManager) sessionFor(ctx context.Context, peerID domain.PeerID) (*peerSession, error) {
	if session, ok := m.peer(peerID); ok {
		return session, nil
	}

	conn, err := m.neg.connect(ctx, nil, "")
	if err != nil {
		return nil, err
	}
	session := newPeerSession(peerID, domain.TopologyMesh, conn, m.neg.metrics, m.logger)

	m.mu.Lock()
	if existing, ok := m.peers[peerID]; ok {
		m.mu.Unlock()
		if err := conn.Close(); err != nil {
			m.logger.Warnw("Failed to close duplicate connection", "peer_id", peerID, "error", err)
		}
		return existing, nil
	}
	m.peers[peerID] = session
	m.mu.Unlock()

	session.watch(m.hub)
	m.logger.Infow("Peer added", "peer_id", peerID)
	return session, nil
}

func (m *MeshManager) addScreenSender(session *peerSession, screen ports.MediaStream) {
	video := screen.VideoTracks()
	if len(video) == 0 {
		return
	}
	if _, err := session.attachScreen(video[0], screen); err != nil {
		m.logger.Warnw("Failed to add screen track", "peer_id", session.peerID, "error", err)
	}
}

func (m *MeshManager) peer(peerID domain.PeerID) (*peerSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.peers[peerID]
	return session, ok
}

func (m *MeshManager) sessions() []*peerSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*peerSession, 0, len(m.peers))
	for _, session := range m.peers {
		out = append(out, session)
	}
	return out
}
