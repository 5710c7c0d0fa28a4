package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"
	"rillcall/internal/core/services"

	"go.uber.org/zap"
)

// DefaultRemotePeer names the remote side of a single-peer call in events.
const DefaultRemotePeer domain.PeerID = "remote"

// CallOptions configure one single-peer call.
type CallOptions struct {
	PeerID domain.PeerID
	Video  bool
	// ICEServers overrides the configured servers when non-nil.
	ICEServers []domain.ICEServer
	MediaE2EE  bool
	// MediaKey is the 32-byte frame encryption key.
	MediaKey []byte
	// TURNSecret overrides the configured TURN REST shared secret.
	TURNSecret string
}

// CallManager orchestrates exactly one remote connection.
type CallManager struct {
	neg        *negotiator
	media      *localMedia
	quality    *services.QualityService
	newCryptor func() ports.FrameCryptor
	hub        *EventHub
	logger     *zap.SugaredLogger

	mu      sync.Mutex
	session *peerSession
	cryptor ports.FrameCryptor
	// early holds candidates that arrived before any connection existed.
	early []domain.IceCandidateDescriptor

	pollMu   sync.Mutex
	pollStop chan struct{}
	pollDone chan struct{}
}

func NewCallManager(cfg ManagerConfig, deps Dependencies) *CallManager {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	quality := services.NewQualityService()
	return &CallManager{
		neg:        newNegotiator(domain.TopologySingle, cfg, deps),
		media:      newLocalMedia(deps.Devices, quality, cfg.DefaultQuality),
		quality:    quality,
		newCryptor: deps.NewFrameCryptor,
		hub:        NewEventHub(deps.Logger),
		logger:     deps.Logger,
	}
}

// Subscribe delivers manager events until the returned cancel func is called
// or the manager is closed.
func (m *CallManager) Subscribe(buffer int) (<-chan domain.Event, func()) {
	return m.hub.Subscribe(buffer)
}

// CreateOffer sets up the connection and local media and returns the offer.
func (m *CallManager) CreateOffer(ctx context.Context, opts CallOptions) (domain.SessionDescriptor, error) {
	session, err := m.setup(ctx, opts)
	if err != nil {
		return domain.SessionDescriptor{}, err
	}
	return m.neg.offer(ctx, session)
}

// AcceptOffer applies a remote offer, flushes queued candidates and answers.
func (m *CallManager) AcceptOffer(ctx context.Context, offer domain.SessionDescriptor, opts CallOptions) (domain.SessionDescriptor, error) {
	if err := offer.Validate(); err != nil {
		return domain.SessionDescriptor{}, err
	}
	session, err := m.setup(ctx, opts)
	if err != nil {
		return domain.SessionDescriptor{}, err
	}
	return m.neg.answer(ctx, session, offer)
}

// CompleteHandshake applies the remote answer on the offering side.
func (m *CallManager) CompleteHandshake(ctx context.Context, answer domain.SessionDescriptor) error {
	session := m.currentSession()
	if session == nil {
		return domain.ErrNoConnection
	}
	return m.neg.complete(ctx, session, answer)
}

// AddICECandidate applies c, or queues it until a remote description is set.
// Candidates arriving before the connection exists are handed to it on setup.
func (m *CallManager) AddICECandidate(ctx context.Context, c domain.IceCandidateDescriptor) error {
	m.mu.Lock()
	session := m.session
	if session == nil {
		m.early = append(m.early, c)
		m.mu.Unlock()
		m.neg.metrics.CandidateQueued(domain.TopologySingle)
		m.logger.Debugw("Queued ICE candidate before connection", "candidate", c.Candidate)
		return nil
	}
	m.mu.Unlock()
	_, err := session.addCandidate(ctx, c)
	return err
}

// PendingCandidateCount reports queued candidates.
func (m *CallManager) PendingCandidateCount() int {
	m.mu.Lock()
	session := m.session
	early := len(m.early)
	m.mu.Unlock()
	if session == nil {
		return early
	}
	return session.pendingCount()
}

// RemoteStream returns the inbound media, if any has arrived.
func (m *CallManager) RemoteStream() *domain.RemoteStream {
	session := m.currentSession()
	if session == nil {
		return nil
	}
	return session.remoteStream()
}

func (m *CallManager) LocalStream() ports.MediaStream {
	return m.media.current()
}

// ToggleMute returns true when audio is now muted.
func (m *CallManager) ToggleMute() bool {
	return m.media.toggleMute()
}

// ToggleCamera returns true when video is now off.
func (m *CallManager) ToggleCamera() bool {
	return m.media.toggleCamera()
}

// SetVideoQuality applies tier to the live video sender without
// renegotiation and uses it for later captures.
func (m *CallManager) SetVideoQuality(tier domain.QualityTier) error {
	if _, err := m.quality.Preset(tier); err != nil {
		return err
	}
	m.media.setTier(tier)

	session := m.currentSession()
	if session == nil {
		return nil
	}
	sender := cameraSender(session.conn, session.currentScreenSender())
	if sender == nil {
		return nil
	}
	return m.quality.ApplyToSender(sender, tier)
}

// SwitchCamera replaces the video track with one from deviceID, or from the
// next camera when deviceID is empty.
func (m *CallManager) SwitchCamera(ctx context.Context, deviceID string) error {
	session := m.currentSession()
	stream := m.media.current()
	if session == nil {
		return domain.ErrNoConnection
	}
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

	// The call may have ended while the camera was opening.
	if m.currentSession() != session || session.isClosed() || m.media.current() != stream {
		track.Stop()
		return nil
	}

	sender := cameraSender(session.conn, session.currentScreenSender())
	if sender == nil {
		track.Stop()
		return domain.ErrNoVideoSender
	}
	if err := sender.ReplaceTrack(track); err != nil {
		track.Stop()
		return fmt.Errorf("failed to replace video track: %w", err)
	}
	old, ok := m.media.swapCamera(stream, track)
	if !ok {
		track.Stop()
		return nil
	}
	if old != nil {
		old.Stop()
	}
	m.logger.Infow("Switched camera", "device_id", target)
	return nil
}

// StartScreenShare adds a display capture as an extra video sender. Ending the
// capture from the platform side stops the share.
func (m *CallManager) StartScreenShare(ctx context.Context) (ports.MediaStream, error) {
	if screen, sharing := m.media.screenStream(); sharing {
		return screen, nil
	}
	session := m.currentSession()
	if session == nil {
		return nil, domain.ErrNoConnection
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

	if m.currentSession() != session || session.isClosed() {
		stopStream(screen)
		return nil, domain.ErrNoConnection
	}
	if !m.media.startSharing(screen) {
		stopStream(screen)
		current, _ := m.media.screenStream()
		return current, nil
	}

	sender, err := session.attachScreen(video[0], screen)
	if err != nil {
		m.media.stopSharing()
		return nil, fmt.Errorf("failed to add screen track: %w", err)
	}
	m.mu.Lock()
	if m.cryptor != nil {
		if t, ok := sender.(ports.FrameTransformable); ok {
			t.SetFrameTransform(m.cryptor)
		}
	}
	m.mu.Unlock()

	video[0].OnEnded(func() {
		if current, sharing := m.media.screenStream(); sharing && current == screen {
			m.StopScreenShare()
		}
	})
	m.logger.Infow("Screen share started", "stream_id", screen.ID())
	return screen, nil
}

// StopScreenShare is idempotent.
func (m *CallManager) StopScreenShare() {
	if !m.media.stopSharing() {
		return
	}
	if session := m.currentSession(); session != nil {
		if sender := session.takeScreenSender(); sender != nil {
			if err := session.conn.RemoveTrack(sender); err != nil {
				m.logger.Warnw("Failed to remove screen sender", "error", err)
			}
		}
	}
	m.logger.Infow("Screen share stopped")
}

func (m *CallManager) IsScreenSharing() bool {
	_, sharing := m.media.screenStream()
	return sharing
}

// GetStats polls the connection and returns a snapshot. Missing values are nil.
func (m *CallManager) GetStats(ctx context.Context) (domain.CallStatsSnapshot, error) {
	session := m.currentSession()
	if session == nil {
		return domain.CallStatsSnapshot{}, domain.ErrNoConnection
	}
	report, err := session.conn.GetStats(ctx)
	if err != nil {
		return domain.CallStatsSnapshot{}, fmt.Errorf("failed to get stats: %w", err)
	}
	snapshot := session.stats.Snapshot(report)
	m.neg.metrics.StatsObserved(session.peerID, snapshot)
	return snapshot, nil
}

// StartStatsPolling publishes a stats event every interval until stopped.
func (m *CallManager) StartStatsPolling(interval time.Duration) {
	if interval <= 0 {
		interval = m.neg.cfg.StatsInterval
	}
	if interval <= 0 {
		interval = time.Second
	}

	m.StopStatsPolling()

	m.pollMu.Lock()
	defer m.pollMu.Unlock()
	stop := make(chan struct{})
	done := make(chan struct{})
	m.pollStop, m.pollDone = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				snapshot, err := m.GetStats(ctx)
				cancel()
				if err != nil {
					if !errors.Is(err, domain.ErrNoConnection) {
						m.logger.Debugw("Stats poll failed", "error", err)
					}
					continue
				}
				peerID := DefaultRemotePeer
				if session := m.currentSession(); session != nil {
					peerID = session.peerID
				}
				m.hub.Publish(domain.Event{Type: domain.EventStatsUpdated, PeerID: peerID, Stats: &snapshot})
			}
		}
	}()
}

func (m *CallManager) StopStatsPolling() {
	m.pollMu.Lock()
	stop, done := m.pollStop, m.pollDone
	m.pollStop, m.pollDone = nil, nil
	m.pollMu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

// Close tears the call down: encryption worker, screen share, local tracks,
// remote stream, connection, candidate queue, stats polling, subscriptions.
// The manager can be used for a new call afterwards.
func (m *CallManager) Close() error {
	m.StopStatsPolling()

	m.mu.Lock()
	cryptor := m.cryptor
	m.cryptor = nil
	session := m.session
	m.session = nil
	m.early = nil
	m.mu.Unlock()

	if cryptor != nil {
		cryptor.Close()
	}
	m.media.release()

	var err error
	if session != nil {
		_, err = session.close()
	}
	m.neg.credentials.ResetCache()
	m.hub.Close()
	return err
}

func (m *CallManager) setup(ctx context.Context, opts CallOptions) (*peerSession, error) {
	peerID := opts.PeerID
	if peerID == "" {
		peerID = DefaultRemotePeer
	}

	conn, err := m.neg.connect(ctx, opts.ICEServers, opts.TURNSecret)
	if err != nil {
		return nil, err
	}
	session := newPeerSession(peerID, domain.TopologySingle, conn, m.neg.metrics, m.logger)

	m.mu.Lock()
	previous := m.session
	m.session = session
	session.enqueue(m.early)
	m.early = nil
	m.mu.Unlock()
	if previous != nil {
		m.logger.Warnw("Replacing existing connection", "peer_id", previous.peerID)
		if _, err := previous.close(); err != nil {
			m.logger.Warnw("Failed to close previous connection", "error", err)
		}
	}
	session.watch(m.hub)

	stream, err := m.media.acquire(ctx, opts.Video)
	if err != nil {
		return nil, err
	}
	if m.currentSession() != session {
		return nil, domain.ErrNoConnection
	}
	if err := m.neg.attachTracks(session, stream); err != nil {
		return nil, err
	}

	if opts.MediaE2EE {
		if err := m.enableFrameEncryption(session, opts.MediaKey); err != nil {
			return nil, err
		}
	}
	return session, nil
}

func (m *CallManager) enableFrameEncryption(session *peerSession, key []byte) error {
	if m.newCryptor == nil {
		m.logger.Warnw("Media E2EE requested but no frame cryptor is configured")
		return nil
	}
	cryptor := m.newCryptor()
	if err := cryptor.SetKey(key); err != nil {
		cryptor.Close()
		return fmt.Errorf("failed to load media key: %w", err)
	}
	if !session.useFrameTransform(cryptor) {
		cryptor.Close()
		m.logger.Infow("Insertable streams unavailable, media E2EE skipped")
		return nil
	}

	m.mu.Lock()
	previous := m.cryptor
	m.cryptor = cryptor
	m.mu.Unlock()
	if previous != nil {
		previous.Close()
	}
	return nil
}

func (m *CallManager) currentSession() *peerSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

func stopStream(stream ports.MediaStream) {
	for _, t := range stream.Tracks() {
		t.Stop()
	}
}
