package webrtc

import (
	"context"
	"fmt"
	"time"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"
	"rillcall/internal/core/services"
	"rillcall/pkg/tracing"

	"go.uber.org/zap"
)

const (
	stepCreateOffer  = "create_offer"
	stepAcceptOffer  = "accept_offer"
	stepCompleteCall = "complete_handshake"
)

// ManagerConfig holds the defaults shared by both call managers.
type ManagerConfig struct {
	ICEServers        []domain.ICEServer
	TURNSecret        string
	TURNCredentialTTL time.Duration
	DefaultQuality    domain.QualityTier
	AudioMode         domain.AudioMode
	Opus              domain.OpusConfig
	StatsInterval     time.Duration
}

func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ICEServers:     []domain.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
		DefaultQuality: domain.QualityAuto,
		AudioMode:      domain.AudioModeOpus,
		Opus:           domain.DefaultOpusConfig(),
		StatsInterval:  time.Second,
	}
}

// Dependencies are the collaborators a manager talks to.
type Dependencies struct {
	Factory     ports.ConnectionFactory
	Devices     ports.MediaDevices
	Credentials ports.CredentialProvider
	Metrics     ports.CallMetrics
	// NewFrameCryptor is optional; without it media E2EE requests are ignored.
	NewFrameCryptor func() ports.FrameCryptor
	Logger          *zap.SugaredLogger
}

// negotiator runs the offer/answer steps common to both managers.
type negotiator struct {
	topology    domain.Topology
	cfg         ManagerConfig
	factory     ports.ConnectionFactory
	credentials *services.ICECredentialService
	metrics     ports.CallMetrics
	logger      *zap.SugaredLogger
}

func newNegotiator(topology domain.Topology, cfg ManagerConfig, deps Dependencies) *negotiator {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if cfg.Opus.BitrateKbps == 0 {
		cfg.Opus = domain.DefaultOpusConfig()
	}
	return &negotiator{
		topology:    topology,
		cfg:         cfg,
		factory:     deps.Factory,
		credentials: services.NewICECredentialService(deps.Credentials, metrics, cfg.TURNCredentialTTL, deps.Logger),
		metrics:     metrics,
		logger:      deps.Logger,
	}
}

// connect resolves ICE credentials and opens a connection.
func (n *negotiator) connect(ctx context.Context, servers []domain.ICEServer, turnSecret string) (ports.PeerConnection, error) {
	if servers == nil {
		servers = n.cfg.ICEServers
	}
	if turnSecret == "" {
		turnSecret = n.cfg.TURNSecret
	}
	resolved := n.credentials.Resolve(ctx, servers, turnSecret)

	conn, err := n.factory.NewPeerConnection(domain.ConnectionConfig{
		ICEServers:         resolved,
		ICETransportPolicy: domain.ICETransportPolicyAll,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	return conn, nil
}

// attachTracks adds every track of stream to the session once.
func (n *negotiator) attachTracks(session *peerSession, stream ports.MediaStream) error {
	if !session.markTracksAttached() {
		return nil
	}
	for _, track := range stream.Tracks() {
		if _, err := session.conn.AddTrack(track, stream); err != nil {
			return fmt.Errorf("failed to add %s track: %w", track.Kind(), err)
		}
	}
	return nil
}

func (n *negotiator) offer(ctx context.Context, session *peerSession) (domain.SessionDescriptor, error) {
	ctx, span := tracing.TraceNegotiation(ctx, string(n.topology), stepCreateOffer, string(session.peerID))
	defer span.End()
	start := time.Now()

	offer, err := session.conn.CreateOffer(ctx)
	if err == nil {
		offer, err = n.commitLocal(ctx, session, offer)
	}
	n.observe(ctx, stepCreateOffer, start, err)
	return offer, err
}

func (n *negotiator) answer(ctx context.Context, session *peerSession, remote domain.SessionDescriptor) (domain.SessionDescriptor, error) {
	ctx, span := tracing.TraceNegotiation(ctx, string(n.topology), stepAcceptOffer, string(session.peerID))
	defer span.End()
	start := time.Now()

	answer, err := n.acceptAndAnswer(ctx, session, remote)
	n.observe(ctx, stepAcceptOffer, start, err)
	return answer, err
}

func (n *negotiator) acceptAndAnswer(ctx context.Context, session *peerSession, remote domain.SessionDescriptor) (domain.SessionDescriptor, error) {
	if remote.Type != domain.SDPTypeOffer {
		return domain.SessionDescriptor{}, fmt.Errorf("%w: expected offer, got %q", domain.ErrInvalidSessionDescription, remote.Type)
	}
	if err := session.setRemoteDescription(ctx, remote); err != nil {
		return domain.SessionDescriptor{}, fmt.Errorf("failed to apply remote offer: %w", err)
	}
	answer, err := session.conn.CreateAnswer(ctx)
	if err != nil {
		return domain.SessionDescriptor{}, fmt.Errorf("failed to create answer: %w", err)
	}
	return n.commitLocal(ctx, session, answer)
}

func (n *negotiator) complete(ctx context.Context, session *peerSession, answer domain.SessionDescriptor) error {
	ctx, span := tracing.TraceNegotiation(ctx, string(n.topology), stepCompleteCall, string(session.peerID))
	defer span.End()
	start := time.Now()

	var err error
	if answer.Type != domain.SDPTypeAnswer {
		err = fmt.Errorf("%w: expected answer, got %q", domain.ErrInvalidSessionDescription, answer.Type)
	} else if err = session.setRemoteDescription(ctx, answer); err != nil {
		err = fmt.Errorf("failed to apply remote answer: %w", err)
	}
	n.observe(ctx, stepCompleteCall, start, err)
	return err
}

// commitLocal sets desc as the local description and returns the copy to
// signal, with Opus tuned unless audio is uncompressed. The connection keeps
// the description it generated; pion rejects a modified one.
func (n *negotiator) commitLocal(ctx context.Context, session *peerSession, desc domain.SessionDescriptor) (domain.SessionDescriptor, error) {
	if err := session.conn.SetLocalDescription(ctx, desc); err != nil {
		return domain.SessionDescriptor{}, fmt.Errorf("failed to set local description: %w", err)
	}
	if n.cfg.AudioMode != domain.AudioModePCM {
		if tuned, ok := services.TuneOpusSDP(desc.SDP, n.cfg.Opus); ok {
			desc.SDP = tuned
		}
	}
	return desc, nil
}

func (n *negotiator) observe(ctx context.Context, step string, start time.Time, err error) {
	n.metrics.NegotiationStep(step, time.Since(start), err)
	tracing.MeasureDuration(ctx, start, step)
	if err != nil {
		tracing.RecordError(ctx, err)
	}
}

// installFrameTransform sets transform on every sender and receiver that
// supports insertable streams and returns how many accepted it.
func installFrameTransform(conn ports.PeerConnection, transform ports.FrameTransform) int {
	installed := 0
	for _, sender := range conn.Senders() {
		if t, ok := sender.(ports.FrameTransformable); ok {
			t.SetFrameTransform(transform)
			installed++
		}
	}
	for _, receiver := range conn.Receivers() {
		if t, ok := receiver.(ports.FrameTransformable); ok {
			t.SetFrameTransform(transform)
			installed++
		}
	}
	return installed
}

// cameraSender finds the video sender carrying the camera rather than a
// screen share.
func cameraSender(conn ports.PeerConnection, screen ports.RTPSender) ports.RTPSender {
	for _, sender := range conn.Senders() {
		if sender.Kind() != domain.MediaKindVideo {
			continue
		}
		if screen != nil && sender == screen {
			continue
		}
		return sender
	}
	return nil
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) PeerConnected(domain.Topology)                         {}
func (NopMetrics) PeerDisconnected(domain.Topology)                      {}
func (NopMetrics) CandidateQueued(domain.Topology)                       {}
func (NopMetrics) CandidatesFlushed(domain.Topology, int)                {}
func (NopMetrics) ServerDropped(string)                                  {}
func (NopMetrics) NegotiationStep(string, time.Duration, error)          {}
func (NopMetrics) StatsObserved(domain.PeerID, domain.CallStatsSnapshot) {}
func (NopMetrics) FrameCryptoFailure(string, string)                     {}
