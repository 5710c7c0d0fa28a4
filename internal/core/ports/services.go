package ports

import (
	"context"
	"time"

	"rillcall/internal/core/domain"
)

// CredentialProvider resolves TURN credentials from an external source.
type CredentialProvider interface {
	Credentials(ctx context.Context, server domain.ICEServer) (username, credential string, err error)
}

// SignalCipher protects signaling payloads in transit.
type SignalCipher interface {
	EncryptSignal(ctx context.Context, peerID domain.PeerID, payload []byte, aad string) (domain.SealedSignal, error)
	DecryptSignal(ctx context.Context, peerID domain.PeerID, sealed domain.SealedSignal, aad string) ([]byte, error)
}

type MediaKeyDeriver interface {
	DeriveMediaKey(peerPublicKey, localIdentity []byte, callID domain.CallID) ([]byte, error)
}

// FrameCryptor is a FrameTransform with a key lifecycle.
type FrameCryptor interface {
	FrameTransform
	SetKey(key []byte) error
	Close()
}

type CallMetrics interface {
	PeerConnected(topology domain.Topology)
	PeerDisconnected(topology domain.Topology)
	CandidateQueued(topology domain.Topology)
	CandidatesFlushed(topology domain.Topology, count int)
	ServerDropped(reason string)
	NegotiationStep(step string, d time.Duration, err error)
	StatsObserved(peerID domain.PeerID, snapshot domain.CallStatsSnapshot)
	FrameCryptoFailure(op, reason string)
}

// ParticipantPublisher announces membership changes to other nodes.
type ParticipantPublisher interface {
	PublishParticipantJoined(ctx context.Context, room domain.RoomID, peerID domain.PeerID) error
	PublishParticipantLeft(ctx context.Context, room domain.RoomID, peerID domain.PeerID) error
}

// Mesh is the surface of a mesh call manager that a room host drives.
type Mesh interface {
	Subscribe(buffer int) (<-chan domain.Event, func())
	CreateOfferForPeer(ctx context.Context, peerID domain.PeerID, video bool) (domain.SessionDescriptor, error)
	AcceptOfferFromPeer(ctx context.Context, peerID domain.PeerID, offer domain.SessionDescriptor, video bool) (domain.SessionDescriptor, error)
	CompleteHandshakeForPeer(ctx context.Context, peerID domain.PeerID, answer domain.SessionDescriptor) error
	AddICECandidateForPeer(ctx context.Context, peerID domain.PeerID, c domain.IceCandidateDescriptor) error
	RemovePeer(peerID domain.PeerID)
	ParticipantCount() int
	Peers() []domain.PeerID
	GetStats(ctx context.Context, peerID domain.PeerID) (domain.CallStatsSnapshot, error)
	ToggleMute() bool
	ToggleCamera() bool
	SetVideoQuality(tier domain.QualityTier) error
	SwitchCamera(ctx context.Context, deviceID string) error
	StartScreenShare(ctx context.Context) (MediaStream, error)
	StopScreenShare()
	IsScreenSharing() bool
	Close() error
}
