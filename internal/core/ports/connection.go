package ports

import (
	"context"

	"rillcall/internal/core/domain"
)

type PeerConnection interface {
	AddTrack(track LocalTrack, stream MediaStream) (RTPSender, error)
	RemoveTrack(sender RTPSender) error
	Senders() []RTPSender
	Receivers() []RTPReceiver

	CreateOffer(ctx context.Context) (domain.SessionDescriptor, error)
	CreateAnswer(ctx context.Context) (domain.SessionDescriptor, error)
	SetLocalDescription(ctx context.Context, desc domain.SessionDescriptor) error
	SetRemoteDescription(ctx context.Context, desc domain.SessionDescriptor) error
	HasRemoteDescription() bool
	AddICECandidate(ctx context.Context, candidate domain.IceCandidateDescriptor) error

	GetStats(ctx context.Context) (domain.StatsReport, error)

	OnICECandidate(fn func(domain.IceCandidateDescriptor))
	OnRemoteStream(fn func(domain.RemoteStream))
	OnConnectionStateChange(fn func(domain.ConnectionState))

	Close() error
}

type RTPSender interface {
	Kind() domain.MediaKind
	Track() LocalTrack
	ReplaceTrack(track LocalTrack) error
	Parameters() domain.SendParameters
	SetParameters(params domain.SendParameters) error
}

type RTPReceiver interface {
	Kind() domain.MediaKind
}

type ConnectionFactory interface {
	NewPeerConnection(cfg domain.ConnectionConfig) (PeerConnection, error)
}

// FrameTransform rewrites encoded frames. Implementations must fail open and
// return the input unchanged on error.
type FrameTransform interface {
	Encrypt(frame []byte) []byte
	Decrypt(frame []byte) []byte
}

// FrameTransformable is implemented by senders and receivers whose platform
// exposes insertable streams. Senders encrypt, receivers decrypt.
type FrameTransformable interface {
	SetFrameTransform(transform FrameTransform)
}
