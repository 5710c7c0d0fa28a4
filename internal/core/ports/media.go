package ports

import (
	"context"

	"rillcall/internal/core/domain"
)

// LocalTrack is a captured audio or video track owned by a manager.
type LocalTrack interface {
	ID() string
	Kind() domain.MediaKind
	DeviceID() string
	Enabled() bool
	SetEnabled(enabled bool)
	// Stop releases the capture device. It does not fire OnEnded.
	Stop()
	Stopped() bool
	// OnEnded registers a hook fired when the platform ends the track.
	OnEnded(fn func())
}

type MediaStream interface {
	ID() string
	Tracks() []LocalTrack
	AudioTracks() []LocalTrack
	VideoTracks() []LocalTrack
	AddTrack(track LocalTrack)
	RemoveTrack(track LocalTrack)
}

// MediaDevices is the platform capture facility.
type MediaDevices interface {
	GetUserMedia(ctx context.Context, constraints domain.MediaConstraints) (MediaStream, error)
	GetDisplayMedia(ctx context.Context, constraints domain.DisplayConstraints) (MediaStream, error)
	EnumerateDevices(ctx context.Context) ([]domain.DeviceInfo, error)
}
