package domain

type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

type DeviceKind string

const (
	DeviceKindAudioInput DeviceKind = "audioinput"
	DeviceKindVideoInput DeviceKind = "videoinput"
)

type DeviceInfo struct {
	DeviceID string     `json:"deviceId"`
	Kind     DeviceKind `json:"kind"`
	Label    string     `json:"label"`
}

// VideoConstraints carries ideal capture hints; zero values mean no hint.
type VideoConstraints struct {
	DeviceID       string
	IdealWidth     int
	IdealHeight    int
	IdealFrameRate int
}

type MediaConstraints struct {
	Audio bool
	Video *VideoConstraints
}

func VideoConstraintsFor(preset QualityPreset, deviceID string) *VideoConstraints {
	return &VideoConstraints{
		DeviceID:       deviceID,
		IdealWidth:     preset.Width,
		IdealHeight:    preset.Height,
		IdealFrameRate: preset.FrameRate,
	}
}

type DisplayConstraints struct {
	Audio bool
}

// RemoteStream describes inbound media from a remote participant.
type RemoteStream struct {
	ID       string   `json:"id"`
	PeerID   PeerID   `json:"peerId,omitempty"`
	TrackIDs []string `json:"trackIds"`
}
