package domain

import "fmt"

type QualityTier string

const (
	QualityAuto  QualityTier = "auto"
	Quality720p  QualityTier = "720p"
	Quality1080p QualityTier = "1080p"
	Quality4K    QualityTier = "4k"
)

// QualityPreset holds the encoder constraints for a tier. The zero preset
// (auto) means no explicit constraint.
type QualityPreset struct {
	Width          int `json:"width"`
	Height         int `json:"height"`
	FrameRate      int `json:"frameRate"`
	MaxBitrateKbps int `json:"maxBitrateKbps"`
}

var QualityPresets = map[QualityTier]QualityPreset{
	QualityAuto:  {},
	Quality720p:  {Width: 1280, Height: 720, FrameRate: 30, MaxBitrateKbps: 2500},
	Quality1080p: {Width: 1920, Height: 1080, FrameRate: 30, MaxBitrateKbps: 5000},
	Quality4K:    {Width: 3840, Height: 2160, FrameRate: 30, MaxBitrateKbps: 15000},
}

func ParseQualityTier(s string) (QualityTier, error) {
	tier := QualityTier(s)
	if _, ok := QualityPresets[tier]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownQualityTier, s)
	}
	return tier, nil
}

type OpusApplication string

const (
	OpusVoIP  OpusApplication = "voip"
	OpusAudio OpusApplication = "audio"
)

type OpusConfig struct {
	BitrateKbps int             `json:"bitrateKbps" yaml:"bitrate_kbps"`
	Application OpusApplication `json:"application" yaml:"application"`
	FEC         bool            `json:"fec" yaml:"fec"`
	DTX         bool            `json:"dtx" yaml:"dtx"`
}

func DefaultOpusConfig() OpusConfig {
	return OpusConfig{
		BitrateKbps: 32,
		Application: OpusVoIP,
		FEC:         true,
		DTX:         false,
	}
}

// AudioMode selects whether Opus negotiation tuning applies.
type AudioMode string

const (
	AudioModeOpus AudioMode = "opus"
	AudioModePCM  AudioMode = "pcm"
)

// EncodingParameters mirrors one RTCRtpEncodingParameters entry. Nil limits
// mean unconstrained.
type EncodingParameters struct {
	Active       bool     `json:"active"`
	MaxBitrate   *uint64  `json:"maxBitrate,omitempty"`
	MaxFramerate *float64 `json:"maxFramerate,omitempty"`
}

type SendParameters struct {
	Encodings []EncodingParameters `json:"encodings"`
}
