package media

import (
	"errors"
	"sync"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
)

var ErrTrackStopped = errors.New("track stopped")

var (
	audioCapability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	videoCapability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
)

// SampleTrack is a local capture track backed by a pion sample track. The
// capture source pushes encoded frames through WriteSample.
type SampleTrack struct {
	local       *webrtc.TrackLocalStaticSample
	kind        domain.MediaKind
	deviceID    string
	constraints *domain.VideoConstraints

	mu           sync.RWMutex
	enabled      bool
	stopped      bool
	ended        bool
	onEnded      []func()
	transform    ports.FrameTransform
	maxBitrate   *uint64
	maxFramerate *float64
}

func NewSampleTrack(kind domain.MediaKind, deviceID, streamID string, constraints *domain.VideoConstraints) (*SampleTrack, error) {
	capability := audioCapability
	if kind == domain.MediaKindVideo {
		capability = videoCapability
	}
	local, err := webrtc.NewTrackLocalStaticSample(capability, string(kind)+"-"+uuid.NewString(), streamID)
	if err != nil {
		return nil, err
	}
	return &SampleTrack{
		local:       local,
		kind:        kind,
		deviceID:    deviceID,
		constraints: constraints,
		enabled:     true,
	}, nil
}

func (t *SampleTrack) ID() string                    { return t.local.ID() }
func (t *SampleTrack) StreamID() string              { return t.local.StreamID() }
func (t *SampleTrack) Kind() domain.MediaKind        { return t.kind }
func (t *SampleTrack) DeviceID() string              { return t.deviceID }
func (t *SampleTrack) TrackLocal() webrtc.TrackLocal { return t.local }

// Constraints returns the ideal capture hints the track was opened with.
func (t *SampleTrack) Constraints() *domain.VideoConstraints { return t.constraints }

func (t *SampleTrack) Enabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

func (t *SampleTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *SampleTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *SampleTrack) Stopped() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stopped
}

func (t *SampleTrack) OnEnded(fn func()) {
	t.mu.Lock()
	t.onEnded = append(t.onEnded, fn)
	t.mu.Unlock()
}

// End is called by the capture source when the platform ends the track, for
// example when the user stops a screen share from the system UI. Hooks fire
// once.
func (t *SampleTrack) End() {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	t.stopped = true
	hooks := t.onEnded
	t.onEnded = nil
	t.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// SetFrameTransform installs a per-frame transform applied before packetizing.
func (t *SampleTrack) SetFrameTransform(transform ports.FrameTransform) {
	t.mu.Lock()
	t.transform = transform
	t.mu.Unlock()
}

func (t *SampleTrack) FrameTransform() ports.FrameTransform {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.transform
}

// SetEncodingLimits records the sender limits for the capture source's encoder.
func (t *SampleTrack) SetEncodingLimits(maxBitrate *uint64, maxFramerate *float64) {
	t.mu.Lock()
	t.maxBitrate = maxBitrate
	t.maxFramerate = maxFramerate
	t.mu.Unlock()
}

func (t *SampleTrack) EncodingLimits() (maxBitrate *uint64, maxFramerate *float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.maxBitrate, t.maxFramerate
}

// WriteSample sends one encoded frame. Frames written while the track is
// disabled are dropped.
func (t *SampleTrack) WriteSample(sample pionmedia.Sample) error {
	t.mu.RLock()
	stopped, enabled, transform := t.stopped, t.enabled, t.transform
	t.mu.RUnlock()

	if stopped {
		return ErrTrackStopped
	}
	if !enabled {
		return nil
	}
	if transform != nil {
		sample.Data = transform.Encrypt(sample.Data)
	}
	return t.local.WriteSample(sample)
}
