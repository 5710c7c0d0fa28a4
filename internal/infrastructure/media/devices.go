package media

import (
	"context"
	"fmt"
	"sync"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"

	"github.com/google/uuid"
)

const ScreenDeviceID = "screen"

// CaptureHook is invoked for every track handed out, so the host can attach
// an encoder feeding WriteSample.
type CaptureHook func(track *SampleTrack)

// Devices implements ports.MediaDevices over a fixed device inventory. Go has
// no portable capture API, so frames come from whatever the CaptureHook wires
// to each track.
type Devices struct {
	mu      sync.RWMutex
	devices []domain.DeviceInfo
	hook    CaptureHook
}

func NewDevices(devices []domain.DeviceInfo, hook CaptureHook) *Devices {
	inventory := make([]domain.DeviceInfo, len(devices))
	copy(inventory, devices)
	return &Devices{devices: inventory, hook: hook}
}

// DefaultDevices is one microphone and one camera.
func DefaultDevices() []domain.DeviceInfo {
	return []domain.DeviceInfo{
		{DeviceID: "default-mic", Kind: domain.DeviceKindAudioInput, Label: "Default microphone"},
		{DeviceID: "default-cam", Kind: domain.DeviceKindVideoInput, Label: "Default camera"},
	}
}

func (d *Devices) EnumerateDevices(ctx context.Context) ([]domain.DeviceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]domain.DeviceInfo, len(d.devices))
	copy(out, d.devices)
	return out, nil
}

func (d *Devices) GetUserMedia(ctx context.Context, constraints domain.MediaConstraints) (ports.MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streamID := uuid.NewString()
	var tracks []ports.LocalTrack

	if constraints.Audio {
		mic, ok := d.find(domain.DeviceKindAudioInput, "")
		if !ok {
			return nil, domain.ErrNoMicrophoneAvailable
		}
		track, err := d.open(domain.MediaKindAudio, mic.DeviceID, streamID, nil)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, track)
	}

	if constraints.Video != nil {
		cam, ok := d.find(domain.DeviceKindVideoInput, constraints.Video.DeviceID)
		if !ok {
			stopAll(tracks)
			if constraints.Video.DeviceID != "" {
				return nil, fmt.Errorf("camera %s: %w", constraints.Video.DeviceID, domain.ErrNoCameraAvailable)
			}
			return nil, domain.ErrNoCameraAvailable
		}
		track, err := d.open(domain.MediaKindVideo, cam.DeviceID, streamID, constraints.Video)
		if err != nil {
			stopAll(tracks)
			return nil, err
		}
		tracks = append(tracks, track)
	}

	return NewStream(streamID, tracks...), nil
}

func (d *Devices) GetDisplayMedia(ctx context.Context, constraints domain.DisplayConstraints) (ports.MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streamID := uuid.NewString()
	video, err := d.open(domain.MediaKindVideo, ScreenDeviceID, streamID, &domain.VideoConstraints{DeviceID: ScreenDeviceID})
	if err != nil {
		return nil, err
	}
	tracks := []ports.LocalTrack{video}

	if constraints.Audio {
		audio, err := d.open(domain.MediaKindAudio, ScreenDeviceID, streamID, nil)
		if err != nil {
			video.Stop()
			return nil, err
		}
		tracks = append(tracks, audio)
	}
	return NewStream(streamID, tracks...), nil
}

func (d *Devices) find(kind domain.DeviceKind, deviceID string) (domain.DeviceInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, dev := range d.devices {
		if dev.Kind != kind {
			continue
		}
		if deviceID == "" || dev.DeviceID == deviceID {
			return dev, true
		}
	}
	return domain.DeviceInfo{}, false
}

func (d *Devices) open(kind domain.MediaKind, deviceID, streamID string, constraints *domain.VideoConstraints) (*SampleTrack, error) {
	track, err := NewSampleTrack(kind, deviceID, streamID, constraints)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s track: %w", kind, err)
	}
	if d.hook != nil {
		d.hook(track)
	}
	return track, nil
}

func stopAll(tracks []ports.LocalTrack) {
	for _, t := range tracks {
		t.Stop()
	}
}
