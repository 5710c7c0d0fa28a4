package webrtc

import (
	"context"
	"fmt"
	"sync"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"
	"rillcall/internal/core/services"
)

// localMedia is the single capture stream of a manager plus its screen share.
type localMedia struct {
	devices ports.MediaDevices
	quality *services.QualityService

	// acquireMu serializes capture so concurrent peer setups share one stream.
	acquireMu sync.Mutex

	mu      sync.Mutex
	stream  ports.MediaStream
	screen  ports.MediaStream
	sharing bool
	tier    domain.QualityTier
	camera  string
}

func newLocalMedia(devices ports.MediaDevices, quality *services.QualityService, tier domain.QualityTier) *localMedia {
	if tier == "" {
		tier = domain.QualityAuto
	}
	return &localMedia{devices: devices, quality: quality, tier: tier}
}

// acquire returns the manager's capture stream, opening it on first use.
func (lm *localMedia) acquire(ctx context.Context, video bool) (ports.MediaStream, error) {
	lm.acquireMu.Lock()
	defer lm.acquireMu.Unlock()

	lm.mu.Lock()
	if lm.stream != nil {
		stream := lm.stream
		lm.mu.Unlock()
		return stream, nil
	}
	constraints := domain.MediaConstraints{Audio: true}
	if video {
		constraints.Video = lm.quality.CaptureConstraints(lm.tier, lm.camera)
	}
	lm.mu.Unlock()

	stream, err := lm.devices.GetUserMedia(ctx, constraints)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire local media: %w", err)
	}

	lm.mu.Lock()
	lm.stream = stream
	if tracks := stream.VideoTracks(); len(tracks) > 0 {
		lm.camera = tracks[0].DeviceID()
	}
	lm.mu.Unlock()
	return stream, nil
}

func (lm *localMedia) current() ports.MediaStream {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.stream
}

// toggleMute flips the audio tracks and reports whether audio is now muted.
func (lm *localMedia) toggleMute() bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.stream == nil {
		return false
	}
	return !toggleTracks(lm.stream.AudioTracks(), false)
}

// toggleCamera flips the video tracks and reports whether the camera is now off.
func (lm *localMedia) toggleCamera() bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.stream == nil {
		return true
	}
	return !toggleTracks(lm.stream.VideoTracks(), true)
}

// toggleTracks inverts the enabled flag of tracks and returns the new value.
func toggleTracks(tracks []ports.LocalTrack, emptyEnabled bool) bool {
	if len(tracks) == 0 {
		return !emptyEnabled
	}
	enabled := !tracks[0].Enabled()
	for _, t := range tracks {
		t.SetEnabled(enabled)
	}
	return enabled
}

func (lm *localMedia) setTier(tier domain.QualityTier) {
	lm.mu.Lock()
	lm.tier = tier
	lm.mu.Unlock()
}

func (lm *localMedia) activeTier() domain.QualityTier {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.tier
}

func (lm *localMedia) currentCamera() string {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.camera
}

// nextCamera returns deviceID, or the camera after the current one.
func (lm *localMedia) nextCamera(ctx context.Context, deviceID string) (string, error) {
	if deviceID != "" {
		return deviceID, nil
	}
	devices, err := lm.devices.EnumerateDevices(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to enumerate devices: %w", err)
	}
	var cameras []string
	for _, d := range devices {
		if d.Kind == domain.DeviceKindVideoInput {
			cameras = append(cameras, d.DeviceID)
		}
	}
	if len(cameras) == 0 {
		return "", domain.ErrNoCameraAvailable
	}

	current := lm.currentCamera()
	for i, id := range cameras {
		if id == current {
			return cameras[(i+1)%len(cameras)], nil
		}
	}
	return cameras[0], nil
}

// openCamera captures a fresh video track from deviceID at the active tier.
func (lm *localMedia) openCamera(ctx context.Context, deviceID string) (ports.LocalTrack, error) {
	constraints := domain.MediaConstraints{
		Video: lm.quality.CaptureConstraints(lm.activeTier(), deviceID),
	}
	stream, err := lm.devices.GetUserMedia(ctx, constraints)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera %s: %w", deviceID, err)
	}
	tracks := stream.VideoTracks()
	if len(tracks) == 0 {
		for _, t := range stream.Tracks() {
			t.Stop()
		}
		return nil, domain.ErrNoCameraAvailable
	}
	for _, t := range stream.AudioTracks() {
		t.Stop()
	}
	return tracks[0], nil
}

// swapCamera installs next in place of the current video track of stream.
// It returns the replaced track, or false if stream is no longer current.
func (lm *localMedia) swapCamera(stream ports.MediaStream, next ports.LocalTrack) (ports.LocalTrack, bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.stream == nil || lm.stream != stream {
		return nil, false
	}
	var old ports.LocalTrack
	if tracks := stream.VideoTracks(); len(tracks) > 0 {
		old = tracks[0]
		next.SetEnabled(old.Enabled())
		stream.RemoveTrack(old)
	}
	stream.AddTrack(next)
	lm.camera = next.DeviceID()
	return old, true
}

func (lm *localMedia) startSharing(screen ports.MediaStream) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.sharing {
		return false
	}
	lm.screen = screen
	lm.sharing = true
	return true
}

func (lm *localMedia) screenStream() (ports.MediaStream, bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.screen, lm.sharing
}

// stopSharing stops the screen tracks. It reports false if nothing was shared.
func (lm *localMedia) stopSharing() bool {
	lm.mu.Lock()
	screen := lm.screen
	wasSharing := lm.sharing
	lm.screen = nil
	lm.sharing = false
	lm.mu.Unlock()

	if screen != nil {
		for _, t := range screen.Tracks() {
			t.Stop()
		}
	}
	return wasSharing
}

// release stops every local and screen track and forgets the streams.
func (lm *localMedia) release() {
	lm.stopSharing()

	lm.mu.Lock()
	stream := lm.stream
	lm.stream = nil
	lm.camera = ""
	lm.mu.Unlock()

	if stream != nil {
		for _, t := range stream.Tracks() {
			t.Stop()
		}
	}
}
