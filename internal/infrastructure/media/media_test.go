package media

import (
	"context"
	"testing"
	"time"

	"rillcall/internal/core/domain"

	pionmedia "github.com/pion/webrtc/v3/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTransform struct {
	encrypted int
}

func (c *countingTransform) Encrypt(frame []byte) []byte {
	c.encrypted++
	return append([]byte{0xff}, frame...)
}

func (c *countingTransform) Decrypt(frame []byte) []byte { return frame }

func TestSampleTrack_StopDoesNotFireEnded(t *testing.T) {
	track, err := NewSampleTrack(domain.MediaKindVideo, "cam", "stream", nil)
	require.NoError(t, err)

	fired := 0
	track.OnEnded(func() { fired++ })
	track.Stop()

	assert.True(t, track.Stopped())
	assert.Equal(t, 0, fired)
	assert.ErrorIs(t, track.WriteSample(pionmedia.Sample{Data: []byte{1}, Duration: time.Millisecond}), ErrTrackStopped)
}

func TestSampleTrack_EndFiresOnce(t *testing.T) {
	track, err := NewSampleTrack(domain.MediaKindVideo, ScreenDeviceID, "stream", nil)
	require.NoError(t, err)

	fired := 0
	track.OnEnded(func() { fired++ })
	track.End()
	track.End()

	assert.Equal(t, 1, fired)
	assert.True(t, track.Stopped())
}

func TestSampleTrack_WriteSampleAppliesTransform(t *testing.T) {
	track, err := NewSampleTrack(domain.MediaKindAudio, "mic", "stream", nil)
	require.NoError(t, err)
	transform := &countingTransform{}
	track.SetFrameTransform(transform)

	require.NoError(t, track.WriteSample(pionmedia.Sample{Data: []byte{1, 2}, Duration: 20 * time.Millisecond}))
	assert.Equal(t, 1, transform.encrypted)

	track.SetEnabled(false)
	require.NoError(t, track.WriteSample(pionmedia.Sample{Data: []byte{1, 2}, Duration: 20 * time.Millisecond}))
	assert.Equal(t, 1, transform.encrypted, "disabled tracks drop frames before the transform")
}

func TestSampleTrack_EncodingLimits(t *testing.T) {
	track, err := NewSampleTrack(domain.MediaKindVideo, "cam", "stream", nil)
	require.NoError(t, err)

	bitrate, framerate := uint64(2_500_000), 30.0
	track.SetEncodingLimits(&bitrate, &framerate)

	gotBitrate, gotFramerate := track.EncodingLimits()
	assert.Equal(t, &bitrate, gotBitrate)
	assert.Equal(t, &framerate, gotFramerate)
}

func TestDevices_GetUserMedia(t *testing.T) {
	var opened []*SampleTrack
	devices := NewDevices(DefaultDevices(), func(track *SampleTrack) { opened = append(opened, track) })

	stream, err := devices.GetUserMedia(context.Background(), domain.MediaConstraints{
		Audio: true,
		Video: &domain.VideoConstraints{IdealWidth: 1280, IdealHeight: 720, IdealFrameRate: 30},
	})
	require.NoError(t, err)

	require.Len(t, stream.AudioTracks(), 1)
	require.Len(t, stream.VideoTracks(), 1)
	assert.Equal(t, "default-cam", stream.VideoTracks()[0].DeviceID())
	assert.Len(t, opened, 2)
	assert.Equal(t, 1280, opened[1].Constraints().IdealWidth)
}

func TestDevices_AudioOnly(t *testing.T) {
	devices := NewDevices(DefaultDevices(), nil)

	stream, err := devices.GetUserMedia(context.Background(), domain.MediaConstraints{Audio: true})
	require.NoError(t, err)

	assert.Len(t, stream.Tracks(), 1)
	assert.Empty(t, stream.VideoTracks())
}

func TestDevices_UnknownCamera(t *testing.T) {
	devices := NewDevices(DefaultDevices(), nil)

	_, err := devices.GetUserMedia(context.Background(), domain.MediaConstraints{
		Audio: true,
		Video: &domain.VideoConstraints{DeviceID: "missing"},
	})
	assert.ErrorIs(t, err, domain.ErrNoCameraAvailable)
}

func TestDevices_NoMicrophone(t *testing.T) {
	devices := NewDevices(nil, nil)

	_, err := devices.GetUserMedia(context.Background(), domain.MediaConstraints{Audio: true})
	assert.ErrorIs(t, err, domain.ErrNoMicrophoneAvailable)
}

func TestDevices_GetDisplayMedia(t *testing.T) {
	devices := NewDevices(nil, nil)

	stream, err := devices.GetDisplayMedia(context.Background(), domain.DisplayConstraints{Audio: true})
	require.NoError(t, err)

	require.Len(t, stream.VideoTracks(), 1)
	assert.Equal(t, ScreenDeviceID, stream.VideoTracks()[0].DeviceID())
	assert.Len(t, stream.AudioTracks(), 1)
}

func TestStream_AddRemove(t *testing.T) {
	a, err := NewSampleTrack(domain.MediaKindAudio, "mic", "s", nil)
	require.NoError(t, err)
	v, err := NewSampleTrack(domain.MediaKindVideo, "cam", "s", nil)
	require.NoError(t, err)

	stream := NewStream("s", a)
	stream.AddTrack(v)
	stream.AddTrack(v)
	assert.Len(t, stream.Tracks(), 2)

	stream.RemoveTrack(a)
	assert.Len(t, stream.Tracks(), 1)
	assert.Empty(t, stream.AudioTracks())
}
