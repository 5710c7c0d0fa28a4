package webrtc

import (
	"context"
	"testing"
	"time"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestCall(t *testing.T) (*CallManager, *fakeFactory, *recordingDevices) {
	t.Helper()
	factory := &fakeFactory{}
	devices := newRecordingDevices()
	m := NewCallManager(DefaultManagerConfig(), Dependencies{
		Factory: factory,
		Devices: devices,
		Logger:  zaptest.NewLogger(t).Sugar(),
	})
	return m, factory, devices
}

func TestCallManager_CreateOffer(t *testing.T) {
	m, factory, devices := newTestCall(t)
	defer m.Close()

	offer, err := m.CreateOffer(context.Background(), CallOptions{Video: true})
	require.NoError(t, err)
	assert.Equal(t, domain.SDPTypeOffer, offer.Type)
	assert.Contains(t, offer.SDP, "useinbandfec=1")

	conn := factory.last()
	require.Len(t, conn.Senders(), 2)
	assert.Len(t, conn.videoSenders(), 1)
	require.Len(t, devices.userMediaCalls(), 1)
	assert.NotNil(t, devices.userMediaCalls()[0].Video)
	assert.Equal(t, domain.ICETransportPolicyAll, conn.cfg.ICETransportPolicy)
}

func TestCallManager_PCMModeSkipsOpusTuning(t *testing.T) {
	cfg := DefaultManagerConfig()
	cfg.AudioMode = domain.AudioModePCM
	factory := &fakeFactory{}
	m := NewCallManager(cfg, Dependencies{Factory: factory, Devices: newRecordingDevices(), Logger: zaptest.NewLogger(t).Sugar()})
	defer m.Close()

	offer, err := m.CreateOffer(context.Background(), CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, fakeOfferSDP, offer.SDP)
}

func TestCallManager_AcceptOffer(t *testing.T) {
	m, factory, _ := newTestCall(t)
	defer m.Close()

	answer, err := m.AcceptOffer(context.Background(), offerFor(), CallOptions{PeerID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, domain.SDPTypeAnswer, answer.Type)
	assert.True(t, factory.last().HasRemoteDescription())

	_, err = m.AcceptOffer(context.Background(), domain.SessionDescriptor{Type: domain.SDPTypeOffer}, CallOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidSessionDescription)
}

func TestCallManager_CompleteHandshakeWithoutConnection(t *testing.T) {
	m, _, _ := newTestCall(t)
	defer m.Close()

	assert.ErrorIs(t, m.CompleteHandshake(context.Background(), answerFor()), domain.ErrNoConnection)
}

func TestCallManager_CandidatesBeforeConnectionAreKept(t *testing.T) {
	m, factory, _ := newTestCall(t)
	defer m.Close()
	ctx := context.Background()

	// Trickled by the caller while the call is still ringing.
	require.NoError(t, m.AddICECandidate(ctx, candidate("early-1")))
	require.NoError(t, m.AddICECandidate(ctx, candidate("early-2")))
	assert.Equal(t, 2, m.PendingCandidateCount())

	_, err := m.AcceptOffer(ctx, offerFor(), CallOptions{PeerID: "bob"})
	require.NoError(t, err)
	assert.Zero(t, m.PendingCandidateCount())
	assert.Equal(t, []string{"early-1", "early-2"}, factory.last().appliedCandidates())

	require.NoError(t, m.AddICECandidate(ctx, candidate("late")))
	assert.Equal(t, []string{"early-1", "early-2", "late"}, factory.last().appliedCandidates())
}

func TestCallManager_EarlyCandidatesPrecedeQueuedOnes(t *testing.T) {
	m, factory, _ := newTestCall(t)
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.AddICECandidate(ctx, candidate("a")))
	_, err := m.CreateOffer(ctx, CallOptions{})
	require.NoError(t, err)
	require.NoError(t, m.AddICECandidate(ctx, candidate("b")))
	assert.Equal(t, 2, m.PendingCandidateCount())

	require.NoError(t, m.CompleteHandshake(ctx, answerFor()))
	assert.Equal(t, []string{"a", "b"}, factory.last().appliedCandidates())
}

func TestCallManager_CloseDiscardsEarlyCandidates(t *testing.T) {
	m, factory, _ := newTestCall(t)
	ctx := context.Background()

	require.NoError(t, m.AddICECandidate(ctx, candidate("stale")))
	require.NoError(t, m.Close())
	assert.Zero(t, m.PendingCandidateCount())

	_, err := m.AcceptOffer(ctx, offerFor(), CallOptions{})
	require.NoError(t, err)
	assert.Empty(t, factory.last().appliedCandidates())
	require.NoError(t, m.Close())
}

func TestCallManager_CandidateQueue(t *testing.T) {
	m, factory, _ := newTestCall(t)
	defer m.Close()
	ctx := context.Background()

	_, err := m.CreateOffer(ctx, CallOptions{})
	require.NoError(t, err)
	require.NoError(t, m.AddICECandidate(ctx, candidate("a")))
	require.NoError(t, m.AddICECandidate(ctx, candidate("b")))
	assert.Equal(t, 2, m.PendingCandidateCount())

	assert.ErrorIs(t, m.CompleteHandshake(ctx, offerFor()), domain.ErrInvalidSessionDescription)
	assert.Equal(t, 2, m.PendingCandidateCount())

	require.NoError(t, m.CompleteHandshake(ctx, answerFor()))
	assert.Zero(t, m.PendingCandidateCount())
	assert.Equal(t, []string{"a", "b"}, factory.last().appliedCandidates())
}

func TestCallManager_ToggleInvolution(t *testing.T) {
	m, _, _ := newTestCall(t)
	defer m.Close()

	assert.False(t, m.ToggleMute())
	assert.True(t, m.ToggleCamera())

	_, err := m.CreateOffer(context.Background(), CallOptions{Video: true})
	require.NoError(t, err)
	audio := m.LocalStream().AudioTracks()[0]
	video := m.LocalStream().VideoTracks()[0]

	assert.True(t, m.ToggleMute())
	assert.False(t, audio.Enabled())
	assert.False(t, m.ToggleMute())
	assert.True(t, audio.Enabled())

	assert.True(t, m.ToggleCamera())
	assert.False(t, video.Enabled())
	assert.False(t, m.ToggleCamera())
	assert.True(t, video.Enabled())
}

func TestCallManager_QualityReset(t *testing.T) {
	m, factory, _ := newTestCall(t)
	defer m.Close()

	assert.NoError(t, m.SetVideoQuality(domain.Quality720p))

	_, err := m.CreateOffer(context.Background(), CallOptions{Video: true})
	require.NoError(t, err)
	sender := factory.last().videoSenders()[0]

	require.NoError(t, m.SetVideoQuality(domain.Quality4K))
	enc := sender.Parameters().Encodings[0]
	require.NotNil(t, enc.MaxBitrate)
	assert.Equal(t, uint64(15_000_000), *enc.MaxBitrate)

	require.NoError(t, m.SetVideoQuality(domain.QualityAuto))
	enc = sender.Parameters().Encodings[0]
	assert.Nil(t, enc.MaxBitrate)
	assert.Nil(t, enc.MaxFramerate)
	assert.True(t, enc.Active)
}

func TestCallManager_CaptureUsesSelectedTier(t *testing.T) {
	m, _, devices := newTestCall(t)
	defer m.Close()

	require.NoError(t, m.SetVideoQuality(domain.Quality1080p))
	_, err := m.CreateOffer(context.Background(), CallOptions{Video: true})
	require.NoError(t, err)

	video := devices.userMediaCalls()[0].Video
	require.NotNil(t, video)
	assert.Equal(t, 1920, video.IdealWidth)
	assert.Equal(t, 1080, video.IdealHeight)
}

func TestCallManager_SwitchCamera(t *testing.T) {
	factory := &fakeFactory{}
	devices := newRecordingDevices(domain.DeviceInfo{DeviceID: "usb-cam", Kind: domain.DeviceKindVideoInput})
	m := NewCallManager(DefaultManagerConfig(), Dependencies{Factory: factory, Devices: devices, Logger: zaptest.NewLogger(t).Sugar()})
	defer m.Close()
	ctx := context.Background()

	assert.ErrorIs(t, m.SwitchCamera(ctx, ""), domain.ErrNoConnection)

	_, err := m.CreateOffer(ctx, CallOptions{Video: true})
	require.NoError(t, err)
	require.True(t, m.ToggleCamera())
	old := m.LocalStream().VideoTracks()[0]

	require.NoError(t, m.SwitchCamera(ctx, "usb-cam"))

	next := m.LocalStream().VideoTracks()[0]
	assert.Equal(t, "usb-cam", next.DeviceID())
	assert.False(t, next.Enabled())
	assert.True(t, old.Stopped())
	assert.Same(t, next, factory.last().videoSenders()[0].Track())
	assert.Equal(t, 1, factory.last().videoSenders()[0].replaced)
}

func TestCallManager_SwitchCameraWithoutVideoSender(t *testing.T) {
	m, _, devices := newTestCall(t)
	defer m.Close()
	ctx := context.Background()

	_, err := m.CreateOffer(ctx, CallOptions{})
	require.NoError(t, err)

	assert.ErrorIs(t, m.SwitchCamera(ctx, ""), domain.ErrNoVideoSender)
	// Only the microphone is left running.
	assert.Equal(t, 1, devices.liveTracks())
}

func TestCallManager_ScreenShare(t *testing.T) {
	m, factory, _ := newTestCall(t)
	defer m.Close()
	ctx := context.Background()

	_, err := m.StartScreenShare(ctx)
	assert.ErrorIs(t, err, domain.ErrNoConnection)

	_, err = m.CreateOffer(ctx, CallOptions{Video: true})
	require.NoError(t, err)

	screen, err := m.StartScreenShare(ctx)
	require.NoError(t, err)
	assert.True(t, m.IsScreenSharing())
	assert.Len(t, factory.last().videoSenders(), 2)

	m.StopScreenShare()
	m.StopScreenShare()
	assert.False(t, m.IsScreenSharing())
	assert.Len(t, factory.last().videoSenders(), 1)
	assert.Equal(t, 1, factory.last().removed)
	for _, track := range screen.Tracks() {
		assert.True(t, track.Stopped())
	}
}

func TestCallManager_MediaEncryption(t *testing.T) {
	factory := &fakeFactory{}
	var cryptors []*fakeCryptor
	m := NewCallManager(DefaultManagerConfig(), Dependencies{
		Factory: factory,
		Devices: newRecordingDevices(),
		NewFrameCryptor: func() ports.FrameCryptor {
			c := &fakeCryptor{}
			cryptors = append(cryptors, c)
			return c
		},
		Logger: zaptest.NewLogger(t).Sugar(),
	})
	ctx := context.Background()

	_, err := m.CreateOffer(ctx, CallOptions{Video: true, MediaE2EE: true, MediaKey: []byte("short")})
	require.Error(t, err)
	require.Len(t, cryptors, 1)
	assert.True(t, cryptors[0].isClosed())

	key := make([]byte, 32)
	_, err = m.CreateOffer(ctx, CallOptions{Video: true, MediaE2EE: true, MediaKey: key})
	require.NoError(t, err)
	require.Len(t, cryptors, 2)
	for _, s := range factory.last().Senders() {
		assert.Same(t, cryptors[1], s.(*fakeSender).transform)
	}

	_, err = m.StartScreenShare(ctx)
	require.NoError(t, err)
	assert.Same(t, cryptors[1], factory.last().videoSenders()[1].transform)

	require.NoError(t, m.Close())
	assert.True(t, cryptors[1].isClosed())
}

func TestCallManager_MediaEncryptionCoversRemoteReceivers(t *testing.T) {
	factory := &fakeFactory{}
	cryptor := &fakeCryptor{}
	m := NewCallManager(DefaultManagerConfig(), Dependencies{
		Factory:         factory,
		Devices:         newRecordingDevices(),
		NewFrameCryptor: func() ports.FrameCryptor { return cryptor },
		Logger:          zaptest.NewLogger(t).Sugar(),
	})
	defer m.Close()

	_, err := m.AcceptOffer(context.Background(), offerFor(), CallOptions{MediaE2EE: true, MediaKey: make([]byte, 32)})
	require.NoError(t, err)

	conn := factory.last()
	require.Len(t, conn.receivers, 1)
	assert.Same(t, cryptor, conn.receivers[0].frameTransform())
	for _, s := range conn.Senders() {
		assert.Same(t, cryptor, s.(*fakeSender).transform)
	}
}

func TestCallManager_RemoteStreamEvent(t *testing.T) {
	m, factory, _ := newTestCall(t)
	defer m.Close()
	events, cancel := m.Subscribe(4)
	defer cancel()

	_, err := m.CreateOffer(context.Background(), CallOptions{PeerID: "bob"})
	require.NoError(t, err)
	factory.last().emitStream(domain.RemoteStream{ID: "remote-1", TrackIDs: []string{"t1"}})

	ev := <-events
	assert.Equal(t, domain.EventRemoteStreamAdded, ev.Type)
	assert.Equal(t, domain.PeerID("bob"), ev.PeerID)
	require.NotNil(t, m.RemoteStream())
	assert.Equal(t, "remote-1", m.RemoteStream().ID)
	assert.Equal(t, domain.PeerID("bob"), m.RemoteStream().PeerID)
}

func TestCallManager_StatsPolling(t *testing.T) {
	m, factory, _ := newTestCall(t)
	defer m.Close()
	events, cancel := m.Subscribe(4)
	defer cancel()

	_, err := m.GetStats(context.Background())
	assert.ErrorIs(t, err, domain.ErrNoConnection)

	_, err = m.CreateOffer(context.Background(), CallOptions{})
	require.NoError(t, err)
	conn := factory.last()
	conn.mu.Lock()
	conn.report = domain.StatsReport{
		Timestamp: time.Now(),
		RemoteInbound: []domain.RemoteInboundRTPStats{
			{Kind: domain.MediaKindAudio, RoundTripTime: 0.05, FractionLost: 0.01},
		},
	}
	conn.mu.Unlock()

	m.StartStatsPolling(10 * time.Millisecond)
	defer m.StopStatsPolling()

	select {
	case ev := <-events:
		assert.Equal(t, domain.EventStatsUpdated, ev.Type)
		require.NotNil(t, ev.Stats)
		require.NotNil(t, ev.Stats.RoundTripTimeMs)
		assert.InDelta(t, 50.0, *ev.Stats.RoundTripTimeMs, 0.001)
		require.NotNil(t, ev.Stats.PacketLossPercent)
		assert.InDelta(t, 1.0, *ev.Stats.PacketLossPercent, 0.001)
	case <-time.After(2 * time.Second):
		t.Fatal("no stats event")
	}
}

func TestCallManager_NewCallReplacesPrevious(t *testing.T) {
	m, factory, devices := newTestCall(t)
	defer m.Close()
	ctx := context.Background()

	_, err := m.CreateOffer(ctx, CallOptions{})
	require.NoError(t, err)
	_, err = m.CreateOffer(ctx, CallOptions{})
	require.NoError(t, err)

	conns := factory.all()
	require.Len(t, conns, 2)
	assert.True(t, conns[0].isClosed())
	assert.False(t, conns[1].isClosed())
	assert.Len(t, devices.userMediaCalls(), 1)
}

func TestCallManager_TeardownCompleteness(t *testing.T) {
	m, factory, devices := newTestCall(t)
	ctx := context.Background()
	events, _ := m.Subscribe(4)

	_, err := m.CreateOffer(ctx, CallOptions{Video: true})
	require.NoError(t, err)
	require.NoError(t, m.AddICECandidate(ctx, candidate("queued")))
	factory.last().emitStream(domain.RemoteStream{ID: "remote-1"})
	_, err = m.StartScreenShare(ctx)
	require.NoError(t, err)
	m.StartStatsPolling(time.Hour)

	require.NoError(t, m.Close())

	assert.True(t, factory.last().isClosed())
	assert.Zero(t, devices.liveTracks())
	assert.Nil(t, m.LocalStream())
	assert.Nil(t, m.RemoteStream())
	assert.Zero(t, m.PendingCandidateCount())
	assert.False(t, m.IsScreenSharing())
	assert.Zero(t, m.hub.SubscriberCount())

	// Drain the remote-stream event, then expect the channel closed.
	for range events {
	}

	require.NoError(t, m.Close())
}
