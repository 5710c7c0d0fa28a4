package services

import (
	"fmt"
	"sync"
	"time"

	"rillcall/internal/core/domain"
)

type bytesBaseline struct {
	at         time.Time
	videoBytes uint64
	audioBytes uint64
	valid      bool
}

// StatsTracker turns successive stats reports into snapshots. Bitrates are
// deltas of cumulative bytes sent against the previous report.
type StatsTracker struct {
	mu   sync.Mutex
	prev bytesBaseline
}

func NewStatsTracker() *StatsTracker {
	return &StatsTracker{}
}

// Reset forgets the previous byte counters.
func (t *StatsTracker) Reset() {
	t.mu.Lock()
	t.prev = bytesBaseline{}
	t.mu.Unlock()
}

func (t *StatsTracker) Snapshot(report domain.StatsReport) domain.CallStatsSnapshot {
	var snap domain.CallStatsSnapshot
	if report.Timestamp.IsZero() {
		report.Timestamp = time.Now()
	}

	var (
		videoBytes, audioBytes   uint64
		hasVideoOut, hasAudioOut bool
		videoOut                 *domain.OutboundRTPStats
	)
	for i := range report.Outbound {
		out := &report.Outbound[i]
		switch out.Kind {
		case domain.MediaKindVideo:
			videoBytes += out.BytesSent
			hasVideoOut = true
			if videoOut == nil {
				videoOut = out
			}
		case domain.MediaKindAudio:
			audioBytes += out.BytesSent
			hasAudioOut = true
		}
	}

	t.mu.Lock()
	prev := t.prev
	t.prev = bytesBaseline{at: report.Timestamp, videoBytes: videoBytes, audioBytes: audioBytes, valid: true}
	t.mu.Unlock()

	if prev.valid {
		elapsed := report.Timestamp.Sub(prev.at).Seconds()
		if elapsed > 0 {
			if hasVideoOut && videoBytes >= prev.videoBytes {
				snap.BitrateKbps = float64Ptr(float64(videoBytes-prev.videoBytes) * 8 / elapsed / 1000)
			}
			if hasAudioOut && audioBytes >= prev.audioBytes {
				snap.AudioBitrateKbps = float64Ptr(float64(audioBytes-prev.audioBytes) * 8 / elapsed / 1000)
			}
		}
	}

	var (
		lost, received   int64
		hasInbound       bool
		videoIn, audioIn *domain.InboundRTPStats
	)
	for i := range report.Inbound {
		in := &report.Inbound[i]
		hasInbound = true
		lost += in.PacketsLost
		received += int64(in.PacketsReceived)
		if in.Kind == domain.MediaKindVideo && videoIn == nil {
			videoIn = in
		}
		if in.Kind == domain.MediaKindAudio && audioIn == nil {
			audioIn = in
		}
	}
	if hasInbound && lost+received > 0 {
		snap.PacketLossPercent = float64Ptr(float64(lost) / float64(lost+received) * 100)
	}

	jitterSource := videoIn
	if jitterSource == nil {
		jitterSource = audioIn
	}
	if jitterSource != nil {
		snap.JitterMs = float64Ptr(jitterSource.Jitter * 1000)
	}

	if videoIn != nil {
		if videoIn.FrameWidth > 0 && videoIn.FrameHeight > 0 {
			snap.Resolution = stringPtr(fmt.Sprintf("%dx%d", videoIn.FrameWidth, videoIn.FrameHeight))
		}
		if videoIn.FramesPerSecond > 0 {
			snap.FrameRate = float64Ptr(videoIn.FramesPerSecond)
		}
		snap.FramesDecoded = uint64Ptr(videoIn.FramesDecoded)
		snap.FramesDropped = uint64Ptr(videoIn.FramesDropped)
	}
	if videoOut != nil {
		if snap.Resolution == nil && videoOut.FrameWidth > 0 && videoOut.FrameHeight > 0 {
			snap.Resolution = stringPtr(fmt.Sprintf("%dx%d", videoOut.FrameWidth, videoOut.FrameHeight))
		}
		if snap.FrameRate == nil && videoOut.FramesPerSecond > 0 {
			snap.FrameRate = float64Ptr(videoOut.FramesPerSecond)
		}
	}
	if audioIn != nil && audioIn.AudioLevel != nil {
		snap.AudioLevel = float64Ptr(*audioIn.AudioLevel)
	}

	for _, remote := range report.RemoteInbound {
		if snap.RoundTripTimeMs == nil && remote.RoundTripTime > 0 {
			snap.RoundTripTimeMs = float64Ptr(remote.RoundTripTime * 1000)
		}
		if snap.PacketLossPercent == nil {
			snap.PacketLossPercent = float64Ptr(remote.FractionLost * 100)
		}
	}

	for _, pair := range report.CandidatePairs {
		if !pair.Nominated {
			continue
		}
		if local, ok := report.Candidates[pair.LocalCandidateID]; ok && local.CandidateType != "" {
			snap.LocalCandidateType = stringPtr(local.CandidateType)
		}
		if remote, ok := report.Candidates[pair.RemoteCandidateID]; ok && remote.CandidateType != "" {
			snap.RemoteCandidateType = stringPtr(remote.CandidateType)
		}
		if pair.AvailableOutgoingBitrate > 0 {
			snap.AvailableOutgoingBitrateKbps = float64Ptr(pair.AvailableOutgoingBitrate / 1000)
		}
		if snap.RoundTripTimeMs == nil && pair.CurrentRoundTripTime > 0 {
			snap.RoundTripTimeMs = float64Ptr(pair.CurrentRoundTripTime * 1000)
		}
		break
	}

	snap.Codec = resolveCodec(report, videoOut, videoIn)
	return snap
}

func resolveCodec(report domain.StatsReport, videoOut *domain.OutboundRTPStats, videoIn *domain.InboundRTPStats) *string {
	var ids []string
	if videoOut != nil {
		ids = append(ids, videoOut.CodecID)
	}
	if videoIn != nil {
		ids = append(ids, videoIn.CodecID)
	}
	for _, out := range report.Outbound {
		ids = append(ids, out.CodecID)
	}
	for _, id := range ids {
		if id == "" {
			continue
		}
		if codec, ok := report.Codecs[id]; ok && codec.MimeType != "" {
			return stringPtr(codec.MimeType)
		}
	}
	return nil
}

func float64Ptr(v float64) *float64 { return &v }
func uint64Ptr(v uint64) *uint64    { return &v }
func stringPtr(v string) *string    { return &v }
