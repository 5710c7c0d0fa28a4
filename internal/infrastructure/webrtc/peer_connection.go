package webrtc

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"
	"rillcall/internal/core/services"
	"rillcall/pkg/optimize"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media/samplebuilder"
	"go.uber.org/zap"
)

const (
	sampleBuilderMaxLate = 128
	opusPayloadType      = 111
	opusBaseFmtp         = "minptime=10;useinbandfec=1"
)

var rtcpBuffers = optimize.NewBytePool(optimize.MTU)

// FrameSink receives reassembled, decrypted remote frames. Decoding them is
// left to the host media engine.
type FrameSink func(streamID, trackID string, kind domain.MediaKind, frame []byte)

// PionConfig tunes the pion API shared by every connection.
type PionConfig struct {
	PortMin    uint16
	PortMax    uint16
	NAT1To1IPs []string
	// IncludeLoopback gathers loopback candidates.
	IncludeLoopback bool
	FrameSink       FrameSink
	// Opus, when set, is advertised in the Opus fmtp line of every
	// description pion generates. Leave nil for uncompressed audio.
	Opus *domain.OpusConfig
}

// trackLocalProvider is implemented by local tracks that pion can send.
type trackLocalProvider interface {
	TrackLocal() webrtc.TrackLocal
}

// encodingLimiter is implemented by local tracks whose encoder honours
// sender limits.
type encodingLimiter interface {
	SetEncodingLimits(maxBitrate *uint64, maxFramerate *float64)
}

// PionFactory builds ports.PeerConnection values backed by pion/webrtc.
type PionFactory struct {
	api    *webrtc.API
	sink   FrameSink
	logger *zap.SugaredLogger
}

func NewPionFactory(cfg PionConfig, logger *zap.SugaredLogger) (*PionFactory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if cfg.Opus != nil {
		// Registered ahead of the defaults, which then skip their own Opus entry.
		opus := webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeOpus,
				ClockRate:   48000,
				Channels:    2,
				SDPFmtpLine: services.OpusFmtpLine(opusBaseFmtp, *cfg.Opus),
			},
			PayloadType: opusPayloadType,
		}
		if err := mediaEngine.RegisterCodec(opus, webrtc.RTPCodecTypeAudio); err != nil {
			return nil, fmt.Errorf("failed to register opus: %w", err)
		}
	}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if cfg.PortMin > 0 && cfg.PortMax > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.PortMin, cfg.PortMax); err != nil {
			return nil, fmt.Errorf("invalid port range: %w", err)
		}
	}
	if len(cfg.NAT1To1IPs) > 0 {
		settingEngine.SetNAT1To1IPs(cfg.NAT1To1IPs, webrtc.ICECandidateTypeHost)
	}
	if cfg.IncludeLoopback {
		settingEngine.SetIncludeLoopbackCandidate(true)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settingEngine),
	)
	return &PionFactory{api: api, sink: cfg.FrameSink, logger: logger}, nil
}

func (f *PionFactory) NewPeerConnection(cfg domain.ConnectionConfig) (ports.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(pionConfiguration(cfg))
	if err != nil {
		return nil, err
	}
	c := &pionConnection{
		pc:           pc,
		sink:         f.sink,
		logger:       f.logger,
		receivers:    make(map[*webrtc.RTPReceiver]*pionReceiver),
		remoteTracks: make(map[string][]string),
	}
	pc.OnICECandidate(c.handleCandidate)
	pc.OnTrack(c.handleTrack)
	pc.OnConnectionStateChange(c.handleState)
	return c, nil
}

func pionConfiguration(cfg domain.ConnectionConfig) webrtc.Configuration {
	servers := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
	for _, s := range cfg.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.HasCredentials() {
			server.Username = s.Username
			server.Credential = s.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, server)
	}
	policy := webrtc.ICETransportPolicyAll
	if cfg.ICETransportPolicy == domain.ICETransportPolicyRelay {
		policy = webrtc.ICETransportPolicyRelay
	}
	return webrtc.Configuration{
		ICEServers:         servers,
		ICETransportPolicy: policy,
		SDPSemantics:       webrtc.SDPSemanticsUnifiedPlan,
	}
}

type pionConnection struct {
	pc     *webrtc.PeerConnection
	sink   FrameSink
	logger *zap.SugaredLogger

	mu           sync.Mutex
	senders      []*pionSender
	receivers    map[*webrtc.RTPReceiver]*pionReceiver
	remoteTracks map[string][]string
	onCandidate  func(domain.IceCandidateDescriptor)
	onStream     func(domain.RemoteStream)
	onState      func(domain.ConnectionState)
}

func (c *pionConnection) AddTrack(track ports.LocalTrack, stream ports.MediaStream) (ports.RTPSender, error) {
	provider, ok := track.(trackLocalProvider)
	if !ok {
		return nil, fmt.Errorf("%w: %T", domain.ErrUnsupportedTrack, track)
	}
	rtpSender, err := c.pc.AddTrack(provider.TrackLocal())
	if err != nil {
		return nil, err
	}
	go c.readSenderRTCP(rtpSender, track.ID())

	sender := &pionSender{
		sender: rtpSender,
		kind:   track.Kind(),
		track:  track,
		params: domain.SendParameters{Encodings: []domain.EncodingParameters{{Active: true}}},
	}
	c.mu.Lock()
	c.senders = append(c.senders, sender)
	c.mu.Unlock()

	c.logger.Debugw("Local track added", "track_id", track.ID(), "kind", track.Kind(), "stream_id", stream.ID())
	return sender, nil
}

func (c *pionConnection) RemoveTrack(sender ports.RTPSender) error {
	ps, ok := sender.(*pionSender)
	if !ok {
		return fmt.Errorf("%w: %T", domain.ErrUnsupportedTrack, sender)
	}
	c.mu.Lock()
	for i, s := range c.senders {
		if s == ps {
			c.senders = append(c.senders[:i], c.senders[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	return c.pc.RemoveTrack(ps.sender)
}

func (c *pionConnection) Senders() []ports.RTPSender {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ports.RTPSender, 0, len(c.senders))
	for _, s := range c.senders {
		out = append(out, s)
	}
	return out
}

func (c *pionConnection) Receivers() []ports.RTPReceiver {
	var out []ports.RTPReceiver
	for _, t := range c.pc.GetTransceivers() {
		r := t.Receiver()
		if r == nil {
			continue
		}
		out = append(out, c.receiverFor(r, domain.MediaKind(t.Kind().String())))
	}
	return out
}

func (c *pionConnection) CreateOffer(ctx context.Context) (domain.SessionDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return domain.SessionDescriptor{}, err
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescriptor{}, err
	}
	return domain.SessionDescriptor{SDP: offer.SDP, Type: domain.SDPTypeOffer}, nil
}

func (c *pionConnection) CreateAnswer(ctx context.Context) (domain.SessionDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return domain.SessionDescriptor{}, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescriptor{}, err
	}
	return domain.SessionDescriptor{SDP: answer.SDP, Type: domain.SDPTypeAnswer}, nil
}

func (c *pionConnection) SetLocalDescription(ctx context.Context, desc domain.SessionDescriptor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.NewSDPType(string(desc.Type)), SDP: desc.SDP})
}

func (c *pionConnection) SetRemoteDescription(ctx context.Context, desc domain.SessionDescriptor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.NewSDPType(string(desc.Type)), SDP: desc.SDP})
}

func (c *pionConnection) HasRemoteDescription() bool {
	return c.pc.RemoteDescription() != nil
}

func (c *pionConnection) AddICECandidate(ctx context.Context, candidate domain.IceCandidateDescriptor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        candidate.SDPMid,
		SDPMLineIndex: candidate.SDPMLineIndex,
	})
}

func (c *pionConnection) GetStats(ctx context.Context) (domain.StatsReport, error) {
	if err := ctx.Err(); err != nil {
		return domain.StatsReport{}, err
	}
	return convertStats(c.pc.GetStats()), nil
}

func (c *pionConnection) OnICECandidate(fn func(domain.IceCandidateDescriptor)) {
	c.mu.Lock()
	c.onCandidate = fn
	c.mu.Unlock()
}

func (c *pionConnection) OnRemoteStream(fn func(domain.RemoteStream)) {
	c.mu.Lock()
	c.onStream = fn
	c.mu.Unlock()
}

func (c *pionConnection) OnConnectionStateChange(fn func(domain.ConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *pionConnection) Close() error {
	return c.pc.Close()
}

func (c *pionConnection) handleCandidate(candidate *webrtc.ICECandidate) {
	if candidate == nil {
		return
	}
	c.mu.Lock()
	fn := c.onCandidate
	c.mu.Unlock()
	if fn == nil {
		return
	}
	init := candidate.ToJSON()
	fn(domain.IceCandidateDescriptor{
		Candidate:     init.Candidate,
		SDPMid:        init.SDPMid,
		SDPMLineIndex: init.SDPMLineIndex,
	})
}

func (c *pionConnection) handleState(state webrtc.PeerConnectionState) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(domain.ConnectionState(state.String()))
	}
}

func (c *pionConnection) handleTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	kind := domain.MediaKind(track.Kind().String())

	c.mu.Lock()
	c.remoteTracks[track.StreamID()] = append(c.remoteTracks[track.StreamID()], track.ID())
	stream := domain.RemoteStream{
		ID:       track.StreamID(),
		TrackIDs: append([]string(nil), c.remoteTracks[track.StreamID()]...),
	}
	fn := c.onStream
	c.mu.Unlock()

	c.logger.Infow("Remote track started",
		"track_id", track.ID(),
		"stream_id", track.StreamID(),
		"codec", track.Codec().MimeType,
	)
	if fn != nil {
		fn(stream)
	}

	if kind == domain.MediaKindVideo {
		c.requestKeyframe(track)
	}
	go c.readTrack(track, c.receiverFor(receiver, kind))
}

func (c *pionConnection) requestKeyframe(track *webrtc.TrackRemote) {
	err := c.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}})
	if err != nil {
		c.logger.Debugw("Failed to send PLI", "track_id", track.ID(), "error", err)
	}
}

// readTrack reassembles remote frames, runs the receive transform and hands
// them to the sink.
func (c *pionConnection) readTrack(track *webrtc.TrackRemote, receiver *pionReceiver) {
	depacketizer := depacketizerFor(track.Codec().MimeType)
	var builder *samplebuilder.SampleBuilder
	if depacketizer != nil {
		builder = samplebuilder.New(sampleBuilderMaxLate, depacketizer, track.Codec().ClockRate)
	}

	kind := domain.MediaKind(track.Kind().String())
	for {
		packet, _, err := track.ReadRTP()
		if err != nil {
			c.logger.Debugw("Remote track ended", "track_id", track.ID(), "error", err)
			return
		}
		if builder == nil {
			continue
		}
		builder.Push(packet)
		for sample := builder.Pop(); sample != nil; sample = builder.Pop() {
			frame := sample.Data
			if transform := receiver.frameTransform(); transform != nil {
				frame = transform.Decrypt(frame)
			}
			if c.sink != nil {
				c.sink(track.StreamID(), track.ID(), kind, frame)
			}
		}
	}
}

func depacketizerFor(mimeType string) rtp.Depacketizer {
	switch strings.ToLower(mimeType) {
	case strings.ToLower(webrtc.MimeTypeOpus):
		return &codecs.OpusPacket{}
	case strings.ToLower(webrtc.MimeTypeVP8):
		return &codecs.VP8Packet{}
	case strings.ToLower(webrtc.MimeTypeVP9):
		return &codecs.VP9Packet{}
	case strings.ToLower(webrtc.MimeTypeH264):
		return &codecs.H264Packet{}
	default:
		return nil
	}
}

// readSenderRTCP drains sender RTCP so interceptors keep working.
func (c *pionConnection) readSenderRTCP(sender *webrtc.RTPSender, trackID string) {
	buf := rtcpBuffers.Get()
	defer rtcpBuffers.Put(buf)
	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}
		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		for _, packet := range packets {
			switch packet.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				c.logger.Debugw("Keyframe requested by remote", "track_id", trackID)
			}
		}
	}
}

func (c *pionConnection) receiverFor(r *webrtc.RTPReceiver, kind domain.MediaKind) *pionReceiver {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.receivers[r]; ok {
		return existing
	}
	wrapped := &pionReceiver{kind: kind}
	c.receivers[r] = wrapped
	return wrapped
}

func convertStats(report webrtc.StatsReport) domain.StatsReport {
	out := domain.StatsReport{
		Timestamp:  time.Now(),
		Candidates: make(map[string]domain.CandidateStats),
		Codecs:     make(map[string]domain.CodecStats),
	}
	for _, stat := range report {
		switch s := stat.(type) {
		case webrtc.OutboundRTPStreamStats:
			out.Outbound = append(out.Outbound, domain.OutboundRTPStats{
				Kind:      domain.MediaKind(s.Kind),
				CodecID:   s.CodecID,
				BytesSent: s.BytesSent,
			})
		case webrtc.InboundRTPStreamStats:
			out.Inbound = append(out.Inbound, domain.InboundRTPStats{
				Kind:            domain.MediaKind(s.Kind),
				CodecID:         s.CodecID,
				PacketsReceived: uint64(s.PacketsReceived),
				PacketsLost:     int64(s.PacketsLost),
				BytesReceived:   s.BytesReceived,
				Jitter:          s.Jitter,
				FramesDecoded:   uint64(s.FramesDecoded),
			})
		case webrtc.RemoteInboundRTPStreamStats:
			out.RemoteInbound = append(out.RemoteInbound, domain.RemoteInboundRTPStats{
				Kind:          domain.MediaKind(s.Kind),
				RoundTripTime: s.RoundTripTime,
				FractionLost:  s.FractionLost,
			})
		case webrtc.ICECandidatePairStats:
			out.CandidatePairs = append(out.CandidatePairs, domain.CandidatePairStats{
				LocalCandidateID:         s.LocalCandidateID,
				RemoteCandidateID:        s.RemoteCandidateID,
				Nominated:                s.Nominated,
				AvailableOutgoingBitrate: s.AvailableOutgoingBitrate,
				CurrentRoundTripTime:     s.CurrentRoundTripTime,
			})
		case webrtc.ICECandidateStats:
			out.Candidates[s.ID] = domain.CandidateStats{
				ID:            s.ID,
				CandidateType: s.CandidateType.String(),
				Address:       s.IP,
			}
		case webrtc.CodecStats:
			out.Codecs[s.ID] = domain.CodecStats{ID: s.ID, MimeType: s.MimeType}
		}
	}
	return out
}

type pionSender struct {
	sender *webrtc.RTPSender
	kind   domain.MediaKind

	mu        sync.Mutex
	track     ports.LocalTrack
	params    domain.SendParameters
	transform ports.FrameTransform
}

func (s *pionSender) Kind() domain.MediaKind { return s.kind }

func (s *pionSender) Track() ports.LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

// ReplaceTrack swaps the outgoing track in place and carries the sender's
// limits and frame transform over to it.
func (s *pionSender) ReplaceTrack(track ports.LocalTrack) error {
	provider, ok := track.(trackLocalProvider)
	if !ok {
		return fmt.Errorf("%w: %T", domain.ErrUnsupportedTrack, track)
	}
	if err := s.sender.ReplaceTrack(provider.TrackLocal()); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = track
	s.pushLocked()
	return nil
}

func (s *pionSender) Parameters() domain.SendParameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	encodings := make([]domain.EncodingParameters, len(s.params.Encodings))
	copy(encodings, s.params.Encodings)
	return domain.SendParameters{Encodings: encodings}
}

// SetParameters records params and hands the encoding limits to the track's
// encoder. pion has no sender-side encoder to reconfigure.
func (s *pionSender) SetParameters(params domain.SendParameters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = params
	s.pushLocked()
	return nil
}

func (s *pionSender) SetFrameTransform(transform ports.FrameTransform) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transform = transform
	s.pushLocked()
}

func (s *pionSender) pushLocked() {
	if limiter, ok := s.track.(encodingLimiter); ok {
		var maxBitrate *uint64
		var maxFramerate *float64
		if len(s.params.Encodings) > 0 {
			maxBitrate = s.params.Encodings[0].MaxBitrate
			maxFramerate = s.params.Encodings[0].MaxFramerate
		}
		limiter.SetEncodingLimits(maxBitrate, maxFramerate)
	}
	if s.transform != nil {
		if t, ok := s.track.(ports.FrameTransformable); ok {
			t.SetFrameTransform(s.transform)
		}
	}
}

type pionReceiver struct {
	kind domain.MediaKind

	mu        sync.Mutex
	transform ports.FrameTransform
}

func (r *pionReceiver) Kind() domain.MediaKind { return r.kind }

func (r *pionReceiver) SetFrameTransform(transform ports.FrameTransform) {
	r.mu.Lock()
	r.transform = transform
	r.mu.Unlock()
}

func (r *pionReceiver) frameTransform() ports.FrameTransform {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transform
}
