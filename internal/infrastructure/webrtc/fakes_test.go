package webrtc

import (
	"context"
	"errors"
	"sync"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"
	"rillcall/internal/infrastructure/media"
)

const fakeOfferSDP = "v=0\r\n" +
	"o=- 4611731400430051336 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:0\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n" +
	"a=fmtp:111 minptime=10;useinbandfec=1\r\n"

var errRejected = errors.New("rejected")

type fakeSender struct {
	mu        sync.Mutex
	kind      domain.MediaKind
	track     ports.LocalTrack
	params    domain.SendParameters
	transform ports.FrameTransform
	replaced  int
}

func (s *fakeSender) Kind() domain.MediaKind { return s.kind }

func (s *fakeSender) Track() ports.LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *fakeSender) ReplaceTrack(track ports.LocalTrack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = track
	s.replaced++
	return nil
}

func (s *fakeSender) Parameters() domain.SendParameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

func (s *fakeSender) SetParameters(params domain.SendParameters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = params
	return nil
}

func (s *fakeSender) SetFrameTransform(transform ports.FrameTransform) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transform = transform
}

// fakeReceiver stands in for a receiver created by a remote description.
type fakeReceiver struct {
	mu        sync.Mutex
	kind      domain.MediaKind
	transform ports.FrameTransform
}

func (r *fakeReceiver) Kind() domain.MediaKind { return r.kind }

func (r *fakeReceiver) SetFrameTransform(transform ports.FrameTransform) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transform = transform
}

func (r *fakeReceiver) frameTransform() ports.FrameTransform {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transform
}

type fakeConn struct {
	mu         sync.Mutex
	cfg        domain.ConnectionConfig
	senders    []ports.RTPSender
	receivers  []*fakeReceiver
	local      *domain.SessionDescriptor
	remote     *domain.SessionDescriptor
	applied    []domain.IceCandidateDescriptor
	reject     map[string]bool
	report     domain.StatsReport
	closed     bool
	onCand     func(domain.IceCandidateDescriptor)
	onStream   func(domain.RemoteStream)
	onState    func(domain.ConnectionState)
	removed    int
	transforms bool
}

func (c *fakeConn) AddTrack(track ports.LocalTrack, _ ports.MediaStream) (ports.RTPSender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sender := &fakeSender{
		kind:   track.Kind(),
		track:  track,
		params: domain.SendParameters{Encodings: []domain.EncodingParameters{{Active: true}}},
	}
	c.senders = append(c.senders, sender)
	return sender, nil
}

func (c *fakeConn) RemoveTrack(sender ports.RTPSender) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.senders {
		if s == sender {
			c.senders = append(c.senders[:i], c.senders[i+1:]...)
			c.removed++
			return nil
		}
	}
	return errRejected
}

func (c *fakeConn) Senders() []ports.RTPSender {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ports.RTPSender(nil), c.senders...)
}

func (c *fakeConn) Receivers() []ports.RTPReceiver {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ports.RTPReceiver, 0, len(c.receivers))
	for _, r := range c.receivers {
		out = append(out, r)
	}
	return out
}

func (c *fakeConn) CreateOffer(context.Context) (domain.SessionDescriptor, error) {
	return domain.SessionDescriptor{SDP: fakeOfferSDP, Type: domain.SDPTypeOffer}, nil
}

func (c *fakeConn) CreateAnswer(context.Context) (domain.SessionDescriptor, error) {
	return domain.SessionDescriptor{SDP: fakeOfferSDP, Type: domain.SDPTypeAnswer}, nil
}

func (c *fakeConn) SetLocalDescription(_ context.Context, desc domain.SessionDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local = &desc
	return nil
}

// SetRemoteDescription adds a video receiver, as an engine does for a remote
// m-line with no local counterpart.
func (c *fakeConn) SetRemoteDescription(_ context.Context, desc domain.SessionDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remote = &desc
	c.receivers = append(c.receivers, &fakeReceiver{kind: domain.MediaKindVideo})
	return nil
}

func (c *fakeConn) HasRemoteDescription() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote != nil
}

func (c *fakeConn) AddICECandidate(_ context.Context, cand domain.IceCandidateDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reject[cand.Candidate] {
		return errRejected
	}
	c.applied = append(c.applied, cand)
	return nil
}

func (c *fakeConn) GetStats(context.Context) (domain.StatsReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.report, nil
}

func (c *fakeConn) OnICECandidate(fn func(domain.IceCandidateDescriptor)) {
	c.mu.Lock()
	c.onCand = fn
	c.mu.Unlock()
}

func (c *fakeConn) OnRemoteStream(fn func(domain.RemoteStream)) {
	c.mu.Lock()
	c.onStream = fn
	c.mu.Unlock()
}

func (c *fakeConn) OnConnectionStateChange(fn func(domain.ConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) appliedCandidates() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.applied))
	for _, a := range c.applied {
		out = append(out, a.Candidate)
	}
	return out
}

func (c *fakeConn) localDescription() *domain.SessionDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

func (c *fakeConn) videoSenders() []*fakeSender {
	var out []*fakeSender
	for _, s := range c.Senders() {
		if s.Kind() == domain.MediaKindVideo {
			out = append(out, s.(*fakeSender))
		}
	}
	return out
}

func (c *fakeConn) emitStream(rs domain.RemoteStream) {
	c.mu.Lock()
	fn := c.onStream
	c.mu.Unlock()
	if fn != nil {
		fn(rs)
	}
}

func (c *fakeConn) emitCandidate(cand domain.IceCandidateDescriptor) {
	c.mu.Lock()
	fn := c.onCand
	c.mu.Unlock()
	if fn != nil {
		fn(cand)
	}
}

func (c *fakeConn) emitState(state domain.ConnectionState) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

type fakeFactory struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (f *fakeFactory) NewPeerConnection(cfg domain.ConnectionConfig) (ports.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conn := &fakeConn{cfg: cfg, reject: map[string]bool{}}
	f.conns = append(f.conns, conn)
	return conn, nil
}

func (f *fakeFactory) all() []*fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeConn(nil), f.conns...)
}

func (f *fakeFactory) last() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

// recordingDevices counts capture requests and keeps every track it handed out.
type recordingDevices struct {
	*media.Devices

	mu          sync.Mutex
	userMedia   []domain.MediaConstraints
	displayCall int
	tracks      []ports.LocalTrack
}

func newRecordingDevices(extra ...domain.DeviceInfo) *recordingDevices {
	inventory := append(media.DefaultDevices(), extra...)
	return &recordingDevices{Devices: media.NewDevices(inventory, nil)}
}

func (d *recordingDevices) GetUserMedia(ctx context.Context, constraints domain.MediaConstraints) (ports.MediaStream, error) {
	stream, err := d.Devices.GetUserMedia(ctx, constraints)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.userMedia = append(d.userMedia, constraints)
	if err == nil {
		d.tracks = append(d.tracks, stream.Tracks()...)
	}
	return stream, err
}

func (d *recordingDevices) GetDisplayMedia(ctx context.Context, constraints domain.DisplayConstraints) (ports.MediaStream, error) {
	stream, err := d.Devices.GetDisplayMedia(ctx, constraints)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.displayCall++
	if err == nil {
		d.tracks = append(d.tracks, stream.Tracks()...)
	}
	return stream, err
}

func (d *recordingDevices) userMediaCalls() []domain.MediaConstraints {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.MediaConstraints(nil), d.userMedia...)
}

func (d *recordingDevices) liveTracks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	live := 0
	for _, t := range d.tracks {
		if !t.Stopped() {
			live++
		}
	}
	return live
}

type fakeCryptor struct {
	mu     sync.Mutex
	key    []byte
	closed bool
}

func (c *fakeCryptor) Encrypt(frame []byte) []byte { return frame }
func (c *fakeCryptor) Decrypt(frame []byte) []byte { return frame }

func (c *fakeCryptor) SetKey(key []byte) error {
	if len(key) != 32 {
		return errRejected
	}
	c.mu.Lock()
	c.key = key
	c.mu.Unlock()
	return nil
}

func (c *fakeCryptor) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeCryptor) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func candidate(raw string) domain.IceCandidateDescriptor {
	mid := "0"
	var index uint16
	return domain.IceCandidateDescriptor{Candidate: raw, SDPMid: &mid, SDPMLineIndex: &index}
}

func answerFor() domain.SessionDescriptor {
	return domain.SessionDescriptor{SDP: fakeOfferSDP, Type: domain.SDPTypeAnswer}
}

func offerFor() domain.SessionDescriptor {
	return domain.SessionDescriptor{SDP: fakeOfferSDP, Type: domain.SDPTypeOffer}
}
