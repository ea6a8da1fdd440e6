package peer

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/immxrtalbeast/mockmeet/internal/domain"
)

type fakeSender struct {
	mu       sync.Mutex
	track    Track
	failNext bool
}

func (s *fakeSender) Track() Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *fakeSender) ReplaceTrack(t Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return errors.New("replace failed")
	}
	s.track = t
	return nil
}

type fakeConnection struct {
	mu         sync.Mutex
	senders    []*fakeSender
	recvOnly   []webrtc.RTPCodecType
	remote     *webrtc.SessionDescription
	local      *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	failRemote bool
	closed     bool

	onCandidate func(webrtc.ICECandidateInit)
	onTrack     func(webrtc.RTPCodecType, string)
	onState     func(webrtc.PeerConnectionState)
}

func (c *fakeConnection) AddTrack(t Track) (Sender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &fakeSender{track: t}
	c.senders = append(c.senders, s)
	return s, nil
}

func (c *fakeConnection) AddRecvOnly(kind webrtc.RTPCodecType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recvOnly = append(c.recvOnly, kind)
	return nil
}

func (c *fakeConnection) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "fake-offer"}, nil
}

func (c *fakeConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "fake-answer"}, nil
}

func (c *fakeConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local = &desc
	return nil
}

func (c *fakeConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failRemote {
		return errors.New("malformed sdp")
	}
	c.remote = &desc
	return nil
}

func (c *fakeConnection) HasRemoteDescription() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote != nil
}

func (c *fakeConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates = append(c.candidates, candidate)
	return nil
}

func (c *fakeConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) { c.onCandidate = fn }
func (c *fakeConnection) OnTrack(fn func(webrtc.RTPCodecType, string))    { c.onTrack = fn }
func (c *fakeConnection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.onState = fn
}

func (c *fakeConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConnection) appliedCandidates() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.candidates))
	for _, cand := range c.candidates {
		out = append(out, cand.Candidate)
	}
	return out
}

func (c *fakeConnection) videoSender() *fakeSender {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.senders {
		if s.track != nil && s.track.Kind() == webrtc.RTPCodecTypeVideo {
			return s
		}
	}
	return nil
}

type fakeFactory struct {
	mu         sync.Mutex
	conns      []*fakeConnection
	failRemote bool
	failCreate bool
}

func (f *fakeFactory) NewConnection(webrtc.Configuration) (Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return nil, errors.New("no network")
	}
	c := &fakeConnection{failRemote: f.failRemote}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeFactory) last() *fakeConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

type fakeSignaler struct {
	mu   sync.Mutex
	sent []domain.SignalMessage
}

func (s *fakeSignaler) Send(msg domain.SignalMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSignaler) types() []domain.SignalType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SignalType, 0, len(s.sent))
	for _, m := range s.sent {
		out = append(out, m.Type)
	}
	return out
}

// fakeTransport feeds scripted server messages to a Call.
type fakeTransport struct {
	fakeSignaler
	incoming chan domain.SignalMessage
	closed   bool
}

func newFakeTransport(script ...domain.SignalMessage) *fakeTransport {
	t := &fakeTransport{incoming: make(chan domain.SignalMessage, len(script)+1)}
	for _, m := range script {
		t.incoming <- m
	}
	return t
}

func (t *fakeTransport) Receive(ctx context.Context) (domain.SignalMessage, error) {
	select {
	case m := <-t.incoming:
		return m, nil
	case <-ctx.Done():
		return domain.SignalMessage{}, ctx.Err()
	}
}

func (t *fakeTransport) Close() error {
	t.closed = true
	return nil
}

// gatedDevices holds every prompt open until release is closed.
type gatedDevices struct {
	SyntheticDevices
	opened  chan struct{}
	release chan struct{}
}

func newGatedDevices() *gatedDevices {
	return &gatedDevices{
		opened:  make(chan struct{}, 4),
		release: make(chan struct{}),
	}
}

func (d *gatedDevices) wait(ctx context.Context) error {
	d.opened <- struct{}{}
	select {
	case <-d.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *gatedDevices) UserMedia(ctx context.Context, audio, video bool) (*Stream, error) {
	if err := d.wait(ctx); err != nil {
		return nil, err
	}
	return d.SyntheticDevices.UserMedia(ctx, audio, video)
}

func (d *gatedDevices) DisplayMedia(ctx context.Context) (*Stream, error) {
	if err := d.wait(ctx); err != nil {
		return nil, err
	}
	return d.SyntheticDevices.DisplayMedia(ctx)
}
