package peer

import (
	"log/slog"

	"github.com/pion/webrtc/v3"
)

// Sender is the outgoing side of one media line.
type Sender interface {
	Track() Track
	ReplaceTrack(t Track) error
}

// Connection is the slice of an RTCPeerConnection the Manager drives.
type Connection interface {
	AddTrack(t Track) (Sender, error)
	AddRecvOnly(kind webrtc.RTPCodecType) error
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	HasRemoteDescription() bool
	AddICECandidate(c webrtc.ICECandidateInit) error
	OnICECandidate(fn func(c webrtc.ICECandidateInit))
	OnTrack(fn func(kind webrtc.RTPCodecType, trackID string))
	OnConnectionStateChange(fn func(state webrtc.PeerConnectionState))
	Close() error
}

type ConnectionFactory interface {
	NewConnection(cfg webrtc.Configuration) (Connection, error)
}

// PionFactory creates pion peer connections whose internal logs go to slog.
type PionFactory struct {
	api *webrtc.API
}

func NewPionFactory(log *slog.Logger) (*PionFactory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{}
	se.LoggerFactory = NewLoggerFactory(log)

	return &PionFactory{
		api: webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se)),
	}, nil
}

func (f *PionFactory) NewConnection(cfg webrtc.Configuration) (Connection, error) {
	pc, err := f.api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &pionConnection{pc: pc}, nil
}

type pionConnection struct {
	pc *webrtc.PeerConnection
}

func (c *pionConnection) AddTrack(t Track) (Sender, error) {
	sender, err := c.pc.AddTrack(t.Local())
	if err != nil {
		return nil, err
	}

	// RTCP has to be read for interceptors to work.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	return &pionSender{sender: sender, track: t}, nil
}

func (c *pionConnection) AddRecvOnly(kind webrtc.RTPCodecType) error {
	_, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	return err
}

func (c *pionConnection) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *pionConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *pionConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *pionConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *pionConnection) HasRemoteDescription() bool {
	return c.pc.RemoteDescription() != nil
}

func (c *pionConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(candidate)
}

func (c *pionConnection) OnICECandidate(fn func(c webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		fn(candidate.ToJSON())
	})
}

func (c *pionConnection) OnTrack(fn func(kind webrtc.RTPCodecType, trackID string)) {
	c.pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(remote.Kind(), remote.ID())
		buf := make([]byte, 1500)
		for {
			if _, _, err := remote.Read(buf); err != nil {
				return
			}
		}
	})
}

func (c *pionConnection) OnConnectionStateChange(fn func(state webrtc.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(fn)
}

func (c *pionConnection) Close() error {
	return c.pc.Close()
}

type pionSender struct {
	sender *webrtc.RTPSender
	track  Track
}

func (s *pionSender) Track() Track {
	return s.track
}

func (s *pionSender) ReplaceTrack(t Track) error {
	var local webrtc.TrackLocal
	if t != nil {
		local = t.Local()
	}
	if err := s.sender.ReplaceTrack(local); err != nil {
		return err
	}
	s.track = t
	return nil
}
