// Package peer is the participant side of a call: it owns local media and
// one WebRTC connection, and turns signaling messages into negotiation steps.
package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/immxrtalbeast/mockmeet/internal/domain"
	"github.com/immxrtalbeast/mockmeet/lib/logger/sl"
)

var (
	ErrNegotiation = errors.New("negotiation failed")
	ErrClosed      = errors.New("peer connection manager is closed")
	ErrNoVideo     = errors.New("no outgoing video to replace")
	ErrScreenBusy  = errors.New("screen share change already in progress")
)

type State string

const (
	StateIdle           State = "idle"
	StateAcquiringMedia State = "acquiring-media"
	StateNegotiating    State = "negotiating"
	StateConnected      State = "connected"
	StateClosed         State = "closed"
)

// Signaler carries negotiation messages to the other participant.
type Signaler interface {
	Send(msg domain.SignalMessage) error
}

type RemoteTrack struct {
	Kind webrtc.RTPCodecType
	ID   string
}

// Manager drives one participant's media connection. All exported methods
// are safe for concurrent use.
type Manager struct {
	factory    ConnectionFactory
	devices    MediaDevices
	signal     Signaler
	iceServers []webrtc.ICEServer
	log        *slog.Logger

	mu          sync.Mutex
	pc          Connection
	local       *Stream
	screen      *Stream
	display     *Stream
	videoSender Sender
	pending     []webrtc.ICECandidateInit
	savedMic    bool
	savedCam    bool
	closed      bool
	// Set while a device prompt is open with mu released.
	acquiring  bool
	screenBusy bool

	stateMu  sync.Mutex
	state    State
	remote   []RemoteTrack
	onState  func(State)
	onRemote func(RemoteTrack)

	cleanupOnce sync.Once
}

func NewManager(factory ConnectionFactory, devices MediaDevices, signal Signaler, iceServers []webrtc.ICEServer, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		factory:    factory,
		devices:    devices,
		signal:     signal,
		iceServers: iceServers,
		log:        log,
		state:      StateIdle,
	}
}

func (m *Manager) State() State {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state
}

// OnStateChange registers fn to be called after every state transition.
func (m *Manager) OnStateChange(fn func(State)) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.onState = fn
}

func (m *Manager) OnRemoteTrack(fn func(RemoteTrack)) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.onRemote = fn
}

func (m *Manager) RemoteTracks() []RemoteTrack {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return append([]RemoteTrack(nil), m.remote...)
}

// leaveState moves from one state to another only if the manager is still in
// from.
func (m *Manager) leaveState(from, to State) {
	m.stateMu.Lock()
	current := m.state
	m.stateMu.Unlock()
	if current == from {
		m.setState(to)
	}
}

func (m *Manager) setState(s State) {
	m.stateMu.Lock()
	if m.state == s || m.state == StateClosed {
		m.stateMu.Unlock()
		return
	}
	m.state = s
	fn := m.onState
	m.stateMu.Unlock()

	m.log.Debug("peer state changed", slog.String("state", string(s)))
	if fn != nil {
		fn(s)
	}
}

// AcquireLocalMedia captures microphone and camera. On failure it returns nil
// and the manager stays idle; the call can still continue receive-only.
// Signaling is handled while the permission prompt is open. Tracks captured
// after a connection exists are sent from the next negotiation on.
func (m *Manager) AcquireLocalMedia(ctx context.Context) *Stream {
	const op = "peer.manager.acquireLocalMedia"
	log := m.log.With(slog.String("op", op))

	m.mu.Lock()
	if m.closed || m.acquiring {
		m.mu.Unlock()
		return nil
	}
	if m.local != nil {
		display := m.display
		m.mu.Unlock()
		return display
	}
	m.acquiring = true
	m.mu.Unlock()

	m.setState(StateAcquiringMedia)
	stream, err := m.devices.UserMedia(ctx, true, true)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquiring = false

	if m.closed {
		if stream != nil {
			stream.Stop()
		}
		return nil
	}
	if err != nil {
		log.Warn("local media unavailable, continuing receive-only", sl.Err(err))
		m.leaveState(StateAcquiringMedia, StateIdle)
		return nil
	}

	for _, t := range stream.Tracks() {
		t.SetEnabled(true)
	}
	m.local = stream
	m.display = stream
	if m.pc != nil {
		log.Debug("local media ready after negotiation started")
	}
	m.leaveState(StateAcquiringMedia, StateIdle)
	return stream
}

// LocalStream is what the participant sees of themselves: the camera, or the
// screen plus microphone while sharing.
func (m *Manager) LocalStream() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.display
}

// CreateOffer starts negotiation as the offering side and sends the offer.
func (m *Manager) CreateOffer(ctx context.Context) error {
	m.mu.Lock()
	offer, err := m.createOfferLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.send(domain.SignalMessage{Type: domain.SignalOffer, SDP: &offer})
}

func (m *Manager) createOfferLocked() (webrtc.SessionDescription, error) {
	if m.closed {
		return webrtc.SessionDescription{}, ErrClosed
	}
	if err := m.ensureConnectionLocked(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	m.setState(StateNegotiating)

	offer, err := m.pc.CreateOffer()
	if err != nil {
		return offer, m.negotiationError("create offer", err)
	}
	if err := m.pc.SetLocalDescription(offer); err != nil {
		return offer, m.negotiationError("set local offer", err)
	}
	return offer, nil
}

// HandleOffer answers a remote offer.
func (m *Manager) HandleOffer(ctx context.Context, offer webrtc.SessionDescription) error {
	m.mu.Lock()
	answer, err := m.handleOfferLocked(offer)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.send(domain.SignalMessage{Type: domain.SignalAnswer, SDP: &answer})
}

func (m *Manager) handleOfferLocked(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if m.closed {
		return webrtc.SessionDescription{}, ErrClosed
	}
	if err := m.ensureConnectionLocked(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	m.setState(StateNegotiating)

	if err := m.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, m.negotiationError("set remote offer", err)
	}
	m.flushPendingLocked()

	answer, err := m.pc.CreateAnswer()
	if err != nil {
		return answer, m.negotiationError("create answer", err)
	}
	if err := m.pc.SetLocalDescription(answer); err != nil {
		return answer, m.negotiationError("set local answer", err)
	}
	return answer, nil
}

// HandleAnswer completes negotiation on the offering side.
func (m *Manager) HandleAnswer(ctx context.Context, answer webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.pc == nil {
		return m.negotiationError("apply answer", errors.New("no offer in flight"))
	}
	if err := m.pc.SetRemoteDescription(answer); err != nil {
		return m.negotiationError("set remote answer", err)
	}
	m.flushPendingLocked()
	return nil
}

// HandleRemoteCandidate applies a candidate, or queues it until the remote
// description exists. Failures are logged only.
func (m *Manager) HandleRemoteCandidate(candidate webrtc.ICECandidateInit) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if m.pc == nil || !m.pc.HasRemoteDescription() {
		m.pending = append(m.pending, candidate)
		return
	}
	if err := m.pc.AddICECandidate(candidate); err != nil {
		m.log.Warn("failed to add remote candidate", sl.Err(err))
	}
}

// PendingCandidates reports how many candidates wait for a remote description.
func (m *Manager) PendingCandidates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Manager) flushPendingLocked() {
	pending := m.pending
	m.pending = nil
	for _, c := range pending {
		if err := m.pc.AddICECandidate(c); err != nil {
			m.log.Warn("failed to add queued candidate", sl.Err(err))
		}
	}
}

// ToggleMic flips the microphone and returns whether it is now enabled.
func (m *Manager) ToggleMic() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.local == nil || len(m.local.Audio) == 0 {
		return false
	}
	return toggle(m.local.Audio)
}

// ToggleCamera flips the camera and returns whether it is now enabled. While
// sharing the screen it flips the screen track instead.
func (m *Manager) ToggleCamera() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.screen != nil {
		return toggle(m.screen.Video)
	}
	if m.local == nil || len(m.local.Video) == 0 {
		return false
	}
	return toggle(m.local.Video)
}

func toggle(tracks []Track) bool {
	enabled := !tracks[0].Enabled()
	for _, t := range tracks {
		t.SetEnabled(enabled)
	}
	return enabled
}

// StartScreenShare replaces the outgoing camera track with a screen capture
// without renegotiating. When the share is stopped from outside the app the
// camera comes back on its own.
func (m *Manager) StartScreenShare(ctx context.Context) error {
	const op = "peer.manager.startScreenShare"

	m.mu.Lock()
	if err := m.canStartShareLocked(); err != nil || m.screen != nil {
		m.mu.Unlock()
		return err
	}
	m.screenBusy = true
	m.mu.Unlock()

	screen, err := m.devices.DisplayMedia(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.screenBusy = false

	if err != nil {
		m.log.Warn("screen capture unavailable", slog.String("op", op), sl.Err(err))
		return err
	}
	if err := m.canStartShareLocked(); err != nil {
		screen.Stop()
		return err
	}
	if len(screen.Video) == 0 {
		screen.Stop()
		return ErrNoVideo
	}
	screenTrack := screen.Video[0]

	if m.videoSender != nil {
		if err := m.videoSender.ReplaceTrack(screenTrack); err != nil {
			screen.Stop()
			m.log.Error("failed to swap in screen track", slog.String("op", op), sl.Err(err))
			return err
		}
	}

	m.savedMic = len(m.local.Audio) > 0 && m.local.Audio[0].Enabled()
	m.savedCam = m.local.Video[0].Enabled()
	for _, t := range m.local.Video {
		t.Stop()
	}

	m.screen = screen
	m.display = &Stream{Audio: m.local.Audio, Video: screen.Video}

	screenTrack.OnEnded(func() {
		if err := m.StopScreenShare(context.Background()); err != nil {
			m.log.Warn("failed to restore camera after share ended", slog.String("op", op), sl.Err(err))
		}
	})

	m.log.Info("screen share started")
	return nil
}

// StopScreenShare brings the camera back as the outgoing video and restores
// the mic and camera flags from before the share.
func (m *Manager) StopScreenShare(ctx context.Context) error {
	const op = "peer.manager.stopScreenShare"

	m.mu.Lock()
	if m.screen == nil || m.screenBusy {
		m.mu.Unlock()
		return nil
	}
	m.screenBusy = true
	m.mu.Unlock()

	camera, err := m.devices.UserMedia(ctx, false, true)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.screenBusy = false

	if m.closed || m.screen == nil {
		if camera != nil {
			camera.Stop()
		}
		return nil
	}
	screen := m.screen
	m.screen = nil
	defer screen.Stop()

	if err != nil || len(camera.Video) == 0 {
		m.log.Warn("camera unavailable after screen share", slog.String("op", op), sl.Err(err))
		if m.videoSender != nil {
			_ = m.videoSender.ReplaceTrack(nil)
		}
		m.local.Video = nil
		m.display = m.local
		return err
	}

	if m.videoSender != nil {
		if err := m.videoSender.ReplaceTrack(camera.Video[0]); err != nil {
			camera.Stop()
			m.log.Error("failed to swap camera back", slog.String("op", op), sl.Err(err))
			return err
		}
	}

	for _, t := range camera.Video {
		t.SetEnabled(m.savedCam)
	}
	for _, t := range m.local.Audio {
		t.SetEnabled(m.savedMic)
	}
	m.local.Video = camera.Video
	m.display = m.local

	m.log.Info("screen share stopped")
	return nil
}

func (m *Manager) canStartShareLocked() error {
	if m.closed {
		return ErrClosed
	}
	if m.screenBusy {
		return ErrScreenBusy
	}
	if m.local == nil || len(m.local.Video) == 0 {
		return ErrNoVideo
	}
	return nil
}

func (m *Manager) IsScreenSharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screen != nil
}

// ResetConnection drops the current connection but keeps local media, so the
// next negotiation starts from a fresh connection.
func (m *Manager) ResetConnection() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closeConnectionLocked()
	m.setState(StateIdle)
}

// Cleanup releases local media and the connection. It runs once; later calls
// do nothing.
func (m *Manager) Cleanup() {
	m.cleanupOnce.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		m.closed = true
		if m.screen != nil {
			m.screen.Stop()
			m.screen = nil
		}
		if m.local != nil {
			m.local.Stop()
			m.local = nil
		}
		m.display = nil
		m.closeConnectionLocked()
		m.setState(StateClosed)
		m.log.Info("peer connection cleaned up")
	})
}

func (m *Manager) closeConnectionLocked() {
	m.pending = nil
	m.videoSender = nil
	if m.pc != nil {
		if err := m.pc.Close(); err != nil {
			m.log.Warn("failed to close peer connection", sl.Err(err))
		}
		m.pc = nil
	}
	m.stateMu.Lock()
	m.remote = nil
	m.stateMu.Unlock()
}

func (m *Manager) ensureConnectionLocked() error {
	if m.pc != nil {
		return nil
	}

	pc, err := m.factory.NewConnection(webrtc.Configuration{ICEServers: m.iceServers})
	if err != nil {
		return m.negotiationError("create connection", err)
	}

	pc.OnICECandidate(func(c webrtc.ICECandidateInit) {
		if err := m.send(domain.SignalMessage{Type: domain.SignalICECandidate, Candidate: &c}); err != nil {
			m.log.Warn("failed to send local candidate", sl.Err(err))
		}
	})
	pc.OnTrack(func(kind webrtc.RTPCodecType, id string) {
		track := RemoteTrack{Kind: kind, ID: id}
		m.stateMu.Lock()
		m.remote = append(m.remote, track)
		fn := m.onRemote
		m.stateMu.Unlock()
		if fn != nil {
			fn(track)
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateConnected:
			m.setState(StateConnected)
		case webrtc.PeerConnectionStateFailed:
			m.log.Warn("peer connection failed")
		}
	})

	var hasAudio, hasVideo bool
	if m.local != nil {
		for _, t := range m.local.Audio {
			if _, err := pc.AddTrack(t); err != nil {
				_ = pc.Close()
				return m.negotiationError("add audio track", err)
			}
			hasAudio = true
		}
		video := m.local.Video
		if m.screen != nil {
			video = m.screen.Video
		}
		if len(video) > 0 {
			sender, err := pc.AddTrack(video[0])
			if err != nil {
				_ = pc.Close()
				return m.negotiationError("add video track", err)
			}
			m.videoSender = sender
			hasVideo = true
		}
	}
	if !hasAudio {
		if err := pc.AddRecvOnly(webrtc.RTPCodecTypeAudio); err != nil {
			_ = pc.Close()
			return m.negotiationError("add audio receiver", err)
		}
	}
	if !hasVideo {
		if err := pc.AddRecvOnly(webrtc.RTPCodecTypeVideo); err != nil {
			_ = pc.Close()
			return m.negotiationError("add video receiver", err)
		}
	}

	m.pc = pc
	return nil
}

func (m *Manager) send(msg domain.SignalMessage) error {
	if m.signal == nil {
		return nil
	}
	return m.signal.Send(msg)
}

func (m *Manager) negotiationError(step string, err error) error {
	m.log.Error("negotiation step failed", slog.String("step", step), sl.Err(err))
	return fmt.Errorf("%w: %s: %v", ErrNegotiation, step, err)
}
