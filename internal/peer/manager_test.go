package peer

import (
	"context"
	"sync"
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/immxrtalbeast/mockmeet/internal/domain"
	"github.com/immxrtalbeast/mockmeet/lib/logger/slogdiscard"
)

type managerFixture struct {
	manager *Manager
	factory *fakeFactory
	devices *SyntheticDevices
	signal  *fakeSignaler
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	f := &managerFixture{
		factory: &fakeFactory{},
		devices: &SyntheticDevices{},
		signal:  &fakeSignaler{},
	}
	f.manager = NewManager(f.factory, f.devices, f.signal, DefaultICEServers(), slogdiscard.NewDiscardLogger())
	return f
}

func candidate(s string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: s}
}

func TestManager_MediaDeniedFallsBackToReceiveOnly(t *testing.T) {
	f := newManagerFixture(t)
	f.devices.DenyUserMedia = true

	var states []State
	f.manager.OnStateChange(func(s State) { states = append(states, s) })

	assert.Nil(t, f.manager.AcquireLocalMedia(context.Background()))
	assert.Equal(t, StateIdle, f.manager.State())
	assert.Equal(t, []State{StateAcquiringMedia, StateIdle}, states)

	require.NoError(t, f.manager.CreateOffer(context.Background()))

	conn := f.factory.last()
	require.NotNil(t, conn)
	assert.Empty(t, conn.senders)
	assert.ElementsMatch(t, []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo}, conn.recvOnly)
	assert.Equal(t, []domain.SignalType{domain.SignalOffer}, f.signal.types())
	assert.Equal(t, StateNegotiating, f.manager.State())
}

func TestManager_SendsLocalTracks(t *testing.T) {
	f := newManagerFixture(t)

	stream := f.manager.AcquireLocalMedia(context.Background())
	require.NotNil(t, stream)
	require.Len(t, stream.Audio, 1)
	require.Len(t, stream.Video, 1)

	require.NoError(t, f.manager.CreateOffer(context.Background()))
	conn := f.factory.last()
	assert.Len(t, conn.senders, 2)
	assert.Empty(t, conn.recvOnly)
	require.NotNil(t, conn.local)
	assert.Equal(t, webrtc.SDPTypeOffer, conn.local.Type)
}

func TestManager_CandidatesQueuedUntilRemoteDescription(t *testing.T) {
	f := newManagerFixture(t)

	f.manager.HandleRemoteCandidate(candidate("c1"))
	f.manager.HandleRemoteCandidate(candidate("c2"))
	assert.Equal(t, 2, f.manager.PendingCandidates())

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote-offer"}
	require.NoError(t, f.manager.HandleOffer(context.Background(), offer))

	conn := f.factory.last()
	assert.Equal(t, []string{"c1", "c2"}, conn.appliedCandidates())
	assert.Zero(t, f.manager.PendingCandidates())

	f.manager.HandleRemoteCandidate(candidate("c3"))
	assert.Equal(t, []string{"c1", "c2", "c3"}, conn.appliedCandidates())

	sent := f.signal.sent
	require.Len(t, sent, 1)
	assert.Equal(t, domain.SignalAnswer, sent[0].Type)
	require.NotNil(t, sent[0].SDP)
	assert.Equal(t, webrtc.SDPTypeAnswer, sent[0].SDP.Type)
}

func TestManager_CandidatesQueuedOnOfferingSide(t *testing.T) {
	f := newManagerFixture(t)
	f.manager.AcquireLocalMedia(context.Background())
	require.NoError(t, f.manager.CreateOffer(context.Background()))

	f.manager.HandleRemoteCandidate(candidate("early"))
	conn := f.factory.last()
	assert.Empty(t, conn.appliedCandidates())

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote-answer"}
	require.NoError(t, f.manager.HandleAnswer(context.Background(), answer))
	assert.Equal(t, []string{"early"}, conn.appliedCandidates())
}

func TestManager_NegotiationErrors(t *testing.T) {
	t.Run("answer without offer", func(t *testing.T) {
		f := newManagerFixture(t)
		err := f.manager.HandleAnswer(context.Background(), webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer})
		assert.ErrorIs(t, err, ErrNegotiation)
	})

	t.Run("bad remote description", func(t *testing.T) {
		f := newManagerFixture(t)
		f.factory.failRemote = true
		err := f.manager.HandleOffer(context.Background(), webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "garbage"})
		assert.ErrorIs(t, err, ErrNegotiation)
		assert.Empty(t, f.signal.sent)
	})

	t.Run("connection cannot be created", func(t *testing.T) {
		f := newManagerFixture(t)
		f.factory.failCreate = true
		assert.ErrorIs(t, f.manager.CreateOffer(context.Background()), ErrNegotiation)
	})
}

func TestManager_Toggles(t *testing.T) {
	f := newManagerFixture(t)

	assert.False(t, f.manager.ToggleMic())
	assert.False(t, f.manager.ToggleCamera())

	stream := f.manager.AcquireLocalMedia(context.Background())
	require.NotNil(t, stream)

	assert.False(t, f.manager.ToggleMic())
	assert.False(t, stream.Audio[0].Enabled())
	assert.True(t, f.manager.ToggleMic())
	assert.True(t, stream.Audio[0].Enabled())

	assert.False(t, f.manager.ToggleCamera())
	assert.False(t, stream.Video[0].Enabled())
}

func TestManager_ScreenShare(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	stream := f.manager.AcquireLocalMedia(ctx)
	require.NotNil(t, stream)
	camera := stream.Video[0].(*SampleTrack)
	require.NoError(t, f.manager.CreateOffer(ctx))
	sender := f.factory.last().videoSender()
	require.NotNil(t, sender)

	assert.False(t, f.manager.ToggleMic())

	require.NoError(t, f.manager.StartScreenShare(ctx))
	assert.True(t, f.manager.IsScreenSharing())

	screen := f.devices.LastScreen()
	require.NotNil(t, screen)
	assert.Equal(t, screen.ID(), sender.Track().ID())
	assert.True(t, camera.Stopped())
	assert.Equal(t, screen.ID(), f.manager.LocalStream().Video[0].ID())
	assert.Len(t, f.manager.LocalStream().Audio, 1)

	assert.True(t, f.manager.ToggleMic())

	// Sharing stopped from outside the app.
	screen.End()

	assert.False(t, f.manager.IsScreenSharing())
	restored := sender.Track()
	require.NotNil(t, restored)
	assert.Equal(t, webrtc.RTPCodecTypeVideo, restored.Kind())
	assert.NotEqual(t, screen.ID(), restored.ID())
	assert.NotEqual(t, camera.ID(), restored.ID())
	assert.True(t, restored.Enabled())

	local := f.manager.LocalStream()
	assert.False(t, local.Audio[0].Enabled())
	assert.Equal(t, restored.ID(), local.Video[0].ID())

	assert.Equal(t, 1, f.factory.count())
}

func TestManager_ScreenShareStoppedByApp(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	f.manager.AcquireLocalMedia(ctx)
	require.NoError(t, f.manager.CreateOffer(ctx))

	require.NoError(t, f.manager.StartScreenShare(ctx))
	screen := f.devices.LastScreen()
	require.NoError(t, f.manager.StopScreenShare(ctx))

	assert.True(t, screen.Stopped())
	assert.False(t, f.manager.IsScreenSharing())
	require.NoError(t, f.manager.StopScreenShare(ctx))
}

func TestManager_ScreenShareRefused(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.manager.StartScreenShare(ctx), ErrNoVideo)

	f.manager.AcquireLocalMedia(ctx)
	f.devices.DenyDisplay = true
	assert.ErrorIs(t, f.manager.StartScreenShare(ctx), ErrMediaDenied)
	assert.False(t, f.manager.IsScreenSharing())

	f.devices.DenyDisplay = false
	require.NoError(t, f.manager.CreateOffer(ctx))
	sender := f.factory.last().videoSender()
	camera := sender.Track()
	sender.failNext = true

	require.Error(t, f.manager.StartScreenShare(ctx))
	assert.False(t, f.manager.IsScreenSharing())
	assert.True(t, f.devices.LastScreen().Stopped())
	assert.Equal(t, camera.ID(), sender.Track().ID())
	assert.True(t, camera.Enabled())
}

func TestManager_ConnectionCallbacks(t *testing.T) {
	f := newManagerFixture(t)
	f.manager.AcquireLocalMedia(context.Background())

	var mu sync.Mutex
	var got []RemoteTrack
	f.manager.OnRemoteTrack(func(rt RemoteTrack) {
		mu.Lock()
		got = append(got, rt)
		mu.Unlock()
	})

	require.NoError(t, f.manager.CreateOffer(context.Background()))
	conn := f.factory.last()

	conn.onCandidate(candidate("local-1"))
	sent := f.signal.sent
	require.Len(t, sent, 2)
	assert.Equal(t, domain.SignalICECandidate, sent[1].Type)
	assert.Equal(t, "local-1", sent[1].Candidate.Candidate)

	conn.onTrack(webrtc.RTPCodecTypeVideo, "remote-video")
	assert.Equal(t, []RemoteTrack{{Kind: webrtc.RTPCodecTypeVideo, ID: "remote-video"}}, f.manager.RemoteTracks())
	assert.Len(t, got, 1)

	conn.onState(webrtc.PeerConnectionStateConnected)
	assert.Equal(t, StateConnected, f.manager.State())
}

func TestManager_ResetConnection(t *testing.T) {
	f := newManagerFixture(t)
	stream := f.manager.AcquireLocalMedia(context.Background())
	require.NoError(t, f.manager.CreateOffer(context.Background()))
	first := f.factory.last()
	first.onTrack(webrtc.RTPCodecTypeAudio, "a")

	f.manager.ResetConnection()
	assert.True(t, first.closed)
	assert.Equal(t, StateIdle, f.manager.State())
	assert.Empty(t, f.manager.RemoteTracks())
	assert.True(t, stream.Audio[0].Enabled())

	require.NoError(t, f.manager.CreateOffer(context.Background()))
	assert.Equal(t, 2, f.factory.count())
	assert.Len(t, f.factory.last().senders, 2)
}

func TestManager_CleanupOnce(t *testing.T) {
	f := newManagerFixture(t)
	stream := f.manager.AcquireLocalMedia(context.Background())
	require.NoError(t, f.manager.CreateOffer(context.Background()))
	conn := f.factory.last()

	closedCount := 0
	f.manager.OnStateChange(func(s State) {
		if s == StateClosed {
			closedCount++
		}
	})

	f.manager.Cleanup()
	f.manager.Cleanup()

	assert.Equal(t, 1, closedCount)
	assert.Equal(t, StateClosed, f.manager.State())
	assert.True(t, conn.closed)
	for _, tr := range stream.Tracks() {
		assert.True(t, tr.(*SampleTrack).Stopped())
	}

	assert.ErrorIs(t, f.manager.CreateOffer(context.Background()), ErrClosed)
	assert.ErrorIs(t, f.manager.HandleAnswer(context.Background(), webrtc.SessionDescription{}), ErrClosed)
	assert.ErrorIs(t, f.manager.StartScreenShare(context.Background()), ErrClosed)
	assert.Nil(t, f.manager.AcquireLocalMedia(context.Background()))

	f.manager.ResetConnection()
	assert.Equal(t, StateClosed, f.manager.State())
}

func TestManager_SignalingWhileMediaPromptOpen(t *testing.T) {
	ctx := context.Background()
	devices := newGatedDevices()
	factory := &fakeFactory{}
	signal := &fakeSignaler{}
	manager := NewManager(factory, devices, signal, DefaultICEServers(), slogdiscard.NewDiscardLogger())

	acquired := make(chan *Stream, 1)
	go func() { acquired <- manager.AcquireLocalMedia(ctx) }()
	<-devices.opened
	assert.Equal(t, StateAcquiringMedia, manager.State())

	manager.HandleRemoteCandidate(candidate("c1"))
	require.NoError(t, manager.HandleOffer(ctx, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote-offer"}))
	assert.Equal(t, []string{"c1"}, factory.last().appliedCandidates())
	assert.Equal(t, []domain.SignalType{domain.SignalAnswer}, signal.types())

	close(devices.release)
	stream := <-acquired
	require.NotNil(t, stream)
	assert.Equal(t, StateNegotiating, manager.State())
	assert.Same(t, stream, manager.LocalStream())
}

func TestManager_CleanupWhileScreenPickerOpen(t *testing.T) {
	ctx := context.Background()
	devices := newGatedDevices()
	factory := &fakeFactory{}
	manager := NewManager(factory, devices, &fakeSignaler{}, DefaultICEServers(), slogdiscard.NewDiscardLogger())

	close(devices.release)
	stream := manager.AcquireLocalMedia(ctx)
	require.NotNil(t, stream)
	<-devices.opened
	require.NoError(t, manager.CreateOffer(ctx))
	devices.release = make(chan struct{})

	shared := make(chan error, 1)
	go func() { shared <- manager.StartScreenShare(ctx) }()
	<-devices.opened

	assert.ErrorIs(t, manager.StartScreenShare(ctx), ErrScreenBusy)
	manager.HandleRemoteCandidate(candidate("early"))
	assert.Equal(t, 1, manager.PendingCandidates())

	manager.Cleanup()
	assert.Equal(t, StateClosed, manager.State())
	assert.True(t, factory.last().closed)

	close(devices.release)
	assert.ErrorIs(t, <-shared, ErrClosed)
	screen := devices.LastScreen()
	require.NotNil(t, screen)
	assert.True(t, screen.Stopped())
	assert.False(t, manager.IsScreenSharing())
}

type captureSignaler struct {
	mu   sync.Mutex
	msgs []domain.SignalMessage
}

func (s *captureSignaler) Send(msg domain.SignalMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *captureSignaler) first(typ domain.SignalType) *domain.SignalMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.msgs {
		if s.msgs[i].Type == typ {
			return &s.msgs[i]
		}
	}
	return nil
}

func TestManager_PionNegotiation(t *testing.T) {
	log := slogdiscard.NewDiscardLogger()
	factory, err := NewPionFactory(log)
	require.NoError(t, err)
	ctx := context.Background()

	hostSignal := &captureSignaler{}
	host := NewManager(factory, &SyntheticDevices{}, hostSignal, nil, log)
	defer host.Cleanup()

	guestSignal := &captureSignaler{}
	guest := NewManager(factory, &SyntheticDevices{DenyUserMedia: true}, guestSignal, nil, log)
	defer guest.Cleanup()

	require.NotNil(t, host.AcquireLocalMedia(ctx))
	require.Nil(t, guest.AcquireLocalMedia(ctx))

	require.NoError(t, host.CreateOffer(ctx))
	offer := hostSignal.first(domain.SignalOffer)
	require.NotNil(t, offer)
	require.NotNil(t, offer.SDP)
	assert.Contains(t, offer.SDP.SDP, "m=audio")
	assert.Contains(t, offer.SDP.SDP, "m=video")

	require.NoError(t, guest.HandleOffer(ctx, *offer.SDP))
	answer := guestSignal.first(domain.SignalAnswer)
	require.NotNil(t, answer)
	require.NotNil(t, answer.SDP)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.SDP.Type)
	assert.Contains(t, answer.SDP.SDP, "a=recvonly")

	require.NoError(t, host.HandleAnswer(ctx, *answer.SDP))
}
