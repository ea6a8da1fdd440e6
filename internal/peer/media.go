package peer

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

var ErrMediaDenied = errors.New("media capture denied")

// Track is a local capture track. Stop is app-initiated and never fires the
// OnEnded handlers; those only run when the source goes away on its own.
type Track interface {
	ID() string
	Kind() webrtc.RTPCodecType
	Enabled() bool
	SetEnabled(enabled bool)
	Stop()
	OnEnded(fn func())
	Local() webrtc.TrackLocal
}

// Stream groups the tracks of one capture.
type Stream struct {
	Audio []Track
	Video []Track
}

func (s *Stream) Tracks() []Track {
	if s == nil {
		return nil
	}
	tracks := make([]Track, 0, len(s.Audio)+len(s.Video))
	tracks = append(tracks, s.Audio...)
	return append(tracks, s.Video...)
}

func (s *Stream) Stop() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

type MediaDevices interface {
	UserMedia(ctx context.Context, audio, video bool) (*Stream, error)
	DisplayMedia(ctx context.Context) (*Stream, error)
}

// SampleTrack is a Track backed by a pion sample track. Samples written
// while the track is disabled or stopped are dropped.
type SampleTrack struct {
	track *webrtc.TrackLocalStaticSample
	kind  webrtc.RTPCodecType

	mu      sync.Mutex
	enabled bool
	stopped bool
	onEnded []func()
}

func NewSampleTrack(kind webrtc.RTPCodecType, streamID string) (*SampleTrack, error) {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if kind == webrtc.RTPCodecTypeVideo {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}

	track, err := webrtc.NewTrackLocalStaticSample(codec, uuid.NewString(), streamID)
	if err != nil {
		return nil, err
	}
	return &SampleTrack{track: track, kind: kind, enabled: true}, nil
}

func (t *SampleTrack) ID() string                { return t.track.ID() }
func (t *SampleTrack) Kind() webrtc.RTPCodecType { return t.kind }
func (t *SampleTrack) Local() webrtc.TrackLocal  { return t.track }

func (t *SampleTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *SampleTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *SampleTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *SampleTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.onEnded = nil
}

func (t *SampleTrack) OnEnded(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = append(t.onEnded, fn)
}

// End simulates the source going away (device unplugged, share stopped from
// the OS). Handlers run once, on the caller's goroutine.
func (t *SampleTrack) End() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	handlers := t.onEnded
	t.onEnded = nil
	t.mu.Unlock()

	for _, fn := range handlers {
		fn()
	}
}

func (t *SampleTrack) WriteSample(s media.Sample) error {
	t.mu.Lock()
	skip := !t.enabled || t.stopped
	t.mu.Unlock()
	if skip {
		return nil
	}
	return t.track.WriteSample(s)
}

// SyntheticDevices produces sample tracks without real hardware, for the
// headless client and tests.
type SyntheticDevices struct {
	// DenyUserMedia makes UserMedia fail like a refused permission prompt.
	DenyUserMedia bool
	// DenyDisplay makes DisplayMedia fail.
	DenyDisplay bool

	mu      sync.Mutex
	screens []*SampleTrack
}

func (d *SyntheticDevices) UserMedia(ctx context.Context, audio, video bool) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.DenyUserMedia {
		return nil, ErrMediaDenied
	}

	streamID := "camera-" + uuid.NewString()
	stream := &Stream{}
	if audio {
		t, err := NewSampleTrack(webrtc.RTPCodecTypeAudio, streamID)
		if err != nil {
			return nil, err
		}
		stream.Audio = append(stream.Audio, t)
	}
	if video {
		t, err := NewSampleTrack(webrtc.RTPCodecTypeVideo, streamID)
		if err != nil {
			return nil, err
		}
		stream.Video = append(stream.Video, t)
	}
	return stream, nil
}

func (d *SyntheticDevices) DisplayMedia(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.DenyDisplay {
		return nil, ErrMediaDenied
	}

	t, err := NewSampleTrack(webrtc.RTPCodecTypeVideo, "screen-"+uuid.NewString())
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.screens = append(d.screens, t)
	d.mu.Unlock()

	return &Stream{Video: []Track{t}}, nil
}

// LastScreen returns the most recent screen track handed out.
func (d *SyntheticDevices) LastScreen() *SampleTrack {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.screens) == 0 {
		return nil
	}
	return d.screens[len(d.screens)-1]
}
