package rtc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/dkeye/LiveSession/internal/domain"
)

const localStreamID = "livesession"

var (
	opusCodec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	vp8Codec  = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	vp9Codec  = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP9, ClockRate: 90000}
)

// LocalTrack is a captured source written sample by sample into a pion
// static track. A feeder goroutine owns the capture; Close stops it.
type LocalTrack struct {
	track   *webrtc.TrackLocalStaticSample
	source  domain.Source
	enabled atomic.Bool

	mu      sync.Mutex
	onEnded func()
	ended   bool
	closed  bool

	cancel context.CancelFunc
	done   chan struct{}
}

func newLocalTrack(src domain.Source, codec webrtc.RTPCodecCapability) (*LocalTrack, error) {
	id := fmt.Sprintf("%s-%s", src, uuid.NewString())
	st, err := webrtc.NewTrackLocalStaticSample(codec, id, localStreamID)
	if err != nil {
		return nil, fmt.Errorf("new %s track: %w", src, err)
	}
	t := &LocalTrack{track: st, source: src, done: make(chan struct{})}
	t.enabled.Store(true)
	return t, nil
}

func (t *LocalTrack) ID() string             { return t.track.ID() }
func (t *LocalTrack) Source() domain.Source  { return t.source }
func (t *LocalTrack) Kind() domain.MediaKind { return t.source.Kind() }
func (t *LocalTrack) SetEnabled(on bool)     { t.enabled.Store(on) }
func (t *LocalTrack) Enabled() bool          { return t.enabled.Load() }

// Local is the pion side handed to the peer connection.
func (t *LocalTrack) Local() webrtc.TrackLocal { return t.track }

// OnEnded registers fn; it runs at once if the capture already ended.
func (t *LocalTrack) OnEnded(fn func()) {
	t.mu.Lock()
	t.onEnded = fn
	fire := t.ended && !t.closed && fn != nil
	t.mu.Unlock()
	if fire {
		fn()
	}
}

// WriteSample forwards s unless the track is muted.
func (t *LocalTrack) WriteSample(s media.Sample) error {
	if !t.enabled.Load() {
		return nil
	}
	return t.track.WriteSample(s)
}

// start runs feed until it returns or the track is closed. A feeder that
// returns on its own ends the track.
func (t *LocalTrack) start(feed func(ctx context.Context, t *LocalTrack) error) {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	go func() {
		defer close(t.done)
		err := feed(ctx, t)
		if ctx.Err() != nil {
			return
		}
		logTrackEnd(t, err)
		t.end()
	}()
}

func (t *LocalTrack) end() {
	t.mu.Lock()
	if t.ended || t.closed {
		t.mu.Unlock()
		return
	}
	t.ended = true
	fn := t.onEnded
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Close stops the capture and waits for the feeder to exit.
func (t *LocalTrack) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	if t.cancel == nil {
		return nil
	}
	t.cancel()
	<-t.done
	return nil
}
