// Package loopback is an in-memory transport and device set. It backs the
// offline demo mode and the tests; fault knobs let callers simulate a
// refusing provider.
package loopback

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/LiveSession/internal/core"
	"github.com/dkeye/LiveSession/internal/domain"
	"github.com/google/uuid"
)

// Track is a fake capture track. It counts closes so tests can assert that
// each device is released exactly once.
type Track struct {
	id      string
	source  domain.Source
	enabled atomic.Bool
	closes  atomic.Int32

	mu      sync.Mutex
	onEnded func()
}

func (t *Track) ID() string             { return t.id }
func (t *Track) Source() domain.Source  { return t.source }
func (t *Track) Kind() domain.MediaKind { return t.source.Kind() }
func (t *Track) SetEnabled(on bool)     { t.enabled.Store(on) }
func (t *Track) Enabled() bool          { return t.enabled.Load() }
func (t *Track) Closed() bool           { return t.closes.Load() > 0 }
func (t *Track) CloseCount() int        { return int(t.closes.Load()) }

func (t *Track) OnEnded(fn func()) {
	t.mu.Lock()
	t.onEnded = fn
	t.mu.Unlock()
}

func (t *Track) Close() error {
	t.closes.Add(1)
	return nil
}

// End simulates the provider stopping the track, e.g. "Stop sharing" in
// the OS picker.
func (t *Track) End() {
	t.mu.Lock()
	fn := t.onEnded
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type Devices struct {
	mu     sync.Mutex
	deny   map[domain.Source]error
	tracks []*Track
}

func NewDevices() *Devices {
	return &Devices{deny: make(map[domain.Source]error)}
}

// Fail makes Open(src) return err until cleared with Fail(src, nil).
func (d *Devices) Fail(src domain.Source, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.deny, src)
		return
	}
	d.deny[src] = err
}

func (d *Devices) Open(ctx context.Context, src domain.Source) (core.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.deny[src]; err != nil {
		return nil, fmt.Errorf("open %s: %w", src, err)
	}
	t := &Track{id: fmt.Sprintf("%s-%s", src, uuid.NewString()[:8]), source: src}
	t.enabled.Store(true)
	d.tracks = append(d.tracks, t)
	return t, nil
}

// Opened returns every track handed out so far.
func (d *Devices) Opened() []*Track {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Track(nil), d.tracks...)
}

// Live returns tracks that were opened and never closed.
func (d *Devices) Live() []*Track {
	var out []*Track
	for _, t := range d.Opened() {
		if !t.Closed() {
			out = append(out, t)
		}
	}
	return out
}

// Last returns the most recent track for src.
func (d *Devices) Last(src domain.Source) *Track {
	tracks := d.Opened()
	for i := len(tracks) - 1; i >= 0; i-- {
		if tracks[i].source == src {
			return tracks[i]
		}
	}
	return nil
}
