package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/LiveSession/internal/core"
	"github.com/dkeye/LiveSession/internal/domain"
)

const opusFrame = 20 * time.Millisecond

// opusSilence is one 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Devices captures the microphone as Opus silence and the camera and
// screen from IVF files. The camera file loops; the screen file ends the
// share when it runs out, like a window being closed.
type Devices struct {
	CameraFile string
	ScreenFile string
}

func NewDevices(cameraFile, screenFile string) *Devices {
	return &Devices{CameraFile: cameraFile, ScreenFile: screenFile}
}

func (d *Devices) Open(ctx context.Context, src domain.Source) (core.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch src {
	case domain.SourceMicrophone:
		t, err := newLocalTrack(src, opusCodec)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrDeviceUnavailable, err)
		}
		t.start(feedSilence)
		return t, nil
	case domain.SourceCamera:
		return openIVF(src, d.CameraFile, true)
	case domain.SourceScreen:
		return openIVF(src, d.ScreenFile, false)
	}
	return nil, fmt.Errorf("open %s: %w", src, domain.ErrDeviceUnavailable)
}

func openIVF(src domain.Source, path string, loop bool) (*LocalTrack, error) {
	if path == "" {
		return nil, fmt.Errorf("open %s: no capture file: %w", src, domain.ErrDeviceUnavailable)
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("open %s: %w: %w", src, domain.ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("open %s: %w: %w", src, domain.ErrDeviceUnavailable, err)
	}

	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open %s: %w: %w", src, domain.ErrDeviceUnavailable, err)
	}

	codec := vp8Codec
	if header.FourCC == "VP90" {
		codec = vp9Codec
	}
	t, err := newLocalTrack(src, codec)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %w", domain.ErrDeviceUnavailable, err)
	}

	frame := time.Second / 30
	if header.TimebaseNumerator > 0 && header.TimebaseDenominator > 0 {
		frame = time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
	}

	t.start(func(ctx context.Context, t *LocalTrack) error {
		defer f.Close()
		return feedIVF(ctx, t, f, reader, frame, loop)
	})
	return t, nil
}

func feedSilence(ctx context.Context, t *LocalTrack) error {
	ticker := time.NewTicker(opusFrame)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := t.WriteSample(media.Sample{Data: opusSilence, Duration: opusFrame}); err != nil && !errors.Is(err, io.ErrClosedPipe) {
				return err
			}
		}
	}
}

func feedIVF(ctx context.Context, t *LocalTrack, f *os.File, reader *ivfreader.IVFReader, frame time.Duration, loop bool) error {
	ticker := time.NewTicker(frame)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		data, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if !loop {
				return nil
			}
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return err
			}
			if reader, _, err = ivfreader.NewWith(f); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		if err := t.WriteSample(media.Sample{Data: data, Duration: frame}); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			return err
		}
	}
}

func logTrackEnd(t *LocalTrack, err error) {
	ev := log.Info()
	if err != nil {
		ev = log.Warn().Err(err)
	}
	ev.Str("module", "adapters.rtc").Str("track_id", t.ID()).Stringer("source", t.source).Msg("capture ended")
}
