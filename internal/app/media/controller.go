// Package media owns the local microphone, camera and screen tracks.
package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/LiveSession/internal/core"
	"github.com/dkeye/LiveSession/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrNoAudioTrack = fmt.Errorf("%w: no audio track", domain.ErrInvalidState)

// Controller is not safe for concurrent use; the coordinator loop drives it.
type Controller struct {
	devices core.Devices
	pub     core.Publisher

	audio  core.LocalTrack
	camera core.LocalTrack
	screen core.LocalTrack

	state domain.LocalMediaState
	// cameraPref is what the user last asked the camera to be, kept while
	// screen sharing holds the video slot.
	cameraPref bool

	onScreenEnded func(trackID string)
	logger        zerolog.Logger
}

func NewController(devices core.Devices, pub core.Publisher) *Controller {
	return &Controller{
		devices: devices,
		pub:     pub,
		logger:  log.With().Str("module", "app.media").Logger(),
	}
}

// OnScreenEnded sets the hook fired when the provider ends the screen track.
// The hook runs on the provider's goroutine and must hand the id back through
// ScreenEnded on the owning loop.
func (c *Controller) OnScreenEnded(fn func(trackID string)) { c.onScreenEnded = fn }

func (c *Controller) State() domain.LocalMediaState { return c.state }

// Tracks returns the currently held tracks.
func (c *Controller) Tracks() []core.LocalTrack {
	out := make([]core.LocalTrack, 0, 3)
	for _, t := range []core.LocalTrack{c.audio, c.camera, c.screen} {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}

// AcquireAudio opens the microphone without publishing it.
func (c *Controller) AcquireAudio(ctx context.Context) error {
	if c.audio != nil {
		return nil
	}
	t, err := c.devices.Open(ctx, domain.SourceMicrophone)
	if err != nil {
		return fmt.Errorf("open microphone: %w", err)
	}
	c.audio = t
	c.logger.Info().Str("track", t.ID()).Msg("microphone acquired")
	return nil
}

func (c *Controller) PublishAudio(ctx context.Context) error {
	if c.audio == nil {
		return ErrNoAudioTrack
	}
	if err := c.pub.Publish(ctx, c.audio); err != nil {
		return fmt.Errorf("publish audio: %w", wrapTransport(err))
	}
	c.audio.SetEnabled(true)
	c.state.AudioEnabled = true
	return nil
}

// ToggleAudio flips the enabled flag on the existing track. The track is
// never recreated.
func (c *Controller) ToggleAudio() (bool, error) {
	if c.audio == nil {
		return false, ErrNoAudioTrack
	}
	on := !c.audio.Enabled()
	c.audio.SetEnabled(on)
	c.state.AudioEnabled = on
	c.logger.Info().Bool("enabled", on).Msg("audio toggled")
	return on, nil
}

// SetVideo enables or disables the camera.
func (c *Controller) SetVideo(ctx context.Context, enable bool) error {
	if !enable {
		if c.camera == nil {
			c.cameraPref = false
			c.state.VideoEnabled = false
			return nil
		}
		if err := c.pub.Unpublish(ctx, c.camera); err != nil {
			return fmt.Errorf("unpublish camera: %w", wrapTransport(err))
		}
		c.closeTrack(c.camera)
		c.camera = nil
		c.cameraPref = false
		c.state.VideoEnabled = false
		return nil
	}

	if c.state.ScreenSharing {
		return fmt.Errorf("camera while screen sharing: %w", domain.ErrConflictingSource)
	}
	if c.camera != nil && c.state.VideoEnabled {
		return nil
	}
	if err := c.enableCamera(ctx); err != nil {
		return err
	}
	c.cameraPref = true
	return nil
}

func (c *Controller) enableCamera(ctx context.Context) error {
	t, err := c.devices.Open(ctx, domain.SourceCamera)
	if err != nil {
		return fmt.Errorf("open camera: %w", err)
	}
	if err := c.pub.Publish(ctx, t); err != nil {
		c.closeTrack(t)
		return fmt.Errorf("publish camera: %w", wrapTransport(err))
	}
	// A leftover camera track would still hold the video slot.
	if stale := c.camera; stale != nil {
		if err := c.pub.Unpublish(ctx, stale); err != nil {
			c.logger.Warn().Err(err).Str("track", stale.ID()).Msg("unpublish stale camera")
		}
		c.closeTrack(stale)
	}
	c.camera = t
	c.state.VideoEnabled = true
	c.logger.Info().Str("track", t.ID()).Msg("camera published")
	return nil
}

// StartScreenShare takes over the video slot from the camera.
func (c *Controller) StartScreenShare(ctx context.Context) error {
	if c.state.ScreenSharing {
		return nil
	}
	t, err := c.devices.Open(ctx, domain.SourceScreen)
	if err != nil {
		return fmt.Errorf("open screen: %w", err)
	}

	cam := c.camera
	if cam != nil {
		if err := c.pub.Unpublish(ctx, cam); err != nil {
			c.closeTrack(t)
			return fmt.Errorf("unpublish camera: %w", wrapTransport(err))
		}
	}
	if err := c.pub.Publish(ctx, t); err != nil {
		c.closeTrack(t)
		if cam != nil {
			if rerr := c.pub.Publish(ctx, cam); rerr != nil {
				// Camera is gone from the wire; reflect that rather than lie.
				c.logger.Error().Err(rerr).Msg("republish camera after failed screen share")
				c.closeTrack(cam)
				c.camera = nil
				c.cameraPref = false
				c.state.VideoEnabled = false
			}
		}
		return fmt.Errorf("publish screen: %w", wrapTransport(err))
	}

	if cam != nil {
		c.closeTrack(cam)
		c.camera = nil
	}
	c.cameraPref = c.cameraPref || cam != nil
	c.screen = t
	c.state.ScreenSharing = true
	c.state.VideoEnabled = false

	t.OnEnded(func() {
		c.logger.Info().Str("track", t.ID()).Msg("screen track ended by provider")
		if c.onScreenEnded != nil {
			c.onScreenEnded(t.ID())
		}
	})
	c.logger.Info().Str("track", t.ID()).Bool("camera_pref", c.cameraPref).Msg("screen share started")
	return nil
}

// StopScreenShare releases the screen and restores the camera if the user
// had it on. A failed restore leaves the camera off and is returned.
func (c *Controller) StopScreenShare(ctx context.Context) error {
	if !c.state.ScreenSharing || c.screen == nil {
		return nil
	}
	if err := c.pub.Unpublish(ctx, c.screen); err != nil {
		return fmt.Errorf("unpublish screen: %w", wrapTransport(err))
	}
	c.closeTrack(c.screen)
	c.screen = nil
	c.state.ScreenSharing = false
	c.logger.Info().Bool("camera_pref", c.cameraPref).Msg("screen share stopped")

	if !c.cameraPref {
		return nil
	}
	if err := c.enableCamera(ctx); err != nil {
		c.cameraPref = false
		return fmt.Errorf("restore camera: %w", err)
	}
	return nil
}

// ScreenEnded stops sharing if trackID is still the active screen track.
// It reports whether anything changed.
func (c *Controller) ScreenEnded(ctx context.Context, trackID string) (bool, error) {
	if c.screen == nil || c.screen.ID() != trackID {
		return false, nil
	}
	return true, c.StopScreenShare(ctx)
}

// ReleaseAll unpublishes and closes every held track once. Errors are
// collected; every track is released regardless.
func (c *Controller) ReleaseAll(ctx context.Context) error {
	var errs []error
	for _, t := range c.Tracks() {
		if err := c.pub.Unpublish(ctx, t); err != nil {
			errs = append(errs, fmt.Errorf("unpublish %s: %w", t.Source(), err))
		}
		if err := t.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", t.Source(), err))
		}
	}
	c.audio, c.camera, c.screen = nil, nil, nil
	c.state = domain.LocalMediaState{}
	c.cameraPref = false
	return errors.Join(errs...)
}

func (c *Controller) closeTrack(t core.LocalTrack) {
	if err := t.Close(); err != nil {
		c.logger.Warn().Err(err).Str("track", t.ID()).Str("source", t.Source().String()).Msg("close track")
	}
}

// wrapTransport tags provider errors that are not already classified.
func wrapTransport(err error) error {
	if domain.KindOf(err) != domain.KindTransportFailure || errors.Is(err, domain.ErrTransportFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrTransportFailure, err)
}
