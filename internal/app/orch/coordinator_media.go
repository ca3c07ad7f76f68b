package orch

import (
	"context"

	"github.com/dkeye/LiveSession/internal/domain"
)

// ToggleAudio mutes or unmutes the microphone.
func (c *Coordinator) ToggleAudio(ctx context.Context) (bool, error) {
	var on bool
	err := c.do(ctx, func() error {
		if err := c.requireJoined("toggle audio"); err != nil {
			return err
		}
		var err error
		if on, err = c.media.ToggleAudio(); err != nil {
			return err
		}
		c.mediaChanged(ctx)
		return nil
	})
	return on, err
}

// ToggleVideo turns the camera on or off. It fails with ConflictingSource
// while a screen share holds the video slot.
func (c *Coordinator) ToggleVideo(ctx context.Context, enable bool) error {
	return c.do(ctx, func() error {
		if err := c.requireJoined("toggle video"); err != nil {
			return err
		}
		if err := c.media.SetVideo(ctx, enable); err != nil {
			return err
		}
		c.mediaChanged(ctx)
		return nil
	})
}

func (c *Coordinator) StartScreenShare(ctx context.Context) error {
	return c.do(ctx, func() error {
		if err := c.requireJoined("start screen share"); err != nil {
			return err
		}
		if err := c.media.StartScreenShare(ctx); err != nil {
			return err
		}
		c.mediaChanged(ctx)
		return nil
	})
}

func (c *Coordinator) StopScreenShare(ctx context.Context) error {
	return c.do(ctx, func() error {
		if err := c.requireJoined("stop screen share"); err != nil {
			return err
		}
		err := c.media.StopScreenShare(ctx)
		// A failed camera restore still changed the state.
		c.mediaChanged(ctx)
		return err
	})
}

// onScreenEnded runs on the provider's goroutine.
func (c *Coordinator) onScreenEnded(trackID string) {
	c.queue(func() {
		if c.session.State != domain.StateJoined {
			return
		}
		ctx := context.Background()
		changed, err := c.media.ScreenEnded(ctx, trackID)
		if err != nil {
			c.logger.Warn().Err(err).Str("track", trackID).Msg("stop screen share after provider end")
		}
		if changed {
			c.mediaChanged(ctx)
		}
	})
}

// mediaChanged mirrors local media onto presence and tells everyone.
func (c *Coordinator) mediaChanged(ctx context.Context) {
	c.presence.SetLocalMedia(c.media.State())
	if err := c.presence.BroadcastState(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("broadcast user state")
	}
}
