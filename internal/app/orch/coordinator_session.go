package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/LiveSession/internal/core"
	"github.com/dkeye/LiveSession/internal/domain"
)

// Join connects to the channel as id. It is valid only from Idle; a join
// queued behind another sees Joining or Joined and is rejected.
func (c *Coordinator) Join(ctx context.Context, id domain.Identity) error {
	return c.do(ctx, func() error { return c.join(ctx, id) })
}

func (c *Coordinator) join(ctx context.Context, id domain.Identity) error {
	if c.session.State != domain.StateIdle {
		return &StateError{Op: "join", State: c.session.State}
	}
	if err := id.Validate(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}

	logger := c.logger.With().
		Str("channel", string(id.Channel)).
		Stringer("uid", id.UID).
		Logger()

	c.lastErr = nil
	c.session = domain.Session{Identity: id}
	c.setState(domain.StateJoining)
	if err := c.deps.Store.Save(id); err != nil {
		logger.Warn().Err(err).Msg("persist identity")
	}

	joinCtx, cancel := context.WithTimeout(ctx, c.opts.JoinTimeout)
	defer cancel()

	// Nothing from an earlier attempt may survive into this one.
	c.cleanup.Run(joinCtx)
	c.cleanup.Arm()

	if err := c.media.AcquireAudio(joinCtx); err != nil {
		logger.Error().Err(err).Msg("join: microphone")
		c.cleanup.Run(ctx)
		return c.fail(c.classifyJoinErr(err))
	}

	err := c.deps.Transport.Join(joinCtx, c.opts.AppID, id.Channel, id.Token, id.UID)
	if errors.Is(err, core.ErrUIDInUse) {
		// Never retry under another uid: the user decides what to do.
		logger.Warn().Err(err).Msg("join: uid already in channel")
		if cerr := c.deps.Store.Clear(); cerr != nil {
			logger.Error().Err(cerr).Msg("clear persisted identity")
		}
		c.cleanup.Run(ctx)
		return c.fail(fmt.Errorf("join %s as %d: %w", id.Channel, id.UID, domain.ErrIdentityConflict))
	}
	if err != nil {
		logger.Error().Err(err).Msg("join: transport")
		c.cleanup.Run(ctx)
		return c.fail(c.classifyJoinErr(err))
	}

	if err := c.media.PublishAudio(joinCtx); err != nil {
		logger.Error().Err(err).Msg("join: publish audio")
		c.cleanup.Run(ctx)
		return c.fail(c.classifyJoinErr(err))
	}

	c.presence.SetLocal(id.UID, id.DisplayName, c.media.State())
	c.chat.SetLocal(id.UID, id.DisplayName)
	c.deps.Transport.OnEvent(c.onTransportEvent)
	c.setState(domain.StateJoined)
	logger.Info().Msg("joined")

	if err := c.presence.AnnounceSelf(ctx); err != nil {
		logger.Warn().Err(err).Msg("initial presence broadcast")
	}
	return nil
}

// classifyJoinErr keeps device kinds and folds everything else into
// TransportFailure.
func (c *Coordinator) classifyJoinErr(err error) error {
	switch domain.KindOf(err) {
	case domain.KindPermissionDenied, domain.KindDeviceUnavailable, domain.KindIdentityConflict:
		return err
	}
	if errors.Is(err, domain.ErrTransportFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrTransportFailure, err)
}

// Leave tears the session down and forgets the persisted identity.
func (c *Coordinator) Leave(ctx context.Context) error {
	return c.do(ctx, func() error {
		if err := c.requireJoined("leave"); err != nil {
			return err
		}
		c.setState(domain.StateLeaving)
		c.cleanup.Run(ctx)
		if err := c.deps.Store.Clear(); err != nil {
			c.logger.Error().Err(err).Msg("clear persisted identity")
		}
		c.session = domain.Session{}
		c.setState(domain.StateIdle)
		c.logger.Info().Msg("left")
		return nil
	})
}

// Reset is the return-to-setup action after a failed join.
func (c *Coordinator) Reset(ctx context.Context) error {
	return c.do(ctx, func() error {
		if c.session.State != domain.StateError {
			return &StateError{Op: "reset", State: c.session.State}
		}
		c.cleanup.Run(ctx)
		c.lastErr = nil
		c.session = domain.Session{}
		c.setState(domain.StateIdle)
		return nil
	})
}

// Resume rejoins with the persisted identity. It reports false when there
// was nothing to resume.
func (c *Coordinator) Resume(ctx context.Context) (bool, error) {
	id, ok, err := c.deps.Store.Load()
	if err != nil {
		return false, fmt.Errorf("load identity: %w", err)
	}
	if !ok {
		return false, nil
	}
	c.logger.Info().Str("channel", string(id.Channel)).Stringer("uid", id.UID).Msg("resuming persisted session")
	return true, c.Join(ctx, id)
}

// onTransportEvent runs on the provider's goroutine.
func (c *Coordinator) onTransportEvent(ev core.Event) {
	c.queue(func() {
		if c.session.State != domain.StateJoined {
			return
		}
		if ev.Kind == core.EventDisconnected {
			c.connectionLost()
			return
		}
		c.presence.Dispatch(context.Background(), ev)
	})
}

// connectionLost releases everything after the provider dropped us. The
// persisted identity is kept so Resume can rejoin.
func (c *Coordinator) connectionLost() {
	c.logger.Warn().Str("channel", string(c.session.Identity.Channel)).Msg("transport connection lost")
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.JoinTimeout)
	defer cancel()
	c.cleanup.Run(ctx)
	_ = c.fail(fmt.Errorf("connection lost: %w", domain.ErrTransportFailure))
}

// Teardown releases everything without forgetting the persisted identity,
// as when the hosting view goes away. Repeated calls are no-ops.
func (c *Coordinator) Teardown(ctx context.Context) error {
	return c.do(ctx, func() error {
		c.cleanup.Run(ctx)
		if c.session.State != domain.StateError {
			c.session = domain.Session{}
			c.setState(domain.StateIdle)
		}
		return nil
	})
}
