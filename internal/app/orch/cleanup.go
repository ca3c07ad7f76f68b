package orch

import (
	"context"

	"github.com/rs/zerolog"
)

type cleanupStep struct {
	name string
	run  func(ctx context.Context) error
}

// Cleanup tears a session down once. Steps run in order and a failing step
// never stops the ones after it.
type Cleanup struct {
	steps  []cleanupStep
	done   bool
	logger zerolog.Logger
}

func NewCleanup(logger zerolog.Logger, steps ...cleanupStep) *Cleanup {
	return &Cleanup{steps: steps, done: true, logger: logger}
}

func (c *Coordinator) newCleanup() *Cleanup {
	return NewCleanup(c.logger.With().Str("component", "cleanup").Logger(),
		cleanupStep{"release local tracks", c.media.ReleaseAll},
		cleanupStep{"leave transport", func(ctx context.Context) error {
			c.deps.Transport.OnEvent(nil)
			c.dropMailbox()
			return c.deps.Transport.Leave(ctx)
		}},
		cleanupStep{"clear participants", func(context.Context) error {
			c.presence.Clear()
			c.chat.Reset()
			return nil
		}},
		cleanupStep{"clear render surfaces", func(context.Context) error {
			if c.deps.Surfaces != nil {
				c.deps.Surfaces.Clear()
			}
			return nil
		}},
	)
}

// Arm marks that resources are being acquired again.
func (cl *Cleanup) Arm() { cl.done = false }

// Done reports whether there is nothing left to release.
func (cl *Cleanup) Done() bool { return cl.done }

// Run is a no-op until the next Arm.
func (cl *Cleanup) Run(ctx context.Context) {
	if cl.done {
		return
	}
	cl.done = true
	for _, s := range cl.steps {
		if err := s.run(ctx); err != nil {
			cl.logger.Error().Err(err).Str("step", s.name).Msg("cleanup step failed")
			continue
		}
		cl.logger.Debug().Str("step", s.name).Msg("cleanup step done")
	}
	cl.logger.Info().Msg("cleanup complete")
}
