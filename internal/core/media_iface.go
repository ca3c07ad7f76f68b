package core

import (
	"context"

	"github.com/dkeye/LiveSession/internal/domain"
)

// LocalTrack is one captured local source.
type LocalTrack interface {
	ID() string
	Source() domain.Source
	Kind() domain.MediaKind
	// SetEnabled mutes or unmutes without releasing the device.
	SetEnabled(bool)
	Enabled() bool
	// OnEnded fires when the provider stops the track on its own,
	// e.g. the user ends a screen share from the OS.
	OnEnded(func())
	// Close releases the device.
	Close() error
}

// Devices acquires local capture tracks. Failures wrap
// domain.ErrPermissionDenied or domain.ErrDeviceUnavailable.
type Devices interface {
	Open(ctx context.Context, src domain.Source) (LocalTrack, error)
}

// Surfaces is the render handoff for subscribed remote media.
type Surfaces interface {
	Detach(uid domain.UserID)
	Clear()
}
