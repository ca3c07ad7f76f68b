package core

import (
	"context"
	"errors"

	"github.com/dkeye/LiveSession/internal/domain"
)

// ErrUIDInUse is returned by Transport.Join when the requested uid is
// already active in the channel.
var ErrUIDInUse = errors.New("uid already in channel")

// Transport abstracts the real-time media provider.
// It is the only collaborator that talks to the network.
type Transport interface {
	Join(ctx context.Context, appID string, channel domain.ChannelID, token string, uid domain.UserID) error
	Leave(ctx context.Context) error

	Publish(ctx context.Context, track LocalTrack) error
	Unpublish(ctx context.Context, track LocalTrack) error
	Subscribe(ctx context.Context, uid domain.UserID, kind domain.MediaKind) error

	// SendMessage is unordered and best-effort.
	SendMessage(ctx context.Context, data []byte) error

	// OnEvent installs the single inbound callback; nil detaches it.
	// Implementations may invoke it from any goroutine.
	OnEvent(func(Event))
}

// Publisher is the slice of Transport the track controller needs.
type Publisher interface {
	Publish(ctx context.Context, track LocalTrack) error
	Unpublish(ctx context.Context, track LocalTrack) error
}
