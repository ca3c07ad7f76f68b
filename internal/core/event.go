package core

import "github.com/dkeye/LiveSession/internal/domain"

type EventKind int

const (
	EventParticipantJoined EventKind = iota + 1
	EventParticipantLeft
	EventMediaPublished
	EventMediaUnpublished
	EventMessage
	// EventDisconnected means the provider lost the session on its own.
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventParticipantJoined:
		return "participant-joined"
	case EventParticipantLeft:
		return "participant-left"
	case EventMediaPublished:
		return "media-published"
	case EventMediaUnpublished:
		return "media-unpublished"
	case EventMessage:
		return "out-of-band-message"
	case EventDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Event is everything the transport can tell us, as one enum.
// Media is set for publish events, Data for messages.
type Event struct {
	Kind  EventKind
	UID   domain.UserID
	Media domain.MediaKind
	Data  []byte
}
