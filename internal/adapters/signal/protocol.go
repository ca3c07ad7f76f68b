package signal

import (
	"fmt"

	"github.com/dkeye/LiveSession/internal/domain"
)

// Message types on the signaling socket. Requests carry an ID and are
// answered with TypeOK, TypeError or TypeAnswer bearing the same ID;
// everything else is a server push.
const (
	TypeJoin      = "join"
	TypeLeave     = "leave"
	TypeOffer     = "offer"
	TypeAnswer    = "answer"
	TypePublish   = "publish"
	TypeUnpublish = "unpublish"
	TypeSubscribe = "subscribe"

	TypeOK    = "ok"
	TypeError = "error"

	TypeParticipantJoined = "participant_joined"
	TypeParticipantLeft   = "participant_left"
	TypeMediaPublished    = "media_published"
	TypeMediaUnpublished  = "media_unpublished"
)

// Error codes sent by the server.
const (
	CodeUIDInUse     = "uid_in_use"
	CodeBadToken     = "bad_token"
	CodeChannelFull  = "channel_full"
	CodeNotJoined    = "not_joined"
	CodeInternal     = "internal"
	CodeBadRequest   = "bad_request"
	CodeNoSuchMember = "no_such_member"
)

type Message struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	AppID   string           `json:"appId,omitempty"`
	Channel domain.ChannelID `json:"channel,omitempty"`
	Token   string           `json:"token,omitempty"`

	UID  domain.UserID    `json:"uid,omitempty"`
	UIDs []domain.UserID  `json:"uids,omitempty"`
	Kind domain.MediaKind `json:"kind,omitempty"`

	TrackID string `json:"trackId,omitempty"`
	SDP     string `json:"sdp,omitempty"`

	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// RemoteError is a TypeError reply.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("signal: %s", e.Code)
	}
	return fmt.Sprintf("signal: %s: %s", e.Code, e.Message)
}
