// Package signaling encodes the application payloads we carry over the
// transport's out-of-band message channel.
package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/LiveSession/internal/domain"
)

type Type string

const (
	TypeUserInfo  Type = "user-info"
	TypeUserState Type = "user-state"
	TypeChat      Type = "chat"
)

// ErrUnknownType is returned for well-formed payloads of a type we do not
// handle. Callers ignore it.
var ErrUnknownType = errors.New("unknown signaling type")

// Message is one of UserInfo, UserState or Chat.
type Message interface {
	Type() Type
	Sender() domain.UserID
}

type UserInfo struct {
	UID  domain.UserID
	Name string
}

type UserState struct {
	UID      domain.UserID
	HasAudio bool
	HasVideo bool
}

type Chat struct {
	UID        domain.UserID
	SenderName string
	Text       string
}

func (UserInfo) Type() Type               { return TypeUserInfo }
func (m UserInfo) Sender() domain.UserID  { return m.UID }
func (UserState) Type() Type              { return TypeUserState }
func (m UserState) Sender() domain.UserID { return m.UID }
func (Chat) Type() Type                   { return TypeChat }
func (m Chat) Sender() domain.UserID      { return m.UID }

// wire mirrors the JSON document; pointers let us tell absent from zero.
type wire struct {
	Type       Type           `json:"type"`
	UID        *domain.UserID `json:"uid"`
	UserName   *string        `json:"userName,omitempty"`
	HasAudio   *bool          `json:"hasAudio,omitempty"`
	HasVideo   *bool          `json:"hasVideo,omitempty"`
	SenderName *string        `json:"senderName,omitempty"`
	Message    *string        `json:"message,omitempty"`
}

func Encode(m Message) ([]byte, error) {
	uid := m.Sender()
	w := wire{Type: m.Type(), UID: &uid}
	switch v := m.(type) {
	case UserInfo:
		w.UserName = &v.Name
	case UserState:
		w.HasAudio = &v.HasAudio
		w.HasVideo = &v.HasVideo
	case Chat:
		w.SenderName = &v.SenderName
		w.Message = &v.Text
	default:
		return nil, fmt.Errorf("encode %T: %w", m, ErrUnknownType)
	}
	return json.Marshal(w)
}

// Decode parses one payload. Malformed input wraps domain.ErrSignalingParse.
func Decode(data []byte) (Message, error) {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSignalingParse, err)
	}

	switch w.Type {
	case TypeUserInfo, TypeUserState, TypeChat:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, w.Type)
	}
	if w.UID == nil {
		return nil, fmt.Errorf("%w: %s without uid", domain.ErrSignalingParse, w.Type)
	}

	switch w.Type {
	case TypeUserInfo:
		if w.UserName == nil {
			return nil, fmt.Errorf("%w: user-info without userName", domain.ErrSignalingParse)
		}
		return UserInfo{UID: *w.UID, Name: *w.UserName}, nil
	case TypeUserState:
		return UserState{UID: *w.UID, HasAudio: deref(w.HasAudio), HasVideo: deref(w.HasVideo)}, nil
	default:
		if w.Message == nil {
			return nil, fmt.Errorf("%w: chat without message", domain.ErrSignalingParse)
		}
		name := ""
		if w.SenderName != nil {
			name = *w.SenderName
		}
		return Chat{UID: *w.UID, SenderName: name, Text: *w.Message}, nil
	}
}

func deref(b *bool) bool { return b != nil && *b }
