package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrChannelEmpty     = errors.New("channel id empty")
	ErrTokenEmpty       = errors.New("access token empty")
	ErrUIDZero          = errors.New("participant id must be non-zero")
	ErrDisplayNameEmpty = errors.New("display name empty")
)

type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateJoining
	StateJoined
	StateLeaving
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateJoining:
		return "Joining"
	case StateJoined:
		return "Joined"
	case StateLeaving:
		return "Leaving"
	case StateError:
		return "Error"
	}
	return "Unknown"
}

func (s ConnectionState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *ConnectionState) UnmarshalText(b []byte) error {
	for c := StateIdle; c <= StateError; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown connection state %q", b)
}

// Identity is what the session-metadata backend hands us and what we
// persist so a reload can rejoin silently.
type Identity struct {
	Channel     ChannelID `json:"channelId"`
	Token       string    `json:"accessToken"`
	UID         UserID    `json:"localParticipantId"`
	DisplayName string    `json:"localDisplayName"`
}

// Validate checks non-emptiness only; the values are opaque to us.
func (i Identity) Validate() error {
	var errs []error
	if strings.TrimSpace(string(i.Channel)) == "" {
		errs = append(errs, ErrChannelEmpty)
	}
	if i.Token == "" {
		errs = append(errs, ErrTokenEmpty)
	}
	if i.UID == 0 {
		errs = append(errs, ErrUIDZero)
	}
	if strings.TrimSpace(i.DisplayName) == "" {
		errs = append(errs, ErrDisplayNameEmpty)
	}
	return errors.Join(errs...)
}

type Session struct {
	Identity Identity
	State    ConnectionState
}
