// Package domain contains entities without transport logic, just meta-data
package domain

import (
	"fmt"
	"strconv"
)

// UserID is the numeric participant id the transport knows us by.
type UserID uint32

func (id UserID) String() string { return strconv.FormatUint(uint64(id), 10) }

type ChannelID string

type Participant struct {
	ID          UserID `json:"id"`
	DisplayName string `json:"displayName"`
	HasAudio    bool   `json:"hasAudio"`
	HasVideo    bool   `json:"hasVideo"`
	IsLocal     bool   `json:"isLocal"`
	IsOnline    bool   `json:"isOnline"`
}

// DefaultDisplayName is used until a user-info message tells us better.
func DefaultDisplayName(id UserID) string {
	return fmt.Sprintf("User %d", id)
}

// NewRemoteParticipant avoids raw literals in the presence layer.
func NewRemoteParticipant(id UserID) *Participant {
	return &Participant{ID: id, DisplayName: DefaultDisplayName(id), IsOnline: true}
}

// SetMedia flips the flag for one media kind only.
func (p *Participant) SetMedia(kind MediaKind, on bool) {
	switch kind {
	case KindAudio:
		p.HasAudio = on
	case KindVideo:
		p.HasVideo = on
	}
}
