package domain

import (
	"time"

	"github.com/google/uuid"
)

type ChatKind string

const (
	ChatSystem ChatKind = "system"
	ChatUser   ChatKind = "user"
)

type DeliveryStatus string

const (
	DeliveryNone    DeliveryStatus = ""
	DeliverySending DeliveryStatus = "sending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

type ChatMessage struct {
	ID         string         `json:"id"`
	Kind       ChatKind       `json:"kind"`
	SenderID   UserID         `json:"senderId,omitempty"`
	SenderName string         `json:"senderName,omitempty"`
	Text       string         `json:"text"`
	Timestamp  time.Time      `json:"timestamp"`
	Status     DeliveryStatus `json:"deliveryStatus,omitempty"`
}

func NewSystemMessage(text string, at time.Time) ChatMessage {
	return ChatMessage{ID: uuid.NewString(), Kind: ChatSystem, Text: text, Timestamp: at}
}

func NewUserMessage(from UserID, name, text string, at time.Time) ChatMessage {
	return ChatMessage{
		ID:         uuid.NewString(),
		Kind:       ChatUser,
		SenderID:   from,
		SenderName: name,
		Text:       text,
		Timestamp:  at,
	}
}
