package orch

import (
	"context"

	"github.com/dkeye/LiveSession/internal/domain"
)

// SendMessage echoes text locally and broadcasts it. On failure the
// returned message is marked failed and can be retried by id.
func (c *Coordinator) SendMessage(ctx context.Context, text string) (domain.ChatMessage, error) {
	var msg domain.ChatMessage
	err := c.do(ctx, func() error {
		if err := c.requireJoined("send message"); err != nil {
			return err
		}
		var err error
		msg, err = c.chat.Send(ctx, text)
		return err
	})
	return msg, err
}

func (c *Coordinator) RetryMessage(ctx context.Context, id string) (domain.ChatMessage, error) {
	var msg domain.ChatMessage
	err := c.do(ctx, func() error {
		if err := c.requireJoined("retry message"); err != nil {
			return err
		}
		var err error
		msg, err = c.chat.Retry(ctx, id)
		return err
	})
	return msg, err
}

// SetChatOpen records whether the chat panel is visible.
func (c *Coordinator) SetChatOpen(ctx context.Context, open bool) error {
	return c.do(ctx, func() error {
		c.chat.SetPanelOpen(open)
		return nil
	})
}
