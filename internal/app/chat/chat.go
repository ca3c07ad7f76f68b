// Package chat layers user-facing text messages on the signaling channel.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/LiveSession/internal/app/signaling"
	"github.com/dkeye/LiveSession/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const MaxMessageLen = 2000

var (
	ErrEmptyMessage = fmt.Errorf("%w: empty chat message", domain.ErrInvalidInput)
	ErrTooLong      = fmt.Errorf("%w: chat message too long", domain.ErrInvalidInput)
	ErrNotFound     = fmt.Errorf("%w: no such chat message", domain.ErrInvalidInput)
	ErrNotRetryable = fmt.Errorf("%w: chat message is not failed", domain.ErrInvalidState)
)

// Sender is the out-of-band primitive of the transport.
type Sender interface {
	SendMessage(ctx context.Context, data []byte) error
}

// Chat keeps the live history. It is driven from the coordinator loop and is
// not safe for concurrent use.
type Chat struct {
	sender  Sender
	limiter *RateLimiter
	now     func() time.Time

	localID   domain.UserID
	localName string

	history   []domain.ChatMessage
	unread    int
	panelOpen bool

	onChange func()
	logger   zerolog.Logger
}

func New(sender Sender, limiter *RateLimiter) *Chat {
	return &Chat{
		sender:  sender,
		limiter: limiter,
		now:     time.Now,
		logger:  log.With().Str("module", "app.chat").Logger(),
	}
}

func (c *Chat) OnChange(fn func()) { c.onChange = fn }

// SetLocal records who we are for outgoing messages.
func (c *Chat) SetLocal(id domain.UserID, name string) {
	c.localID = id
	c.localName = name
}

// Send echoes the message locally before it goes out. The returned message
// carries the final delivery status; a send failure is also returned.
func (c *Chat) Send(ctx context.Context, text string) (domain.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ChatMessage{}, ErrEmptyMessage
	}
	if len(text) > MaxMessageLen {
		return domain.ChatMessage{}, ErrTooLong
	}

	msg := domain.NewUserMessage(c.localID, c.localName, text, c.now())
	msg.Status = domain.DeliverySending
	c.history = append(c.history, msg)
	c.changed()

	return c.deliver(ctx, len(c.history)-1)
}

// Retry resends a failed message in place.
func (c *Chat) Retry(ctx context.Context, id string) (domain.ChatMessage, error) {
	i := c.index(id)
	if i < 0 {
		return domain.ChatMessage{}, ErrNotFound
	}
	if c.history[i].Status != domain.DeliveryFailed {
		return c.history[i], ErrNotRetryable
	}
	c.history[i].Status = domain.DeliverySending
	c.changed()
	return c.deliver(ctx, i)
}

func (c *Chat) deliver(ctx context.Context, i int) (domain.ChatMessage, error) {
	msg := &c.history[i]
	data, err := signaling.Encode(signaling.Chat{UID: msg.SenderID, SenderName: msg.SenderName, Text: msg.Text})
	if err == nil {
		err = c.sender.SendMessage(ctx, data)
	}
	if err != nil {
		msg.Status = domain.DeliveryFailed
		c.changed()
		c.logger.Warn().Err(err).Str("id", msg.ID).Msg("chat send failed")
		return *msg, fmt.Errorf("send chat: %w: %w", domain.ErrTransportFailure, err)
	}
	msg.Status = domain.DeliverySent
	c.changed()
	return *msg, nil
}

// Receive appends a remote chat message.
func (c *Chat) Receive(m signaling.Chat) {
	if !c.limiter.Allow(m.UID) {
		c.logger.Warn().Stringer("uid", m.UID).Msg("chat rate limited, dropping")
		return
	}
	c.history = append(c.history, domain.NewUserMessage(m.UID, m.SenderName, m.Text, c.now()))
	if !c.panelOpen && m.UID != c.localID {
		c.unread++
	}
	c.changed()
}

// System appends a system notice such as "Bob joined".
func (c *Chat) System(text string) {
	c.history = append(c.history, domain.NewSystemMessage(text, c.now()))
	c.changed()
}

// Forget releases per-sender state when a participant leaves.
func (c *Chat) Forget(uid domain.UserID) { c.limiter.Forget(uid) }

// SetPanelOpen resets the unread counter on a closed to open transition.
func (c *Chat) SetPanelOpen(open bool) {
	if open && !c.panelOpen {
		c.unread = 0
	}
	c.panelOpen = open
	c.changed()
}

func (c *Chat) PanelOpen() bool { return c.panelOpen }
func (c *Chat) Unread() int     { return c.unread }

func (c *Chat) History() []domain.ChatMessage {
	return append([]domain.ChatMessage(nil), c.history...)
}

// Reset drops the live history; it is not kept beyond a session.
func (c *Chat) Reset() {
	c.history = nil
	c.unread = 0
	c.limiter.Reset()
	c.changed()
}

func (c *Chat) index(id string) int {
	for i := range c.history {
		if c.history[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *Chat) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}
