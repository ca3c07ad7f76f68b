// Package signal is the WebSocket client for the media server's signaling
// endpoint.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

const sendBuffer = 32

// Client multiplexes request/response pairs and server pushes over one
// socket. The socket is owned by the client; Close releases it.
type Client struct {
	conn *websocket.Conn
	send chan []byte

	mu      sync.Mutex
	closed  bool
	pending map[string]chan Message

	onNotify func(Message)
	cancel   context.CancelFunc
	done     chan struct{}
}

// Dial connects to url. onNotify receives every server push on the read
// goroutine. pingPeriod of zero disables keepalive pings.
func Dial(ctx context.Context, url string, pingPeriod time.Duration, onNotify func(Message)) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return newClient(ws, pingPeriod, onNotify), nil
}

func newClient(ws *websocket.Conn, pingPeriod time.Duration, onNotify func(Message)) *Client {
	pumpCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:     ws,
		send:     make(chan []byte, sendBuffer),
		pending:  make(map[string]chan Message),
		onNotify: onNotify,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go c.writePump(pumpCtx, pingPeriod)
	go c.readPump(pumpCtx)
	log.Info().Str("module", "adapters.signal").Str("remote", ws.RemoteAddr().String()).Msg("signal connected")
	return c
}

func (c *Client) trySend(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

// Notify sends m without waiting for a reply.
func (c *Client) Notify(m Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", m.Type, err)
	}
	return c.trySend(b)
}

// Request sends m and waits for the reply with the same ID. A TypeError
// reply is returned as *RemoteError.
func (c *Client) Request(ctx context.Context, m Message) (Message, error) {
	m.ID = uuid.NewString()
	reply := make(chan Message, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Message{}, ErrClosed
	}
	c.pending[m.ID] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, m.ID)
		c.mu.Unlock()
	}()

	if err := c.Notify(m); err != nil {
		return Message{}, err
	}

	select {
	case resp := <-reply:
		if resp.Type == TypeError {
			return resp, &RemoteError{Code: resp.Code, Message: resp.Error}
		}
		return resp, nil
	case <-ctx.Done():
		return Message{}, fmt.Errorf("%s: %w", m.Type, ctx.Err())
	case <-c.done:
		return Message{}, ErrClosed
	}
}

// Done is closed once the socket is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cancel()
	close(c.done)
	_ = c.conn.Close()
	c.mu.Unlock()
	log.Info().Str("module", "adapters.signal").Msg("signal closed")
}

func (c *Client) dispatch(data []byte) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		log.Error().Err(err).Str("module", "adapters.signal").Msg("bad json")
		return
	}

	if m.ID != "" {
		c.mu.Lock()
		reply, ok := c.pending[m.ID]
		c.mu.Unlock()
		if ok {
			reply <- m
			return
		}
	}

	if c.onNotify != nil {
		c.onNotify(m)
	}
}
