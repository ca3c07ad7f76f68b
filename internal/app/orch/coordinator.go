// Package orch wires the track controller, presence and chat onto one
// transport and runs them on a single logical thread.
package orch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/LiveSession/internal/app/chat"
	"github.com/dkeye/LiveSession/internal/app/media"
	"github.com/dkeye/LiveSession/internal/app/presence"
	"github.com/dkeye/LiveSession/internal/core"
	"github.com/dkeye/LiveSession/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrStopped = errors.New("coordinator stopped")

type Options struct {
	AppID            string
	JoinTimeout      time.Duration
	RebroadcastDelay time.Duration
	EventBuffer      int
	ChatRateLimit    int
	ChatRateInterval time.Duration
}

type Deps struct {
	Transport core.Transport
	Devices   core.Devices
	Store     core.IdentityStore
	// Surfaces is optional.
	Surfaces core.Surfaces
}

// View is a full snapshot for observers.
type View struct {
	State        domain.ConnectionState `json:"state"`
	ErrorKind    domain.ErrorKind       `json:"errorKind,omitempty"`
	Error        string                 `json:"error,omitempty"`
	Channel      domain.ChannelID       `json:"channel,omitempty"`
	LocalID      domain.UserID          `json:"localId,omitempty"`
	Participants []domain.Participant   `json:"participants"`
	Media        domain.LocalMediaState `json:"media"`
	Chat         []domain.ChatMessage   `json:"chat"`
	Unread       int                    `json:"unread"`
	ChatOpen     bool                   `json:"chatOpen"`
}

// Coordinator owns one session. Every mutation runs as a task on the loop
// started by Run; public methods post a task and wait for it.
type Coordinator struct {
	opts Options
	deps Deps

	media    *media.Controller
	presence *presence.Presence
	chat     *chat.Chat
	cleanup  *Cleanup

	inbox chan func()
	done  chan struct{}
	once  sync.Once

	// mailbox holds callback work. It is unbounded so a callback fired
	// on the loop itself never waits for the loop.
	mailMu  sync.Mutex
	mailbox []func()
	wake    chan struct{}

	// loop-owned
	session domain.Session
	lastErr error
	dirty   bool

	watchMu  sync.Mutex
	watchers map[int]chan View
	nextID   int

	logger zerolog.Logger
}

func New(opts Options, deps Deps) *Coordinator {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = 15 * time.Second
	}
	c := &Coordinator{
		opts:     opts,
		deps:     deps,
		inbox:    make(chan func(), opts.EventBuffer),
		done:     make(chan struct{}),
		wake:     make(chan struct{}, 1),
		watchers: make(map[int]chan View),
		logger:   log.With().Str("module", "app.orch").Logger(),
	}

	c.media = media.NewController(deps.Devices, deps.Transport)
	c.chat = chat.New(deps.Transport, chat.NewRateLimiter(opts.ChatRateLimit, opts.ChatRateInterval))
	c.presence = presence.New(deps.Transport, c.chat, c.after, opts.RebroadcastDelay)
	c.cleanup = c.newCleanup()

	c.media.OnScreenEnded(c.onScreenEnded)
	c.chat.OnChange(func() { c.dirty = true })
	c.presence.OnChange(func([]domain.Participant) { c.dirty = true })
	return c
}

// Run drains the inbox until ctx is done, then tears the session down.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info().Msg("coordinator loop started")
	defer c.once.Do(func() { close(c.done) })

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case <-c.wake:
			c.drainMailbox()
			c.publish()
		case task := <-c.inbox:
			// Callbacks that fired before this command was posted run first.
			c.drainMailbox()
			task()
			c.publish()
		}
	}
}

func (c *Coordinator) shutdown() {
	if c.session.State == domain.StateIdle {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.logger.Info().Str("state", c.session.State.String()).Msg("loop stopping, cleaning up")
	c.cleanup.Run(ctx)
	c.setState(domain.StateIdle)
}

// post enqueues a command. Callers must not be on the loop.
func (c *Coordinator) post(task func()) bool {
	select {
	case c.inbox <- task:
		return true
	case <-c.done:
		return false
	}
}

// queue schedules callback work on the loop without ever blocking. Safe
// to call from any goroutine, including the loop.
func (c *Coordinator) queue(fn func()) {
	c.mailMu.Lock()
	c.mailbox = append(c.mailbox, fn)
	c.mailMu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Coordinator) drainMailbox() {
	for {
		c.mailMu.Lock()
		work := c.mailbox
		c.mailbox = nil
		c.mailMu.Unlock()
		if len(work) == 0 {
			return
		}
		for _, fn := range work {
			fn()
		}
	}
}

// dropMailbox discards callback work belonging to a session being torn down.
func (c *Coordinator) dropMailbox() {
	c.mailMu.Lock()
	c.mailbox = nil
	c.mailMu.Unlock()
}

// do runs fn on the loop and waits for its result.
func (c *Coordinator) do(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	if !c.post(func() { res <- fn() }) {
		return ErrStopped
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
}

// after is the presence scheduler: fn runs on the loop once d has passed.
func (c *Coordinator) after(d time.Duration, fn func()) {
	time.AfterFunc(d, func() { c.queue(fn) })
}

func (c *Coordinator) setState(s domain.ConnectionState) {
	if c.session.State == s {
		return
	}
	c.logger.Info().
		Str("from", c.session.State.String()).
		Str("to", s.String()).
		Str("channel", string(c.session.Identity.Channel)).
		Msg("connection state")
	c.session.State = s
	c.dirty = true
}

func (c *Coordinator) fail(err error) error {
	c.lastErr = err
	c.setState(domain.StateError)
	return err
}

func (c *Coordinator) requireJoined(op string) error {
	if c.session.State != domain.StateJoined {
		return &StateError{Op: op, State: c.session.State}
	}
	return nil
}

// Snapshot returns the current view.
func (c *Coordinator) Snapshot(ctx context.Context) (View, error) {
	var v View
	err := c.do(ctx, func() error {
		v = c.view()
		return nil
	})
	return v, err
}

func (c *Coordinator) view() View {
	v := View{
		State:        c.session.State,
		Participants: c.presence.Participants(),
		Media:        c.media.State(),
		Chat:         c.chat.History(),
		Unread:       c.chat.Unread(),
		ChatOpen:     c.chat.PanelOpen(),
	}
	if c.session.State != domain.StateIdle {
		v.Channel = c.session.Identity.Channel
		v.LocalID = c.session.Identity.UID
	}
	if c.session.State == domain.StateError && c.lastErr != nil {
		v.ErrorKind = domain.KindOf(c.lastErr)
		v.Error = c.lastErr.Error()
	}
	return v
}

// Watch streams a view after every task that changed something. Slow
// watchers miss intermediate views; each view is a full snapshot.
func (c *Coordinator) Watch() (<-chan View, func()) {
	ch := make(chan View, 8)
	c.watchMu.Lock()
	id := c.nextID
	c.nextID++
	c.watchers[id] = ch
	c.watchMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.watchMu.Lock()
			delete(c.watchers, id)
			c.watchMu.Unlock()
		})
	}
}

func (c *Coordinator) publish() {
	if !c.dirty {
		return
	}
	c.dirty = false

	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	if len(c.watchers) == 0 {
		return
	}
	v := c.view()
	for id, ch := range c.watchers {
		select {
		case ch <- v:
		default:
			c.logger.Debug().Int("watcher", id).Msg("watcher behind, view dropped")
		}
	}
}
