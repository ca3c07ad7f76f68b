package loopback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/LiveSession/internal/core"
	"github.com/dkeye/LiveSession/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrNotJoined = errors.New("loopback: not joined")

// Subscription records one Subscribe call.
type Subscription struct {
	UID  domain.UserID
	Kind domain.MediaKind
}

// Transport is an in-memory core.Transport. Remote activity is injected
// with Emit; everything we send is recorded.
type Transport struct {
	mu sync.Mutex

	occupied map[domain.UserID]bool
	failures map[string]error

	joined    bool
	channel   domain.ChannelID
	uid       domain.UserID
	published map[string]core.LocalTrack
	sent      [][]byte
	subs      []Subscription
	joins     int
	leaves    int

	handler func(core.Event)
}

func NewTransport() *Transport {
	return &Transport{
		occupied:  make(map[domain.UserID]bool),
		failures:  make(map[string]error),
		published: make(map[string]core.LocalTrack),
	}
}

// Occupy marks uid as already present in the channel so Join conflicts.
func (t *Transport) Occupy(uid domain.UserID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.occupied[uid] = true
}

// Fail makes the named operation ("join", "leave", "publish", "unpublish",
// "subscribe", "send") return err. A nil err clears it.
func (t *Transport) Fail(op string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		delete(t.failures, op)
		return
	}
	t.failures[op] = err
}

func (t *Transport) failure(op string) error {
	if err := t.failures[op]; err != nil {
		return fmt.Errorf("loopback %s: %w", op, err)
	}
	return nil
}

func (t *Transport) Join(ctx context.Context, appID string, channel domain.ChannelID, token string, uid domain.UserID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.joins++
	if err := t.failure("join"); err != nil {
		return err
	}
	if t.occupied[uid] {
		return fmt.Errorf("loopback join %s as %d: %w", channel, uid, core.ErrUIDInUse)
	}
	t.joined = true
	t.channel = channel
	t.uid = uid
	log.Debug().Str("module", "adapters.loopback").Str("channel", string(channel)).Stringer("uid", uid).Msg("joined")
	return nil
}

func (t *Transport) Leave(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.leaves++
	if err := t.failure("leave"); err != nil {
		return err
	}
	t.joined = false
	t.published = make(map[string]core.LocalTrack)
	return nil
}

func (t *Transport) Publish(ctx context.Context, track core.LocalTrack) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failure("publish"); err != nil {
		return err
	}
	if !t.joined {
		return ErrNotJoined
	}
	t.published[track.ID()] = track
	return nil
}

func (t *Transport) Unpublish(ctx context.Context, track core.LocalTrack) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failure("unpublish"); err != nil {
		return err
	}
	delete(t.published, track.ID())
	return nil
}

func (t *Transport) Subscribe(ctx context.Context, uid domain.UserID, kind domain.MediaKind) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failure("subscribe"); err != nil {
		return err
	}
	t.subs = append(t.subs, Subscription{UID: uid, Kind: kind})
	return nil
}

func (t *Transport) SendMessage(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failure("send"); err != nil {
		return err
	}
	if !t.joined {
		return ErrNotJoined
	}
	t.sent = append(t.sent, append([]byte(nil), data...))
	return nil
}

func (t *Transport) OnEvent(fn func(core.Event)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = fn
}

// Emit delivers ev to the installed handler, as a provider callback would.
// It reports false when no handler is attached.
func (t *Transport) Emit(ev core.Event) bool {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h == nil {
		return false
	}
	h(ev)
	return true
}

func (t *Transport) Joined() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.joined
}

func (t *Transport) Counts() (joins, leaves int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.joins, t.leaves
}

// Published returns the ids of tracks currently on the wire.
func (t *Transport) Published() []core.LocalTrack {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]core.LocalTrack, 0, len(t.published))
	for _, tr := range t.published {
		out = append(out, tr)
	}
	return out
}

func (t *Transport) Sent() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.sent...)
}

func (t *Transport) Subscriptions() []Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Subscription(nil), t.subs...)
}
