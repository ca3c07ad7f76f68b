// Package presence keeps the authoritative participant map. Transport events
// and signaling messages enter through Dispatch; every merge is last-write-wins
// and tolerates any delivery order.
package presence

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dkeye/LiveSession/internal/app/signaling"
	"github.com/dkeye/LiveSession/internal/core"
	"github.com/dkeye/LiveSession/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Transport is the slice of core.Transport presence needs.
type Transport interface {
	Subscribe(ctx context.Context, uid domain.UserID, kind domain.MediaKind) error
	SendMessage(ctx context.Context, data []byte) error
}

// ChatSink receives chat traffic and system notices.
type ChatSink interface {
	Receive(signaling.Chat)
	System(text string)
	Forget(uid domain.UserID)
}

// Scheduler runs fn after d on the owner's loop.
type Scheduler func(d time.Duration, fn func())

// remoteCache holds what we learned about an id before or independently of
// its join event.
type remoteCache struct {
	name  string
	state *signaling.UserState
	media map[domain.MediaKind]bool
}

type Presence struct {
	transport Transport
	chat      ChatSink
	schedule  Scheduler
	delay     time.Duration

	local   *domain.Participant
	remotes map[domain.UserID]*domain.Participant
	order   []domain.UserID
	cache   map[domain.UserID]*remoteCache

	onChange func([]domain.Participant)
	logger   zerolog.Logger
}

func New(tr Transport, chat ChatSink, schedule Scheduler, rebroadcastDelay time.Duration) *Presence {
	p := &Presence{
		transport: tr,
		chat:      chat,
		schedule:  schedule,
		delay:     rebroadcastDelay,
		logger:    log.With().Str("module", "app.presence").Logger(),
	}
	p.reset()
	return p
}

// OnChange installs the snapshot observer.
func (p *Presence) OnChange(fn func([]domain.Participant)) { p.onChange = fn }

// SetLocal installs the local participant. Any previous session state is
// dropped.
func (p *Presence) SetLocal(id domain.UserID, name string, media domain.LocalMediaState) {
	p.reset()
	p.local = &domain.Participant{
		ID:          id,
		DisplayName: name,
		HasAudio:    media.AudioEnabled,
		HasVideo:    media.SendsVideo(),
		IsLocal:     true,
		IsOnline:    true,
	}
	p.changed()
}

// SetLocalMedia mirrors the track controller state onto the local entry.
func (p *Presence) SetLocalMedia(media domain.LocalMediaState) {
	if p.local == nil {
		return
	}
	p.local.HasAudio = media.AudioEnabled
	p.local.HasVideo = media.SendsVideo()
	p.changed()
}

// Clear empties the participant map and every signaling cache.
func (p *Presence) Clear() {
	p.reset()
	p.changed()
}

func (p *Presence) reset() {
	p.local = nil
	p.remotes = make(map[domain.UserID]*domain.Participant)
	p.order = nil
	p.cache = make(map[domain.UserID]*remoteCache)
}

// Dispatch applies one inbound event. Failures are logged, never returned:
// a bad event must not stall the others.
func (p *Presence) Dispatch(ctx context.Context, ev core.Event) {
	if p.local == nil {
		p.logger.Debug().Stringer("event", ev.Kind).Msg("no local participant, dropping event")
		return
	}
	if ev.Kind != core.EventMessage && ev.UID == p.local.ID {
		return
	}

	switch ev.Kind {
	case core.EventParticipantJoined:
		p.onJoined(ev.UID)
	case core.EventParticipantLeft:
		p.onLeft(ev.UID)
	case core.EventMediaPublished:
		p.onMedia(ctx, ev.UID, ev.Media, true)
	case core.EventMediaUnpublished:
		p.onMedia(ctx, ev.UID, ev.Media, false)
	case core.EventMessage:
		p.onMessage(ev.Data)
	default:
		p.logger.Warn().Int("kind", int(ev.Kind)).Msg("unknown transport event")
	}
}

func (p *Presence) onJoined(uid domain.UserID) {
	if _, ok := p.remotes[uid]; ok {
		return
	}

	part := domain.NewRemoteParticipant(uid)
	if c, ok := p.cache[uid]; ok {
		p.applyCache(part, c)
	}
	p.remotes[uid] = part
	p.order = append(p.order, uid)
	p.logger.Info().Stringer("uid", uid).Str("name", part.DisplayName).Msg("participant joined")

	p.chat.System(part.DisplayName + " joined")
	p.changed()

	// The newcomer missed our earlier broadcasts. Give its join a moment to
	// settle on the provider side first.
	p.schedule(p.delay, func() {
		if p.local == nil {
			return
		}
		if err := p.AnnounceSelf(context.Background()); err != nil {
			p.logger.Warn().Err(err).Stringer("for", uid).Msg("rebroadcast after join")
		}
	})
}

func (p *Presence) applyCache(part *domain.Participant, c *remoteCache) {
	if c.name != "" {
		part.DisplayName = c.name
	}
	if c.state != nil {
		part.HasAudio = c.state.HasAudio
		part.HasVideo = c.state.HasVideo
	}
	for kind, on := range c.media {
		part.SetMedia(kind, on)
	}
}

func (p *Presence) onLeft(uid domain.UserID) {
	part, ok := p.remotes[uid]
	delete(p.cache, uid)
	p.chat.Forget(uid)
	if !ok {
		return
	}
	delete(p.remotes, uid)
	p.order = slices.DeleteFunc(p.order, func(id domain.UserID) bool { return id == uid })
	p.logger.Info().Stringer("uid", uid).Str("name", part.DisplayName).Msg("participant left")

	p.chat.System(part.DisplayName + " left")
	p.changed()
}

// onMedia subscribes before flipping the flag so a participant never shows
// media we cannot render.
func (p *Presence) onMedia(ctx context.Context, uid domain.UserID, kind domain.MediaKind, published bool) {
	if kind != domain.KindAudio && kind != domain.KindVideo {
		p.logger.Warn().Stringer("uid", uid).Str("kind", string(kind)).Msg("unknown media kind")
		return
	}
	if published {
		if err := p.transport.Subscribe(ctx, uid, kind); err != nil {
			p.logger.Error().Err(err).Stringer("uid", uid).Str("kind", string(kind)).Msg("subscribe failed")
			return
		}
	}

	if part, ok := p.remotes[uid]; ok {
		part.SetMedia(kind, published)
		p.changed()
		return
	}
	c := p.cacheFor(uid)
	if c.media == nil {
		c.media = make(map[domain.MediaKind]bool)
	}
	c.media[kind] = published
	if c.state != nil {
		// newer than the cached snapshot for this kind
		if kind == domain.KindAudio {
			c.state.HasAudio = published
		} else {
			c.state.HasVideo = published
		}
	}
}

func (p *Presence) onMessage(data []byte) {
	msg, err := signaling.Decode(data)
	if errors.Is(err, signaling.ErrUnknownType) {
		p.logger.Debug().Err(err).Msg("ignoring signaling message")
		return
	}
	if err != nil {
		p.logger.Warn().Err(err).Int("len", len(data)).Msg("dropping malformed signaling message")
		return
	}

	switch m := msg.(type) {
	case signaling.UserInfo:
		p.MergeInfo(m)
	case signaling.UserState:
		p.MergeState(m)
	case signaling.Chat:
		p.chat.Receive(m)
	}
}

// MergeInfo updates a display name. Idempotent; an id we have not seen join
// yet keeps the name until it does.
func (p *Presence) MergeInfo(m signaling.UserInfo) {
	if p.local != nil && m.UID == p.local.ID {
		return
	}
	if m.Name == "" {
		return
	}
	if part, ok := p.remotes[m.UID]; ok {
		if part.DisplayName != m.Name {
			part.DisplayName = m.Name
			p.changed()
		}
		p.cacheFor(m.UID).name = m.Name
		return
	}
	p.cacheFor(m.UID).name = m.Name
}

// MergeState applies a media snapshot. Snapshots are not deltas, so the last
// one received wins.
func (p *Presence) MergeState(m signaling.UserState) {
	if p.local != nil && m.UID == p.local.ID {
		return
	}
	c := p.cacheFor(m.UID)
	st := m
	c.state = &st
	c.media = nil
	if part, ok := p.remotes[m.UID]; ok {
		if part.HasAudio != m.HasAudio || part.HasVideo != m.HasVideo {
			part.HasAudio = m.HasAudio
			part.HasVideo = m.HasVideo
			p.changed()
		}
	}
}

func (p *Presence) cacheFor(uid domain.UserID) *remoteCache {
	c, ok := p.cache[uid]
	if !ok {
		c = &remoteCache{}
		p.cache[uid] = c
	}
	return c
}

// AnnounceSelf sends our UserInfo and UserState.
func (p *Presence) AnnounceSelf(ctx context.Context) error {
	if p.local == nil {
		return fmt.Errorf("announce: %w", domain.ErrInvalidState)
	}
	return errors.Join(
		p.send(ctx, signaling.UserInfo{UID: p.local.ID, Name: p.local.DisplayName}),
		p.BroadcastState(ctx),
	)
}

// BroadcastState sends our current UserState.
func (p *Presence) BroadcastState(ctx context.Context) error {
	if p.local == nil {
		return fmt.Errorf("broadcast state: %w", domain.ErrInvalidState)
	}
	return p.send(ctx, signaling.UserState{UID: p.local.ID, HasAudio: p.local.HasAudio, HasVideo: p.local.HasVideo})
}

func (p *Presence) send(ctx context.Context, m signaling.Message) error {
	data, err := signaling.Encode(m)
	if err != nil {
		return err
	}
	if err := p.transport.SendMessage(ctx, data); err != nil {
		return fmt.Errorf("send %s: %w", m.Type(), err)
	}
	return nil
}

// Participants is the full snapshot: local first, then remotes in join order.
func (p *Presence) Participants() []domain.Participant {
	out := make([]domain.Participant, 0, len(p.order)+1)
	if p.local != nil {
		out = append(out, *p.local)
	}
	for _, id := range p.order {
		out = append(out, *p.remotes[id])
	}
	return out
}

// Lookup returns one participant.
func (p *Presence) Lookup(uid domain.UserID) (domain.Participant, bool) {
	if p.local != nil && p.local.ID == uid {
		return *p.local, true
	}
	part, ok := p.remotes[uid]
	if !ok {
		return domain.Participant{}, false
	}
	return *part, true
}

func (p *Presence) changed() {
	if p.onChange != nil {
		p.onChange(p.Participants())
	}
}
