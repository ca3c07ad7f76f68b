// Package rtc is the pion WebRTC provider behind core.Transport: one peer
// connection to the media server, a WebSocket signaling client and an
// unordered data channel for out-of-band messages.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/LiveSession/internal/adapters/signal"
	"github.com/dkeye/LiveSession/internal/core"
	"github.com/dkeye/LiveSession/internal/domain"
)

var (
	ErrNotJoined      = errors.New("rtc: not joined")
	ErrAlreadyJoined  = errors.New("rtc: already joined")
	ErrChannelNotOpen = errors.New("rtc: message channel not open")
	ErrForeignTrack   = errors.New("rtc: track not created by rtc.Devices")
)

const (
	dataChannelLabel = "oob"
	remoteStreamPref = "uid-"
)

type Config struct {
	SignalURL  string
	WebRTC     webrtc.Configuration
	PingPeriod time.Duration
}

var _ core.Transport = (*Transport)(nil)

// Transport implements core.Transport. Server pushes arriving before a
// handler is installed are held and flushed by OnEvent.
type Transport struct {
	cfg      Config
	surfaces *SurfaceManager

	// negotiate serializes offer/answer exchanges.
	negotiate sync.Mutex

	mu      sync.Mutex
	sig     *signal.Client
	conn    *Connection
	dc      *webrtc.DataChannel
	uid     domain.UserID
	senders map[string]*webrtc.RTPSender
	handler func(core.Event)
	backlog []core.Event
}

func NewTransport(cfg Config, surfaces *SurfaceManager) *Transport {
	if surfaces == nil {
		surfaces = NewSurfaceManager(nil)
	}
	return &Transport{
		cfg:      cfg,
		surfaces: surfaces,
		senders:  make(map[string]*webrtc.RTPSender),
	}
}

func (t *Transport) Join(ctx context.Context, appID string, channel domain.ChannelID, token string, uid domain.UserID) error {
	t.mu.Lock()
	joined := t.sig != nil
	t.mu.Unlock()
	if joined {
		return ErrAlreadyJoined
	}

	sig, err := signal.Dial(ctx, t.cfg.SignalURL, t.cfg.PingPeriod, t.handleNotify)
	if err != nil {
		return err
	}
	conn, err := NewConnection(t.cfg.WebRTC, uid)
	if err != nil {
		sig.Close()
		return err
	}
	conn.OnTrack(t.onRemoteTrack)
	conn.OnClosed(func() {
		t.mu.Lock()
		current := t.conn == conn
		t.mu.Unlock()
		if current {
			t.lost("peer connection failed")
		}
	})
	conn.Start(context.Background())

	dc, err := conn.CreateDataChannel(dataChannelLabel)
	if err != nil {
		conn.Close()
		sig.Close()
		return err
	}
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		t.emit(core.Event{Kind: core.EventMessage, Data: msg.Data})
	})

	t.mu.Lock()
	t.sig, t.conn, t.dc, t.uid = sig, conn, dc, uid
	t.mu.Unlock()

	fail := func(err error) error {
		t.teardown()
		return err
	}

	resp, err := sig.Request(ctx, signal.Message{
		Type:    signal.TypeJoin,
		AppID:   appID,
		Channel: channel,
		Token:   token,
		UID:     uid,
	})
	if err != nil {
		var re *signal.RemoteError
		if errors.As(err, &re) && re.Code == signal.CodeUIDInUse {
			return fail(fmt.Errorf("join %s as %d: %w", channel, uid, core.ErrUIDInUse))
		}
		return fail(fmt.Errorf("join %s: %w", channel, err))
	}
	if err := t.renegotiate(ctx); err != nil {
		return fail(err)
	}

	go t.watch(sig)

	for _, other := range resp.UIDs {
		if other != uid {
			t.emit(core.Event{Kind: core.EventParticipantJoined, UID: other})
		}
	}
	log.Info().Str("module", "adapters.rtc").Str("channel", string(channel)).Stringer("uid", uid).Int("present", len(resp.UIDs)).Msg("joined")
	return nil
}

func (t *Transport) Leave(ctx context.Context) error {
	t.mu.Lock()
	sig := t.sig
	t.mu.Unlock()
	if sig == nil {
		return nil
	}
	_, err := sig.Request(ctx, signal.Message{Type: signal.TypeLeave})
	t.teardown()
	if err != nil && !errors.Is(err, signal.ErrClosed) {
		return fmt.Errorf("leave: %w", err)
	}
	return nil
}

// watch reports a signaling socket that closed without Leave.
func (t *Transport) watch(sig *signal.Client) {
	<-sig.Done()
	t.mu.Lock()
	current := t.sig == sig
	t.mu.Unlock()
	if current {
		t.lost("signaling closed")
	}
}

func (t *Transport) lost(reason string) {
	log.Warn().Str("module", "adapters.rtc").Str("reason", reason).Msg("session lost")
	t.emit(core.Event{Kind: core.EventDisconnected})
}

func (t *Transport) teardown() {
	t.mu.Lock()
	sig, conn := t.sig, t.conn
	t.sig, t.conn, t.dc = nil, nil, nil
	t.senders = make(map[string]*webrtc.RTPSender)
	t.backlog = nil
	t.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if sig != nil {
		sig.Close()
	}
}

func (t *Transport) session() (*signal.Client, *Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sig == nil {
		return nil, nil, ErrNotJoined
	}
	return t.sig, t.conn, nil
}

func (t *Transport) Publish(ctx context.Context, track core.LocalTrack) error {
	lt, ok := track.(*LocalTrack)
	if !ok {
		return ErrForeignTrack
	}
	sig, conn, err := t.session()
	if err != nil {
		return err
	}

	sender, err := conn.AddLocalTrack(lt.Local())
	if err != nil {
		return err
	}
	rollback := func(err error) error {
		if rerr := conn.RemoveTrack(sender); rerr != nil {
			log.Error().Err(rerr).Str("module", "adapters.rtc").Str("track_id", lt.ID()).Msg("rollback remove track")
		}
		return err
	}

	if err := t.renegotiate(ctx); err != nil {
		return rollback(err)
	}
	if _, err := sig.Request(ctx, signal.Message{Type: signal.TypePublish, TrackID: lt.ID(), Kind: lt.Kind()}); err != nil {
		return rollback(fmt.Errorf("publish %s: %w", lt.ID(), err))
	}

	t.mu.Lock()
	t.senders[lt.ID()] = sender
	t.mu.Unlock()
	return nil
}

func (t *Transport) Unpublish(ctx context.Context, track core.LocalTrack) error {
	sig, conn, err := t.session()
	if err != nil {
		return err
	}

	t.mu.Lock()
	sender, ok := t.senders[track.ID()]
	delete(t.senders, track.ID())
	t.mu.Unlock()
	if !ok {
		return nil
	}

	if err := conn.RemoveTrack(sender); err != nil {
		return err
	}
	if err := t.renegotiate(ctx); err != nil {
		return err
	}
	if _, err := sig.Request(ctx, signal.Message{Type: signal.TypeUnpublish, TrackID: track.ID(), Kind: track.Kind()}); err != nil {
		return fmt.Errorf("unpublish %s: %w", track.ID(), err)
	}
	return nil
}

// Subscribe asks the server to forward uid's kind track. The server
// follows up with a renegotiation offer carrying the track.
func (t *Transport) Subscribe(ctx context.Context, uid domain.UserID, kind domain.MediaKind) error {
	sig, _, err := t.session()
	if err != nil {
		return err
	}
	if _, err := sig.Request(ctx, signal.Message{Type: signal.TypeSubscribe, UID: uid, Kind: kind}); err != nil {
		return fmt.Errorf("subscribe %d/%s: %w", uid, kind, err)
	}
	return nil
}

func (t *Transport) SendMessage(ctx context.Context, data []byte) error {
	t.mu.Lock()
	dc := t.dc
	t.mu.Unlock()
	if dc == nil {
		return ErrNotJoined
	}
	if dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChannelNotOpen
	}
	return dc.Send(data)
}

func (t *Transport) OnEvent(fn func(core.Event)) {
	t.mu.Lock()
	t.handler = fn
	backlog := t.backlog
	t.backlog = nil
	t.mu.Unlock()

	if fn == nil {
		return
	}
	for _, ev := range backlog {
		fn(ev)
	}
}

func (t *Transport) emit(ev core.Event) {
	t.mu.Lock()
	h := t.handler
	if h == nil {
		if t.sig != nil {
			t.backlog = append(t.backlog, ev)
		}
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	h(ev)
}

// renegotiate runs one client-initiated offer/answer round.
func (t *Transport) renegotiate(ctx context.Context) error {
	sig, conn, err := t.session()
	if err != nil {
		return err
	}

	t.negotiate.Lock()
	defer t.negotiate.Unlock()

	offer, err := conn.CreateOffer()
	if err != nil {
		return err
	}
	resp, err := sig.Request(ctx, signal.Message{Type: signal.TypeOffer, SDP: offer.SDP})
	if err != nil {
		return fmt.Errorf("offer: %w", err)
	}
	return conn.ApplyAnswer(resp.SDP)
}

func (t *Transport) answerServerOffer(sdp string) {
	sig, conn, err := t.session()
	if err != nil {
		return
	}

	t.negotiate.Lock()
	defer t.negotiate.Unlock()

	answer, err := conn.ApplyOfferAndCreateAnswer(sdp)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.rtc").Msg("server offer")
		return
	}
	if err := sig.Notify(signal.Message{Type: signal.TypeAnswer, SDP: answer.SDP}); err != nil {
		log.Error().Err(err).Str("module", "adapters.rtc").Msg("send answer")
	}
}

func (t *Transport) handleNotify(m signal.Message) {
	switch m.Type {
	case signal.TypeParticipantJoined:
		t.emit(core.Event{Kind: core.EventParticipantJoined, UID: m.UID})
	case signal.TypeParticipantLeft:
		t.surfaces.Detach(m.UID)
		t.emit(core.Event{Kind: core.EventParticipantLeft, UID: m.UID})
	case signal.TypeMediaPublished:
		t.emit(core.Event{Kind: core.EventMediaPublished, UID: m.UID, Media: m.Kind})
	case signal.TypeMediaUnpublished:
		t.emit(core.Event{Kind: core.EventMediaUnpublished, UID: m.UID, Media: m.Kind})
	case signal.TypeOffer:
		go t.answerServerOffer(m.SDP)
	default:
		log.Warn().Str("module", "adapters.rtc").Str("type", m.Type).Msg("unknown server push")
	}
}

func (t *Transport) onRemoteTrack(ctx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	uid, ok := parseStreamUID(track.StreamID())
	if !ok {
		log.Warn().Str("module", "adapters.rtc").Str("stream_id", track.StreamID()).Msg("remote track without uid")
		return
	}
	kind := domain.KindAudio
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		kind = domain.KindVideo
	}
	t.surfaces.Attach(ctx, uid, kind, func() (*rtp.Packet, error) {
		pkt, _, err := track.ReadRTP()
		return pkt, err
	})
}

// parseStreamUID reads the publisher uid from a stream id of the form
// "uid-<n>".
func parseStreamUID(streamID string) (domain.UserID, bool) {
	n, err := strconv.ParseUint(strings.TrimPrefix(streamID, remoteStreamPref), 10, 32)
	if err != nil || n == 0 {
		return 0, false
	}
	return domain.UserID(n), true
}
