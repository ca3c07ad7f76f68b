package rtc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/LiveSession/internal/adapters/signal"
	"github.com/dkeye/LiveSession/internal/core"
	"github.com/dkeye/LiveSession/internal/domain"
)

// mediaServer is a single-connection signaling endpoint. Offers are
// answered by a real pion peer; everything else is scripted.
type mediaServer struct {
	t   *testing.T
	url string

	mu         sync.Mutex
	ws         *websocket.Conn
	joinCode   string
	publishErr string
	present    []domain.UserID
	early      []signal.Message
	received   []string
	peer       *webrtc.PeerConnection
}

func newMediaServer(t *testing.T) *mediaServer {
	t.Helper()
	s := &mediaServer{t: t}
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.ws = ws
		s.mu.Unlock()
		s.serve(ws)
	}))
	t.Cleanup(func() {
		srv.Close()
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.peer != nil {
			_ = s.peer.Close()
		}
	})
	s.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return s
}

func (s *mediaServer) write(m signal.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.ws.WriteJSON(m)
}

func (s *mediaServer) serve(ws *websocket.Conn) {
	defer ws.Close()
	for {
		var m signal.Message
		if err := ws.ReadJSON(&m); err != nil {
			return
		}
		s.mu.Lock()
		s.received = append(s.received, m.Type)
		joinCode, publishErr := s.joinCode, s.publishErr
		present, early := s.present, s.early
		s.mu.Unlock()

		reply := signal.Message{Type: signal.TypeOK, ID: m.ID}
		switch m.Type {
		case signal.TypeJoin:
			for _, push := range early {
				s.write(push)
			}
			if joinCode != "" {
				reply = signal.Message{Type: signal.TypeError, ID: m.ID, Code: joinCode}
			} else {
				reply.UIDs = present
			}
		case signal.TypeOffer:
			reply = signal.Message{Type: signal.TypeAnswer, ID: m.ID, SDP: s.answer(m.SDP)}
		case signal.TypePublish:
			if publishErr != "" {
				reply = signal.Message{Type: signal.TypeError, ID: m.ID, Code: publishErr}
			}
		case signal.TypeAnswer:
			continue
		}
		s.write(reply)
	}
}

func (s *mediaServer) answer(sdp string) string {
	s.mu.Lock()
	if s.peer == nil {
		pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
		if err != nil {
			s.mu.Unlock()
			return ""
		}
		s.peer = pc
	}
	pc := s.peer
	s.mu.Unlock()

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return ""
	}
	ans, err := pc.CreateAnswer(nil)
	if err != nil {
		return ""
	}
	gather := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(ans); err != nil {
		return ""
	}
	<-gather
	return pc.LocalDescription().SDP
}

func (s *mediaServer) dropConnection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.ws.Close()
}

func (s *mediaServer) set(fn func(s *mediaServer)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *mediaServer) sawType(typ string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.received {
		if r == typ {
			return true
		}
	}
	return false
}

// events collects what the transport reports.
type events struct {
	mu  sync.Mutex
	got []core.Event
}

func (e *events) add(ev core.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.got = append(e.got, ev)
}

func (e *events) list() []core.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]core.Event(nil), e.got...)
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newTestTransport(s *mediaServer) *Transport {
	return NewTransport(Config{SignalURL: s.url, WebRTC: webrtc.Configuration{}}, nil)
}

func TestJoinUIDInUse(t *testing.T) {
	s := newMediaServer(t)
	s.set(func(s *mediaServer) { s.joinCode = signal.CodeUIDInUse })
	tr := newTestTransport(s)

	err := tr.Join(testCtx(t), "app", "hall", "tok", 42)
	require.ErrorIs(t, err, core.ErrUIDInUse)

	_, _, err = tr.session()
	require.ErrorIs(t, err, ErrNotJoined)
	assert.False(t, s.sawType(signal.TypeOffer))
}

func TestJoinOtherRemoteError(t *testing.T) {
	s := newMediaServer(t)
	s.set(func(s *mediaServer) { s.joinCode = signal.CodeBadToken })
	tr := newTestTransport(s)

	err := tr.Join(testCtx(t), "app", "hall", "tok", 42)
	require.Error(t, err)
	require.NotErrorIs(t, err, core.ErrUIDInUse)
	var re *signal.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, signal.CodeBadToken, re.Code)
}

func TestPushesBeforeHandlerAreReplayed(t *testing.T) {
	s := newMediaServer(t)
	s.set(func(s *mediaServer) {
		s.present = []domain.UserID{5, 42}
		s.early = []signal.Message{{Type: signal.TypeParticipantJoined, UID: 9}}
	})
	tr := newTestTransport(s)
	require.NoError(t, tr.Join(testCtx(t), "app", "hall", "tok", 42))
	defer func() { _ = tr.Leave(context.Background()) }()

	var got events
	tr.OnEvent(got.add)

	require.Equal(t, []core.Event{
		{Kind: core.EventParticipantJoined, UID: 9},
		{Kind: core.EventParticipantJoined, UID: 5},
	}, got.list())

	s.write(signal.Message{Type: signal.TypeMediaPublished, UID: 5, Kind: domain.KindVideo})
	require.Eventually(t, func() bool { return len(got.list()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, core.Event{Kind: core.EventMediaPublished, UID: 5, Media: domain.KindVideo}, got.list()[2])
}

func TestPublishRollsBackOnRefusal(t *testing.T) {
	s := newMediaServer(t)
	s.set(func(s *mediaServer) { s.publishErr = signal.CodeBadRequest })
	tr := newTestTransport(s)
	ctx := testCtx(t)
	require.NoError(t, tr.Join(ctx, "app", "hall", "tok", 42))
	defer func() { _ = tr.Leave(context.Background()) }()

	mic, err := NewDevices("", "").Open(ctx, domain.SourceMicrophone)
	require.NoError(t, err)
	defer mic.Close()

	err = tr.Publish(ctx, mic)
	var re *signal.RemoteError
	require.ErrorAs(t, err, &re)

	_, conn, err := tr.session()
	require.NoError(t, err)
	for _, sender := range conn.pc.GetSenders() {
		if local := sender.Track(); local != nil {
			assert.NotEqual(t, mic.ID(), local.ID())
		}
	}
	tr.mu.Lock()
	assert.Empty(t, tr.senders)
	tr.mu.Unlock()

	s.set(func(s *mediaServer) { s.publishErr = "" })
	require.NoError(t, tr.Publish(ctx, mic))
	tr.mu.Lock()
	assert.Contains(t, tr.senders, mic.ID())
	tr.mu.Unlock()

	require.NoError(t, tr.Unpublish(ctx, mic))
	assert.True(t, s.sawType(signal.TypeUnpublish))
}

type foreignTrack struct{ core.LocalTrack }

func TestPublishForeignTrack(t *testing.T) {
	tr := NewTransport(Config{}, nil)
	require.ErrorIs(t, tr.Publish(context.Background(), foreignTrack{}), ErrForeignTrack)
}

func TestSendMessageNeedsOpenChannel(t *testing.T) {
	tr := NewTransport(Config{}, nil)
	require.ErrorIs(t, tr.SendMessage(context.Background(), []byte("x")), ErrNotJoined)

	conn, err := NewConnection(webrtc.Configuration{}, 1)
	require.NoError(t, err)
	defer conn.Close()
	dc, err := conn.CreateDataChannel(dataChannelLabel)
	require.NoError(t, err)
	require.False(t, dc.Ordered())

	tr.mu.Lock()
	tr.dc = dc
	tr.mu.Unlock()
	require.ErrorIs(t, tr.SendMessage(context.Background(), []byte("x")), ErrChannelNotOpen)
}

func TestSignalLossIsReported(t *testing.T) {
	s := newMediaServer(t)
	tr := newTestTransport(s)
	require.NoError(t, tr.Join(testCtx(t), "app", "hall", "tok", 42))
	defer func() { _ = tr.Leave(context.Background()) }()

	var got events
	tr.OnEvent(got.add)
	s.dropConnection()

	require.Eventually(t, func() bool {
		for _, ev := range got.list() {
			if ev.Kind == core.EventDisconnected {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLeaveIsNotALoss(t *testing.T) {
	s := newMediaServer(t)
	tr := newTestTransport(s)
	require.NoError(t, tr.Join(testCtx(t), "app", "hall", "tok", 42))

	var got events
	tr.OnEvent(got.add)
	require.NoError(t, tr.Leave(testCtx(t)))
	assert.True(t, s.sawType(signal.TypeLeave))

	time.Sleep(100 * time.Millisecond)
	for _, ev := range got.list() {
		assert.NotEqual(t, core.EventDisconnected, ev.Kind)
	}
	require.NoError(t, tr.Leave(testCtx(t)))
}
