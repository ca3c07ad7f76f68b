package rtc

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/LiveSession/internal/domain"
)

// feed is a PacketReader driven by a channel; closing it ends the track.
func feed(ch <-chan *rtp.Packet) PacketReader {
	return func() (*rtp.Packet, error) {
		pkt, ok := <-ch
		if !ok {
			return nil, io.EOF
		}
		return pkt, nil
	}
}

func surfaceCount(m *SurfaceManager) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.surfaces)
}

type failingSink struct{ calls atomic.Int32 }

func (s *failingSink) WriteRTP(*rtp.Packet) error {
	s.calls.Add(1)
	return errors.New("boom")
}

func TestSurfaceForwardsToSink(t *testing.T) {
	sink := &CountingSink{}
	var built []domain.MediaKind
	m := NewSurfaceManager(func(uid domain.UserID, kind domain.MediaKind) Sink {
		require.Equal(t, domain.UserID(7), uid)
		built = append(built, kind)
		return sink
	})

	ch := make(chan *rtp.Packet)
	m.Attach(context.Background(), 7, domain.KindVideo, feed(ch))
	require.Equal(t, []domain.MediaKind{domain.KindVideo}, built)

	ch <- &rtp.Packet{Payload: []byte{1, 2, 3}}
	ch <- &rtp.Packet{Payload: []byte{4}}

	require.Eventually(t, func() bool { return sink.Packets() == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, uint64(4), sink.Bytes())
	close(ch)
}

func TestSurfaceStopsOnSinkError(t *testing.T) {
	bad := &failingSink{}
	m := NewSurfaceManager(func(domain.UserID, domain.MediaKind) Sink { return bad })

	ch := make(chan *rtp.Packet, 3)
	m.Attach(context.Background(), 1, domain.KindAudio, feed(ch))
	ch <- &rtp.Packet{}
	ch <- &rtp.Packet{}
	ch <- &rtp.Packet{}

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(1), bad.calls.Load())
	close(ch)
}

func TestSurfaceDetachAndClear(t *testing.T) {
	var reads atomic.Int32
	m := NewSurfaceManager(nil)
	slow := func() (*rtp.Packet, error) {
		reads.Add(1)
		time.Sleep(time.Millisecond)
		return &rtp.Packet{}, nil
	}

	m.Attach(context.Background(), 1, domain.KindAudio, slow)
	m.Attach(context.Background(), 1, domain.KindVideo, slow)
	m.Attach(context.Background(), 2, domain.KindAudio, slow)
	require.Equal(t, 3, surfaceCount(m))

	m.Detach(1)
	require.Equal(t, 1, surfaceCount(m))

	m.Clear()
	require.Equal(t, 0, surfaceCount(m))
	m.Clear()

	// Every loop exits once stopped, so reads settle.
	time.Sleep(20 * time.Millisecond)
	settled := reads.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, settled, reads.Load())
}

func TestParseStreamUID(t *testing.T) {
	uid, ok := parseStreamUID("uid-42")
	require.True(t, ok)
	require.Equal(t, domain.UserID(42), uid)

	for _, bad := range []string{"", "uid-", "uid-0", "uid-x", "livesession"} {
		_, ok := parseStreamUID(bad)
		require.False(t, ok, bad)
	}
}
