package rtc

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/LiveSession/internal/core"
	"github.com/dkeye/LiveSession/internal/domain"
)

// Sink receives the packets of one subscribed remote track. A renderer or
// recorder plugs in here; the default only counts.
type Sink interface {
	WriteRTP(pkt *rtp.Packet) error
}

type SinkFactory func(uid domain.UserID, kind domain.MediaKind) Sink

// CountingSink drops packets after counting them.
type CountingSink struct {
	packets atomic.Uint64
	bytes   atomic.Uint64
}

func (s *CountingSink) WriteRTP(pkt *rtp.Packet) error {
	s.packets.Add(1)
	s.bytes.Add(uint64(len(pkt.Payload)))
	return nil
}

func (s *CountingSink) Packets() uint64 { return s.packets.Load() }
func (s *CountingSink) Bytes() uint64   { return s.bytes.Load() }

// PacketReader yields RTP packets until the remote track is gone.
type PacketReader func() (*rtp.Packet, error)

type surfaceKey struct {
	uid  domain.UserID
	kind domain.MediaKind
}

type surface struct {
	read   PacketReader
	sink   Sink
	cancel context.CancelFunc
}

// loop copies packets from the remote track into the sink until the track
// ends, the sink fails or the surface is stopped.
func (s *surface) loop(ctx context.Context, logger *zerolog.Logger) {
	defer s.cancel()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("surface ctx done")
			return
		default:
		}
		pkt, err := s.read()
		if err != nil {
			if ctx.Err() == nil {
				logger.Info().Err(err).Msg("surface read stopped")
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		if err := s.sink.WriteRTP(pkt); err != nil {
			logger.Error().Err(err).Msg("sink write error, stopping surface")
			return
		}
	}
}

var _ core.Surfaces = (*SurfaceManager)(nil)

// SurfaceManager owns one read loop per subscribed remote track.
type SurfaceManager struct {
	newSink SinkFactory

	mu       sync.Mutex
	surfaces map[surfaceKey]*surface
}

// NewSurfaceManager builds each surface's sink with factory. A nil
// factory uses CountingSink.
func NewSurfaceManager(factory SinkFactory) *SurfaceManager {
	if factory == nil {
		factory = func(domain.UserID, domain.MediaKind) Sink { return &CountingSink{} }
	}
	return &SurfaceManager{
		newSink:  factory,
		surfaces: make(map[surfaceKey]*surface),
	}
}

// Attach starts relaying read into a fresh surface for (uid, kind),
// replacing any previous one.
func (m *SurfaceManager) Attach(ctx context.Context, uid domain.UserID, kind domain.MediaKind, read PacketReader) {
	logger := log.With().
		Str("module", "adapters.surface").
		Stringer("uid", uid).
		Str("kind", string(kind)).
		Logger()

	ctx, cancel := context.WithCancel(ctx)
	key := surfaceKey{uid: uid, kind: kind}
	s := &surface{read: read, sink: m.newSink(uid, kind), cancel: cancel}

	m.mu.Lock()
	if old, ok := m.surfaces[key]; ok {
		logger.Info().Msg("replacing existing surface")
		old.cancel()
	}
	m.surfaces[key] = s
	m.mu.Unlock()

	logger.Info().Msg("starting surface loop")
	go s.loop(ctx, &logger)
}

// Detach stops every surface of uid.
func (m *SurfaceManager) Detach(uid domain.UserID) {
	m.mu.Lock()
	var stopped []*surface
	for key, s := range m.surfaces {
		if key.uid == uid {
			stopped = append(stopped, s)
			delete(m.surfaces, key)
		}
	}
	m.mu.Unlock()

	for _, s := range stopped {
		s.cancel()
	}
}

// Clear stops every surface.
func (m *SurfaceManager) Clear() {
	m.mu.Lock()
	old := m.surfaces
	m.surfaces = make(map[surfaceKey]*surface)
	m.mu.Unlock()

	for _, s := range old {
		s.cancel()
	}
	if len(old) > 0 {
		log.Info().Str("module", "adapters.surface").Int("count", len(old)).Msg("surfaces cleared")
	}
}
