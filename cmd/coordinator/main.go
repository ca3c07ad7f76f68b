package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/LiveSession/internal/adapters/http"
	"github.com/dkeye/LiveSession/internal/adapters/loopback"
	"github.com/dkeye/LiveSession/internal/adapters/rtc"
	"github.com/dkeye/LiveSession/internal/adapters/store"
	"github.com/dkeye/LiveSession/internal/app/orch"
	"github.com/dkeye/LiveSession/internal/config"
	"github.com/dkeye/LiveSession/internal/domain"
)

type flags struct {
	channel  string
	token    string
	uid      uint32
	name     string
	resume   bool
	loopback bool
}

func main() {
	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "coordinator",
		Short: "Run a live audio/video session client with a local control API",
		Long: "coordinator joins a channel on the media server, publishes local media and keeps\n" +
			"presence and chat in sync. It is driven through the HTTP API on the configured port;\n" +
			"--channel joins right away, --resume rejoins with the persisted identity.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return run(ctx, f)
		},
	}

	cmd.Flags().StringVar(&f.channel, "channel", "", "channel to join on start")
	cmd.Flags().StringVar(&f.token, "token", "", "access token for --channel")
	cmd.Flags().Uint32Var(&f.uid, "uid", 0, "numeric participant id for --channel")
	cmd.Flags().StringVar(&f.name, "name", petname.Generate(2, "-"), "display name for --channel")
	cmd.Flags().BoolVar(&f.resume, "resume", false, "rejoin with the persisted identity")
	cmd.Flags().BoolVar(&f.loopback, "loopback", false, "use the in-memory transport and devices")
	cmd.MarkFlagsMutuallyExclusive("channel", "resume")
	return cmd
}

func run(ctx context.Context, f flags) error {
	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		return err
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	deps := orch.Deps{Store: store.NewFile(cfg.IdentityPath)}
	if f.loopback {
		deps.Transport = loopback.NewTransport()
		deps.Devices = loopback.NewDevices()
	} else {
		surfaces := rtc.NewSurfaceManager(nil)
		deps.Transport = rtc.NewTransport(rtc.Config{
			SignalURL:  cfg.SignalURL,
			WebRTC:     rtc.ICEConfig(cfg.ICEServers),
			PingPeriod: cfg.PingPeriod,
		}, surfaces)
		deps.Devices = rtc.NewDevices(cfg.CameraFile, cfg.ScreenFile)
		deps.Surfaces = surfaces
	}

	c := orch.New(orch.Options{
		AppID:            cfg.AppID,
		JoinTimeout:      cfg.JoinTimeout,
		RebroadcastDelay: cfg.RebroadcastDelay,
		EventBuffer:      cfg.EventBuffer,
		ChatRateLimit:    cfg.ChatRateLimit,
		ChatRateInterval: cfg.ChatRateInterval,
	}, deps)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router.SetupRouter(cfg, c),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Run(gctx) })
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("LiveSession coordinator started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})
	g.Go(func() error {
		startSession(gctx, c, f)
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info().Msg("Coordinator exited gracefully")
	return err
}

// startSession performs the join requested on the command line. Failures
// are logged; the API stays up so the user can retry.
func startSession(ctx context.Context, c *orch.Coordinator, f flags) {
	switch {
	case f.resume:
		ok, err := c.Resume(ctx)
		if err != nil {
			log.Error().Err(err).Str("kind", string(domain.KindOf(err))).Msg("resume failed")
			return
		}
		if !ok {
			log.Info().Msg("no persisted identity to resume")
		}
	case f.channel != "":
		id := domain.Identity{
			Channel:     domain.ChannelID(f.channel),
			Token:       f.token,
			UID:         domain.UserID(f.uid),
			DisplayName: f.name,
		}
		if err := c.Join(ctx, id); err != nil {
			log.Error().Err(err).Str("kind", string(domain.KindOf(err))).Msg("join failed")
		}
	}
}
