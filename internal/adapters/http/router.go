// Package http is the local control and observer API of a running
// coordinator.
package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/LiveSession/internal/app/orch"
	"github.com/dkeye/LiveSession/internal/config"
	"github.com/dkeye/LiveSession/internal/domain"
)

// Session is the coordinator surface the API drives.
type Session interface {
	Join(ctx context.Context, id domain.Identity) error
	Leave(ctx context.Context) error
	Reset(ctx context.Context) error
	Snapshot(ctx context.Context) (orch.View, error)
	Watch() (<-chan orch.View, func())

	ToggleAudio(ctx context.Context) (bool, error)
	ToggleVideo(ctx context.Context, enable bool) error
	StartScreenShare(ctx context.Context) error
	StopScreenShare(ctx context.Context) error

	SendMessage(ctx context.Context, text string) (domain.ChatMessage, error)
	RetryMessage(ctx context.Context, id string) (domain.ChatMessage, error)
	SetChatOpen(ctx context.Context, open bool) error
}

type JoinRequest struct {
	Channel     domain.ChannelID `json:"channelId"`
	Token       string           `json:"accessToken"`
	UID         domain.UserID    `json:"localParticipantId"`
	DisplayName string           `json:"localDisplayName"`
}

type VideoRequest struct {
	Enable bool `json:"enable"`
}

type ChatRequest struct {
	Text string `json:"text"`
}

type PanelRequest struct {
	Open bool `json:"open"`
}

type ErrorResponse struct {
	Kind  domain.ErrorKind `json:"kind"`
	Error string           `json:"error"`
}

func SetupRouter(cfg *config.Config, s Session) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	h := &handlers{s: s}
	api := r.Group("/api")

	api.GET("/session", h.snapshot)
	api.POST("/session/join", h.join)
	api.POST("/session/leave", h.leave)
	api.POST("/session/reset", h.reset)

	api.POST("/media/audio/toggle", h.toggleAudio)
	api.POST("/media/video", h.video)
	api.POST("/media/screen/start", h.startScreen)
	api.POST("/media/screen/stop", h.stopScreen)

	api.POST("/chat", h.sendChat)
	api.POST("/chat/:id/retry", h.retryChat)
	api.POST("/chat/panel", h.panel)

	api.GET("/events", h.events)

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}

type handlers struct {
	s Session
}

// statusOf maps the error taxonomy onto HTTP.
func statusOf(err error) int {
	switch domain.KindOf(err) {
	case domain.KindInvalidInput, domain.KindSignalingParseError:
		return http.StatusBadRequest
	case domain.KindPermissionDenied:
		return http.StatusForbidden
	case domain.KindInvalidState, domain.KindIdentityConflict, domain.KindConflictingSource:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

func fail(c *gin.Context, err error) {
	status := statusOf(err)
	if errors.Is(err, context.Canceled) {
		status = 499
	}
	log.Warn().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Int("status", status).Msg("request failed")
	c.JSON(status, ErrorResponse{Kind: domain.KindOf(err), Error: err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Kind: domain.KindInvalidInput, Error: err.Error()})
}

// respond answers with the fresh snapshot after a successful mutation.
func (h *handlers) respond(c *gin.Context, err error) {
	if err != nil {
		fail(c, err)
		return
	}
	h.snapshot(c)
}

func (h *handlers) snapshot(c *gin.Context) {
	v, err := h.s.Snapshot(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *handlers) join(c *gin.Context) {
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.respond(c, h.s.Join(c.Request.Context(), domain.Identity{
		Channel:     req.Channel,
		Token:       req.Token,
		UID:         req.UID,
		DisplayName: req.DisplayName,
	}))
}

func (h *handlers) leave(c *gin.Context) { h.respond(c, h.s.Leave(c.Request.Context())) }
func (h *handlers) reset(c *gin.Context) { h.respond(c, h.s.Reset(c.Request.Context())) }

func (h *handlers) toggleAudio(c *gin.Context) {
	on, err := h.s.ToggleAudio(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"audioEnabled": on})
}

func (h *handlers) video(c *gin.Context) {
	var req VideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.respond(c, h.s.ToggleVideo(c.Request.Context(), req.Enable))
}

func (h *handlers) startScreen(c *gin.Context) {
	h.respond(c, h.s.StartScreenShare(c.Request.Context()))
}

func (h *handlers) stopScreen(c *gin.Context) {
	h.respond(c, h.s.StopScreenShare(c.Request.Context()))
}

// sendChat answers 200 with the entry even when delivery failed; the entry
// carries the Failed status and can be retried.
func (h *handlers) sendChat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.chatResult(c)(h.s.SendMessage(c.Request.Context(), req.Text))
}

func (h *handlers) retryChat(c *gin.Context) {
	h.chatResult(c)(h.s.RetryMessage(c.Request.Context(), c.Param("id")))
}

func (h *handlers) chatResult(c *gin.Context) func(domain.ChatMessage, error) {
	return func(msg domain.ChatMessage, err error) {
		if err != nil && msg.Status != domain.DeliveryFailed {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, msg)
	}
}

func (h *handlers) panel(c *gin.Context) {
	var req PanelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.respond(c, h.s.SetChatOpen(c.Request.Context(), req.Open))
}

// events streams a "view" SSE event per snapshot, starting with the
// current one.
func (h *handlers) events(c *gin.Context) {
	ctx := c.Request.Context()
	first, err := h.s.Snapshot(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	views, stop := h.s.Watch()
	defer stop()

	c.SSEvent("view", first)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case v := <-views:
			c.SSEvent("view", v)
			return true
		}
	})
}
