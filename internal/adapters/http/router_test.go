package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/LiveSession/internal/adapters/loopback"
	"github.com/dkeye/LiveSession/internal/adapters/store"
	"github.com/dkeye/LiveSession/internal/app/orch"
	"github.com/dkeye/LiveSession/internal/config"
	"github.com/dkeye/LiveSession/internal/domain"
)

type fixture struct {
	router *gin.Engine
	tr     *loopback.Transport
	dev    *loopback.Devices
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{tr: loopback.NewTransport(), dev: loopback.NewDevices()}
	c := orch.New(orch.Options{
		AppID:            "test-app",
		JoinTimeout:      time.Second,
		RebroadcastDelay: 10 * time.Millisecond,
	}, orch.Deps{Transport: f.tr, Devices: f.dev, Store: store.NewMemory()})

	ctx, cancel := context.WithCancel(context.Background())
	ended := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(ended)
	}()
	t.Cleanup(func() {
		cancel()
		<-ended
	})

	f.router = SetupRouter(&config.Config{Mode: "test"}, c)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeView(t *testing.T, w *httptest.ResponseRecorder) orch.View {
	t.Helper()
	var v orch.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	return e
}

var bob = JoinRequest{Channel: "hall", Token: "tok", UID: 7, DisplayName: "Bob"}

func TestJoinAndLeave(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, domain.StateIdle, decodeView(t, w).State)

	w = f.do(t, http.MethodPost, "/api/session/join", bob)
	require.Equal(t, http.StatusOK, w.Code)
	v := decodeView(t, w)
	require.Equal(t, domain.StateJoined, v.State)
	require.Equal(t, domain.UserID(7), v.LocalID)
	require.Len(t, v.Participants, 1)
	assert.True(t, v.Media.AudioEnabled)

	w = f.do(t, http.MethodPost, "/api/session/join", bob)
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, domain.KindInvalidState, decodeError(t, w).Kind)

	w = f.do(t, http.MethodPost, "/api/session/leave", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, domain.StateIdle, decodeView(t, w).State)
}

func TestJoinValidation(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/session/join", JoinRequest{Channel: "hall"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, domain.KindInvalidInput, decodeError(t, w).Kind)

	req := httptest.NewRequest(http.MethodPost, "/api/session/join", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUIDConflictThenReset(t *testing.T) {
	f := newFixture(t)
	f.tr.Occupy(7)

	w := f.do(t, http.MethodPost, "/api/session/join", bob)
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, domain.KindIdentityConflict, decodeError(t, w).Kind)

	v := decodeView(t, f.do(t, http.MethodGet, "/api/session", nil))
	require.Equal(t, domain.StateError, v.State)
	require.Equal(t, domain.KindIdentityConflict, v.ErrorKind)

	w = f.do(t, http.MethodPost, "/api/session/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, domain.StateIdle, decodeView(t, w).State)
}

func TestMicrophoneDenied(t *testing.T) {
	f := newFixture(t)
	f.dev.Fail(domain.SourceMicrophone, domain.ErrPermissionDenied)

	w := f.do(t, http.MethodPost, "/api/session/join", bob)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, domain.KindPermissionDenied, decodeError(t, w).Kind)
}

func TestMediaRoutes(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/media/audio/toggle", nil)
	require.Equal(t, http.StatusConflict, w.Code)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/session/join", bob).Code)

	w = f.do(t, http.MethodPost, "/api/media/audio/toggle", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"audioEnabled":false}`, w.Body.String())

	w = f.do(t, http.MethodPost, "/api/media/video", VideoRequest{Enable: true})
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, decodeView(t, w).Media.VideoEnabled)

	w = f.do(t, http.MethodPost, "/api/media/screen/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	m := decodeView(t, w).Media
	require.True(t, m.ScreenSharing)
	require.False(t, m.VideoEnabled)

	w = f.do(t, http.MethodPost, "/api/media/video", VideoRequest{Enable: true})
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, domain.KindConflictingSource, decodeError(t, w).Kind)

	w = f.do(t, http.MethodPost, "/api/media/screen/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	m = decodeView(t, w).Media
	require.False(t, m.ScreenSharing)
	require.True(t, m.VideoEnabled)
}

func TestScreenDeviceUnavailable(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/session/join", bob).Code)
	f.dev.Fail(domain.SourceScreen, domain.ErrDeviceUnavailable)

	w := f.do(t, http.MethodPost, "/api/media/screen/start", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, domain.KindDeviceUnavailable, decodeError(t, w).Kind)
}

func TestChatRoutes(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/session/join", bob).Code)

	w := f.do(t, http.MethodPost, "/api/chat", ChatRequest{Text: "   "})
	require.Equal(t, http.StatusBadRequest, w.Code)

	f.tr.Fail("send", context.DeadlineExceeded)
	w = f.do(t, http.MethodPost, "/api/chat", ChatRequest{Text: "hello"})
	require.Equal(t, http.StatusOK, w.Code)
	var msg domain.ChatMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msg))
	require.Equal(t, domain.DeliveryFailed, msg.Status)

	f.tr.Fail("send", nil)
	w = f.do(t, http.MethodPost, "/api/chat/"+msg.ID+"/retry", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msg))
	require.Equal(t, domain.DeliverySent, msg.Status)

	w = f.do(t, http.MethodPost, "/api/chat/nope/retry", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/chat/panel", PanelRequest{Open: true})
	require.Equal(t, http.StatusOK, w.Code)
	v := decodeView(t, w)
	require.True(t, v.ChatOpen)
	require.Equal(t, 0, v.Unread)
}

func TestEventsStream(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lines := bufio.NewScanner(resp.Body)
	lines.Buffer(make([]byte, 64*1024), 1<<20)
	next := func() orch.View {
		for lines.Scan() {
			line := lines.Text()
			if data, ok := strings.CutPrefix(line, "data:"); ok {
				var v orch.View
				require.NoError(t, json.Unmarshal([]byte(data), &v))
				return v
			}
		}
		t.Fatal("stream ended")
		return orch.View{}
	}

	require.Equal(t, domain.StateIdle, next().State)

	body, err := json.Marshal(bob)
	require.NoError(t, err)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/api/session/join", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		f.router.ServeHTTP(httptest.NewRecorder(), req)
	}()
	for {
		if next().State == domain.StateJoined {
			break
		}
	}
}
