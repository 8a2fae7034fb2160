package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"opsdash/internal/cache"
	"opsdash/internal/pkg/jwt"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) (*httptest.Server, *Hub, *jwt.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := NewHub()
	j := jwt.New("secret", time.Hour)

	r := gin.New()
	RegisterRoutes(r.Group("/api/v1"), NewHandler(hub, j, nil))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, hub, j
}

func wsURL(srv *httptest.Server, token string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws/events?token=" + token
}

func TestEvents_DeliversInvalidation(t *testing.T) {
	srv, hub, j := newServer(t)
	token, err := j.GenerateToken(1, "ops", "viewer")
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, token), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Invalidate(context.Background(), cache.Records))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, EventCacheInvalidated, ev.Type)
	assert.Equal(t, cache.Records, ev.Cache)
	assert.False(t, ev.At.IsZero())

	conn.Close()
	require.Eventually(t, func() bool { return hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestEvents_RejectsBadToken(t *testing.T) {
	srv, _, _ := newServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "bogus"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
