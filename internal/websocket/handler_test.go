package websocket_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorillaWS "github.com/gorilla/websocket"
	"github.com/mautops/qms-gin/internal/auth"
	"github.com/mautops/qms-gin/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, hub *websocket.Hub, origins []string) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler := websocket.WebSocketHandler(hub, auth.NewActorResolver(nil, true), websocket.NewUpgrader(origins))
	router.GET("/ws/records", handler)
	router.GET("/ws/records/:id", handler)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + path
}

// TestWebSocketHandler_StreamsRecordEvents 测试连接后收到订阅记录的事件
func TestWebSocketHandler_StreamsRecordEvents(t *testing.T) {
	hub := websocket.NewHub()
	go hub.Run()
	defer hub.Stop()
	server := newServer(t, hub, nil)

	header := http.Header{}
	header.Set(auth.HeaderActorID, "alice")
	conn, resp, err := gorillaWS.DefaultDialer.Dial(wsURL(server, "/ws/records/SOP-2025-001"), header)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.Publish("CAPA-0001", []byte(`{"type":"capa.updated"}`))
	hub.Publish("SOP-2025-001", []byte(`{"type":"version.activated"}`))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"version.activated"}`, string(msg))

	// 断开后注销
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

// TestWebSocketHandler_RequiresIdentity 测试没有身份时拒绝升级
func TestWebSocketHandler_RequiresIdentity(t *testing.T) {
	hub := websocket.NewHub()
	go hub.Run()
	defer hub.Stop()
	server := newServer(t, hub, nil)

	_, resp, err := gorillaWS.DefaultDialer.Dial(wsURL(server, "/ws/records"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// TestNewUpgrader_CheckOrigin 测试 Origin 白名单
func TestNewUpgrader_CheckOrigin(t *testing.T) {
	request := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws/records", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	restricted := websocket.NewUpgrader([]string{"https://qms.example.com"})
	assert.True(t, restricted.CheckOrigin(request("https://qms.example.com")))
	assert.False(t, restricted.CheckOrigin(request("https://evil.example.com")))
	assert.True(t, restricted.CheckOrigin(request("")))

	open := websocket.NewUpgrader([]string{"*"})
	assert.True(t, open.CheckOrigin(request("https://anything.example.com")))
}
