package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mautops/qms-gin/internal/auth"
	"github.com/mautops/qms-gin/internal/websocket"
)

// sseHeartbeat SSE 心跳间隔
var sseHeartbeat = 30 * time.Second

// SSEHandler SSE 处理器
// 以 Server-Sent Events 推送记录事件, 与 WebSocket 共用同一个 Hub
func SSEHandler(hub *websocket.Hub, resolver *auth.ActorResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. 解析操作人, 支持 query 参数 token
		claims, err := resolver.Resolve(c.Request)
		if err != nil {
			Error(c, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}

		recordID := c.Param("id")

		// 2. 获取 Flusher
		flusher, ok := c.Writer.(http.Flusher)
		if !ok {
			Error(c, http.StatusInternalServerError, "streaming not supported", "")
			return
		}

		// 3. 设置 SSE 响应头
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no") // 禁用 Nginx 缓冲

		// 4. 注册到 Hub, 不持有 WebSocket 连接
		client := websocket.NewClient(uuid.New().String(), claims.Subject, recordID, hub, nil)
		hub.Register <- client
		defer func() {
			select {
			case hub.Unregister <- client:
			case <-time.After(time.Second):
			}
		}()

		// 5. 发送初始连接消息
		initial, _ := json.Marshal(map[string]interface{}{
			"type":      "connected",
			"record_id": recordID,
			"actor_id":  claims.Subject,
			"time":      time.Now().Unix(),
		})
		if err := sendSSEMessage(c.Writer, "connected", initial); err != nil {
			return
		}
		flusher.Flush()

		ticker := time.NewTicker(sseHeartbeat)
		defer ticker.Stop()

		// 6. 持续推送
		for {
			select {
			case <-c.Request.Context().Done():
				return
			case <-ticker.C:
				if _, err := fmt.Fprint(c.Writer, ": heartbeat\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case msg, ok := <-client.Send:
				if !ok {
					// Hub 以缓冲区已满或停止为由断开
					return
				}
				if err := sendSSEMessage(c.Writer, "record", msg); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

// sendSSEMessage 发送 SSE 消息
func sendSSEMessage(w io.Writer, event string, data []byte) error {
	// SSE 格式: event: <name>\ndata: <json>\n\n
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
