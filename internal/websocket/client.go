package websocket

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// 客户端只发送控制帧和关闭帧
	maxMessageSize = 4 * 1024

	sendBuffer = 256
)

// Client 订阅记录事件的连接
// WebSocket 连接的 Conn 非空; SSE 连接只使用 Send
type Client struct {
	ID string

	// ActorID 连接的操作人
	ActorID string

	// RecordID 订阅的记录, AllRecords 表示全部
	RecordID string

	Hub  *Hub
	Conn *websocket.Conn

	// Send 待推送的事件, Hub 注销客户端时关闭
	Send chan []byte
}

// NewClient 创建客户端, recordID 为空时订阅全部记录
func NewClient(id, actorID, recordID string, hub *Hub, conn *websocket.Conn) *Client {
	if recordID == "" {
		recordID = AllRecords
	}
	return &Client{
		ID:       id,
		ActorID:  actorID,
		RecordID: recordID,
		Hub:      hub,
		Conn:     conn,
		Send:     make(chan []byte, sendBuffer),
	}
}

func (c *Client) subscribed(recordID string) bool {
	return c.RecordID == AllRecords || c.RecordID == recordID
}

func (c *Client) log() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"client_id": c.ID,
		"actor_id":  c.ActorID,
		"record_id": c.RecordID,
	})
}

// Serve 注册到 Hub 并启动读写循环
func (c *Client) Serve() {
	c.Hub.Register <- c
	go c.writeLoop()
	go c.readLoop()
}

// readLoop 只用于维持心跳和感知断开, 断开时注销客户端
func (c *Client) readLoop() {
	defer func() {
		c.Hub.Unregister <- c
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.Conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log().WithError(err).Warn("websocket closed unexpectedly")
			}
			return
		}
	}
}

// writeLoop 每个事件写一个文本帧, 空闲时发送 ping
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub closed"))
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log().WithError(err).Debug("websocket write failed")
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
