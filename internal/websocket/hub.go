package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mautops/qms-gin/internal/notify"
)

// AllRecords 订阅全部记录的事件
const AllRecords = "*"

// message 发往订阅某条记录的客户端的消息
type message struct {
	recordID string
	data     []byte
}

// Hub 管理所有 WebSocket 连接, 按记录 ID 分发事件
type Hub struct {
	// 已注册的客户端
	clients map[*Client]bool

	// 广播消息
	broadcast chan message

	// 注册新客户端
	Register chan *Client

	// 注销客户端
	Unregister chan *Client

	done chan struct{}
	once sync.Once

	// 互斥锁，保护 clients map
	mu sync.RWMutex
}

// NewHub 创建新的 Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run 运行 Hub, 直到 Stop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.Unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.deliver(msg)

		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop 停止 Hub 并断开全部客户端
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.done) })
}

// deliver 发送给订阅该记录的客户端, 发送缓冲已满的客户端被断开
func (h *Hub) deliver(msg message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if !client.subscribed(msg.recordID) {
			continue
		}
		select {
		case client.Send <- msg.data:
		default:
			close(client.Send)
			delete(h.clients, client)
		}
	}
}

// Publish 发布记录消息
func (h *Hub) Publish(recordID string, data []byte) {
	select {
	case h.broadcast <- message{recordID: recordID, data: data}:
	case <-h.done:
	}
}

// Name 投递目标名称
func (h *Hub) Name() string {
	return "websocket"
}

// Send 作为通知投递目标推送事件
func (h *Hub) Send(ctx context.Context, evt notify.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	select {
	case h.broadcast <- message{recordID: evt.RecordID, data: data}:
		return nil
	case <-h.done:
		return fmt.Errorf("websocket hub stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HasClient 检查客户端是否存在
func (h *Hub) HasClient(clientID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.ID == clientID {
			return true
		}
	}
	return false
}

// GetClientCount 获取客户端数量
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}
