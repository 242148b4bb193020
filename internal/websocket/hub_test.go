package websocket_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mautops/qms-gin/internal/notify"
	"github.com/mautops/qms-gin/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func assertSilent(t *testing.T, ch <-chan []byte) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message: %s", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

// TestHub_RegisterUnregister 测试 Hub 注册和注销客户端
func TestHub_RegisterUnregister(t *testing.T) {
	hub := websocket.NewHub()
	go hub.Run()
	defer hub.Stop()

	client := websocket.NewClient("client-001", "alice", "", hub, nil)
	assert.Equal(t, websocket.AllRecords, client.RecordID)

	hub.Register <- client
	assert.Eventually(t, func() bool { return hub.HasClient("client-001") }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, hub.GetClientCount())

	hub.Unregister <- client
	assert.Eventually(t, func() bool { return !hub.HasClient("client-001") }, time.Second, 10*time.Millisecond)

	// 注销时关闭发送 channel
	_, ok := <-client.Send
	assert.False(t, ok)
}

// TestHub_PublishFiltersByRecord 测试按记录订阅分发
func TestHub_PublishFiltersByRecord(t *testing.T) {
	hub := websocket.NewHub()
	go hub.Run()
	defer hub.Stop()

	sop := websocket.NewClient("client-sop", "alice", "SOP-2025-001", hub, nil)
	capa := websocket.NewClient("client-capa", "bob", "CAPA-0001", hub, nil)
	all := websocket.NewClient("client-all", "carol", websocket.AllRecords, hub, nil)
	hub.Register <- sop
	hub.Register <- capa
	hub.Register <- all
	require.Eventually(t, func() bool { return hub.GetClientCount() == 3 }, time.Second, 10*time.Millisecond)

	hub.Publish("SOP-2025-001", []byte(`{"type":"version.submitted"}`))

	assert.JSONEq(t, `{"type":"version.submitted"}`, string(receive(t, sop.Send)))
	assert.JSONEq(t, `{"type":"version.submitted"}`, string(receive(t, all.Send)))
	assertSilent(t, capa.Send)
}

// TestHub_SendEvent 测试作为通知投递目标推送事件
func TestHub_SendEvent(t *testing.T) {
	hub := websocket.NewHub()
	go hub.Run()
	defer hub.Stop()

	client := websocket.NewClient("client-001", "alice", "CAPA-0001", hub, nil)
	hub.Register <- client
	require.Eventually(t, func() bool { return hub.HasClient("client-001") }, time.Second, 10*time.Millisecond)

	assert.Equal(t, "websocket", hub.Name())
	err := hub.Send(context.Background(), notify.Event{
		ID:       "evt-1",
		Type:     notify.EventCapaClosed,
		RecordID: "CAPA-0001",
		ActorID:  "quinn",
	})
	require.NoError(t, err)

	var evt notify.Event
	require.NoError(t, json.Unmarshal(receive(t, client.Send), &evt))
	assert.Equal(t, notify.EventCapaClosed, evt.Type)
	assert.Equal(t, "quinn", evt.ActorID)
}

// TestHub_Stop 测试停止后断开客户端并拒绝推送
func TestHub_Stop(t *testing.T) {
	hub := websocket.NewHub()
	stopped := make(chan struct{})
	go func() {
		hub.Run()
		close(stopped)
	}()

	client := websocket.NewClient("client-001", "alice", "", hub, nil)
	hub.Register <- client
	require.Eventually(t, func() bool { return hub.HasClient("client-001") }, time.Second, 10*time.Millisecond)

	hub.Stop()
	hub.Stop()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
	assert.Equal(t, 0, hub.GetClientCount())
	_, ok := <-client.Send
	assert.False(t, ok)

	err := hub.Send(context.Background(), notify.Event{RecordID: "SOP-2025-001"})
	assert.Error(t, err)
}
