package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mautops/qms-gin/internal/config"
	"github.com/mautops/qms-gin/internal/database"
	"github.com/mautops/qms-gin/internal/model"
	"github.com/mautops/qms-gin/internal/repository"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// recordingSink 记录收到的事件, 前 failures 次发送返回错误
type recordingSink struct {
	mu       sync.Mutex
	name     string
	failures int
	calls    int
	events   []Event
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Send(_ context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return errors.New("sink unavailable")
	}
	s.events = append(s.events, evt)
	return nil
}

func (s *recordingSink) received() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func setupDispatcher(t *testing.T, opts Options, sinks ...Sink) (*Dispatcher, *gorm.DB) {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	d := NewDispatcher(db, opts, logger, sinks...)
	t.Cleanup(d.Stop)
	return d, db
}

func outboxStatus(t *testing.T, db *gorm.DB, id string) string {
	t.Helper()
	row, err := repository.NewEventRepository(db).FindByID(id)
	if err != nil {
		return ""
	}
	return row.Status
}

// TestDispatcher_Delivers 测试事件写入发件箱并投递到全部目标
func TestDispatcher_Delivers(t *testing.T) {
	ws := &recordingSink{name: "websocket"}
	hook := &recordingSink{name: "webhook"}
	d, db := setupDispatcher(t, Options{Workers: 2, Backoff: time.Millisecond}, ws)
	d.AddSink(hook)
	d.Start(context.Background())

	evt := Event{ID: "evt-1", Type: EventVersionSubmitted, RecordID: "SOP-2025-001", ActorID: "alice"}
	require.NoError(t, d.Notify(context.Background(), evt))

	assert.Eventually(t, func() bool { return outboxStatus(t, db, "evt-1") == model.EventSuccess }, 2*time.Second, 10*time.Millisecond)
	require.Len(t, ws.received(), 1)
	require.Len(t, hook.received(), 1)
	assert.Equal(t, "SOP-2025-001", ws.received()[0].RecordID)
	assert.False(t, ws.received()[0].OccurredAt.IsZero())
}

// TestDispatcher_RetriesFailedSinkOnly 测试只重试失败的目标
func TestDispatcher_RetriesFailedSinkOnly(t *testing.T) {
	ok := &recordingSink{name: "websocket"}
	flaky := &recordingSink{name: "webhook", failures: 2}
	d, db := setupDispatcher(t, Options{MaxRetries: 3, Backoff: time.Millisecond}, ok, flaky)
	d.Start(context.Background())

	require.NoError(t, d.Notify(context.Background(), Event{ID: "evt-2", Type: EventCapaClosed, RecordID: "CAPA-0001"}))

	assert.Eventually(t, func() bool { return outboxStatus(t, db, "evt-2") == model.EventSuccess }, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, ok.received(), 1)
	assert.Len(t, flaky.received(), 1)

	row, err := repository.NewEventRepository(db).FindByID("evt-2")
	require.NoError(t, err)
	assert.Equal(t, 2, row.RetryCount)
	assert.Empty(t, row.LastError)
}

// TestDispatcher_GivesUp 测试超过重试次数后标记失败
func TestDispatcher_GivesUp(t *testing.T) {
	broken := &recordingSink{name: "kafka", failures: 100}
	d, db := setupDispatcher(t, Options{MaxRetries: 2, Backoff: time.Millisecond}, broken)
	d.Start(context.Background())

	require.NoError(t, d.Notify(context.Background(), Event{ID: "evt-3", Type: EventVersionRetired, RecordID: "SOP-2025-002"}))

	assert.Eventually(t, func() bool { return outboxStatus(t, db, "evt-3") == model.EventFailed }, 2*time.Second, 10*time.Millisecond)
	row, err := repository.NewEventRepository(db).FindByID("evt-3")
	require.NoError(t, err)
	assert.Equal(t, 2, row.RetryCount)
	assert.Equal(t, "sink unavailable", row.LastError)
}

// TestDispatcher_RedeliversPendingOnStart 测试启动时重新投递遗留事件
func TestDispatcher_RedeliversPendingOnStart(t *testing.T) {
	sink := &recordingSink{name: "websocket"}
	d, db := setupDispatcher(t, Options{Backoff: time.Millisecond}, sink)

	// 未启动 worker 时事件留在发件箱
	require.NoError(t, d.Notify(context.Background(), Event{ID: "evt-4", Type: EventRecordCreated, RecordID: "WI-2025-001"}))
	assert.Equal(t, model.EventPending, outboxStatus(t, db, "evt-4"))

	// 新的分发器模拟进程重启
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	restarted := NewDispatcher(db, Options{Backoff: time.Millisecond}, logger, sink)
	defer restarted.Stop()
	restarted.Start(context.Background())

	assert.Eventually(t, func() bool { return outboxStatus(t, db, "evt-4") == model.EventSuccess }, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, len(sink.received()), 1)
}

// TestNopNotifier 测试空通知器
func TestNopNotifier(t *testing.T) {
	var n Notifier = NopNotifier{}
	assert.NoError(t, n.Notify(context.Background(), Event{}))
}

// TestWebhookSink_Send 测试 Webhook 请求头和请求体
func TestWebhookSink_Send(t *testing.T) {
	var got struct {
		method string
		header http.Header
		body   Event
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.header = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&got.body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sink := NewWebhookSink(config.WebhookConfig{
		URL:     server.URL,
		Headers: map[string]string{"X-Site": "plant-2"},
		Token:   "secret",
	}, server.Client())

	err := sink.Send(context.Background(), Event{ID: "evt-5", Type: EventVersionActivated, RecordID: "SOP-2025-003"})
	require.NoError(t, err)

	assert.Equal(t, "webhook", sink.Name())
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "application/json", got.header.Get("Content-Type"))
	assert.Equal(t, EventVersionActivated, got.header.Get("X-Event-Type"))
	assert.Equal(t, "plant-2", got.header.Get("X-Site"))
	assert.Equal(t, "Bearer secret", got.header.Get("Authorization"))
	assert.Equal(t, "SOP-2025-003", got.body.RecordID)
}

// TestWebhookSink_ErrorStatus 测试非 2xx 响应返回错误
func TestWebhookSink_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	sink := NewWebhookSink(config.WebhookConfig{URL: server.URL, Method: http.MethodPut}, nil)
	err := sink.Send(context.Background(), Event{ID: "evt-6", RecordID: "SOP-2025-004"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

// fakeWriter 记录写入的 Kafka 消息
type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

// TestKafkaSink_Send 测试以记录 ID 作为消息 key
func TestKafkaSink_Send(t *testing.T) {
	w := &fakeWriter{}
	sink := &KafkaSink{writer: w, topic: "qms.records"}

	occurred := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	err := sink.Send(context.Background(), Event{ID: "evt-7", Type: EventCapaUpdated, RecordID: "CAPA-0007", OccurredAt: occurred})
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "CAPA-0007", string(msg.Key))
	assert.Equal(t, occurred, msg.Time)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, EventCapaUpdated, string(msg.Headers[0].Value))

	var evt Event
	require.NoError(t, json.Unmarshal(msg.Value, &evt))
	assert.Equal(t, "evt-7", evt.ID)

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

// TestKafkaSink_WriteError 测试写入失败时包含 topic
func TestKafkaSink_WriteError(t *testing.T) {
	sink := &KafkaSink{writer: &fakeWriter{err: errors.New("leader not available")}, topic: "qms.records"}
	err := sink.Send(context.Background(), Event{RecordID: "CAPA-0008"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "qms.records")
	assert.Contains(t, err.Error(), "leader not available")
}

// TestNewKafkaSink_Validation 测试缺少 broker 或 topic
func TestNewKafkaSink_Validation(t *testing.T) {
	_, err := NewKafkaSink(config.KafkaConfig{Topic: "qms.records"})
	assert.Error(t, err)

	_, err = NewKafkaSink(config.KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)

	sink, err := NewKafkaSink(config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "qms.records", Username: "svc", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "kafka", sink.Name())
	assert.NoError(t, sink.Close())
}
