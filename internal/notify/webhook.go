package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mautops/qms-gin/internal/config"
)

// WebhookSink 以 HTTP 请求推送事件
type WebhookSink struct {
	hook   config.WebhookConfig
	client *http.Client
}

// NewWebhookSink 创建 Webhook 投递目标
func NewWebhookSink(hook config.WebhookConfig, client *http.Client) *WebhookSink {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookSink{hook: hook, client: client}
}

// Name 投递目标名称
func (s *WebhookSink) Name() string {
	return "webhook"
}

// Send 发送 Webhook 请求
func (s *WebhookSink) Send(ctx context.Context, evt Event) error {
	// 1. 序列化事件数据
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// 2. 创建 HTTP 请求
	method := s.hook.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, s.hook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	// 3. 设置请求头
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", evt.Type)
	for key, value := range s.hook.Headers {
		req.Header.Set(key, value)
	}
	if s.hook.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.hook.Token)
	}

	// 4. 发送请求
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	// 5. 检查响应状态码
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status code: %d", resp.StatusCode)
	}
	return nil
}
