// Package notify 记录转换提交后的通知分发.
//
// 通知是尽力而为的: 投递失败只记录日志和重试计数, 从不影响已提交的转换.
package notify

import (
	"context"
	"time"
)

// 事件类型
const (
	EventRecordCreated      = "record.created"
	EventVersionCreated     = "version.created"
	EventVersionEdited      = "version.edited"
	EventVersionSubmitted   = "version.submitted"
	EventApprovalSigned     = "approval.signed"
	EventVersionApproved    = "version.approved"
	EventVersionRejected    = "version.rejected"
	EventVersionActivated   = "version.activated"
	EventVersionRetired     = "version.retired"
	EventCapaUpdated        = "capa.updated"
	EventCapaClosed         = "capa.closed"
	EventCapaReviewFailed   = "capa.effectiveness_failed"
	EventCapaCancelled      = "capa.cancelled"
	EventReviewCompleted    = "review.completed"
	EventIntegrityViolation = "record.integrity_flagged"
)

// Event 记录事件
type Event struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	RecordID   string                 `json:"record_id"`
	VersionID  string                 `json:"version_id,omitempty"`
	ActorID    string                 `json:"actor_id"`
	State      string                 `json:"state,omitempty"`
	Revision   int64                  `json:"revision,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// Notifier 通知入口
type Notifier interface {
	Notify(ctx context.Context, evt Event) error
}

// Sink 通知投递目标
type Sink interface {
	Name() string
	Send(ctx context.Context, evt Event) error
}

// NopNotifier 丢弃全部通知
type NopNotifier struct{}

// Notify 丢弃通知
func (NopNotifier) Notify(context.Context, Event) error { return nil }
