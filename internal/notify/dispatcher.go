package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/qms-gin/internal/metrics"
	"github.com/mautops/qms-gin/internal/model"
	"github.com/mautops/qms-gin/internal/repository"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Options 分发器配置
type Options struct {
	Workers    int
	QueueSize  int
	MaxRetries int
	Backoff    time.Duration
}

type job struct {
	outboxID string
	evt      Event
}

// Dispatcher 基于发件箱的通知分发器
// Notify 先把事件写入 notification_outbox, 再交给 worker 异步投递到全部 Sink
type Dispatcher struct {
	db     *gorm.DB
	sinks  []Sink
	opts   Options
	logger *logrus.Logger

	queue chan job
	stop  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

// NewDispatcher 创建通知分发器
func NewDispatcher(db *gorm.DB, opts Options, logger *logrus.Logger, sinks ...Sink) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Dispatcher{
		db:     db,
		sinks:  sinks,
		opts:   opts,
		logger: logger,
		queue:  make(chan job, opts.QueueSize),
		stop:   make(chan struct{}),
	}
}

// AddSink 添加投递目标, 需在 Start 之前调用
func (d *Dispatcher) AddSink(s Sink) {
	d.sinks = append(d.sinks, s)
}

// Start 启动 worker 并重新投递启动前遗留的 pending 事件
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	if n, err := d.RedeliverPending(ctx, d.opts.QueueSize); err != nil {
		d.logger.WithError(err).Warn("failed to redeliver pending notifications")
	} else if n > 0 {
		d.logger.WithField("count", n).Info("redelivering pending notifications")
	}
}

// Stop 停止 worker, 等待正在投递的事件完成
func (d *Dispatcher) Stop() {
	d.once.Do(func() {
		close(d.stop)
		d.wg.Wait()
	})
}

// Notify 持久化事件并入队
func (d *Dispatcher) Notify(ctx context.Context, evt Event) error {
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	// 1. 持久化到发件箱
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	now := time.Now().UTC()
	outbox := &model.EventModel{
		ID:        evt.ID,
		RecordID:  evt.RecordID,
		Type:      evt.Type,
		Data:      data,
		Status:    model.EventPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repository.NewEventRepository(d.db.WithContext(ctx)).Save(outbox); err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}

	// 2. 入队, 队列满时留在发件箱等待下次重新投递
	select {
	case d.queue <- job{outboxID: outbox.ID, evt: evt}:
	default:
		d.logger.WithFields(logrus.Fields{
			"event_id":  evt.ID,
			"type":      evt.Type,
			"record_id": evt.RecordID,
		}).Warn("notification queue full, event left in outbox")
	}
	return nil
}

// RedeliverPending 把发件箱中的 pending 事件重新入队, 返回入队条数
func (d *Dispatcher) RedeliverPending(ctx context.Context, limit int) (int, error) {
	rows, err := repository.NewEventRepository(d.db.WithContext(ctx)).FindPending(limit)
	if err != nil {
		return 0, fmt.Errorf("failed to load pending events: %w", err)
	}
	n := 0
	for _, row := range rows {
		var evt Event
		if err := json.Unmarshal(row.Data, &evt); err != nil {
			d.logger.WithError(err).WithField("event_id", row.ID).Error("failed to decode outbox event")
			continue
		}
		select {
		case d.queue <- job{outboxID: row.ID, evt: evt}:
			n++
		default:
			return n, nil
		}
	}
	return n, nil
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case j := <-d.queue:
			d.deliver(j)
		case <-d.stop:
			return
		}
	}
}

// deliver 投递到全部 Sink, 失败的 Sink 按指数退避重试
func (d *Dispatcher) deliver(j job) {
	repo := repository.NewEventRepository(d.db)
	row, err := repo.FindByID(j.outboxID)
	if err != nil {
		d.logger.WithError(err).WithField("event_id", j.outboxID).Error("failed to find outbox event")
		return
	}
	if row.Status != model.EventPending {
		return
	}

	pending := d.sinks
	backoff := d.opts.Backoff
	var lastErr error

	for attempt := 0; attempt < d.opts.MaxRetries; attempt++ {
		var failed []Sink
		for _, sink := range pending {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := sink.Send(ctx, j.evt)
			cancel()
			if err != nil {
				failed = append(failed, sink)
				lastErr = err
				metrics.RecordNotification(sink.Name(), "error")
				d.logger.WithError(err).WithFields(logrus.Fields{
					"sink":      sink.Name(),
					"event_id":  j.evt.ID,
					"record_id": j.evt.RecordID,
					"attempt":   attempt + 1,
				}).Warn("notification delivery failed")
				continue
			}
			metrics.RecordNotification(sink.Name(), "ok")
		}

		if len(failed) == 0 {
			row.Status = model.EventSuccess
			row.LastError = ""
			row.UpdatedAt = time.Now().UTC()
			d.save(repo, row)
			return
		}

		row.RetryCount++
		row.LastError = lastErr.Error()
		row.UpdatedAt = time.Now().UTC()
		d.save(repo, row)

		pending = failed
		if attempt < d.opts.MaxRetries-1 {
			select {
			case <-time.After(backoff):
			case <-d.stop:
				return
			}
			backoff *= 2
		}
	}

	row.Status = model.EventFailed
	row.UpdatedAt = time.Now().UTC()
	d.save(repo, row)
	d.logger.WithFields(logrus.Fields{
		"event_id":  j.evt.ID,
		"record_id": j.evt.RecordID,
		"retries":   row.RetryCount,
	}).Error("notification delivery gave up")
}

func (d *Dispatcher) save(repo repository.EventRepository, row *model.EventModel) {
	if err := repo.Save(row); err != nil {
		d.logger.WithError(err).WithField("event_id", row.ID).Error("failed to update outbox event")
	}
}
