// Package audit 只追加、哈希链防篡改的审计日志.
//
// Recorder.Record 是写入审计日志的唯一入口. 每条日志的 payload_hash 覆盖
// 自身全部字段和同一记录上一条日志的哈希, 读取时重新计算以发现篡改.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mautops/qms-gin/internal/metrics"
	"github.com/mautops/qms-gin/internal/model"
	"github.com/mautops/qms-gin/internal/repository"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	// ErrDuplicateEntryID entry_id 为一次写入键
	ErrDuplicateEntryID = errors.New("audit entry id already exists")
	// ErrOutOfOrder 显式 entry_id 小于记录已有的最大 entry_id
	ErrOutOfOrder = errors.New("audit entry id is not monotonic for record")
	// ErrHashMismatch 重新计算的哈希与存储不一致
	ErrHashMismatch = errors.New("audit hash mismatch")
	// ErrEntryIDConflict 自动分配的 entry_id 被另一个写入方先占用
	ErrEntryIDConflict = errors.New("audit entry id taken by a concurrent writer")
)

// MismatchError 哈希校验失败详情
type MismatchError struct {
	RecordID string
	EntryID  int64
	Reason   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("audit hash mismatch on record %s entry %d: %s", e.RecordID, e.EntryID, e.Reason)
}

// Is 支持 errors.Is(err, ErrHashMismatch)
func (e *MismatchError) Is(target error) bool {
	return target == ErrHashMismatch
}

// Entry 待写入的审计事件
type Entry struct {
	EntryID     int64 // 为 0 时自动分配
	RecordID    string
	VersionID   string
	ActorID     string
	EventType   string
	BeforeState string
	AfterState  string
	Payload     interface{}
	Timestamp   time.Time
	JournalID   string
}

// sequence 进程内已分配的最大 entry_id
// 每次分配取它与存储中 MAX(entry_id) 的较大值, 其他进程的写入也能看到
type sequence struct {
	mu   sync.Mutex
	last int64
}

// Recorder 审计日志记录器
type Recorder struct {
	db         *gorm.DB
	seq        *sequence
	now        func() time.Time
	onMismatch func(ctx context.Context, err *MismatchError)
}

// NewRecorder 创建审计日志记录器
func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db, seq: &sequence{}, now: time.Now}
}

// WithTx 返回绑定到事务的记录器, 与原记录器共享计数器
func (r *Recorder) WithTx(tx *gorm.DB) *Recorder {
	return &Recorder{db: tx, seq: r.seq, now: r.now, onMismatch: r.onMismatch}
}

// SetClock 设置时间来源
func (r *Recorder) SetClock(now func() time.Time) {
	r.now = now
}

// OnMismatch 注册哈希校验失败回调
func (r *Recorder) OnMismatch(fn func(ctx context.Context, err *MismatchError)) {
	r.onMismatch = fn
}

// Record 写入一条审计日志
func (r *Recorder) Record(ctx context.Context, entry Entry) (*model.AuditEntryModel, error) {
	if entry.RecordID == "" || entry.ActorID == "" || entry.EventType == "" {
		return nil, errors.New("audit entry requires record, actor and event type")
	}

	payload, err := encodePayload(entry.Payload)
	if err != nil {
		return nil, err
	}

	db := r.db.WithContext(ctx)
	repo := repository.NewAuditEntryRepository(db)

	r.seq.mu.Lock()
	defer r.seq.mu.Unlock()

	// 1. 查找链尾
	var prevHash string
	var prevID int64
	latest, err := repo.FindLatestByRecord(entry.RecordID)
	switch {
	case err == nil:
		prevHash, prevID = latest.PayloadHash, latest.EntryID
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return nil, fmt.Errorf("failed to load audit chain: %w", err)
	}

	// 2. 分配 entry_id
	id := entry.EntryID
	if id == 0 {
		max, err := repo.MaxEntryID()
		if err != nil {
			return nil, fmt.Errorf("failed to read audit sequence: %w", err)
		}
		if r.seq.last > max {
			max = r.seq.last
		}
		id = max + 1
	} else {
		exists, err := repo.Exists(id)
		if err != nil {
			return nil, fmt.Errorf("failed to check audit entry id: %w", err)
		}
		if exists {
			return nil, ErrDuplicateEntryID
		}
		if id <= prevID {
			return nil, ErrOutOfOrder
		}
	}

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = r.now()
	}

	m := &model.AuditEntryModel{
		EntryID:     id,
		RecordID:    entry.RecordID,
		VersionID:   entry.VersionID,
		ActorID:     entry.ActorID,
		EventType:   entry.EventType,
		BeforeState: entry.BeforeState,
		AfterState:  entry.AfterState,
		Payload:     payload,
		Timestamp:   NormalizeTime(ts),
		PrevHash:    prevHash,
		JournalID:   entry.JournalID,
	}
	if m.PayloadHash, err = ComputeHash(m); err != nil {
		return nil, err
	}

	// 3. 追加
	if err := repo.Create(m); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			if entry.EntryID == 0 {
				return nil, fmt.Errorf("%w: %d", ErrEntryIDConflict, id)
			}
			return nil, ErrDuplicateEntryID
		}
		return nil, fmt.Errorf("failed to append audit entry: %w", err)
	}
	if id > r.seq.last {
		r.seq.last = id
	}
	metrics.RecordAuditEntry(entry.EventType)
	return m, nil
}

// QueryHistory 返回记录审计日志的游标, 按 entry_id 升序惰性分页读取
func (r *Recorder) QueryHistory(ctx context.Context, recordID string) *HistoryCursor {
	return newHistoryCursor(ctx, r, recordID, defaultPageSize)
}

// Verify 校验记录的完整哈希链, 返回校验的日志条数
func (r *Recorder) Verify(ctx context.Context, recordID string) (int, error) {
	cur := r.QueryHistory(ctx, recordID)
	n := 0
	for cur.Next() {
		n++
	}
	return n, cur.Err()
}

func encodePayload(p interface{}) (datatypes.JSON, error) {
	var raw []byte
	switch v := p.(type) {
	case nil:
		return datatypes.JSON("{}"), nil
	case []byte:
		raw = v
	case json.RawMessage:
		raw = v
	case datatypes.JSON:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal audit payload: %w", err)
		}
		raw = b
	}
	canonical, err := CanonicalJSON(raw)
	if err != nil {
		return nil, err
	}
	if len(canonical) == 0 {
		canonical = []byte("{}")
	}
	return datatypes.JSON(canonical), nil
}
