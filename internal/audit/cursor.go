package audit

import (
	"context"
	"fmt"

	"github.com/mautops/qms-gin/internal/model"
	"github.com/mautops/qms-gin/internal/repository"
)

const defaultPageSize = 100

// HistoryCursor 审计历史游标
// 惰性、可重置、有限; 读取时逐条重算哈希并校验链接
type HistoryCursor struct {
	ctx      context.Context
	rec      *Recorder
	recordID string
	pageSize int

	page     []*model.AuditEntryModel
	idx      int
	lastID   int64
	prevHash string
	current  *model.AuditEntryModel
	done     bool
	err      error
}

func newHistoryCursor(ctx context.Context, rec *Recorder, recordID string, pageSize int) *HistoryCursor {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &HistoryCursor{ctx: ctx, rec: rec, recordID: recordID, pageSize: pageSize}
}

// WithPageSize 设置每页读取条数
func (c *HistoryCursor) WithPageSize(n int) *HistoryCursor {
	if n > 0 {
		c.pageSize = n
	}
	return c
}

// Next 前进到下一条日志, 结束或出错时返回 false
func (c *HistoryCursor) Next() bool {
	if c.done || c.err != nil {
		return false
	}
	if c.idx >= len(c.page) {
		repo := repository.NewAuditEntryRepository(c.rec.db.WithContext(c.ctx))
		page, err := repo.FindPage(c.recordID, c.lastID, c.pageSize)
		if err != nil {
			c.err = fmt.Errorf("failed to read audit history: %w", err)
			return false
		}
		if len(page) == 0 {
			c.done = true
			c.current = nil
			return false
		}
		c.page, c.idx = page, 0
	}

	entry := c.page[c.idx]
	c.idx++

	if err := c.check(entry); err != nil {
		c.err = err
		c.current = nil
		if c.rec.onMismatch != nil {
			c.rec.onMismatch(c.ctx, err)
		}
		return false
	}

	c.prevHash = entry.PayloadHash
	c.lastID = entry.EntryID
	c.current = entry
	return true
}

func (c *HistoryCursor) check(entry *model.AuditEntryModel) *MismatchError {
	if entry.PrevHash != c.prevHash {
		return &MismatchError{RecordID: c.recordID, EntryID: entry.EntryID, Reason: "broken chain link"}
	}
	sum, err := ComputeHash(entry)
	if err != nil {
		return &MismatchError{RecordID: c.recordID, EntryID: entry.EntryID, Reason: err.Error()}
	}
	if sum != entry.PayloadHash {
		return &MismatchError{RecordID: c.recordID, EntryID: entry.EntryID, Reason: "content hash differs"}
	}
	return nil
}

// Entry 当前日志
func (c *HistoryCursor) Entry() *model.AuditEntryModel {
	return c.current
}

// Err 游标遇到的错误
func (c *HistoryCursor) Err() error {
	return c.err
}

// Reset 回到起点, 下次 Next 重新从第一条读取
func (c *HistoryCursor) Reset() {
	c.page = nil
	c.idx = 0
	c.lastID = 0
	c.prevHash = ""
	c.current = nil
	c.done = false
	c.err = nil
}

// Collect 读取剩余全部日志
func (c *HistoryCursor) Collect() ([]*model.AuditEntryModel, error) {
	var out []*model.AuditEntryModel
	for c.Next() {
		out = append(out, c.Entry())
	}
	return out, c.Err()
}
