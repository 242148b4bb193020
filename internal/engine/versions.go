package engine

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mautops/qms-gin/internal/lifecycle"
	"github.com/mautops/qms-gin/internal/model"
	"github.com/mautops/qms-gin/internal/notify"
	"github.com/mautops/qms-gin/internal/repository"
	"gorm.io/gorm"
)

// EditDraftInput 编辑草稿参数
type EditDraftInput struct {
	VersionID        string
	Payload          json.RawMessage // 为空时不修改
	ContentRef       *string         // 为空时不修改
	ActorID          string
	ExpectedRevision int64
}

// GetVersion 读取版本
func (e *Engine) GetVersion(ctx context.Context, versionID string) (*model.VersionModel, error) {
	v, err := e.findVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	// 版本所属记录可能有未完成的日志
	if _, err := e.loadRecord(ctx, v.RecordID, false); err != nil {
		return nil, err
	}
	return e.findVersion(ctx, versionID)
}

// ListApprovals 列出版本的全部签名, 包括历史轮次
func (e *Engine) ListApprovals(ctx context.Context, versionID string) ([]*model.ApprovalEventModel, error) {
	if _, err := e.GetVersion(ctx, versionID); err != nil {
		return nil, err
	}
	events, err := repository.NewApprovalEventRepository(e.db.WithContext(ctx)).FindByVersionID(versionID)
	if err != nil {
		return nil, infra(err, "failed to list approvals of %s", versionID)
	}
	return events, nil
}

// EditDraft 修改 Draft 版本的内容
func (e *Engine) EditDraft(ctx context.Context, in EditDraftInput) (*Result, error) {
	return e.withVersion(ctx, "edit_draft", in.VersionID, in.ActorID, in.ExpectedRevision, func(m *mutation, v *model.VersionModel) error {
		if err := editable(v); err != nil {
			return err
		}
		if len(in.Payload) == 0 && in.ContentRef == nil {
			return invalid("nothing to edit")
		}

		changed := []string{}
		if len(in.Payload) > 0 {
			payload, err := normalizePayload(in.Payload)
			if err != nil {
				return err
			}
			v.Payload = payload
			changed = append(changed, "payload")
		}
		if in.ContentRef != nil {
			v.ContentRef = *in.ContentRef
			changed = append(changed, "content_ref")
		}

		m.saveVersion(*v)
		m.log(notify.EventVersionEdited, v.ID, v.State, v.State, map[string]interface{}{
			"version_number": v.VersionNumber,
			"fields":         changed,
		})
		return nil
	})
}

// editable 只有 Draft 接受修改
func editable(v *model.VersionModel) error {
	state := lifecycle.VersionState(v.State)
	switch {
	case state.Editable():
		return nil
	case state == lifecycle.VersionInReview:
		return newError(ErrVersionUnderReview, "version %d is under review; reject it to edit", v.VersionNumber)
	default:
		return newError(ErrImmutableVersion, "version %d is %s and can no longer be modified", v.VersionNumber, state.Label())
	}
}

// freeze 冻结版本内容, 进入 Approved
func freeze(m *mutation, v *model.VersionModel) {
	now := m.now
	v.State = string(lifecycle.VersionApproved)
	v.FrozenAt = &now
	if m.record.CurrentVersionID == v.ID {
		m.record.State = v.State
	}
}

// withVersion 在版本所属记录的锁内执行 fn, 进入 fn 前重新读取版本
func (e *Engine) withVersion(ctx context.Context, op, versionID, actor string, expected int64, fn func(m *mutation, v *model.VersionModel) error) (*Result, error) {
	v, err := e.findVersion(ctx, versionID)
	if err != nil {
		e.observe(op, "", err)
		return nil, err
	}
	return e.withRecord(ctx, op, v.RecordID, actor, expected, func(m *mutation) error {
		v, err := e.findVersion(ctx, versionID)
		if err != nil {
			return err
		}
		m.focusVersion = v.ID
		return fn(m, v)
	})
}

func (e *Engine) findVersion(ctx context.Context, versionID string) (*model.VersionModel, error) {
	if versionID == "" {
		return nil, invalid("version id is required")
	}
	v, err := repository.NewVersionRepository(e.db.WithContext(ctx)).FindByID(versionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(ErrVersionNotFound, "version %s not found", versionID)
		}
		return nil, infra(err, "failed to load version %s", versionID)
	}
	return v, nil
}
