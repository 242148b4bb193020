package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/qms-gin/internal/audit"
	"github.com/mautops/qms-gin/internal/lifecycle"
	"github.com/mautops/qms-gin/internal/model"
	"github.com/mautops/qms-gin/internal/notify"
	"github.com/mautops/qms-gin/internal/repository"
	"github.com/mautops/qms-gin/internal/scheduler"
	"github.com/mautops/qms-gin/internal/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CreateRecordInput 创建记录参数
type CreateRecordInput struct {
	Kind       lifecycle.RecordKind
	Prefix     string // 文档默认 DOC, 格式不含 {PREFIX} 时忽略
	Title      string
	Payload    json.RawMessage
	ContentRef string
	OwnerID    string // 为空时为创建人
	ActorID    string

	// CAPA 专用
	CapaType    lifecycle.CapaType
	CapaDueDate *time.Time
}

// SupersedeInput 创建新版本参数
type SupersedeInput struct {
	RecordID string
	// Payload 为空时沿用已发布版本的内容
	Payload          json.RawMessage
	ContentRef       string
	ActorID          string
	ExpectedRevision int64
}

// CreateRecord 创建记录及其第一个 Draft 版本
// 编号与已有记录冲突时序号仍然前进, 返回 DuplicateIdentifier, 调用方重试即得到下一个编号
func (e *Engine) CreateRecord(ctx context.Context, in CreateRecordInput) (res *Result, err error) {
	defer func() { e.observe("create_record", "", err) }()

	// 1. 校验参数
	if err := utils.ValidateActorID(in.ActorID); err != nil {
		return nil, invalid("actor: %v", err)
	}
	if !in.Kind.Valid() {
		return nil, invalid("unknown record kind %q", in.Kind)
	}
	format := e.formats[in.Kind]
	if err := validateNumberFormat(format); err != nil {
		return nil, infra(err, "misconfigured number format for %s", in.Kind)
	}
	prefix := strings.ToUpper(strings.TrimSpace(in.Prefix))
	if prefix == "" || !strings.Contains(format, "{PREFIX}") {
		prefix = in.Kind.DefaultPrefix()
	}
	if err := utils.ValidatePrefix(prefix); err != nil {
		return nil, invalid("prefix: %v", err)
	}
	title, err := utils.TrimAndValidate(in.Title, 255)
	if err != nil {
		return nil, invalid("title: %v", err)
	}
	payload, err := normalizePayload(in.Payload)
	if err != nil {
		return nil, err
	}
	owner := strings.TrimSpace(in.OwnerID)
	if owner == "" {
		owner = strings.TrimSpace(in.ActorID)
	}
	capaType := in.CapaType
	if in.Kind == lifecycle.KindCAPA {
		if capaType == "" {
			capaType = lifecycle.CapaCorrective
		}
		if !capaType.Valid() {
			return nil, invalid("unknown capa type %q", capaType)
		}
	}

	// 2. 分配编号, 序号在独立事务中提交
	now := e.now().UTC()
	scope := numberScope(format, prefix, now)
	var seq int64
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		seq, err = repository.NewSequenceRepository(tx).Next(scope)
		return err
	})
	if err != nil {
		return nil, infra(err, "failed to allocate number in %s", scope)
	}
	recordID := formatNumber(format, prefix, now, seq)
	if err := utils.ValidateRecordID(recordID); err != nil {
		return nil, infra(err, "number format produced invalid identifier %q", recordID)
	}

	unlock := e.locks.Lock(recordID)
	defer unlock()

	// 3. 构造记录和第一个版本
	versionID := uuid.New().String()
	m := &mutation{
		operation: "create_record",
		actor:     strings.TrimSpace(in.ActorID),
		created:   true,
		now:       now,
		record: model.RecordModel{
			RecordID:         recordID,
			Kind:             string(in.Kind),
			Prefix:           prefix,
			Title:            title,
			OwnerID:          owner,
			CurrentVersionID: versionID,
			State:            string(lifecycle.VersionDraft),
			CreatedBy:        strings.TrimSpace(in.ActorID),
		},
		focusVersion: versionID,
	}
	m.saveVersion(model.VersionModel{
		ID:            versionID,
		RecordID:      recordID,
		VersionNumber: 1,
		State:         string(lifecycle.VersionDraft),
		Payload:       payload,
		ContentRef:    in.ContentRef,
		CreatedBy:     m.actor,
		CreatedAt:     now,
	})

	logPayload := map[string]interface{}{
		"kind":           in.Kind,
		"prefix":         prefix,
		"title":          title,
		"owner_id":       owner,
		"version_number": 1,
	}
	if in.Kind == lifecycle.KindCAPA {
		capa := model.CapaModel{
			RecordID:  recordID,
			TypeID:    string(capaType),
			State:     string(lifecycle.CapaOpen),
			CreatedAt: now,
		}
		if in.CapaDueDate != nil {
			due := scheduler.Day(*in.CapaDueDate)
			capa.DueDate = &due
		}
		m.saveCapa(capa)
		logPayload["capa_type"] = capaType
		logPayload["capa_state"] = lifecycle.CapaOpen
	}
	m.log(notify.EventRecordCreated, versionID, "", string(lifecycle.VersionDraft), logPayload)

	// 4. 提交
	if err := e.commit(ctx, m); err != nil {
		return nil, err
	}
	return m.result(), nil
}

// GetRecord 读取记录
func (e *Engine) GetRecord(ctx context.Context, recordID string) (*model.RecordModel, error) {
	return e.loadRecord(ctx, recordID, false)
}

// ListRecords 分页查询记录
func (e *Engine) ListRecords(ctx context.Context, filter *repository.RecordFilter) ([]*model.RecordModel, int64, error) {
	records, total, err := repository.NewRecordRepository(e.db.WithContext(ctx)).FindByFilter(filter)
	if err != nil {
		return nil, 0, invalid("%v", err)
	}
	return records, total, nil
}

// GetCurrentVersion 读取记录的当前版本
func (e *Engine) GetCurrentVersion(ctx context.Context, recordID string) (*model.VersionModel, error) {
	rec, err := e.loadRecord(ctx, recordID, false)
	if err != nil {
		return nil, err
	}
	v, err := repository.NewVersionRepository(e.db.WithContext(ctx)).FindByID(rec.CurrentVersionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(ErrOrphanedVersionPointer, "record %s points to missing version %s", recordID, rec.CurrentVersionID)
		}
		return nil, infra(err, "failed to load version %s", rec.CurrentVersionID)
	}
	return v, nil
}

// GetPublishedVersion 读取最近一次生效的版本
func (e *Engine) GetPublishedVersion(ctx context.Context, recordID string) (*model.VersionModel, error) {
	rec, err := e.loadRecord(ctx, recordID, false)
	if err != nil {
		return nil, err
	}
	if rec.PublishedVersionID == nil {
		return nil, newError(ErrNoPublishedVersion, "record %s has never been activated", recordID)
	}
	if cached, ok := e.published.Get(recordID); ok && cached.ID == *rec.PublishedVersionID {
		return &cached, nil
	}
	v, err := repository.NewVersionRepository(e.db.WithContext(ctx)).FindByID(*rec.PublishedVersionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(ErrOrphanedVersionPointer, "record %s points to missing published version %s", recordID, *rec.PublishedVersionID)
		}
		return nil, infra(err, "failed to load version %s", *rec.PublishedVersionID)
	}
	e.published.Add(recordID, *v)
	return v, nil
}

// ListVersions 按版本号列出记录的全部版本
func (e *Engine) ListVersions(ctx context.Context, recordID string) ([]*model.VersionModel, error) {
	if _, err := e.loadRecord(ctx, recordID, false); err != nil {
		return nil, err
	}
	versions, err := repository.NewVersionRepository(e.db.WithContext(ctx)).FindByRecordID(recordID)
	if err != nil {
		return nil, infra(err, "failed to list versions of %s", recordID)
	}
	return versions, nil
}

// Supersede 在已发布版本之上创建 N+1 Draft 版本
// 新版本立即成为当前版本, 已发布指针保持不变
func (e *Engine) Supersede(ctx context.Context, in SupersedeInput) (*Result, error) {
	return e.withRecord(ctx, "supersede", in.RecordID, in.ActorID, in.ExpectedRevision, func(m *mutation) error {
		if m.record.Kind == string(lifecycle.KindCAPA) {
			return newError(ErrInvalidStateTransition, "capa records are not superseded")
		}

		versions := repository.NewVersionRepository(e.db.WithContext(ctx))
		current, err := versions.FindByID(m.record.CurrentVersionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newError(ErrOrphanedVersionPointer, "record %s points to missing version", m.record.RecordID)
			}
			return infra(err, "failed to load current version")
		}
		state := lifecycle.VersionState(current.State)
		if !state.Published() {
			return newError(ErrInvalidStateTransition, "version %d is %s; only an effective or obsolete version can be superseded",
				current.VersionNumber, state.Label())
		}

		payload := current.Payload
		contentRef := current.ContentRef
		if len(in.Payload) > 0 {
			if payload, err = normalizePayload(in.Payload); err != nil {
				return err
			}
		}
		if in.ContentRef != "" {
			contentRef = in.ContentRef
		}

		max, err := versions.MaxVersionNumber(m.record.RecordID)
		if err != nil {
			return infra(err, "failed to read version numbers")
		}

		supersedes := current.ID
		next := model.VersionModel{
			ID:                  uuid.New().String(),
			RecordID:            m.record.RecordID,
			VersionNumber:       max + 1,
			State:               string(lifecycle.VersionDraft),
			Payload:             payload,
			ContentRef:          contentRef,
			CreatedBy:           m.actor,
			CreatedAt:           m.now,
			SupersedesVersionID: &supersedes,
		}
		m.saveVersion(next)
		m.focusVersion = next.ID

		before := m.record.State
		m.record.CurrentVersionID = next.ID
		m.record.State = next.State
		m.log(notify.EventVersionCreated, next.ID, before, next.State, map[string]interface{}{
			"version_number":        next.VersionNumber,
			"supersedes_version_id": supersedes,
		})
		return nil
	})
}

// normalizePayload 校验并规范化版本内容, 必须是 JSON 对象
func normalizePayload(raw json.RawMessage) (datatypes.JSON, error) {
	if len(strings.TrimSpace(string(raw))) == 0 || strings.TrimSpace(string(raw)) == "null" {
		return datatypes.JSON("{}"), nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, invalid("payload must be a JSON object: %v", err)
	}
	canonical, err := audit.CanonicalJSON(raw)
	if err != nil {
		return nil, invalid("payload: %v", err)
	}
	return datatypes.JSON(canonical), nil
}

// payloadEmpty 内容为空对象且没有文件引用
func payloadEmpty(v *model.VersionModel) bool {
	if v.ContentRef != "" {
		return false
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(v.Payload, &obj); err != nil {
		return true
	}
	return len(obj) == 0
}
