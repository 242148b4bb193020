package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/qms-gin/internal/lifecycle"
	"github.com/mautops/qms-gin/internal/model"
	"github.com/mautops/qms-gin/internal/notify"
	"github.com/mautops/qms-gin/internal/repository"
	"github.com/mautops/qms-gin/internal/scheduler"
	"github.com/mautops/qms-gin/internal/utils"
	"gorm.io/gorm"
)

// AddActionInput 添加措施参数
type AddActionInput struct {
	CapaID           string
	Description      string
	OwnerID          string
	DueDate          *time.Time
	ActorID          string
	ExpectedRevision int64
}

// AddEvidenceInput 添加证据参数
type AddEvidenceInput struct {
	ActionID         string
	Description      string
	ContentRef       string
	ActorID          string
	ExpectedRevision int64
}

// VerifyActionInput 验证措施参数
type VerifyActionInput struct {
	ActionID         string
	VerifierID       string
	Decision         lifecycle.VerificationDecision
	Comment          string
	ExpectedRevision int64
}

// CloseCapaInput 效果复审参数
type CloseCapaInput struct {
	CapaID             string
	Score              int
	VerificationMethod string
	Comment            string
	ReviewerID         string
	SignatureConfirmed bool
	ExpectedRevision   int64
}

// CapaView CAPA 及其措施和证据
type CapaView struct {
	Record   *model.RecordModel                   `json:"record"`
	Capa     *model.CapaModel                     `json:"capa"`
	Actions  []*model.CapaActionModel             `json:"actions"`
	Evidence map[string][]*model.CapaEvidenceModel `json:"evidence"`
}

// GetCapa 读取 CAPA 视图
func (e *Engine) GetCapa(ctx context.Context, capaID string) (*CapaView, error) {
	rec, err := e.loadRecord(ctx, capaID, false)
	if err != nil {
		return nil, err
	}
	repo := repository.NewCapaRepository(e.db.WithContext(ctx))
	capa, err := e.findCapa(repo, rec)
	if err != nil {
		return nil, err
	}
	actions, err := repo.FindActions(capa.RecordID)
	if err != nil {
		return nil, infra(err, "failed to list actions of %s", capaID)
	}
	view := &CapaView{
		Record:   rec,
		Capa:     capa,
		Actions:  actions,
		Evidence: make(map[string][]*model.CapaEvidenceModel, len(actions)),
	}
	for _, a := range actions {
		ev, err := repo.FindEvidence(a.ID)
		if err != nil {
			return nil, infra(err, "failed to list evidence of %s", a.ID)
		}
		view.Evidence[a.ID] = ev
	}
	return view, nil
}

// GetAction 读取措施
func (e *Engine) GetAction(ctx context.Context, actionID string) (*model.CapaActionModel, error) {
	return e.findAction(ctx, actionID)
}

// AddAction 为 Open/InProgress 的 CAPA 添加措施
func (e *Engine) AddAction(ctx context.Context, in AddActionInput) (*Result, error) {
	return e.withCapa(ctx, "add_action", in.CapaID, in.ActorID, in.ExpectedRevision, func(m *mutation, capa *model.CapaModel) error {
		description, err := utils.TrimAndValidate(in.Description, 4000)
		if err != nil {
			return invalid("description: %v", err)
		}
		owner := strings.TrimSpace(in.OwnerID)
		if err := utils.ValidateActorID(owner); err != nil {
			return invalid("action owner: %v", err)
		}
		state := lifecycle.CapaState(capa.State)
		if !state.AcceptsWork() {
			return newError(ErrCapaNotEditable, "capa %s is %s and no longer accepts actions", capa.RecordID, state.Label())
		}

		action := model.CapaActionModel{
			ID:          uuid.New().String(),
			CapaID:      capa.RecordID,
			Description: description,
			OwnerID:     owner,
			CreatedBy:   m.actor,
			CreatedAt:   m.now,
		}
		if in.DueDate != nil {
			due := scheduler.Day(*in.DueDate)
			action.DueDate = &due
		}
		m.saveAction(action)
		m.saveCapa(*capa)
		m.focusAction = action.ID
		m.log(notify.EventCapaUpdated, "", capa.State, capa.State, map[string]interface{}{
			"change":      "action_added",
			"action_id":   action.ID,
			"owner_id":    owner,
			"description": description,
		})
		return nil
	})
}

// StartCapa Open → InProgress, 至少需要一个措施
func (e *Engine) StartCapa(ctx context.Context, capaID, actorID string, expected int64) (*Result, error) {
	return e.withCapa(ctx, "start_capa", capaID, actorID, expected, func(m *mutation, capa *model.CapaModel) error {
		state := lifecycle.CapaState(capa.State)
		next, ok := state.Next(lifecycle.TriggerStart)
		if !ok {
			return newError(ErrInvalidStateTransition, "capa %s is %s and cannot be started", capa.RecordID, state.Label())
		}
		actions, err := repository.NewCapaRepository(e.db.WithContext(ctx)).FindActions(capa.RecordID)
		if err != nil {
			return infra(err, "failed to list actions")
		}
		if len(actions) == 0 {
			return newError(ErrNoActions, "capa %s has no actions", capa.RecordID)
		}

		capa.State = string(next)
		m.saveCapa(*capa)
		m.log(notify.EventCapaUpdated, "", string(state), capa.State, map[string]interface{}{
			"change":  "started",
			"actions": len(actions),
		})
		return nil
	})
}

// AddEvidence 为措施添加证据, 已验证通过的措施不再接受证据
func (e *Engine) AddEvidence(ctx context.Context, in AddEvidenceInput) (*Result, error) {
	return e.withAction(ctx, "add_evidence", in.ActionID, in.ActorID, in.ExpectedRevision, func(m *mutation, capa *model.CapaModel, action *model.CapaActionModel) error {
		description := utils.SanitizeString(strings.TrimSpace(in.Description))
		contentRef := strings.TrimSpace(in.ContentRef)
		if description == "" && contentRef == "" {
			return invalid("evidence needs a description or a content reference")
		}
		state := lifecycle.CapaState(capa.State)
		if !state.AcceptsWork() {
			return newError(ErrCapaNotEditable, "capa %s is %s and no longer accepts evidence", capa.RecordID, state.Label())
		}
		if action.Verified() {
			return newError(ErrActionAlreadyVerified, "action %s is already verified", action.ID)
		}

		evidence := model.CapaEvidenceModel{
			ID:          uuid.New().String(),
			ActionID:    action.ID,
			CapaID:      capa.RecordID,
			Description: description,
			ContentRef:  contentRef,
			AddedBy:     m.actor,
			AddedAt:     m.now,
		}
		m.saveEvidence(evidence)
		m.saveAction(*action)
		m.log(notify.EventCapaUpdated, "", capa.State, capa.State, map[string]interface{}{
			"change":      "evidence_added",
			"action_id":   action.ID,
			"evidence_id": evidence.ID,
			"content_ref": contentRef,
		})
		return nil
	})
}

// VerifyAction 验证措施
// 验证人不能是措施负责人, 至少需要一条证据; 通过的验证不可更改, 不通过的可以重新验证
func (e *Engine) VerifyAction(ctx context.Context, in VerifyActionInput) (*Result, error) {
	return e.withAction(ctx, "verify_action", in.ActionID, in.VerifierID, in.ExpectedRevision, func(m *mutation, capa *model.CapaModel, action *model.CapaActionModel) error {
		if !in.Decision.Valid() {
			return invalid("verification decision must be verified or rejected")
		}
		state := lifecycle.CapaState(capa.State)
		if !state.AcceptsWork() {
			return newError(ErrCapaNotEditable, "capa %s is %s and actions can no longer be verified", capa.RecordID, state.Label())
		}
		if action.Verified() {
			return newError(ErrActionAlreadyVerified, "action %s is already verified", action.ID)
		}
		if m.actor == action.OwnerID {
			return newError(ErrSegregationOfDutiesViolation, "%s owns action %s and cannot verify it", m.actor, action.ID)
		}
		count, err := repository.NewCapaRepository(e.db.WithContext(ctx)).CountEvidence(action.ID)
		if err != nil {
			return infra(err, "failed to count evidence")
		}
		if count == 0 {
			return newError(ErrEvidenceRequired, "action %s has no evidence", action.ID)
		}

		verifiedAt := m.now
		action.VerifierID = m.actor
		action.VerificationDecision = string(in.Decision)
		action.VerificationComment = utils.SanitizeString(strings.TrimSpace(in.Comment))
		action.VerifiedAt = &verifiedAt
		m.saveAction(*action)
		m.log(notify.EventCapaUpdated, "", capa.State, capa.State, map[string]interface{}{
			"change":    "action_verified",
			"action_id": action.ID,
			"decision":  in.Decision,
			"evidence":  count,
		})
		return nil
	})
}

// MarkReady InProgress → PendingEffectivenessReview, 全部措施必须验证通过
func (e *Engine) MarkReady(ctx context.Context, capaID, actorID string, expected int64) (*Result, error) {
	return e.withCapa(ctx, "mark_ready", capaID, actorID, expected, func(m *mutation, capa *model.CapaModel) error {
		state := lifecycle.CapaState(capa.State)
		next, ok := state.Next(lifecycle.TriggerMarkReady)
		if !ok {
			return newError(ErrInvalidStateTransition, "capa %s is %s and cannot be marked ready", capa.RecordID, state.Label())
		}
		if err := e.requireVerified(ctx, capa.RecordID); err != nil {
			return err
		}

		capa.State = string(next)
		capa.ReadyForEffectivenessReview = true
		m.saveCapa(*capa)
		m.log(notify.EventCapaUpdated, "", string(state), capa.State, map[string]interface{}{
			"change": "ready_for_effectiveness_review",
		})
		return nil
	})
}

// CloseCapa 效果复审
// 评分低于阈值时复审结果照常提交, 安排跟进日期并返回 EffectivenessNotDemonstrated;
// 达标时 CAPA 关闭, 其当前版本冻结并以关闭当天生效
func (e *Engine) CloseCapa(ctx context.Context, in CloseCapaInput) (*Result, error) {
	return e.withCapa(ctx, "close_capa", in.CapaID, in.ReviewerID, in.ExpectedRevision, func(m *mutation, capa *model.CapaModel) error {
		// 1. 参数与签名
		if in.Score < 0 || in.Score > 100 {
			return invalid("effectiveness score %d is outside 0..100", in.Score)
		}
		method, err := utils.TrimAndValidate(in.VerificationMethod, 255)
		if err != nil {
			return invalid("verification method is required")
		}
		if !in.SignatureConfirmed {
			return newError(ErrSignatureNotConfirmed, "electronic signature was not confirmed by %s", m.actor)
		}
		state := lifecycle.CapaState(capa.State)
		next, ok := state.Next(lifecycle.TriggerClose)
		if !ok {
			return newError(ErrInvalidStateTransition, "capa %s is %s; only a capa pending effectiveness review can be closed", capa.RecordID, state.Label())
		}
		if err := e.requireVerified(ctx, capa.RecordID); err != nil {
			return err
		}

		// 2. 记录复审结果
		reviewedAt := m.now
		score := in.Score
		capa.EffectivenessScore = &score
		capa.VerificationMethod = method
		capa.EffectivenessComment = utils.SanitizeString(strings.TrimSpace(in.Comment))
		capa.EffectivenessReviewedBy = m.actor
		capa.EffectivenessReviewedAt = &reviewedAt
		capa.ReviewAttempts++

		threshold := e.EffectivenessThreshold()
		if score < threshold {
			followUp := scheduler.FollowUpDate(m.now, e.followUpDays)
			capa.NextReviewDate = &followUp
			m.saveCapa(*capa)
			m.log(notify.EventCapaReviewFailed, "", capa.State, capa.State, map[string]interface{}{
				"score":            score,
				"threshold":        threshold,
				"method":           method,
				"attempt":          capa.ReviewAttempts,
				"next_review_date": followUp.Format("2006-01-02"),
			})
			m.outcome = newError(ErrEffectivenessNotDemonstrated,
				"effectiveness score %d is below threshold %d; follow-up review due %s",
				score, threshold, followUp.Format("2006-01-02"))
			return nil
		}

		// 3. 关闭
		closedAt := m.now
		capa.State = string(next)
		capa.ClosedAt = &closedAt
		capa.NextReviewDate = nil
		m.saveCapa(*capa)
		m.log(notify.EventCapaClosed, "", string(state), capa.State, map[string]interface{}{
			"score":     score,
			"threshold": threshold,
			"method":    method,
			"attempt":   capa.ReviewAttempts,
		})

		// 4. 冻结并生效 CAPA 的当前版本
		v, err := e.findVersion(ctx, m.record.CurrentVersionID)
		if err != nil {
			if errors.Is(err, ErrVersionNotFound) {
				return newError(ErrOrphanedVersionPointer, "capa %s points to missing version", capa.RecordID)
			}
			return err
		}
		m.focusVersion = v.ID
		if err := e.signOff(ctx, m, v, capa.EffectivenessComment); err != nil {
			return err
		}
		return e.activate(ctx, m, v, m.now)
	})
}

// signOff 以复审人的签名冻结 CAPA 版本, 作废进行中的审批占位
func (e *Engine) signOff(ctx context.Context, m *mutation, v *model.VersionModel, comment string) error {
	state := lifecycle.VersionState(v.State)
	switch state {
	case lifecycle.VersionApproved:
		return nil
	case lifecycle.VersionDraft, lifecycle.VersionInReview:
	default:
		return newError(ErrInvalidStateTransition, "capa version %d is %s and cannot be approved", v.VersionNumber, state.Label())
	}

	if state == lifecycle.VersionInReview {
		round, err := repository.NewApprovalEventRepository(e.db.WithContext(ctx)).FindByRound(v.ID, v.ApprovalRound)
		if err != nil {
			return infra(err, "failed to load approval round")
		}
		for _, a := range round {
			if a.Decision == string(lifecycle.DecisionPending) {
				a.Decision = string(lifecycle.DecisionVoid)
				m.saveApproval(*a)
			}
		}
	}

	signedAt := m.now
	v.ApprovalRound++
	v.RequiredSigners = []string{m.actor}
	m.saveApproval(model.ApprovalEventModel{
		ID:                 uuid.New().String(),
		VersionID:          v.ID,
		RecordID:           v.RecordID,
		Round:              v.ApprovalRound,
		SignerID:           m.actor,
		Decision:           string(lifecycle.DecisionApproved),
		Comment:            comment,
		SignedAt:           &signedAt,
		SignatureConfirmed: true,
		CreatedAt:          m.now,
	})
	before := v.State
	freeze(m, v)
	m.log(notify.EventVersionApproved, v.ID, before, v.State, map[string]interface{}{
		"round":   v.ApprovalRound,
		"signers": []string{m.actor},
		"reason":  "effectiveness_review",
	})
	return nil
}

// CancelCapa 取消未结束的 CAPA
func (e *Engine) CancelCapa(ctx context.Context, capaID, reason, actorID string, expected int64) (*Result, error) {
	return e.withCapa(ctx, "cancel_capa", capaID, actorID, expected, func(m *mutation, capa *model.CapaModel) error {
		why, err := utils.TrimAndValidate(reason, 2000)
		if err != nil {
			return invalid("cancel reason is required")
		}
		state := lifecycle.CapaState(capa.State)
		next, ok := state.Next(lifecycle.TriggerCancel)
		if !ok {
			return newError(ErrInvalidStateTransition, "capa %s is %s and cannot be cancelled", capa.RecordID, state.Label())
		}

		capa.State = string(next)
		capa.CancelReason = why
		capa.NextReviewDate = nil
		m.saveCapa(*capa)
		m.log(notify.EventCapaCancelled, "", string(state), capa.State, map[string]interface{}{
			"reason": why,
		})
		return nil
	})
}

// requireVerified 全部措施验证通过
func (e *Engine) requireVerified(ctx context.Context, capaID string) error {
	actions, err := repository.NewCapaRepository(e.db.WithContext(ctx)).FindActions(capaID)
	if err != nil {
		return infra(err, "failed to list actions")
	}
	if len(actions) == 0 {
		return newError(ErrNoActions, "capa %s has no actions", capaID)
	}
	var pending []string
	for _, a := range actions {
		if !a.Verified() {
			pending = append(pending, a.ID)
		}
	}
	if len(pending) > 0 {
		return newError(ErrActionsNotVerified, "%d of %d actions are not verified: %s",
			len(pending), len(actions), strings.Join(pending, ", "))
	}
	return nil
}

// withCapa 在 CAPA 记录的锁内执行 fn
func (e *Engine) withCapa(ctx context.Context, op, capaID, actor string, expected int64, fn func(m *mutation, capa *model.CapaModel) error) (*Result, error) {
	return e.withRecord(ctx, op, capaID, actor, expected, func(m *mutation) error {
		capa, err := e.findCapa(repository.NewCapaRepository(e.db.WithContext(ctx)), &m.record)
		if err != nil {
			return err
		}
		return fn(m, capa)
	})
}

// withAction 在措施所属 CAPA 的锁内执行 fn, 进入 fn 前重新读取措施
func (e *Engine) withAction(ctx context.Context, op, actionID, actor string, expected int64, fn func(m *mutation, capa *model.CapaModel, action *model.CapaActionModel) error) (*Result, error) {
	action, err := e.findAction(ctx, actionID)
	if err != nil {
		e.observe(op, "", err)
		return nil, err
	}
	return e.withCapa(ctx, op, action.CapaID, actor, expected, func(m *mutation, capa *model.CapaModel) error {
		action, err := e.findAction(ctx, actionID)
		if err != nil {
			return err
		}
		m.focusAction = action.ID
		return fn(m, capa, action)
	})
}

func (e *Engine) findCapa(repo repository.CapaRepository, rec *model.RecordModel) (*model.CapaModel, error) {
	if rec.Kind != string(lifecycle.KindCAPA) {
		return nil, newError(ErrRecordNotFound, "record %s is not a capa", rec.RecordID)
	}
	capa, err := repo.FindByID(rec.RecordID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(ErrRecordNotFound, "capa %s not found", rec.RecordID)
		}
		return nil, infra(err, "failed to load capa %s", rec.RecordID)
	}
	return capa, nil
}

func (e *Engine) findAction(ctx context.Context, actionID string) (*model.CapaActionModel, error) {
	if actionID == "" {
		return nil, invalid("action id is required")
	}
	action, err := repository.NewCapaRepository(e.db.WithContext(ctx)).FindActionByID(actionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(ErrActionNotFound, "action %s not found", actionID)
		}
		return nil, infra(err, "failed to load action %s", actionID)
	}
	return action, nil
}
