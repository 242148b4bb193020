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

// SubmitForReviewInput 提交审批参数
type SubmitForReviewInput struct {
	VersionID        string
	RequiredSigners  []string
	ActorID          string
	ExpectedRevision int64
}

// SignApprovalInput 电子签名参数
type SignApprovalInput struct {
	VersionID          string
	SignerID           string
	Decision           lifecycle.Decision
	Comment            string
	SignatureConfirmed bool
	ExpectedRevision   int64
}

// ActivateInput 生效参数
type ActivateInput struct {
	VersionID        string
	EffectiveDate    time.Time
	ActorID          string
	ExpectedRevision int64
}

// RetireInput 废止参数
type RetireInput struct {
	VersionID        string
	Reason           string
	ActorID          string
	ExpectedRevision int64
}

// SubmitForReview Draft → InReview, 为每个必需签署人创建新一轮的 pending 占位
func (e *Engine) SubmitForReview(ctx context.Context, in SubmitForReviewInput) (*Result, error) {
	return e.withVersion(ctx, "submit_for_review", in.VersionID, in.ActorID, in.ExpectedRevision, func(m *mutation, v *model.VersionModel) error {
		state := lifecycle.VersionState(v.State)
		next, ok := state.Next(lifecycle.TriggerSubmit)
		if !ok {
			return newError(ErrInvalidStateTransition, "version %d is %s and cannot be submitted for review", v.VersionNumber, state.Label())
		}
		if payloadEmpty(v) {
			return invalid("version %d has no content to review", v.VersionNumber)
		}
		signers, err := distinctSigners(in.RequiredSigners)
		if err != nil {
			return err
		}

		v.ApprovalRound++
		v.State = string(next)
		v.RequiredSigners = signers
		for _, signer := range signers {
			m.saveApproval(model.ApprovalEventModel{
				ID:        uuid.New().String(),
				VersionID: v.ID,
				RecordID:  v.RecordID,
				Round:     v.ApprovalRound,
				SignerID:  signer,
				Decision:  string(lifecycle.DecisionPending),
				CreatedAt: m.now,
			})
		}
		m.saveVersion(*v)

		before := m.record.State
		if m.record.CurrentVersionID == v.ID {
			m.record.State = v.State
		}
		m.log(notify.EventVersionSubmitted, v.ID, before, v.State, map[string]interface{}{
			"version_number":   v.VersionNumber,
			"round":            v.ApprovalRound,
			"required_signers": signers,
		})
		return nil
	})
}

// SignApproval 记录签署人的决定
// 驳回使版本回到 Draft 并作废本轮剩余占位; 最后一个同意冻结版本
func (e *Engine) SignApproval(ctx context.Context, in SignApprovalInput) (*Result, error) {
	return e.withVersion(ctx, "sign_approval", in.VersionID, in.SignerID, in.ExpectedRevision, func(m *mutation, v *model.VersionModel) error {
		if !in.Decision.Signed() {
			return invalid("decision must be approved or rejected")
		}
		if !in.SignatureConfirmed {
			return newError(ErrSignatureNotConfirmed, "electronic signature was not confirmed by %s", m.actor)
		}
		state := lifecycle.VersionState(v.State)
		if state != lifecycle.VersionInReview {
			return newError(ErrInvalidStateTransition, "version %d is %s and is not awaiting signatures", v.VersionNumber, state.Label())
		}

		round, err := repository.NewApprovalEventRepository(e.db.WithContext(ctx)).FindByRound(v.ID, v.ApprovalRound)
		if err != nil {
			return infra(err, "failed to load approval round")
		}
		var mine *model.ApprovalEventModel
		for _, a := range round {
			if a.SignerID == m.actor && a.Decision == string(lifecycle.DecisionPending) {
				mine = a
				break
			}
		}
		if mine == nil {
			return newError(ErrSignerNotRequired, "%s has no pending signature on version %d round %d", m.actor, v.VersionNumber, v.ApprovalRound)
		}

		signedAt := m.now
		mine.Decision = string(in.Decision)
		mine.Comment = utils.SanitizeString(strings.TrimSpace(in.Comment))
		mine.SignedAt = &signedAt
		mine.SignatureConfirmed = true
		m.saveApproval(*mine)
		m.log(notify.EventApprovalSigned, v.ID, v.State, v.State, map[string]interface{}{
			"round":    v.ApprovalRound,
			"signer":   m.actor,
			"decision": in.Decision,
			"comment":  mine.Comment,
		})

		before := v.State
		switch in.Decision {
		case lifecycle.DecisionRejected:
			next, _ := state.Next(lifecycle.TriggerReject)
			voided := 0
			for _, a := range round {
				if a.ID != mine.ID && a.Decision == string(lifecycle.DecisionPending) {
					a.Decision = string(lifecycle.DecisionVoid)
					m.saveApproval(*a)
					voided++
				}
			}
			v.State = string(next)
			if m.record.CurrentVersionID == v.ID {
				m.record.State = v.State
			}
			m.saveVersion(*v)
			m.log(notify.EventVersionRejected, v.ID, before, v.State, map[string]interface{}{
				"round":       v.ApprovalRound,
				"rejected_by": m.actor,
				"voided":      voided,
			})

		case lifecycle.DecisionApproved:
			for _, a := range round {
				if a.ID != mine.ID && a.Decision != string(lifecycle.DecisionApproved) {
					// 还有签署人未同意
					m.saveVersion(*v)
					return nil
				}
			}
			freeze(m, v)
			m.saveVersion(*v)
			m.log(notify.EventVersionApproved, v.ID, before, v.State, map[string]interface{}{
				"round":   v.ApprovalRound,
				"signers": []string(v.RequiredSigners),
			})
		}
		return nil
	})
}

// Activate Approved → Effective
// 原 Effective 版本同时变为 Obsolete, 已发布指针移动, 复审计划重新计算
func (e *Engine) Activate(ctx context.Context, in ActivateInput) (*Result, error) {
	return e.withVersion(ctx, "activate", in.VersionID, in.ActorID, in.ExpectedRevision, func(m *mutation, v *model.VersionModel) error {
		if m.record.Kind == string(lifecycle.KindCAPA) {
			return newError(ErrInvalidStateTransition, "capa records become effective by closing the capa")
		}
		if in.EffectiveDate.IsZero() {
			return invalid("effective date is required")
		}
		return e.activate(ctx, m, v, in.EffectiveDate)
	})
}

// activate 生效版本, 供 Activate 和 CloseCapa 共用
func (e *Engine) activate(ctx context.Context, m *mutation, v *model.VersionModel, effectiveDate time.Time) error {
	state := lifecycle.VersionState(v.State)
	next, ok := state.Next(lifecycle.TriggerActivate)
	if !ok {
		return newError(ErrInvalidStateTransition, "version %d is %s; only an approved version can be activated", v.VersionNumber, state.Label())
	}
	eff := scheduler.Day(effectiveDate)
	if eff.Before(scheduler.Day(v.CreatedAt)) {
		return newError(ErrEffectiveDateBeforeCreation, "effective date %s is before version %d was created",
			eff.Format("2006-01-02"), v.VersionNumber)
	}

	db := e.db.WithContext(ctx)

	// 1. 原 Effective 版本先写入, 保证同一时刻只有一个 Effective
	effective, err := repository.NewVersionRepository(db).FindByState(v.RecordID, string(lifecycle.VersionEffective))
	if err != nil {
		return infra(err, "failed to load effective versions")
	}
	for _, old := range effective {
		if old.ID == v.ID {
			continue
		}
		obsoletedAt := m.now
		old.State = string(lifecycle.VersionObsolete)
		old.ObsoletedAt = &obsoletedAt
		m.saveVersion(*old)
		m.log(notify.EventVersionRetired, old.ID, string(lifecycle.VersionEffective), old.State, map[string]interface{}{
			"version_number":   old.VersionNumber,
			"superseded_by_id": v.ID,
			"reason":           "superseded",
		})
	}

	// 2. 生效
	before := v.State
	v.State = string(next)
	v.EffectiveDate = &eff
	m.saveVersion(*v)

	published := v.ID
	m.record.PublishedVersionID = &published
	if m.record.CurrentVersionID == v.ID {
		m.record.State = v.State
	}

	// 3. 复审计划
	existing, err := repository.NewReviewScheduleRepository(db).FindByRecordID(v.RecordID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return infra(err, "failed to load review schedule")
	}
	if err != nil {
		existing = nil
	}
	cadence := e.cadence(m.record.Prefix, lifecycle.RecordKind(m.record.Kind))
	sched := scheduler.NewSchedule(existing, v.RecordID, cadence, eff, m.now)
	m.saveSchedule(sched)

	m.log(notify.EventVersionActivated, v.ID, before, v.State, map[string]interface{}{
		"version_number": v.VersionNumber,
		"effective_date": eff.Format("2006-01-02"),
		"next_due_date":  sched.NextDueDate.Format("2006-01-02"),
		"cadence_days":   sched.CadenceDays,
	})
	return nil
}

// Retire Effective → Obsolete, 停用复审计划
func (e *Engine) Retire(ctx context.Context, in RetireInput) (*Result, error) {
	return e.withVersion(ctx, "retire", in.VersionID, in.ActorID, in.ExpectedRevision, func(m *mutation, v *model.VersionModel) error {
		if m.record.Kind == string(lifecycle.KindCAPA) {
			return newError(ErrInvalidStateTransition, "capa records cannot be retired")
		}
		reason, err := utils.TrimAndValidate(in.Reason, 2000)
		if err != nil {
			return invalid("retire reason is required")
		}
		state := lifecycle.VersionState(v.State)
		next, ok := state.Next(lifecycle.TriggerRetire)
		if !ok {
			return newError(ErrInvalidStateTransition, "version %d is %s; only an effective version can be retired", v.VersionNumber, state.Label())
		}

		obsoletedAt := m.now
		before := v.State
		v.State = string(next)
		v.ObsoletedAt = &obsoletedAt
		v.RetireReason = reason
		m.saveVersion(*v)
		if m.record.CurrentVersionID == v.ID {
			m.record.State = v.State
		}

		sched, err := repository.NewReviewScheduleRepository(e.db.WithContext(ctx)).FindByRecordID(v.RecordID)
		switch {
		case err == nil:
			sched.Active = false
			sched.Overdue = false
			sched.UpdatedAt = m.now
			m.saveSchedule(*sched)
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return infra(err, "failed to load review schedule")
		}

		m.log(notify.EventVersionRetired, v.ID, before, v.State, map[string]interface{}{
			"version_number": v.VersionNumber,
			"reason":         reason,
		})
		return nil
	})
}

// distinctSigners 去除空白和重复的签署人
func distinctSigners(in []string) ([]string, error) {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		if err := utils.ValidateActorID(s); err != nil {
			return nil, invalid("signer %q: %v", s, err)
		}
		seen[s] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, newError(ErrMissingRequiredSigner, "at least one required signer is needed")
	}
	return out, nil
}
