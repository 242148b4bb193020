// Package lifecycle 受控记录生命周期的状态定义与权威转换表.
//
// 文档版本: Draft → InReview → Approved → Effective → Obsolete
// 唯一的回退边: InReview → Draft (任意签署人驳回)
// Obsolete 为终态, 后续修改必须创建新版本.
package lifecycle

import "fmt"

// VersionState 版本状态
type VersionState string

const (
	VersionDraft     VersionState = "draft"
	VersionInReview  VersionState = "in_review"
	VersionApproved  VersionState = "approved"
	VersionEffective VersionState = "effective"
	VersionObsolete  VersionState = "obsolete"
)

// VersionTrigger 版本状态转换的触发操作
type VersionTrigger string

const (
	TriggerSubmit   VersionTrigger = "submit_for_review"
	TriggerReject   VersionTrigger = "reject"
	TriggerApprove  VersionTrigger = "approve"
	TriggerActivate VersionTrigger = "activate"
	TriggerRetire   VersionTrigger = "retire"
	TriggerObsolete VersionTrigger = "superseded"
)

// versionTransitions 版本状态转换矩阵
// 键为当前状态, 值为 触发操作 → 目标状态
var versionTransitions = map[VersionState]map[VersionTrigger]VersionState{
	VersionDraft: {
		TriggerSubmit: VersionInReview,
	},
	VersionInReview: {
		TriggerReject:  VersionDraft,
		TriggerApprove: VersionApproved,
	},
	VersionApproved: {
		TriggerActivate: VersionEffective,
	},
	VersionEffective: {
		TriggerRetire:   VersionObsolete,
		TriggerObsolete: VersionObsolete,
	},
	VersionObsolete: {},
}

var versionLabels = map[VersionState]string{
	VersionDraft:     "Draft",
	VersionInReview:  "In Review",
	VersionApproved:  "Approved",
	VersionEffective: "Effective",
	VersionObsolete:  "Obsolete",
}

// Next 返回触发操作对应的目标状态
func (s VersionState) Next(trigger VersionTrigger) (VersionState, bool) {
	edges, ok := versionTransitions[s]
	if !ok {
		return "", false
	}
	to, ok := edges[trigger]
	return to, ok
}

// CanTransitionTo 判断是否存在到目标状态的边
func (s VersionState) CanTransitionTo(target VersionState) bool {
	for _, to := range versionTransitions[s] {
		if to == target {
			return true
		}
	}
	return false
}

// Frozen 冻结状态下除 state 外的字段不可修改
func (s VersionState) Frozen() bool {
	return s == VersionApproved || s == VersionEffective || s == VersionObsolete
}

// Editable 仅草稿接受内容修改
func (s VersionState) Editable() bool {
	return s == VersionDraft
}

// Published Effective 或 Obsolete 的版本对外可读
func (s VersionState) Published() bool {
	return s == VersionEffective || s == VersionObsolete
}

// Terminal 终态
func (s VersionState) Terminal() bool {
	return len(versionTransitions[s]) == 0
}

// Label 展示名称
func (s VersionState) Label() string {
	if l, ok := versionLabels[s]; ok {
		return l
	}
	return string(s)
}

// Valid 是否为已知状态
func (s VersionState) Valid() bool {
	_, ok := versionTransitions[s]
	return ok
}

// ParseVersionState 解析版本状态
func ParseVersionState(s string) (VersionState, error) {
	st := VersionState(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown version state %q", s)
	}
	return st, nil
}

// VersionStates 返回全部版本状态 (按生命周期顺序)
func VersionStates() []VersionState {
	return []VersionState{VersionDraft, VersionInReview, VersionApproved, VersionEffective, VersionObsolete}
}
