package lifecycle

import "fmt"

// CapaState CAPA 状态
type CapaState string

const (
	CapaOpen                       CapaState = "open"
	CapaInProgress                 CapaState = "in_progress"
	CapaPendingEffectivenessReview CapaState = "pending_effectiveness_review"
	CapaClosed                     CapaState = "closed"
	CapaCancelled                  CapaState = "cancelled"
)

// CapaTrigger CAPA 状态转换的触发操作
type CapaTrigger string

const (
	TriggerStart     CapaTrigger = "start"
	TriggerMarkReady CapaTrigger = "mark_ready"
	TriggerClose     CapaTrigger = "close"
	TriggerCancel    CapaTrigger = "cancel"
)

// capaTransitions CAPA 状态转换矩阵, Cancelled 可从任意非终态到达
var capaTransitions = map[CapaState]map[CapaTrigger]CapaState{
	CapaOpen: {
		TriggerStart:  CapaInProgress,
		TriggerCancel: CapaCancelled,
	},
	CapaInProgress: {
		TriggerMarkReady: CapaPendingEffectivenessReview,
		TriggerCancel:    CapaCancelled,
	},
	CapaPendingEffectivenessReview: {
		TriggerClose:  CapaClosed,
		TriggerCancel: CapaCancelled,
	},
	CapaClosed:    {},
	CapaCancelled: {},
}

var capaLabels = map[CapaState]string{
	CapaOpen:                       "Open",
	CapaInProgress:                 "In Progress",
	CapaPendingEffectivenessReview: "Pending Effectiveness Review",
	CapaClosed:                     "Closed",
	CapaCancelled:                  "Cancelled",
}

// Next 返回触发操作对应的目标状态
func (s CapaState) Next(trigger CapaTrigger) (CapaState, bool) {
	edges, ok := capaTransitions[s]
	if !ok {
		return "", false
	}
	to, ok := edges[trigger]
	return to, ok
}

// Terminal 终态
func (s CapaState) Terminal() bool {
	return len(capaTransitions[s]) == 0
}

// AcceptsWork 是否允许添加措施与证据
func (s CapaState) AcceptsWork() bool {
	return s == CapaOpen || s == CapaInProgress
}

// Label 展示名称
func (s CapaState) Label() string {
	if l, ok := capaLabels[s]; ok {
		return l
	}
	return string(s)
}

// Valid 是否为已知状态
func (s CapaState) Valid() bool {
	_, ok := capaTransitions[s]
	return ok
}

// ParseCapaState 解析 CAPA 状态
func ParseCapaState(s string) (CapaState, error) {
	st := CapaState(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown capa state %q", s)
	}
	return st, nil
}

// CapaType CAPA 类型
type CapaType string

const (
	CapaCorrective       CapaType = "corrective"
	CapaPreventive       CapaType = "preventive"
	CapaComplaintDerived CapaType = "complaint_derived"
)

// Valid 是否为已知类型
func (t CapaType) Valid() bool {
	switch t {
	case CapaCorrective, CapaPreventive, CapaComplaintDerived:
		return true
	}
	return false
}
