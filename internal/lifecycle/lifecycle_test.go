package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestVersionState_Next 测试版本转换矩阵中的每条边
func TestVersionState_Next(t *testing.T) {
	tests := []struct {
		from    VersionState
		trigger VersionTrigger
		want    VersionState
		ok      bool
	}{
		{VersionDraft, TriggerSubmit, VersionInReview, true},
		{VersionInReview, TriggerApprove, VersionApproved, true},
		{VersionInReview, TriggerReject, VersionDraft, true},
		{VersionApproved, TriggerActivate, VersionEffective, true},
		{VersionEffective, TriggerRetire, VersionObsolete, true},
		{VersionEffective, TriggerObsolete, VersionObsolete, true},

		{VersionDraft, TriggerApprove, "", false},
		{VersionDraft, TriggerActivate, "", false},
		{VersionApproved, TriggerReject, "", false},
		{VersionApproved, TriggerSubmit, "", false},
		{VersionObsolete, TriggerActivate, "", false},
		{VersionObsolete, TriggerSubmit, "", false},
		{VersionState("archived"), TriggerSubmit, "", false},
	}
	for _, tt := range tests {
		got, ok := tt.from.Next(tt.trigger)
		assert.Equal(t, tt.ok, ok, "%s --%s-->", tt.from, tt.trigger)
		assert.Equal(t, tt.want, got, "%s --%s-->", tt.from, tt.trigger)
	}
}

// TestVersionState_OnlyBackwardEdge 测试唯一的回退边是驳回
func TestVersionState_OnlyBackwardEdge(t *testing.T) {
	order := map[VersionState]int{}
	for i, s := range VersionStates() {
		order[s] = i
	}
	for _, from := range VersionStates() {
		for _, to := range VersionStates() {
			if !from.CanTransitionTo(to) || order[to] > order[from] {
				continue
			}
			assert.Equal(t, VersionInReview, from, "unexpected backward edge %s -> %s", from, to)
			assert.Equal(t, VersionDraft, to)
		}
	}
}

// TestVersionState_Predicates 测试状态属性
func TestVersionState_Predicates(t *testing.T) {
	assert.True(t, VersionDraft.Editable())
	assert.False(t, VersionInReview.Editable())

	assert.False(t, VersionDraft.Frozen())
	assert.False(t, VersionInReview.Frozen())
	assert.True(t, VersionApproved.Frozen())
	assert.True(t, VersionEffective.Frozen())
	assert.True(t, VersionObsolete.Frozen())

	assert.True(t, VersionEffective.Published())
	assert.True(t, VersionObsolete.Published())
	assert.False(t, VersionApproved.Published())

	assert.True(t, VersionObsolete.Terminal())
	assert.False(t, VersionEffective.Terminal())

	assert.Equal(t, "In Review", VersionInReview.Label())
	assert.Equal(t, "unknown", VersionState("unknown").Label())
}

// TestParseVersionState 测试解析版本状态
func TestParseVersionState(t *testing.T) {
	s, err := ParseVersionState("effective")
	require.NoError(t, err)
	assert.Equal(t, VersionEffective, s)

	_, err = ParseVersionState("Effective")
	assert.Error(t, err)
}

// TestCapaState_Next 测试 CAPA 转换矩阵
func TestCapaState_Next(t *testing.T) {
	tests := []struct {
		from    CapaState
		trigger CapaTrigger
		want    CapaState
		ok      bool
	}{
		{CapaOpen, TriggerStart, CapaInProgress, true},
		{CapaInProgress, TriggerMarkReady, CapaPendingEffectivenessReview, true},
		{CapaPendingEffectivenessReview, TriggerClose, CapaClosed, true},

		{CapaOpen, TriggerClose, "", false},
		{CapaOpen, TriggerMarkReady, "", false},
		{CapaInProgress, TriggerClose, "", false},
		{CapaClosed, TriggerCancel, "", false},
		{CapaCancelled, TriggerStart, "", false},
	}
	for _, tt := range tests {
		got, ok := tt.from.Next(tt.trigger)
		assert.Equal(t, tt.ok, ok, "%s --%s-->", tt.from, tt.trigger)
		assert.Equal(t, tt.want, got)
	}

	// 任意非终态都可以取消
	for _, s := range []CapaState{CapaOpen, CapaInProgress, CapaPendingEffectivenessReview} {
		to, ok := s.Next(TriggerCancel)
		assert.True(t, ok, s)
		assert.Equal(t, CapaCancelled, to)
	}
}

// TestCapaState_Predicates 测试 CAPA 状态属性
func TestCapaState_Predicates(t *testing.T) {
	assert.True(t, CapaOpen.AcceptsWork())
	assert.True(t, CapaInProgress.AcceptsWork())
	assert.False(t, CapaPendingEffectivenessReview.AcceptsWork())
	assert.False(t, CapaClosed.AcceptsWork())

	assert.True(t, CapaClosed.Terminal())
	assert.True(t, CapaCancelled.Terminal())
	assert.False(t, CapaPendingEffectivenessReview.Terminal())

	assert.Equal(t, "Pending Effectiveness Review", CapaPendingEffectivenessReview.Label())

	_, err := ParseCapaState("reopened")
	assert.Error(t, err)
	s, err := ParseCapaState("closed")
	require.NoError(t, err)
	assert.Equal(t, CapaClosed, s)
}

// TestKindsAndDecisions 测试类别与签名决定
func TestKindsAndDecisions(t *testing.T) {
	for _, k := range []string{"document", "capa", "audit"} {
		_, err := ParseRecordKind(k)
		assert.NoError(t, err, k)
	}
	_, err := ParseRecordKind("complaint")
	assert.Error(t, err)

	assert.Equal(t, "CAPA", KindCAPA.DefaultPrefix())
	assert.Equal(t, "AUD", KindAudit.DefaultPrefix())
	assert.Equal(t, "DOC", KindDocument.DefaultPrefix())

	assert.True(t, CapaComplaintDerived.Valid())
	assert.False(t, CapaType("containment").Valid())

	assert.True(t, DecisionApproved.Signed())
	assert.True(t, DecisionRejected.Signed())
	assert.False(t, DecisionPending.Signed())
	assert.False(t, DecisionVoid.Signed())

	assert.True(t, Verified.Valid())
	assert.True(t, NotVerified.Valid())
	assert.False(t, VerificationDecision("maybe").Valid())
}
