package lifecycle

import "fmt"

// RecordKind 受控记录类别
type RecordKind string

const (
	KindDocument RecordKind = "document"
	KindCAPA     RecordKind = "capa"
	KindAudit    RecordKind = "audit"
)

// Valid 是否为已知类别
func (k RecordKind) Valid() bool {
	switch k {
	case KindDocument, KindCAPA, KindAudit:
		return true
	}
	return false
}

// DefaultPrefix 类别的默认编号前缀
func (k RecordKind) DefaultPrefix() string {
	switch k {
	case KindCAPA:
		return "CAPA"
	case KindAudit:
		return "AUD"
	default:
		return "DOC"
	}
}

// ParseRecordKind 解析记录类别
func ParseRecordKind(s string) (RecordKind, error) {
	k := RecordKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown record kind %q", s)
	}
	return k, nil
}

// Decision 电子签名决定
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
	// DecisionVoid 轮次因驳回结束时未签署的占位
	DecisionVoid Decision = "void"
)

// Signed 是否为签署人给出的决定
func (d Decision) Signed() bool {
	return d == DecisionApproved || d == DecisionRejected
}

// VerificationDecision 措施验证结论
type VerificationDecision string

const (
	Verified    VerificationDecision = "verified"
	NotVerified VerificationDecision = "rejected"
)

// Valid 是否为已知结论
func (d VerificationDecision) Valid() bool {
	return d == Verified || d == NotVerified
}
