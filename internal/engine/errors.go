package engine

import (
	"errors"
	"fmt"
)

// Kind 错误类别
type Kind string

const (
	KindValidation     Kind = "validation"
	KindGuard          Kind = "guard"
	KindConcurrency    Kind = "concurrency"
	KindNotFound       Kind = "not_found"
	KindIntegrity      Kind = "integrity"
	KindInfrastructure Kind = "infrastructure"
)

// Code 错误码
type Code string

const (
	CodeInvalidPayload               Code = "InvalidPayload"
	CodeMissingRequiredSigner        Code = "MissingRequiredSigner"
	CodeImmutableVersion             Code = "ImmutableVersionError"
	CodeVersionUnderReview           Code = "VersionUnderReview"
	CodeSignatureNotConfirmed        Code = "SignatureNotConfirmed"
	CodeSignerNotRequired            Code = "SignerNotRequired"
	CodeSegregationOfDutiesViolation Code = "SegregationOfDutiesViolation"
	CodeEffectivenessNotDemonstrated Code = "EffectivenessNotDemonstrated"
	CodeActionsNotVerified           Code = "ActionsNotVerified"
	CodeEvidenceRequired             Code = "EvidenceRequired"
	CodeNoActions                    Code = "NoActions"
	CodeCapaNotEditable              Code = "CapaNotEditable"
	CodeActionAlreadyVerified        Code = "ActionAlreadyVerified"
	CodeEffectiveDateBeforeCreation  Code = "EffectiveDateBeforeCreation"
	CodeNoActiveSchedule             Code = "NoActiveSchedule"
	CodeInvalidStateTransition       Code = "InvalidStateTransition"
	CodeStateConflict                Code = "StateConflict"
	CodeDuplicateIdentifier          Code = "DuplicateIdentifier"
	CodeDuplicateEntryID             Code = "DuplicateEntryID"
	CodeRecordNotFound               Code = "RecordNotFound"
	CodeVersionNotFound              Code = "VersionNotFound"
	CodeActionNotFound               Code = "ActionNotFound"
	CodeNoPublishedVersion           Code = "NoPublishedVersion"
	CodeAuditHashMismatch            Code = "AuditHashMismatch"
	CodeOrphanedVersionPointer       Code = "OrphanedVersionPointer"
	CodeJournalRolledBack            Code = "JournalRolledBack"
	CodeTransitionJournaled          Code = "TransitionJournaled"
	CodeInternal                     Code = "InternalError"
)

// Error 引擎错误
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap 返回底层错误
func (e *Error) Unwrap() error {
	return e.Err
}

// Is 按错误码匹配
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// 用于 errors.Is 比较的哨兵错误
var (
	ErrInvalidPayload               = &Error{Kind: KindValidation, Code: CodeInvalidPayload}
	ErrMissingRequiredSigner        = &Error{Kind: KindValidation, Code: CodeMissingRequiredSigner}
	ErrImmutableVersion             = &Error{Kind: KindGuard, Code: CodeImmutableVersion}
	ErrVersionUnderReview           = &Error{Kind: KindGuard, Code: CodeVersionUnderReview}
	ErrSignatureNotConfirmed        = &Error{Kind: KindGuard, Code: CodeSignatureNotConfirmed}
	ErrSignerNotRequired            = &Error{Kind: KindGuard, Code: CodeSignerNotRequired}
	ErrSegregationOfDutiesViolation = &Error{Kind: KindGuard, Code: CodeSegregationOfDutiesViolation}
	ErrEffectivenessNotDemonstrated = &Error{Kind: KindGuard, Code: CodeEffectivenessNotDemonstrated}
	ErrActionsNotVerified           = &Error{Kind: KindGuard, Code: CodeActionsNotVerified}
	ErrEvidenceRequired             = &Error{Kind: KindGuard, Code: CodeEvidenceRequired}
	ErrNoActions                    = &Error{Kind: KindGuard, Code: CodeNoActions}
	ErrCapaNotEditable              = &Error{Kind: KindGuard, Code: CodeCapaNotEditable}
	ErrActionAlreadyVerified        = &Error{Kind: KindGuard, Code: CodeActionAlreadyVerified}
	ErrEffectiveDateBeforeCreation  = &Error{Kind: KindGuard, Code: CodeEffectiveDateBeforeCreation}
	ErrNoActiveSchedule             = &Error{Kind: KindGuard, Code: CodeNoActiveSchedule}
	ErrInvalidStateTransition       = &Error{Kind: KindGuard, Code: CodeInvalidStateTransition}
	ErrStateConflict                = &Error{Kind: KindConcurrency, Code: CodeStateConflict}
	ErrDuplicateIdentifier          = &Error{Kind: KindConcurrency, Code: CodeDuplicateIdentifier}
	ErrDuplicateEntryID             = &Error{Kind: KindValidation, Code: CodeDuplicateEntryID}
	ErrRecordNotFound               = &Error{Kind: KindNotFound, Code: CodeRecordNotFound}
	ErrVersionNotFound              = &Error{Kind: KindNotFound, Code: CodeVersionNotFound}
	ErrActionNotFound               = &Error{Kind: KindNotFound, Code: CodeActionNotFound}
	ErrNoPublishedVersion           = &Error{Kind: KindNotFound, Code: CodeNoPublishedVersion}
	ErrAuditHashMismatch            = &Error{Kind: KindIntegrity, Code: CodeAuditHashMismatch}
	ErrOrphanedVersionPointer       = &Error{Kind: KindIntegrity, Code: CodeOrphanedVersionPointer}
	ErrJournalRolledBack            = &Error{Kind: KindIntegrity, Code: CodeJournalRolledBack}

	// ErrTransitionJournaled 审计日志和事务日志已持久化但应用失败, 下次读取时重放
	ErrTransitionJournaled = &Error{Kind: KindInfrastructure, Code: CodeTransitionJournaled}
)

func newError(sentinel *Error, format string, args ...interface{}) *Error {
	return &Error{Kind: sentinel.Kind, Code: sentinel.Code, Message: fmt.Sprintf(format, args...)}
}

func invalid(format string, args ...interface{}) *Error {
	return newError(ErrInvalidPayload, format, args...)
}

func infra(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindInfrastructure, Code: CodeInternal, Message: fmt.Sprintf(format, args...), Err: err}
}

// integrityError 由记录的隔离原因构造完整性错误
func integrityError(recordID, reason string) *Error {
	code := Code(reason)
	if code == "" {
		code = CodeAuditHashMismatch
	}
	return &Error{
		Kind:    KindIntegrity,
		Code:    code,
		Message: fmt.Sprintf("record %s is quarantined pending manual review", recordID),
	}
}

// KindOf 返回错误类别, 非引擎错误视为基础设施错误
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInfrastructure
}

// CodeOf 返回错误码
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
