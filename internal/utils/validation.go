package utils

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

var (
	recordIDPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]*(-[0-9A-Z]+)+$`)
	prefixPattern   = regexp.MustCompile(`^[A-Z][A-Z0-9]{1,15}$`)
	actorIDPattern  = regexp.MustCompile(`^[a-zA-Z0-9_.@:-]+$`)
)

// SanitizeString 清理字符串，移除或转义危险字符
func SanitizeString(input string) string {
	// 1. HTML 转义，防止 XSS
	sanitized := html.EscapeString(input)

	// 2. 移除控制字符（除了换行符和制表符）
	var result strings.Builder
	for _, r := range sanitized {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		result.WriteRune(r)
	}

	return result.String()
}

// ValidateRecordID 验证记录编号格式, 如 SOP-2025-014 / CAPA-0042
func ValidateRecordID(id string) error {
	if id == "" {
		return ErrEmptyID
	}
	if len(id) > 64 {
		return ErrIDTooLong
	}
	if !recordIDPattern.MatchString(id) {
		return ErrInvalidIDFormat
	}
	return nil
}

// ValidateEntityID 验证版本、措施等 UUID 标识
func ValidateEntityID(id string) error {
	if id == "" {
		return ErrEmptyID
	}
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidIDFormat
	}
	return nil
}

// ValidatePrefix 验证编号前缀
func ValidatePrefix(prefix string) error {
	if !prefixPattern.MatchString(prefix) {
		return ErrInvalidPrefix
	}
	return nil
}

// ValidateActorID 验证操作人标识
func ValidateActorID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrEmptyActor
	}
	if len(id) > 64 {
		return ErrIDTooLong
	}
	if !actorIDPattern.MatchString(id) {
		return ErrInvalidIDFormat
	}
	return nil
}

// TrimAndValidate 清理并验证字符串
func TrimAndValidate(s string, maxLen int) (string, error) {
	// 1. 去除首尾空白字符
	trimmed := strings.TrimSpace(s)

	// 2. 检查是否为空
	if trimmed == "" {
		return "", ErrEmptyString
	}

	// 3. 检查长度
	if maxLen > 0 && len(trimmed) > maxLen {
		return "", ErrStringTooLong
	}

	return SanitizeString(trimmed), nil
}

// 错误定义
var (
	ErrEmptyID         = &ValidationError{Code: "EMPTY_ID", Message: "id cannot be empty"}
	ErrInvalidIDFormat = &ValidationError{Code: "INVALID_ID_FORMAT", Message: "id contains invalid characters"}
	ErrIDTooLong       = &ValidationError{Code: "ID_TOO_LONG", Message: "id exceeds maximum length"}
	ErrInvalidPrefix   = &ValidationError{Code: "INVALID_PREFIX", Message: "prefix must be 2-16 uppercase letters or digits"}
	ErrEmptyActor      = &ValidationError{Code: "EMPTY_ACTOR", Message: "actor id is required"}
	ErrEmptyString     = &ValidationError{Code: "EMPTY_STRING", Message: "string cannot be empty"}
	ErrStringTooLong   = &ValidationError{Code: "STRING_TOO_LONG", Message: "string exceeds maximum length"}
)

// ValidationError 验证错误
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
