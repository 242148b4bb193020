package utils

import (
	"errors"
	"regexp"
	"strings"
)

// RecordSortFields 记录列表允许的排序字段
var RecordSortFields = []string{"created_at", "updated_at", "record_id", "title", "state", "kind"}

var sortFieldPattern = regexp.MustCompile(`^[a-z_]+$`)

// ValidateSortField 验证排序字段，只允许白名单中的列名
func ValidateSortField(field string, allowed []string) error {
	if field == "" {
		return errors.New("sort field cannot be empty")
	}
	if !sortFieldPattern.MatchString(field) {
		return errors.New("invalid sort field format")
	}
	for _, f := range allowed {
		if f == field {
			return nil
		}
	}
	return errors.New("sort field is not allowed")
}

// SanitizeSortOrder 清理排序方向
func SanitizeSortOrder(order string) string {
	upperOrder := strings.ToUpper(strings.TrimSpace(order))
	if upperOrder == "ASC" || upperOrder == "DESC" {
		return upperOrder
	}
	return "DESC" // 默认降序
}
