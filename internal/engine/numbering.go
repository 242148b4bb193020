package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mautops/qms-gin/internal/lifecycle"
)

// DefaultNumberFormats 各类别的默认编号格式
var DefaultNumberFormats = map[lifecycle.RecordKind]string{
	lifecycle.KindDocument: "{PREFIX}-{YEAR}-{SEQ:3}",
	lifecycle.KindCAPA:     "CAPA-{SEQ:4}",
	lifecycle.KindAudit:    "AUD-{YEAR}-{SEQ:3}",
}

var seqToken = regexp.MustCompile(`\{SEQ(?::(\d+))?\}`)

// numberScope 编号序列的作用域: 前缀, 格式含年份时按年分段
func numberScope(format, prefix string, now time.Time) string {
	if strings.Contains(format, "{YEAR}") {
		return fmt.Sprintf("%s-%04d", prefix, now.UTC().Year())
	}
	return prefix
}

// formatNumber 按格式生成记录编号
func formatNumber(format, prefix string, now time.Time, seq int64) string {
	out := strings.ReplaceAll(format, "{PREFIX}", prefix)
	out = strings.ReplaceAll(out, "{YEAR}", fmt.Sprintf("%04d", now.UTC().Year()))
	return seqToken.ReplaceAllStringFunc(out, func(tok string) string {
		width := 0
		if m := seqToken.FindStringSubmatch(tok); len(m) == 2 && m[1] != "" {
			width, _ = strconv.Atoi(m[1])
		}
		return fmt.Sprintf("%0*d", width, seq)
	})
}

// validateNumberFormat 格式必须包含序号
func validateNumberFormat(format string) error {
	if !seqToken.MatchString(format) {
		return fmt.Errorf("number format %q has no {SEQ} token", format)
	}
	return nil
}
