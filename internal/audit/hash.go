package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mautops/qms-gin/internal/model"
)

const fieldSep = "\x1f"

// NormalizeTime 审计时间统一为 UTC 微秒精度, 与数据库往返后保持一致
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// CanonicalJSON 生成规范化 JSON: 键排序, 紧凑格式, 数字保持原样
// PostgreSQL jsonb 会重排键顺序, 哈希计算必须与存储格式无关
func CanonicalJSON(raw []byte) ([]byte, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return out, nil
}

// ComputeHash 计算审计日志的内容哈希
// 覆盖全部字段、前后状态、载荷以及上一条日志的哈希
func ComputeHash(e *model.AuditEntryModel) (string, error) {
	payload, err := CanonicalJSON(e.Payload)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	for _, field := range []string{
		strconv.FormatInt(e.EntryID, 10),
		e.RecordID,
		e.VersionID,
		e.ActorID,
		e.EventType,
		e.BeforeState,
		e.AfterState,
		NormalizeTime(e.Timestamp).Format(time.RFC3339Nano),
		e.JournalID,
		string(payload),
		e.PrevHash,
	} {
		h.Write([]byte(field))
		h.Write([]byte(fieldSep))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
