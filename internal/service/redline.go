package service

import (
	"bytes"
	"context"
	"encoding/json"
	"unicode/utf8"

	"github.com/mautops/qms-gin/internal/model"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Redline 两个版本之间的差异
type Redline struct {
	RecordID    string `json:"record_id"`
	FromVersion int    `json:"from_version"`
	ToVersion   int    `json:"to_version"`

	Payload *TextDiff `json:"payload"`
	// Content 仅在两个版本的文件都是文本时给出
	Content        *TextDiff `json:"content,omitempty"`
	ContentChanged bool      `json:"content_changed"`
}

// TextDiff 文本差异
type TextDiff struct {
	Segments []DiffSegment `json:"segments"`
	Patch    string        `json:"patch"` // unified 格式
	Inserted int           `json:"inserted"`
	Deleted  int           `json:"deleted"`
}

// DiffSegment 差异片段
type DiffSegment struct {
	Op   string `json:"op"` // equal/insert/delete
	Text string `json:"text"`
}

// Redline 比较同一记录的两个版本
func (s *recordService) Redline(ctx context.Context, fromVersionID, toVersionID string) (*Redline, error) {
	from, err := s.engine.GetVersion(ctx, fromVersionID)
	if err != nil {
		return nil, err
	}
	to, err := s.engine.GetVersion(ctx, toVersionID)
	if err != nil {
		return nil, err
	}
	if from.RecordID != to.RecordID {
		return nil, invalidRequest("versions belong to different records (%s, %s)", from.RecordID, to.RecordID)
	}

	out := &Redline{
		RecordID:       from.RecordID,
		FromVersion:    from.VersionNumber,
		ToVersion:      to.VersionNumber,
		Payload:        diffText(prettyPayload(from), prettyPayload(to)),
		ContentChanged: from.ContentRef != to.ContentRef,
	}

	if out.ContentChanged && from.ContentRef != "" && to.ContentRef != "" && s.blobs != nil {
		before, err := s.blobs.Get(ctx, from.ContentRef)
		if err != nil {
			return nil, blobError(err)
		}
		after, err := s.blobs.Get(ctx, to.ContentRef)
		if err != nil {
			return nil, blobError(err)
		}
		if utf8.Valid(before) && utf8.Valid(after) {
			out.Content = diffText(string(before), string(after))
		}
	}
	return out, nil
}

// prettyPayload 缩进后的版本内容, 按行比较更易读
func prettyPayload(v *model.VersionModel) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, v.Payload, "", "  "); err != nil {
		return string(v.Payload)
	}
	return buf.String()
}

// diffText 计算文本差异
func diffText(before, after string) *TextDiff {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	out := &TextDiff{Segments: make([]DiffSegment, 0, len(diffs))}
	for _, d := range diffs {
		seg := DiffSegment{Text: d.Text}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			seg.Op = "insert"
			out.Inserted += utf8.RuneCountInString(d.Text)
		case diffmatchpatch.DiffDelete:
			seg.Op = "delete"
			out.Deleted += utf8.RuneCountInString(d.Text)
		default:
			seg.Op = "equal"
		}
		out.Segments = append(out.Segments, seg)
	}
	out.Patch = dmp.PatchToText(dmp.PatchMake(before, diffs))
	return out
}
