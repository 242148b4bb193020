package service

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/mautops/qms-gin/internal/blob"
	"github.com/mautops/qms-gin/internal/engine"
	"github.com/mautops/qms-gin/internal/lifecycle"
	"github.com/mautops/qms-gin/internal/model"
)

// ExportService 记录档案导出服务
type ExportService interface {
	ExportRecord(ctx context.Context, recordID string, w io.Writer) (*ExportManifest, error)
}

// ExportManifest 档案清单
type ExportManifest struct {
	RecordID     string    `json:"record_id"`
	Kind         string    `json:"kind"`
	Revision     int64     `json:"revision"`
	Versions     int       `json:"versions"`
	AuditEntries int       `json:"audit_entries"`
	LastHash     string    `json:"last_hash,omitempty"`
	Blobs        []string  `json:"blobs"`
	ExportedAt   time.Time `json:"exported_at"`
}

// exportService 档案导出服务实现
type exportService struct {
	engine *engine.Engine
	blobs  blob.Store
	now    func() time.Time
}

// NewExportService 创建档案导出服务
func NewExportService(eng *engine.Engine, blobs blob.Store) ExportService {
	return &exportService{engine: eng, blobs: blobs, now: time.Now}
}

// ExportRecord 把记录、版本、签名、审计历史和引用的文件写成 tar.gz
// 审计历史在导出过程中完整校验, 校验失败时不产生档案
func (s *exportService) ExportRecord(ctx context.Context, recordID string, w io.Writer) (*ExportManifest, error) {
	// 1. 收集数据
	rec, err := s.engine.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	versions, err := s.engine.ListVersions(ctx, recordID)
	if err != nil {
		return nil, err
	}
	approvals := make(map[string][]*model.ApprovalEventModel, len(versions))
	refs := map[string]struct{}{}
	for _, v := range versions {
		events, err := s.engine.ListApprovals(ctx, v.ID)
		if err != nil {
			return nil, err
		}
		approvals[v.ID] = events
		if v.ContentRef != "" {
			refs[v.ContentRef] = struct{}{}
		}
	}

	var capa *engine.CapaView
	if rec.Kind == string(lifecycle.KindCAPA) {
		if capa, err = s.engine.GetCapa(ctx, recordID); err != nil {
			return nil, err
		}
		for _, evidence := range capa.Evidence {
			for _, ev := range evidence {
				if ev.ContentRef != "" {
					refs[ev.ContentRef] = struct{}{}
				}
			}
		}
	}

	h, err := s.engine.QueryHistory(ctx, recordID, 0)
	if err != nil {
		return nil, err
	}
	entries, err := h.Collect()
	if err != nil {
		return nil, err
	}

	manifest := &ExportManifest{
		RecordID:     rec.RecordID,
		Kind:         rec.Kind,
		Revision:     rec.Revision,
		Versions:     len(versions),
		AuditEntries: len(entries),
		Blobs:        make([]string, 0, len(refs)),
		ExportedAt:   s.now().UTC(),
	}
	if len(entries) > 0 {
		manifest.LastHash = entries[len(entries)-1].PayloadHash
	}
	for ref := range refs {
		manifest.Blobs = append(manifest.Blobs, ref)
	}
	sort.Strings(manifest.Blobs)

	// 2. 写入归档
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	files := []struct {
		name string
		v    interface{}
	}{
		{"manifest.json", manifest},
		{"record.json", rec},
		{"versions.json", versions},
		{"approvals.json", approvals},
		{"audit.json", entries},
	}
	if capa != nil {
		files = append(files, struct {
			name string
			v    interface{}
		}{"capa.json", capa})
	}
	for _, f := range files {
		data, err := json.MarshalIndent(f.v, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", f.name, err)
		}
		if err := writeTarFile(tw, f.name, data, manifest.ExportedAt); err != nil {
			return nil, err
		}
	}

	for _, ref := range manifest.Blobs {
		if s.blobs == nil {
			break
		}
		data, err := s.blobs.Get(ctx, ref)
		if err != nil {
			return nil, blobError(err)
		}
		digest, _ := blob.ParseRef(ref)
		if err := writeTarFile(tw, "blobs/"+digest, data, manifest.ExportedAt); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close tar writer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return manifest, nil
}

// writeTarFile 写入一个归档条目
func writeTarFile(tw *tar.Writer, name string, data []byte, modTime time.Time) error {
	header := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: modTime,
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write tar header for %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}
