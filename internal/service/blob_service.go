package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/mautops/qms-gin/internal/blob"
	"github.com/mautops/qms-gin/internal/engine"
	"github.com/mautops/qms-gin/internal/metrics"
)

// 文件存储相关错误码
const (
	CodeContentTooLarge   engine.Code = "ContentTooLarge"
	CodeInvalidContentRef engine.Code = "InvalidContentRef"
	CodeContentNotFound   engine.Code = "ContentNotFound"
	CodeContentCorrupted  engine.Code = "ContentCorrupted"
)

// BlobService 文件存储服务接口
type BlobService interface {
	Upload(ctx context.Context, data []byte) (*BlobInfo, error)
	Download(ctx context.Context, ref string) ([]byte, error)
}

// BlobInfo 文件信息
type BlobInfo struct {
	ContentRef string `json:"content_ref" example:"sha256:9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"`
	Size       int    `json:"size"`
}

// blobService 文件存储服务实现
type blobService struct {
	store blob.Store
}

// NewBlobService 创建文件存储服务
func NewBlobService(store blob.Store) BlobService {
	return &blobService{store: store}
}

// Upload 上传文件
func (s *blobService) Upload(ctx context.Context, data []byte) (*BlobInfo, error) {
	if len(data) == 0 {
		return nil, invalidRequest("content is empty")
	}
	ref, err := putContent(ctx, s.store, data)
	if err != nil {
		return nil, err
	}
	return &BlobInfo{ContentRef: ref, Size: len(data)}, nil
}

// Download 读取文件
func (s *blobService) Download(ctx context.Context, ref string) ([]byte, error) {
	if s.store == nil {
		return nil, blobError(errors.New("blob store is not configured"))
	}
	data, err := s.store.Get(ctx, ref)
	if err != nil {
		return nil, blobError(err)
	}
	return data, nil
}

// resolveContent 返回版本的文件引用
// 有内容时先写入存储; 只有引用时确认其存在
func resolveContent(ctx context.Context, store blob.Store, content []byte, ref string) (string, error) {
	if len(content) > 0 {
		if ref != "" {
			return "", invalidRequest("content and content_ref are mutually exclusive")
		}
		return putContent(ctx, store, content)
	}
	if ref == "" {
		return "", nil
	}
	if store == nil {
		return "", blobError(errors.New("blob store is not configured"))
	}
	ok, err := store.Exists(ctx, ref)
	if err != nil {
		return "", blobError(err)
	}
	if !ok {
		return "", blobError(fmt.Errorf("%w: %s", blob.ErrNotFound, ref))
	}
	return ref, nil
}

// putContent 写入存储并记录指标
func putContent(ctx context.Context, store blob.Store, data []byte) (string, error) {
	if store == nil {
		metrics.RecordBlobUpload("error")
		return "", blobError(errors.New("blob store is not configured"))
	}
	ref, err := store.Put(ctx, data)
	if err != nil {
		if errors.Is(err, blob.ErrTooLarge) {
			metrics.RecordBlobUpload("rejected")
		} else {
			metrics.RecordBlobUpload("error")
		}
		return "", blobError(err)
	}
	metrics.RecordBlobUpload("stored")
	return ref, nil
}

// blobError 把存储错误转换为引擎错误类别
func blobError(err error) error {
	e := &engine.Error{Err: err}
	switch {
	case errors.Is(err, blob.ErrTooLarge):
		e.Kind, e.Code, e.Message = engine.KindValidation, CodeContentTooLarge, "content rejected"
	case errors.Is(err, blob.ErrInvalidRef):
		e.Kind, e.Code, e.Message = engine.KindValidation, CodeInvalidContentRef, "content reference rejected"
	case errors.Is(err, blob.ErrNotFound):
		e.Kind, e.Code, e.Message = engine.KindNotFound, CodeContentNotFound, "content lookup failed"
	case errors.Is(err, blob.ErrCorrupted):
		e.Kind, e.Code, e.Message = engine.KindIntegrity, CodeContentCorrupted, "content verification failed"
	default:
		e.Kind, e.Code, e.Message = engine.KindInfrastructure, engine.CodeInternal, "blob store failure"
	}
	return e
}
