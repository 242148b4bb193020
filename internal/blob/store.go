// Package blob 按内容寻址的文件存储.
//
// 引用格式为 sha256:<hex>, 相同内容只保存一份. 写入先落临时文件,
// fsync 后原子改名; 读取时重新计算哈希.
package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const refPrefix = "sha256:"

var (
	// ErrNotFound 引用不存在
	ErrNotFound = errors.New("blob not found")
	// ErrInvalidRef 引用格式错误
	ErrInvalidRef = errors.New("invalid content reference")
	// ErrTooLarge 超过大小限制
	ErrTooLarge = errors.New("blob exceeds maximum size")
	// ErrCorrupted 存储内容与引用不一致
	ErrCorrupted = errors.New("blob content does not match its reference")
)

// Store 文件存储接口
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Exists(ctx context.Context, ref string) (bool, error)
}

// FSStore 本地文件系统存储
type FSStore struct {
	dir     string
	maxSize int64
}

// NewFSStore 创建文件系统存储, 目录不存在时创建
func NewFSStore(dir string, maxSize int64) (*FSStore, error) {
	if dir == "" {
		return nil, errors.New("blob directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create blob directory %s: %w", dir, err)
	}
	return &FSStore{dir: dir, maxSize: maxSize}, nil
}

// Dir 存储根目录
func (s *FSStore) Dir() string {
	return s.dir
}

// Put 保存内容, 返回内容引用
func (s *FSStore) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		return "", fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(data), s.maxSize)
	}

	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	ref := refPrefix + digest
	path := s.path(digest)

	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("failed to create blob shard: %w", err)
	}

	// 临时文件 → 写入 → fsync → 原子改名
	f, err := os.CreateTemp(filepath.Dir(path), digest+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp := f.Name()

	if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("failed to fsync blob: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to rename blob: %w", err)
	}
	return ref, nil
}

// Get 读取内容并校验哈希
func (s *FSStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	digest, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(digest))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("failed to read blob %s: %w", ref, err)
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != digest {
		return nil, fmt.Errorf("%w: %s", ErrCorrupted, ref)
	}
	return data, nil
}

// Exists 判断内容是否存在
func (s *FSStore) Exists(ctx context.Context, ref string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	digest, err := ParseRef(ref)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(s.path(digest))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat blob %s: %w", ref, err)
}

// path 按摘要前两字节分目录
func (s *FSStore) path(digest string) string {
	return filepath.Join(s.dir, digest[:2], digest[2:4], digest)
}

// ParseRef 解析内容引用, 返回十六进制摘要
func ParseRef(ref string) (string, error) {
	if !strings.HasPrefix(ref, refPrefix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	digest := strings.TrimPrefix(ref, refPrefix)
	if len(digest) != sha256.Size*2 {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return strings.ToLower(digest), nil
}
