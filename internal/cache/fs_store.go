package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// FSStore stores assets as files below a root directory. Writers of the
// same key are serialised with an advisory file lock so that several
// daemons can share one directory.
type FSStore struct {
	root    string
	baseURL string
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root, baseURL string) (*FSStore, error) {
	if root == "" {
		return nil, fmt.Errorf("缓存目录不能为空")
	}
	if err := os.MkdirAll(filepath.Join(root, ".locks"), 0o755); err != nil {
		return nil, unavailable(err, "创建缓存目录失败", root)
	}
	if baseURL == "" {
		baseURL = "/sprites"
	}
	return &FSStore{root: root, baseURL: baseURL}, nil
}

func (s *FSStore) filePath(objectPath string) string {
	return filepath.Join(s.root, filepath.FromSlash(objectPath))
}

// Exists implements Store.
func (s *FSStore) Exists(_ context.Context, key, name string) (bool, error) {
	p, err := ObjectPath(key, name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(s.filePath(p))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, unavailable(err, "检查缓存文件失败", p)
	}
}

// Get implements Store.
func (s *FSStore) Get(_ context.Context, key, name string) ([]byte, error) {
	p, err := ObjectPath(key, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.filePath(p))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err, "读取缓存文件失败", p)
	}
	return data, nil
}

// Put implements Store. The file is written to a temporary name and renamed
// into place so readers never observe a partial asset.
func (s *FSStore) Put(ctx context.Context, asset Asset) (string, error) {
	p, err := ObjectPath(asset.Key, asset.Name)
	if err != nil {
		return "", err
	}
	target := s.filePath(p)

	lock := flock.New(filepath.Join(s.root, ".locks", asset.Key+".lock"))
	locked, err := lock.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		return "", unavailable(err, "获取缓存写锁失败", p)
	}
	if !locked {
		return "", unavailable(ctx.Err(), "获取缓存写锁超时", p)
	}
	defer func() { _ = lock.Unlock() }()

	existing, err := os.ReadFile(target)
	switch {
	case err == nil:
		if !bytes.Equal(existing, asset.Bytes) {
			return "", ErrConflict
		}
		return joinURL(s.baseURL, p), nil
	case !errors.Is(err, os.ErrNotExist):
		return "", unavailable(err, "读取缓存文件失败", p)
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", unavailable(err, "创建缓存目录失败", p)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", unavailable(err, "创建临时文件失败", p)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(asset.Bytes); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", unavailable(err, "写入缓存文件失败", p)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", unavailable(err, "写入缓存文件失败", p)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return "", unavailable(err, "提交缓存文件失败", p)
	}
	return joinURL(s.baseURL, p), nil
}

// URL implements Store.
func (s *FSStore) URL(key, name string) string {
	p, err := ObjectPath(key, name)
	if err != nil {
		return ""
	}
	return joinURL(s.baseURL, p)
}

var _ Store = (*FSStore)(nil)
