// Package cache implements the write-once, content-addressed asset store
// used by the sprite pipeline.
package cache

import (
	"context"
	"mime"
	"path"
	"strings"

	xerrors "SpriteForge/internal/errors"
)

const (
	ContentTypePNG  = "image/png"
	ContentTypeJSON = "application/json"
)

var (
	// ErrNotFound 表示缓存中不存在该资源，属于正常的冷路径。
	ErrNotFound = xerrors.New(xerrors.CodeNotFound, "asset not found")
	// ErrConflict 表示同一个键被写入了不同的内容。
	ErrConflict = xerrors.New(xerrors.CodeConflict, "asset already stored with different content")
	// ErrInvalidPath 表示键或资源名不合法。
	ErrInvalidPath = xerrors.New(xerrors.CodeInvalidArgument, "invalid asset path")
)

// Asset is one immutable blob addressed by key and name.
type Asset struct {
	Key         string
	Name        string
	Bytes       []byte
	ContentType string
}

// Store is the content-addressed blob store. Implementations must be safe
// for concurrent use. Put on an existing path with identical bytes succeeds
// without rewriting; differing bytes return ErrConflict.
type Store interface {
	Exists(ctx context.Context, key, name string) (bool, error)
	Get(ctx context.Context, key, name string) ([]byte, error)
	Put(ctx context.Context, asset Asset) (string, error)
	URL(key, name string) string
}

// ObjectPath returns "<key>/<name>", or "<key>.png" when name is empty.
func ObjectPath(key, name string) (string, error) {
	if !ValidKey(key) {
		return "", ErrInvalidPath
	}
	if name == "" {
		return key + ".png", nil
	}
	if !validName(name) {
		return "", ErrInvalidPath
	}
	return key + "/" + name, nil
}

// ParseObjectPath is the inverse of ObjectPath.
func ParseObjectPath(p string) (key, name string, err error) {
	p = strings.TrimPrefix(p, "/")
	if k, n, found := strings.Cut(p, "/"); found {
		if !ValidKey(k) || !validName(n) {
			return "", "", ErrInvalidPath
		}
		return k, n, nil
	}
	k := strings.TrimSuffix(p, ".png")
	if k == p || !ValidKey(k) {
		return "", "", ErrInvalidPath
	}
	return k, "", nil
}

func validName(name string) bool {
	if name == "" || len(name) > 128 || strings.HasPrefix(name, ".") {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '-', r == '.':
		default:
			return false
		}
	}
	return true
}

// ContentTypeFor guesses the content type from the object path.
func ContentTypeFor(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".png":
		return ContentTypePNG
	case ".json":
		return ContentTypeJSON
	}
	if t := mime.TypeByExtension(path.Ext(p)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func joinURL(base, objectPath string) string {
	return strings.TrimRight(base, "/") + "/" + objectPath
}

func unavailable(err error, msg, objectPath string) error {
	return xerrors.Wrap(xerrors.CodeCacheUnavailable, err, msg, xerrors.WithMetadata("object", objectPath))
}
