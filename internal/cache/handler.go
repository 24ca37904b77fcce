package cache

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	xerrors "SpriteForge/internal/errors"
	"SpriteForge/pkg/logger"
)

// Handler serves stored assets over HTTP. Assets never change once written,
// so responses are marked immutable.
func Handler(prefix string, store Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
			return
		}
		objectPath := strings.TrimPrefix(r.URL.Path, prefix)
		key, name, err := ParseObjectPath(objectPath)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		etag := strconv.Quote(key + "/" + name)
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		data, err := store.Get(r.Context(), key, name)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			logger.L().Error("读取缓存资源失败", "path", objectPath, "error", err.Error(),
				"error_code", string(xerrors.CodeOf(err)))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", ContentTypeFor(objectPath))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		w.Header().Set("ETag", etag)
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write(data)
	})
}
