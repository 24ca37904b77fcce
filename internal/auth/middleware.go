package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	loggerpkg "SpriteForge/pkg/logger"
)

// Middleware 返回一个 HTTP 中间件，认证失败时返回 401 与 JSON 错误体。
func (s *Service) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := s.AuthenticateRequest(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				message := "invalid token"
				if errors.Is(err, ErrMissingToken) {
					message = "missing bearer token"
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Bearer realm="spriteforge"`)
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
				s.auditLogger().Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"status", http.StatusUnauthorized,
					"error", err.Error(),
				)
				return
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r.WithContext(WithSubject(r.Context(), subject)))
			s.auditLogger().Info("api_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"user", subject.ID,
			)
		})
	}
}

func (s *Service) auditLogger() *slog.Logger {
	if s != nil && s.audit != nil {
		return s.audit
	}
	return loggerpkg.Audit()
}

// auditWriter 是一个包装了 http.ResponseWriter 的结构体，用于捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 捕获响应状态码并调用底层的 WriteHeader 方法。
func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
