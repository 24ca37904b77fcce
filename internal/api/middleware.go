package api

import (
	"net/http"
	"time"

	"SpriteForge/internal/observability/metrics"
)

// statusRecorder 捕获响应状态码。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument 为每个路由记录请求数与耗时，label 使用注册时的路由而非原始路径。
func instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(route, r.Method, rec.status, time.Since(start))
	})
}
