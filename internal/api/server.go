package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"SpriteForge/internal/auth"
	"SpriteForge/internal/cache"
	xerrors "SpriteForge/internal/errors"
	"SpriteForge/internal/generation"
	"SpriteForge/internal/motion"
	"SpriteForge/internal/observability/metrics"
	"SpriteForge/internal/storage/recordstore"
	"SpriteForge/internal/task"
	"SpriteForge/pkg/logger"
)

// maxBodyBytes 限制请求体大小。
const maxBodyBytes = 64 << 10

// Generator 是 API 依赖的生成能力。
type Generator interface {
	GenerateSprites(ctx context.Context, userID string, req generation.SpriteRequest) (*generation.SpriteResult, error)
	GenerateImage(ctx context.Context, userID string, req generation.ImageRequest) (*generation.ImageResult, error)
	GenerateConcept(ctx context.Context, userID string, req generation.ConceptRequest) (*generation.ConceptResult, error)
	GenerateSheet(ctx context.Context, userID string, req generation.SheetRequest) (*generation.SheetResult, error)
	Usage(ctx context.Context, userID string) (generation.Usage, error)
	History(ctx context.Context, userID string, limit int) ([]recordstore.Generation, error)
	Motions() *motion.Registry
}

// JobService 是 API 依赖的异步任务能力。
type JobService interface {
	Submit(ctx context.Context, userID string, req generation.SpriteRequest) (*task.Job, error)
	Get(ctx context.Context, userID, id string) (*task.Job, error)
}

// Server 负责暴露 REST 接口与缓存资源。
type Server struct {
	addr           string
	generator      Generator
	jobs           JobService
	assets         cache.Store
	assetPrefix    string
	authn          *auth.Service
	requestTimeout time.Duration
	exposeMetrics  bool
	log            *slog.Logger
}

// Option 定制 Server。
type Option func(*Server)

// WithAuth 为用户相关的接口启用认证。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) { s.authn = svc }
}

// WithAssets 通过 prefix 对外提供缓存资源，例如 /sprites/。
func WithAssets(prefix string, store cache.Store) Option {
	return func(s *Server) {
		s.assets = store
		s.assetPrefix = "/" + strings.Trim(prefix, "/") + "/"
	}
}

// WithRequestTimeout 限制同步生成接口的耗时。
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.requestTimeout = d }
}

// WithMetricsEndpoint 在同一端口挂载 /metrics。
func WithMetricsEndpoint(enabled bool) Option {
	return func(s *Server) { s.exposeMetrics = enabled }
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, generator Generator, jobs JobService, opts ...Option) *Server {
	s := &Server{
		addr:      addr,
		generator: generator,
		jobs:      jobs,
		log:       logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	protected := func(next http.HandlerFunc) http.Handler {
		if s.authn == nil {
			return withAnonymous(next)
		}
		return s.authn.Middleware()(next)
	}

	s.route(mux, "/api/v1/sprites/generate", protected(s.handleGenerateSprites))
	s.route(mux, "/api/v1/sprites/jobs", protected(s.handleSubmitJob))
	s.route(mux, "/api/v1/sprites/concept", protected(s.handleGenerateConcept))
	s.route(mux, "/api/v1/sprites/sheet", protected(s.handleGenerateSheet))
	s.route(mux, "/api/v1/sprites/jobs/", protected(s.handleJobDetail))
	s.route(mux, "/api/v1/generate", protected(s.handleGenerateImage))
	s.route(mux, "/api/v1/generations", protected(s.handleHistory))
	s.route(mux, "/api/v1/usage", protected(s.handleUsage))
	s.route(mux, "/api/v1/motions", http.HandlerFunc(s.handleMotions))
	s.route(mux, "/healthz", http.HandlerFunc(handleHealth))
	if s.assets != nil {
		s.route(mux, s.assetPrefix, cache.Handler(s.assetPrefix, s.assets))
	}
	if s.exposeMetrics {
		mux.Handle("/metrics", metrics.Handler())
	}
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("API 服务已启动", slog.String("address", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) route(mux *http.ServeMux, pattern string, h http.Handler) {
	mux.Handle(pattern, instrument(pattern, h))
}

// spriteBody 与 SpriteRequest 的区别在于 seed 必填。
type spriteBody struct {
	Prompt     string   `json:"prompt"`
	Style      string   `json:"style"`
	Motions    []string `json:"motions"`
	Seed       *int64   `json:"seed"`
	Directions []string `json:"directions,omitempty"`
}

func (b spriteBody) request() (generation.SpriteRequest, error) {
	if b.Seed == nil {
		return generation.SpriteRequest{}, xerrors.New(xerrors.CodeValidation, "seed is required")
	}
	return generation.SpriteRequest{
		Prompt:     b.Prompt,
		Style:      b.Style,
		Motions:    b.Motions,
		Seed:       *b.Seed,
		Directions: b.Directions,
	}, nil
}

func (s *Server) decodeSprite(w http.ResponseWriter, r *http.Request) (generation.SpriteRequest, bool) {
	var body spriteBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return generation.SpriteRequest{}, false
	}
	req, err := body.request()
	if err != nil {
		s.writeError(w, r, err)
		return generation.SpriteRequest{}, false
	}
	return req, true
}

func (s *Server) handleGenerateSprites(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	req, ok := s.decodeSprite(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()

	result, err := s.generator.GenerateSprites(ctx, auth.UserID(r.Context()), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if s.jobs == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "job queue disabled"})
		return
	}
	req, ok := s.decodeSprite(w, r)
	if !ok {
		return
	}
	job, err := s.jobs.Submit(r.Context(), auth.UserID(r.Context()), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"jobId":  job.ID,
		"status": string(job.Status),
	})
}

func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if s.jobs == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "job queue disabled"})
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/sprites/jobs/"), "/")
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, r, xerrors.New(xerrors.CodeInvalidArgument, "job id is required"))
		return
	}
	job, err := s.jobs.Get(r.Context(), auth.UserID(r.Context()), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleGenerateImage(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req generation.ImageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()

	result, err := s.generator.GenerateImage(ctx, auth.UserID(r.Context()), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleGenerateConcept 是角色向导的第一步：生成单张角色图并返回种子。
func (s *Server) handleGenerateConcept(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req generation.ConceptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()

	result, err := s.generator.GenerateConcept(ctx, auth.UserID(r.Context()), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleGenerateSheet 用第一步返回的种子生成完整的多姿势网格。
func (s *Server) handleGenerateSheet(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req generation.SheetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()

	result, err := s.generator.GenerateSheet(ctx, auth.UserID(r.Context()), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, r, xerrors.New(xerrors.CodeInvalidArgument, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	records, err := s.generator.History(r.Context(), auth.UserID(r.Context()), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []recordstore.Generation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"generations": records})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	usage, err := s.generator.Usage(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

type motionView struct {
	Name       string   `json:"name"`
	FrameCount int      `json:"frameCount"`
	FPS        int      `json:"fps"`
	Kind       string   `json:"kind"`
	Directions []string `json:"directions,omitempty"`
	Mirrored   []string `json:"mirrored,omitempty"`
}

func (s *Server) handleMotions(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	registry := s.generator.Motions()
	views := make([]motionView, 0, len(registry.Names()))
	for _, name := range registry.Names() {
		spec, ok := registry.Config(name)
		if !ok {
			continue
		}
		view := motionView{Name: spec.Name, FrameCount: spec.FrameCount, FPS: spec.FPS, Kind: string(spec.Kind)}
		if spec.Kind == motion.KindFourWay {
			for _, dir := range motion.Directions {
				view.Directions = append(view.Directions, string(dir))
				if _, mirrored := spec.IsMirrored(dir); mirrored {
					view.Mirrored = append(view.Mirrored, string(dir))
				}
			}
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"motions":  views,
		"defaults": registry.Defaults(),
	})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.requestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.requestTimeout)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError 按错误码映射状态码，5xx 只返回公开信息。
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := generation.StatusCode(err)
	if status >= http.StatusInternalServerError {
		attrs := append([]any{slog.String("path", r.URL.Path)}, attrsToAny(xerrors.LogAttrs(err))...)
		s.log.Error("请求处理失败", attrs...)
	}
	writeJSON(w, status, errorBody{Error: xerrors.PublicMessage(err)})
}

func attrsToAny(attrs []slog.Attr) []any {
	out := make([]any, len(attrs))
	for i, attr := range attrs {
		out[i] = attr
	}
	return out
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	return false
}

// withAnonymous 在未启用认证时把请求归属到匿名用户。
func withAnonymous(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := &auth.Subject{ID: auth.AnonymousUser, Source: auth.ModeDisabled}
		next.ServeHTTP(w, r.WithContext(auth.WithSubject(r.Context(), subject)))
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "server is shutting down"})
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
