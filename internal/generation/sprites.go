package generation

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"SpriteForge/internal/cache"
	xerrors "SpriteForge/internal/errors"
	"SpriteForge/internal/motion"
	"SpriteForge/internal/observability/metrics"
	"SpriteForge/internal/sprite"
	"SpriteForge/internal/storage/recordstore"
	"SpriteForge/internal/synthesis"
)

// spriteJob 是校验后的精灵图请求。
type spriteJob struct {
	prompt     string
	style      string
	seed       int64
	names      []string
	motions    []motion.Spec
	directions []motion.Direction
}

func (j spriteJob) directionNames() []string {
	out := make([]string, len(j.directions))
	for i, d := range j.directions {
		out[i] = string(d)
	}
	return out
}

// facing 标识一个动作的某个朝向，空方向代表默认朝向。
type facing struct {
	motion string
	dir    motion.Direction
}

func (f facing) frameName(index, size int) string {
	if f.dir == "" {
		return sprite.FrameAssetName(f.motion, index, size)
	}
	return sprite.DirectionFrameAssetName(f.motion, string(f.dir), index, size)
}

// markerName 是代表帧资源名。大尺寸代表帧最后写入，存在即表示该朝向已完整缓存。
func (f facing) markerName(size int) string {
	if f.dir == "" {
		return sprite.MotionAssetName(f.motion, size)
	}
	return sprite.DirectionAssetName(f.motion, string(f.dir), size)
}

func canonicalSize(size int) bool {
	for _, s := range sprite.Sizes {
		if s == size {
			return true
		}
	}
	return false
}

// ValidateSprite checks a request without touching any collaborator.
func (s *Service) ValidateSprite(req SpriteRequest) error {
	_, err := s.normalizeSprite(req)
	return err
}

func (s *Service) normalizeSprite(req SpriteRequest) (spriteJob, error) {
	text := strings.TrimSpace(req.Prompt)
	if text == "" {
		return spriteJob{}, validationError("prompt 不能为空")
	}
	if utf8.RuneCountInString(text) > s.cfg.MaxPromptLength {
		return spriteJob{}, validationError(fmt.Sprintf("prompt 不能超过 %d 个字符", s.cfg.MaxPromptLength))
	}

	job := spriteJob{
		prompt: text,
		style:  s.prompts.Style(req.Style).Key,
		seed:   req.Seed,
	}

	names := req.Motions
	if len(names) == 0 {
		return spriteJob{}, validationError("motions 不能为空")
	}
	if len(names) > s.cfg.MaxMotions {
		return spriteJob{}, validationError(fmt.Sprintf("最多支持 %d 个动作", s.cfg.MaxMotions))
	}
	seen := make(map[string]struct{}, len(names))
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		spec, ok := s.motions.Config(name)
		if !ok {
			return spriteJob{}, validationError(fmt.Sprintf("invalid motion: %s", raw))
		}
		if _, dup := seen[name]; dup {
			return spriteJob{}, validationError(fmt.Sprintf("动作重复: %s", name))
		}
		seen[name] = struct{}{}
		job.names = append(job.names, name)
		job.motions = append(job.motions, spec)
	}

	dirs := make(map[motion.Direction]struct{}, len(req.Directions))
	for _, raw := range req.Directions {
		dir, ok := motion.ParseDirection(raw)
		if !ok {
			return spriteJob{}, validationError(fmt.Sprintf("invalid direction: %s", raw))
		}
		if _, dup := dirs[dir]; dup {
			continue
		}
		dirs[dir] = struct{}{}
		job.directions = append(job.directions, dir)
	}
	motion.SortDirections(job.directions)
	return job, nil
}

// GenerateSprites runs admission and then the pipeline synchronously. The
// admission slot is held until the pipeline returns.
func (s *Service) GenerateSprites(ctx context.Context, userID string, req SpriteRequest) (*SpriteResult, error) {
	if err := s.ValidateSprite(req); err != nil {
		return nil, err
	}
	release, err := s.Reserve(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.Execute(ctx, userID, req)
}

// Execute runs the sprite pipeline for an already admitted request. The
// generation record is written only after every asset is stored.
func (s *Service) Execute(ctx context.Context, userID string, req SpriteRequest) (*SpriteResult, error) {
	started := time.Now()
	result, err := s.execute(ctx, userID, req)
	switch {
	case err != nil:
		metrics.ObserveGeneration(string(recordstore.KindSprites), metrics.OutcomeFailed, time.Since(started))
		level := slog.LevelError
		if isClientError(err) {
			level = slog.LevelInfo
		}
		s.logger.LogAttrs(ctx, level, "精灵图生成失败", append(xerrors.LogAttrs(err), slog.String("user_id", userID))...)
	case result.Cached:
		metrics.ObserveGeneration(string(recordstore.KindSprites), metrics.OutcomeCached, time.Since(started))
	default:
		metrics.ObserveGeneration(string(recordstore.KindSprites), metrics.OutcomeGenerated, time.Since(started))
	}
	return result, err
}

func (s *Service) execute(ctx context.Context, userID string, req SpriteRequest) (*SpriteResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, xerrors.New(xerrors.CodeUnauthorized, "未登录")
	}
	job, err := s.normalizeSprite(req)
	if err != nil {
		return nil, err
	}

	atlasKey := cache.Key(job.prompt, job.style, cache.MotionsToken(job.names, job.directionNames()), job.seed)
	hit, err := s.cache.Exists(ctx, atlasKey, sprite.MetadataName)
	if err != nil {
		return nil, annotate(err, job.prompt, job.seed, "")
	}
	metrics.ObserveCacheLookup("atlas", hit)
	if hit {
		s.logger.Info("命中精灵图缓存", slog.String("cache_key", atlasKey), slog.String("user_id", userID))
		return s.recordSprites(ctx, userID, job, &SpriteResult{
			AtlasURL: s.cache.URL(atlasKey, sprite.AtlasName),
			MetaURL:  s.cache.URL(atlasKey, sprite.MetadataName),
			CacheKey: atlasKey,
			Cached:   true,
		})
	}

	meta := sprite.Metadata{
		FrameSize: s.cfg.AtlasFrameSize,
		Frames:    make(map[string]sprite.MotionFrames, len(job.motions)),
	}
	bands := make([]image.Image, len(job.motions))
	for row, spec := range job.motions {
		band, frames, err := s.processMotion(ctx, job, spec)
		if err != nil {
			return nil, annotate(err, job.prompt, job.seed, spec.Name)
		}
		frames.Row = row
		meta.Frames[spec.Name] = frames
		bands[row] = band
	}

	atlas, err := sprite.ComposeAtlas(bands, s.cfg.AtlasFrameSize)
	if err != nil {
		return nil, annotate(err, job.prompt, job.seed, "")
	}
	atlasBytes, err := sprite.EncodePNG(atlas)
	if err != nil {
		return nil, annotate(err, job.prompt, job.seed, "")
	}
	atlasURL, _, err := s.put(ctx, cache.Asset{Key: atlasKey, Name: sprite.AtlasName, Bytes: atlasBytes, ContentType: cache.ContentTypePNG})
	if err != nil {
		return nil, annotate(err, job.prompt, job.seed, "")
	}
	meta.Atlas = atlasURL

	metaBytes, err := sprite.EncodeMetadata(meta)
	if err != nil {
		return nil, annotate(err, job.prompt, job.seed, "")
	}
	metaURL, _, err := s.put(ctx, cache.Asset{Key: atlasKey, Name: sprite.MetadataName, Bytes: metaBytes, ContentType: cache.ContentTypeJSON})
	if err != nil {
		return nil, annotate(err, job.prompt, job.seed, "")
	}

	return s.recordSprites(ctx, userID, job, &SpriteResult{
		AtlasURL: atlasURL,
		MetaURL:  metaURL,
		CacheKey: atlasKey,
	})
}

func (s *Service) recordSprites(ctx context.Context, userID string, job spriteJob, result *SpriteResult) (*SpriteResult, error) {
	record := recordstore.Generation{
		ID:        s.newID(),
		UserID:    userID,
		Kind:      recordstore.KindSprites,
		Prompt:    job.prompt,
		Seed:      job.seed,
		Style:     job.style,
		Motions:   append([]string(nil), job.names...),
		AtlasURL:  result.AtlasURL,
		MetaURL:   result.MetaURL,
		CacheKey:  result.CacheKey,
		CreatedAt: s.now().UTC(),
	}
	if err := s.records.Insert(ctx, record); err != nil {
		return nil, annotate(annotateStorage(err, "写入生成记录失败"), job.prompt, job.seed, "")
	}
	result.GenerationID = record.ID
	return result, nil
}

// processMotion 保证一个动作的全部资源已缓存，返回图集中该动作的代表帧与元数据。
func (s *Service) processMotion(ctx context.Context, job spriteJob, spec motion.Spec) (image.Image, sprite.MotionFrames, error) {
	key := cache.Key(job.prompt, job.style, spec.Name, job.seed)
	base := facing{motion: spec.Name}

	frames, err := s.ensureFacing(ctx, job, spec, key, base, nil)
	if err != nil {
		return nil, sprite.MotionFrames{}, err
	}

	out := sprite.MotionFrames{
		FrameCount: spec.FrameCount,
		FPS:        spec.FPS,
		URLs:       s.markerURLs(key, base),
		Tiles:      s.tileURLs(key, base, spec.FrameCount),
	}

	if spec.Kind == motion.KindFourWay && len(job.directions) > 0 {
		out.Directions = make(map[string]sprite.DirectionFrames, len(job.directions))
		sources := make(map[motion.Direction][]*image.NRGBA)
		for _, dir := range facingOrder(spec, job.directions) {
			f := facing{motion: spec.Name, dir: dir}
			dirFrames, err := s.ensureFacing(ctx, job, spec, key, f, sources)
			if err != nil {
				return nil, sprite.MotionFrames{}, err
			}
			sources[dir] = dirFrames
		}
		for _, dir := range job.directions {
			f := facing{motion: spec.Name, dir: dir}
			_, mirrored := spec.IsMirrored(dir)
			out.Directions[string(dir)] = sprite.DirectionFrames{
				Mirrored: mirrored,
				URLs:     s.markerURLs(key, f),
				Tiles:    s.tileURLs(key, f, spec.FrameCount),
			}
		}
	}

	band, err := s.representative(ctx, key, base, frames)
	if err != nil {
		return nil, sprite.MotionFrames{}, err
	}
	return band, out, nil
}

// facingOrder 返回需要处理的朝向：先处理直接合成的朝向，再处理镜像朝向，并补齐镜像来源。
func facingOrder(spec motion.Spec, requested []motion.Direction) []motion.Direction {
	need := make(map[motion.Direction]struct{}, len(requested))
	for _, dir := range requested {
		need[dir] = struct{}{}
		if src, ok := spec.IsMirrored(dir); ok {
			need[src] = struct{}{}
		}
	}
	var direct, mirrored []motion.Direction
	for _, dir := range motion.Directions {
		if _, ok := need[dir]; !ok {
			continue
		}
		if _, ok := spec.IsMirrored(dir); ok {
			mirrored = append(mirrored, dir)
		} else {
			direct = append(direct, dir)
		}
	}
	return append(direct, mirrored...)
}

// ensureFacing 在缓存未命中时合成（或镜像）并上传一个朝向的全部帧。命中时返回 nil 帧。
func (s *Service) ensureFacing(ctx context.Context, job spriteJob, spec motion.Spec, key string, f facing, sources map[motion.Direction][]*image.NRGBA) ([]*image.NRGBA, error) {
	hit, err := s.cache.Exists(ctx, key, f.markerName(sprite.SizeLarge))
	if err != nil {
		return nil, err
	}
	metrics.ObserveCacheLookup("motion", hit)
	if hit {
		return nil, nil
	}

	var frames []*image.NRGBA
	if src, mirrored := spec.IsMirrored(f.dir); mirrored {
		srcFrames := sources[src]
		if srcFrames == nil {
			srcFrames, err = s.loadFrames(ctx, key, facing{motion: f.motion, dir: src}, spec.FrameCount)
			if err != nil {
				return nil, err
			}
		}
		frames = make([]*image.NRGBA, len(srcFrames))
		for i, frame := range srcFrames {
			frames[i] = sprite.MirrorHorizontal(frame)
		}
	} else {
		fragment, ok := s.motions.Prompt(spec.Name, f.dir)
		if !ok {
			return nil, validationError(fmt.Sprintf("动作 %s 不支持朝向 %s", spec.Name, f.dir))
		}
		frames, err = s.synthesizeFrames(ctx, job, spec, s.prompts.BuildMotion(job.prompt, job.style, fragment))
		if err != nil {
			return nil, err
		}
	}

	frames, err = s.uploadFrames(ctx, key, f, frames)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("动作帧已写入缓存",
		slog.String("cache_key", key), slog.String("motion", f.motion),
		slog.String("direction", string(f.dir)), slog.Int("frames", len(frames)))
	return frames, nil
}

func (s *Service) synthesizeFrames(ctx context.Context, job spriteJob, spec motion.Spec, text string) ([]*image.NRGBA, error) {
	grid, err := s.synthesize(ctx, text, s.cfg.SourceSize, job.seed)
	if err != nil {
		return nil, err
	}
	tiles, err := sprite.ExtractFrames(grid, s.cfg.GridSize, s.cfg.SourceSize/s.cfg.GridSize)
	if err != nil {
		return nil, err
	}
	if spec.FrameCount > len(tiles) {
		return nil, xerrors.New(xerrors.CodeImageProcessing,
			fmt.Sprintf("动作 %s 需要 %d 帧，网格只有 %d 帧", spec.Name, spec.FrameCount, len(tiles)))
	}
	return tiles[:spec.FrameCount], nil
}

// synthesize 调用图像生成并把结果规整为 size x size。
func (s *Service) synthesize(ctx context.Context, text string, size int, seed int64) (image.Image, error) {
	img, err := s.provider.Synthesize(ctx, synthesis.Request{
		Prompt:      text,
		Size:        size,
		Seed:        seed,
		Transparent: true,
	})
	metrics.ObserveSynthesis(err)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeUnknown {
			return nil, xerrors.Wrap(xerrors.CodeSynthesisFailed, err, "图像生成失败")
		}
		return nil, err
	}
	if img == nil || len(img.Bytes) == 0 {
		return nil, xerrors.New(xerrors.CodeSynthesisFailed, "图像生成结果为空")
	}
	decoded, err := sprite.DecodePNG(img.Bytes)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSynthesisFailed, err, "图像生成结果无法解码")
	}
	if b := decoded.Bounds(); b.Dx() != size || b.Dy() != size {
		decoded = sprite.Resize(decoded, size)
	}
	return decoded, nil
}

// uploadFrames 并发写入每一帧的三种尺寸，最后写入代表帧（大尺寸最后）。
// 若有帧已被之前的写入占用，改为以缓存中的大尺寸帧为准，代表帧与镜像都由它们派生。
func (s *Service) uploadFrames(ctx context.Context, key string, f facing, frames []*image.NRGBA) ([]*image.NRGBA, error) {
	if len(frames) == 0 {
		return nil, xerrors.New(xerrors.CodeImageProcessing, "没有可写入的帧")
	}

	var stale atomic.Bool
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.UploadConcurrency)
	for i, frame := range frames {
		for _, size := range sprite.Sizes {
			name := f.frameName(i, size)
			g.Go(func() error {
				existing, err := s.putPNG(gctx, key, name, sprite.Resize(frame, size))
				if existing {
					stale.Store(true)
				}
				return err
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if stale.Load() {
		stored, err := s.loadFrames(ctx, key, f, len(frames))
		if err != nil {
			return nil, err
		}
		s.logger.Info("沿用缓存中已有的帧",
			slog.String("cache_key", key), slog.String("motion", f.motion), slog.String("direction", string(f.dir)))
		frames = stored
	}

	for i := len(sprite.Sizes) - 1; i >= 0; i-- {
		size := sprite.Sizes[i]
		if _, err := s.putPNG(ctx, key, f.markerName(size), sprite.Resize(frames[0], size)); err != nil {
			return nil, err
		}
	}
	return frames, nil
}

func (s *Service) putPNG(ctx context.Context, key, name string, img image.Image) (existing bool, err error) {
	data, err := sprite.EncodePNG(img)
	if err != nil {
		return false, err
	}
	if _, existing, err = s.put(ctx, cache.Asset{Key: key, Name: name, Bytes: data, ContentType: cache.ContentTypePNG}); err != nil {
		return false, err
	}
	metrics.ObserveUpload()
	return existing, nil
}

// loadFrames 从缓存读取一个朝向的大尺寸帧，用于镜像来源已缓存的情况。
func (s *Service) loadFrames(ctx context.Context, key string, f facing, count int) ([]*image.NRGBA, error) {
	frames := make([]*image.NRGBA, count)
	for i := range frames {
		data, err := s.cache.Get(ctx, key, f.frameName(i, sprite.SizeLarge))
		if err != nil {
			return nil, err
		}
		img, err := sprite.DecodePNG(data)
		if err != nil {
			return nil, err
		}
		frames[i] = sprite.ToNRGBA(img)
	}
	return frames, nil
}

// representative 返回图集中使用的代表帧。
func (s *Service) representative(ctx context.Context, key string, f facing, frames []*image.NRGBA) (image.Image, error) {
	if len(frames) > 0 {
		return sprite.Resize(frames[0], s.cfg.AtlasFrameSize), nil
	}
	data, err := s.cache.Get(ctx, key, f.markerName(s.cfg.AtlasFrameSize))
	if err != nil {
		return nil, err
	}
	return sprite.DecodePNG(data)
}

func (s *Service) markerURLs(key string, f facing) sprite.SizeURLs {
	urls := make(sprite.SizeURLs, len(sprite.Sizes))
	for _, size := range sprite.Sizes {
		urls[sprite.SizeKey(size)] = s.cache.URL(key, f.markerName(size))
	}
	return urls
}

func (s *Service) tileURLs(key string, f facing, count int) []sprite.SizeURLs {
	tiles := make([]sprite.SizeURLs, count)
	for i := range tiles {
		urls := make(sprite.SizeURLs, len(sprite.Sizes))
		for _, size := range sprite.Sizes {
			urls[sprite.SizeKey(size)] = s.cache.URL(key, f.frameName(i, size))
		}
		tiles[i] = urls
	}
	return tiles
}
