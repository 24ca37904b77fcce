package generation

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"SpriteForge/internal/cache"
	xerrors "SpriteForge/internal/errors"
	"SpriteForge/internal/observability/metrics"
	"SpriteForge/internal/prompt"
	"SpriteForge/internal/sprite"
	"SpriteForge/internal/storage/recordstore"
)

// GenerateImage renders a single sprite image. It shares the daily quota with
// the sprite pipeline and caches the result under <key>.png.
func (s *Service) GenerateImage(ctx context.Context, userID string, req ImageRequest) (*ImageResult, error) {
	started := time.Now()
	result, err := s.generateImage(ctx, userID, req)
	switch {
	case err != nil:
		metrics.ObserveGeneration(string(recordstore.KindImage), metrics.OutcomeFailed, time.Since(started))
		if !isClientError(err) {
			s.logger.LogAttrs(ctx, slog.LevelError, "单图生成失败", append(xerrors.LogAttrs(err), slog.String("user_id", userID))...)
		}
	case result.Cached:
		metrics.ObserveGeneration(string(recordstore.KindImage), metrics.OutcomeCached, time.Since(started))
	default:
		metrics.ObserveGeneration(string(recordstore.KindImage), metrics.OutcomeGenerated, time.Since(started))
	}
	return result, err
}

func (s *Service) generateImage(ctx context.Context, userID string, req ImageRequest) (*ImageResult, error) {
	text := strings.TrimSpace(req.Prompt)
	if text == "" {
		return nil, validationError("prompt 不能为空")
	}
	if utf8.RuneCountInString(text) > s.cfg.MaxPromptLength {
		return nil, validationError(fmt.Sprintf("prompt 不能超过 %d 个字符", s.cfg.MaxPromptLength))
	}
	if !slices.Contains(ImageResolutions, req.Resolution) {
		return nil, validationError(fmt.Sprintf("不支持的分辨率: %d", req.Resolution))
	}
	preset := strings.TrimSpace(req.StylePreset)
	if !prompt.HasImagePreset(preset) {
		return nil, validationError(fmt.Sprintf("未知的风格预设: %s", req.StylePreset))
	}
	release, err := s.Reserve(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	seed := s.seeds()
	if req.Seed != nil {
		seed = *req.Seed
	}
	key := cache.Key(text, preset, "image@"+strconv.Itoa(req.Resolution), seed)

	hit, err := s.cache.Exists(ctx, key, "")
	if err != nil {
		return nil, annotate(err, text, seed, "")
	}
	metrics.ObserveCacheLookup("image", hit)

	url := s.cache.URL(key, "")
	if !hit {
		full, err := s.prompts.BuildImage(text, preset)
		if err != nil {
			return nil, validationError(err.Error())
		}
		img, err := s.synthesize(ctx, full, req.Resolution, seed)
		if err != nil {
			return nil, annotate(err, text, seed, "")
		}
		data, err := sprite.EncodePNG(img)
		if err != nil {
			return nil, annotate(err, text, seed, "")
		}
		url, _, err = s.put(ctx, cache.Asset{Key: key, Bytes: data, ContentType: cache.ContentTypePNG})
		if err != nil {
			return nil, annotate(err, text, seed, "")
		}
		metrics.ObserveUpload()
	}

	record := recordstore.Generation{
		ID:        s.newID(),
		UserID:    userID,
		Kind:      recordstore.KindImage,
		Prompt:    text,
		Seed:      seed,
		Style:     preset,
		ImageURL:  url,
		CacheKey:  key,
		CreatedAt: s.now().UTC(),
	}
	if err := s.records.Insert(ctx, record); err != nil {
		return nil, annotate(annotateStorage(err, "写入生成记录失败"), text, seed, "")
	}
	return &ImageResult{
		GenerationID: record.ID,
		ImageURL:     url,
		Seed:         seed,
		Cached:       hit,
	}, nil
}

func isClientError(err error) bool {
	return StatusCode(err) < 500
}
