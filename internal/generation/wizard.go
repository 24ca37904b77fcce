package generation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"SpriteForge/internal/cache"
	xerrors "SpriteForge/internal/errors"
	"SpriteForge/internal/observability/metrics"
	"SpriteForge/internal/prompt"
	"SpriteForge/internal/sprite"
	"SpriteForge/internal/storage/recordstore"
)

// GenerateConcept renders one character in character mode and caches a
// ConceptSize thumbnail. The returned seed reproduces the character when
// passed to GenerateSheet.
func (s *Service) GenerateConcept(ctx context.Context, userID string, req ConceptRequest) (*ConceptResult, error) {
	started := time.Now()
	result, err := s.generateConcept(ctx, userID, req)
	s.observeWizard(ctx, recordstore.KindConcept, userID, started, err, result != nil && result.Cached)
	return result, err
}

func (s *Service) generateConcept(ctx context.Context, userID string, req ConceptRequest) (*ConceptResult, error) {
	text, err := s.validPrompt(req.Prompt)
	if err != nil {
		return nil, err
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
	style := s.prompts.Style(req.Style).Key
	key := cache.Key(text, style, fmt.Sprintf("concept@%d", ConceptSize), seed)

	hit, err := s.cache.Exists(ctx, key, sprite.ConceptName)
	if err != nil {
		return nil, annotate(err, text, seed, "")
	}
	metrics.ObserveCacheLookup("concept", hit)

	url := s.cache.URL(key, sprite.ConceptName)
	if !hit {
		img, err := s.synthesize(ctx, s.prompts.Build(text, prompt.ModeCharacter, style), s.cfg.SourceSize, seed)
		if err != nil {
			return nil, annotate(err, text, seed, "")
		}
		if _, err := s.putPNG(ctx, key, sprite.ConceptName, sprite.Resize(img, ConceptSize)); err != nil {
			return nil, annotate(err, text, seed, "")
		}
	}

	record, err := s.recordWizard(ctx, userID, recordstore.KindConcept, text, style, seed, key, url)
	if err != nil {
		return nil, err
	}
	return &ConceptResult{
		GenerationID: record.ID,
		ImageURL:     url,
		Seed:         seed,
		CacheKey:     key,
		Cached:       hit,
	}, nil
}

// GenerateSheet renders the full multi-pose grid in a single synthesis call,
// slices it row-major into tiles and caches the tiles, a thumbnail and the
// normalised sheet. The sheet is written last and marks the entry complete.
func (s *Service) GenerateSheet(ctx context.Context, userID string, req SheetRequest) (*SheetResult, error) {
	started := time.Now()
	result, err := s.generateSheet(ctx, userID, req)
	s.observeWizard(ctx, recordstore.KindSheet, userID, started, err, result != nil && result.Cached)
	return result, err
}

func (s *Service) generateSheet(ctx context.Context, userID string, req SheetRequest) (*SheetResult, error) {
	text, err := s.validPrompt(req.Prompt)
	if err != nil {
		return nil, err
	}
	if req.Seed == nil {
		return nil, validationError("seed is required")
	}
	seed := *req.Seed
	release, err := s.Reserve(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	style := s.prompts.Style(req.Style).Key
	key := cache.Key(text, style, fmt.Sprintf("sheet@%dx%d", s.cfg.GridSize, s.cfg.GridSize), seed)
	tileCount := s.cfg.GridSize * s.cfg.GridSize

	hit, err := s.cache.Exists(ctx, key, sprite.SheetName)
	if err != nil {
		return nil, annotate(err, text, seed, "")
	}
	metrics.ObserveCacheLookup("sheet", hit)

	if !hit {
		grid, err := s.synthesize(ctx, s.prompts.Build(text, prompt.ModeSpriteSheet, style), s.cfg.SourceSize, seed)
		if err != nil {
			return nil, annotate(err, text, seed, "")
		}
		tiles, err := sprite.ExtractFrames(grid, s.cfg.GridSize, s.cfg.SourceSize/s.cfg.GridSize)
		if err != nil {
			return nil, annotate(err, text, seed, "")
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.UploadConcurrency)
		for i, tile := range tiles {
			g.Go(func() error {
				_, err := s.putPNG(gctx, key, sprite.SheetTileAssetName(i), tile)
				return err
			})
		}
		g.Go(func() error {
			_, err := s.putPNG(gctx, key, sprite.ThumbName, sprite.Resize(grid, ConceptSize))
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, annotate(err, text, seed, "")
		}
		if _, err := s.putPNG(ctx, key, sprite.SheetName, grid); err != nil {
			return nil, annotate(err, text, seed, "")
		}
	}

	sheetURL := s.cache.URL(key, sprite.SheetName)
	record, err := s.recordWizard(ctx, userID, recordstore.KindSheet, text, style, seed, key, sheetURL)
	if err != nil {
		return nil, err
	}
	result := &SheetResult{
		GenerationID: record.ID,
		SheetURL:     sheetURL,
		ThumbURL:     s.cache.URL(key, sprite.ThumbName),
		Tiles:        make([]string, tileCount),
		Seed:         seed,
		CacheKey:     key,
		Cached:       hit,
	}
	for i := range result.Tiles {
		result.Tiles[i] = s.cache.URL(key, sprite.SheetTileAssetName(i))
	}
	return result, nil
}

func (s *Service) validPrompt(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", validationError("prompt 不能为空")
	}
	if utf8.RuneCountInString(text) > s.cfg.MaxPromptLength {
		return "", validationError(fmt.Sprintf("prompt 不能超过 %d 个字符", s.cfg.MaxPromptLength))
	}
	return text, nil
}

func (s *Service) recordWizard(ctx context.Context, userID string, kind recordstore.Kind, text, style string, seed int64, key, url string) (recordstore.Generation, error) {
	record := recordstore.Generation{
		ID:        s.newID(),
		UserID:    userID,
		Kind:      kind,
		Prompt:    text,
		Seed:      seed,
		Style:     style,
		ImageURL:  url,
		CacheKey:  key,
		CreatedAt: s.now().UTC(),
	}
	if err := s.records.Insert(ctx, record); err != nil {
		return recordstore.Generation{}, annotate(annotateStorage(err, "写入生成记录失败"), text, seed, "")
	}
	return record, nil
}

func (s *Service) observeWizard(ctx context.Context, kind recordstore.Kind, userID string, started time.Time, err error, cached bool) {
	switch {
	case err != nil:
		metrics.ObserveGeneration(string(kind), metrics.OutcomeFailed, time.Since(started))
		if !isClientError(err) {
			s.logger.LogAttrs(ctx, slog.LevelError, "向导生成失败",
				append(xerrors.LogAttrs(err), slog.String("user_id", userID), slog.String("kind", string(kind)))...)
		}
	case cached:
		metrics.ObserveGeneration(string(kind), metrics.OutcomeCached, time.Since(started))
	default:
		metrics.ObserveGeneration(string(kind), metrics.OutcomeGenerated, time.Since(started))
	}
}
