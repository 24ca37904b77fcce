package generation

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SpriteForge/internal/cache"
	xerrors "SpriteForge/internal/errors"
	"SpriteForge/internal/prompt"
	"SpriteForge/internal/sprite"
	"SpriteForge/internal/storage/recordstore"
)

func decodeAsset(t *testing.T, store cache.Store, key, name string) []byte {
	t.Helper()
	data, err := store.Get(context.Background(), key, name)
	require.NoError(t, err, name)
	return data
}

func TestGenerateConceptDrawsSeedAndCaches(t *testing.T) {
	f := newFixture(t, nil, WithSeedSource(func() int64 { return 77 }))
	ctx := context.Background()

	first, err := f.svc.GenerateConcept(ctx, "user-1", ConceptRequest{Prompt: "forest ranger", Style: "snes"})
	require.NoError(t, err)
	assert.EqualValues(t, 77, first.Seed)
	assert.False(t, first.Cached)
	assert.Equal(t, f.store.URL(first.CacheKey, sprite.ConceptName), first.ImageURL)
	require.EqualValues(t, 1, f.provider.calls.Load())
	assert.Contains(t, f.provider.prompts[0], "centered character")
	assert.NotContains(t, f.provider.prompts[0], "grid")

	img, err := sprite.DecodePNG(decodeAsset(t, f.store, first.CacheKey, sprite.ConceptName))
	require.NoError(t, err)
	assert.Equal(t, ConceptSize, img.Bounds().Dx())
	assert.Equal(t, ConceptSize, img.Bounds().Dy())

	seed := first.Seed
	second, err := f.svc.GenerateConcept(ctx, "user-1", ConceptRequest{Prompt: "forest ranger", Style: "snes", Seed: &seed})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.ImageURL, second.ImageURL)
	assert.EqualValues(t, 1, f.provider.calls.Load())

	history, err := f.svc.History(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, recordstore.KindConcept, history[0].Kind)
	assert.Equal(t, first.ImageURL, history[0].ImageURL)
}

func TestGenerateConceptValidation(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.GenerateConcept(context.Background(), "user-1", ConceptRequest{Prompt: "  "})
	assert.Equal(t, 400, StatusCode(err))
	_, err = f.svc.GenerateConcept(context.Background(), "", ConceptRequest{Prompt: "ranger"})
	assert.Equal(t, 401, StatusCode(err))
	assert.Zero(t, f.provider.calls.Load())
}

func TestGenerateSheetRequiresSeed(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.GenerateSheet(context.Background(), "user-1", SheetRequest{Prompt: "forest ranger"})
	require.Error(t, err)
	assert.Equal(t, 400, StatusCode(err))
	assert.Contains(t, xerrors.PublicMessage(err), "seed is required")
	assert.Zero(t, f.provider.calls.Load())
	assert.Zero(t, f.records.Len())
}

func TestGenerateSheetSlicesOneSynthesis(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	seed := int64(77)
	req := SheetRequest{Prompt: "forest ranger", Seed: &seed}

	res, err := f.svc.GenerateSheet(ctx, "user-1", req)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.EqualValues(t, 77, res.Seed)
	require.EqualValues(t, 1, f.provider.calls.Load())
	assert.Contains(t, f.provider.prompts[0], "4×4 grid")
	assert.Equal(t, cache.Key("forest ranger", prompt.DefaultStyle, "sheet@4x4", 77), res.CacheKey)

	require.Len(t, res.Tiles, 16)
	for i, url := range res.Tiles {
		assert.Equal(t, f.store.URL(res.CacheKey, sprite.SheetTileAssetName(i)), url)
		tile, err := sprite.DecodePNG(decodeAsset(t, f.store, res.CacheKey, sprite.SheetTileAssetName(i)))
		require.NoError(t, err)
		assert.Equal(t, 256, tile.Bounds().Dx(), fmt.Sprintf("tile %d", i))
	}

	thumb, err := sprite.DecodePNG(decodeAsset(t, f.store, res.CacheKey, sprite.ThumbName))
	require.NoError(t, err)
	assert.Equal(t, ConceptSize, thumb.Bounds().Dx())
	assert.Equal(t, f.store.URL(res.CacheKey, sprite.ThumbName), res.ThumbURL)

	sheet, err := sprite.DecodePNG(decodeAsset(t, f.store, res.CacheKey, sprite.SheetName))
	require.NoError(t, err)
	assert.Equal(t, DefaultSourceSize, sheet.Bounds().Dx())

	// 切片按行优先，第 5 块是第二行第二列。
	frames, err := sprite.ExtractFrames(sheet, 4, 256)
	require.NoError(t, err)
	tile5, err := sprite.DecodePNG(decodeAsset(t, f.store, res.CacheKey, sprite.SheetTileAssetName(5)))
	require.NoError(t, err)
	assert.Equal(t, frames[5].Pix, sprite.ToNRGBA(tile5).Pix)

	again, err := f.svc.GenerateSheet(ctx, "user-1", req)
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, res.SheetURL, again.SheetURL)
	assert.Equal(t, res.Tiles, again.Tiles)
	assert.EqualValues(t, 1, f.provider.calls.Load())

	history, err := f.svc.History(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, recordstore.KindSheet, history[0].Kind)
}

func TestGenerateSheetFailedTileLeavesNoSheet(t *testing.T) {
	f := newFixture(t, func(d *Dependencies) {
		d.Cache = failingStore{Store: d.Cache, failOn: sprite.SheetTileAssetName(3)}
	})
	seed := int64(3)

	_, err := f.svc.GenerateSheet(context.Background(), "user-1", SheetRequest{Prompt: "ranger", Seed: &seed})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeCacheUnavailable, xerrors.CodeOf(err))
	assert.Zero(t, f.records.Len())

	ok, err := f.store.Exists(context.Background(), cache.Key("ranger", prompt.DefaultStyle, "sheet@4x4", 3), sprite.SheetName)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWizardSharesQuota(t *testing.T) {
	f := newFixtureWithConfig(t, Config{AtlasFrameSize: sprite.SizeSmall, DailyLimit: 1}, nil)
	ctx := context.Background()

	concept, err := f.svc.GenerateConcept(ctx, "user-1", ConceptRequest{Prompt: "ranger"})
	require.NoError(t, err)

	_, err = f.svc.GenerateSheet(ctx, "user-1", SheetRequest{Prompt: "ranger", Seed: &concept.Seed})
	require.Error(t, err)
	assert.Equal(t, 402, StatusCode(err))
	assert.EqualValues(t, 1, f.provider.calls.Load())
}
