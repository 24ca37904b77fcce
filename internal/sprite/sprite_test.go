package sprite

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gridImage paints tile i of a grid with colour (i, 255-i, 7, alpha).
func gridImage(gridSize, tileSize int, alpha uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, gridSize*tileSize, gridSize*tileSize))
	for y := 0; y < gridSize*tileSize; y++ {
		for x := 0; x < gridSize*tileSize; x++ {
			i := (y/tileSize)*gridSize + x/tileSize
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(i), G: uint8(255 - i), B: 7, A: alpha})
		}
	}
	return img
}

func TestExtractFramesRowMajor(t *testing.T) {
	src := gridImage(4, 256, 255)
	frames, err := ExtractFrames(src, 4, 256)
	require.NoError(t, err)
	require.Len(t, frames, 16)
	for i, f := range frames {
		require.Equal(t, 256, f.Bounds().Dx())
		require.Equal(t, 256, f.Bounds().Dy())
		assert.Equal(t, uint8(i), f.NRGBAAt(0, 0).R, "tile %d", i)
		assert.Equal(t, uint8(i), f.NRGBAAt(255, 255).R, "tile %d", i)
	}
	// tile 5 sits at row 1, column 1
	assert.Equal(t, src.NRGBAAt(256+10, 256+20), frames[5].NRGBAAt(10, 20))
}

func TestExtractFramesRejectsSmallSource(t *testing.T) {
	_, err := ExtractFrames(image.NewNRGBA(image.Rect(0, 0, 512, 512)), 4, 256)
	require.Error(t, err)
}

func TestExtractFramesHonoursBoundsOffset(t *testing.T) {
	src := gridImage(2, 4, 255)
	shifted := &image.NRGBA{Pix: src.Pix, Stride: src.Stride, Rect: image.Rect(100, 100, 108, 108)}
	frames, err := ExtractFrames(shifted, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, uint8(3), frames[3].NRGBAAt(0, 0).R)
}

func TestResizeKeepsTransparency(t *testing.T) {
	src := gridImage(1, 64, 0)
	for _, size := range Sizes {
		out := Resize(src, size)
		require.Equal(t, size, out.Bounds().Dx())
		require.Equal(t, size, out.Bounds().Dy())
		assert.Equal(t, uint8(0), out.NRGBAAt(size/2, size/2).A)
	}
}

func TestResizeLetterboxesWithTransparentPadding(t *testing.T) {
	wide := image.NewNRGBA(image.Rect(0, 0, 200, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 200; x++ {
			wide.SetNRGBA(x, y, color.NRGBA{R: 200, A: 255})
		}
	}
	out := Resize(wide, 100)
	assert.Equal(t, uint8(0), out.NRGBAAt(50, 0).A, "top padding must be transparent")
	assert.Equal(t, uint8(0), out.NRGBAAt(50, 99).A, "bottom padding must be transparent")
	assert.Equal(t, color.NRGBA{R: 200, A: 255}, out.NRGBAAt(50, 50))
	assert.False(t, Opaque(out))
}

func TestComposeAtlasStacksInOrder(t *testing.T) {
	colours := []color.NRGBA{{R: 255, A: 255}, {G: 255, A: 255}, {B: 255, A: 128}}
	frames := make([]image.Image, 0, len(colours))
	for _, c := range colours {
		f := image.NewNRGBA(image.Rect(0, 0, 32, 32))
		for y := 0; y < 32; y++ {
			for x := 0; x < 32; x++ {
				f.SetNRGBA(x, y, c)
			}
		}
		frames = append(frames, f)
	}
	atlas, err := ComposeAtlas(frames, 32)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 32, 96), atlas.Bounds())
	for i, c := range colours {
		assert.Equal(t, c, atlas.NRGBAAt(16, i*32+16), "band %d", i)
	}
}

func TestComposeAtlasResizesMismatchedFrames(t *testing.T) {
	atlas, err := ComposeAtlas([]image.Image{image.NewNRGBA(image.Rect(0, 0, 64, 64))}, 16)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 16), atlas.Bounds())

	_, err = ComposeAtlas(nil, 16)
	require.Error(t, err)
}

func TestMirrorHorizontal(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 3, 1))
	src.SetNRGBA(0, 0, color.NRGBA{R: 1, A: 255})
	src.SetNRGBA(2, 0, color.NRGBA{R: 3, A: 10})
	out := MirrorHorizontal(src)
	assert.Equal(t, color.NRGBA{R: 3, A: 10}, out.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{}, out.NRGBAAt(1, 0))
	assert.Equal(t, color.NRGBA{R: 1, A: 255}, out.NRGBAAt(2, 0))
}

func TestPNGRoundTripPreservesAlpha(t *testing.T) {
	src := gridImage(2, 8, 40)
	data, err := EncodePNG(src)
	require.NoError(t, err)

	again, err := EncodePNG(src)
	require.NoError(t, err)
	require.Equal(t, data, again, "encoding must be deterministic")

	decoded, err := DecodePNG(data)
	require.NoError(t, err)
	got := ToNRGBA(decoded)
	assert.Equal(t, src.NRGBAAt(9, 9), got.NRGBAAt(9, 9))

	_, err = DecodePNG([]byte("not a png"))
	require.Error(t, err)
}

func TestOpaqueImagesKeepAlphaChannel(t *testing.T) {
	src := gridImage(2, 8, 255)
	require.True(t, Opaque(src))

	data, err := EncodePNG(src)
	require.NoError(t, err)
	// 8 字节签名 + IHDR 长度与类型 + 宽高 + 位深之后是颜色类型，6 表示 RGBA。
	require.Greater(t, len(data), 25)
	assert.EqualValues(t, 6, data[25], "color type")
	assert.EqualValues(t, 8, data[24], "bit depth")

	decoded, err := DecodePNG(data)
	require.NoError(t, err)
	n, ok := decoded.(*image.NRGBA)
	require.True(t, ok, "RGBA PNGs decode to NRGBA, got %T", decoded)
	assert.Equal(t, src.Pix, n.Pix)

	again, err := EncodePNG(src)
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestMetadataNames(t *testing.T) {
	assert.Equal(t, "walk_512.png", MotionAssetName("walk", 512))
	assert.Equal(t, "walk_3_256.png", FrameAssetName("walk", 3, 256))
	assert.Equal(t, "walk_west_1024.png", DirectionAssetName("walk", "west", 1024))
	assert.Equal(t, "walk_west_0_256.png", DirectionFrameAssetName("walk", "west", 0, 256))
	assert.Equal(t, "tile_15.png", SheetTileAssetName(15))

	meta := Metadata{Atlas: "/sprites/k/atlas.png", FrameSize: 256, Frames: map[string]MotionFrames{
		"idle": {Row: 0, FrameCount: 1, FPS: 4, URLs: SizeURLs{"256": "u"}},
	}}
	data, err := EncodeMetadata(meta)
	require.NoError(t, err)
	back, err := DecodeMetadata(data)
	require.NoError(t, err)
	assert.Equal(t, meta, back)
}
