// Package sprite slices synthesized pose grids into frames, derives the
// canonical resolutions and composes the vertical atlas.
package sprite

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"

	xerrors "SpriteForge/internal/errors"
)

// 规范尺寸，依次为大、中、小三档。
const (
	SizeLarge  = 1024
	SizeMedium = 512
	SizeSmall  = 256
)

// Sizes lists the canonical sizes every frame is cached at.
var Sizes = []int{SizeLarge, SizeMedium, SizeSmall}

// 合成图的默认网格布局：4x4 个 256 像素的格子。
const (
	DefaultGridSize = 4
	DefaultTileSize = 256
)

// ExtractFrames 按行优先顺序切分网格，第 i 个格子位于第 i/gridSize 行、第 i%gridSize 列。
func ExtractFrames(src image.Image, gridSize, tileSize int) ([]*image.NRGBA, error) {
	if src == nil {
		return nil, xerrors.New(xerrors.CodeImageProcessing, "源图像为空")
	}
	if gridSize <= 0 || tileSize <= 0 {
		return nil, xerrors.New(xerrors.CodeImageProcessing,
			fmt.Sprintf("非法的网格参数 grid=%d tile=%d", gridSize, tileSize))
	}
	b := src.Bounds()
	if b.Dx() < gridSize*tileSize || b.Dy() < gridSize*tileSize {
		return nil, xerrors.New(xerrors.CodeImageProcessing,
			fmt.Sprintf("源图像 %dx%d 小于 %dx%d 网格", b.Dx(), b.Dy(), gridSize*tileSize, gridSize*tileSize))
	}

	frames := make([]*image.NRGBA, 0, gridSize*gridSize)
	for i := 0; i < gridSize*gridSize; i++ {
		row, col := i/gridSize, i%gridSize
		origin := image.Pt(b.Min.X+col*tileSize, b.Min.Y+row*tileSize)
		tile := image.NewNRGBA(image.Rect(0, 0, tileSize, tileSize))
		draw.Draw(tile, tile.Bounds(), src, origin, draw.Src)
		frames = append(frames, tile)
	}
	return frames, nil
}

// Resize scales img into a size x size canvas. Non-square sources are
// letterboxed and the padding stays fully transparent.
func Resize(img image.Image, size int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, size, size))
	if img == nil || size <= 0 {
		return dst
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return dst
	}
	tw, th := size, size
	if w > h {
		th = h * size / w
	} else if h > w {
		tw = w * size / h
	}
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}
	x0 := (size - tw) / 2
	y0 := (size - th) / 2
	draw.NearestNeighbor.Scale(dst, image.Rect(x0, y0, x0+tw, y0+th), img, b, draw.Src, nil)
	return dst
}

// ComposeAtlas 将每个动作的代表帧按请求顺序自上而下排列，第 i 个动作占据 [i*frameSize, (i+1)*frameSize) 行带。
func ComposeAtlas(frames []image.Image, frameSize int) (*image.NRGBA, error) {
	if len(frames) == 0 {
		return nil, xerrors.New(xerrors.CodeImageProcessing, "图集至少需要一帧")
	}
	if frameSize <= 0 {
		return nil, xerrors.New(xerrors.CodeImageProcessing, fmt.Sprintf("非法的帧尺寸 %d", frameSize))
	}
	atlas := image.NewNRGBA(image.Rect(0, 0, frameSize, frameSize*len(frames)))
	for i, frame := range frames {
		if frame == nil {
			return nil, xerrors.New(xerrors.CodeImageProcessing, fmt.Sprintf("第 %d 帧为空", i))
		}
		var band image.Image = frame
		if b := frame.Bounds(); b.Dx() != frameSize || b.Dy() != frameSize {
			band = Resize(frame, frameSize)
		}
		rect := image.Rect(0, i*frameSize, frameSize, (i+1)*frameSize)
		draw.Draw(atlas, rect, band, band.Bounds().Min, draw.Src)
	}
	return atlas, nil
}

// MirrorHorizontal returns a left-right flipped copy of img.
func MirrorHorizontal(img image.Image) *image.NRGBA {
	src := ToNRGBA(img)
	b := src.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.SetNRGBA(b.Dx()-1-x, y, src.NRGBAAt(b.Min.X+x, b.Min.Y+y))
		}
	}
	return out
}

// ToNRGBA converts img to non-premultiplied RGBA, reusing it when possible.
func ToNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok {
		return n
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// Opaque reports whether every pixel has full alpha.
func Opaque(img image.Image) bool {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA).A != 0xff {
				return false
			}
		}
	}
	return true
}
