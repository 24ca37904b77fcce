// Package procedural is a deterministic, offline synthesis provider. It paints
// a 4x4 grid of simple figures derived from the prompt and seed, which is
// enough to exercise the pipeline in development and tests.
package procedural

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"image"
	"image/color"

	xerrors "SpriteForge/internal/errors"
	"SpriteForge/internal/sprite"
	"SpriteForge/internal/synthesis"
)

const gridSize = 4

// Provider implements synthesis.Provider without network access.
type Provider struct{}

// New returns a procedural provider.
func New() *Provider { return &Provider{} }

// Synthesize implements synthesis.Provider.
func (p *Provider) Synthesize(ctx context.Context, req synthesis.Request) (*synthesis.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "合成已取消")
	}
	if req.Size < gridSize {
		return nil, xerrors.New(xerrors.CodeSynthesisFailed, "合成尺寸过小")
	}

	sum := sha256.Sum256(append([]byte(req.Prompt), binary.BigEndian.AppendUint64(nil, uint64(req.Seed))...))
	body := color.NRGBA{R: sum[0], G: sum[1], B: sum[2], A: 0xff}
	accent := color.NRGBA{R: ^sum[0], G: ^sum[1], B: sum[3], A: 0xff}

	img := image.NewNRGBA(image.Rect(0, 0, req.Size, req.Size))
	if !req.Transparent {
		fill(img, img.Bounds(), color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff})
	}
	tile := req.Size / gridSize
	for i := 0; i < gridSize*gridSize; i++ {
		ox, oy := (i%gridSize)*tile, (i/gridSize)*tile
		w := tile / 3
		h := tile / 2
		// 每个格子的身体随帧序号左右摆动，保证帧与帧之间可区分。
		shift := (int(sum[4+i]) % (tile/4 + 1)) - tile/8
		x0 := ox + (tile-w)/2 + shift
		y0 := oy + tile/4
		fill(img, image.Rect(x0, y0, x0+w, y0+h), body)
		head := w / 2
		fill(img, image.Rect(x0+(w-head)/2, y0-head, x0+(w+head)/2, y0), accent)
	}

	data, err := sprite.EncodePNG(img)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSynthesisFailed, err, "编码合成结果失败")
	}
	return &synthesis.Image{Bytes: data, Model: "procedural"}, nil
}

func fill(img *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	r = r.Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
}

var _ synthesis.Provider = (*Provider)(nil)
