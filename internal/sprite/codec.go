package sprite

import (
	"bytes"
	"image"
	"image/png"

	xerrors "SpriteForge/internal/errors"
)

var encoder = png.Encoder{CompressionLevel: png.DefaultCompression}

// withAlpha 让编码器始终输出带 alpha 通道的 RGBA PNG。image/png 对完全不透明的
// 图像会省略 alpha 通道。
type withAlpha struct{ *image.NRGBA }

func (withAlpha) Opaque() bool { return false }

// EncodePNG 编码为 8 位 RGBA PNG。相同的像素总是得到相同的字节，缓存的写一次语义依赖这一点。
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	n := ToNRGBA(img)
	var src image.Image = n
	if n.Opaque() {
		src = withAlpha{n}
	}
	if err := encoder.Encode(&buf, src); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeImageProcessing, err, "PNG 编码失败")
	}
	return buf.Bytes(), nil
}

// DecodePNG 解码 PNG 字节。
func DecodePNG(data []byte) (image.Image, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeImageProcessing, err, "PNG 解码失败")
	}
	return img, nil
}
