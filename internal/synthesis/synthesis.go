// Package synthesis defines the boundary to the external text-to-image
// backend.
package synthesis

import (
	"context"
	"fmt"
)

// Request 描述一次图像合成调用。
type Request struct {
	Prompt string
	// Size 为正方形边长（像素）。
	Size        int
	Seed        int64
	Transparent bool
}

// SizeString 返回 "1024x1024" 形式的尺寸。
func (r Request) SizeString() string {
	return fmt.Sprintf("%dx%d", r.Size, r.Size)
}

// Image 是合成结果，Bytes 为 PNG 编码的像素数据。
type Image struct {
	Bytes []byte
	Model string
}

// Provider 定义了图像合成后端的统一接口。
type Provider interface {
	Synthesize(ctx context.Context, req Request) (*Image, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) (*Image, error)

// Synthesize implements Provider.
func (f ProviderFunc) Synthesize(ctx context.Context, req Request) (*Image, error) {
	return f(ctx, req)
}
