package generation

import "time"

// SpriteRequest is the input of the multi-motion sprite pipeline.
type SpriteRequest struct {
	Prompt  string   `json:"prompt"`
	Style   string   `json:"style"`
	Motions []string `json:"motions"`
	Seed    int64    `json:"seed"`
	// Directions 仅作用于四向动作，为空时只生成默认朝向。
	Directions []string `json:"directions,omitempty"`
}

// SpriteResult is returned once the atlas, metadata and record exist.
type SpriteResult struct {
	GenerationID string `json:"generationId"`
	AtlasURL     string `json:"atlasUrl"`
	MetaURL      string `json:"metaUrl"`
	CacheKey     string `json:"cacheKey"`
	Cached       bool   `json:"cached"`
}

// ImageRequest is the input of the single-image path.
type ImageRequest struct {
	Prompt      string `json:"prompt"`
	Resolution  int    `json:"resolution"`
	StylePreset string `json:"stylePreset"`
	// Seed 为空时由服务随机生成并在结果中返回。
	Seed *int64 `json:"seed,omitempty"`
}

// ImageResult is the outcome of the single-image path.
type ImageResult struct {
	GenerationID string `json:"generationId"`
	ImageURL     string `json:"imageUrl"`
	Seed         int64  `json:"seed"`
	Cached       bool   `json:"cached"`
}

// ConceptRequest 是两步向导的第一步：渲染单个角色形象供用户挑选。
type ConceptRequest struct {
	Prompt string `json:"prompt"`
	Style  string `json:"style"`
	// Seed 为空时随机生成；用户满意后以同一 seed 生成姿势表。
	Seed *int64 `json:"seed,omitempty"`
}

// ConceptResult is a cached 512 pixel character render.
type ConceptResult struct {
	GenerationID string `json:"generationId"`
	ImageURL     string `json:"url"`
	Seed         int64  `json:"seed"`
	CacheKey     string `json:"cacheKey"`
	Cached       bool   `json:"cached"`
}

// SheetRequest 是两步向导的第二步，prompt 与 seed 均必填。
type SheetRequest struct {
	Prompt string `json:"prompt"`
	Style  string `json:"style"`
	Seed   *int64 `json:"seed"`
}

// SheetResult lists the full pose grid, its thumbnail and the sliced tiles in
// row-major order.
type SheetResult struct {
	GenerationID string   `json:"generationId"`
	SheetURL     string   `json:"url"`
	ThumbURL     string   `json:"thumbUrl"`
	Tiles        []string `json:"tiles"`
	Seed         int64    `json:"seed"`
	CacheKey     string   `json:"cacheKey"`
	Cached       bool     `json:"cached"`
}

// Usage summarises the caller's quota window.
type Usage struct {
	Used        int `json:"used"`
	Limit       int `json:"limit"`
	Remaining   int `json:"remaining"`
	WindowHours int `json:"windowHours"`
}

// Config 控制配额与图像流水线参数。
type Config struct {
	DailyLimit        int           `json:"daily_limit"`
	QueueLimit        int           `json:"queue_limit"`
	Window            time.Duration `json:"-"`
	MaxPromptLength   int           `json:"max_prompt_length"`
	MaxMotions        int           `json:"max_motions"`
	SourceSize        int           `json:"source_size"`
	GridSize          int           `json:"grid_size"`
	AtlasFrameSize    int           `json:"atlas_frame_size"`
	UploadConcurrency int           `json:"upload_concurrency"`
}

// 默认参数。
const (
	DefaultDailyLimit        = 20
	DefaultQueueLimit        = 3
	DefaultWindow            = 24 * time.Hour
	DefaultMaxPromptLength   = 200
	DefaultMaxMotions        = 8
	DefaultSourceSize        = 1024
	DefaultGridSize          = 4
	DefaultUploadConcurrency = 8
	ConceptSize              = 512
)

// ImageResolutions lists the sizes accepted by the single-image path.
var ImageResolutions = []int{256, 512, 1024}

func (c *Config) applyDefaults() {
	if c.DailyLimit <= 0 {
		c.DailyLimit = DefaultDailyLimit
	}
	if c.QueueLimit <= 0 {
		c.QueueLimit = DefaultQueueLimit
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.MaxPromptLength <= 0 {
		c.MaxPromptLength = DefaultMaxPromptLength
	}
	if c.MaxMotions <= 0 {
		c.MaxMotions = DefaultMaxMotions
	}
	if c.GridSize <= 0 {
		c.GridSize = DefaultGridSize
	}
	if c.SourceSize <= 0 || c.SourceSize%c.GridSize != 0 {
		c.SourceSize = DefaultSourceSize
	}
	if !canonicalSize(c.AtlasFrameSize) {
		c.AtlasFrameSize = DefaultSourceSize
	}
	if c.UploadConcurrency <= 0 {
		c.UploadConcurrency = DefaultUploadConcurrency
	}
}
