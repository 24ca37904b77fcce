package sprite

import (
	"encoding/json"
	"fmt"
	"strconv"

	xerrors "SpriteForge/internal/errors"
)

// 固定资源名。
const (
	AtlasName    = "atlas.png"
	MetadataName = "meta.json"
	ConceptName  = "concept.png"
	SheetName    = "sheet.png"
	ThumbName    = "thumb.png"
)

// Metadata is the JSON sidecar published next to an atlas.
type Metadata struct {
	Atlas     string                  `json:"atlas"`
	FrameSize int                     `json:"frameSize"`
	Frames    map[string]MotionFrames `json:"frames"`
}

// MotionFrames describes one band of the atlas. Row is the motion's position
// in the request, not its catalog row.
type MotionFrames struct {
	Row        int                        `json:"row"`
	FrameCount int                        `json:"frameCount"`
	FPS        int                        `json:"fps"`
	URLs       SizeURLs                   `json:"urls"`
	Tiles      []SizeURLs                 `json:"tiles,omitempty"`
	Directions map[string]DirectionFrames `json:"directions,omitempty"`
}

// DirectionFrames lists the assets of one facing.
type DirectionFrames struct {
	Mirrored bool       `json:"mirrored,omitempty"`
	URLs     SizeURLs   `json:"urls"`
	Tiles    []SizeURLs `json:"tiles,omitempty"`
}

// SizeURLs maps "1024", "512" and "256" to asset URLs.
type SizeURLs map[string]string

// SizeKey 返回尺寸在元数据中的键。
func SizeKey(size int) string { return strconv.Itoa(size) }

// MotionAssetName 代表帧资源名，例如 walk_512.png。
func MotionAssetName(motion string, size int) string {
	return fmt.Sprintf("%s_%d.png", motion, size)
}

// FrameAssetName 单帧资源名，例如 walk_0_512.png。
func FrameAssetName(motion string, index, size int) string {
	return fmt.Sprintf("%s_%d_%d.png", motion, index, size)
}

// DirectionAssetName 朝向代表帧资源名，例如 walk_west_512.png。
func DirectionAssetName(motion, direction string, size int) string {
	return fmt.Sprintf("%s_%s_%d.png", motion, direction, size)
}

// DirectionFrameAssetName 朝向单帧资源名，例如 walk_west_0_512.png。
func DirectionFrameAssetName(motion, direction string, index, size int) string {
	return fmt.Sprintf("%s_%s_%d_%d.png", motion, direction, index, size)
}

// SheetTileAssetName 整张姿势表切出的格子，例如 tile_3.png。
func SheetTileAssetName(index int) string {
	return fmt.Sprintf("tile_%d.png", index)
}

// EncodeMetadata 以稳定的格式序列化元数据。
func EncodeMetadata(meta Metadata) ([]byte, error) {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeImageProcessing, err, "元数据序列化失败")
	}
	return data, nil
}

// DecodeMetadata 解析元数据。
func DecodeMetadata(data []byte) (Metadata, error) {
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, xerrors.Wrap(xerrors.CodeImageProcessing, err, "元数据解析失败")
	}
	return meta, nil
}
