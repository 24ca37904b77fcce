// Package prompt composes the text sent to the image synthesis provider.
package prompt

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// Mode selects between a single character render and a multi-pose sheet.
type Mode string

const (
	ModeCharacter   Mode = "character"
	ModeSpriteSheet Mode = "sprite-sheet"
)

// DefaultStyle is used whenever a style key is unknown.
const DefaultStyle = "octopath-traveler"

// Style is a named prompt snippet.
type Style struct {
	Key     string `json:"key"`
	Name    string `json:"name"`
	Snippet string `json:"snippet"`
}

var spriteStyles = map[string]Style{
	"octopath-traveler": {
		Key:     "octopath-traveler",
		Name:    "Octopath Traveler",
		Snippet: "HD-2D Octopath-Traveler style, 32-color pixel-art, warm directional lighting, soft depth-of-field glow, subtle rim-light",
	},
	"nes": {
		Key:     "nes",
		Name:    "NES",
		Snippet: "retro 8-bit NES palette: 3 colors + alpha, checkerboard dithering",
	},
	"snes": {
		Key:     "snes",
		Name:    "SNES",
		Snippet: "1994 SNES JRPG look: 16 colors per tile, pastel shading",
	},
	"pico": {
		Key:     "pico",
		Name:    "PICO-8",
		Snippet: "fantasy console lo-fi: fixed 16-colour PICO-8 palette, 128×128",
	},
}

// imagePresets are used by the single-image endpoint, which requires one.
var imagePresets = map[string]string{
	"pixel-art":      "Create a pixel art style sprite with clear pixels and limited color palette.",
	"flat-vector":    "Create a flat vector style sprite with clean lines and solid colors.",
	"ui-button":      "Create a modern UI button design with clear edges and good contrast.",
	"tileable-floor": "Create a seamless tileable floor texture that can repeat perfectly.",
}

const (
	characterClosing = "Make it game-ready with clear pixel definition and proper sprite centering."
	sheetClosing     = "Include walking, idle, and action poses arranged in a 4×4 grid. Each pose should be distinct and well-defined with consistent character size across all frames."
	gridFragment     = "4×4 grid of 256-pixel transparent tiles"
	imageClosing     = "Make it game-ready, with a transparent background, and ensure it's a single cohesive sprite suitable for a video game."
)

// Builder renders prompts. The zero value is ready to use.
type Builder struct{}

// NewBuilder returns a prompt builder.
func NewBuilder() Builder { return Builder{} }

// Style resolves a style key, falling back to DefaultStyle.
func (Builder) Style(key string) Style {
	if style, ok := spriteStyles[strings.TrimSpace(key)]; ok {
		return style
	}
	return spriteStyles[DefaultStyle]
}

// Styles lists the sprite style presets ordered by key.
func (Builder) Styles() []Style {
	out := make([]Style, 0, len(spriteStyles))
	for _, s := range spriteStyles {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Build composes the prompt for a base description, mode and style.
func (b Builder) Build(base string, mode Mode, styleKey string) string {
	style := b.Style(styleKey)
	sheet := mode == ModeSpriteSheet

	parts := []string{
		Sanitize(base),
		style.Snippet,
		"centered character",
		"transparent background",
		"pixel-art",
	}
	if sheet {
		parts = append(parts, gridFragment)
	}
	enhanced := joinNonEmpty(parts)

	if sheet {
		return enhanced + ". " + sheetClosing
	}
	return enhanced + ". " + characterClosing
}

// BuildMotion composes a sheet prompt focused on one motion's poses.
func (b Builder) BuildMotion(base, styleKey, motionFragment string) string {
	style := b.Style(styleKey)
	enhanced := joinNonEmpty([]string{
		Sanitize(base),
		Sanitize(motionFragment),
		style.Snippet,
		gridFragment,
		"centered character",
		"transparent background",
		"pixel-art",
		"no painterly texture",
		"crisp pixels",
	})
	return enhanced + ". Lay the frames out left to right, top to bottom, with consistent character scale across all frames."
}

// BuildImage renders the single-image prompt. The preset is required.
func (Builder) BuildImage(base, preset string) (string, error) {
	snippet, ok := imagePresets[strings.TrimSpace(preset)]
	if !ok {
		return "", fmt.Errorf("unknown style preset %q", preset)
	}
	return fmt.Sprintf("%s %s. %s", snippet, Sanitize(base), imageClosing), nil
}

// HasImagePreset reports whether the single-image preset exists.
func HasImagePreset(preset string) bool {
	_, ok := imagePresets[strings.TrimSpace(preset)]
	return ok
}

// Sanitize collapses whitespace and strips control characters.
func Sanitize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := false
	for _, r := range text {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

func joinNonEmpty(parts []string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ", ")
}
