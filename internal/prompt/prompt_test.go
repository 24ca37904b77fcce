package prompt

import (
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCharacterMode(t *testing.T) {
	b := NewBuilder()
	got := b.Build("a brave knight", ModeCharacter, "nes")

	assert.True(t, strings.HasPrefix(got, "a brave knight, retro 8-bit NES palette"))
	assert.Contains(t, got, "centered character, transparent background, pixel-art")
	assert.NotContains(t, got, "4×4 grid")
	assert.True(t, strings.HasSuffix(got, characterClosing))
}

func TestBuildSheetMode(t *testing.T) {
	got := NewBuilder().Build("a brave knight", ModeSpriteSheet, "snes")

	assert.Contains(t, got, gridFragment)
	assert.Contains(t, got, "consistent character size across all frames")
	assert.Less(t, strings.Index(got, "pixel-art"), strings.Index(got, gridFragment))
}

func TestUnknownStyleFallsBackToDefault(t *testing.T) {
	b := NewBuilder()
	assert.Equal(t,
		b.Build("mage", ModeCharacter, DefaultStyle),
		b.Build("mage", ModeCharacter, "does-not-exist"),
	)
	assert.Equal(t, DefaultStyle, b.Style("").Key)
}

func TestBuildStripsControlCharacters(t *testing.T) {
	got := NewBuilder().Build("orc\n\twarrior\x00 with  axe", ModeSpriteSheet, "pico")
	for _, r := range got {
		require.False(t, unicode.IsControl(r), "control rune %q in %q", r, got)
	}
	assert.True(t, strings.HasPrefix(got, "orc warrior with axe,"))
}

func TestBuildMotionIncludesFragment(t *testing.T) {
	got := NewBuilder().BuildMotion("slime", "nes", "4-frame jump arc")
	assert.True(t, strings.HasPrefix(got, "slime, 4-frame jump arc, retro 8-bit NES palette"))
	assert.Contains(t, got, gridFragment)
}

func TestBuildImageRequiresPreset(t *testing.T) {
	b := NewBuilder()
	got, err := b.BuildImage("wooden crate", "pixel-art")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "Create a pixel art style sprite"))
	assert.Contains(t, got, "wooden crate")

	_, err = b.BuildImage("wooden crate", "watercolor")
	assert.Error(t, err)
	assert.False(t, HasImagePreset("watercolor"))
}

func TestStylesSorted(t *testing.T) {
	styles := NewBuilder().Styles()
	require.Len(t, styles, 4)
	assert.Equal(t, "nes", styles[0].Key)
}
