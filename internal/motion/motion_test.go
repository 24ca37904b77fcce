package motion

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinConfig(t *testing.T) {
	reg := Builtin()

	walk, ok := reg.Config("walk")
	require.True(t, ok)
	assert.Equal(t, 4, walk.FrameCount)
	assert.Equal(t, 8, walk.FPS)
	assert.Equal(t, 4, walk.DirectionCount())

	idle, ok := reg.Config("idle")
	require.True(t, ok)
	assert.Equal(t, 1, idle.DirectionCount())

	_, ok = reg.Config("moonwalk")
	assert.False(t, ok)
	assert.Equal(t, []string{"idle", "walk"}, reg.Defaults())
}

func TestPromptResolvesMirror(t *testing.T) {
	reg := Builtin()

	west, ok := reg.Prompt("walk", West)
	require.True(t, ok)
	east, ok := reg.Prompt("walk", East)
	require.True(t, ok)
	assert.Equal(t, east, west)

	south, _ := reg.Prompt("walk", South)
	assert.Contains(t, south, "south-walk")

	flat, ok := reg.Prompt("walk", "")
	require.True(t, ok)
	assert.Equal(t, "4-frame walk cycle", flat)

	attack, ok := reg.Prompt("attack", North)
	require.True(t, ok)
	assert.Equal(t, "6-frame sword-slash combo facing forward", attack)

	_, ok = reg.Prompt("unknown", "")
	assert.False(t, ok)
}

func TestConfigReturnsCopy(t *testing.T) {
	reg := Builtin()
	walk, _ := reg.Config("walk")
	walk.Fragments[South] = "mutated"

	again, _ := reg.Config("walk")
	assert.NotEqual(t, "mutated", again.Fragments[South])
}

func TestValidateRejectsBrokenSpecs(t *testing.T) {
	cases := map[string]Spec{
		"zero frames":   {Name: "a", FrameCount: 0, FPS: 1, Kind: KindSingle, Fragment: "x"},
		"reserved name": {Name: "concept@512", FrameCount: 1, FPS: 1, Kind: KindSingle, Fragment: "x"},
		"path in name":  {Name: "a/b", FrameCount: 1, FPS: 1, Kind: KindSingle, Fragment: "x"},
		"too many":      {Name: "a", FrameCount: 17, FPS: 1, Kind: KindSingle, Fragment: "x"},
		"zero fps":      {Name: "a", FrameCount: 1, FPS: 0, Kind: KindSingle, Fragment: "x"},
		"no fragment":   {Name: "a", FrameCount: 1, FPS: 1, Kind: KindSingle},
		"missing north": {Name: "a", FrameCount: 1, FPS: 1, Kind: KindFourWay, Fragments: map[Direction]string{South: "s", East: "e", West: "w"}},
		"no west": {Name: "a", FrameCount: 1, FPS: 1, Kind: KindFourWay,
			Fragments: map[Direction]string{South: "s", North: "n", East: "e"}},
		"chained mirror": {Name: "a", FrameCount: 1, FPS: 1, Kind: KindFourWay,
			Fragments:  map[Direction]string{South: "s", North: "n", East: "e"},
			MirrorFrom: map[Direction]Direction{West: East, East: South}},
	}
	for name, spec := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, spec.Validate())
		})
	}
}

func TestParseCatalog(t *testing.T) {
	doc := `
defaults: [idle]
motions:
  idle:
    frames: 1
    fps: 4
    prompt: single idle pose
  walk:
    frames: 4
    fps: 8
    row: 1
    directions:
      south: walk south
      north: walk north
      east: walk east
    mirror:
      west: east
`
	reg, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, []string{"idle", "walk"}, reg.Names())

	west, ok := reg.Prompt("walk", West)
	require.True(t, ok)
	assert.Equal(t, "walk east", west)
}

func TestLoadFileRejectsMissingDirection(t *testing.T) {
	doc := `
motions:
  walk:
    frames: 4
    fps: 8
    directions:
      south: walk south
      east: walk east
    mirror:
      west: east
`
	path := filepath.Join(t.TempDir(), "motions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "north"), err.Error())
}

func TestLoadFileEmptyPathUsesBuiltin(t *testing.T) {
	reg, err := LoadFile("")
	require.NoError(t, err)
	assert.Same(t, Builtin(), reg)
}
