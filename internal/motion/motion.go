// Package motion holds the immutable catalog of animation cycles that the
// sprite pipeline knows how to synthesize.
package motion

import (
	"fmt"
	"sort"
	"strings"
)

// Kind tags a motion as single-direction or four-direction.
type Kind string

const (
	KindSingle  Kind = "single"
	KindFourWay Kind = "four_way"
)

// Direction is a compass facing used by four-direction motions.
type Direction string

const (
	South Direction = "south"
	North Direction = "north"
	East  Direction = "east"
	West  Direction = "west"
)

// Directions lists the four facings in their canonical order.
var Directions = []Direction{South, North, East, West}

// MaxFrames is the number of tiles in one synthesized 4x4 grid.
const MaxFrames = 16

// Spec describes one animation cycle.
type Spec struct {
	Name       string
	FrameCount int
	FPS        int
	GridRow    int
	Kind       Kind
	// Fragment is the prompt phrasing used when no direction is requested.
	Fragment string
	// Fragments holds per-direction phrasing for four-direction motions.
	Fragments map[Direction]string
	// MirrorFrom marks directions derived by flipping another direction.
	MirrorFrom map[Direction]Direction
}

// DirectionCount returns 1 or 4.
func (s Spec) DirectionCount() int {
	if s.Kind == KindFourWay {
		return 4
	}
	return 1
}

// IsMirrored reports whether the direction's pixels come from a horizontal flip.
func (s Spec) IsMirrored(dir Direction) (Direction, bool) {
	src, ok := s.MirrorFrom[dir]
	return src, ok
}

// Validate checks the structural invariants of a motion.
func (s Spec) Validate() error {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return fmt.Errorf("motion name is empty")
	}
	// 名称会进入缓存键与资源文件名。
	if strings.ContainsAny(name, "@/\\, ") {
		return fmt.Errorf("motion %q: name must not contain '@', '/', '\\', ',' or spaces", name)
	}
	if s.FrameCount < 1 || s.FrameCount > MaxFrames {
		return fmt.Errorf("motion %s: frame count %d out of range [1,%d]", name, s.FrameCount, MaxFrames)
	}
	if s.FPS <= 0 {
		return fmt.Errorf("motion %s: fps must be positive", name)
	}
	if s.GridRow < 0 {
		return fmt.Errorf("motion %s: grid row must not be negative", name)
	}
	switch s.Kind {
	case KindSingle:
		if strings.TrimSpace(s.Fragment) == "" {
			return fmt.Errorf("motion %s: single-direction motion needs a prompt fragment", name)
		}
		if len(s.Fragments) > 0 || len(s.MirrorFrom) > 0 {
			return fmt.Errorf("motion %s: single-direction motion cannot declare directions", name)
		}
	case KindFourWay:
		for _, dir := range []Direction{South, North, East} {
			if strings.TrimSpace(s.Fragments[dir]) == "" {
				return fmt.Errorf("motion %s: missing %s prompt fragment", name, dir)
			}
		}
		for dir, src := range s.MirrorFrom {
			if !validDirection(dir) || !validDirection(src) {
				return fmt.Errorf("motion %s: invalid mirror %s -> %s", name, dir, src)
			}
			if dir == src {
				return fmt.Errorf("motion %s: direction %s cannot mirror itself", name, dir)
			}
			if _, chained := s.MirrorFrom[src]; chained {
				return fmt.Errorf("motion %s: %s mirrors %s which is itself mirrored", name, dir, src)
			}
			if strings.TrimSpace(s.Fragments[src]) == "" {
				return fmt.Errorf("motion %s: mirror source %s has no prompt fragment", name, src)
			}
		}
		if _, mirrored := s.MirrorFrom[West]; !mirrored && strings.TrimSpace(s.Fragments[West]) == "" {
			return fmt.Errorf("motion %s: west needs a prompt fragment or a mirror source", name)
		}
	default:
		return fmt.Errorf("motion %s: unknown kind %q", name, s.Kind)
	}
	return nil
}

func (s Spec) clone() Spec {
	out := s
	if s.Fragments != nil {
		out.Fragments = make(map[Direction]string, len(s.Fragments))
		for k, v := range s.Fragments {
			out.Fragments[k] = v
		}
	}
	if s.MirrorFrom != nil {
		out.MirrorFrom = make(map[Direction]Direction, len(s.MirrorFrom))
		for k, v := range s.MirrorFrom {
			out.MirrorFrom[k] = v
		}
	}
	return out
}

func validDirection(dir Direction) bool {
	switch dir {
	case South, North, East, West:
		return true
	}
	return false
}

// ParseDirection normalises a direction name.
func ParseDirection(raw string) (Direction, bool) {
	dir := Direction(strings.ToLower(strings.TrimSpace(raw)))
	return dir, validDirection(dir)
}

// SortDirections orders directions canonically (south, north, east, west).
func SortDirections(dirs []Direction) {
	rank := func(d Direction) int {
		for i, c := range Directions {
			if c == d {
				return i
			}
		}
		return len(Directions)
	}
	sort.SliceStable(dirs, func(i, j int) bool { return rank(dirs[i]) < rank(dirs[j]) })
}
