package motion

import (
	"fmt"
	"sort"
)

// Registry is an immutable lookup table of motions. It is safe for
// concurrent use because nothing mutates it after construction.
type Registry struct {
	specs    map[string]Spec
	defaults []string
}

// NewRegistry validates the specs and builds a registry.
func NewRegistry(specs []Spec, defaults []string) (*Registry, error) {
	r := &Registry{specs: make(map[string]Spec, len(specs))}
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.specs[spec.Name]; dup {
			return nil, fmt.Errorf("motion %s declared twice", spec.Name)
		}
		r.specs[spec.Name] = spec.clone()
	}
	for _, name := range defaults {
		if _, ok := r.specs[name]; !ok {
			return nil, fmt.Errorf("default motion %s is not in the catalog", name)
		}
	}
	r.defaults = append([]string(nil), defaults...)
	return r, nil
}

// Config returns the motion spec by name.
func (r *Registry) Config(name string) (Spec, bool) {
	if r == nil {
		return Spec{}, false
	}
	spec, ok := r.specs[name]
	if !ok {
		return Spec{}, false
	}
	return spec.clone(), true
}

// Prompt returns the prompt fragment for a motion. A mirrored direction
// resolves to its source direction's text. An empty direction, or a
// single-direction motion, yields the flat fragment.
func (r *Registry) Prompt(name string, dir Direction) (string, bool) {
	if r == nil {
		return "", false
	}
	spec, ok := r.specs[name]
	if !ok {
		return "", false
	}
	if dir == "" || len(spec.Fragments) == 0 {
		if spec.Fragment != "" {
			return spec.Fragment, true
		}
		return spec.Fragments[South], true
	}
	if src, mirrored := spec.MirrorFrom[dir]; mirrored {
		dir = src
	}
	text, ok := spec.Fragments[dir]
	return text, ok
}

// Names returns all motion names sorted alphabetically.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Defaults returns the motions used when a request names none.
func (r *Registry) Defaults() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.defaults...)
}

// Builtin returns the catalog shipped with the service.
func Builtin() *Registry {
	return builtin
}

var builtin = mustRegistry(NewRegistry([]Spec{
	{
		Name:       "idle",
		FrameCount: 1,
		FPS:        4,
		GridRow:    0,
		Kind:       KindSingle,
		Fragment:   "single idle pose",
	},
	{
		Name:       "walk",
		FrameCount: 4,
		FPS:        8,
		GridRow:    1,
		Kind:       KindFourWay,
		Fragment:   "4-frame walk cycle",
		Fragments: map[Direction]string{
			South: "4-frame south-walk cycle (down, down-left, down-right, down)",
			North: "4-frame north-walk cycle",
			East:  "4-frame east-walk cycle",
			West:  "4-frame west-walk cycle",
		},
		MirrorFrom: map[Direction]Direction{West: East},
	},
	{
		Name:       "run",
		FrameCount: 6,
		FPS:        12,
		GridRow:    2,
		Kind:       KindSingle,
		Fragment:   "6-frame side-run cycle facing right",
	},
	{
		Name:       "attack",
		FrameCount: 6,
		FPS:        10,
		GridRow:    3,
		Kind:       KindSingle,
		Fragment:   "6-frame sword-slash combo facing forward",
	},
	{
		Name:       "jump",
		FrameCount: 4,
		FPS:        8,
		GridRow:    4,
		Kind:       KindSingle,
		Fragment:   "4-frame jump arc",
	},
	{
		Name:       "hurt",
		FrameCount: 3,
		FPS:        6,
		GridRow:    5,
		Kind:       KindSingle,
		Fragment:   "3-frame recoil / hurt animation",
	},
}, []string{"idle", "walk"}))

func mustRegistry(r *Registry, err error) *Registry {
	if err != nil {
		panic(err)
	}
	return r
}
