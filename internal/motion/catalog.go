package motion

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// catalogFile models a motions.yaml document.
type catalogFile struct {
	Defaults []string               `yaml:"defaults"`
	Motions  map[string]catalogItem `yaml:"motions"`
}

type catalogItem struct {
	Frames     int               `yaml:"frames"`
	FPS        int               `yaml:"fps"`
	Row        int               `yaml:"row"`
	Prompt     string            `yaml:"prompt"`
	Directions map[string]string `yaml:"directions"`
	Mirror     map[string]string `yaml:"mirror"`
}

// LoadFile parses a YAML motion catalog. An empty path yields the builtin
// catalog. Every entry is validated before the registry is returned.
func LoadFile(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return Builtin(), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取动作目录失败: %w", err)
	}
	return Parse(content)
}

// Parse builds a registry from YAML content.
func Parse(content []byte) (*Registry, error) {
	var doc catalogFile
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("解析动作目录失败: %w", err)
	}
	if len(doc.Motions) == 0 {
		return nil, fmt.Errorf("动作目录为空")
	}

	specs := make([]Spec, 0, len(doc.Motions))
	for name, item := range doc.Motions {
		spec := Spec{
			Name:       name,
			FrameCount: item.Frames,
			FPS:        item.FPS,
			GridRow:    item.Row,
			Kind:       KindSingle,
			Fragment:   strings.TrimSpace(item.Prompt),
		}
		if len(item.Directions) > 0 || len(item.Mirror) > 0 {
			spec.Kind = KindFourWay
			spec.Fragments = make(map[Direction]string, len(item.Directions))
			for raw, text := range item.Directions {
				dir, ok := ParseDirection(raw)
				if !ok {
					return nil, fmt.Errorf("motion %s: unknown direction %q", name, raw)
				}
				spec.Fragments[dir] = strings.TrimSpace(text)
			}
			spec.MirrorFrom = make(map[Direction]Direction, len(item.Mirror))
			for rawDir, rawSrc := range item.Mirror {
				dir, ok := ParseDirection(rawDir)
				src, okSrc := ParseDirection(rawSrc)
				if !ok || !okSrc {
					return nil, fmt.Errorf("motion %s: invalid mirror %s -> %s", name, rawDir, rawSrc)
				}
				spec.MirrorFrom[dir] = src
			}
		}
		specs = append(specs, spec)
	}

	defaults := doc.Defaults
	if len(defaults) == 0 {
		defaults = nil
	}
	return NewRegistry(specs, defaults)
}
