// Package preset provides persona system prompts and quick prompts.
package preset

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed presets.yaml
var builtinYAML []byte

// Preset is a named system prompt
type Preset struct {
	Name   string `yaml:"name"`
	Title  string `yaml:"title"`
	Icon   string `yaml:"icon"`
	Prompt string `yaml:"prompt"`
	// Builtin is false for presets loaded from a user file
	Builtin bool `yaml:"-"`
}

// Label is the display form used in menus
func (p Preset) Label() string {
	if p.Icon == "" {
		return p.Title
	}
	return p.Icon + " " + p.Title
}

type document struct {
	Presets      []Preset `yaml:"presets"`
	QuickPrompts []string `yaml:"quick_prompts"`
}

// Library holds presets keyed by lowercase name, in declaration order
type Library struct {
	order        []string
	presets      map[string]Preset
	quickPrompts []string
}

// Builtin returns the embedded presets
func Builtin() (*Library, error) {
	lib := &Library{presets: make(map[string]Preset)}
	if err := lib.merge(builtinYAML, true); err != nil {
		return nil, fmt.Errorf("failed to load built-in presets: %w", err)
	}
	return lib, nil
}

// Load returns the built-in presets overlaid with the user file at path.
// A missing user file is not an error. User presets replace built-ins of the same name.
func Load(path string) (*Library, error) {
	lib, err := Builtin()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return lib, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return lib, nil
		}
		return nil, fmt.Errorf("failed to read presets file %s: %w", path, err)
	}
	if err := lib.merge(data, false); err != nil {
		return nil, fmt.Errorf("failed to parse presets file %s: %w", path, err)
	}
	return lib, nil
}

func (l *Library) merge(data []byte, builtin bool) error {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	for _, p := range doc.Presets {
		key := strings.ToLower(strings.TrimSpace(p.Name))
		if key == "" || strings.TrimSpace(p.Prompt) == "" {
			return fmt.Errorf("preset %q needs a name and a prompt", p.Name)
		}
		if p.Title == "" {
			p.Title = p.Name
		}
		p.Builtin = builtin
		if _, exists := l.presets[key]; !exists {
			l.order = append(l.order, key)
		}
		l.presets[key] = p
	}
	if len(doc.QuickPrompts) > 0 {
		l.quickPrompts = doc.QuickPrompts
	}
	return nil
}

// Get finds a preset by name, case-insensitively
func (l *Library) Get(name string) (Preset, bool) {
	p, ok := l.presets[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// List returns presets in declaration order
func (l *Library) List() []Preset {
	out := make([]Preset, 0, len(l.order))
	for _, key := range l.order {
		out = append(out, l.presets[key])
	}
	return out
}

// Names returns sorted preset names, for completion
func (l *Library) Names() []string {
	names := append([]string(nil), l.order...)
	sort.Strings(names)
	return names
}

// QuickPrompts returns the canned follow-up prompts
func (l *Library) QuickPrompts() []string {
	return append([]string(nil), l.quickPrompts...)
}
