// Package persona loads the read-only persona library that shapes how the
// assistant speaks. Each persona is one YAML document: a system prompt plus
// optional style, traits, and a preferred voice. Sessions select a persona by
// name; everything here is immutable after loading.
package persona

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultName is the name of the built-in persona used when a session does
// not select one or the selected name is unknown.
const DefaultName = "default"

// Persona describes one assistant personality.
type Persona struct {
	// Name is the unique identifier sessions select the persona by.
	Name string `yaml:"name"`

	// SystemPrompt is the base instruction given to the model.
	SystemPrompt string `yaml:"system_prompt"`

	// Style is a short free-text description of the speaking style, appended
	// to the system prompt.
	Style string `yaml:"style"`

	// Traits are character traits appended to the system prompt.
	Traits []string `yaml:"traits"`

	// VoiceID selects the TTS voice for audio turns. Empty means the
	// provider's default voice.
	VoiceID string `yaml:"voice_id"`
}

// Prompt renders the full system prompt including style and traits.
func (p Persona) Prompt() string {
	var b strings.Builder
	b.WriteString(p.SystemPrompt)
	if p.Style != "" {
		fmt.Fprintf(&b, "\n\nStyle: %s.", p.Style)
	}
	if len(p.Traits) > 0 {
		fmt.Fprintf(&b, "\nTraits: %s.", strings.Join(p.Traits, ", "))
	}
	return b.String()
}

func builtinDefault() Persona {
	return Persona{
		Name: DefaultName,
		SystemPrompt: "You are a helpful voice assistant. Keep replies short and " +
			"conversational; they may be spoken aloud.",
		Style: "friendly and concise",
	}
}

// Library is an immutable set of personas keyed by name. The built-in default
// persona is always present; a loaded file named "default" replaces it.
type Library struct {
	personas map[string]Persona
}

// NewLibrary builds a library from the given personas on top of the built-in
// default. Duplicate names are rejected.
func NewLibrary(personas ...Persona) (*Library, error) {
	l := &Library{personas: map[string]Persona{DefaultName: builtinDefault()}}
	seen := make(map[string]bool, len(personas))
	for _, p := range personas {
		if err := p.validate(); err != nil {
			return nil, err
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("persona: duplicate persona %q", p.Name)
		}
		seen[p.Name] = true
		l.personas[p.Name] = p
	}
	return l, nil
}

// LoadDir loads every .yaml/.yml file in dir, one persona per file. An empty
// dir path yields a library containing only the built-in default.
func LoadDir(dir string) (*Library, error) {
	if dir == "" {
		return NewLibrary()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("persona: read dir %q: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	personas := make([]Persona, 0, len(names))
	for _, name := range names {
		p, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		personas = append(personas, p)
	}
	return NewLibrary(personas...)
}

// LoadFile reads and parses one persona YAML file.
func LoadFile(path string) (Persona, error) {
	f, err := os.Open(path)
	if err != nil {
		return Persona{}, fmt.Errorf("persona: open %q: %w", path, err)
	}
	defer f.Close()

	p, err := LoadFromReader(f)
	if err != nil {
		return Persona{}, fmt.Errorf("persona: parse %q: %w", path, err)
	}
	return p, nil
}

// LoadFromReader parses one persona YAML document from r.
func LoadFromReader(r io.Reader) (Persona, error) {
	var p Persona
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown keys to catch typos
	if err := dec.Decode(&p); err != nil {
		return Persona{}, fmt.Errorf("persona: decode yaml: %w", err)
	}
	if err := p.validate(); err != nil {
		return Persona{}, err
	}
	return p, nil
}

func (p Persona) validate() error {
	if p.Name == "" {
		return fmt.Errorf("persona: name must not be empty")
	}
	if p.SystemPrompt == "" {
		return fmt.Errorf("persona: persona %q has no system_prompt", p.Name)
	}
	return nil
}

// Get returns the persona with the given name.
func (l *Library) Get(name string) (Persona, bool) {
	p, ok := l.personas[name]
	return p, ok
}

// Resolve returns the named persona, falling back to the default for unknown
// or empty names.
func (l *Library) Resolve(name string) Persona {
	if p, ok := l.personas[name]; ok {
		return p
	}
	return l.personas[DefaultName]
}

// Default returns the default persona.
func (l *Library) Default() Persona {
	return l.personas[DefaultName]
}

// Names returns all persona names in sorted order.
func (l *Library) Names() []string {
	names := make([]string, 0, len(l.personas))
	for name := range l.personas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
