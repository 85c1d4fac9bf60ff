// Package prompts provides the system prompt presets that can be applied to
// a chat.
package prompts

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Prompt is a named system prompt.
type Prompt struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Category    string `yaml:"category"`
	Content     string `yaml:"content"`
}

// file is the layout of prompts.yaml.
type file struct {
	Prompts []Prompt `yaml:"prompts"`
}

// Library is a set of prompts keyed by ID.
type Library struct {
	prompts map[string]Prompt
}

// Builtin returns the bundled presets.
func Builtin() []Prompt {
	return []Prompt{
		{
			ID:          "creative",
			Name:        "Creative Writer",
			Description: "Helps with creative writing, storytelling, and artistic expression",
			Category:    "creative",
			Content:     "You are a creative writing assistant. Help users with storytelling, character development, plot ideas, and creative expression. Be imaginative and inspiring.",
		},
		{
			ID:          "coder",
			Name:        "Code Assistant",
			Description: "Specialized in programming, debugging, and software development",
			Category:    "coding",
			Content:     "You are a programming assistant. Help users write, debug, and understand code. Provide clear explanations and best practices. Support multiple programming languages.",
		},
		{
			ID:          "analyst",
			Name:        "Data Analyst",
			Description: "Analyzes data, creates insights, and helps with research",
			Category:    "analysis",
			Content:     "You are a data analysis assistant. Help users analyze data, create insights, and conduct research. Be thorough, analytical, and evidence-based.",
		},
		{
			ID:          "researcher",
			Name:        "Research Assistant",
			Description: "Helps with academic research, fact-checking, and knowledge synthesis",
			Category:    "research",
			Content:     "You are a research assistant. Help users with academic research, fact-checking, and knowledge synthesis. Be accurate, thorough, and cite sources when possible.",
		},
		{
			ID:          "general",
			Name:        "General Assistant",
			Description: "A helpful, harmless, and honest AI assistant",
			Category:    "general",
			Content:     "You are a helpful AI assistant. Be honest, harmless, and helpful. Provide accurate information and assist users with their questions and tasks.",
		},
	}
}

// NewLibrary returns a library holding the built-in presets.
func NewLibrary() *Library {
	l := &Library{prompts: make(map[string]Prompt)}
	for _, p := range Builtin() {
		l.prompts[p.ID] = p
	}
	return l
}

// Load returns the built-in presets overlaid with the prompts in path.
// A missing file is not an error.
func Load(path string) (*Library, error) {
	l := NewLibrary()
	if path == "" {
		return l, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	if err := l.Merge(data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// Merge adds or replaces prompts from YAML data.
func (l *Library) Merge(data []byte) error {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse prompts: %w", err)
	}
	for i, p := range f.Prompts {
		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" {
			return fmt.Errorf("prompt at index %d has empty id", i)
		}
		if strings.TrimSpace(p.Content) == "" {
			return fmt.Errorf("prompt %q has empty content", p.ID)
		}
		if p.Name == "" {
			p.Name = p.ID
		}
		l.prompts[p.ID] = p
	}
	return nil
}

func (l *Library) Get(id string) (Prompt, bool) {
	p, ok := l.prompts[id]
	return p, ok
}

// List returns every prompt ordered by ID.
func (l *Library) List() []Prompt {
	out := make([]Prompt, 0, len(l.prompts))
	for _, p := range l.prompts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
