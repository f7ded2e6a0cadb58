// Package prompt provides the prompt template registry used by the
// consolidation agents. Templates are plain text with {{name}} placeholders;
// every stage template interpolates an output_schema variable describing the
// JSON shape the backend must produce.
package prompt

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrNotFound is returned by Resolve when no template is registered for a stage.
var ErrNotFound = errors.New("prompt template not found")

// Template is a compiled-on-demand prompt template.
type Template struct {
	StageID string
	Text    string
}

// Compile substitutes the provided variables into the template.
// Unknown placeholders are left untouched so a missing variable is visible in
// the compiled output rather than silently dropped.
func (t *Template) Compile(vars map[string]string) string {
	compiled := t.Text
	for name, value := range vars {
		compiled = strings.ReplaceAll(compiled, "{{"+name+"}}", value)
	}
	return compiled
}

// Registry resolves and registers prompt templates by stage id.
type Registry interface {
	// Resolve returns the template for the given stage, or ErrNotFound.
	Resolve(stageID string) (*Template, error)

	// Register upserts a template for the given stage. Registration is
	// idempotent; re-registering the same stage replaces the text.
	Register(stageID, text string) error
}

// MemoryRegistry is an in-process Registry backed by a mutex-guarded map.
type MemoryRegistry struct {
	mu        sync.RWMutex
	templates map[string]string
}

// NewMemoryRegistry returns an empty MemoryRegistry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{templates: make(map[string]string)}
}

// NewSeededRegistry returns a MemoryRegistry pre-populated with the built-in
// stage templates.
func NewSeededRegistry() *MemoryRegistry {
	r := NewMemoryRegistry()
	for stageID, text := range builtinTemplates {
		r.templates[stageID] = text
	}
	return r
}

// Resolve implements Registry.
func (r *MemoryRegistry) Resolve(stageID string) (*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	text, ok := r.templates[stageID]
	if !ok {
		return nil, fmt.Errorf("stage %q: %w", stageID, ErrNotFound)
	}
	return &Template{StageID: stageID, Text: text}, nil
}

// Register implements Registry.
func (r *MemoryRegistry) Register(stageID, text string) error {
	if stageID == "" {
		return fmt.Errorf("stage id is empty")
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("template text is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[stageID] = text
	return nil
}

// EnsureRegistered registers the given template only when the stage has no
// template yet. Used at stage initialization.
func EnsureRegistered(r Registry, stageID, text string) error {
	if _, err := r.Resolve(stageID); err == nil {
		return nil
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	return r.Register(stageID, text)
}
