package memory

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Well-known scope names.
const (
	ScopeTurn         = "turn"
	ScopeDialog       = "dialog"
	ScopeThis         = "this"
	ScopeConversation = "conversation"
	ScopeUser         = "user"
)

var (
	// ErrUnknownScope is returned when a path names a scope that is not registered.
	ErrUnknownScope = errors.New("unknown memory scope")
	// ErrPathConflict is returned when a write would traverse a non-container value.
	ErrPathConflict = errors.New("memory path conflict")
)

// ScopeFunc returns the root map of a scope, or nil when the scope is
// currently unavailable (for example "dialog" with an empty stack).
type ScopeFunc func() map[string]any

// State is a path-addressable view over a set of scopes. Paths are dotted:
// "turn.recognized.intent", "dialog.size", "$size" (shorthand for dialog.size).
// Numeric segments index into lists.
type State struct {
	scopes map[string]ScopeFunc
}

// New creates an empty state with no scopes.
func New() *State {
	return &State{scopes: make(map[string]ScopeFunc)}
}

// SetScope registers or replaces the resolver for a scope.
func (s *State) SetScope(name string, fn ScopeFunc) {
	s.scopes[name] = fn
}

// Scope returns the root map of a scope, or nil.
func (s *State) Scope(name string) map[string]any {
	fn, ok := s.scopes[name]
	if !ok {
		return nil
	}
	return fn()
}

// Scopes returns the root maps of all available scopes keyed by name.
func (s *State) Scopes() map[string]any {
	out := make(map[string]any, len(s.scopes))
	for name, fn := range s.scopes {
		if root := fn(); root != nil {
			out[name] = root
		}
	}
	return out
}

// Normalize expands shorthand prefixes.
func Normalize(path string) string {
	if strings.HasPrefix(path, "$") {
		return ScopeDialog + "." + path[1:]
	}
	return path
}

func split(path string) (string, []string) {
	parts := strings.Split(Normalize(path), ".")
	return parts[0], parts[1:]
}

// TryGet returns the value at path and whether it exists.
func (s *State) TryGet(path string) (any, bool) {
	scope, segs := split(path)
	root := s.Scope(scope)
	if root == nil {
		return nil, false
	}
	var cur any = root
	for _, seg := range segs {
		next, ok := child(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Get returns the value at path or nil.
func (s *State) Get(path string) any {
	v, _ := s.TryGet(path)
	return v
}

// Set writes value at path, creating intermediate maps as needed.
func (s *State) Set(path string, value any) error {
	scope, segs := split(path)
	if _, ok := s.scopes[scope]; !ok {
		return fmt.Errorf("set %q: %w", path, ErrUnknownScope)
	}
	if len(segs) == 0 {
		return fmt.Errorf("set %q: cannot replace a scope root", path)
	}
	root := s.Scope(scope)
	if root == nil {
		return fmt.Errorf("set %q: scope %q is not available", path, scope)
	}

	var cur any = root
	for i, seg := range segs[:len(segs)-1] {
		next, ok := child(cur, seg)
		if !ok || next == nil {
			m, isMap := cur.(map[string]any)
			if !isMap {
				return fmt.Errorf("set %q at %q: %w", path, strings.Join(segs[:i+1], "."), ErrPathConflict)
			}
			created := make(map[string]any)
			m[seg] = created
			cur = created
			continue
		}
		cur = next
	}

	last := segs[len(segs)-1]
	switch c := cur.(type) {
	case map[string]any:
		c[last] = value
	case []any:
		idx, err := strconv.Atoi(last)
		if err != nil || idx < 0 || idx >= len(c) {
			return fmt.Errorf("set %q: index %q out of range: %w", path, last, ErrPathConflict)
		}
		c[idx] = value
	default:
		return fmt.Errorf("set %q: parent is %T: %w", path, cur, ErrPathConflict)
	}
	s.stamp(Normalize(path))
	return nil
}

// Remove deletes the value at path. Removing a missing path is not an error.
func (s *State) Remove(path string) error {
	scope, segs := split(path)
	if _, ok := s.scopes[scope]; !ok {
		return fmt.Errorf("remove %q: %w", path, ErrUnknownScope)
	}
	if len(segs) == 0 {
		return fmt.Errorf("remove %q: cannot remove a scope root", path)
	}
	parent := strings.Join(append([]string{scope}, segs[:len(segs)-1]...), ".")
	container, ok := s.TryGet(parent)
	if !ok {
		return nil
	}
	if m, isMap := container.(map[string]any); isMap {
		if _, exists := m[segs[len(segs)-1]]; exists {
			delete(m, segs[len(segs)-1])
			s.stamp(Normalize(path))
		}
	}
	return nil
}

func child(cur any, seg string) (any, bool) {
	switch c := cur.(type) {
	case map[string]any:
		v, ok := c[seg]
		return v, ok
	case map[string]string:
		v, ok := c[seg]
		return v, ok
	case []any:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(c) {
			return nil, false
		}
		return c[idx], true
	case []string:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(c) {
			return nil, false
		}
		return c[idx], true
	}
	return nil, false
}
