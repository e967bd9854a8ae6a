package recognizer

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/voicetyped/adaptive/pkg/hooks"
)

// Factory creates a recognizer from a config map.
type Factory func(config map[string]string) (Recognizer, error)

// Registry holds named recognizer factories and the instances created from
// them. Each host owns its registry; there is no package-level default.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	instances map[string]Recognizer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		instances: make(map[string]Recognizer),
	}
}

// Register adds a named factory, dropping any instance cached under name.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
	delete(r.instances, name)
}

// Create instantiates a new recognizer using the named factory.
func (r *Registry) Create(name string, config map[string]string) (Recognizer, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown recognizer backend %q", name)
	}
	return factory(config)
}

// Get returns the shared instance for name, creating it on first use.
func (r *Registry) Get(name string, config map[string]string) (Recognizer, error) {
	r.mu.RLock()
	inst, ok := r.instances[name]
	r.mu.RUnlock()
	if ok {
		return inst, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[name]; ok {
		return inst, nil
	}
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown recognizer backend %q", name)
	}
	inst, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("create recognizer %q: %w", name, err)
	}
	r.instances[name] = inst
	return inst, nil
}

// Has returns true if the named factory exists.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// List returns all registered factory names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// RegisterBuiltins adds the "none", "regex" and "http" backends.
//
//	regex: file=<definition path>
//	http:  url=<endpoint>, auth_type, auth_secret, timeout_sec
func RegisterBuiltins(r *Registry, exec *hooks.Executor) {
	r.Register("none", func(map[string]string) (Recognizer, error) {
		return Func(func(_ context.Context, req Request) (*Result, error) {
			return None(req.Text), nil
		}), nil
	})
	r.Register("regex", func(cfg map[string]string) (Recognizer, error) {
		path := cfg["file"]
		if path == "" {
			return nil, fmt.Errorf("regex recognizer: missing \"file\"")
		}
		def, err := LoadDefinition(path)
		if err != nil {
			return nil, err
		}
		return NewRegex(def)
	})
	r.Register("http", func(cfg map[string]string) (Recognizer, error) {
		if cfg["url"] == "" {
			return nil, fmt.Errorf("http recognizer: missing \"url\"")
		}
		if exec == nil {
			return nil, fmt.Errorf("http recognizer: no hook executor")
		}
		timeout, _ := strconv.Atoi(cfg["timeout_sec"])
		return NewHTTP(exec, hooks.Config{
			URL:        cfg["url"],
			AuthType:   cfg["auth_type"],
			AuthSecret: cfg["auth_secret"],
			TimeoutSec: timeout,
		}), nil
	})
}
