package schema

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Loader loads and optionally hot-reloads dialog schemas from a directory.
// Each file's base name (without extension) is the schema name.
type Loader struct {
	dir string

	mu      sync.RWMutex
	schemas map[string]*DialogSchema
}

// NewLoader creates a schema loader for the given directory.
func NewLoader(dir string) *Loader {
	return &Loader{
		dir:     dir,
		schemas: make(map[string]*DialogSchema),
	}
}

func isSchemaFile(name string) bool {
	switch filepath.Ext(name) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// LoadAll parses every schema file in the directory. A malformed file fails
// the whole load and leaves the previously loaded set in place.
func (l *Loader) LoadAll() (map[string]*DialogSchema, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read schema dir %q: %w", l.dir, err)
	}

	result := make(map[string]*DialogSchema)
	for _, entry := range entries {
		if entry.IsDir() || !isSchemaFile(entry.Name()) {
			continue
		}

		path := filepath.Join(l.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load %q: %w", path, err)
		}
		s, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("load %q: %w", path, err)
		}
		result[strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))] = s
	}

	l.mu.Lock()
	l.schemas = result
	l.mu.Unlock()

	return result, nil
}

// Get returns a loaded schema by name.
func (l *Loader) Get(name string) (*DialogSchema, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.schemas[name]
	return s, ok
}

// Names returns the names of all loaded schemas.
func (l *Loader) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.schemas))
	for k := range l.schemas {
		names = append(names, k)
	}
	return names
}

// WatchAndReload watches the schema directory and reloads on change.
// This blocks until the done channel is closed.
func (l *Loader) WatchAndReload(done <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("watch dir %q: %w", l.dir, err)
	}

	for {
		select {
		case <-done:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isSchemaFile(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) {
				if _, err := l.LoadAll(); err != nil {
					slog.Warn("schema reload failed", slog.String("dir", l.dir), slog.String("error", err.Error()))
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
