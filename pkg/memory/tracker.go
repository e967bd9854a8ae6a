package memory

import "strings"

const (
	// EventCounterPath counts events processed by the owning dialog instance.
	EventCounterPath = "dialog.eventCounter"

	trackerKey = "_tracker"
	pathsKey   = "paths"
)

// Track registers paths whose changes should be stamped with the current
// event counter. Already tracked paths keep their stamp.
func (s *State) Track(paths ...string) {
	tracked := s.trackedPaths(true)
	if tracked == nil {
		return
	}
	for _, p := range paths {
		p = Normalize(p)
		if _, ok := tracked[p]; !ok {
			tracked[p] = 0
		}
	}
}

// Changed reports whether any of paths was modified after counter value since.
func (s *State) Changed(paths []string, since int) bool {
	tracked := s.trackedPaths(false)
	for _, p := range paths {
		if n, ok := ToInt(tracked[Normalize(p)]); ok && n > since {
			return true
		}
	}
	return false
}

func (s *State) stamp(path string) {
	tracked := s.trackedPaths(false)
	if len(tracked) == 0 {
		return
	}
	counter := s.Int(EventCounterPath, 0)
	for p := range tracked {
		if p == path || strings.HasPrefix(path, p+".") || strings.HasPrefix(p, path+".") {
			tracked[p] = counter
		}
	}
}

func (s *State) trackedPaths(create bool) map[string]any {
	root := s.Scope(ScopeDialog)
	if root == nil {
		return nil
	}
	tracker, ok := root[trackerKey].(map[string]any)
	if !ok {
		if !create {
			return nil
		}
		tracker = make(map[string]any)
		root[trackerKey] = tracker
	}
	paths, ok := tracker[pathsKey].(map[string]any)
	if !ok {
		if !create {
			return nil
		}
		paths = make(map[string]any)
		tracker[pathsKey] = paths
	}
	return paths
}
