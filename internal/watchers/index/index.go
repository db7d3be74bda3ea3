// Package index tracks the files and directories a watch session is responsible for.
package index

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pulsepoint/pulsewatch/pkg/models"
)

// WatchTarget is a single tracked path and its last-known stat
type WatchTarget struct {
	Path string
	Stat models.Stat
}

// PathIndex maps absolute paths to their last observed state.
// It performs no I/O; every method is safe for concurrent use.
type PathIndex struct {
	mu       sync.RWMutex
	targets  map[string]models.Stat
	children map[string]map[string]struct{} // dir -> child base names
}

// New creates an empty PathIndex
func New() *PathIndex {
	return &PathIndex{
		targets:  make(map[string]models.Stat),
		children: make(map[string]map[string]struct{}),
	}
}

func mustAbs(path string) {
	if !filepath.IsAbs(path) {
		panic(fmt.Sprintf("index: path %q is not absolute", path))
	}
}

// Upsert records or refreshes a target
func (idx *PathIndex) Upsert(path string, stat models.Stat) {
	mustAbs(path)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.targets[path] = stat

	parent := filepath.Dir(path)
	if parent == path {
		return
	}
	names, ok := idx.children[parent]
	if !ok {
		names = make(map[string]struct{})
		idx.children[parent] = names
	}
	names[filepath.Base(path)] = struct{}{}
}

// Remove drops a target and reports the kind it had
func (idx *PathIndex) Remove(path string) (models.PathKind, bool) {
	mustAbs(path)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	return idx.removeLocked(path)
}

func (idx *PathIndex) removeLocked(path string) (models.PathKind, bool) {
	stat, ok := idx.targets[path]
	if !ok {
		return "", false
	}
	delete(idx.targets, path)

	parent := filepath.Dir(path)
	if names, ok := idx.children[parent]; ok {
		delete(names, filepath.Base(path))
		if len(names) == 0 {
			delete(idx.children, parent)
		}
	}
	return stat.Kind, true
}

// RemoveTree drops a target and all of its descendants.
// The removed targets are returned deepest first, the root last.
func (idx *PathIndex) RemoveTree(path string) []WatchTarget {
	mustAbs(path)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	var removed []WatchTarget
	prefix := path + string(filepath.Separator)
	if strings.HasSuffix(path, string(filepath.Separator)) {
		prefix = path
	}
	for p, stat := range idx.targets {
		if strings.HasPrefix(p, prefix) {
			removed = append(removed, WatchTarget{Path: p, Stat: stat})
		}
	}
	sort.Slice(removed, func(i, j int) bool {
		di, dj := depth(removed[i].Path), depth(removed[j].Path)
		if di != dj {
			return di > dj
		}
		return removed[i].Path < removed[j].Path
	})
	for _, t := range removed {
		idx.removeLocked(t.Path)
	}

	if stat, ok := idx.targets[path]; ok {
		idx.removeLocked(path)
		removed = append(removed, WatchTarget{Path: path, Stat: stat})
	}
	return removed
}

func depth(path string) int {
	return strings.Count(path, string(filepath.Separator))
}

// Lookup returns the last-known stat of a path
func (idx *PathIndex) Lookup(path string) (models.Stat, bool) {
	mustAbs(path)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	stat, ok := idx.targets[path]
	return stat, ok
}

// Children returns the absolute paths of the known direct children of dir, sorted
func (idx *PathIndex) Children(dir string) []string {
	mustAbs(dir)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	names := idx.children[dir]
	paths := make([]string, 0, len(names))
	for name := range names {
		paths = append(paths, filepath.Join(dir, name))
	}
	sort.Strings(paths)
	return paths
}

// Directories returns every tracked directory, sorted
func (idx *PathIndex) Directories() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	dirs := make([]string, 0)
	for p, stat := range idx.targets {
		if stat.Kind == models.KindDirectory {
			dirs = append(dirs, p)
		}
	}
	sort.Strings(dirs)
	return dirs
}

// Paths returns every tracked path, sorted
func (idx *PathIndex) Paths() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	paths := make([]string, 0, len(idx.targets))
	for p := range idx.targets {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Len returns the number of tracked paths
func (idx *PathIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.targets)
}

// Clear drops every target
func (idx *PathIndex) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.targets = make(map[string]models.Stat)
	idx.children = make(map[string]map[string]struct{})
}
