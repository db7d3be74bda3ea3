package ignore

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/multierr"
)

// PulseIgnoreMatcher handles gitignore-style pattern matching.
// Patterns are evaluated in order and the last match wins.
type PulseIgnoreMatcher struct {
	mu       sync.RWMutex
	patterns []Pattern
	defaults bool
}

// Pattern represents a single ignore pattern
type Pattern struct {
	Pattern    string
	IsNegation bool // Patterns starting with !
	IsDir      bool // Patterns ending with /
	anchored   bool // Patterns containing a / are matched against the whole relative path
}

// defaultIgnores are system and editor files nobody wants events for
var defaultIgnores = []string{
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
	"*.swp",
	"*.swo",
	"*.swx",
	"*~",
	"#*#",
	".#*",
	"4913",
}

// NewPulseIgnoreMatcher creates a new ignore matcher.
// When defaults is true the built-in system ignores apply before any pattern.
func NewPulseIgnoreMatcher(defaults bool) *PulseIgnoreMatcher {
	return &PulseIgnoreMatcher{
		patterns: []Pattern{},
		defaults: defaults,
	}
}

// LoadFromFile loads ignore patterns from a file (like .gitignore)
func (m *PulseIgnoreMatcher) LoadFromFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open ignore file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var patterns []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			patterns = append(patterns, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read ignore file: %w", err)
	}

	return m.AddPatterns(patterns)
}

// AddPatterns adds multiple patterns to the matcher.
// Invalid patterns are skipped and reported together.
func (m *PulseIgnoreMatcher) AddPatterns(patterns []string) error {
	var errs error
	for _, pattern := range patterns {
		errs = multierr.Append(errs, m.AddPattern(pattern))
	}
	return errs
}

// AddPattern adds a single pattern to the matcher
func (m *PulseIgnoreMatcher) AddPattern(pattern string) error {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || strings.HasPrefix(pattern, "#") {
		return nil
	}

	p := Pattern{
		Pattern: pattern,
	}

	if strings.HasPrefix(p.Pattern, "!") {
		p.IsNegation = true
		p.Pattern = p.Pattern[1:]
	}

	if strings.HasSuffix(p.Pattern, "/") {
		p.IsDir = true
		p.Pattern = strings.TrimRight(p.Pattern, "/")
	}

	if strings.HasPrefix(p.Pattern, "/") {
		p.Pattern = strings.TrimLeft(p.Pattern, "/")
		p.anchored = true
	}
	if strings.Contains(p.Pattern, "/") {
		p.anchored = true
	}

	if p.Pattern == "" {
		return fmt.Errorf("empty ignore pattern %q", pattern)
	}
	if !doublestar.ValidatePattern(p.Pattern) {
		return fmt.Errorf("invalid ignore pattern %q", pattern)
	}

	m.mu.Lock()
	m.patterns = append(m.patterns, p)
	m.mu.Unlock()
	return nil
}

// ShouldIgnore checks if a path should be ignored based on the patterns.
// rel is a slash-separated path relative to the watch root.
func (m *PulseIgnoreMatcher) ShouldIgnore(rel string, isDir bool) bool {
	rel = strings.Trim(path.Clean("/"+rel), "/")
	if rel == "" {
		return false
	}
	parts := strings.Split(rel, "/")

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.defaults {
		for _, part := range parts {
			if isDefaultIgnored(part) {
				return true
			}
		}
	}

	ignored := false
	for _, pattern := range m.patterns {
		if pattern.matches(parts, isDir) {
			ignored = !pattern.IsNegation
		}
	}
	return ignored
}

// GetPatterns returns all configured patterns
func (m *PulseIgnoreMatcher) GetPatterns() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]string, len(m.patterns))
	for i, p := range m.patterns {
		pattern := p.Pattern
		if p.anchored && !strings.Contains(pattern, "/") {
			pattern = "/" + pattern
		}
		if p.IsNegation {
			pattern = "!" + pattern
		}
		if p.IsDir {
			pattern = pattern + "/"
		}
		result[i] = pattern
	}
	return result
}

// matches reports whether the pattern covers the path or one of its ancestors.
// Every ancestor is a directory, so dir-only patterns apply to them unconditionally.
func (p Pattern) matches(parts []string, isDir bool) bool {
	last := len(parts) - 1

	if p.anchored {
		for i := range parts {
			if p.IsDir && i == last && !isDir {
				continue
			}
			if doublestar.MatchUnvalidated(p.Pattern, strings.Join(parts[:i+1], "/")) {
				return true
			}
		}
		return false
	}

	for i, part := range parts {
		if p.IsDir && i == last && !isDir {
			continue
		}
		if doublestar.MatchUnvalidated(p.Pattern, part) {
			return true
		}
	}
	return false
}

func isDefaultIgnored(name string) bool {
	for _, pattern := range defaultIgnores {
		if doublestar.MatchUnvalidated(pattern, name) {
			return true
		}
	}
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".tmp")
}
