// Package ignore decides which paths a watch session skips.
package ignore

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/pulsepoint/pulsewatch/pkg/models"
)

// Predicate reports whether a path should be ignored.
// stat is nil when the path no longer exists or could not be stated.
type Predicate func(path string, stat *models.Stat) bool

// Rule is either a gitignore-style pattern or a predicate
type Rule struct {
	Pattern   string
	Predicate Predicate
}

// PatternRule creates a rule from a gitignore-style pattern
func PatternRule(pattern string) Rule {
	return Rule{Pattern: pattern}
}

// PredicateRule creates a rule from a predicate
func PredicateRule(fn Predicate) Rule {
	return Rule{Predicate: fn}
}

// PatternRules converts a list of patterns into rules
func PatternRules(patterns ...string) []Rule {
	rules := make([]Rule, 0, len(patterns))
	for _, p := range patterns {
		rules = append(rules, PatternRule(p))
	}
	return rules
}

// Filter is the single ignore decision shared by the scanner and the normalizer
type Filter struct {
	matcher    *PulseIgnoreMatcher
	predicates []Predicate
	logger     *zap.Logger

	mu    sync.RWMutex
	roots []string
}

// NewFilter builds a filter from rules.
// A rule with neither a pattern nor a predicate is rejected.
func NewFilter(logger *zap.Logger, defaults bool, rules ...Rule) (*Filter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	f := &Filter{
		matcher: NewPulseIgnoreMatcher(defaults),
		logger:  logger,
	}

	for i, rule := range rules {
		switch {
		case rule.Predicate != nil:
			f.predicates = append(f.predicates, rule.Predicate)
		case rule.Pattern != "":
			if err := f.matcher.AddPattern(rule.Pattern); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("ignore rule %d is empty", i)
		}
	}

	return f, nil
}

// LoadFile appends the patterns from an ignore file
func (f *Filter) LoadFile(path string) error {
	return f.matcher.LoadFromFile(path)
}

// AddRoot makes patterns relative to root for paths beneath it
func (f *Filter) AddRoot(root string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, r := range f.roots {
		if r == root {
			return
		}
	}
	f.roots = append(f.roots, root)
}

// ShouldIgnore reports whether path is ignored given its fresh stat (nil if gone)
func (f *Filter) ShouldIgnore(path string, stat *models.Stat) bool {
	return f.ShouldIgnoreKnown(path, stat, "")
}

// ShouldIgnoreKnown is ShouldIgnore with a fallback kind for dir-only patterns
// when the path can no longer be stated.
func (f *Filter) ShouldIgnoreKnown(path string, stat *models.Stat, prior models.PathKind) bool {
	if f == nil {
		return false
	}

	isDir := prior == models.KindDirectory
	if stat != nil {
		isDir = stat.IsDir()
	}

	if rel, ok := f.relative(path); ok && f.matcher.ShouldIgnore(rel, isDir) {
		return true
	}

	for _, fn := range f.predicates {
		if f.callPredicate(fn, path, stat) {
			return true
		}
	}
	return false
}

// callPredicate runs a user predicate, treating a panic as "not ignored"
func (f *Filter) callPredicate(fn Predicate, path string, stat *models.Stat) (ignored bool) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Warn("Ignore predicate panicked",
				zap.String("path", path),
				zap.Any("panic", r))
			ignored = false
		}
	}()
	return fn(path, stat)
}

// relative returns path relative to the closest root, slash-separated.
// A path outside every root is matched by its base name alone.
func (f *Filter) relative(path string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	best := ""
	for _, root := range f.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) || root == string(filepath.Separator) {
			if len(root) > len(best) {
				best = root
			}
		}
	}

	if best == "" {
		return filepath.Base(path), true
	}
	if best == path {
		return "", false
	}

	rel, err := filepath.Rel(best, path)
	if err != nil {
		return filepath.Base(path), true
	}
	return filepath.ToSlash(rel), true
}
