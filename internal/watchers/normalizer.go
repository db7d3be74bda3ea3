package watchers

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"

	pperrors "github.com/pulsepoint/pulsewatch/pkg/errors"
	"github.com/pulsepoint/pulsewatch/pkg/models"
)

// normalize re-stats one coalesced path, compares it with the index and
// emits whatever events the difference implies. Runs on the session loop.
func (w *PulseWatcher) normalize(path string) {
	if w.ctx.Err() != nil {
		return
	}
	path = filepath.Clean(path)

	if len(w.pending) > 0 {
		w.checkPending(path)
	}
	if !w.withinRoots(path) {
		w.metrics.SignalDiscarded()
		return
	}

	prior, known := w.index.Lookup(path)

	var stat *models.Stat
	info, err := os.Lstat(path)
	switch {
	case err == nil:
		s := models.StatFromFileInfo(info)
		stat = &s
	case pperrors.IsNotExist(err):
		// Gone: a removal if we knew it, otherwise nothing happened
	default:
		w.reportError(pperrors.NewFileSystemError("failed to stat", err).WithPath(path))
		return
	}

	var priorKind models.PathKind
	if known {
		priorKind = prior.Kind
	}
	ignored := w.filter.ShouldIgnoreKnown(path, stat, priorKind)

	switch {
	case stat == nil && !known:
		w.metrics.SignalDiscarded()

	case stat == nil:
		w.remove(path, prior)

	case ignored:
		// Tracked entries keep their last state until they are removed
		w.metrics.SignalDiscarded()

	case !known:
		w.discover(path, *stat)

	case stat.Kind != prior.Kind:
		w.remove(path, prior)
		w.discover(path, *stat)

	case stat.IsDir():
		w.index.Upsert(path, *stat)
		w.reconcile(path, false)

	case stat.Changed(prior):
		w.index.Upsert(path, *stat)
		w.emit(models.EventChange, path, *stat)

	default:
		w.index.Upsert(path, *stat)
	}
}

// discover handles a path that appeared. Only roots and children of
// indexed directories qualify; anything else is beyond what we track.
func (w *PulseWatcher) discover(path string, stat models.Stat) {
	if !w.isRoot(path) {
		parent, ok := w.index.Lookup(filepath.Dir(path))
		if !ok || !parent.IsDir() {
			w.metrics.SignalDiscarded()
			return
		}
	}

	if stat.IsDir() {
		if _, err := w.scan(w.ctx, path, true); err != nil && !pperrors.IsNotExist(err) && w.ctx.Err() == nil {
			w.logger.Debug("Scan of new directory failed", zap.String("path", path), zap.Error(err))
		}
		return
	}

	if !w.parentRegistered(path) && !w.register(path, stat.Kind) {
		return
	}
	w.index.Upsert(path, stat)
	w.metrics.SetWatchedPaths(w.index.Len())
	w.emit(models.EventAdd, path, stat)
}

// remove drops a tracked path. A directory takes its indexed descendants
// with it, announced deepest first.
func (w *PulseWatcher) remove(path string, prior models.Stat) {
	if prior.IsDir() {
		for _, target := range w.index.RemoveTree(path) {
			w.unregister(target.Path)
			w.emit(models.UnlinkEventFor(target.Stat.Kind), target.Path, target.Stat)
		}
	} else if _, ok := w.index.Remove(path); ok {
		w.unregister(path)
		w.emit(models.EventUnlink, path, prior)
	}
	w.metrics.SetWatchedPaths(w.index.Len())

	// A vanished root waits to reappear, unless an enclosing root still covers it
	if w.isRoot(path) && !w.coveredByOtherRoot(path) {
		if _, err := os.Lstat(path); pperrors.IsNotExist(err) {
			w.stateMu.Lock()
			delete(w.roots, path)
			w.stateMu.Unlock()
			w.addPending(path)
		}
	}
}

// reconcile compares a directory listing with the indexed children.
// With checkFiles set, known files are re-stated as well.
func (w *PulseWatcher) reconcile(dir string, checkFiles bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !pperrors.IsNotExist(err) {
			w.reportError(pperrors.NewFileSystemError("failed to list directory", err).WithPath(dir))
		}
		return
	}

	onDisk := make(map[string]bool, len(entries))
	for _, entry := range entries {
		onDisk[filepath.Join(dir, entry.Name())] = true
	}

	for _, child := range w.index.Children(dir) {
		if w.ctx.Err() != nil {
			return
		}
		if !onDisk[child] {
			w.normalize(child)
			continue
		}
		delete(onDisk, child)
		if checkFiles {
			if stat, ok := w.index.Lookup(child); ok && !stat.IsDir() {
				w.normalize(child)
			}
		}
	}

	for _, entry := range entries {
		child := filepath.Join(dir, entry.Name())
		if onDisk[child] {
			if w.ctx.Err() != nil {
				return
			}
			w.normalize(child)
		}
	}
}

// reconcileAll re-reads every indexed directory after the backend lost events
func (w *PulseWatcher) reconcileAll() {
	w.logger.Warn("Backend overflow, reconciling watched tree",
		zap.Int("directories", len(w.index.Directories())))

	for _, dir := range w.index.Directories() {
		if w.ctx.Err() != nil {
			return
		}
		if _, ok := w.index.Lookup(dir); ok {
			w.reconcile(dir, true)
		}
	}
	for root := range w.pending {
		w.resolvePending(root)
	}
}

// withinRoots reports whether path lies under an active root
func (w *PulseWatcher) withinRoots(path string) bool {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()

	for root := range w.roots {
		if isWithin(path, root) {
			return true
		}
	}
	return false
}

func (w *PulseWatcher) isRoot(path string) bool {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	_, ok := w.roots[path]
	return ok
}

// coveredByOtherRoot reports whether an enclosing root other than path itself contains it
func (w *PulseWatcher) coveredByOtherRoot(path string) bool {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()

	for root := range w.roots {
		if root != path && isWithin(path, root) {
			return true
		}
	}
	return false
}
