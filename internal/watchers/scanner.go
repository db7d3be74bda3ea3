package watchers

import (
	"context"
	"io/fs"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/pulsepoint/pulsewatch/internal/watchers/index"
	pperrors "github.com/pulsepoint/pulsewatch/pkg/errors"
	"github.com/pulsepoint/pulsewatch/pkg/models"
)

// scan walks root in lexical pre-order, indexing and registering every
// entry the ignore filter accepts. Entries already in the index are refreshed
// but never re-announced. With emit set, addDir and add events fire in walk order.
func (w *PulseWatcher) scan(ctx context.Context, root string, emit bool) ([]index.WatchTarget, error) {
	var found []index.WatchTarget

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		if walkErr != nil {
			return w.scanError(root, path, d, walkErr)
		}

		info, err := d.Info()
		if err != nil {
			if pperrors.IsNotExist(err) {
				return skipEntry(d)
			}
			return w.scanError(root, path, d, err)
		}
		stat := models.StatFromFileInfo(info)

		if w.filter.ShouldIgnore(path, &stat) {
			w.logger.Debug("Ignoring path", zap.String("path", path))
			return skipEntry(d)
		}

		_, known := w.index.Lookup(path)
		w.index.Upsert(path, stat)

		if stat.IsDir() || !w.parentRegistered(path) {
			if !w.register(path, stat.Kind) {
				w.index.Remove(path)
				return skipEntry(d)
			}
		}

		found = append(found, index.WatchTarget{Path: path, Stat: stat})
		if emit && !known {
			w.emit(models.AddEventFor(stat.Kind), path, stat)
		}
		return nil
	})

	w.metrics.SetWatchedPaths(w.index.Len())
	return found, err
}

// scanError decides how a failure on one entry affects the walk.
// A missing root is returned to the caller; anything else skips the entry.
func (w *PulseWatcher) scanError(root, path string, d fs.DirEntry, err error) error {
	switch {
	case pperrors.IsNotExist(err):
		if path == root {
			return err
		}
	case pperrors.IsPermission(err):
		w.metrics.RegistrationFailed(string(pperrors.PermissionError))
		w.reportError(pperrors.NewPermissionError("permission denied", err).WithPath(path))
	default:
		w.reportError(pperrors.NewFileSystemError("failed to scan", err).WithPath(path))
	}

	if path == root {
		return err
	}
	return skipEntry(d)
}

func skipEntry(d fs.DirEntry) error {
	if d != nil && d.IsDir() {
		return filepath.SkipDir
	}
	return nil
}
