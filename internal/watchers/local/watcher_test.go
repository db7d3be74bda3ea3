package local

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pulsepoint/pulsewatch/internal/core/interfaces"
	pperrors "github.com/pulsepoint/pulsewatch/pkg/errors"
	"github.com/pulsepoint/pulsewatch/pkg/models"
)

func newTestBackend(t *testing.T) *PulseNativeBackend {
	t.Helper()
	nb, err := NewPulseNativeBackend(NativeConfig{Logger: zap.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = nb.Close() })
	return nb
}

func waitForSignal(t *testing.T, nb *PulseNativeBackend, path string) interfaces.RawSignal {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case sig := <-nb.Signals():
			if sig.Path == path {
				return sig
			}
		case <-deadline:
			t.Fatalf("no signal for %s", path)
		}
	}
}

func TestMapOp(t *testing.T) {
	tests := []struct {
		name string
		op   fsnotify.Op
		want interfaces.SignalKind
	}{
		{name: "create", op: fsnotify.Create, want: interfaces.SignalCreated},
		{name: "write", op: fsnotify.Write, want: interfaces.SignalModified},
		{name: "remove", op: fsnotify.Remove, want: interfaces.SignalRemoved},
		{name: "rename", op: fsnotify.Rename, want: interfaces.SignalRenamed},
		{name: "chmod", op: fsnotify.Chmod, want: interfaces.SignalModified},
		{name: "create and write", op: fsnotify.Create | fsnotify.Write, want: interfaces.SignalCreated},
		{name: "none", op: 0, want: interfaces.SignalUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MapOp(tt.op))
		})
	}
}

func TestPulseNativeBackend_DirectoryCoversChildren(t *testing.T) {
	nb := newTestBackend(t)
	dir := t.TempDir()

	require.NoError(t, nb.Register(dir, models.KindDirectory))

	file := filepath.Join(dir, "add.txt")
	require.NoError(t, os.WriteFile(file, []byte("hello"), 0o644))

	sig := waitForSignal(t, nb, file)
	assert.Equal(t, NativeBackendName, sig.Backend)

	// a file under a registered directory shares the directory's watch
	require.NoError(t, nb.Register(file, models.KindFile))
	assert.Equal(t, []string{dir, file}, nb.WatchedPaths())
	assert.Zero(t, nb.watches[file])
	assert.Equal(t, 2, nb.watches[dir])

	require.NoError(t, nb.Unregister(file))
	assert.Equal(t, 1, nb.watches[dir])
}

func TestPulseNativeBackend_FileWithoutParent(t *testing.T) {
	nb := newTestBackend(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "single.txt")
	require.NoError(t, os.WriteFile(file, []byte("a"), 0o644))

	require.NoError(t, nb.Register(file, models.KindFile))
	assert.Equal(t, []string{file}, nb.WatchedPaths())
	assert.Equal(t, 1, nb.watches[dir])

	// siblings share the directory but are not reported
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sibling.txt"), []byte("s"), 0o644))
	require.NoError(t, os.WriteFile(file, []byte("ab"), 0o644))
	sig := waitForSignal(t, nb, file)
	assert.Equal(t, file, sig.Path)

	require.NoError(t, nb.Unregister(file))
	assert.Empty(t, nb.watches)
}

func TestPulseNativeBackend_FileReplacedByRename(t *testing.T) {
	nb := newTestBackend(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "root.txt")
	require.NoError(t, os.WriteFile(file, []byte("a"), 0o644))
	require.NoError(t, nb.Register(file, models.KindFile))

	tmp := file + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte("replaced"), 0o644))
	require.NoError(t, os.Rename(tmp, file))
	waitForSignal(t, nb, file)

	// writes after the replacement still reach the backend
	drain(nb)
	require.NoError(t, os.WriteFile(file, []byte("written again"), 0o644))
	waitForSignal(t, nb, file)
}

func drain(nb *PulseNativeBackend) {
	for {
		select {
		case <-nb.Signals():
		case <-time.After(100 * time.Millisecond):
			return
		}
	}
}

func TestPulseNativeBackend_RegisterMissing(t *testing.T) {
	nb := newTestBackend(t)

	err := nb.Register(filepath.Join(t.TempDir(), "missing"), models.KindDirectory)
	require.Error(t, err)
	assert.True(t, pperrors.IsNotExist(err))
	assert.True(t, pperrors.IsFileSystemError(err))
	assert.Empty(t, nb.WatchedPaths())
}

func TestPulseNativeBackend_Unregister(t *testing.T) {
	nb := newTestBackend(t)
	dir := t.TempDir()

	require.NoError(t, nb.Register(dir, models.KindDirectory))
	require.NoError(t, nb.Unregister(dir))
	assert.Empty(t, nb.WatchedPaths())

	// unregistering twice, or a removed directory, is not an error
	require.NoError(t, nb.Unregister(dir))
}

func TestPulseNativeBackend_Close(t *testing.T) {
	nb, err := NewPulseNativeBackend(NativeConfig{Logger: zap.NewNop()})
	require.NoError(t, err)

	require.NoError(t, nb.Register(t.TempDir(), models.KindDirectory))
	require.NoError(t, nb.Close())
	require.NoError(t, nb.Close())

	_, open := <-nb.Signals()
	assert.False(t, open)

	err = nb.Register(t.TempDir(), models.KindDirectory)
	assert.True(t, pperrors.IsClosedError(err))
}
