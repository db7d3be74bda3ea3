package errors

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPulseError_Error(t *testing.T) {
	err := NewPermissionError("permission denied", fs.ErrPermission).WithPath("/srv/locked")
	assert.Equal(t, "[permission] permission denied /srv/locked: permission denied", err.Error())

	closed := NewClosedError("watcher is closed")
	assert.Equal(t, "[closed] watcher is closed", closed.Error())
}

func TestPulseError_WrappedChecks(t *testing.T) {
	base := NewFatalBackendError("watch resources exhausted", syscall.ENOSPC)
	wrapped := fmt.Errorf("register /data: %w", base)

	assert.True(t, IsBackendError(wrapped))
	assert.True(t, IsFatal(wrapped))
	assert.True(t, IsResourceExhausted(wrapped))
	assert.False(t, IsPermissionError(wrapped))
	assert.False(t, IsFatal(stderrors.New("plain")))
	assert.ErrorIs(t, wrapped, syscall.ENOSPC)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		fatal bool
	}{
		{name: "missing", err: fs.ErrNotExist, check: IsFileSystemError},
		{name: "not a directory", err: syscall.ENOTDIR, check: IsFileSystemError},
		{name: "denied", err: syscall.EACCES, check: IsPermissionError},
		{name: "not permitted", err: syscall.EPERM, check: IsPermissionError},
		{name: "watch limit", err: syscall.ENOSPC, check: IsBackendError, fatal: true},
		{name: "too many files", err: syscall.EMFILE, check: IsBackendError, fatal: true},
		{name: "other", err: stderrors.New("boom"), check: IsBackendError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := Classify("/p", tt.err)
			assert.True(t, tt.check(classified))
			assert.Equal(t, tt.fatal, classified.Fatal)
			assert.Equal(t, "/p", classified.Path)
			assert.ErrorIs(t, classified, tt.err)
		})
	}

	assert.Nil(t, Classify("/p", nil))

	existing := NewValidationError("bad", nil)
	assert.Same(t, existing, Classify("/p", existing))
}

func TestIsNotExistAndTransient(t *testing.T) {
	assert.True(t, IsNotExist(&fs.PathError{Op: "lstat", Path: "/x", Err: syscall.ENOENT}))
	assert.False(t, IsNotExist(syscall.EACCES))
	assert.True(t, IsTransient(syscall.EINTR))
	assert.False(t, IsTransient(syscall.ENOENT))
}

func TestWithContext(t *testing.T) {
	err := NewConfigError("bad value", nil).WithContext("key", "watch.poll_interval")
	assert.Equal(t, "watch.poll_interval", err.Context["key"])
	assert.True(t, IsConfigError(err))
}
