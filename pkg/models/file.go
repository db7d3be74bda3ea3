// Package models defines the data structures used throughout PulseWatch
package models

import (
	"io/fs"
	"time"
)

// PathKind distinguishes files from directories
type PathKind string

const (
	// KindFile is a regular file, symlink or any other non-directory entry
	KindFile PathKind = "file"

	// KindDirectory is a directory
	KindDirectory PathKind = "directory"
)

// String returns the string representation of the kind
func (k PathKind) String() string {
	return string(k)
}

// Stat is the last-known metadata snapshot of a watched path
type Stat struct {
	Kind    PathKind    `json:"kind"`
	Size    int64       `json:"size"`
	ModTime time.Time   `json:"mod_time"`
	Mode    fs.FileMode `json:"mode"`
}

// StatFromFileInfo builds a Stat from an fs.FileInfo
func StatFromFileInfo(info fs.FileInfo) Stat {
	kind := KindFile
	if info.IsDir() {
		kind = KindDirectory
	}
	return Stat{
		Kind:    kind,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Mode:    info.Mode(),
	}
}

// IsDir reports whether the snapshot describes a directory
func (s *Stat) IsDir() bool {
	return s != nil && s.Kind == KindDirectory
}

// Changed reports whether a file's content metadata differs from a previous snapshot.
// Directories compare equal unless their kind changed.
func (s Stat) Changed(prev Stat) bool {
	if s.Kind != prev.Kind {
		return true
	}
	if s.Kind == KindDirectory {
		return false
	}
	return s.Size != prev.Size || !s.ModTime.Equal(prev.ModTime)
}
