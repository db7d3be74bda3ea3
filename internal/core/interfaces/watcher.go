package interfaces

import (
	"time"

	"github.com/pulsepoint/pulsewatch/pkg/models"
)

// Backend defines the contract every change-notification mechanism implements
type Backend interface {
	// Name identifies the backend in logs and metrics
	Name() string

	// Register begins monitoring a path
	Register(path string, kind models.PathKind) error

	// Unregister stops monitoring a path
	Unregister(path string) error

	// Signals returns the channel raw change signals are delivered on
	Signals() <-chan RawSignal

	// Errors returns a channel for asynchronous backend errors
	Errors() <-chan error

	// WatchedPaths returns the paths currently registered
	WatchedPaths() []string

	// Close releases every resource held by the backend
	Close() error
}

// RawSignal is an unprocessed notification from a Backend
type RawSignal struct {
	Path      string     `json:"path"`
	Kind      SignalKind `json:"kind"`
	Timestamp time.Time  `json:"timestamp"`
	Backend   string     `json:"backend"`
}

// NewRawSignal creates a signal stamped with the current time
func NewRawSignal(backend, path string, kind SignalKind) RawSignal {
	return RawSignal{
		Path:      path,
		Kind:      kind,
		Timestamp: time.Now(),
		Backend:   backend,
	}
}

// SignalKind is the kind a backend claims for a raw signal.
// It is a hint only: the normalizer re-stats before classifying.
type SignalKind string

const (
	// SignalCreated indicates the backend saw a path appear
	SignalCreated SignalKind = "created"

	// SignalModified indicates the backend saw a write or attribute change
	SignalModified SignalKind = "modified"

	// SignalRemoved indicates the backend saw a path disappear
	SignalRemoved SignalKind = "removed"

	// SignalRenamed indicates the backend saw a path renamed away or into place
	SignalRenamed SignalKind = "renamed"

	// SignalUnknown indicates the backend could not tell what happened
	SignalUnknown SignalKind = "unknown"
)

// String returns the string representation of the signal kind
func (sk SignalKind) String() string {
	return string(sk)
}
