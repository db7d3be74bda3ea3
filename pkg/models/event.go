package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event represents a normalized filesystem event delivered to subscribers
type Event struct {
	// Event identification
	ID   string    `json:"id"`
	Type EventType `json:"type"`

	// File information
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size,omitempty"`

	// Event details
	Timestamp time.Time `json:"timestamp"`
	Backend   string    `json:"backend,omitempty"`
}

// NewEvent creates a new event for the given path
func NewEvent(eventType EventType, path string) Event {
	return Event{
		ID:        GenerateEventID(),
		Type:      eventType,
		Path:      path,
		IsDir:     eventType.IsDir(),
		Timestamp: time.Now(),
	}
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return fmt.Sprintf("evt_%s", uuid.NewString())
}

// EventType defines the kind of normalized filesystem event
type EventType string

const (
	// EventAdd indicates a file appeared
	EventAdd EventType = "add"

	// EventAddDir indicates a directory appeared
	EventAddDir EventType = "addDir"

	// EventChange indicates a file's size or modification time changed
	EventChange EventType = "change"

	// EventUnlink indicates a file was removed
	EventUnlink EventType = "unlink"

	// EventUnlinkDir indicates a directory was removed
	EventUnlinkDir EventType = "unlinkDir"
)

// AllEventTypes lists every event type in a stable order
var AllEventTypes = []EventType{
	EventAdd,
	EventAddDir,
	EventChange,
	EventUnlink,
	EventUnlinkDir,
}

// String returns the string representation of the event type
func (et EventType) String() string {
	return string(et)
}

// IsDir reports whether the event type describes a directory
func (et EventType) IsDir() bool {
	return et == EventAddDir || et == EventUnlinkDir
}

// IsRemoval reports whether the event type describes a removal
func (et EventType) IsRemoval() bool {
	return et == EventUnlink || et == EventUnlinkDir
}

// Valid reports whether the event type is one of the known types
func (et EventType) Valid() bool {
	for _, known := range AllEventTypes {
		if et == known {
			return true
		}
	}
	return false
}

// ParseEventType converts a string into an EventType
func ParseEventType(s string) (EventType, error) {
	et := EventType(s)
	if !et.Valid() {
		return "", fmt.Errorf("unknown event type: %q", s)
	}
	return et, nil
}

// AddEventFor returns the add event type for a path kind
func AddEventFor(kind PathKind) EventType {
	if kind == KindDirectory {
		return EventAddDir
	}
	return EventAdd
}

// UnlinkEventFor returns the removal event type for a path kind
func UnlinkEventFor(kind PathKind) EventType {
	if kind == KindDirectory {
		return EventUnlinkDir
	}
	return EventUnlink
}
