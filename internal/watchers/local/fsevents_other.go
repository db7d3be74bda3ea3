//go:build !darwin || !cgo

package local

import (
	"fmt"

	"github.com/pulsepoint/pulsewatch/internal/core/interfaces"
	pperrors "github.com/pulsepoint/pulsewatch/pkg/errors"
)

// FSEventsSupported reports whether this build can use the FSEvents backend
const FSEventsSupported = false

// FSEventsBackendName identifies the FSEvents backend in logs and metrics
const FSEventsBackendName = "fsevents"

// NewPulseFSEventsBackend is unavailable outside darwin cgo builds
func NewPulseFSEventsBackend(config NativeConfig) (interfaces.Backend, error) {
	return nil, pperrors.NewBackendError(fmt.Sprintf("%s backend is only available on darwin with cgo", FSEventsBackendName), nil)
}
