package watchers

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsepoint/pulsewatch/internal/watchers/local"
	"github.com/pulsepoint/pulsewatch/internal/watchers/poll"
)

func TestNewPrimaryBackend(t *testing.T) {
	tests := []struct {
		name     string
		apply    func(*Options)
		expected string
	}{
		{
			name:     "native by default",
			apply:    func(o *Options) {},
			expected: local.NativeBackendName,
		},
		{
			name:     "polling when requested",
			apply:    func(o *Options) { o.UsePolling = true },
			expected: poll.BackendName,
		},
		{
			name:     "polling wins over fsevents",
			apply:    func(o *Options) { o.UsePolling = true; o.UseFSEvents = true },
			expected: poll.BackendName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			tt.apply(&opts)
			opts.setDefaults()

			backend, err := newPrimaryBackend(opts)
			require.NoError(t, err)
			defer backend.Close()

			assert.Equal(t, tt.expected, backend.Name())
		})
	}
}

func TestNewPrimaryBackend_FSEventsUnavailable(t *testing.T) {
	if local.FSEventsSupported {
		t.Skip("FSEvents is available in this build")
	}

	opts := testOptions()
	opts.UseFSEvents = true
	opts.setDefaults()

	backend, err := newPrimaryBackend(opts)
	require.NoError(t, err)
	defer backend.Close()

	assert.Equal(t, local.NativeBackendName, backend.Name())
}

func TestIsWithin(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "watched")

	assert.True(t, isWithin(root, root))
	assert.True(t, isWithin(filepath.Join(root, "a", "b.txt"), root))
	assert.False(t, isWithin(root+"-sibling", root))
	assert.False(t, isWithin(filepath.Dir(root), root))
}
