package watchers

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pulsepoint/pulsewatch/internal/core/interfaces"
	"github.com/pulsepoint/pulsewatch/pkg/models"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
	quiet   = 300 * time.Millisecond
)

// backendCases runs a behaviour against every backend available everywhere
var backendCases = []struct {
	name  string
	apply func(*Options)
}{
	{name: "native", apply: func(o *Options) {}},
	{name: "polling", apply: func(o *Options) {
		o.UsePolling = true
		o.PollInterval = 20 * time.Millisecond
	}},
}

func testOptions() Options {
	return Options{
		Logger:         zap.NewNop(),
		CoalesceWindow: 30 * time.Millisecond,
	}
}

// recorder collects delivered events and errors
type recorder struct {
	mu     sync.Mutex
	events []models.Event
	errs   []error
}

func record(w *PulseWatcher) *recorder {
	r := &recorder{}
	w.OnEvent(func(e models.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, e)
	})
	w.OnError(func(err error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.errs = append(r.errs, err)
	})
	return r
}

func (r *recorder) count(eventType models.EventType, path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.events {
		if e.Type == eventType && e.Path == path {
			n++
		}
	}
	return n
}

func (r *recorder) countType(eventType models.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) snapshot() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Event(nil), r.events...)
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// expectExactly waits for n events of a type on path, then checks no more arrive
func (r *recorder) expectExactly(t *testing.T, eventType models.EventType, path string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return r.count(eventType, path) >= n }, waitFor, tick,
		"waiting for %d %s on %s, got %v", n, eventType, path, r.snapshot())
	require.Never(t, func() bool { return r.count(eventType, path) > n }, quiet, tick,
		"more than %d %s on %s", n, eventType, path)
}

func waitReady(t *testing.T, w *PulseWatcher) {
	t.Helper()
	select {
	case <-w.Ready():
	case <-time.After(waitFor):
		t.Fatal("session never became ready")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func mkdir(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(path, 0o755))
}

// newTestRoot returns a fresh, symlink-free directory
func newTestRoot(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

// mockBackend is a Backend whose registrations are scripted with testify/mock
// and whose signals and errors are pushed by the test
type mockBackend struct {
	mock.Mock
	signals chan interfaces.RawSignal
	errors  chan error
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		signals: make(chan interfaces.RawSignal, 64),
		errors:  make(chan error, 8),
	}
}

func (m *mockBackend) Name() string { return "mock" }

func (m *mockBackend) Register(path string, kind models.PathKind) error {
	args := m.Called(path, kind)
	return args.Error(0)
}

func (m *mockBackend) Unregister(path string) error {
	args := m.Called(path)
	return args.Error(0)
}

func (m *mockBackend) Signals() <-chan interfaces.RawSignal { return m.signals }

func (m *mockBackend) Errors() <-chan error { return m.errors }

func (m *mockBackend) WatchedPaths() []string { return nil }

func (m *mockBackend) Close() error {
	args := m.Called()
	return args.Error(0)
}

// newMockSession builds a session on a mock backend
func newMockSession(t *testing.T, opts Options, backend *mockBackend) *PulseWatcher {
	t.Helper()
	opts.setDefaults()

	filter, err := newFilter(opts)
	require.NoError(t, err)

	w := newSession(opts, filter, backend)
	t.Cleanup(func() { _ = w.Close() })
	return w
}
