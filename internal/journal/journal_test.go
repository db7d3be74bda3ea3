package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pulsepoint/pulsewatch/pkg/models"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j := New(&Options{
		Path:     filepath.Join(t.TempDir(), "journal.db"),
		FileMode: 0600,
		Timeout:  time.Second,
		Logger:   zap.NewNop(),
	})
	require.NoError(t, j.Open())
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func eventAt(eventType models.EventType, path string, at time.Time) models.Event {
	e := models.NewEvent(eventType, path)
	e.Timestamp = at
	return e
}

func TestJournal_AppendAndList(t *testing.T) {
	j := openJournal(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, j.Append(eventAt(models.EventAddDir, "/w", base)))
	require.NoError(t, j.Append(eventAt(models.EventAdd, "/w/a", base.Add(time.Second))))
	require.NoError(t, j.Append(eventAt(models.EventChange, "/w/a", base.Add(2*time.Second))))
	require.NoError(t, j.Append(eventAt(models.EventUnlink, "/w/a", base.Add(3*time.Second))))

	all, err := j.List(Query{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, models.EventAddDir, all[0].Type)
	assert.Equal(t, models.EventUnlink, all[3].Type)
	assert.True(t, all[0].Timestamp.Equal(base))

	count, err := j.Count()
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestJournal_ListFilters(t *testing.T) {
	j := openJournal(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, et := range []models.EventType{models.EventAdd, models.EventChange, models.EventAdd, models.EventUnlink, models.EventAdd} {
		require.NoError(t, j.Append(eventAt(et, "/w/f", base.Add(time.Duration(i)*time.Minute))))
	}

	tests := []struct {
		name  string
		query Query
		want  int
	}{
		{name: "since", query: Query{Since: base.Add(2 * time.Minute)}, want: 3},
		{name: "type", query: Query{Types: []models.EventType{models.EventAdd}}, want: 3},
		{name: "limit keeps newest", query: Query{Limit: 2}, want: 2},
		{name: "type and limit", query: Query{Types: []models.EventType{models.EventAdd}, Limit: 1}, want: 1},
		{name: "future", query: Query{Since: base.Add(time.Hour)}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := j.List(tt.query)
			require.NoError(t, err)
			assert.Len(t, events, tt.want)
		})
	}

	newest, err := j.List(Query{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, models.EventUnlink, newest[0].Type)
	assert.Equal(t, models.EventAdd, newest[1].Type)
	assert.True(t, newest[1].Timestamp.Equal(base.Add(4*time.Minute)))
}

func TestJournal_SameTimestampKeepsBoth(t *testing.T) {
	j := openJournal(t)
	at := time.Now()

	require.NoError(t, j.Append(eventAt(models.EventAdd, "/a", at)))
	require.NoError(t, j.Append(eventAt(models.EventAdd, "/b", at)))

	count, err := j.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestJournal_SummaryAndClear(t *testing.T) {
	j := openJournal(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, j.Append(eventAt(models.EventAdd, "/a", base)))
	require.NoError(t, j.Append(eventAt(models.EventAdd, "/b", base.Add(time.Minute))))
	require.NoError(t, j.Append(eventAt(models.EventUnlinkDir, "/c", base.Add(time.Hour))))

	summary, err := j.Summary()
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.ByType[models.EventAdd])
	assert.Equal(t, 1, summary.ByType[models.EventUnlinkDir])
	assert.True(t, summary.First.Equal(base))
	assert.True(t, summary.Last.Equal(base.Add(time.Hour)))

	require.NoError(t, j.Clear())
	summary, err = j.Summary()
	require.NoError(t, err)
	assert.Zero(t, summary.Total)
}

func TestJournal_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	opts := &Options{Path: path, FileMode: 0600, Timeout: time.Second, Logger: zap.NewNop()}

	j := New(opts)
	require.NoError(t, j.Open())
	require.NoError(t, j.Append(models.NewEvent(models.EventAdd, "/kept")))
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	reopened := New(opts)
	require.NoError(t, reopened.Open())
	defer reopened.Close()

	events, err := reopened.List(Query{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "/kept", events[0].Path)
}

func TestJournal_Backup(t *testing.T) {
	j := openJournal(t)
	require.NoError(t, j.Append(models.NewEvent(models.EventAdd, "/a")))

	backupPath := filepath.Join(t.TempDir(), "copy", "journal.db")
	require.NoError(t, j.Backup(backupPath))

	copied := New(&Options{Path: backupPath, FileMode: 0600, Timeout: time.Second, Logger: zap.NewNop()})
	require.NoError(t, copied.Open())
	defer copied.Close()

	count, err := copied.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestJournal_NotOpen(t *testing.T) {
	j := New(&Options{Path: filepath.Join(t.TempDir(), "j.db"), Logger: zap.NewNop()})

	assert.Error(t, j.Append(models.NewEvent(models.EventAdd, "/a")))
	_, err := j.List(Query{})
	assert.Error(t, err)
	assert.False(t, j.IsOpen())
}
