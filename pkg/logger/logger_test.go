package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithSessionID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	WithSessionID(zap.New(core), "session-1").Info("Watch session started")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "session-1", entries[0].ContextMap()["session_id"])
	}
}

func TestWithSessionID_NilUsesGlobal(t *testing.T) {
	InitializeNop()
	assert.NotNil(t, WithSessionID(nil, "session-2"))
}
