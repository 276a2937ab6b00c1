package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSanitizeKVs(t *testing.T) {
	out := sanitizeKVs([]interface{}{"project_id", "p1", "api_key", "sk-123", "dangling"})
	assert.Equal(t, []interface{}{"project_id", "p1", "api_key", "[REDACTED]", "dangling"}, out)
}

func TestLoggerWritesFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{SugaredLogger: zap.New(core).Sugar()}

	l.With("project_id", "p1").Info("phase started", "phase", "embedding", "auth_token", "x")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "p1", fields["project_id"])
	assert.Equal(t, "embedding", fields["phase"])
	assert.Equal(t, "[REDACTED]", fields["auth_token"])
}

func TestNew(t *testing.T) {
	l, err := New("dev", "debug")
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = New("prod", "loud")
	assert.Error(t, err)

	assert.NotNil(t, OrNop(nil))
}
