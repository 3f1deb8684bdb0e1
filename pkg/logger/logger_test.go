package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitialize(t *testing.T) {
	dir := t.TempDir()

	l := Initialize("transcode_worker", dir)
	l.Info("worker started", zap.String("job_id", "j1"))
	l.Sync()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	content, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(content), `"job_id":"j1"`)
	assert.Contains(t, string(content), `"service":"transcode_worker"`)
}

func TestDebugModeSharedWithChildren(t *testing.T) {
	l := Initialize("ingest_service", t.TempDir())
	child := l.With(zap.String("video_id", "v1"))

	assert.False(t, child.DebugMode())
	l.SetDebugMode(true)
	assert.True(t, child.DebugMode())
	child.SetDebugMode(false)
	assert.False(t, l.DebugMode())
}

func TestSetNewNop(t *testing.T) {
	l := SetNewNop()
	assert.Same(t, l, Log)
	// nop logger 不應 panic
	l.With(zap.Int("attempt", 1)).Error("ignored")
}

func TestSetCore(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	SetCore(core)
	t.Cleanup(func() { SetNewNop() })

	Log.With(zap.String("job_id", "j1")).Warn("claim released")
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "claim released", entry.Message)
	assert.Equal(t, "j1", entry.ContextMap()["job_id"])
}
