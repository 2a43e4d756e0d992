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

func TestInitWritesRotatedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Init(LogOption{Format: "json", LogDir: dir, Level: "debug"}))
	defer Set(zap.NewNop())

	Infof("[Test] batch %d flushed", 7)
	Sync()

	data, err := os.ReadFile(filepath.Join(dir, logFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "[Test] batch 7 flushed")
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	assert.Error(t, Init(LogOption{Level: "loud"}))
}

func TestSetRoutesPackageLevelCalls(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	Set(zap.New(core))
	defer Set(zap.NewNop())

	Debugf("a=%d", 1)
	Warnf("b=%d", 2)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "a=1", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
}
