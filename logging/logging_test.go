package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSinkFor(t *testing.T) {
	assert.IsType(t, StdoutWriter{}, SinkFor("stdout"))
	assert.IsType(t, StderrWriter{}, SinkFor("STDERR"))
	assert.IsType(t, FileWriter{}, SinkFor("/var/log/app.log"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelError, ParseLevel("Error"))
	assert.Equal(t, LevelInfo, ParseLevel("info"))
	assert.Equal(t, LevelInfo, ParseLevel("typo-level"))
}

func TestBuild_FileSinkWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "access.log")

	logger, err := Build(FileWriter{Path: path}, LevelInfo)
	require.NoError(t, err)

	logger.Info("request served", zap.String("host", "example.com"), zap.Int("status", 200))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "request served")
	assert.Contains(t, string(data), "example.com")
}

func TestBuild_LevelGatesLowerSeverity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "errors.log")

	logger, err := Build(FileWriter{Path: path}, LevelError)
	require.NoError(t, err)

	logger.Info("should be dropped")
	logger.Error("should appear")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "should be dropped")
	assert.Contains(t, string(data), "should appear")
}
