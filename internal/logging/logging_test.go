package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevels(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Console: &buf})
	log.Debug("hidden")
	log.Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	log = New(Options{Console: &buf, Debug: true})
	log.Debug("verbose")
	assert.Contains(t, buf.String(), "verbose")
}

func TestNewFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	var buf bytes.Buffer
	log := New(Options{Console: &buf, LogFile: path})
	log.Info("to file")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "to file", entry["message"])
	assert.Equal(t, "INFO", entry["level"])
}
