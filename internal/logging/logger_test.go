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

func TestNewWithWriterRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, INFO)

	l.Debug("hidden %d", 1)
	l.Info("shown %s", "here")
	l.With("submission", "abc").Warn("careful")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "INFO", first["level"])
	assert.Equal(t, "shown here", first["msg"])

	var second map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "abc", second["submission"])

	buf.Reset()
	l.SetLevel(DEBUG)
	l.Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestRotatingFileRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, defaultLogFile)
	r := &rotatingFile{path: path, maxSize: 64}
	require.NoError(t, r.open())
	defer r.Close()

	_, err := r.Write(bytes.Repeat([]byte("a"), 60))
	require.NoError(t, err)
	_, err = r.Write(bytes.Repeat([]byte("b"), 10))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "current file plus one rotated file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("b", 10), string(data))
}
