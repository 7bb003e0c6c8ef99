package applog

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWritesToOutputAndFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "faultkb.log")

	Init(Config{Level: "debug", Format: "text", Output: &buf, File: FileConfig{Path: path, MaxSizeMB: 1}})
	t.Cleanup(func() { Init(Config{Level: "info"}) })

	Info("[Test] Hello", "ticket_no", "T-1")
	Debugf("[Test] debug %d", 7)

	assert.Contains(t, buf.String(), "[Test] Hello")
	assert.Contains(t, buf.String(), "[Test] debug 7")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"[Test] Hello"`)
	assert.Contains(t, string(data), `"ticket_no":"T-1"`)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", Output: &buf})
	t.Cleanup(func() { Init(Config{Level: "info"}) })

	Info("[Test] hidden")
	Warn("[Test] shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
