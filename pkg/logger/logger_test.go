package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithFieldsBeforeInit(t *testing.T) {
	log = nil
	entry := WithFields(map[string]interface{}{"signal": "bogus"})
	require.NotNil(t, entry)
	assert.Equal(t, "bogus", entry.Data["signal"])
}

func TestInitLevelAndFormat(t *testing.T) {
	require.NoError(t, Init("warn", "json"))
	var buf bytes.Buffer
	SetOutput(&buf)

	Info("hidden")
	Warnf("shown %d", 1)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown 1"`)
}

func TestInitWithFileRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.log")
	require.NoError(t, InitWithOptions(Options{
		Level:      "debug",
		Format:     "text",
		File:       path,
		MaxSizeMB:  1,
		MaxBackups: 1,
		MaxAgeDays: 1,
	}))

	Debugf("panel mode %s", "question")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "panel mode question")
}
