package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shepherd-project/corral/internal/config"
)

func TestNewLogger(t *testing.T) {
	t.Run("Initialize with stdout output", func(t *testing.T) {
		logger, err := NewLogger(&config.LogConfig{Level: "debug", Format: "json", Output: "stdout"}, "test")
		require.NoError(t, err)
		assert.Equal(t, DEBUG, logger.level)
		assert.Nil(t, logger.fileWriter)
	})

	t.Run("Initialize with file output", func(t *testing.T) {
		tmpDir := t.TempDir()
		logger, err := NewLogger(&config.LogConfig{
			Level:      "info",
			Format:     "text",
			Output:     "file",
			Directory:  tmpDir,
			MaxSize:    1,
			MaxBackups: 2,
			MaxAge:     1,
		}, "test")
		require.NoError(t, err)

		logger.Info("test message")
		require.NoError(t, logger.Close())

		content, err := os.ReadFile(filepath.Join(tmpDir, "corral-test.log"))
		require.NoError(t, err)
		assert.Contains(t, string(content), "test message")
	})

	t.Run("Invalid log level defaults to info", func(t *testing.T) {
		logger, err := NewLogger(&config.LogConfig{Level: "invalid", Output: "stdout"}, "test")
		require.NoError(t, err)
		assert.Equal(t, INFO, logger.level)
	})
}

func TestLogLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, "warn", false)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Errorf("error %s", "message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "WARN warn message")
	assert.Contains(t, out, "ERROR error message")
}

func TestLogJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, "info", true)

	logger.WithField("service", "echo").WithError(errors.New("boom")).Info(`quoted "msg"`)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, `quoted "msg"`, entry["msg"])
	assert.Equal(t, "echo", entry["service"])
	assert.Equal(t, "boom", entry["error"])
}

func TestLogTextFieldsAreSorted(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, "info", false)

	logger.WithFields(map[string]interface{}{"zeta": 1, "alpha": 2}).Infof("deployed %d", 3)

	line := buf.String()
	assert.Contains(t, line, "INFO deployed 3 alpha=2 zeta=1")
}
