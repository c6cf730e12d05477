package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"cptrack/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	logger, closer, err := New(
		config.LoggingConfig{Level: "debug", Output: "file", FilePath: path},
		config.AppConfig{Name: "cptrack", Environment: "test", Version: "1.0.0"},
	)
	require.NoError(t, err)
	require.NotNil(t, closer)

	logger.Debug().Str("kind", "user-stats-sync").Msg("hello")
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(raw), &entry))
	assert.Equal(t, "cptrack", entry["app"])
	assert.Equal(t, "test", entry["env"])
	assert.Equal(t, "user-stats-sync", entry["kind"])
	assert.Equal(t, "debug", entry["level"])
}

func TestNewFileOutputRequiresPath(t *testing.T) {
	_, _, err := New(config.LoggingConfig{Output: "file"}, config.AppConfig{})
	assert.Error(t, err)
}

func TestNewDefaultsToInfo(t *testing.T) {
	logger, closer, err := New(config.LoggingConfig{Level: "nonsense"}, config.AppConfig{})
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)
	Component(&base, "syncqueue").Info().Msg("x")
	assert.Contains(t, buf.String(), `"component":"syncqueue"`)

	// nil parent must not panic
	Component(nil, "noop").Info().Msg("dropped")
}
