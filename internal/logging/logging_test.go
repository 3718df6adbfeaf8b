package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
		err  bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"INFO", zapcore.InfoLevel, false},
		{"", zapcore.InfoLevel, false},
		{"warning", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"verbose", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestSetDefaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	assert.Equal(t, DefaultLevel, cfg.Level)
	assert.Equal(t, DefaultFormat, cfg.Format)
	assert.Equal(t, []string{"stderr"}, cfg.OutputPaths)
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	logger, err := New(Config{Level: "debug", Format: "console", OutputPaths: []string{path}})
	require.NoError(t, err)
	logger.Debug("hello")
	_ = logger.Sync()
	assert.FileExists(t, path)
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(Config{Format: "xml"})
	assert.Error(t, err)

	_, err = New(Config{Level: "loud"})
	assert.Error(t, err)
}

// readJSONLines decodes every line of a JSON log file.
func readJSONLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestStacktraceLevels(t *testing.T) {
	tests := []struct {
		name        string
		development bool
		key         string
		warnStack   bool
	}{
		{"production", false, "stacktrace", false},
		{"development", true, "S", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "run.log")
			logger, err := New(Config{Development: tt.development, OutputPaths: []string{path}})
			require.NoError(t, err)
			logger.Warn("slow target")
			logger.Error("browser gone")
			_ = logger.Sync()

			lines := readJSONLines(t, path)
			require.Len(t, lines, 2)
			_, warnHas := lines[0][tt.key]
			_, errHas := lines[1][tt.key]
			assert.Equal(t, tt.warnStack, warnHas, "stack trace on warn")
			assert.True(t, errHas, "stack trace on error")
		})
	}
}
