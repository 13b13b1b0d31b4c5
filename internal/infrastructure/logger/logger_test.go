package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"console to stdout", &Config{Level: "info", Format: "console", Output: "stdout"}},
		{"json to stderr", &Config{Level: "debug", Format: "json", Output: "stderr"}},
		{"default output", &Config{Level: "warn"}},
		{"with service name", &Config{Level: "info", Format: "json", Output: "stdout", Service: "syncd"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			require.NoError(t, err)
			assert.NotNil(t, l)
			assert.Equal(t, DefaultTimeFormat, tt.cfg.TimeFormat)
		})
	}
}

func TestNew_KeepsTimeFormat(t *testing.T) {
	cfg := &Config{Output: "stderr", TimeFormat: "2006-01-02 15:04:05"}
	_, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, "2006-01-02 15:04:05", cfg.TimeFormat)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		" warn ":  zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"bogus":   zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.log")
	l, err := New(&Config{Level: "info", Format: "json", Output: path, Service: "syncd"})
	require.NoError(t, err)

	l.Info("stage completed")
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "stage completed")
	assert.Contains(t, string(data), `"service":"syncd"`)
}

func TestNew_UnwritableOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "dir", "sync.log")
	_, err := New(&Config{Output: path})
	assert.Error(t, err)
}
