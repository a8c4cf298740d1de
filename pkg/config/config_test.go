package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2.0, cfg.Oversampling)
	assert.Equal(t, 0.0, cfg.Decimation)
	assert.Equal(t, 64, cfg.MeshCells)
	assert.Empty(t, cfg.DBPath)
	assert.Equal(t, 30*time.Second, cfg.EvalTimeout)
	lvl, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CONTOUR_OVERSAMPLING", "4")
	t.Setenv("CONTOUR_DB_PATH", "/tmp/contours.db")
	t.Setenv("CONTOUR_LOG_LEVEL", "debug")
	t.Setenv("CONTOUR_EVAL_TIMEOUT", "5s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4.0, cfg.Oversampling)
	assert.Equal(t, "/tmp/contours.db", cfg.DBPath)
	assert.Equal(t, 5*time.Second, cfg.EvalTimeout)
	lvl, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
}

func TestLoadRejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"oversampling", "CONTOUR_OVERSAMPLING", "200"},
		{"decimation", "CONTOUR_DECIMATION", "1"},
		{"mesh cells", "CONTOUR_MESH_CELLS", "1"},
		{"log level", "CONTOUR_LOG_LEVEL", "loud"},
		{"not a number", "CONTOUR_OVERSAMPLING", "two"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
