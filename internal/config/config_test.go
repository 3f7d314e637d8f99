package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prompt-morph/internal/morph"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "backend: comfyui\n"))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8188", cfg.ComfyUI.BaseURL)
	assert.Equal(t, 5*time.Minute, cfg.ComfyUI.Timeout)
	assert.Equal(t, "direct", cfg.Morph.Mode)
	assert.Equal(t, 25, cfg.Morph.Steps)
	assert.Equal(t, int64(-1), cfg.Generation.Seed)
	assert.Equal(t, 10.0, cfg.Video.FPS)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
backend: sdapi
sdapi:
  base_url: http://gpu:7860
morph:
  mode: derived
  steps: 12
  gradual_cfg: true
telegram:
  bot_token: abc
  allowed_users: [1, 2]
`)
	t.Setenv("PROMPT_MORPH_MORPH_STEPS", "40")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendSDAPI, cfg.Backend)
	assert.Equal(t, "http://gpu:7860", cfg.SDAPI.BaseURL)
	assert.Equal(t, "derived", cfg.Morph.Mode)
	assert.Equal(t, 40, cfg.Morph.Steps)
	assert.True(t, cfg.Morph.GradualCFG)
	assert.Equal(t, []int64{1, 2}, cfg.Telegram.AllowedUsers)
	assert.NoError(t, cfg.ValidateTelegram())
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_RejectsBadMorphDefaults(t *testing.T) {
	_, err := Load(writeConfig(t, "morph:\n  steps: 1\n"))
	assert.ErrorContains(t, err, "steps")
}

func TestRead_DefersValidation(t *testing.T) {
	cfg, err := Read(writeConfig(t, "morph:\n  steps: 1\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Morph.Steps)
	assert.Error(t, cfg.Validate())

	cfg.Morph.Steps = 10
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cfg, err := Load(writeConfig(t, "backend: comfyui\n"))
	require.NoError(t, err)

	bad := *cfg
	bad.Backend = "dalle"
	assert.ErrorContains(t, bad.Validate(), "backend")

	bad = *cfg
	bad.Output.JPEGQuality = 0
	assert.Error(t, bad.Validate())

	assert.ErrorContains(t, cfg.ValidateTelegram(), "bot_token")
}

func TestMorphOptions(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
generation:
  cfg_scale: 9
  seed: 77
morph:
  mode: derived
  source: segment-start
  curve: "t*t"
video:
  enabled: true
  fps: 24
`))
	require.NoError(t, err)

	opts := cfg.MorphOptions()
	assert.Equal(t, "derived", opts.Mode)
	assert.Equal(t, int64(77), opts.Seed)
	assert.Equal(t, morph.SourceSegmentStart, opts.Source)
	assert.Equal(t, "t*t", opts.Curve)
	assert.True(t, opts.Video)
	assert.Equal(t, 24.0, opts.FPS)
	assert.Equal(t, 9.0, opts.Generation.CFGScale)
	assert.Equal(t, 512, opts.Generation.Width)
}
