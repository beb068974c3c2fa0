package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg := Load()
	assert.Equal(t, &Config{}, cfg)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg := &Config{
		Workdir:  "/mnt/share",
		Workdirs: map[string]string{"video": "/mnt/video"},
		Localdir: "/var/cache/quickdist",
		Tempdir:  "/mnt/staging",
	}
	require.NoError(t, cfg.Save())

	got := Load()
	assert.Equal(t, cfg, got)
}

func TestLoadPartialFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".quickdist")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "config.json"),
		[]byte(`{"tempdir": "/mnt/staging"}`),
		0o644,
	))

	cfg := Load()
	assert.Equal(t, "/mnt/staging", cfg.Tempdir)
	assert.Empty(t, cfg.Workdir)
	assert.Empty(t, cfg.Localdir)
}

func TestLoadMalformedFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".quickdist")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{broken"), 0o644))

	assert.Equal(t, &Config{}, Load())
}

func TestWorkdirFor(t *testing.T) {
	cfg := &Config{
		Workdir:  "/mnt/root",
		Workdirs: map[string]string{"video": "/mnt/video"},
	}

	assert.Equal(t, "/mnt/root", cfg.WorkdirFor(""))
	assert.Equal(t, "/mnt/video", cfg.WorkdirFor("video"))
	assert.Equal(t, "/mnt/video", cfg.WorkdirFor("VIDEO"))
	assert.Empty(t, cfg.WorkdirFor("audio"))
}
