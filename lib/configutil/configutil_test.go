package configutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	URL     string `json:"url"`
	Retries int    `json:"retries"`
}

func TestReadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.json5")
	require.NoError(t, os.WriteFile(path, []byte(`{url: "https://example.org", retries: 3}`), 0o644))

	cfg, err := ReadConfig[testConfig](path)
	require.NoError(t, err)
	require.Equal(t, "https://example.org", cfg.URL)
	require.Equal(t, 3, cfg.Retries)
}

func TestReadConfigLocalOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "app.json5"),
		[]byte(`{url: "https://example.org", retries: 3}`), 0o644))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "app.local.json5"),
		[]byte(`{url: "http://localhost:8080"}`), 0o644))

	cfg, err := ReadConfig[testConfig](filepath.Join(dir, "app.json5"))
	require.NoError(t, err)
	// local value wins, unset fields keep the default file's values
	require.Equal(t, "http://localhost:8080", cfg.URL)
	require.Equal(t, 3, cfg.Retries)
}

func TestReadConfigLocalOnly(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "app.local.json5"),
		[]byte(`{retries: 5}`), 0o644))

	cfg, err := ReadConfig[testConfig](filepath.Join(dir, "app.json5"))
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Retries)
}

func TestReadConfigMissing(t *testing.T) {
	_, err := ReadConfig[testConfig](filepath.Join(t.TempDir(), "app.json5"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
