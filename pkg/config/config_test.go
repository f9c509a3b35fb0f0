package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

const baseIndexerYaml = `warc_source:
  kind: Local
  local:
    folder: /data/warcs
output_path: /srv/index
batch_size: 64
`

func TestLoadIndexerReadsBaseConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "indexer.yaml", baseIndexerYaml)
	t.Setenv("NEOS_ENV", "")

	cfg, err := LoadIndexer([]string{dir})
	require.NoError(t, err)
	require.Equal(t, WarcSourceLocal, cfg.WarcSource.Kind)
	require.Equal(t, "/data/warcs", cfg.WarcSource.Local.Folder)
	require.Equal(t, "/srv/index", cfg.OutputPath)
	require.Equal(t, 64, cfg.BatchSize)

	// Fields the file leaves out keep their stock defaults.
	require.Equal(t, 100_000, cfg.AutocommitAfterNumInserts)
	require.Equal(t, 10, cfg.MinimumCleanWords)
}

func TestLoadIndexerAppliesEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "indexer.yaml", baseIndexerYaml)
	writeConfig(t, dir, "staging.yaml", "output_path: /srv/index-staging\n")
	t.Setenv("NEOS_ENV", "staging")

	cfg, err := LoadIndexer([]string{dir})
	require.NoError(t, err)
	require.Equal(t, "/srv/index-staging", cfg.OutputPath, "overlay wins for keys it sets")
	require.Equal(t, 64, cfg.BatchSize, "base values survive the merge")
}

func TestLoadDhtMissingConfigFails(t *testing.T) {
	t.Setenv("NEOS_ENV", "")
	_, err := LoadDht([]string{t.TempDir()})
	require.Error(t, err)
}
