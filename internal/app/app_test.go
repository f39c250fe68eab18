package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entryproc/internal/scanner"
)

func writeConfig(t *testing.T, dir string) string {
	t.Helper()

	catalogPath := filepath.Join(dir, "catalog.db")
	journalDir := filepath.Join(dir, "journal")
	alertPath := filepath.Join(dir, "alerts.log")
	scanRoot := filepath.Join(dir, "scan")
	require.NoError(t, os.Mkdir(journalDir, 0o755))
	require.NoError(t, os.Mkdir(scanRoot, 0o755))

	content := `
app:
  name: "entryproc-test"
  log_level: "error"
  log_format: "json"

server:
  enabled: false

metrics:
  enabled: false

catalog:
  path: "` + catalogPath + `"

journal:
  source: "tail"
  tail:
    dir: "` + journalDir + `"

scanner:
  root: "` + scanRoot + `"
  interval: "1h"

alerting:
  sink: "local"
  local:
    path: "` + alertPath + `"
`

	configFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0o644))
	return configFile
}

func TestNewBuildsEveryComponent(t *testing.T) {
	dir := t.TempDir()
	configFile := writeConfig(t, dir)

	a, err := New(configFile)
	require.NoError(t, err)
	require.NotNil(t, a)
	defer a.catalog.Close()

	assert.Equal(t, "entryproc-test", a.cfg.App.Name)
	assert.NotNil(t, a.catalog)
	assert.NotNil(t, a.probe)
	assert.NotNil(t, a.journal)
	assert.NotNil(t, a.emitter)
	assert.NotNil(t, a.breaker)
	assert.NotNil(t, a.scheduler)
	assert.NotNil(t, a.scanner)
	assert.NotNil(t, a.tracer)
	assert.Nil(t, a.metricsServer)
	assert.Nil(t, a.adminServer)
}

func TestNewRejectsMissingConfigFile(t *testing.T) {
	a, err := New(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
	assert.Nil(t, a)
}

func TestStartStopDrainsAScanPass(t *testing.T) {
	dir := t.TempDir()
	configFile := writeConfig(t, dir)

	a, err := New(configFile)
	require.NoError(t, err)

	scanRoot := a.cfg.Scanner.Root
	require.NoError(t, os.WriteFile(filepath.Join(scanRoot, "entry.txt"), []byte("x"), 0o644))
	a.scanner = scanner.New(scanner.Config{
		Root:     scanRoot,
		Interval: 10 * time.Millisecond,
		OnPassComplete: func(time.Time) {
			_ = a.scheduler.RunScanSweep(a.ctx)
		},
	}, a.logger)

	require.NoError(t, a.Start())

	require.Eventually(t, func() bool {
		return !a.scanner.LastPassStart().IsZero()
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.Stop())
}
