package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestScannerFindsRegularFilesNotDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("y"), 0o644))

	s := New(Config{Root: dir, Interval: time.Hour}, discardLogger())

	var found []string
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.runPass(ctx, func(path string) { found = append(found, path) })

	assert.Len(t, found, 2)
}

func TestScannerRecordsLastPassStart(t *testing.T) {
	dir := t.TempDir()
	s := New(Config{Root: dir, Interval: time.Hour}, discardLogger())
	assert.True(t, s.LastPassStart().IsZero())

	s.runPass(context.Background(), func(string) {})
	assert.False(t, s.LastPassStart().IsZero())
}

func TestScannerOnPassCompleteFiresAfterWalk(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))

	var completed time.Time
	s := New(Config{
		Root:           dir,
		Interval:       time.Hour,
		OnPassComplete: func(passStart time.Time) { completed = passStart },
	}, discardLogger())

	s.runPass(context.Background(), func(string) {})
	assert.False(t, completed.IsZero())
	assert.Equal(t, s.LastPassStart(), completed)
}

func TestScannerStartRunsPeriodically(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))

	s := New(Config{Root: dir, Interval: 10 * time.Millisecond}, discardLogger())

	hits := make(chan string, 16)
	require.NoError(t, s.Start(context.Background(), func(path string) { hits <- path }))
	defer s.Stop()

	select {
	case <-hits:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for scan pass")
	}
}
