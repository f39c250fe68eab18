package fsprobe

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entryproc/pkg/xerrors"
)

func TestPathToIDThenIDToPathRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	probe := New()
	id, err := probe.PathToID(context.Background(), path)
	require.NoError(t, err)

	got, err := probe.IDToPath(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestIDToPathUnknownIsMissing(t *testing.T) {
	probe := New()
	_, err := probe.IDToPath(context.Background(), 12345)
	require.Error(t, err)
	assert.True(t, xerrors.Is(err, xerrors.KindMissing))
}

func TestPathToIDOnMissingFileIsMissing(t *testing.T) {
	probe := New()
	_, err := probe.PathToID(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.True(t, xerrors.Is(err, xerrors.KindMissing))
}

func TestLstatReportsRegularFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	probe := New()
	id, err := probe.PathToID(context.Background(), path)
	require.NoError(t, err)

	stat, err := probe.Lstat(context.Background(), id, path)
	require.NoError(t, err)
	assert.True(t, stat.IsRegularFile)
	assert.False(t, stat.MdUpdate.IsZero())
}

func TestLstatReportsNonRegularFileForDirectory(t *testing.T) {
	dir := t.TempDir()
	probe := New()
	id, err := probe.PathToID(context.Background(), dir)
	require.NoError(t, err)

	stat, err := probe.Lstat(context.Background(), id, dir)
	require.NoError(t, err)
	assert.False(t, stat.IsRegularFile)
}

func TestGetStripeReturnsSingleStripeSizedToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("12345"), 0o644))

	probe := New()
	id, err := probe.PathToID(context.Background(), path)
	require.NoError(t, err)

	info, items, err := probe.GetStripe(context.Background(), id, path)
	require.NoError(t, err)
	assert.Equal(t, 1, info.StripeCount)
	assert.EqualValues(t, 5, info.StripeSize)
	assert.Equal(t, []string{path}, items)
}

func TestGetHSMStatusIsNewForUntouchedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	probe := New()
	id, err := probe.PathToID(context.Background(), path)
	require.NoError(t, err)

	status, err := probe.GetHSMStatus(context.Background(), id, path)
	require.NoError(t, err)
	assert.Equal(t, "NEW", status.String())
}

func TestGetHSMStatusIsModifiedAfterLaterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	probe := New()
	probe.modifiedWindow = 0
	id, err := probe.PathToID(context.Background(), path)
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("xy"), 0o644))

	status, err := probe.GetHSMStatus(context.Background(), id, path)
	require.NoError(t, err)
	assert.Equal(t, "MODIFIED", status.String())
}

func TestRegisterPathSeedsCacheWithoutAProbe(t *testing.T) {
	probe := New()
	probe.RegisterPath(99, "/some/path")

	got, err := probe.IDToPath(context.Background(), 99)
	require.NoError(t, err)
	assert.Equal(t, "/some/path", got)
}
