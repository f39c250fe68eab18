package catalog

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"entryproc/pkg/types"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	cat, err := Open(path, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })
	return cat
}

func TestInsertThenGetRoundTrips(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()

	attrs := types.EntryAttributes{FullPath: "/data/a", Name: "a", Status: types.StatusNew}
	mask := types.AttrMask(0).Set(types.AttrFullPath).Set(types.AttrName).Set(types.AttrStatus)

	require.NoError(t, cat.Insert(ctx, 1, attrs, mask))

	got, gotMask, exists, err := cat.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, mask, gotMask)
	require.Equal(t, "/data/a", got.FullPath)
	require.Equal(t, types.StatusNew, got.Status)
}

func TestGetOnUnknownIDReturnsNotExists(t *testing.T) {
	cat := openTestCatalog(t)
	_, _, exists, err := cat.Get(context.Background(), 999)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestUpdateMergesOnlyMaskedFields(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, cat.Insert(ctx, 1, types.EntryAttributes{FullPath: "/data/a", Name: "a"},
		types.AttrMask(0).Set(types.AttrFullPath).Set(types.AttrName)))

	require.NoError(t, cat.Update(ctx, 1, types.EntryAttributes{Status: types.StatusModified},
		types.AttrMask(0).Set(types.AttrStatus)))

	got, mask, exists, err := cat.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, "/data/a", got.FullPath, "unmasked field from prior insert must survive")
	require.Equal(t, types.StatusModified, got.Status)
	require.True(t, mask.Test(types.AttrFullPath))
	require.True(t, mask.Test(types.AttrStatus))
}

func TestRemoveDeletesRow(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, cat.Insert(ctx, 1, types.EntryAttributes{}, 0))
	require.NoError(t, cat.Remove(ctx, 1))

	_, _, exists, err := cat.Get(ctx, 1)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestSoftRemoveHidesRowFromGet(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()
	deadline := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, cat.Insert(ctx, 1, types.EntryAttributes{FullPath: "/x"}, types.AttrMask(0).Set(types.AttrFullPath)))
	require.NoError(t, cat.SoftRemove(ctx, 1, "/x", deadline))

	_, _, exists, err := cat.Get(ctx, 1)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestSoftRemoveOnUnknownIDStillQueuesForRemoval(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()
	deadline := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, cat.SoftRemove(ctx, 42, "/gone", deadline))

	_, _, exists, err := cat.Get(ctx, 42)
	require.NoError(t, err)
	require.False(t, exists, "a soft-removed row is hidden from Get even when it was inserted fresh by SoftRemove")

	var r row
	require.NoError(t, cat.db.View(func(tx *bbolt.Tx) error {
		return json.Unmarshal(tx.Bucket(entriesBucket).Get(idKey(42)), &r)
	}))
	require.True(t, r.Removed)
	require.Equal(t, "/gone", r.RemovalPath)
	require.True(t, deadline.Equal(r.RemovalDeadline))
}

func TestMassSoftRemoveOnlyTouchesStaleEntries(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()

	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	stale := cutoff.Add(-time.Hour)
	fresh := cutoff.Add(time.Hour)

	require.NoError(t, cat.Insert(ctx, 1, types.EntryAttributes{MdUpdate: stale}, types.AttrMask(0).Set(types.AttrMdUpdate)))
	require.NoError(t, cat.Insert(ctx, 2, types.EntryAttributes{MdUpdate: fresh}, types.AttrMask(0).Set(types.AttrMdUpdate)))

	removed, err := cat.MassSoftRemove(ctx, cutoff)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, _, exists1, err := cat.Get(ctx, 1)
	require.NoError(t, err)
	require.False(t, exists1)

	_, _, exists2, err := cat.Get(ctx, 2)
	require.NoError(t, err)
	require.True(t, exists2)
}

func TestSetVarThenGetVar(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()

	_, ok, err := cat.GetVar(ctx, "LastScan")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cat.SetVar(ctx, "LastScan", "2026-07-31T00:00:00Z"))
	value, ok, err := cat.GetVar(ctx, "LastScan")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2026-07-31T00:00:00Z", value)
}

func TestForceCommitTogglesNoSync(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, cat.ForceCommit(ctx, true))
	require.False(t, cat.db.NoSync)

	require.NoError(t, cat.ForceCommit(ctx, false))
	require.True(t, cat.db.NoSync)
}

func TestCheckStripeReflectsMask(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, cat.Insert(ctx, 1, types.EntryAttributes{}, 0))
	known, err := cat.CheckStripe(ctx, 1)
	require.NoError(t, err)
	require.False(t, known)

	require.NoError(t, cat.Update(ctx, 1, types.EntryAttributes{StripeInfo: types.StripeInfo{StripeCount: 4}},
		types.AttrMask(0).Set(types.AttrStripeInfo)))
	known, err = cat.CheckStripe(ctx, 1)
	require.NoError(t, err)
	require.True(t, known)
}
