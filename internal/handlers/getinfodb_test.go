package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entryproc/pkg/types"
)

type fakeCatalog struct {
	rows map[types.EntryId]fakeRow
}

type fakeRow struct {
	attrs types.EntryAttributes
	mask  types.AttrMask
}

func newFakeCatalog() *fakeCatalog { return &fakeCatalog{rows: map[types.EntryId]fakeRow{}} }

func (c *fakeCatalog) Get(_ context.Context, id types.EntryId) (types.EntryAttributes, types.AttrMask, bool, error) {
	row, ok := c.rows[id]
	return row.attrs, row.mask, ok, nil
}
func (c *fakeCatalog) CheckStripe(_ context.Context, id types.EntryId) (bool, error) {
	row, ok := c.rows[id]
	return ok && row.mask.Test(types.AttrStripeInfo), nil
}
func (c *fakeCatalog) Insert(_ context.Context, id types.EntryId, attrs types.EntryAttributes, mask types.AttrMask) error {
	c.rows[id] = fakeRow{attrs: attrs, mask: mask}
	return nil
}
func (c *fakeCatalog) Update(_ context.Context, id types.EntryId, attrs types.EntryAttributes, mask types.AttrMask) error {
	row := c.rows[id]
	row.mask = types.MergeAttrs(&row.attrs, row.mask, attrs, mask)
	c.rows[id] = row
	return nil
}
func (c *fakeCatalog) Remove(_ context.Context, id types.EntryId) error {
	delete(c.rows, id)
	return nil
}
func (c *fakeCatalog) SoftRemove(_ context.Context, id types.EntryId, _ string, _ time.Time) error {
	return nil
}
func (c *fakeCatalog) MassSoftRemove(context.Context, time.Time) (int, error) {
	return 0, nil
}
func (c *fakeCatalog) SetVar(context.Context, string, string) error        { return nil }
func (c *fakeCatalog) GetVar(context.Context, string) (string, bool, error) { return "", false, nil }
func (c *fakeCatalog) ForceCommit(context.Context, bool) error             { return nil }

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestGetInfoDBInsertOnCreateOfUnknownEntry(t *testing.T) {
	cat := newFakeCatalog()
	h := NewGetInfoDB(cat, discardLogger())

	op := &types.Operation{
		EntryId: 1,
		Source: types.Source{
			Kind:   types.SourceJournal,
			Record: types.JournalRecord{Type: types.RecordCreate, Index: 10},
		},
	}

	next, err := h.Handle(context.Background(), op)
	require.NoError(t, err)
	assert.Equal(t, types.StageGetInfoFS, next)
	assert.Equal(t, types.DbOpInsert, op.DbOp)
	assert.True(t, op.Plan.NeedAttr && op.Plan.NeedPath && op.Plan.NeedStripe)
	assert.False(t, op.Plan.NeedStatus, "a brand new entry is seeded as NEW, no HSM probe needed")
	assert.True(t, op.AttrMask.Test(types.AttrCreationTime))
	assert.Equal(t, types.StatusNew, op.EntryAttr.Status)
	assert.False(t, op.EntryAttr.NoArchive)
	assert.True(t, op.EntryAttr.LastArchive.IsZero())
}

func TestGetInfoDBCreateOnExistingEntryForcesFullRefetch(t *testing.T) {
	cat := newFakeCatalog()
	cat.rows[1] = fakeRow{attrs: types.EntryAttributes{FullPath: "/a"}, mask: types.AttrMask(0).Set(types.AttrFullPath)}
	h := NewGetInfoDB(cat, discardLogger())

	op := &types.Operation{
		EntryId: 1,
		Source: types.Source{
			Kind:   types.SourceJournal,
			Record: types.JournalRecord{Type: types.RecordCreate, Index: 11},
		},
	}

	next, err := h.Handle(context.Background(), op)
	require.NoError(t, err)
	assert.Equal(t, types.StageGetInfoFS, next)
	assert.True(t, op.Plan.NeedAttr && op.Plan.NeedPath && op.Plan.NeedStripe && op.Plan.NeedStatus)
}

func TestGetInfoDBUnlinkLastReferenceRemoves(t *testing.T) {
	cat := newFakeCatalog()
	cat.rows[1] = fakeRow{attrs: types.EntryAttributes{}, mask: types.AttrMask(0)}
	h := NewGetInfoDB(cat, discardLogger(), WithNoHSMRemove(true))

	op := &types.Operation{
		EntryId: 1,
		Source: types.Source{
			Kind: types.SourceJournal,
			Record: types.JournalRecord{
				Type:            types.RecordUnlink,
				UnlinkLastKnown: true,
				UnlinkLast:      true,
			},
		},
	}

	next, err := h.Handle(context.Background(), op)
	require.NoError(t, err)
	assert.Equal(t, types.StageDbApply, next)
	assert.Equal(t, types.DbOpRemove, op.DbOp)
}

func TestGetInfoDBUnlinkLastReferenceSoftRemovesUnderPolicy(t *testing.T) {
	cat := newFakeCatalog()
	cat.rows[1] = fakeRow{}
	h := NewGetInfoDB(cat, discardLogger(), WithNoHSMRemove(false))

	op := &types.Operation{
		EntryId: 1,
		Source: types.Source{
			Kind: types.SourceJournal,
			Record: types.JournalRecord{
				Type:            types.RecordUnlink,
				UnlinkLastKnown: true,
				UnlinkLast:      true,
			},
		},
	}

	_, err := h.Handle(context.Background(), op)
	require.NoError(t, err)
	assert.Equal(t, types.DbOpSoftRemove, op.DbOp)
}

func TestGetInfoDBUnlinkWithoutLastFlagFetchesAndMayInsert(t *testing.T) {
	cat := newFakeCatalog()
	h := NewGetInfoDB(cat, discardLogger())

	op := &types.Operation{
		EntryId: 9,
		Source: types.Source{
			Kind:   types.SourceJournal,
			Record: types.JournalRecord{Type: types.RecordUnlink, UnlinkLastKnown: false},
		},
	}

	next, err := h.Handle(context.Background(), op)
	require.NoError(t, err)
	assert.Equal(t, types.StageGetInfoFS, next)
	assert.Equal(t, types.DbOpInsert, op.DbOp)
	assert.True(t, op.Plan.Any())
}

func TestGetInfoDBUnlinkWithoutLastOnKnownEntryForcesPathAndStatus(t *testing.T) {
	cat := newFakeCatalog()
	cat.rows[1] = fakeRow{attrs: types.EntryAttributes{FullPath: "/x"}, mask: types.AttrMask(0).Set(types.AttrFullPath)}
	h := NewGetInfoDB(cat, discardLogger(), WithNoHSMRemove(false))

	op := &types.Operation{
		EntryId: 1,
		Source: types.Source{
			Kind: types.SourceJournal,
			Record: types.JournalRecord{
				Type:            types.RecordUnlink,
				UnlinkLastKnown: true,
				UnlinkLast:      false,
			},
		},
	}

	next, err := h.Handle(context.Background(), op)
	require.NoError(t, err)
	assert.Equal(t, types.StageGetInfoFS, next)
	assert.Equal(t, types.DbOpUpdate, op.DbOp)
	assert.True(t, op.Plan.NeedPath, "cached path may refer to the removed link")
	assert.True(t, op.Plan.NeedStatus, "HSM cleanup enabled: must check for an orphaned backend copy")
}

func TestGetInfoDBUnlinkWithoutLastSkipsStatusWhenHSMRemoveDisabled(t *testing.T) {
	cat := newFakeCatalog()
	cat.rows[1] = fakeRow{attrs: types.EntryAttributes{FullPath: "/x"}, mask: types.AttrMask(0).Set(types.AttrFullPath)}
	h := NewGetInfoDB(cat, discardLogger(), WithNoHSMRemove(true))

	op := &types.Operation{
		EntryId: 1,
		Source: types.Source{
			Kind: types.SourceJournal,
			Record: types.JournalRecord{
				Type:            types.RecordUnlink,
				UnlinkLastKnown: true,
				UnlinkLast:      false,
			},
		},
	}

	_, err := h.Handle(context.Background(), op)
	require.NoError(t, err)
	assert.True(t, op.Plan.NeedPath)
	assert.False(t, op.Plan.NeedStatus)
}

func TestGetInfoDBUpdateFetchesMissingStripeAndStatus(t *testing.T) {
	cat := newFakeCatalog()
	cat.rows[5] = fakeRow{
		attrs: types.EntryAttributes{Name: "report.csv"},
		mask:  types.AttrMask(0).Set(types.AttrName),
	}
	h := NewGetInfoDB(cat, discardLogger())

	op := &types.Operation{
		EntryId: 5,
		Source: types.Source{
			Kind:   types.SourceJournal,
			Record: types.JournalRecord{Type: types.RecordOther, Name: "report.csv"},
		},
	}

	next, err := h.Handle(context.Background(), op)
	require.NoError(t, err)
	assert.Equal(t, types.StageGetInfoFS, next)
	assert.True(t, op.Plan.NeedStripe, "stripe_info bit unset in the stored mask must force a refetch")
	assert.True(t, op.Plan.NeedStatus, "status bit unset in the stored mask must force a refetch")
}

func TestGetInfoDBUpdateSkipsFetchWhenStripeAndStatusAlreadyKnown(t *testing.T) {
	cat := newFakeCatalog()
	cat.rows[5] = fakeRow{
		attrs: types.EntryAttributes{Name: "report.csv", Status: types.StatusModified},
		mask:  types.AttrMask(0).Set(types.AttrName).Set(types.AttrStripeInfo).Set(types.AttrStatus),
	}
	h := NewGetInfoDB(cat, discardLogger())

	op := &types.Operation{
		EntryId: 5,
		Source: types.Source{
			Kind:   types.SourceJournal,
			Record: types.JournalRecord{Type: types.RecordOther, Name: "report.csv"},
		},
	}

	next, err := h.Handle(context.Background(), op)
	require.NoError(t, err)
	assert.Equal(t, types.StageDbApply, next, "nothing left to fetch skips GET_INFO_FS entirely")
	assert.False(t, op.Plan.NeedStripe)
	assert.False(t, op.Plan.NeedStatus)
}

func TestGetInfoDBUpdateForcesPathOnNameMismatch(t *testing.T) {
	cat := newFakeCatalog()
	cat.rows[5] = fakeRow{
		attrs: types.EntryAttributes{Name: "old.csv", Status: types.StatusModified},
		mask:  types.AttrMask(0).Set(types.AttrName).Set(types.AttrStripeInfo).Set(types.AttrStatus),
	}
	h := NewGetInfoDB(cat, discardLogger())

	op := &types.Operation{
		EntryId: 5,
		Source: types.Source{
			Kind:   types.SourceJournal,
			Record: types.JournalRecord{Type: types.RecordOther, Name: "new.csv"},
		},
	}

	next, err := h.Handle(context.Background(), op)
	require.NoError(t, err)
	assert.Equal(t, types.StageGetInfoFS, next)
	assert.True(t, op.Plan.NeedPath, "record name no longer matches the stored name")
}

func TestGetInfoDBScanUpdateConsultsCatalogForStripe(t *testing.T) {
	cat := newFakeCatalog()
	cat.rows[7] = fakeRow{
		attrs: types.EntryAttributes{FullPath: "/x/a"},
		mask:  types.AttrMask(0).Set(types.AttrFullPath).Set(types.AttrStripeInfo),
	}
	h := NewGetInfoDB(cat, discardLogger())

	op := &types.Operation{
		EntryId: 7,
		EntryAttr: types.EntryAttributes{FullPath: "/x/a"},
		AttrMask:  types.AttrMask(0).Set(types.AttrFullPath),
		AttrIsSet: true,
		Source:    types.Source{Kind: types.SourceScan},
	}

	next, err := h.Handle(context.Background(), op)
	require.NoError(t, err)
	assert.Equal(t, types.StageGetInfoFS, next)
	assert.False(t, op.Plan.NeedStripe, "catalog reports a stripe already recorded for this id")
	assert.True(t, op.Plan.NeedStatus)
	assert.False(t, op.Plan.NeedAttr)
	assert.False(t, op.Plan.NeedPath)
}

func TestGetInfoDBUnlinkOnUnknownEntryIsMoot(t *testing.T) {
	cat := newFakeCatalog()
	h := NewGetInfoDB(cat, discardLogger())

	op := &types.Operation{
		EntryId: 9,
		Source: types.Source{
			Kind: types.SourceJournal,
			Record: types.JournalRecord{
				Type:            types.RecordUnlink,
				UnlinkLastKnown: true,
				UnlinkLast:      true,
			},
		},
	}

	next, err := h.Handle(context.Background(), op)
	require.NoError(t, err)
	assert.Equal(t, types.StageJournalAck, next)
	assert.Equal(t, types.DbOpNone, op.DbOp)
}
