package handlers

import (
	"context"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"entryproc/pkg/types"
)

// GetInfoDB reconciles an operation against the catalog: it decides
// whether the entry is new, updated, or removed, and computes the
// FetchPlan that tells GET_INFO_FS what still needs probing. This stage
// runs under ID_CONSTRAINT so the decision it makes for one EntryId is
// never racing another decision for the same id.
type GetInfoDB struct {
	catalog             types.Catalog
	logger              *logrus.Logger
	noHSMRemove         bool          // policy: HSM-side cleanup disabled, so last unlink deletes the row outright
	deferredRemoveDelay time.Duration // added to record.time for a SOFT_REMOVE deadline
}

type GetInfoDBOption func(*GetInfoDB)

// WithNoHSMRemove configures whether HSM-side cleanup is disabled. When it
// is, a last-reference UNLINK deletes the catalog row outright; otherwise
// the row is soft-removed (kept, marked removed, with a removal deadline)
// so a backend cleanup pass can act on it.
func WithNoHSMRemove(enabled bool) GetInfoDBOption {
	return func(g *GetInfoDB) { g.noHSMRemove = enabled }
}

// WithDeferredRemoveDelay sets how far past a SOFT_REMOVE's record time the
// deferred-removal deadline is placed.
func WithDeferredRemoveDelay(d time.Duration) GetInfoDBOption {
	return func(g *GetInfoDB) { g.deferredRemoveDelay = d }
}

func NewGetInfoDB(catalog types.Catalog, logger *logrus.Logger, opts ...GetInfoDBOption) *GetInfoDB {
	g := &GetInfoDB{catalog: catalog, logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (h *GetInfoDB) Handle(ctx context.Context, op *types.Operation) (types.StageID, error) {
	attrs, mask, exists, err := h.catalog.Get(ctx, op.EntryId)
	if err != nil {
		// A catalog outage must not stall journal consumption: log and
		// acknowledge anyway rather than requeue indefinitely. The
		// next scan pass (or journal redelivery, for sources that
		// offer it) will pick the entry back up.
		h.logger.WithFields(logrus.Fields{
			"entry_id": op.EntryId,
			"error":    err,
		}).Error("catalog lookup failed; acknowledging anyway")
		op.DbOp = types.DbOpNone
		return types.StageJournalAck, nil
	}
	op.DbExists = boolToTri(exists)

	if exists {
		op.AttrMask = types.MergeAttrs(&op.EntryAttr, op.AttrMask, attrs, mask)
		op.AttrIsSet = true
	}

	if op.Source.Kind == types.SourceScan {
		h.planForScan(ctx, op, exists)
		return types.StageGetInfoFS, nil
	}
	return h.planForJournal(ctx, op, exists)
}

func (h *GetInfoDB) planForScan(ctx context.Context, op *types.Operation, exists bool) {
	if !exists {
		op.DbOp = types.DbOpInsert
		op.Plan = types.FetchPlan{NeedAttr: true, NeedPath: true, NeedStripe: true, NeedStatus: true}
		return
	}
	op.DbOp = types.DbOpUpdate
	op.Plan = types.FetchPlan{
		NeedAttr:   false,
		NeedPath:   false,
		NeedStripe: !h.hasStripe(ctx, op.EntryId),
		NeedStatus: true,
	}
}

// hasStripe asks the catalog whether id already carries stripe info,
// rather than trusting the mask this lookup happened to merge in — the
// catalog is the authority GET_INFO_DB defers to for this decision. A
// catalog error is treated conservatively: assume no stripe is known, so
// the worst case is a redundant refetch, not a silently stale one.
func (h *GetInfoDB) hasStripe(ctx context.Context, id types.EntryId) bool {
	known, err := h.catalog.CheckStripe(ctx, id)
	if err != nil {
		h.logger.WithFields(logrus.Fields{"entry_id": id, "error": err}).Error("stripe check failed; assuming stripe unknown")
		return false
	}
	return known
}

func (h *GetInfoDB) planForJournal(ctx context.Context, op *types.Operation, exists bool) (types.StageID, error) {
	rec := op.Source.Record

	switch rec.Type {
	case types.RecordCreate:
		return h.planCreate(op, exists), nil

	case types.RecordUnlink:
		return h.planUnlink(op, exists), nil

	default:
		if !exists {
			// A metadata-change record for an id the catalog has never
			// seen: fall through to the same "fetch and possibly
			// insert" treatment as an unknown UNLINK (see
			// planUnlink/decided Open Question) rather than discard
			// the event.
			op.DbOp = types.DbOpInsert
			op.EntryAttr.CreationTime = rec.Time
			op.AttrMask = op.AttrMask.Set(types.AttrCreationTime)
			op.Plan = types.FetchPlan{NeedAttr: true, NeedPath: true, NeedStripe: true, NeedStatus: true}
			return types.StageGetInfoFS, nil
		}

		op.DbOp = types.DbOpUpdate
		op.Plan = types.FetchPlan{
			NeedAttr:   rec.Type.ImpliesMetadataChange(),
			NeedPath:   rec.Type == types.RecordRenameExt || h.nameStale(op, rec),
			NeedStripe: !op.AttrMask.Test(types.AttrStripeInfo),
			NeedStatus: !op.AttrMask.Test(types.AttrStatus),
		}
		if !op.Plan.Any() {
			// Nothing to refetch and the row already exists: route
			// straight past GET_INFO_FS since there is no probe work.
			return types.StageDbApply, nil
		}
		return types.StageGetInfoFS, nil
	}
}

// nameStale compares the record's name against the entry's cached name
// (or, failing that, the basename of its cached full path). A mismatch
// means the file was renamed since the row was last refreshed, so the
// path needs refetching even though the record itself isn't RENAME_EXT.
func (h *GetInfoDB) nameStale(op *types.Operation, rec types.JournalRecord) bool {
	if rec.Name == "" {
		return false
	}
	switch {
	case op.AttrMask.Test(types.AttrName):
		return op.EntryAttr.Name != rec.Name
	case op.AttrMask.Test(types.AttrFullPath):
		return filepath.Base(op.EntryAttr.FullPath) != rec.Name
	default:
		return false
	}
}

func (h *GetInfoDB) planCreate(op *types.Operation, exists bool) types.StageID {
	rec := op.Source.Record
	op.EntryAttr.CreationTime = rec.Time
	op.AttrMask = op.AttrMask.Set(types.AttrCreationTime)

	if exists {
		// The entry already has a row: a CREATE for a known id means
		// the underlying filesystem was reformatted or the id was
		// reused. Force a full refetch rather than trust any cached
		// field.
		h.logger.WithField("entry_id", op.EntryId).Warn("CREATE record for an entry already in the catalog; forcing full refetch")
		op.DbOp = types.DbOpUpdate
		op.Plan = types.FetchPlan{NeedAttr: true, NeedPath: true, NeedStripe: true, NeedStatus: true}
		return types.StageGetInfoFS
	}

	// New entry: seed it as fresh and unarchived so the round trip holds
	// even if the HSM status probe is slow or fails later.
	op.DbOp = types.DbOpInsert
	op.EntryAttr.Status = types.StatusNew
	op.EntryAttr.NoArchive = false
	op.EntryAttr.LastArchive = time.Time{}
	op.AttrMask = op.AttrMask.Set(types.AttrStatus).Set(types.AttrNoArchive).Set(types.AttrLastArchive)
	op.Plan = types.FetchPlan{NeedAttr: true, NeedPath: true, NeedStripe: true, NeedStatus: false}
	return types.StageGetInfoFS
}

func (h *GetInfoDB) planUnlink(op *types.Operation, exists bool) types.StageID {
	rec := op.Source.Record

	if !rec.UnlinkLastKnown {
		// The journal source can't tell us whether this was the file's
		// last reference. Decided (Open Question): treat it like an
		// unknown-state event rather than guess — fetch and possibly
		// insert, letting GET_INFO_FS's ENOENT/ESTALE handling resolve
		// it if the path is in fact gone.
		op.DbOp = types.DbOpInsert
		op.Plan = types.FetchPlan{NeedAttr: true, NeedPath: true, NeedStripe: true, NeedStatus: true}
		return types.StageGetInfoFS
	}

	if !exists {
		// Nothing in the catalog to remove; this record is already
		// moot from the catalog's point of view.
		op.DbOp = types.DbOpNone
		return types.StageJournalAck
	}

	if !rec.UnlinkLast {
		// Known entry, not the last link: the cached path may be the
		// one just removed, so force a refetch; also refresh status
		// when HSM-side cleanup is enabled, to catch an orphaned
		// backend copy.
		op.DbOp = types.DbOpUpdate
		op.Plan = types.FetchPlan{NeedAttr: true, NeedPath: true, NeedStatus: !h.noHSMRemove}
		return types.StageGetInfoFS
	}

	if h.noHSMRemove {
		op.DbOp = types.DbOpRemove
	} else {
		op.DbOp = types.DbOpSoftRemove
		op.RemovalDeadline = rec.Time.Add(h.deferredRemoveDelay)
	}
	return types.StageDbApply
}

func boolToTri(b bool) types.Tri {
	if b {
		return types.TriTrue
	}
	return types.TriFalse
}
