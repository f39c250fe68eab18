package handlers

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"entryproc/pkg/types"
	"entryproc/pkg/xerrors"
)

// GetInfoFS executes the FetchPlan GET_INFO_DB computed: it resolves the
// path (if needed), stats the file, and retrieves stripe/status
// information, folding every successful probe into the operation's
// attributes. It also applies the filesystem-derived short circuits: a
// non-regular file never gets a catalog row, STATUS_RELEASED forces a
// removal instead of an update, and STATUS_NO_FLAGS clears the
// archive/restore timestamps that no longer apply.
type GetInfoFS struct {
	probe   types.FSProbe
	matcher types.PolicyMatcher
	report  func(*types.Operation)
	logger  *logrus.Logger
}

func NewGetInfoFS(probe types.FSProbe, matcher types.PolicyMatcher, report func(*types.Operation), logger *logrus.Logger) *GetInfoFS {
	return &GetInfoFS{probe: probe, matcher: matcher, report: report, logger: logger}
}

func (h *GetInfoFS) Handle(ctx context.Context, op *types.Operation) (types.StageID, error) {
	if !op.Plan.Any() {
		return types.StageDbApply, nil
	}

	path := op.EntryAttr.FullPath
	if op.Plan.NeedPath || path == "" {
		p, err := h.probe.IDToPath(ctx, op.EntryId)
		if err != nil {
			return h.handleProbeError(op, err)
		}
		path = p
		op.EntryAttr.FullPath = path
		op.AttrMask = op.AttrMask.Set(types.AttrFullPath)
	}

	if op.Plan.NeedAttr {
		stat, err := h.probe.Lstat(ctx, op.EntryId, path)
		if err != nil {
			return h.handleProbeError(op, err)
		}
		if !stat.IsRegularFile {
			// Non-regular files (directories, symlinks, devices) are
			// never cataloged for HSM purposes: acknowledge without
			// any DB_APPLY mutation.
			op.DbOp = types.DbOpNone
			return types.StageJournalAck, nil
		}
		op.EntryAttr.MdUpdate = stat.MdUpdate
		op.AttrMask = op.AttrMask.Set(types.AttrMdUpdate)
		if !op.AttrMask.Test(types.AttrCreationTime) {
			op.EntryAttr.CreationTime = stat.CreationTime
			op.AttrMask = op.AttrMask.Set(types.AttrCreationTime)
		}
	}

	if op.Plan.NeedStripe {
		info, items, err := h.probe.GetStripe(ctx, op.EntryId, path)
		if err != nil {
			return h.handleProbeError(op, err)
		}
		op.EntryAttr.StripeInfo = info
		op.EntryAttr.StripeItems = items
		op.AttrMask = op.AttrMask.Set(types.AttrStripeInfo).Set(types.AttrStripeItems)
	}

	if op.Plan.NeedStatus {
		status, err := h.probe.GetHSMStatus(ctx, op.EntryId, path)
		if err != nil {
			return h.handleProbeError(op, err)
		}
		op.EntryAttr.Status = status
		op.AttrMask = op.AttrMask.Set(types.AttrStatus)

		switch status {
		case types.StatusNoFlags:
			op.EntryAttr.LastArchive = zeroTime
			op.EntryAttr.LastRestore = zeroTime
			op.AttrMask = op.AttrMask.Set(types.AttrLastArchive).Set(types.AttrLastRestore)
		case types.StatusReleased:
			if op.DbExists.Bool() {
				op.DbOp = types.DbOpRemove
				return types.StageDbApply, nil
			}
			// Released and never cataloged: nothing to remove.
			op.DbOp = types.DbOpNone
			return types.StageJournalAck, nil
		}
	}

	if h.matcher != nil {
		op.PolicyResult = h.matcher.Match(op.EntryAttr, op.AttrMask)
		if op.PolicyResult.Evaluated {
			op.EntryAttr.ReleaseClass = op.PolicyResult.ReleaseClass
			op.EntryAttr.ArchiveClass = op.PolicyResult.ArchiveClass
			op.AttrMask = op.AttrMask.Set(types.AttrReleaseClass).Set(types.AttrArchiveClass)
		}
	}

	if h.report != nil && ShouldReport(op) {
		h.report(op)
	}

	return types.StageDbApply, nil
}

func (h *GetInfoFS) handleProbeError(op *types.Operation, err error) (types.StageID, error) {
	if xerrors.Is(err, xerrors.KindMissing) {
		// ENOENT/ESTALE: the entry is gone. Both journal- and
		// scan-sourced operations route to JOURNAL_ACK with no DB
		// mutation; for scan operations that ack is a no-op, for
		// journal operations it still acknowledges the record.
		op.DbOp = types.DbOpNone
		return types.StageJournalAck, nil
	}
	h.logger.WithFields(logrus.Fields{
		"entry_id": op.EntryId,
		"error":    err,
	}).Error("filesystem probe failed; acknowledging anyway")
	op.DbOp = types.DbOpNone
	return types.StageJournalAck, nil
}

var zeroTime time.Time // the zero value, named for readability at the STATUS_NO_FLAGS reset sites
