// Package handlers implements the per-stage business logic of the entry
// processing pipeline. Each file corresponds to one stage named in the
// pipeline's fixed routing order; the scheduler calls these as
// pipeline.Handler closures built by the New* constructors below.
package handlers

import (
	"context"

	"github.com/sirupsen/logrus"

	"entryproc/pkg/types"
	"entryproc/pkg/xerrors"
)

// GetID resolves an operation's EntryId before anything else can run.
// Scan-sourced operations already carry a path and must resolve it through
// the filesystem probe; journal-sourced operations have their id resolved
// at ingress, before submission, and this stage only validates it is set.
type GetID struct {
	probe  types.FSProbe
	logger *logrus.Logger
}

func NewGetID(probe types.FSProbe, logger *logrus.Logger) *GetID {
	return &GetID{probe: probe, logger: logger}
}

// Handle implements pipeline.Handler for GET_ID.
func (h *GetID) Handle(ctx context.Context, op *types.Operation) (types.StageID, error) {
	if op.Source.Kind == types.SourceScan {
		return h.handleScan(ctx, op)
	}
	return h.handleJournal(ctx, op)
}

func (h *GetID) handleScan(ctx context.Context, op *types.Operation) (types.StageID, error) {
	path := op.EntryAttr.FullPath
	if path == "" {
		h.logger.WithField("stage", "GET_ID").Error("scan operation carries no path; dropping")
		return types.StageJournalAck, nil
	}

	id, err := h.probe.PathToID(ctx, path)
	if err != nil {
		// Both a path that vanished between the scanner listing it and
		// GET_ID resolving it, and any other probe failure, are
		// routine churn for a scan-sourced operation: there is no
		// journal record to acknowledge, so just drop it. A
		// non-missing error is still worth a log line since repeated
		// occurrences would indicate the probe itself is unhealthy.
		if !xerrors.Is(err, xerrors.KindMissing) {
			h.logger.WithFields(logrus.Fields{"path": path, "error": err}).Warn("GET_ID probe failed for scanned path")
		}
		return types.StageJournalAck, nil
	}

	op.EntryId = id
	op.EntryIdIsSet = true
	return types.StageGetInfoDB, nil
}

func (h *GetID) handleJournal(_ context.Context, op *types.Operation) (types.StageID, error) {
	if !op.EntryIdIsSet {
		// A journal record that decoded without an id is a producer
		// bug, not routine churn: log at critical severity, but still
		// acknowledge it — a malformed record will never become valid
		// by being redelivered, so refusing to ack it would wedge the
		// journal on a record that can never be processed.
		h.logger.WithField("stage", "GET_ID").Error("journal operation missing a resolved id; acknowledging and dropping")
		return types.StageJournalAck, nil
	}
	return types.StageGetInfoDB, nil
}
