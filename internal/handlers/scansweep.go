package handlers

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"entryproc/pkg/types"
)

// ScanSweep is invoked once per completed full-tree scan pass, not routed
// per operation. It follows the original pipeline's exact sequence: force
// every write durable, mass-delete anything the pass didn't touch, record
// the pass's start time as the new high-water mark, then revert to
// batched commits.
type ScanSweep struct {
	catalog types.Catalog
	logger  *logrus.Logger

	passStarted func() time.Time
}

func NewScanSweep(catalog types.Catalog, logger *logrus.Logger, passStarted func() time.Time) *ScanSweep {
	return &ScanSweep{catalog: catalog, logger: logger, passStarted: passStarted}
}

const lastScanVarName = "LastScan"

func (h *ScanSweep) Handle(ctx context.Context, _ *types.Operation) (types.StageID, error) {
	start := h.passStarted()

	if err := h.catalog.ForceCommit(ctx, true); err != nil {
		h.logger.WithError(err).Error("scan sweep: failed to enable forced commit")
		return types.StageScanSweep, err
	}

	removed, err := h.catalog.MassSoftRemove(ctx, start)
	if err != nil {
		h.logger.WithError(err).Error("scan sweep: mass removal failed")
	} else {
		h.logger.WithField("removed", removed).Info("scan sweep: mass-removed entries untouched by this pass")
	}

	if err := h.catalog.SetVar(ctx, lastScanVarName, start.Format(time.RFC3339Nano)); err != nil {
		h.logger.WithError(err).Error("scan sweep: failed to persist LastScan")
	}

	if err := h.catalog.ForceCommit(ctx, false); err != nil {
		h.logger.WithError(err).Error("scan sweep: failed to disable forced commit")
	}

	return types.StageScanSweep, nil
}
