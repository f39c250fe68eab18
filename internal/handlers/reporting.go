package handlers

import (
	"context"

	"github.com/sirupsen/logrus"

	"entryproc/pkg/types"
)

// Reporting raises best-effort alerts for operations GET_INFO_FS flagged
// as interesting (a policy match, a status transition worth surfacing).
// It runs Async: its failures are logged and never propagate back into
// the main DB_APPLY/JOURNAL_ACK routing.
type Reporting struct {
	emitter types.AlertEmitter
	logger  *logrus.Logger
}

func NewReporting(emitter types.AlertEmitter, logger *logrus.Logger) *Reporting {
	return &Reporting{emitter: emitter, logger: logger}
}

func (h *Reporting) Handle(ctx context.Context, op *types.Operation) (types.StageID, error) {
	if h.emitter == nil || !op.PolicyResult.Evaluated {
		return types.StageReporting, nil
	}

	alert := types.Alert{
		EntryId: op.EntryId,
		Kind:    "policy_match",
		Message: "entry matched a release/archive class",
	}
	if err := h.emitter.Emit(ctx, alert); err != nil {
		h.logger.WithFields(logrus.Fields{
			"entry_id": op.EntryId,
			"error":    err,
		}).Warn("alert emission failed; continuing")
	}
	return types.StageReporting, nil
}

// ShouldReport is the predicate GET_INFO_FS uses to decide whether an
// operation is worth forking to REPORTING at all, so the stage's queue
// isn't flooded with no-op submissions for every quiet entry.
func ShouldReport(op *types.Operation) bool {
	return op.PolicyResult.Evaluated
}
