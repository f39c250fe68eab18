package handlers

import (
	"context"

	"github.com/sirupsen/logrus"

	"entryproc/pkg/types"
)

// OrderedAcker is the ordering buffer JournalAck drains through; it is
// implemented by *pipeline.AckQueue but named as an interface here so
// internal/handlers doesn't import internal/pipeline.
type OrderedAcker interface {
	Submit(op *types.Operation) []*types.Operation
}

// JournalAck is the pipeline's terminal stage. It acknowledges
// journal-sourced operations — in strict record-index order, via acker —
// and simply finishes scan-sourced ones, which never carry an
// acknowledgement callback.
type JournalAck struct {
	acker  OrderedAcker
	logger *logrus.Logger
}

func NewJournalAck(acker OrderedAcker, logger *logrus.Logger) *JournalAck {
	return &JournalAck{acker: acker, logger: logger}
}

func (h *JournalAck) Handle(_ context.Context, op *types.Operation) (types.StageID, error) {
	if !op.IsJournal() {
		return types.StageComplete, nil
	}

	ready := h.acker.Submit(op)
	for _, done := range ready {
		cb := done.Source.Callback
		if cb == nil {
			continue
		}
		if err := cb(done.Source.CallbackParam); err != nil {
			h.logger.WithFields(logrus.Fields{
				"entry_id": done.EntryId,
				"index":    done.Source.Record.Index,
				"error":    err,
			}).Error("journal acknowledgement callback failed")
		}
	}
	return types.StageComplete, nil
}
