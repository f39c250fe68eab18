package handlers

import (
	"context"

	"github.com/sirupsen/logrus"

	"entryproc/pkg/circuit"
	"entryproc/pkg/types"
)

// DbApply performs the catalog mutation GET_INFO_DB/GET_INFO_FS decided
// on. Catalog failures here are transient by policy: the failure is
// logged and the operation still routes to JOURNAL_ACK rather than being
// retried inline, so one unhappy entry never backs up the stage's queue
// (drain, do not wedge).
type DbApply struct {
	catalog types.Catalog
	breaker *circuit.Breaker
	logger  *logrus.Logger
}

func NewDbApply(catalog types.Catalog, breaker *circuit.Breaker, logger *logrus.Logger) *DbApply {
	return &DbApply{catalog: catalog, breaker: breaker, logger: logger}
}

func (h *DbApply) Handle(ctx context.Context, op *types.Operation) (types.StageID, error) {
	if op.DbOp == types.DbOpNone {
		return types.StageJournalAck, nil
	}

	// Never let a handler push catalog-managed state or an unfetched
	// stripe back over what's stored.
	op.AttrMask = op.AttrMask.StripReadOnly()
	if !op.Plan.NeedStripe {
		op.AttrMask = op.AttrMask.Unset(types.AttrStripeInfo).Unset(types.AttrStripeItems)
	}

	apply := func() error {
		switch op.DbOp {
		case types.DbOpInsert:
			return h.catalog.Insert(ctx, op.EntryId, op.EntryAttr, op.AttrMask)
		case types.DbOpUpdate:
			return h.catalog.Update(ctx, op.EntryId, op.EntryAttr, op.AttrMask)
		case types.DbOpRemove:
			return h.catalog.Remove(ctx, op.EntryId)
		case types.DbOpSoftRemove:
			path := ""
			if op.AttrMask.Test(types.AttrFullPath) {
				path = op.EntryAttr.FullPath
			}
			return h.catalog.SoftRemove(ctx, op.EntryId, path, op.RemovalDeadline)
		default:
			return nil
		}
	}

	var err error
	if h.breaker != nil {
		err = h.breaker.Execute(apply)
	} else {
		err = apply()
	}

	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"entry_id": op.EntryId,
			"db_op":    op.DbOp,
			"error":    err,
		}).Error("catalog mutation failed; acknowledging anyway, next scan pass will reconcile")
		// A stuck catalog must not stall journal consumption
		// indefinitely: still route to JOURNAL_ACK (returning a nil
		// error here, not the catalog error) rather than strand the
		// operation. The entry will be reconciled by the next scan.
	}

	return types.StageJournalAck, nil
}
