// Package pipeline implements the entry processing scheduler: a fixed
// sequence of stages, each with its own concurrency policy, that an
// Operation flows through from ingress to terminal acknowledgement.
package pipeline

import (
	"context"

	"entryproc/pkg/types"
)

// ConcurrencyMode names how a stage schedules the operations routed to it.
type ConcurrencyMode int

const (
	// Parallel runs operations with no ordering constraint, bounded only
	// by MaxWorkers.
	Parallel ConcurrencyMode = iota
	// MaxThreads is Parallel with an explicit worker cap; DB_APPLY uses
	// this by default to bound catalog write concurrency.
	MaxThreads
	// Sequential runs one operation at a time, strictly in the order
	// they were submitted. JOURNAL_ACK uses this with cap 1.
	Sequential
	// IDConstraint runs operations for distinct EntryIds in parallel but
	// serializes operations that share an EntryId, in submission order
	// for that id.
	IDConstraint
)

func (m ConcurrencyMode) String() string {
	switch m {
	case MaxThreads:
		return "max_threads"
	case Sequential:
		return "sequential"
	case IDConstraint:
		return "id_constraint"
	default:
		return "parallel"
	}
}

// AckMode names whether the stage's caller waits for the handler to finish.
type AckMode int

const (
	// Sync means the submitter of an operation into this stage is not
	// considered done with it until the handler returns.
	Sync AckMode = iota
	// Async means the stage may report completion to its own producer
	// before the handler runs; REPORTING is fire-and-forget this way.
	Async
)

// Handler processes one operation at a stage and returns the stage the
// operation should be routed to next. Returning the same StageID the
// operation is currently in, or stageCount/StageScanSweep's successor, or
// any StageID strictly greater than CurrentStage, is valid; returning a
// lower StageID is a routing bug and is rejected by the scheduler.
type Handler func(ctx context.Context, op *types.Operation) (next types.StageID, err error)

// StageConfig describes one stage's scheduling policy.
type StageConfig struct {
	ID         types.StageID
	Mode       ConcurrencyMode
	MaxWorkers int // meaningful for Parallel/MaxThreads; Sequential is always 1
	Ack        AckMode
	QueueSize  int
	Handler    Handler
}
