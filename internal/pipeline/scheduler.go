package pipeline

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"

	"entryproc/pkg/types"
)

// defaultOrder is the fixed per-operation routing path. REPORTING is
// deliberately not part of it: it is Async, a side notification GET_INFO_FS
// forks off rather than a stage every operation must pass through and
// wait on (see Scheduler.Report). SCAN_SWEEP is likewise not part of it:
// it is invoked once per completed scan pass, not once per operation.
var defaultOrder = []types.StageID{
	types.StageGetID,
	types.StageGetInfoDB,
	types.StageGetInfoFS,
	types.StageDbApply,
	types.StageJournalAck,
}

// Scheduler owns one pool per stage and routes operations between them
// according to each handler's return value, enforcing the no-back-edges
// invariant and JOURNAL_ACK's strict index ordering.
type Scheduler struct {
	logger *logrus.Logger

	pools     map[types.StageID]*pool
	reporting *pool

	scanSweep Handler
}

// Config bundles everything needed to build a Scheduler.
type Config struct {
	GetID      StageConfig
	GetInfoDB  StageConfig
	GetInfoFS  StageConfig
	Reporting  StageConfig
	DbApply    StageConfig
	JournalAck StageConfig
	ScanSweep  Handler

	// Tracer is used to open one span per operation per stage. Nil is
	// treated as the global no-op tracer so callers that don't care
	// about tracing can omit it.
	Tracer oteltrace.Tracer
}

func NewScheduler(cfg Config, logger *logrus.Logger) (*Scheduler, error) {
	if cfg.ScanSweep == nil {
		return nil, fmt.Errorf("pipeline: scan sweep handler is required")
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("noop")
	}

	s := &Scheduler{
		logger:    logger,
		pools:     make(map[types.StageID]*pool, len(defaultOrder)),
		scanSweep: cfg.ScanSweep,
	}

	stageConfigs := map[types.StageID]StageConfig{
		types.StageGetID:      withID(cfg.GetID, types.StageGetID),
		types.StageGetInfoDB:  withID(cfg.GetInfoDB, types.StageGetInfoDB),
		types.StageGetInfoFS:  withID(cfg.GetInfoFS, types.StageGetInfoFS),
		types.StageDbApply:    withID(cfg.DbApply, types.StageDbApply),
		types.StageJournalAck: withID(cfg.JournalAck, types.StageJournalAck),
	}
	for _, id := range defaultOrder {
		sc := stageConfigs[id]
		if sc.Handler == nil {
			return nil, fmt.Errorf("pipeline: stage %s has no handler configured", id)
		}
		s.pools[id] = newPool(sc, logger, tracer, s.route)
	}

	reportingCfg := withID(cfg.Reporting, types.StageReporting)
	if reportingCfg.Handler != nil {
		s.reporting = newPool(reportingCfg, logger, tracer, func(context.Context, *types.Operation, types.StageID) {})
	}

	return s, nil
}

func withID(cfg StageConfig, id types.StageID) StageConfig {
	cfg.ID = id
	return cfg
}

// Submit enters an operation into the pipeline at GET_ID, the only valid
// ingress point for both scan and journal producers.
func (s *Scheduler) Submit(op *types.Operation) error {
	op.CurrentStage = types.StageGetID
	return s.pools[types.StageGetID].submit(task{op: op, handler: s.pools[types.StageGetID].cfg.Handler})
}

// Report forks an alert-worthy operation to REPORTING without blocking the
// caller; REPORTING's outcome never affects DB_APPLY/JOURNAL_ACK routing.
// It is a no-op if no REPORTING handler was configured.
func (s *Scheduler) Report(op *types.Operation) {
	if s.reporting == nil {
		return
	}
	clone := *op
	_ = s.reporting.submit(task{op: &clone, handler: s.reporting.cfg.Handler})
}

// RunScanSweep invokes the scan-sweep maintenance handler. It is called by
// the scanner once per completed full-tree pass, not routed to per
// operation.
func (s *Scheduler) RunScanSweep(ctx context.Context) error {
	_, err := s.scanSweep(ctx, &types.Operation{CurrentStage: types.StageScanSweep})
	return err
}

func (s *Scheduler) route(ctx context.Context, op *types.Operation, next types.StageID) {
	p, ok := s.pools[next]
	if !ok {
		// Terminal: operation has completed JOURNAL_ACK, or a handler
		// is asking to forward somewhere not in the per-operation
		// routing table (e.g. StageReporting, StageScanSweep) — those
		// are reached through Report/RunScanSweep, not routing, so
		// arriving here means the pipeline is done with op.
		return
	}
	if err := p.submit(task{op: op, handler: p.cfg.Handler}); err != nil {
		s.logger.WithFields(logrus.Fields{
			"stage":    next,
			"entry_id": op.EntryId,
			"error":    err,
		}).Error("failed to route operation to next stage")
	}
}

// Stats returns a point-in-time snapshot of every stage's queue/counters,
// keyed by stage name, for the metrics and admin-status endpoints.
func (s *Scheduler) Stats() map[string]stats {
	out := make(map[string]stats, len(s.pools)+1)
	for id, p := range s.pools {
		out[id.String()] = p.stat()
	}
	if s.reporting != nil {
		out[types.StageReporting.String()] = s.reporting.stat()
	}
	return out
}

// Stop drains every stage's workers. It does not wait for in-flight
// operations to reach JOURNAL_ACK; callers that need a clean drain should
// stop ingress (journal/scanner) first and let queues empty before
// calling Stop.
func (s *Scheduler) Stop() {
	for _, p := range s.pools {
		p.stop()
	}
	if s.reporting != nil {
		s.reporting.stop()
	}
}
