package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	oteltrace "go.opentelemetry.io/otel/trace"

	"entryproc/internal/metrics"
	"entryproc/pkg/idlock"
	"entryproc/pkg/tracing"
	"entryproc/pkg/types"
)

// ErrQueueFull is returned when a stage's inbound queue is saturated.
var ErrQueueFull = fmt.Errorf("pipeline: stage queue is full")

// task is one scheduled unit of work: an operation paired with the
// handler that was configured for the stage it's currently entering.
type task struct {
	op      *types.Operation
	handler Handler
}

// pool runs the handler for a StageConfig according to its ConcurrencyMode.
// It is the stage-local adaptation of a bounded worker pool: Parallel and
// MaxThreads are a fixed set of goroutines pulling off one channel,
// Sequential is the same with exactly one goroutine, and IDConstraint adds
// a per-id lock so same-id work serializes while the pool itself stays
// bounded/parallel.
type pool struct {
	cfg    StageConfig
	queue  chan task
	logger *logrus.Logger
	ids    *idlock.Map // non-nil only for IDConstraint
	tracer oteltrace.Tracer

	route func(ctx context.Context, op *types.Operation, next types.StageID)

	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	submitted int64
	completed int64
	failed    int64
}

func newPool(cfg StageConfig, logger *logrus.Logger, tracer oteltrace.Tracer, route func(context.Context, *types.Operation, types.StageID)) *pool {
	workers := cfg.MaxWorkers
	if cfg.Mode == Sequential {
		workers = 1
	}
	if workers <= 0 {
		workers = 1
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = workers * 16
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &pool{
		cfg:    cfg,
		queue:  make(chan task, queueSize),
		logger: logger,
		tracer: tracer,
		route:  route,
		ctx:    ctx,
		cancel: cancel,
	}
	if cfg.Mode == IDConstraint {
		p.ids = idlock.New()
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

func (p *pool) submit(t task) error {
	atomic.AddInt64(&p.submitted, 1)
	select {
	case p.queue <- t:
		metrics.StageQueueDepth.WithLabelValues(p.cfg.ID.String()).Set(float64(len(p.queue)))
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	default:
		atomic.AddInt64(&p.failed, 1)
		metrics.StageFailedTotal.WithLabelValues(p.cfg.ID.String()).Inc()
		return ErrQueueFull
	}
}

func (p *pool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case t := <-p.queue:
			p.run(t)
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *pool) run(t task) {
	var unlock func()
	if p.ids != nil {
		unlock = p.ids.Lock(t.op.EntryId)
		defer unlock()
	}

	recordIndex := int64(-1)
	if t.op.IsJournal() {
		recordIndex = int64(t.op.Source.Record.Index)
	}
	stage := p.cfg.ID.String()
	spanCtx, span := tracing.StartStageSpan(p.ctx, p.tracer, stage, strconv.FormatUint(uint64(t.op.EntryId), 10), recordIndex)

	start := time.Now()
	next, err := t.handler(spanCtx, t.op)
	duration := time.Since(start)
	metrics.RecordStageDuration(stage, duration)
	tracing.RecordOutcome(span, err)
	span.End()

	if err != nil {
		atomic.AddInt64(&p.failed, 1)
		metrics.StageFailedTotal.WithLabelValues(stage).Inc()
		p.logger.WithFields(logrus.Fields{
			"stage":    p.cfg.ID,
			"entry_id": t.op.EntryId,
			"duration": duration,
			"error":    err,
		}).Warn("stage handler returned an error")
		return
	}

	atomic.AddInt64(&p.completed, 1)
	metrics.StageProcessedTotal.WithLabelValues(stage).Inc()
	if int(next) < int(t.op.CurrentStage) {
		p.logger.WithFields(logrus.Fields{
			"stage":         p.cfg.ID,
			"entry_id":      t.op.EntryId,
			"requested_next": next,
		}).Error("stage handler attempted a back-edge; dropping operation")
		return
	}

	t.op.CurrentStage = next
	p.route(p.ctx, t.op, next)
}

func (p *pool) stop() {
	p.cancel()
	p.wg.Wait()
}

// stats is a point-in-time snapshot of a stage's counters.
type stats struct {
	Queued    int
	Submitted int64
	Completed int64
	Failed    int64
}

func (p *pool) stat() stats {
	return stats{
		Queued:    len(p.queue),
		Submitted: atomic.LoadInt64(&p.submitted),
		Completed: atomic.LoadInt64(&p.completed),
		Failed:    atomic.LoadInt64(&p.failed),
	}
}
