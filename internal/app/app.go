// Package app wires every component of the entry processing pipeline
// together: catalog, journal source, scanner, filesystem probe, alert
// emitter, policy matcher, and the stage scheduler, plus the ambient
// metrics/tracing/admin-HTTP surface around them. It owns the process
// lifecycle: New builds and wires, Start begins ingress, Stop drains
// everything in dependency order, and Run ties both to OS signals.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"entryproc/internal/alert"
	"entryproc/internal/catalog"
	"entryproc/internal/config"
	"entryproc/internal/fsprobe"
	"entryproc/internal/handlers"
	"entryproc/internal/journal"
	"entryproc/internal/metrics"
	"entryproc/internal/pipeline"
	"entryproc/internal/policy"
	"entryproc/internal/scanner"
	"entryproc/pkg/circuit"
	"entryproc/pkg/tracing"
	"entryproc/pkg/types"
)

// App is a fully wired entry processing pipeline daemon.
type App struct {
	cfg    *config.Config
	logger *logrus.Logger

	catalog   *catalog.Catalog
	probe     *fsprobe.Local
	journal   types.JournalSource
	scanner   *scanner.Scanner
	emitter   types.AlertEmitter
	breaker   *circuit.Breaker
	scheduler *pipeline.Scheduler
	tracer    *tracing.Manager

	metricsServer *metrics.MetricsServer
	adminServer   *adminServer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New loads and validates configuration from configFile, then builds and
// wires every component. The returned App is ready for Start/Run but has
// not started anything yet.
func New(configFile string) (*App, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("app: load config: %w", err)
	}

	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.App.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{cfg: cfg, logger: logger, ctx: ctx, cancel: cancel}

	if err := a.build(); err != nil {
		cancel()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	var err error

	a.tracer, err = tracing.NewManager(a.cfg.Tracing, a.logger)
	if err != nil {
		return fmt.Errorf("app: tracing manager: %w", err)
	}

	a.catalog, err = catalog.Open(a.cfg.Catalog.Path, parseDuration(a.cfg.Catalog.OpenTimeout))
	if err != nil {
		return fmt.Errorf("app: open catalog: %w", err)
	}

	a.probe = fsprobe.New()

	a.journal, err = a.buildJournalSource()
	if err != nil {
		return fmt.Errorf("app: journal source: %w", err)
	}

	a.emitter, err = a.buildAlertEmitter()
	if err != nil {
		return fmt.Errorf("app: alert emitter: %w", err)
	}

	a.breaker = circuit.NewBreaker(circuit.BreakerConfig{
		Name:             "catalog_db_apply",
		FailureThreshold: a.cfg.Pipeline.Breaker.FailureThreshold,
		SuccessThreshold: a.cfg.Pipeline.Breaker.SuccessThreshold,
		Timeout:          parseDuration(a.cfg.Pipeline.Breaker.Timeout),
		HalfOpenMaxCalls: a.cfg.Pipeline.Breaker.HalfOpenMaxCalls,
		ResetTimeout:     parseDuration(a.cfg.Pipeline.Breaker.ResetTimeout),
	}, a.logger)

	matcher := policy.New(a.buildPolicyRules())

	a.scheduler, err = a.buildScheduler(matcher)
	if err != nil {
		return fmt.Errorf("app: build scheduler: %w", err)
	}

	a.scanner = scanner.New(scanner.Config{
		Root:           a.cfg.Scanner.Root,
		Interval:       parseDuration(a.cfg.Scanner.Interval),
		MaxLoadAverage: a.cfg.Scanner.MaxLoadAverage,
		OnPassComplete: func(time.Time) {
			if err := a.scheduler.RunScanSweep(a.ctx); err != nil {
				a.logger.WithError(err).Error("scan sweep failed")
			}
		},
	}, a.logger)

	if a.cfg.Metrics.Enabled {
		a.metricsServer = metrics.NewMetricsServer(a.cfg.Metrics.Addr, a.logger)
	}
	if a.cfg.Server.Enabled {
		a.adminServer = newAdminServer(a.cfg.Server, a.logger, a.scheduler, a.scanner, a.probe)
	}

	return nil
}

func (a *App) buildJournalSource() (types.JournalSource, error) {
	switch a.cfg.Journal.Source {
	case "kafka":
		kc := a.cfg.Journal.Kafka
		return journal.NewKafkaSource(journal.KafkaConfig{
			Brokers:     kc.Brokers,
			Topic:       kc.Topic,
			GroupID:     kc.GroupID,
			TLS:         kc.TLS,
			DialTimeout: parseDuration(kc.DialTimeout),
			Auth: journal.KafkaAuth{
				Enabled:   kc.Auth.Enabled,
				Username:  kc.Auth.Username,
				Password:  kc.Auth.Password,
				Mechanism: kc.Auth.Mechanism,
			},
		}, a.logger)
	case "tail":
		tc := a.cfg.Journal.Tail
		return journal.NewTailSource(journal.TailConfig{Dir: tc.Dir, Poll: tc.Poll}, a.logger), nil
	default:
		return nil, fmt.Errorf("unknown journal source %q", a.cfg.Journal.Source)
	}
}

func (a *App) buildAlertEmitter() (types.AlertEmitter, error) {
	local, err := alert.NewLocalFileEmitter(a.cfg.Alerting.Local.Path)
	if err != nil {
		return nil, fmt.Errorf("local alert emitter: %w", err)
	}
	if a.cfg.Alerting.Sink != "kafka" {
		return local, nil
	}

	kc := a.cfg.Alerting.Kafka
	kafkaEmitter, err := alert.NewKafkaEmitter(alert.KafkaConfig{
		Brokers:     kc.Brokers,
		Topic:       kc.Topic,
		Compression: kc.Compression,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("kafka alert emitter: %w", err)
	}
	return alert.NewFallbackEmitter(kafkaEmitter, local, a.logger), nil
}

func (a *App) buildPolicyRules() []policy.Rule {
	rules := make([]policy.Rule, 0, len(a.cfg.Policy.Rules))
	for _, r := range a.cfg.Policy.Rules {
		conds := make([]policy.Condition, 0, len(r.Conditions))
		for _, c := range r.Conditions {
			conds = append(conds, policy.Condition{Field: c.Field, Op: policy.Op(c.Op), Value: c.Value})
		}
		rules = append(rules, policy.Rule{
			Name:         r.Name,
			ReleaseClass: r.ReleaseClass,
			ArchiveClass: r.ArchiveClass,
			Conditions:   conds,
		})
	}
	return rules
}

func (a *App) buildScheduler(matcher *policy.Matcher) (*pipeline.Scheduler, error) {
	ackQueue := pipeline.NewAckQueue()

	getID := handlers.NewGetID(a.probe, a.logger)
	getInfoDB := handlers.NewGetInfoDB(a.catalog, a.logger,
		handlers.WithNoHSMRemove(a.cfg.Pipeline.NoHSMRemove),
		handlers.WithDeferredRemoveDelay(parseDuration(a.cfg.Pipeline.DeferredRemoveDelay)))

	var scheduler *pipeline.Scheduler
	report := func(op *types.Operation) {
		if scheduler != nil {
			scheduler.Report(op)
		}
	}
	getInfoFS := handlers.NewGetInfoFS(a.probe, matcher, report, a.logger)
	dbApply := handlers.NewDbApply(a.catalog, a.breaker, a.logger)
	journalAck := handlers.NewJournalAck(ackQueue, a.logger)
	reporting := handlers.NewReporting(a.emitter, a.logger)
	scanSweep := handlers.NewScanSweep(a.catalog, a.logger, func() time.Time { return a.scanner.LastPassStart() })

	scheduler, err := pipeline.NewScheduler(pipeline.Config{
		GetID:      stageConfig(a.cfg.Pipeline.GetID, getID.Handle),
		GetInfoDB:  stageConfig(a.cfg.Pipeline.GetInfoDB, getInfoDB.Handle),
		GetInfoFS:  stageConfig(a.cfg.Pipeline.GetInfoFS, getInfoFS.Handle),
		Reporting:  stageConfig(a.cfg.Pipeline.Reporting, reporting.Handle),
		DbApply:    stageConfig(a.cfg.Pipeline.DbApply, dbApply.Handle),
		JournalAck: stageConfig(a.cfg.Pipeline.JournalAck, journalAck.Handle),
		ScanSweep:  scanSweep.Handle,
		Tracer:     a.tracer.Tracer(),
	}, a.logger)
	if err != nil {
		return nil, err
	}
	return scheduler, nil
}

// parseDuration parses a config duration string, already checked by
// config.Validate, falling back to zero on the impossible case that it
// isn't.
func parseDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func stageConfig(sc config.StageConfig, handler pipeline.Handler) pipeline.StageConfig {
	mode := pipeline.Parallel
	switch sc.Mode {
	case "max_threads":
		mode = pipeline.MaxThreads
	case "sequential":
		mode = pipeline.Sequential
	case "id_constraint":
		mode = pipeline.IDConstraint
	}
	ack := pipeline.Sync
	if sc.Async {
		ack = pipeline.Async
	}
	return pipeline.StageConfig{
		Mode:       mode,
		MaxWorkers: sc.MaxWorkers,
		Ack:        ack,
		QueueSize:  sc.QueueSize,
		Handler:    handler,
	}
}

// Start begins ingress (journal + scanner) and the admin/metrics HTTP
// servers. It returns once every component has started accepting work;
// it does not block waiting for shutdown — use Run for that.
func (a *App) Start() error {
	a.logger.Info("starting entry processing pipeline")

	if a.metricsServer != nil {
		if err := a.metricsServer.Start(); err != nil {
			return fmt.Errorf("app: start metrics server: %w", err)
		}
	}
	if a.adminServer != nil {
		if err := a.adminServer.Start(); err != nil {
			return fmt.Errorf("app: start admin server: %w", err)
		}
	}

	if err := a.journal.Start(a.ctx, a.onJournalRecord); err != nil {
		return fmt.Errorf("app: start journal source: %w", err)
	}
	if err := a.scanner.Start(a.ctx, a.onScanPath); err != nil {
		return fmt.Errorf("app: start scanner: %w", err)
	}

	a.logger.Info("entry processing pipeline started")
	return nil
}

// onJournalRecord resolves a decoded journal record's id before handing
// it to the scheduler: GET_ID's journal branch only validates that an id
// is already set, so ingress is responsible for the path-to-id lookup.
func (a *App) onJournalRecord(rec types.JournalRecord, ack types.AckFunc, ackParam any) {
	op := &types.Operation{
		Source: types.Source{
			Kind:          types.SourceJournal,
			Record:        rec,
			Callback:      ack,
			CallbackParam: ackParam,
		},
	}

	if rec.Name != "" {
		if id, err := a.probe.PathToID(a.ctx, rec.Name); err == nil {
			op.EntryId = id
			op.EntryIdIsSet = true
			a.probe.RegisterPath(id, rec.Name)
		}
	}

	if err := a.scheduler.Submit(op); err != nil {
		a.logger.WithError(err).Warn("failed to submit journal operation")
	}
}

func (a *App) onScanPath(path string) {
	op := &types.Operation{
		Source:    types.Source{Kind: types.SourceScan},
		EntryAttr: types.EntryAttributes{FullPath: path},
	}
	if err := a.scheduler.Submit(op); err != nil {
		a.logger.WithError(err).Warn("failed to submit scan operation")
	}
}

// Stop drains ingress and every pipeline stage, then closes the catalog
// and tracer. Errors from individual components are logged but do not
// stop the rest of shutdown from proceeding.
func (a *App) Stop() error {
	a.logger.Info("stopping entry processing pipeline")
	a.cancel()

	if err := a.scanner.Stop(); err != nil {
		a.logger.WithError(err).Error("failed to stop scanner")
	}
	if err := a.journal.Stop(); err != nil {
		a.logger.WithError(err).Error("failed to stop journal source")
	}

	a.scheduler.Stop()

	if a.adminServer != nil {
		if err := a.adminServer.Stop(); err != nil {
			a.logger.WithError(err).Error("failed to stop admin server")
		}
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Stop(); err != nil {
			a.logger.WithError(err).Error("failed to stop metrics server")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.tracer.Shutdown(shutdownCtx); err != nil {
		a.logger.WithError(err).Error("failed to shut down tracer")
	}

	if err := a.catalog.Close(); err != nil {
		a.logger.WithError(err).Error("failed to close catalog")
	}

	a.wg.Wait()
	a.logger.Info("entry processing pipeline stopped")
	return nil
}

// Run starts the app and blocks until SIGINT/SIGTERM, then stops it.
func (a *App) Run() error {
	if err := a.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	a.logger.Info("shutdown signal received")

	return a.Stop()
}
