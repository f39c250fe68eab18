package config

import (
	"strings"
	"time"

	"entryproc/pkg/xerrors"
)

// Validate runs every section's checks and returns a single combined error
// naming every violation found, so an operator sees the full list of
// problems in one pass rather than fixing them one failed start at a time.
func Validate(cfg *Config) error {
	v := &validator{cfg: cfg}
	v.validateApp()
	v.validateServer()
	v.validateCatalog()
	v.validateJournal()
	v.validateScanner()
	v.validatePipeline()
	v.validateAlerting()

	if len(v.errs) == 0 {
		return nil
	}
	return v.combined()
}

type validator struct {
	cfg  *Config
	errs []error
}

func (v *validator) fail(operation, message string) {
	v.errs = append(v.errs, xerrors.Fatal("config", operation, message))
}

func (v *validator) requireDuration(operation, field, value string) {
	if value == "" {
		v.fail(operation, field+" must not be empty")
		return
	}
	if _, err := time.ParseDuration(value); err != nil {
		v.fail(operation, field+" must be a valid duration (e.g. \"30s\"): "+err.Error())
	}
}

func (v *validator) combined() error {
	msgs := make([]string, len(v.errs))
	for i, e := range v.errs {
		msgs[i] = e.Error()
	}
	return xerrors.Fatal("config", "validate", strings.Join(msgs, "; "))
}

func (v *validator) validateApp() {
	switch v.cfg.App.LogLevel {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic":
	default:
		v.fail("validate_log_level", "log_level must be one of trace/debug/info/warn/error/fatal/panic")
	}
	switch v.cfg.App.LogFormat {
	case "json", "text":
	default:
		v.fail("validate_log_format", "log_format must be json or text")
	}
}

func (v *validator) validateServer() {
	if !v.cfg.Server.Enabled {
		return
	}
	if v.cfg.Server.Port <= 0 || v.cfg.Server.Port > 65535 {
		v.fail("validate_server_port", "server.port must be between 1 and 65535")
	}
}

func (v *validator) validateCatalog() {
	if v.cfg.Catalog.Path == "" {
		v.fail("validate_catalog_path", "catalog.path must not be empty")
	}
	v.requireDuration("validate_catalog_open_timeout", "catalog.open_timeout", v.cfg.Catalog.OpenTimeout)
}

func (v *validator) validateJournal() {
	switch v.cfg.Journal.Source {
	case "kafka":
		if len(v.cfg.Journal.Kafka.Brokers) == 0 {
			v.fail("validate_journal_kafka", "journal.kafka.brokers must not be empty when journal.source is kafka")
		}
		if v.cfg.Journal.Kafka.Topic == "" {
			v.fail("validate_journal_kafka", "journal.kafka.topic must not be empty when journal.source is kafka")
		}
		v.requireDuration("validate_journal_kafka", "journal.kafka.dial_timeout", v.cfg.Journal.Kafka.DialTimeout)
	case "tail":
		if v.cfg.Journal.Tail.Dir == "" {
			v.fail("validate_journal_tail", "journal.tail.dir must not be empty when journal.source is tail")
		}
	default:
		v.fail("validate_journal_source", "journal.source must be kafka or tail")
	}
}

func (v *validator) validateScanner() {
	if v.cfg.Scanner.Root == "" {
		v.fail("validate_scanner_root", "scanner.root must not be empty")
	}
	v.requireDuration("validate_scanner_interval", "scanner.interval", v.cfg.Scanner.Interval)
	if d, err := time.ParseDuration(v.cfg.Scanner.Interval); err == nil && d <= 0 {
		v.fail("validate_scanner_interval", "scanner.interval must be positive")
	}
}

func (v *validator) validatePipeline() {
	for name, sc := range map[string]StageConfig{
		"get_id":       v.cfg.Pipeline.GetID,
		"get_info_db":  v.cfg.Pipeline.GetInfoDB,
		"get_info_fs":  v.cfg.Pipeline.GetInfoFS,
		"reporting":    v.cfg.Pipeline.Reporting,
		"db_apply":     v.cfg.Pipeline.DbApply,
		"journal_ack":  v.cfg.Pipeline.JournalAck,
	} {
		switch sc.Mode {
		case "parallel", "max_threads", "sequential", "id_constraint":
		default:
			v.fail("validate_pipeline_"+name, "pipeline."+name+".mode must be one of parallel/max_threads/sequential/id_constraint")
		}
		if sc.MaxWorkers < 0 {
			v.fail("validate_pipeline_"+name, "pipeline."+name+".max_workers must not be negative")
		}
	}
	if v.cfg.Pipeline.JournalAck.Mode != "sequential" {
		v.fail("validate_pipeline_journal_ack", "pipeline.journal_ack.mode must be sequential to preserve strict ack ordering")
	}

	v.requireDuration("validate_pipeline_breaker", "pipeline.circuit_breaker.timeout", v.cfg.Pipeline.Breaker.Timeout)
	v.requireDuration("validate_pipeline_breaker", "pipeline.circuit_breaker.reset_timeout", v.cfg.Pipeline.Breaker.ResetTimeout)
	v.requireDuration("validate_pipeline_deferred_remove", "pipeline.deferred_remove_delay", v.cfg.Pipeline.DeferredRemoveDelay)
}

func (v *validator) validateAlerting() {
	switch v.cfg.Alerting.Sink {
	case "kafka":
		if len(v.cfg.Alerting.Kafka.Brokers) == 0 {
			v.fail("validate_alerting_kafka", "alerting.kafka.brokers must not be empty when alerting.sink is kafka")
		}
		if v.cfg.Alerting.Kafka.Topic == "" {
			v.fail("validate_alerting_kafka", "alerting.kafka.topic must not be empty when alerting.sink is kafka")
		}
		if v.cfg.Alerting.Local.Path == "" {
			v.fail("validate_alerting_local", "alerting.local.path must not be empty; it backs the kafka sink's fallback")
		}
	case "local":
		if v.cfg.Alerting.Local.Path == "" {
			v.fail("validate_alerting_local", "alerting.local.path must not be empty when alerting.sink is local")
		}
	default:
		v.fail("validate_alerting_sink", "alerting.sink must be kafka or local")
	}
}
