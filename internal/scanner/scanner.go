// Package scanner walks a filesystem tree on a timer, feeding every
// non-directory path it finds into GET_ID as a scan-sourced operation. It is
// the periodic counterpart to the change journal: the journal catches
// what happened since the last pass, the scan catches everything that
// still exists.
package scanner

import (
	"context"
	"io/fs"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/sirupsen/logrus"
)

// Config controls one scanner instance.
type Config struct {
	Root     string
	Interval time.Duration

	// MaxLoadAverage pauses a pass (rather than starting it) when the
	// host's 1-minute load average is at or above this value. Zero
	// disables the check.
	MaxLoadAverage float64

	// OnPassComplete, if set, is called with a pass's start time once
	// every path in that pass has been handed to the path handler. This
	// is how the app layer triggers SCAN_SWEEP's mass-removal cutoff at
	// the right moment rather than on its own independent timer.
	OnPassComplete func(passStart time.Time)
}

// Scanner is a types.Scanner implementation driven by filepath.WalkDir.
type Scanner struct {
	cfg    Config
	logger *logrus.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	lastPassStart atomic.Int64 // UnixNano of the most recently started pass
}

func New(cfg Config, logger *logrus.Logger) *Scanner {
	return &Scanner{cfg: cfg, logger: logger}
}

// LastPassStart returns the start time of the most recently started scan
// pass, for SCAN_SWEEP's mass-removal cutoff. Zero value before any pass
// has started.
func (s *Scanner) LastPassStart() time.Time {
	nanos := s.lastPassStart.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

func (s *Scanner) Start(ctx context.Context, handler func(path string)) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(runCtx, handler)
	return nil
}

func (s *Scanner) loop(ctx context.Context, handler func(path string)) {
	defer s.wg.Done()

	s.runPass(ctx, handler)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runPass(ctx, handler)
		}
	}
}

// runPass walks the tree once and returns the pass's start time. A pass
// that actually runs records that time for LastPassStart and hands it to
// OnPassComplete, so SCAN_SWEEP's mass removal cutoff matches the moment
// the completed pass began; a pass skipped for host load records nothing.
func (s *Scanner) runPass(ctx context.Context, handler func(path string)) time.Time {
	start := time.Now()

	if s.cfg.MaxLoadAverage > 0 {
		avg, err := load.AvgWithContext(ctx)
		if err != nil {
			s.logger.WithError(err).Warn("scanner: failed to read host load average, scanning anyway")
		} else if avg.Load1 >= s.cfg.MaxLoadAverage {
			s.logger.WithFields(logrus.Fields{
				"load1":     avg.Load1,
				"threshold": s.cfg.MaxLoadAverage,
			}).Warn("scanner: skipping pass, host load above threshold")
			return start
		}
	}

	s.lastPassStart.Store(start.UnixNano())

	count := 0
	err := filepath.WalkDir(s.cfg.Root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return filepath.SkipAll
		}
		if err != nil {
			s.logger.WithError(err).WithField("path", path).Warn("scanner: walk error, continuing")
			return nil
		}
		if d.IsDir() {
			return nil
		}
		handler(path)
		count++
		return nil
	})
	if err != nil {
		s.logger.WithError(err).Error("scanner: pass failed")
	}

	s.logger.WithFields(logrus.Fields{
		"root":     s.cfg.Root,
		"entries":  count,
		"duration": time.Since(start),
	}).Info("scanner: pass complete")

	if s.cfg.OnPassComplete != nil {
		s.cfg.OnPassComplete(start)
	}

	return start
}

func (s *Scanner) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return nil
}
