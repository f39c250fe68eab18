package journal

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/nxadm/tail"
	"github.com/sirupsen/logrus"

	"entryproc/pkg/types"
)

func readDirNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return paths, nil
}

// TailConfig configures the tailed-file journal source: one line of JSON
// per journal record, appended to files under Dir. Every non-directory
// entry in Dir, and every file later created there, is tailed; file
// names are not filtered.
type TailConfig struct {
	Dir  string
	Poll bool
}

// TailSource is a types.JournalSource reading newline-delimited records
// appended to files in a directory, following rotation via fsnotify. A
// local tail has no broker to replay from, so its AckFunc is a no-op:
// once a line has been read off disk there is nothing further to
// acknowledge.
type TailSource struct {
	cfg    TailConfig
	logger *logrus.Logger

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	index   uint64

	mu     sync.Mutex
	tailed map[string]*tail.Tail
}

func NewTailSource(cfg TailConfig, logger *logrus.Logger) *TailSource {
	return &TailSource{cfg: cfg, logger: logger, tailed: make(map[string]*tail.Tail)}
}

func (s *TailSource) Start(ctx context.Context, handler func(types.JournalRecord, types.AckFunc, any)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	s.watcher = watcher

	if err := watcher.Add(s.cfg.Dir); err != nil {
		_ = watcher.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	entries, err := readDirNames(s.cfg.Dir)
	if err != nil {
		_ = watcher.Close()
		return err
	}
	for _, path := range entries {
		s.startTailing(runCtx, path, handler)
	}

	s.wg.Add(1)
	go s.watchDir(runCtx, handler)

	return nil
}

func (s *TailSource) watchDir(ctx context.Context, handler func(types.JournalRecord, types.AckFunc, any)) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create) != 0 {
				s.startTailing(ctx, event.Name, handler)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				s.logger.WithError(err).Warn("journal: tail directory watch error")
			}
		}
	}
}

func (s *TailSource) startTailing(ctx context.Context, path string, handler func(types.JournalRecord, types.AckFunc, any)) {
	s.mu.Lock()
	if _, already := s.tailed[path]; already {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	t, err := tail.TailFile(path, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Poll:     s.cfg.Poll,
		Location: &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
	})
	if err != nil {
		s.logger.WithError(err).WithField("path", path).Warn("journal: failed to tail file")
		return
	}

	s.mu.Lock()
	s.tailed[path] = t
	s.mu.Unlock()

	s.wg.Add(1)
	go s.consume(ctx, path, t, handler)
}

func (s *TailSource) consume(ctx context.Context, path string, t *tail.Tail, handler func(types.JournalRecord, types.AckFunc, any)) {
	defer s.wg.Done()
	defer t.Cleanup()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-t.Lines:
			if !ok {
				return
			}
			if line.Err != nil {
				s.logger.WithError(line.Err).WithField("path", path).Warn("journal: tail read error")
				continue
			}
			rec, err := DecodeRecord([]byte(line.Text))
			if err != nil {
				s.logger.WithError(err).WithField("path", path).Warn("journal: dropping undecodable tailed record")
				continue
			}
			rec.Index = atomic.AddUint64(&s.index, 1)
			handler(rec, noopAck, nil)
		}
	}
}

func noopAck(any) error { return nil }

func (s *TailSource) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	for _, t := range s.tailed {
		_ = t.Stop()
	}
	s.mu.Unlock()
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
	s.wg.Wait()
	return nil
}
