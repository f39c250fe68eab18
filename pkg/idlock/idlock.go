// Package idlock implements the per-entry-id serialization the pipeline's
// ID_CONSTRAINT stage flag requires: operations for the same EntryId must
// run one at a time and in submission order, while operations for distinct
// ids run fully in parallel.
package idlock

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"entryproc/pkg/types"
)

// shardCount is the number of independent lock shards. Sharding avoids a
// single global lock serializing unrelated ids; per-id mutexes are
// created on first use and are never evicted. This follows the hash-sharded assignment the
// teacher's worker pool uses to spread tasks across workers.
const shardCount = 256

type shard struct {
	mu      sync.Mutex
	waiters map[types.EntryId]*sync.Mutex
}

// Map is a sharded set of per-id mutexes, created once and reused for the
// lifetime of a GET_INFO_DB stage.
type Map struct {
	shards [shardCount]*shard
}

func New() *Map {
	m := &Map{}
	for i := range m.shards {
		m.shards[i] = &shard{waiters: make(map[types.EntryId]*sync.Mutex)}
	}
	return m
}

func (m *Map) shardFor(id types.EntryId) *shard {
	h := xxhash.Sum64(idBytes(id))
	return m.shards[h%uint64(shardCount)]
}

// Lock acquires the mutex for id, creating it on first use. Callers must
// call the returned unlock function exactly once.
func (m *Map) Lock(id types.EntryId) (unlock func()) {
	s := m.shardFor(id)

	s.mu.Lock()
	idMu, ok := s.waiters[id]
	if !ok {
		idMu = &sync.Mutex{}
		s.waiters[id] = idMu
	}
	s.mu.Unlock()

	idMu.Lock()
	return idMu.Unlock
}

func idBytes(id types.EntryId) []byte {
	var b [8]byte
	v := uint64(id)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b[:]
}
