package idlock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"entryproc/pkg/types"
)

func TestLockSerializesSameID(t *testing.T) {
	m := New()
	var counter int32
	var maxObserved int32

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock(types.EntryId(42))
			defer unlock()

			n := atomic.AddInt32(&counter, 1)
			for {
				old := atomic.LoadInt32(&maxObserved)
				if n <= old || atomic.CompareAndSwapInt32(&maxObserved, old, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&counter, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxObserved, "only one holder of id 42's lock should run at a time")
}

func TestLockAllowsDistinctIDsInParallel(t *testing.T) {
	m := New()
	started := make(chan struct{}, 2)
	release := make(chan struct{})

	var wg sync.WaitGroup
	for _, id := range []types.EntryId{1, 2} {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock(id)
			defer unlock()
			started <- struct{}{}
			<-release
		}()
	}

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("first goroutine never acquired its lock")
	}
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("distinct ids should not block each other")
	}
	close(release)
	wg.Wait()
}
