package pipeline

import (
	"container/heap"
	"sync"

	"entryproc/pkg/types"
)

// AckQueue enforces strict increasing order of JournalRecord.Index across
// acknowledgements, even though operations for distinct EntryIds can reach
// JOURNAL_ACK out of record order (GET_INFO_DB's ID_CONSTRAINT only
// serializes same-id work; GET_INFO_FS probe latency varies per entry).
// The Sequential stage feeding it guarantees only that one operation is
// acknowledged at a time, not that they arrive sorted — AckQueue buffers
// early arrivals until the gap in front of them closes.
type AckQueue struct {
	mu       sync.Mutex
	pending  pendingHeap
	next     uint64
	initDone bool
}

func NewAckQueue() *AckQueue {
	return &AckQueue{}
}

type pendingItem struct {
	index uint64
	op    *types.Operation
}

type pendingHeap []pendingItem

func (h pendingHeap) Len() int            { return len(h) }
func (h pendingHeap) Less(i, j int) bool  { return h[i].index < h[j].index }
func (h pendingHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *pendingHeap) Push(x interface{}) { *h = append(*h, x.(pendingItem)) }
func (h *pendingHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Submit offers op (a journal-sourced operation that has reached
// JOURNAL_ACK) to the queue and returns every operation now eligible for
// acknowledgement, in strictly increasing index order. Scan-sourced
// operations never carry a meaningful record index and must not be passed
// here; callers ack them immediately instead.
func (q *AckQueue) Submit(op *types.Operation) []*types.Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := op.Source.Record.Index
	if !q.initDone {
		q.next = idx
		q.initDone = true
	}

	heap.Push(&q.pending, pendingItem{index: idx, op: op})

	var ready []*types.Operation
	for q.pending.Len() > 0 && q.pending[0].index == q.next {
		item := heap.Pop(&q.pending).(pendingItem)
		ready = append(ready, item.op)
		q.next++
	}
	return ready
}

// Pending reports how many operations are buffered waiting for a gap to
// close; a sustained non-zero value means one entry's processing is
// lagging and holding up every later-indexed record's acknowledgement.
func (q *AckQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}
