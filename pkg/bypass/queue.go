package bypass

import "container/heap"

// queueEntry is one (expiresAt, record) pair pushed onto the heap.
// Multiple entries may exist for the same Record — extending or
// shortening a bypass never removes the stale entry; checkBypassQueue
// accepts or rejects each popped entry by comparing its expiresAt
// against the record's current Until (spec §4.2 "Rationale").
type queueEntry struct {
	expiresAt int64
	record    *Record
}

// bypassQueue is a container/heap min-heap ordered by expiresAt.
type bypassQueue []*queueEntry

func (q bypassQueue) Len() int            { return len(q) }
func (q bypassQueue) Less(i, j int) bool  { return q[i].expiresAt < q[j].expiresAt }
func (q bypassQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *bypassQueue) Push(x any)         { *q = append(*q, x.(*queueEntry)) }
func (q *bypassQueue) Pop() any {
	old := *q
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return entry
}

// peekTop returns the earliest entry without removing it, or nil if
// the queue is empty.
func (q bypassQueue) peekTop() *queueEntry {
	if len(q) == 0 {
		return nil
	}
	return q[0]
}

var _ heap.Interface = (*bypassQueue)(nil)
