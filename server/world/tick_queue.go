package world

import (
	"container/heap"
	"time"
)

// scheduledTick is a block update scheduled to happen at a specific time.
type scheduledTick struct {
	at  time.Time
	loc int64
	seq uint64
}

// tickHeap implements heap.Interface, ordering scheduled ticks by their time
// and, for equal times, by the order in which they were added.
type tickHeap []scheduledTick

func (h tickHeap) Len() int { return len(h) }

func (h tickHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h tickHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *tickHeap) Push(x any) { *h = append(*h, x.(scheduledTick)) }

func (h *tickHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	*h = old[:n-1]
	return t
}

// TickQueue is a priority queue of scheduled block updates. Each entry holds
// the time at which it should run and the encoded block position (see
// BlockPos.Hash) it applies to. A TickQueue is not safe for concurrent use.
type TickQueue struct {
	h   tickHeap
	seq uint64
}

// Add schedules an update of the encoded location passed at the time passed.
func (q *TickQueue) Add(at time.Time, loc int64) {
	q.seq++
	heap.Push(&q.h, scheduledTick{at: at, loc: loc, seq: q.seq})
}

// Peek returns the time of the earliest scheduled update, if any.
func (q *TickQueue) Peek() (time.Time, bool) {
	if len(q.h) == 0 {
		return time.Time{}, false
	}
	return q.h[0].at, true
}

// PopReady removes and returns the location of the earliest scheduled update
// if it is due at or before now.
func (q *TickQueue) PopReady(now time.Time) (int64, bool) {
	if len(q.h) == 0 || q.h[0].at.After(now) {
		return 0, false
	}
	return heap.Pop(&q.h).(scheduledTick).loc, true
}

// Len returns the amount of scheduled updates.
func (q *TickQueue) Len() int {
	return len(q.h)
}
