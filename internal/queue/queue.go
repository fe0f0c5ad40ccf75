package queue

import (
	"container/heap"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned when operations are attempted on a closed queue.
var ErrClosed = errors.New("queue is closed")

// Job is a pending generation for one paragraph. Token identifies the request
// that enqueued it so a worker can tell a live job from a superseded one.
type Job struct {
	Index int
	Token uint64
}

// Stats tracks queue activity.
type Stats struct {
	TotalPushed  int64
	TotalPopped  int64
	TotalDropped int64
	CurrentSize  int
	PeakSize     int
	LastPush     time.Time
	LastPop      time.Time
}

// JobQueue orders pending jobs by distance from a focus paragraph. Jobs at or
// after the focus come first, nearest first; jobs behind the focus come last.
// Ties keep push order.
type JobQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	items    jobHeap
	seq      uint64
	closed   bool
	stats    Stats
}

// New creates an empty queue focused on paragraph 0.
func New() *JobQueue {
	q := &JobQueue{}
	q.notEmpty = sync.NewCond(&q.mu)
	heap.Init(&q.items)
	return q
}

// Push adds a job.
func (q *JobQueue) Push(j Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	q.seq++
	heap.Push(&q.items, &item{job: j, seq: q.seq})

	q.stats.TotalPushed++
	q.stats.LastPush = time.Now()
	if n := q.items.Len(); n > q.stats.PeakSize {
		q.stats.PeakSize = n
	}

	q.notEmpty.Signal()
	return nil
}

// Pop blocks until a job is available and removes it. It returns ErrClosed
// once the queue is closed.
func (q *JobQueue) Pop() (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.Len() == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if q.closed {
		return Job{}, ErrClosed
	}

	it := heap.Pop(&q.items).(*item)
	q.stats.TotalPopped++
	q.stats.LastPop = time.Now()
	return it.job, nil
}

// SetFocus reorders pending jobs around paragraph index.
func (q *JobQueue) SetFocus(index int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.focus == index {
		return
	}
	q.items.focus = index
	heap.Init(&q.items)
}

// Remove drops every pending job for which drop returns true and reports how
// many were dropped.
func (q *JobQueue) Remove(drop func(Job) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items.list[:0]
	removed := 0
	for _, it := range q.items.list {
		if drop(it.job) {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	for i := len(kept); i < len(q.items.list); i++ {
		q.items.list[i] = nil
	}
	q.items.list = kept
	heap.Init(&q.items)

	q.stats.TotalDropped += int64(removed)
	return removed
}

// Clear drops all pending jobs.
func (q *JobQueue) Clear() int {
	return q.Remove(func(Job) bool { return true })
}

// Len returns the number of pending jobs.
func (q *JobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Stats returns queue statistics.
func (q *JobQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := q.stats
	stats.CurrentSize = q.items.Len()
	return stats
}

// Close wakes all waiting workers; subsequent Push and Pop return ErrClosed.
func (q *JobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
}

type item struct {
	job Job
	seq uint64
}

type jobHeap struct {
	list  []*item
	focus int
}

// rank orders jobs at or after the focus by distance, then jobs behind it.
func (h *jobHeap) rank(it *item) int {
	d := it.job.Index - h.focus
	if d < 0 {
		return 1<<30 - d
	}
	return d
}

func (h *jobHeap) Len() int { return len(h.list) }

func (h *jobHeap) Less(i, j int) bool {
	ri, rj := h.rank(h.list[i]), h.rank(h.list[j])
	if ri != rj {
		return ri < rj
	}
	return h.list[i].seq < h.list[j].seq
}

func (h *jobHeap) Swap(i, j int) { h.list[i], h.list[j] = h.list[j], h.list[i] }

func (h *jobHeap) Push(x any) { h.list = append(h.list, x.(*item)) }

func (h *jobHeap) Pop() any {
	old := h.list
	n := len(old)
	it := old[n-1]
	old[n-1] = nil // avoid memory leak
	h.list = old[:n-1]
	return it
}
