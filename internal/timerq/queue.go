// Package timerq provides a shared time-ordered timer queue. Escalation
// advances, quiet-hours delays and delivery retries are all scheduled
// here, so one structure orders every pending timer in the process.
package timerq

import (
	"container/heap"
	"context"
	"log"
	"sync"
	"time"
)

// Handler is invoked on a worker goroutine when a timer fires. It
// receives the token its timer was scheduled under, so a handler can
// identify itself without the caller capturing the token in the
// closure before ScheduleAt has returned it.
// Handlers must not block other timers; long waits belong inside the
// handler's own context-bounded calls.
type Handler func(ctx context.Context, token Token)

// Token identifies a scheduled timer for cancellation.
type Token uint64

type entry struct {
	token Token
	at    time.Time
	fn    Handler
	index int // heap index, -1 when removed
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x interface{}) { e := x.(*entry); e.index = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Queue is a mutex-guarded min-heap of timers serviced by a worker pool.
// The queue's internal lock is independent of any caller locks, so
// unrelated incidents never contend through it for long.
type Queue struct {
	mu      sync.Mutex
	entries entryHeap
	pending map[Token]*entry
	nextTok Token
	closed  bool

	wake    chan struct{}
	jobs    chan *entry
	workers int
	wg      sync.WaitGroup

	started bool
}

// Options configures the timer queue.
type Options struct {
	// Workers is the number of handler goroutines (default 4).
	Workers int
	// Buffer is the fired-handler channel buffer (default 2*Workers).
	Buffer int
}

// New creates a timer queue. Call Start before scheduling fires anything.
func New(opts *Options) *Queue {
	workers := 4
	buffer := 0
	if opts != nil {
		if opts.Workers > 0 {
			workers = opts.Workers
		}
		buffer = opts.Buffer
	}
	if buffer <= 0 {
		buffer = workers * 2
	}

	return &Queue{
		pending: make(map[Token]*entry),
		wake:    make(chan struct{}, 1),
		jobs:    make(chan *entry, buffer),
		workers: workers,
	}
}

// Start launches the dispatch loop and worker pool. Returns immediately;
// the queue runs until ctx is cancelled.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case e, ok := <-q.jobs:
					if !ok {
						return
					}
					e.fn(ctx, e.token)
				}
			}
		}()
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.dispatchLoop(ctx)
	}()
}

// dispatchLoop pops due entries and hands them to workers.
func (q *Queue) dispatchLoop(ctx context.Context) {
	for {
		q.mu.Lock()
		var wait time.Duration
		if len(q.entries) == 0 {
			wait = -1
		} else {
			wait = time.Until(q.entries[0].at)
		}

		if wait <= 0 && len(q.entries) > 0 {
			e := heap.Pop(&q.entries).(*entry)
			delete(q.pending, e.token)
			q.mu.Unlock()

			select {
			case q.jobs <- e:
			case <-ctx.Done():
				return
			}
			continue
		}
		q.mu.Unlock()

		if wait < 0 {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
			}
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// ScheduleAt registers fn to run at the given time and returns a token
// for cancellation. Times in the past fire as soon as a worker is free.
func (q *Queue) ScheduleAt(at time.Time, fn Handler) Token {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		log.Printf("timerq: schedule on closed queue dropped")
		return 0
	}
	q.nextTok++
	token := q.nextTok
	e := &entry{token: token, at: at, fn: fn}
	heap.Push(&q.entries, e)
	q.pending[token] = e
	q.mu.Unlock()

	q.notify()
	return token
}

// ScheduleAfter registers fn to run after the given delay.
func (q *Queue) ScheduleAfter(d time.Duration, fn Handler) Token {
	return q.ScheduleAt(time.Now().Add(d), fn)
}

// Cancel removes a pending timer. Returns false if the timer already
// fired, was already cancelled, or never existed; cancelling such a
// token is a safe no-op.
func (q *Queue) Cancel(token Token) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.pending[token]
	if !ok {
		return false
	}
	delete(q.pending, token)
	if e.index >= 0 {
		heap.Remove(&q.entries, e.index)
	}
	return true
}

// Len returns the number of pending timers.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Close marks the queue closed for new schedules and waits for workers
// after the context passed to Start is cancelled.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notify()
	q.wg.Wait()
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
