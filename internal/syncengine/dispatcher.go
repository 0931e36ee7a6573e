package syncengine

import (
	"sync"
)

const (
	defaultWorkers    = 4
	defaultQueueDepth = 64
)

// Dispatcher routes jobs to a fixed pool of workers keyed by
// connection id: all work for one connection lands on one worker and
// runs in submission order, while different connections proceed in
// parallel.
type Dispatcher struct {
	queues []chan func()
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts the worker pool. workers and queueDepth fall
// back to defaults when non-positive.
func NewDispatcher(workers, queueDepth int) *Dispatcher {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if queueDepth <= 0 {
		queueDepth = defaultQueueDepth
	}

	d := &Dispatcher{
		queues: make([]chan func(), workers),
	}
	for i := range d.queues {
		d.queues[i] = make(chan func(), queueDepth)
		d.wg.Add(1)
		go d.run(d.queues[i])
	}
	return d
}

func (d *Dispatcher) run(queue chan func()) {
	defer d.wg.Done()
	for job := range queue {
		job()
	}
}

// Submit enqueues a job for the worker owning connectionID. Blocks
// when that worker's queue is full, which applies backpressure instead
// of reordering. Returns false after Close.
func (d *Dispatcher) Submit(connectionID uint, job func()) bool {
	// Read lock held across the send so Close cannot close a channel
	// mid-send. Submitters for different connections still proceed in
	// parallel.
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	d.queues[int(connectionID)%len(d.queues)] <- job
	return true
}

// Close stops accepting jobs and waits for queued work to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	for _, queue := range d.queues {
		close(queue)
	}
	d.wg.Wait()
}
