// Package priority implements a fixed-size worker pool that executes
// submitted tasks in ascending priority order, lowest value first. Equal
// priorities run in submission order.
package priority

import (
	"container/heap"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrTimeout  = errors.New("timed out waiting for result")
	ErrShutdown = errors.New("pool is shut down")
)

type Task func() (any, error)

// Future is the handle returned by Submit. It completes exactly once,
// either with a result or an error.
type Future struct {
	done   chan struct{}
	result any
	err    error
}

func (f *Future) complete(result any, err error) {
	f.result = result
	f.err = err
	close(f.done)
}

func (f *Future) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result blocks until the task completes or timeout elapses. A timeout of
// zero or less waits forever.
func (f *Future) Result(timeout time.Duration) (any, error) {
	if timeout <= 0 {
		<-f.done
		return f.result, f.err
	}
	select {
	case <-f.done:
		return f.result, f.err
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}

type item struct {
	priority float64
	seq      uint64
	task     Task
	future   *Future
}

type taskHeap []*item

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)        { *h = append(*h, x.(*item)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Pool runs tasks on a fixed number of workers sharing one priority-ordered
// queue. The queue lock and the tie-break counter are the only synchronized
// state; task execution itself is unsynchronized.
type Pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  taskHeap
	seq    uint64
	closed bool
	wg     sync.WaitGroup
}

func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(workers)
	for range workers {
		go p.worker()
	}
	return p
}

// Submit enqueues a task with the given priority and returns its Future.
// Safe for concurrent callers.
func (p *Pool) Submit(task Task, priority float64) *Future {
	f := &Future{done: make(chan struct{})}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		f.complete(nil, ErrShutdown)
		return f
	}
	p.seq++
	heap.Push(&p.queue, &item{priority: priority, seq: p.seq, task: task, future: f})
	p.mu.Unlock()
	p.cond.Signal()
	return f
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 && p.closed {
			p.mu.Unlock()
			return
		}
		it := heap.Pop(&p.queue).(*item)
		p.mu.Unlock()
		it.future.complete(run(it.task))
	}
}

// run executes a task, converting panics into errors so a bad task never
// takes a worker down.
func run(task Task) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return task()
}

// Shutdown stops accepting new tasks and returns after the queue drains and
// all workers exit.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
	p.wg.Wait()
}
