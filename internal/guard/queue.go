// Package guard holds the two concurrency primitives the engine leans
// on: a per-resource serialized save queue and generation counters for
// discarding superseded async results.
package guard

import "sync"

type op struct {
	fn   func() error
	done chan error
}

type lane struct {
	pending []op
	running bool
}

// Queue serializes operations per logical resource. Concurrent calls for
// the same key run strictly one at a time in arrival order, so saves are
// never interleaved and never lost to a last-write-wins race in process.
type Queue struct {
	mu    sync.Mutex
	lanes map[string]*lane
}

func NewQueue() *Queue {
	return &Queue{lanes: make(map[string]*lane)}
}

// Do enqueues fn on the key's lane and blocks until it has run, returning
// its error. Operations for different keys proceed independently.
func (q *Queue) Do(key string, fn func() error) error {
	o := op{fn: fn, done: make(chan error, 1)}

	q.mu.Lock()
	l := q.lanes[key]
	if l == nil {
		l = &lane{}
		q.lanes[key] = l
	}
	l.pending = append(l.pending, o)
	if !l.running {
		l.running = true
		go q.drain(key, l)
	}
	q.mu.Unlock()

	return <-o.done
}

func (q *Queue) drain(key string, l *lane) {
	for {
		q.mu.Lock()
		if len(l.pending) == 0 {
			l.running = false
			delete(q.lanes, key)
			q.mu.Unlock()
			return
		}
		next := l.pending[0]
		l.pending = l.pending[1:]
		q.mu.Unlock()

		next.done <- next.fn()
	}
}
