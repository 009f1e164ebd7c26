package net

import "sync"

type commandOp int

const (
	commandAdd commandOp = iota
	commandRemove
)

type command struct {
	op commandOp
	cb *Callback
}

// commandQueue carries registry mutations from any goroutine to the
// registry's owner. It never blocks the producer.
type commandQueue struct {
	mu    sync.Mutex
	items []command
}

func (q *commandQueue) push(c command) {
	q.mu.Lock()
	q.items = append(q.items, c)
	q.mu.Unlock()
}

// take removes and returns everything queued so far, oldest first.
func (q *commandQueue) take() []command {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// drainInto applies queued commands to r until the queue is empty,
// including commands queued while draining.
func (q *commandQueue) drainInto(r *registry) {
	for {
		items := q.take()
		if len(items) == 0 {
			return
		}
		for _, c := range items {
			switch c.op {
			case commandAdd:
				r.add(c.cb)
			case commandRemove:
				r.remove(c.cb)
			}
		}
	}
}
