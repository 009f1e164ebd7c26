package utils

import "sync/atomic"

// IDAllocator hands out increasing int32 ids, such as sync ids or node ids.
// It is safe for concurrent use.
type IDAllocator struct {
	next atomic.Int32
}

// NewIDAllocator returns an allocator whose first id is start.
func NewIDAllocator(start int32) *IDAllocator {
	a := &IDAllocator{}
	a.next.Store(start)
	return a
}

// NextID returns the next id.
func (a *IDAllocator) NextID() int32 {
	return a.next.Add(1) - 1
}

// Peek returns the id NextID will return, without consuming it.
func (a *IDAllocator) Peek() int32 {
	return a.next.Load()
}
