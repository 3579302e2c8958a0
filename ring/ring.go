/*
Package ring implements a fixed-capacity index ring used to track which
transfer buffers of a streaming pipeline are free. The ring holds no buffer
data itself: Put() hands out the slot at which the caller stores a free buffer
handle and Get() hands out the slot from which the oldest free handle is to be
taken, yielding strict first-in-first-out recycling of buffers.
*/
package ring

// NoIndex is returned by Put() on a full ring and by Get() on an empty one
const NoIndex = ^uint32(0)

// Ring denotes the bookkeeping state of an index ring
type Ring struct {
	capacity uint32
	usage    uint32

	head uint32
	tail uint32
}

// New instantiates a new index ring of the provided capacity
func New(capacity uint32) *Ring {
	r := &Ring{}
	r.Init(capacity)
	return r
}

// Init resets all counters and fixes the ring capacity
func (r *Ring) Init(capacity uint32) {
	*r = Ring{capacity: capacity}
}

// Put claims the next free slot, returning its index (or NoIndex if the ring
// is full, in which case no state is mutated)
func (r *Ring) Put() uint32 {
	if r.usage >= r.capacity {
		return NoIndex
	}

	index := r.head
	r.head++
	if r.head == r.capacity {
		r.head = 0
	}
	r.usage++

	return index
}

// Get releases the oldest occupied slot, returning its index (or NoIndex if
// the ring is empty, in which case no state is mutated)
func (r *Ring) Get() uint32 {
	if r.usage == 0 {
		return NoIndex
	}

	index := r.tail
	r.tail++
	if r.tail == r.capacity {
		r.tail = 0
	}
	r.usage--

	return index
}

// Usage returns the number of currently occupied slots
func (r *Ring) Usage() uint32 {
	return r.usage
}

// Capacity returns the fixed capacity of the ring
func (r *Ring) Capacity() uint32 {
	return r.capacity
}
