package mscan

import "github.com/kstaniek/go-mscan/internal/can"

// entry holds a frame, or an error record in the error object.
type entry struct {
	frame can.Frame
	err   ErrorEntry
	isErr bool
}

// queue is the fixed capacity ring of one message object. All fields are
// guarded by the controller's critical section.
type queue struct {
	buf     []entry
	in, out int
	filled  int
	ready   bool
	errSent bool // overrun already reported for this episode
}

func (q *queue) capacity() int { return len(q.buf) }
func (q *queue) full() bool    { return q.filled >= len(q.buf) }
func (q *queue) free() int     { return len(q.buf) - q.filled }

// push appends e. The caller checks full() first.
func (q *queue) push(e entry) {
	q.buf[q.in] = e
	q.in = (q.in + 1) % len(q.buf)
	q.filled++
}

// pop removes the oldest entry. The caller checks filled first.
func (q *queue) pop() entry {
	e := q.buf[q.out]
	q.buf[q.out] = entry{}
	q.out = (q.out + 1) % len(q.buf)
	q.filled--
	return e
}

// clear empties the queue and marks it ready.
func (q *queue) clear() {
	q.in, q.out, q.filled = 0, 0, 0
	q.errSent = false
	q.ready = true
}

// release drops the ring; the object is unusable until reallocated.
func (q *queue) release() {
	q.buf = nil
	q.in, q.out, q.filled = 0, 0, 0
	q.ready = false
}
