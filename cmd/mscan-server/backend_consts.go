package main

import "time"

const (
	txQueueSize       = 1024 // frames buffered towards the bus adapter
	serialReadBufSize = 4096
	// largeBufferReclaimThreshold is the capacity above which an emptied
	// serial accumulation buffer is reallocated.
	largeBufferReclaimThreshold = 16 * 1024
	rxBackoffMin                = 20 * time.Millisecond
	rxBackoffMax                = 500 * time.Millisecond
	openRetryDelay              = 200 * time.Millisecond
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// rxBackoff paces a bus receive loop after read errors: the pause doubles
// per consecutive error up to rxBackoffMax and a good read resets it.
type rxBackoff struct{ next time.Duration }

func (b *rxBackoff) reset() { b.next = rxBackoffMin }

// step returns the pause for the current error and doubles the next one.
func (b *rxBackoff) step() time.Duration {
	if b.next == 0 {
		b.reset()
	}
	d := b.next
	b.next = min(b.next*2, rxBackoffMax)
	return d
}
