package mscan

import (
	"context"
	"time"

	"github.com/kstaniek/go-mscan/internal/can"
	"github.com/kstaniek/go-mscan/internal/regs"
)

// deadline converts a wait mode into an absolute deadline; zero means none.
func deadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

// wait parks on o's current wake channel with the device lock and the
// critical section released. The caller holds both on entry and on return.
func (c *Controller) wait(ctx context.Context, o *object, until time.Time) error {
	wake := o.wake
	o.waiters++
	c.mu.Unlock()
	c.dev.Unlock()
	defer func() {
		c.dev.Lock()
		c.mu.Lock()
		o.waiters--
	}()

	var expired <-chan time.Time
	if !until.IsZero() {
		d := time.Until(until)
		if d <= 0 {
			return ErrTimeout
		}
		t := time.NewTimer(d)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-wake:
		return nil
	case <-expired:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Write enqueues f on transmit object nr. When the queue is full it fails
// with ErrQueueFull for NoWait, waits for space up to timeout, or without
// limit for Forever.
func (c *Controller) Write(ctx context.Context, nr int, f can.Frame, timeout time.Duration) error {
	if nr <= 0 || nr >= NumObjects {
		return ErrBadMsgNum
	}
	if f.Len > can.MaxLen {
		f.Len = can.MaxLen
	}
	c.dev.Lock()
	defer c.dev.Unlock()

	o := &c.objs[nr]
	until := deadline(timeout)
	c.mu.Lock()
	for {
		if o.dir != Transmit {
			c.mu.Unlock()
			return ErrBadDir
		}
		if !c.enabled {
			c.mu.Unlock()
			return ErrNotInit
		}
		if !o.q.full() {
			break
		}
		if timeout < 0 {
			c.mu.Unlock()
			return ErrQueueFull
		}
		if err := c.wait(ctx, o, until); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	o.q.push(entry{frame: f})
	c.r.Write8(c.lay.TIER, regs.TxBufMask)
	c.mu.Unlock()
	c.log.Debug("enqueue", "obj", nr, "frame", f.String())
	return nil
}

// dequeue waits for an entry on receive object nr (or the error object).
func (c *Controller) dequeue(ctx context.Context, nr int, timeout time.Duration) (entry, error) {
	if nr < 0 || nr >= NumObjects {
		return entry{}, ErrBadMsgNum
	}
	c.dev.Lock()
	defer c.dev.Unlock()

	o := &c.objs[nr]
	until := deadline(timeout)
	c.mu.Lock()
	for {
		if o.dir != Receive {
			c.mu.Unlock()
			return entry{}, ErrBadDir
		}
		if o.q.filled > 0 {
			break
		}
		if timeout < 0 {
			c.mu.Unlock()
			return entry{}, ErrNoMessage
		}
		if err := c.wait(ctx, o, until); err != nil {
			c.mu.Unlock()
			return entry{}, err
		}
	}
	e := o.q.pop()
	if nr != ErrorObject {
		o.q.errSent = false
	}
	c.mu.Unlock()
	return e, nil
}

// Read dequeues the oldest frame of receive object nr. Empty queues fail
// with ErrNoMessage for NoWait, otherwise Read waits like Write.
func (c *Controller) Read(ctx context.Context, nr int, timeout time.Duration) (can.Frame, error) {
	if nr == ErrorObject {
		return can.Frame{}, ErrBadMsgNum
	}
	e, err := c.dequeue(ctx, nr, timeout)
	if err != nil {
		return can.Frame{}, err
	}
	c.log.Debug("dequeue", "obj", nr, "frame", e.frame.String())
	return e.frame, nil
}

// ReadError waits until the error object holds an entry and returns it.
func (c *Controller) ReadError(ctx context.Context) (ErrorEntry, error) {
	e, err := c.dequeue(ctx, ErrorObject, Forever)
	if err != nil {
		return ErrorEntry{}, err
	}
	return e.err, nil
}

// WriteBlock enqueues as many of frames as fit into transmit object nr
// without waiting and returns the number taken.
func (c *Controller) WriteBlock(nr int, frames []can.Frame) (int, error) {
	if nr <= 0 || nr >= NumObjects {
		return 0, ErrBadMsgNum
	}
	c.dev.Lock()
	defer c.dev.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	o := &c.objs[nr]
	if o.dir != Transmit {
		return 0, ErrBadDir
	}
	if !c.enabled {
		return 0, ErrNotInit
	}
	n := min(o.q.free(), len(frames))
	for i := 0; i < n; i++ {
		f := frames[i]
		if f.Len > can.MaxLen {
			f.Len = can.MaxLen
		}
		o.q.push(entry{frame: f})
	}
	c.r.Write8(c.lay.TIER, regs.TxBufMask)
	return n, nil
}

// ReadBlock dequeues up to len(buf) frames from receive object nr without
// waiting and returns the number copied.
func (c *Controller) ReadBlock(nr int, buf []can.Frame) (int, error) {
	if nr <= 0 || nr >= NumObjects {
		return 0, ErrBadMsgNum
	}
	c.dev.Lock()
	defer c.dev.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	o := &c.objs[nr]
	if o.dir != Receive {
		return 0, ErrBadDir
	}
	n := min(o.q.filled, len(buf))
	for i := 0; i < n; i++ {
		buf[i] = o.q.pop().frame
	}
	o.q.errSent = false
	return n, nil
}
