package mscan

// Notifier is fired when a receive object got a frame, a transmit object
// released queue space or the error object got an entry. Notify runs inside
// the interrupt handler's critical section and must not block.
type Notifier interface {
	Notify()
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func()

func (f NotifierFunc) Notify() { f() }

// ChanNotifier signals a channel without blocking; notifications coalesce
// while the channel is full.
type ChanNotifier struct {
	C chan struct{}
}

// NewChanNotifier returns a notifier with a buffer of n (at least 1).
func NewChanNotifier(n int) *ChanNotifier {
	return &ChanNotifier{C: make(chan struct{}, max(n, 1))}
}

func (n *ChanNotifier) Notify() {
	select {
	case n.C <- struct{}{}:
	default:
	}
}

// SetSignal installs n on object nr. The object must currently be
// configured with direction dir; an already installed notifier fails with
// ErrSigBusy.
func (c *Controller) SetSignal(nr int, dir Direction, n Notifier) error {
	if nr < 0 || nr >= NumObjects {
		return ErrBadMsgNum
	}
	if n == nil {
		return ErrBadParameter
	}
	c.dev.Lock()
	defer c.dev.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	o := &c.objs[nr]
	if o.dir != dir {
		return ErrBadDir
	}
	if o.notify != nil {
		return ErrSigBusy
	}
	o.notify = n
	return nil
}

// ClearSignal removes the notifier of object nr.
func (c *Controller) ClearSignal(nr int) error {
	if nr < 0 || nr >= NumObjects {
		return ErrBadMsgNum
	}
	c.dev.Lock()
	defer c.dev.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	o := &c.objs[nr]
	if o.notify == nil {
		return ErrSigBusy
	}
	o.notify = nil
	return nil
}
