package mscan

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-mscan/internal/bustiming"
	"github.com/kstaniek/go-mscan/internal/can"
	"github.com/kstaniek/go-mscan/internal/metrics"
	"github.com/kstaniek/go-mscan/internal/regs"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestController(t *testing.T, l regs.Layout) (*Controller, *regs.Sim) {
	t.Helper()
	sim := regs.NewSim(l)
	c, err := New(Config{Clock: bustiming.Clock32MHz, Layout: l, Logger: testLogger()}, sim)
	require.NoError(t, err)
	return c, sim
}

// online configures the error object plus the given objects and enables
// the controller at 1 Mbit/s.
func online(t *testing.T, c *Controller, loopback bool) {
	t.Helper()
	require.NoError(t, c.Configure(ErrorObject, Receive, 16, can.AcceptAll()))
	require.NoError(t, c.SetBitrate(bustiming.Rate1M, false))
	require.NoError(t, c.SetLoopback(loopback))
	c.EnableIRQ(true)
	require.NoError(t, c.Enable(true))
}

// service runs the interrupt handler while the line is asserted.
func service(c *Controller, sim *regs.Sim) {
	for i := 0; i < 1000 && sim.Pending(); i++ {
		c.Irq()
	}
}

// settle lets the bus complete every pending transmission.
func settle(c *Controller, sim *regs.Sim) {
	for i := 0; i < 10000; i++ {
		service(c, sim)
		if _, ok := sim.Transmit(); !ok {
			service(c, sim)
			return
		}
	}
}

func TestEndToEndLoopback(t *testing.T) {
	c, sim := newTestController(t, regs.Z15)
	require.NoError(t, c.Configure(1, Transmit, 10, can.Filter{}))
	require.NoError(t, c.Configure(2, Receive, 10, can.AcceptAll()))
	online(t, c, true)

	want := can.NewFrame(0x45, false, 1, 2, 3, 4, 5, 6, 7, 8)
	require.NoError(t, c.Write(context.Background(), 1, want, NoWait))
	settle(c, sim)

	got, err := c.Read(context.Background(), 2, NoWait)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	rec := sim.Launched()
	require.Len(t, rec, 1)
	assert.Equal(t, uint8(0x10), rec[0].Prio)
	assert.Equal(t, want, rec[0].Frame)
}

func TestExtendedAndRemoteFramesLoopback(t *testing.T) {
	c, sim := newTestController(t, regs.Odin)
	require.NoError(t, c.Configure(1, Transmit, 10, can.Filter{}))
	require.NoError(t, c.Configure(2, Receive, 10, can.AcceptAllExtended()))
	require.NoError(t, c.Configure(3, Receive, 10, can.AcceptAll()))
	online(t, c, true)

	ext := can.NewFrame(0x18fef100, true, 0xde, 0xad)
	rtr := can.Frame{ID: 0x7ff, Flags: can.RTR, Len: 2}
	require.NoError(t, c.Write(context.Background(), 1, ext, NoWait))
	require.NoError(t, c.Write(context.Background(), 1, rtr, NoWait))
	settle(c, sim)

	got, err := c.Read(context.Background(), 2, NoWait)
	require.NoError(t, err)
	assert.Equal(t, ext, got)
	got, err = c.Read(context.Background(), 3, NoWait)
	require.NoError(t, err)
	assert.Equal(t, rtr, got)
}

func TestTxPriorityMonotonicAndOrdered(t *testing.T) {
	c, sim := newTestController(t, regs.Z15)
	const n = 40
	require.NoError(t, c.Configure(1, Transmit, n, can.Filter{}))
	require.NoError(t, c.Configure(2, Receive, n, can.AcceptAll()))
	online(t, c, true)

	frames := make([]can.Frame, n)
	for i := range frames {
		frames[i] = can.NewFrame(uint32(0x100+i), false, byte(i))
	}
	written, err := c.WriteBlock(1, frames)
	require.NoError(t, err)
	require.Equal(t, n, written)
	settle(c, sim)

	rec := sim.Launched()
	require.Len(t, rec, n)
	for i, r := range rec {
		assert.Equal(t, uint8(0x10|i%16), r.Prio, "launch %d", i)
		assert.Equal(t, frames[i], r.Frame)
	}

	buf := make([]can.Frame, n+5)
	got, err := c.ReadBlock(2, buf)
	require.NoError(t, err)
	require.Equal(t, n, got)
	assert.Equal(t, frames, buf[:got])
}

func TestTxObjectsKeepPerObjectOrder(t *testing.T) {
	c, sim := newTestController(t, regs.Z15)
	require.NoError(t, c.Configure(1, Transmit, 4, can.Filter{}))
	require.NoError(t, c.Configure(3, Transmit, 4, can.Filter{}))
	require.NoError(t, c.Configure(2, Receive, 16, can.AcceptAll()))
	online(t, c, true)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Write(ctx, 3, can.NewFrame(uint32(0x300+i), false), NoWait))
		require.NoError(t, c.Write(ctx, 1, can.NewFrame(uint32(0x100+i), false), NoWait))
	}
	settle(c, sim)

	perObj := map[uint32][]uint32{}
	for {
		f, err := c.Read(ctx, 2, NoWait)
		if err != nil {
			assert.ErrorIs(t, err, ErrNoMessage)
			break
		}
		perObj[f.ID&0xf00] = append(perObj[f.ID&0xf00], f.ID)
	}
	assert.Equal(t, []uint32{0x100, 0x101, 0x102}, perObj[0x100])
	assert.Equal(t, []uint32{0x300, 0x301, 0x302}, perObj[0x300])
}

func TestRxDispatchFirstMatchWins(t *testing.T) {
	c, sim := newTestController(t, regs.Z15)
	only45 := can.Filter{Code: 0x45}
	require.NoError(t, c.Configure(4, Receive, 4, only45))
	require.NoError(t, c.Configure(5, Receive, 4, can.AcceptAll()))
	require.NoError(t, c.Configure(6, Receive, 4, can.AcceptAll()))
	online(t, c, false)

	require.True(t, sim.Deliver(can.NewFrame(0x45, false)))
	service(c, sim)
	require.True(t, sim.Deliver(can.NewFrame(0x46, false)))
	service(c, sim)
	require.True(t, sim.Deliver(can.NewFrame(0x47, true)))
	service(c, sim)

	n, _, _ := c.QueueStatus(4)
	assert.Equal(t, 1, n)
	n, _, _ = c.QueueStatus(5)
	assert.Equal(t, 1, n)
	n, _, _ = c.QueueStatus(6)
	assert.Zero(t, n, "later objects never see a frame taken earlier")

	f, err := c.Read(context.Background(), 5, NoWait)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x46), f.ID)
}

func TestQueueOverrunReportedOncePerEpisode(t *testing.T) {
	c, sim := newTestController(t, regs.Z15)
	require.NoError(t, c.Configure(2, Receive, 2, can.AcceptAll()))
	online(t, c, false)

	deliver := func(n int) {
		for i := 0; i < n; i++ {
			require.True(t, sim.Deliver(can.NewFrame(uint32(i), false)))
			service(c, sim)
		}
	}
	deliver(6)
	n, _, err := c.QueueStatus(ErrorObject)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = c.Read(context.Background(), 2, NoWait)
	require.NoError(t, err)
	deliver(3)
	n, _, _ = c.QueueStatus(ErrorObject)
	assert.Equal(t, 2, n)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		e, err := c.ReadError(ctx)
		require.NoError(t, err)
		assert.Equal(t, ErrorEntry{Code: QueueOverrun, Obj: 2}, e)
	}
}

func TestDataOverrunReported(t *testing.T) {
	c, sim := newTestController(t, regs.Z15)
	online(t, c, false)
	for i := 0; i < regs.RxFifoDepth+1; i++ {
		sim.Deliver(can.NewFrame(1, false))
	}
	service(c, sim)

	e, err := c.ReadError(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ErrorEntry{Code: DataOverrun}, e)
}

func TestNodeStateEdges(t *testing.T) {
	c, sim := newTestController(t, regs.Z15)
	online(t, c, false)
	assert.Equal(t, ErrorActive, c.NodeStatus())

	sim.SetBusState(regs.StatePassive, regs.StateOK)
	service(c, sim)
	assert.Equal(t, ErrorPassive, c.NodeStatus())
	sim.SetBusState(regs.StatePassive, regs.StateBusOff)
	service(c, sim)
	assert.Equal(t, BusOff, c.NodeStatus())
	sim.SetBusState(regs.StateOK, regs.StateOK)
	service(c, sim)
	assert.Equal(t, ErrorActive, c.NodeStatus())

	var codes []ErrorCode
	for {
		n, _, _ := c.QueueStatus(ErrorObject)
		if n == 0 {
			break
		}
		e, err := c.ReadError(context.Background())
		require.NoError(t, err)
		codes = append(codes, e.Code)
	}
	assert.Equal(t, []ErrorCode{WarnSet, BusOffSet, BusOffClr}, codes)
}

func TestNodeStatePassiveRoundTrip(t *testing.T) {
	c, sim := newTestController(t, regs.Z15)
	online(t, c, false)

	sim.SetBusState(regs.StateOK, regs.StatePassive)
	service(c, sim)
	sim.SetBusState(regs.StateWarning, regs.StateWarning)
	service(c, sim)
	sim.SetBusState(regs.StateWarning, regs.StateWarning) // no change
	service(c, sim)

	buf := []ErrorCode{}
	for {
		n, _, _ := c.QueueStatus(ErrorObject)
		if n == 0 {
			break
		}
		e, _ := c.ReadError(context.Background())
		buf = append(buf, e.Code)
	}
	assert.Equal(t, []ErrorCode{WarnSet, WarnClr}, buf)
}

func TestErrorEntriesDroppedWhenErrorQueueFull(t *testing.T) {
	c, sim := newTestController(t, regs.Z15)
	require.NoError(t, c.Configure(ErrorObject, Receive, 1, can.AcceptAll()))
	require.NoError(t, c.SetBitrate(bustiming.Rate500k, false))
	c.EnableIRQ(true)
	require.NoError(t, c.Enable(true))

	sim.SetBusState(regs.StatePassive, regs.StateOK)
	service(c, sim)
	sim.SetBusState(regs.StateOK, regs.StateOK)
	service(c, sim)

	n, _, _ := c.QueueStatus(ErrorObject)
	assert.Equal(t, 1, n)
	e, err := c.ReadError(context.Background())
	require.NoError(t, err)
	assert.Equal(t, WarnSet, e.Code)
}

func TestWriteWaitsForSpace(t *testing.T) {
	c, sim := newTestController(t, regs.Z15)
	require.NoError(t, c.Configure(1, Transmit, 1, can.Filter{}))
	online(t, c, false)
	ctx := context.Background()

	// occupy all three transmit buffers, then fill the queue
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Write(ctx, 1, can.NewFrame(uint32(i), false), NoWait))
		service(c, sim)
	}
	require.Equal(t, 3, sim.PendingTx())
	require.NoError(t, c.Write(ctx, 1, can.NewFrame(3, false), NoWait))
	assert.ErrorIs(t, c.Write(ctx, 1, can.NewFrame(4, false), NoWait), ErrQueueFull)

	start := time.Now()
	err := c.Write(ctx, 1, can.NewFrame(4, false), 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- c.Write(ctx, 1, can.NewFrame(4, false), Forever) }()

	// a blocked writer does not hold the device lock
	time.Sleep(10 * time.Millisecond)
	_, _, err = c.ErrorCounters()
	require.NoError(t, err)

	select {
	case err := <-done:
		t.Fatalf("write returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	_, ok := sim.Transmit()
	require.True(t, ok)
	service(c, sim)
	require.NoError(t, <-done)
}

func TestReadWaitsAndHonoursContext(t *testing.T) {
	c, sim := newTestController(t, regs.Z15)
	require.NoError(t, c.Configure(2, Receive, 4, can.AcceptAll()))
	online(t, c, false)

	_, err := c.Read(context.Background(), 2, NoWait)
	assert.ErrorIs(t, err, ErrNoMessage)
	_, err = c.Read(context.Background(), 2, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err = c.Read(ctx, 2, Forever)
	assert.ErrorIs(t, err, context.Canceled)

	var wg sync.WaitGroup
	wg.Add(1)
	var got can.Frame
	go func() {
		defer wg.Done()
		got, err = c.Read(context.Background(), 2, time.Second)
	}()
	time.Sleep(10 * time.Millisecond)
	require.True(t, sim.Deliver(can.NewFrame(0x99, false, 9)))
	service(c, sim)
	wg.Wait()
	require.NoError(t, err)
	assert.Equal(t, can.NewFrame(0x99, false, 9), got)
}

func TestServeDrivesInterrupts(t *testing.T) {
	c, sim := newTestController(t, regs.Z15)
	require.NoError(t, c.Configure(1, Transmit, 4, can.Filter{}))
	require.NoError(t, c.Configure(2, Receive, 4, can.AcceptAll()))
	online(t, c, true)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- c.Serve(ctx, sim) }()

	require.NoError(t, c.Write(ctx, 1, can.NewFrame(0x45, false, 1), NoWait))
	require.Eventually(t, func() bool { return sim.PendingTx() == 1 }, time.Second, time.Millisecond)
	_, ok := sim.Transmit()
	require.True(t, ok)

	f, err := c.Read(ctx, 2, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x45), f.ID)
	assert.NotZero(t, c.IRQCount())

	cancel()
	assert.ErrorIs(t, <-served, context.Canceled)
}

func TestValidation(t *testing.T) {
	c, _ := newTestController(t, regs.Z15)
	ctx := context.Background()

	assert.ErrorIs(t, c.Configure(1, Direction(3), 1, can.Filter{}), ErrBadDir)
	assert.ErrorIs(t, c.Configure(10, Receive, 1, can.Filter{}), ErrBadMsgNum)
	assert.ErrorIs(t, c.Configure(1, Receive, 0, can.Filter{}), ErrBadParameter)
	assert.NoError(t, c.Configure(1, Disabled, 0, can.Filter{}))
	bad := can.AcceptAllExtended()
	bad.MFlags = can.UseAccField
	assert.ErrorIs(t, c.Configure(1, Receive, 1, bad), ErrBadParameter)

	require.NoError(t, c.Configure(1, Transmit, 2, can.Filter{}))
	require.NoError(t, c.Configure(2, Receive, 2, can.AcceptAll()))

	assert.ErrorIs(t, c.Write(ctx, 0, can.Frame{}, NoWait), ErrBadMsgNum)
	assert.ErrorIs(t, c.Write(ctx, 10, can.Frame{}, NoWait), ErrBadMsgNum)
	assert.ErrorIs(t, c.Write(ctx, 2, can.Frame{}, NoWait), ErrBadDir)
	assert.ErrorIs(t, c.Write(ctx, 1, can.Frame{}, NoWait), ErrNotInit)
	_, err := c.WriteBlock(1, []can.Frame{{}})
	assert.ErrorIs(t, err, ErrNotInit)
	_, err = c.WriteBlock(2, nil)
	assert.ErrorIs(t, err, ErrBadDir)

	_, err = c.Read(ctx, 0, NoWait)
	assert.ErrorIs(t, err, ErrBadMsgNum)
	_, err = c.Read(ctx, 1, NoWait)
	assert.ErrorIs(t, err, ErrBadDir)
	_, err = c.ReadBlock(0, nil)
	assert.ErrorIs(t, err, ErrBadMsgNum)
	_, err = c.ReadBlock(1, nil)
	assert.ErrorIs(t, err, ErrBadDir)
	_, err = c.ReadError(ctx)
	assert.ErrorIs(t, err, ErrBadDir, "error object not configured")

	assert.ErrorIs(t, c.Enable(true), ErrNotInit, "no bus timing")
	require.NoError(t, c.SetBusTiming(bustiming.Timing{BRP: 4, SJW: 1, TSeg1: 5, TSeg2: 2}))
	assert.ErrorIs(t, c.Enable(true), ErrNotInit, "interrupts not enabled")
	assert.ErrorIs(t, c.SetBusTiming(bustiming.Timing{BRP: 0, SJW: 1, TSeg1: 5, TSeg2: 2}), ErrBadTimingDetails)
	assert.ErrorIs(t, c.SetBitrate(bustiming.Rate20k, false), ErrBadSpeed)
	assert.ErrorIs(t, c.SetBitrate(bustiming.Code(9), false), ErrBadSpeed)

	c.EnableIRQ(true)
	require.NoError(t, c.Enable(true))
	assert.ErrorIs(t, c.SetBusTiming(bustiming.Timing{BRP: 4, SJW: 1, TSeg1: 5, TSeg2: 2}), ErrOnline)
	assert.ErrorIs(t, c.SetBitrate(bustiming.Rate1M, false), ErrOnline)
	assert.ErrorIs(t, c.SetLoopback(true), ErrOnline)
	require.NoError(t, c.Enable(false))
	assert.NoError(t, c.SetLoopback(true))
}

func TestSignals(t *testing.T) {
	c, sim := newTestController(t, regs.Z15)
	require.NoError(t, c.Configure(2, Receive, 4, can.AcceptAll()))
	online(t, c, false)

	n := NewChanNotifier(1)
	assert.ErrorIs(t, c.SetSignal(10, Receive, n), ErrBadMsgNum)
	assert.ErrorIs(t, c.SetSignal(2, Transmit, n), ErrBadDir)
	require.NoError(t, c.SetSignal(2, Receive, n))
	assert.ErrorIs(t, c.SetSignal(2, Receive, n), ErrSigBusy)

	calls := 0
	require.NoError(t, c.SetSignal(ErrorObject, Receive, NotifierFunc(func() { calls++ })))

	require.True(t, sim.Deliver(can.NewFrame(1, false)))
	service(c, sim)
	select {
	case <-n.C:
	default:
		t.Fatal("receive notifier not fired")
	}
	sim.SetBusState(regs.StatePassive, regs.StateOK)
	service(c, sim)
	assert.Equal(t, 1, calls)

	require.NoError(t, c.ClearSignal(2))
	assert.ErrorIs(t, c.ClearSignal(2), ErrSigBusy)
	assert.ErrorIs(t, c.ClearSignal(10), ErrBadMsgNum)
}

func TestClearQueueAndStatus(t *testing.T) {
	c, sim := newTestController(t, regs.Z15)
	require.NoError(t, c.Configure(1, Transmit, 5, can.Filter{}))
	require.NoError(t, c.Configure(2, Receive, 5, can.AcceptAll()))
	online(t, c, false)

	sim.Deliver(can.NewFrame(1, false))
	service(c, sim)
	n, dir, err := c.QueueStatus(2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, Receive, dir)

	n, dir, err = c.QueueStatus(1)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, Transmit, dir)

	require.NoError(t, c.ClearQueue(2))
	n, _, _ = c.QueueStatus(2)
	assert.Zero(t, n)
	assert.ErrorIs(t, c.ClearQueue(10), ErrBadMsgNum)
	_, _, err = c.QueueStatus(10)
	assert.ErrorIs(t, err, ErrBadMsgNum)
	assert.NoError(t, c.ClearBusOff())
	assert.Equal(t, ErrorActive, c.NodeStatus())
}

func TestErrorCountersByLayout(t *testing.T) {
	c, sim := newTestController(t, regs.Odin)
	sim.SetErrorCounters(12, 34)
	tx, rx, err := c.ErrorCounters()
	require.NoError(t, err)
	assert.Equal(t, uint8(12), tx)
	assert.Equal(t, uint8(34), rx)
	online(t, c, false)
	_, _, err = c.ErrorCounters()
	assert.ErrorIs(t, err, ErrOnline)

	z, zsim := newTestController(t, regs.Z15)
	online(t, z, false)
	zsim.SetErrorCounters(1, 2)
	tx, rx, err = z.ErrorCounters()
	require.NoError(t, err)
	assert.Equal(t, uint8(1), tx)
	assert.Equal(t, uint8(2), rx)
}

func TestInitHandshakeFailures(t *testing.T) {
	sim := regs.NewSim(regs.Z15)
	sim.SetCANEStuck(true)
	_, err := New(Config{Clock: bustiming.Clock32MHz, Logger: testLogger()}, sim)
	assert.ErrorIs(t, err, ErrDeviceNotReady)

	_, err = New(Config{Logger: testLogger()}, regs.NewSim(regs.Z15))
	assert.ErrorIs(t, err, ErrBadParameter)

	c, sim := newTestController(t, regs.Z15)
	require.NoError(t, c.SetBitrate(bustiming.Rate1M, false))
	c.EnableIRQ(true)
	sim.SetInitStuck(true)
	assert.ErrorIs(t, c.Enable(true), ErrDeviceNotReady)
	assert.False(t, c.Enabled())
}

func TestHardwareFilterRegisters(t *testing.T) {
	c, sim := newTestController(t, regs.Z15)
	l := regs.Z15

	// defaults: filter 0 standard accept-all, filter 1 extended accept-all
	assert.Equal(t, uint8(0xf7), sim.Read8(l.IDMR[1]))
	assert.Equal(t, uint8(0x18), sim.Read8(l.IDAR[5]))
	assert.Equal(t, uint8(0xe7), sim.Read8(l.IDMR[5]))

	std := can.Filter{Code: 0x45, Mask: 0}
	ext := can.Filter{Code: 0x18fef100, Mask: 0xff, CFlags: can.Extended | can.RTR, MFlags: can.RTR}
	require.NoError(t, c.SetFilter(std, ext))

	code := regs.EncodeStdID(0x45, false)
	assert.Equal(t, code[0], sim.Read8(l.IDAR[0]))
	assert.Equal(t, code[1], sim.Read8(l.IDAR[1]))
	mask := regs.EncodeStdMask(0, false)
	for i := 0; i < 4; i++ {
		assert.Equal(t, mask[i], sim.Read8(l.IDMR[i]))
	}
	xcode := regs.EncodeExtID(0x18fef100, true)
	xmask := regs.EncodeExtMask(0xff, true)
	for i := 0; i < 4; i++ {
		assert.Equal(t, xcode[i], sim.Read8(l.IDAR[4+i]))
		assert.Equal(t, xmask[i], sim.Read8(l.IDMR[4+i]))
	}
}

func TestHardwareFilterWhileOnline(t *testing.T) {
	c, sim := newTestController(t, regs.Z15)
	require.NoError(t, c.Configure(2, Receive, 4, can.AcceptAll()))
	online(t, c, false)

	only7ff := can.Filter{Code: 0x7ff, Mask: 0}
	require.NoError(t, c.SetFilter(can.Filter{Code: 0x45}, only7ff))
	assert.True(t, c.Enabled(), "controller back online")

	assert.True(t, sim.Deliver(can.NewFrame(0x45, false)))
	assert.False(t, sim.Deliver(can.NewFrame(0x46, false)))
	service(c, sim)
	n, _, _ := c.QueueStatus(2)
	assert.Equal(t, 1, n)
}

func TestReenableRearmsQueuedTransmissions(t *testing.T) {
	c, sim := newTestController(t, regs.Z15)
	require.NoError(t, c.Configure(1, Transmit, 8, can.Filter{}))
	online(t, c, false)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Write(ctx, 1, can.NewFrame(uint32(i), false), NoWait))
	}
	service(c, sim)
	require.Equal(t, 3, sim.PendingTx())

	require.NoError(t, c.Enable(false))
	require.Equal(t, 0, sim.PendingTx(), "init mode aborts loaded buffers")
	require.NoError(t, c.Enable(true))
	service(c, sim)
	assert.Equal(t, 2, sim.PendingTx())

	rec := sim.Launched()
	require.Len(t, rec, 5)
	assert.Equal(t, uint8(0x10), rec[3].Prio, "scheduling state restarts after re-enable")
}

func TestDump(t *testing.T) {
	c, sim := newTestController(t, regs.Z15)
	require.NoError(t, c.Configure(1, Transmit, 3, can.Filter{}))
	require.NoError(t, c.Configure(2, Receive, 4, can.AcceptAll()))
	online(t, c, false)
	require.NoError(t, c.Write(context.Background(), 1, can.NewFrame(1, false), NoWait))
	service(c, sim)

	out := c.Dump()
	assert.True(t, strings.HasPrefix(out, "MSCAN REGS:\n CTL0=00 CTL1=80\n"), out)
	assert.Contains(t, out, "txPrio: 16 -1 -1 \n")
	assert.Contains(t, out, " OBJ 0: rx\n  totEntries: 16 filled: 0\n")
	assert.Contains(t, out, " OBJ 1: tx\n  txbUsed: 1 txNxtPrio 1 txSentPrio 15\n  totEntries: 3 filled: 0\n")
	assert.Contains(t, out, " OBJ 2: rx\n")
	assert.NotContains(t, out, " OBJ 3:")
}

func TestCloseWakesWaiters(t *testing.T) {
	c, _ := newTestController(t, regs.Z15)
	require.NoError(t, c.Configure(2, Receive, 4, can.AcceptAll()))
	online(t, c, false)

	done := make(chan error, 1)
	go func() {
		_, err := c.Read(context.Background(), 2, Forever)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, c.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrBadDir)
	case <-time.After(time.Second):
		t.Fatal("reader not released by Close")
	}
	assert.False(t, c.Enabled())
}

func waitersOn(c *Controller, nr int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.objs[nr].waiters
}

func TestEveryBlockedReaderIsWoken(t *testing.T) {
	c, sim := newTestController(t, regs.Z15)
	require.NoError(t, c.Configure(2, Receive, 4, can.AcceptAll()))
	online(t, c, false)

	const readers = 3
	got := make(chan uint32, readers)
	errs := make(chan error, readers)
	for i := 0; i < readers; i++ {
		go func() {
			f, err := c.Read(context.Background(), 2, 2*time.Second)
			if err != nil {
				errs <- err
				return
			}
			got <- f.ID
		}()
	}
	require.Eventually(t, func() bool { return waitersOn(c, 2) == readers }, time.Second, time.Millisecond)

	ids := map[uint32]bool{}
	for i := 0; i < readers; i++ {
		id := uint32(0x100 + i)
		require.True(t, sim.Deliver(can.NewFrame(id, false)))
		service(c, sim)
		select {
		case v := <-got:
			ids[v] = true
		case err := <-errs:
			t.Fatalf("reader %d: %v", i, err)
		case <-time.After(time.Second):
			n, _, _ := c.QueueStatus(2)
			t.Fatalf("frame %d not taken, %d queued", i, n)
		}
	}
	assert.Len(t, ids, readers)
	assert.Zero(t, waitersOn(c, 2))
}

func TestEveryBlockedWriterIsWoken(t *testing.T) {
	c, sim := newTestController(t, regs.Z15)
	require.NoError(t, c.Configure(1, Transmit, 1, can.Filter{}))
	online(t, c, false)
	ctx := context.Background()

	// fill the three buffers and the one queue slot
	for i := 0; i < 4; i++ {
		require.NoError(t, c.Write(ctx, 1, can.NewFrame(uint32(i), false), NoWait))
		service(c, sim)
	}
	const writers = 2
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		go func() { errs <- c.Write(ctx, 1, can.NewFrame(0x7f0, false), 2*time.Second) }()
	}
	require.Eventually(t, func() bool { return waitersOn(c, 1) == writers }, time.Second, time.Millisecond)

	for i := 0; i < writers; i++ {
		_, ok := sim.Transmit()
		require.True(t, ok)
		service(c, sim)
		select {
		case err := <-errs:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatalf("writer %d still blocked", i)
		}
	}
}

func TestTxInterruptEnable(t *testing.T) {
	c, sim := newTestController(t, regs.Z15)
	l := sim.Layout()
	require.NoError(t, c.Configure(1, Transmit, 4, can.Filter{}))
	online(t, c, false)
	ctx := context.Background()

	require.NoError(t, c.Write(ctx, 1, can.NewFrame(0x10, false), NoWait))
	assert.Equal(t, uint8(regs.TxBufMask), sim.Read8(l.TIER)&regs.TxBufMask, "write arms every buffer")

	service(c, sim)
	require.Equal(t, 1, sim.PendingTx())
	assert.Equal(t, uint8(0x1), sim.Read8(l.TIER)&regs.TxBufMask, "idle buffers are disarmed")

	_, ok := sim.Transmit()
	require.True(t, ok)
	service(c, sim)
	assert.Zero(t, sim.Read8(l.TIER)&regs.TxBufMask, "drained queue leaves nothing armed")
	assert.False(t, sim.Pending())

	require.NoError(t, c.Write(ctx, 1, can.NewFrame(0x11, false), NoWait))
	assert.Equal(t, uint8(regs.TxBufMask), sim.Read8(l.TIER)&regs.TxBufMask, "write re-arms")
	assert.True(t, sim.Pending())
	service(c, sim)
	rec := sim.Launched()
	require.Len(t, rec, 2)
	assert.Equal(t, uint8(0x11), rec[1].Prio)
}

// complete finishes the lowest priority pending buffer and services the
// resulting interrupt.
func complete(t *testing.T, c *Controller, sim *regs.Sim) {
	t.Helper()
	_, ok := sim.Transmit()
	require.True(t, ok)
	service(c, sim)
}

func TestLocalPriorityZeroWaitsForWrap(t *testing.T) {
	c, sim := newTestController(t, regs.Z15)
	l := sim.Layout()
	require.NoError(t, c.Configure(1, Transmit, 20, can.Filter{}))
	online(t, c, false)

	frames := make([]can.Frame, 19)
	for i := range frames {
		frames[i] = can.NewFrame(uint32(0x200+i), false)
	}
	n, err := c.WriteBlock(1, frames)
	require.NoError(t, err)
	require.Equal(t, len(frames), n)
	service(c, sim)
	require.Len(t, sim.Launched(), 3)

	// local priority k always lands in buffer k%3 until the wrap
	for k := 0; k <= 12; k++ {
		complete(t, c, sim)
	}
	require.Len(t, sim.Launched(), 16)
	require.Equal(t, 3, sim.PendingTx())
	assert.Equal(t, uint8(0x1f), sim.Launched()[15].Prio)

	deferred := metrics.Snap().TxDeferred
	complete(t, c, sim) // 13 done, 15 still in flight
	assert.Len(t, sim.Launched(), 16, "no local priority 0 while 14 and 15 are pending")
	assert.Equal(t, uint8(0x5), sim.Read8(l.TIER)&regs.TxBufMask)
	assert.Equal(t, deferred+1, metrics.Snap().TxDeferred)

	deferred = metrics.Snap().TxDeferred
	complete(t, c, sim) // 14 done, buffers 1 and 2 free
	assert.Len(t, sim.Launched(), 16)
	assert.Equal(t, uint8(0x1), sim.Read8(l.TIER)&regs.TxBufMask)
	assert.Equal(t, deferred+1, metrics.Snap().TxDeferred, "later buffers are not tried once one finds nothing")

	complete(t, c, sim) // 15 done, the wrap is safe and three frames remain
	rec := sim.Launched()
	require.Len(t, rec, 19)
	for i, r := range rec[16:] {
		assert.Equal(t, uint8(0x10|i), r.Prio)
		assert.Equal(t, i, r.Buf)
		assert.Equal(t, frames[16+i], r.Frame)
	}
	assert.Equal(t, uint8(regs.TxBufMask), sim.Read8(l.TIER)&regs.TxBufMask)
}
