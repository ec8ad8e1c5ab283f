package metrics

// Controller engine series. The helpers run inside the engine's critical
// section and only touch atomics.
var (
	irqEvents = newCounter("mscan_irq_events_total",
		"Sub-events handled by the interrupt handler (rx, tx completion, overrun, status change).")
	rxDispatched = newCounter("mscan_rx_dispatched_total",
		"Received frames queued to a message object.")
	rxDiscarded = newCounter("mscan_rx_discarded_total",
		"Received frames matching no message object.")
	rxQueueOverruns = newCounter("mscan_rx_queue_overruns_total",
		"Received frames dropped because the object's queue was full.")
	dataOverruns = newCounter("mscan_data_overruns_total",
		"Controller receive FIFO overruns.")
	txScheduled = newCounter("mscan_tx_scheduled_total",
		"Frames moved from a message object into a hardware transmit buffer.")
	txCompleted = newCounter("mscan_tx_completed_total",
		"Hardware transmit buffers reported free after a scheduled frame.")
	txDeferred = newCounter("mscan_tx_deferred_total",
		"Scheduling attempts deferred until an object's outstanding frames were sent.")
	errorEntriesDropped = newCounter("mscan_error_entries_dropped_total",
		"Error entries lost because the error object's queue was full.")
	nodeState = newGauge("mscan_node_state",
		"Controller node state (0 error active, 1 error passive, 2 bus off).")
)

func AddIRQ(n int)          { irqEvents.add(n) }
func IncRxDispatched()      { rxDispatched.inc() }
func IncRxDiscarded()       { rxDiscarded.inc() }
func IncRxQueueOverrun()    { rxQueueOverruns.inc() }
func IncDataOverrun()       { dataOverruns.inc() }
func IncTxScheduled()       { txScheduled.inc() }
func IncTxCompleted()       { txCompleted.inc() }
func IncTxDeferred()        { txDeferred.inc() }
func IncErrorEntryDropped() { errorEntriesDropped.inc() }

// SetNodeState records the node state as 0 (active), 1 (passive) or 2 (bus off).
func SetNodeState(s int) { nodeState.set(s) }
