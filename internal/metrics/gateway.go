package metrics

// Bus attachment, TCP gateway and hub series.
var (
	serialRx    = newCounter("serial_rx_frames_total", "CAN frames decoded from the serial bus adapter.")
	socketCANRx = newCounter("socketcan_rx_frames_total", "CAN frames read from the SocketCAN interface.")
	serialTx    = newCounter("serial_tx_frames_total", "CAN frames written to the serial bus adapter.")
	socketCANTx = newCounter("socketcan_tx_frames_total", "CAN frames written to the SocketCAN interface.")

	tcpRx        = newCounter("tcp_rx_frames_total", "CAN frames received from TCP clients.")
	tcpTx        = newCounter("tcp_tx_frames_total", "CAN frames sent to TCP clients.")
	backpressure = newCounter("gateway_tx_backpressure_total",
		"Client frames rejected because the transmit object stayed full.")

	hubDropped  = newCounter("hub_dropped_frames_total", "CAN frames dropped by the hub for slow clients.")
	hubKicked   = newCounter("hub_kicked_clients_total", "Clients disconnected by the kick policy.")
	hubRejected = newCounter("hub_rejected_clients_total", "Client connections rejected (max-clients).")
	hubClients  = newGauge("hub_active_clients", "Connected clients.")
	hubFanout   = newGauge("hub_broadcast_fanout", "Clients targeted by the most recent broadcast.")
	hubDepthMax = newGauge("hub_queue_depth_max", "Largest client queue in the last sample.")
	hubDepthAvg = newGauge("hub_queue_depth_avg", "Average client queue in the last sample.")
)

func IncSerialRx()    { serialRx.inc() }
func IncSocketCANRx() { socketCANRx.inc() }
func IncSerialTx()    { serialTx.inc() }
func IncSocketCANTx() { socketCANTx.inc() }

func IncTCPRx()        { tcpRx.inc() }
func AddTCPTx(n int)   { tcpTx.add(n) }
func IncBackpressure() { backpressure.inc() }

func IncHubDrop()              { hubDropped.inc() }
func IncHubKick()              { hubKicked.inc() }
func IncHubReject()            { hubRejected.inc() }
func SetHubClients(n int)      { hubClients.set(n) }
func SetBroadcastFanout(n int) { hubFanout.set(n) }

// SetQueueDepth records the max and average client queue depth.
func SetQueueDepth(maxDepth, avgDepth int) {
	hubDepthMax.set(maxDepth)
	hubDepthAvg.set(avgDepth)
}
