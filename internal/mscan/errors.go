package mscan

import (
	"errors"

	"github.com/kstaniek/go-mscan/internal/bustiming"
)

// Call errors. Compare with errors.Is; some are wrapped with detail.
var (
	ErrBadSpeed         = bustiming.ErrBadSpeed
	ErrBadTimingDetails = bustiming.ErrBadTimingDetails
	ErrNoMessage        = errors.New("no frame in receive buffer")
	ErrBadMsgNum        = errors.New("illegal message object number")
	ErrBadDir           = errors.New("illegal message object direction")
	ErrQueueFull        = errors.New("message FIFO full")
	ErrSigBusy          = errors.New("signal installation problem")
	ErrBadParameter     = errors.New("bad parameter")
	ErrNotInit          = errors.New("controller not completely initialized")
	ErrOnline           = errors.New("controller not disabled")
	ErrDeviceNotReady   = errors.New("device not ready")
	ErrTimeout          = errors.New("timeout waiting for message object")
)
