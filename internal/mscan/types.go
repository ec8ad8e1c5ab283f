package mscan

import (
	"fmt"
	"time"
)

// NumObjects is the number of message objects including the error object.
const NumObjects = 10

// ErrorObject is the message object receiving error entries.
const ErrorObject = 0

// Wait modes for Read and Write. Positive durations bound the wait.
const (
	NoWait  time.Duration = -1
	Forever time.Duration = 0
)

// Direction of a message object.
type Direction uint8

const (
	Disabled Direction = iota
	Receive
	Transmit
)

func (d Direction) String() string {
	switch d {
	case Disabled:
		return "disabled"
	case Receive:
		return "rx"
	case Transmit:
		return "tx"
	}
	return fmt.Sprintf("dir(%d)", uint8(d))
}

// ParseDirection accepts "rx", "tx" and "disabled".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "rx", "receive":
		return Receive, nil
	case "tx", "transmit":
		return Transmit, nil
	case "", "disabled", "dis":
		return Disabled, nil
	}
	return Disabled, fmt.Errorf("%w: direction %q", ErrBadDir, s)
}

// NodeStatus is the CAN error state of the controller.
type NodeStatus uint8

const (
	ErrorActive NodeStatus = iota
	ErrorPassive
	BusOff
)

func (s NodeStatus) String() string {
	switch s {
	case ErrorActive:
		return "error-active"
	case ErrorPassive:
		return "error-passive"
	case BusOff:
		return "bus-off"
	}
	return fmt.Sprintf("node(%d)", uint8(s))
}

// ErrorCode identifies an asynchronous error reported through the error object.
type ErrorCode uint8

const (
	BusOffSet    ErrorCode = 1 + iota // controller entered bus off state
	BusOffClr                         // controller left bus off state
	WarnSet                           // controller entered warning state
	WarnClr                           // controller left warning state
	QueueOverrun                      // object's receive fifo overflowed
	DataOverrun                       // controller's FIFO overflowed
)

var errorCodeText = [...]string{
	"(undefined)",
	"controller entered bus off state",
	"controller left bus off state",
	"controller entered warning state",
	"controller left warning state",
	"object's receive fifo overflowed",
	"controller's FIFO overflowed",
}

// ErrorCodes lists every defined error entry code.
var ErrorCodes = []ErrorCode{BusOffSet, BusOffClr, WarnSet, WarnClr, QueueOverrun, DataOverrun}

func (c ErrorCode) String() string {
	if int(c) < len(errorCodeText) {
		return errorCodeText[c]
	}
	return errorCodeText[0]
}

// Name returns the short identifier of the code, e.g. "BUSOFF_SET".
func (c ErrorCode) Name() string {
	switch c {
	case BusOffSet:
		return "BUSOFF_SET"
	case BusOffClr:
		return "BUSOFF_CLR"
	case WarnSet:
		return "WARN_SET"
	case WarnClr:
		return "WARN_CLR"
	case QueueOverrun:
		return "QOVERRUN"
	case DataOverrun:
		return "DATA_OVERRUN"
	}
	return "UNDEFINED"
}

// ErrorEntry is one record of the error object. Obj is the object that
// overran for QueueOverrun, 0 otherwise.
type ErrorEntry struct {
	Code ErrorCode
	Obj  int
}

func (e ErrorEntry) String() string {
	return fmt.Sprintf("%s obj=%d", e.Code.Name(), e.Obj)
}
