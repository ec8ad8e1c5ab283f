//go:build unix

package mscan

import (
	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-mscan/internal/logging"
)

// ProcessSignal delivers a unix signal to a process on every notification.
type ProcessSignal struct {
	Pid int
	Sig unix.Signal
}

func (p ProcessSignal) Notify() {
	if err := unix.Kill(p.Pid, p.Sig); err != nil {
		logging.For("mscan").Debug("signal_send", "pid", p.Pid, "signal", unix.SignalName(p.Sig), "error", err)
	}
}
