//go:build windows

package signals

import (
	"os"
	"os/signal"
)

func init() {
	signal.Notify(sigChan, os.Interrupt)
}

// Handle dispatches signals to registered handlers until StopHandle is called.
func Handle() {
	for sig := range sigChan {
		log.WithField("signal", sig.String()).Debug("signal_received")
		if sig == os.Interrupt {
			handleInterrupted()
		}
	}
}
