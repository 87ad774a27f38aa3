package signals

import (
	"sync"
	"time"
)

// defaultGracefulTimeout bounds how long pre-shutdown handlers may run
// before interrupt handlers start.
const defaultGracefulTimeout = 30 * time.Second

var (
	preShutdownMu       sync.RWMutex
	preShutdownHandlers []Handler
	gracefulTimeout     = defaultGracefulTimeout
)

// RegisterPreShutdownHandler registers a handler that runs before the
// interrupt handlers, such as closing listeners so no new connections arrive
// while live ones are being destroyed. Handlers run in registration order.
// Nil handlers are ignored.
func RegisterPreShutdownHandler(f Handler) {
	if f == nil {
		return
	}
	preShutdownMu.Lock()
	defer preShutdownMu.Unlock()
	preShutdownHandlers = append(preShutdownHandlers, f)
}

// SetGracefulTimeout sets the pre-shutdown timeout. Values <= 0 restore
// the 30 second default.
func SetGracefulTimeout(timeout time.Duration) {
	preShutdownMu.Lock()
	defer preShutdownMu.Unlock()
	if timeout <= 0 {
		gracefulTimeout = defaultGracefulTimeout
	} else {
		gracefulTimeout = timeout
	}
}

// handlePreShutdown runs the pre-shutdown handlers and reports whether they
// finished within the graceful timeout.
func handlePreShutdown() bool {
	preShutdownMu.RLock()
	handlers := make([]registeredHandler, len(preShutdownHandlers))
	for i, h := range preShutdownHandlers {
		handlers[i] = registeredHandler{id: HandlerID(i), fn: h}
	}
	timeout := gracefulTimeout
	preShutdownMu.RUnlock()

	if len(handlers) == 0 {
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		run("pre-shutdown", handlers)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		log.WithField("timeout", timeout).Warn("pre-shutdown handlers timed out")
		return false
	}
}
