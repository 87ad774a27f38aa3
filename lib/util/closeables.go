package util

import (
	"io"
	"sync"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

var (
	closeOnExit = map[uint64]io.Closer{}
	nextCloser  uint64
	closeMutex  sync.Mutex
)

// RegisterCloser registers c to be closed by CloseAll. The returned function
// removes the registration and is safe to call more than once; call it when c
// is closed on its own so long-running processes do not accumulate closers.
func RegisterCloser(c io.Closer) (unregister func()) {
	closeMutex.Lock()
	defer closeMutex.Unlock()
	id := nextCloser
	nextCloser++
	closeOnExit[id] = c
	log.WithField("count", len(closeOnExit)).Debug("registered closer")

	return func() {
		closeMutex.Lock()
		defer closeMutex.Unlock()
		delete(closeOnExit, id)
	}
}

// RegisteredClosers returns the number of closers waiting for CloseAll.
func RegisteredClosers() int {
	closeMutex.Lock()
	defer closeMutex.Unlock()
	return len(closeOnExit)
}

// CloseAll closes every registered closer and clears the registry. Closers
// run outside the lock, so they may unregister themselves.
func CloseAll() {
	closeMutex.Lock()
	pending := closeOnExit
	closeOnExit = map[uint64]io.Closer{}
	closeMutex.Unlock()

	log.WithField("count", len(pending)).Debug("closing all registered closers")
	for _, c := range pending {
		if err := c.Close(); err != nil {
			log.WithError(err).Warn("error closing resource")
		}
	}
}
