package wire

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// Pipe connects two connections in memory: everything a emits is written
// to b and the other way round. It returns immediately; the copies stop
// when either side is destroyed.
func Pipe(a, b *Conn) {
	go pump(b, a)
	go pump(a, b)
}

func pump(dst io.Writer, src io.Reader) {
	if _, err := io.Copy(dst, src); err != nil && !errors.Is(err, ErrDestroyed) {
		log.WithError(err).Debug("pipe_copy_stopped")
	}
}

// Serve runs c over rwc until the transport ends, c is destroyed or ctx is
// cancelled. The transport is closed when c is destroyed. Serve returns the
// error c was destroyed with; a clean hang-up returns nil.
func Serve(ctx context.Context, c *Conn, rwc io.ReadWriteCloser) error {
	c.attach(rwc)

	errc := make(chan error, 2)
	go func() {
		_, err := io.Copy(c, rwc)
		errc <- transportError(err, "reading from transport")
	}()
	go func() {
		_, err := io.Copy(rwc, c)
		errc <- transportError(err, "writing to transport")
	}()

	var cause error
	select {
	case cause = <-errc:
	case <-c.Done():
	case <-ctx.Done():
	}

	fields := logger.Fields{
		"at":      "wire.Serve",
		"conn_id": c.id,
	}
	if cause != nil {
		log.WithFields(fields).WithError(cause).Debug("transport_failed")
	} else {
		log.WithFields(fields).Debug("serve_finished")
	}

	c.Destroy(cause)
	return c.Err()
}

// transportError maps copy results to a destroy cause. End of stream and
// our own teardown are not errors.
func transportError(err error, op string) error {
	switch {
	case err == nil,
		errors.Is(err, io.EOF),
		errors.Is(err, ErrDestroyed),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, io.ErrClosedPipe):
		return nil
	}
	return oops.Wrapf(err, "%s", op)
}
