package transport

import "errors"

var (
	// ErrUnsupportedScheme is returned by Dial for addresses it cannot route.
	ErrUnsupportedScheme = errors.New("transport: unsupported address scheme")

	// ErrConnectionPoolFull is returned when the server is at its connection
	// limit.
	ErrConnectionPoolFull = errors.New("transport: connection limit reached")
)
