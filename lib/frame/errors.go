package frame

import "errors"

var (
	// ErrFrameTooLarge is returned when a length prefix announces a body
	// bigger than Limits.MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame: body exceeds maximum frame size")

	// ErrBadPrefix is returned when the length prefix is not a valid varint.
	ErrBadPrefix = errors.New("frame: malformed length prefix")

	// ErrDecoderClosed is returned by Decoder.Write after Close.
	ErrDecoderClosed = errors.New("frame: decoder closed")
)
