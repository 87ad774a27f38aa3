package frame

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"sync"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxFrameSize uint64
}

// DefaultLimits allows frames up to 4 MiB.
func DefaultLimits() Limits {
	return Limits{
		MaxFrameSize: 4 * 1024 * 1024,
	}
}

func (l Limits) orDefault() Limits {
	if l.MaxFrameSize == 0 {
		return DefaultLimits()
	}
	return l
}

// EncodedLen returns the number of bytes Encode produces for a body of n bytes.
func EncodedLen(n int) int {
	var tmp [binary.MaxVarintLen64]byte
	return binary.PutUvarint(tmp[:], uint64(n)) + n
}

// Encode frames a single body.
func Encode(body []byte) []byte {
	return AppendFrame(make([]byte, 0, EncodedLen(len(body))), body)
}

// AppendFrame appends the framed body to dst and returns the extended slice.
func AppendFrame(dst, body []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(body)))
	return append(dst, body...)
}

// Decoder reassembles frames from bytes pushed into it with Write.
// It is safe for concurrent use.
type Decoder struct {
	mu     sync.Mutex
	buf    []byte
	limits Limits
	closed bool
	err    error
}

// NewDecoder returns a push-style decoder.
func NewDecoder(limits Limits) *Decoder {
	return &Decoder{limits: limits.orDefault()}
}

// Write buffers p. It never returns a short write; once a malformed prefix
// has been seen every further Write fails with that error.
func (d *Decoder) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrDecoderClosed
	}
	if d.err != nil {
		return 0, d.err
	}
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Next pops the next complete frame. The second return value is false when
// more bytes are needed. A corrupt stream is reported through Err.
func (d *Decoder) Next() ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil || len(d.buf) == 0 {
		return nil, false
	}

	size, n := binary.Uvarint(d.buf)
	if n == 0 {
		return nil, false
	}
	if n < 0 {
		d.fail(ErrBadPrefix)
		return nil, false
	}
	if size > d.limits.MaxFrameSize {
		d.fail(oops.Wrapf(ErrFrameTooLarge, "announced %d bytes, limit %d", size, d.limits.MaxFrameSize))
		return nil, false
	}
	end := n + int(size)
	if len(d.buf) < end {
		return nil, false
	}

	body := make([]byte, size)
	copy(body, d.buf[n:end])
	d.buf = d.buf[end:]
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return body, true
}

// Buffered returns the number of bytes waiting for a complete frame.
func (d *Decoder) Buffered() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buf)
}

// Err returns the error that stopped the decoder, if any.
func (d *Decoder) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Close drops buffered bytes and rejects further writes.
func (d *Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.buf = nil
	return nil
}

func (d *Decoder) fail(err error) {
	log.WithError(err).WithField("buffered", len(d.buf)).Debug("frame_decoder_failed")
	d.err = err
	d.buf = nil
}

// Reader reads frames from a stream.
type Reader struct {
	r      *bufio.Reader
	limits Limits
}

// NewReader wraps r.
func NewReader(r io.Reader, limits Limits) *Reader {
	return &Reader{r: bufio.NewReader(r), limits: limits.orDefault()}
}

// ReadFrame blocks until one whole frame is available. It returns io.EOF
// when the stream ends cleanly on a frame boundary and
// io.ErrUnexpectedEOF when it ends inside a frame.
func (fr *Reader) ReadFrame() ([]byte, error) {
	size, err := binary.ReadUvarint(fr.r)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, err
		}
		return nil, oops.Wrapf(ErrBadPrefix, "%v", err)
	}
	if size > fr.limits.MaxFrameSize {
		return nil, oops.Wrapf(ErrFrameTooLarge, "announced %d bytes, limit %d", size, fr.limits.MaxFrameSize)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(fr.r, body); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}
