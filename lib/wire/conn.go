package wire

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/go-i2p/go-wire/lib/frame"
	"github.com/go-i2p/go-wire/lib/keys"
	"github.com/go-i2p/go-wire/lib/ratchet"
	"github.com/go-i2p/go-wire/lib/schema"
	"github.com/go-i2p/logger"
	"github.com/google/uuid"
	"github.com/samber/oops"
	"golang.org/x/time/rate"
)

var log = logger.GetGoI2PLogger()

// State is the lifecycle position of a Conn.
type State int

const (
	// StateCreated is the zero value; New leaves it immediately.
	StateCreated State = iota
	StateUnauthenticated
	StateAuthenticated
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Conn is one end of a wire connection. Bytes read from it are framed
// outbound traffic for the transport; bytes written to it are inbound
// traffic from the transport.
type Conn struct {
	id        string
	handler   Handler
	session   Session
	identity  keys.KeyPair
	pinned    bool
	plaintext bool
	replay    *ReplayCache
	metrics   *Metrics
	limiter   *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex
	dec     *frame.Decoder
	inbound chan []byte

	// checkedEphemeral is owned by the processing goroutine.
	checkedEphemeral keys.PublicKey

	mu             sync.Mutex
	readable       *sync.Cond
	out            []byte
	state          State
	handshake      keys.KeyPair
	initiator      bool
	handshakeSent  bool
	theirIdentity  keys.PublicKey
	theirHandshake keys.PublicKey
	role           ratchet.Role
	ack            uint32
	pending        []schema.Payload
	decision       chan struct{}
	transport      io.Closer
	err            error
}

// New creates a connection and starts its processing goroutine.
func New(opts Options) (*Conn, error) {
	if !opts.Plaintext && opts.Identity.IsZero() {
		return nil, ErrIdentityRequired
	}

	handshake := opts.Handshake
	if !opts.Plaintext && handshake.IsZero() {
		var err error
		if handshake, err = keys.Generate(); err != nil {
			return nil, oops.Wrapf(err, "generating handshake key")
		}
	}

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	handler := opts.Handler
	if handler == nil {
		handler = HandlerFuncs{}
	}
	queue := opts.InboundQueue
	if queue <= 0 {
		queue = DefaultInboundQueue
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		id:            id,
		handler:       handler,
		identity:      opts.Identity,
		pinned:        !opts.TheirIdentity.IsZero(),
		plaintext:     opts.Plaintext,
		replay:        opts.ReplayCache,
		metrics:       opts.Metrics,
		limiter:       opts.HandshakeLimit,
		ctx:           ctx,
		cancel:        cancel,
		dec:           frame.NewDecoder(opts.Limits),
		inbound:       make(chan []byte, queue),
		handshake:     handshake,
		theirIdentity: opts.TheirIdentity,
		ack:           opts.Ack,
	}
	c.readable = sync.NewCond(&c.mu)

	if opts.Plaintext {
		c.state = StateAuthenticated
	} else {
		c.state = StateUnauthenticated
		newSession := opts.NewSession
		if newSession == nil {
			newSession = newRatchetSession
		}
		c.session = newSession(opts.Identity, handshake)
	}

	c.metrics.opened()
	if opts.Plaintext {
		c.metrics.authenticatedConn()
	}

	log.WithFields(logger.Fields{
		"at":        "wire.New",
		"conn_id":   id,
		"plaintext": opts.Plaintext,
		"pinned":    c.pinned,
	}).Debug("conn_created")

	go c.run()
	return c, nil
}

// ID returns the connection's log identifier.
func (c *Conn) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Authenticated reports whether the peer has been authenticated. Plaintext
// connections are authenticated from construction.
func (c *Conn) Authenticated() bool {
	return c.State() == StateAuthenticated
}

// Initiator reports whether this side opened the handshake.
func (c *Conn) Initiator() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initiator
}

// Role returns the key agreement role, RoleUnknown before authentication.
func (c *Conn) Role() ratchet.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// TheirIdentity returns the pinned or authenticated peer identity.
func (c *Conn) TheirIdentity() keys.PublicKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.theirIdentity
}

// Err returns the error the connection was destroyed with.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed when the connection is destroyed.
func (c *Conn) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Open sends the local handshake, once. It does nothing in plaintext mode or
// when a handshake has already been sent.
func (c *Conn) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDestroyed {
		return ErrDestroyed
	}
	return c.openLocked()
}

// Send queues payload as a Data message carrying the current ack counter.
// Before authentication it is deferred and the handshake is started.
func (c *Conn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDestroyed {
		return ErrDestroyed
	}
	return c.queueLocked(&schema.Data{Payload: bytes.Clone(payload), Ack: c.ack})
}

// Request asks the peer for message seq. It does nothing once destroyed.
func (c *Conn) Request(seq uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDestroyed {
		return nil
	}
	return c.queueLocked(&schema.Request{Seq: seq})
}

// Ack records n as the last message received and tells the peer. Later Data
// messages carry n as well.
func (c *Conn) Ack(n uint32) error {
	if n == 0 {
		return ErrInvalidAck
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDestroyed {
		return nil
	}
	c.ack = n
	return c.queueLocked(&schema.Ack{Ack: n})
}

// Read returns framed outbound bytes, blocking until some are available.
// It returns io.EOF once the connection is destroyed.
func (c *Conn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.out) == 0 && c.state != StateDestroyed {
		c.readable.Wait()
	}
	if c.state == StateDestroyed {
		return 0, io.EOF
	}
	n := copy(p, c.out)
	c.out = c.out[n:]
	if len(c.out) == 0 {
		c.out = nil
	}
	return n, nil
}

// Write feeds inbound bytes. Complete frames are queued for processing;
// Write blocks while the queue is full.
func (c *Conn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.State() == StateDestroyed {
		return 0, ErrDestroyed
	}
	if _, err := c.dec.Write(p); err != nil {
		return 0, ErrDestroyed
	}

	for {
		body, ok := c.dec.Next()
		if !ok {
			break
		}
		select {
		case c.inbound <- body:
		case <-c.ctx.Done():
			return 0, ErrDestroyed
		}
	}

	if err := c.dec.Err(); err != nil {
		c.Destroy(err)
		return 0, err
	}
	return len(p), nil
}

// Close destroys the connection without an error.
func (c *Conn) Close() error {
	c.Destroy(nil)
	return nil
}

// Destroy tears the connection down. Only the first call has an effect: it
// closes both directions and any attached transport, reports err through
// OnError when non-nil, and fires OnClose.
func (c *Conn) Destroy(err error) {
	c.mu.Lock()
	if c.state == StateDestroyed {
		c.mu.Unlock()
		return
	}
	wasAuthenticated := c.state == StateAuthenticated
	c.state = StateDestroyed
	c.err = err
	c.out = nil
	c.pending = nil
	c.handshake.Zero()
	transport := c.transport
	c.transport = nil
	c.settleLocked()
	c.readable.Broadcast()
	c.mu.Unlock()

	c.cancel()
	c.dec.Close()
	if c.session != nil {
		c.session.Close()
	}
	if transport != nil {
		if cerr := transport.Close(); cerr != nil {
			log.WithError(cerr).WithField("conn_id", c.id).Debug("transport_close_failed")
		}
	}

	fields := logger.Fields{
		"at":      "wire.Destroy",
		"conn_id": c.id,
	}
	if err != nil {
		log.WithFields(fields).WithError(err).Debug("conn_destroyed")
	} else {
		log.WithFields(fields).Debug("conn_closed")
	}

	c.metrics.destroyed(wasAuthenticated, err)
	if err != nil {
		c.handler.OnError(c, err)
	}
	c.handler.OnClose(c)
}

// attach makes Destroy close t as well.
func (c *Conn) attach(t io.Closer) {
	c.mu.Lock()
	if c.state != StateDestroyed {
		c.transport = t
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	t.Close()
}

func (c *Conn) destroyed() bool {
	return c.State() == StateDestroyed
}

func (c *Conn) openLocked() error {
	if c.plaintext || c.handshakeSent {
		return nil
	}
	c.initiator = true
	return c.writeHandshakeLocked()
}

// queueLocked sends p now when authenticated and defers it otherwise.
func (c *Conn) queueLocked(p schema.Payload) error {
	if c.state != StateAuthenticated {
		c.pending = append(c.pending, p)
		log.WithFields(logger.Fields{
			"at":      "wire.queue",
			"conn_id": c.id,
			"kind":    p.PayloadKind().String(),
			"pending": len(c.pending),
		}).Debug("deferred_until_authenticated")
		return c.openLocked()
	}
	return c.sendLocked(p)
}

func (c *Conn) sendLocked(p schema.Payload) error {
	body, err := schema.EncodePayload(p)
	if err != nil {
		return oops.Wrapf(err, "encoding %s", p.PayloadKind())
	}
	if !c.plaintext {
		enc, err := c.session.Encrypt(c.ctx, body)
		if err != nil {
			return oops.Wrapf(err, "encrypting %s", p.PayloadKind())
		}
		if body, err = schema.EncodeEnvelope(enc); err != nil {
			return oops.Wrapf(err, "encoding envelope")
		}
	}
	c.emitLocked(body)
	log.WithFields(logger.Fields{
		"at":      "wire.send",
		"conn_id": c.id,
		"kind":    p.PayloadKind().String(),
	}).Debug("sending")
	return nil
}

func (c *Conn) writeHandshakeLocked() error {
	body, err := schema.EncodeEnvelope(&schema.Handshake{
		EphemeralKey:  c.handshake.Public.Bytes(),
		StaticKey:     c.identity.Public.Bytes(),
		Authenticated: c.state == StateAuthenticated,
	})
	if err != nil {
		return oops.Wrapf(err, "encoding handshake")
	}
	c.handshakeSent = true
	c.emitLocked(body)
	log.WithFields(logger.Fields{
		"at":            "wire.writeHandshake",
		"conn_id":       c.id,
		"initiator":     c.initiator,
		"authenticated": c.state == StateAuthenticated,
	}).Debug("sending_handshake")
	return nil
}

func (c *Conn) emitLocked(body []byte) {
	c.out = frame.AppendFrame(c.out, body)
	c.metrics.frameOut(len(body))
	c.readable.Broadcast()
}

// run processes inbound frames one at a time until the connection is
// destroyed.
func (c *Conn) run() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case body := <-c.inbound:
			if c.destroyed() {
				return
			}
			c.metrics.frameIn(len(body))
			if c.plaintext {
				c.receivePayload(body)
				continue
			}
			c.receiveEnvelope(body)
		}
	}
}
