package wire

import (
	"context"

	"github.com/go-i2p/go-wire/lib/frame"
	"github.com/go-i2p/go-wire/lib/keys"
	"github.com/go-i2p/go-wire/lib/ratchet"
	"github.com/go-i2p/go-wire/lib/schema"
	"golang.org/x/time/rate"
)

// DefaultInboundQueue is the number of decoded frames a Conn buffers before
// Write blocks.
const DefaultInboundQueue = 64

// Session is the per-connection crypto session. *ratchet.Session satisfies
// it.
type Session interface {
	SetTheirIdentity(pub keys.PublicKey)
	SetRole(r ratchet.Role)
	SetTheirHandshake(pub keys.PublicKey)
	ComputeMasterKey(ctx context.Context) error
	Encrypt(ctx context.Context, plaintext []byte) (*schema.Encrypted, error)
	Decrypt(ctx context.Context, msg *schema.Encrypted) ([]byte, error)
	Close()
}

// SessionFactory creates the crypto session for a connection from the local
// identity and handshake key pairs.
type SessionFactory func(identity, handshake keys.KeyPair) Session

func newRatchetSession(identity, handshake keys.KeyPair) Session {
	return ratchet.NewSession(identity, handshake)
}

// Handler receives connection events. OnOpen, OnMessage, OnRequest, OnAck,
// OnHandshake and the OnError calls raised while processing inbound frames
// run one at a time on the connection's processing goroutine. OnClose and
// the OnError for an explicit Destroy run on the goroutine calling Destroy.
// Handlers may call back into the Conn.
type Handler interface {
	// OnOpen fires once the peer has been authenticated.
	OnOpen(c *Conn)
	// OnMessage delivers the payload of a Data message.
	OnMessage(c *Conn, payload []byte)
	// OnRequest delivers the sequence number of a Request.
	OnRequest(c *Conn, seq uint32)
	// OnAck delivers a non-zero ack carried by Data or Ack.
	OnAck(c *Conn, ack uint32)
	// OnHandshake asks for a trust decision on an unpinned peer. Inbound
	// processing waits until AcceptHandshake, RejectHandshake or Destroy
	// is called, from this callback or later.
	OnHandshake(c *Conn, hs *schema.Handshake)
	// OnError reports a non-fatal error, or the cause of a destroy.
	OnError(c *Conn, err error)
	// OnClose fires exactly once when the connection is destroyed.
	OnClose(c *Conn)
}

// HandlerFuncs adapts optional functions to Handler. A nil Handshake func
// rejects every stranger.
type HandlerFuncs struct {
	Open      func(c *Conn)
	Message   func(c *Conn, payload []byte)
	Request   func(c *Conn, seq uint32)
	Ack       func(c *Conn, ack uint32)
	Handshake func(c *Conn, hs *schema.Handshake)
	Error     func(c *Conn, err error)
	Close     func(c *Conn)
}

var _ Handler = HandlerFuncs{}

func (h HandlerFuncs) OnOpen(c *Conn) {
	if h.Open != nil {
		h.Open(c)
	}
}

func (h HandlerFuncs) OnMessage(c *Conn, payload []byte) {
	if h.Message != nil {
		h.Message(c, payload)
	}
}

func (h HandlerFuncs) OnRequest(c *Conn, seq uint32) {
	if h.Request != nil {
		h.Request(c, seq)
	}
}

func (h HandlerFuncs) OnAck(c *Conn, ack uint32) {
	if h.Ack != nil {
		h.Ack(c, ack)
	}
}

func (h HandlerFuncs) OnHandshake(c *Conn, hs *schema.Handshake) {
	if h.Handshake == nil {
		c.RejectHandshake(hs)
		return
	}
	h.Handshake(c, hs)
}

func (h HandlerFuncs) OnError(c *Conn, err error) {
	if h.Error != nil {
		h.Error(c, err)
	}
}

func (h HandlerFuncs) OnClose(c *Conn) {
	if h.Close != nil {
		h.Close(c)
	}
}

// Options configures a Conn.
type Options struct {
	// Identity is the local long-term key pair. Required unless Plaintext.
	Identity keys.KeyPair

	// TheirIdentity pins the expected peer identity. When zero, every
	// handshake goes through Handler.OnHandshake.
	TheirIdentity keys.PublicKey

	// Handshake is the local ephemeral key pair; generated when zero.
	Handshake keys.KeyPair

	// Plaintext disables the handshake and envelope layers.
	Plaintext bool

	// Ack is the initial ack counter carried by outgoing Data.
	Ack uint32

	// ID names the connection in logs; a UUID when empty.
	ID string

	Handler    Handler
	NewSession SessionFactory

	// ReplayCache, when set, rejects handshake ephemeral keys seen by other
	// connections sharing the cache.
	ReplayCache *ReplayCache

	Metrics *Metrics

	// HandshakeLimit throttles handshakes from unpinned peers.
	HandshakeLimit *rate.Limiter

	// InboundQueue is the number of decoded frames buffered ahead of the
	// processing goroutine (DefaultInboundQueue when <= 0).
	InboundQueue int

	Limits frame.Limits
}
