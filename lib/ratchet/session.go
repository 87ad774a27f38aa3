package ratchet

import (
	"context"
	"crypto/rand"
	"io"
	"sync"

	"github.com/go-i2p/go-wire/lib/keys"
	"github.com/go-i2p/go-wire/lib/schema"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"golang.org/x/crypto/chacha20poly1305"
)

var log = logger.GetGoI2PLogger()

// MaxSkip bounds how many message keys a single frame may force us to
// derive and keep for out-of-order delivery.
const MaxSkip = 1000

// NonceSize is the size of the Encrypted.Nonce field.
const NonceSize = chacha20poly1305.NonceSize

type skippedID struct {
	pub     keys.PublicKey
	counter uint32
}

// state is everything that changes while messages flow. Decrypt works on a
// clone and only commits it once the AEAD tag checks out.
type state struct {
	root rootKey

	self   keys.KeyPair
	remote keys.PublicKey

	send     chainKey
	sendN    uint32
	previous uint32

	recv    chainKey
	recvN   uint32
	hasRecv bool

	skipped map[skippedID]messageKey
}

func (st *state) clone() *state {
	c := *st
	c.skipped = make(map[skippedID]messageKey, len(st.skipped))
	for k, v := range st.skipped {
		c.skipped[k] = v
	}
	return &c
}

// Session is a Double Ratchet session bound to one connection.
// It is safe for concurrent use.
type Session struct {
	mu sync.Mutex

	identity  keys.KeyPair
	handshake keys.KeyPair

	theirIdentity  keys.PublicKey
	theirHandshake keys.PublicKey
	role           Role

	st     *state
	rand   io.Reader
	closed bool
}

// NewSession returns an unkeyed session for the given local key pairs.
func NewSession(identity, handshake keys.KeyPair) *Session {
	return &Session{
		identity:  identity,
		handshake: handshake,
		rand:      rand.Reader,
	}
}

// SetTheirIdentity records the peer's long-term public key.
func (s *Session) SetTheirIdentity(pub keys.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.theirIdentity = pub
}

// SetRole records which side of the agreement we play.
func (s *Session) SetRole(r Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.role = r
}

// SetTheirHandshake records the peer's ephemeral handshake key.
func (s *Session) SetTheirHandshake(pub keys.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.theirHandshake = pub
}

// Ready reports whether the master key has been computed.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st != nil
}

// ComputeMasterKey performs the triple Diffie-Hellman and initializes the
// ratchet. It may only succeed once.
func (s *Session) ComputeMasterKey(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.st != nil {
		return ErrAlreadyKeyed
	}
	if s.role == RoleUnknown || s.theirIdentity.IsZero() || s.theirHandshake.IsZero() {
		return ErrMissingPeerKeys
	}

	secret, err := s.tripleDH()
	if err != nil {
		return err
	}

	initiatorID, receiverID := s.identity.Public, s.theirIdentity
	if s.role == Receiver {
		initiatorID, receiverID = receiverID, initiatorID
	}
	root, receiverChain, err := kdfMaster(secret, initiatorID, receiverID)
	if err != nil {
		return err
	}

	st := &state{
		root:    root,
		self:    s.handshake,
		remote:  s.theirHandshake,
		skipped: make(map[skippedID]messageKey),
	}

	switch s.role {
	case Receiver:
		st.send = receiverChain
	case Initiator:
		// the receiver's first messages arrive under its handshake key
		st.recv = receiverChain
		st.hasRecv = true
		if err := s.ratchetSend(st); err != nil {
			return err
		}
	}

	s.st = st
	log.WithFields(logger.Fields{
		"at":    "ratchet.ComputeMasterKey",
		"role":  s.role.String(),
		"peer":  s.theirIdentity.Short(),
		"local": s.identity.Public.Short(),
	}).Debug("master_key_computed")
	return nil
}

func (s *Session) tripleDH() ([]byte, error) {
	var first, second keys.KeyPair
	var firstPub, secondPub keys.PublicKey
	if s.role == Initiator {
		first, firstPub = s.identity, s.theirHandshake
		second, secondPub = s.handshake, s.theirIdentity
	} else {
		first, firstPub = s.handshake, s.theirIdentity
		second, secondPub = s.identity, s.theirHandshake
	}

	dh1, err := first.DH(firstPub)
	if err != nil {
		return nil, err
	}
	dh2, err := second.DH(secondPub)
	if err != nil {
		return nil, err
	}
	dh3, err := s.handshake.DH(s.theirHandshake)
	if err != nil {
		return nil, err
	}

	secret := make([]byte, 0, 3*keys.KeySize)
	secret = append(secret, dh1...)
	secret = append(secret, dh2...)
	return append(secret, dh3...), nil
}

// ratchetSend replaces our ratchet key pair and derives a new sending chain.
func (s *Session) ratchetSend(st *state) error {
	next, err := keys.GenerateFrom(s.rand)
	if err != nil {
		return err
	}
	dhOut, err := next.DH(st.remote)
	if err != nil {
		return err
	}
	root, send, err := kdfRK(st.root, dhOut)
	if err != nil {
		return err
	}
	st.previous = st.sendN
	st.sendN = 0
	st.self = next
	st.root = root
	st.send = send
	return nil
}

// ratchetReceive moves to the peer's new ratchet key.
func (s *Session) ratchetReceive(st *state, remote keys.PublicKey) error {
	st.remote = remote
	dhOut, err := st.self.DH(remote)
	if err != nil {
		return err
	}
	root, recv, err := kdfRK(st.root, dhOut)
	if err != nil {
		return err
	}
	st.root = root
	st.recv = recv
	st.recvN = 0
	st.hasRecv = true
	return s.ratchetSend(st)
}

// Encrypt seals plaintext under the next sending message key.
func (s *Session) Encrypt(ctx context.Context, plaintext []byte) (*schema.Encrypted, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.st == nil {
		return nil, ErrNotReady
	}

	st := s.st
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(s.rand, nonce); err != nil {
		return nil, oops.Wrapf(err, "reading nonce")
	}

	next, mk := kdfCK(st.send)
	aead, err := chacha20poly1305.New(mk[:])
	if err != nil {
		return nil, oops.Wrapf(err, "creating cipher")
	}

	pub := st.self.Public
	ad := encodeHeader(pub, st.sendN, st.previous)
	msg := &schema.Encrypted{
		EphemeralKey:    pub.Bytes(),
		Counter:         st.sendN,
		PreviousCounter: st.previous,
		Ciphertext:      aead.Seal(nil, nonce, plaintext, ad),
		Nonce:           nonce,
	}

	st.send = next
	st.sendN++
	return msg, nil
}

// Decrypt opens msg. On any failure the session state is unchanged.
func (s *Session) Decrypt(ctx context.Context, msg *schema.Encrypted) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if msg == nil || len(msg.Nonce) != NonceSize {
		return nil, ErrBadHeader
	}
	pub, err := keys.PublicKeyFromBytes(msg.EphemeralKey)
	if err != nil {
		return nil, oops.Wrapf(ErrBadHeader, "%v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.st == nil {
		return nil, ErrNotReady
	}

	ad := encodeHeader(pub, msg.Counter, msg.PreviousCounter)
	id := skippedID{pub: pub, counter: msg.Counter}

	if mk, ok := s.st.skipped[id]; ok {
		plaintext, err := open(mk, msg, ad)
		if err != nil {
			return nil, err
		}
		delete(s.st.skipped, id)
		return plaintext, nil
	}

	st := s.st.clone()
	if !pub.Equal(st.remote) {
		if st.hasRecv {
			if err := skipKeys(st, msg.PreviousCounter); err != nil {
				return nil, err
			}
		}
		if err := s.ratchetReceive(st, pub); err != nil {
			return nil, err
		}
	}

	if !st.hasRecv {
		return nil, ErrNoReceiveChain
	}
	if msg.Counter < st.recvN {
		return nil, ErrDuplicateMessage
	}
	if err := skipKeys(st, msg.Counter); err != nil {
		return nil, err
	}

	next, mk := kdfCK(st.recv)
	st.recv = next
	st.recvN++

	plaintext, err := open(mk, msg, ad)
	if err != nil {
		return nil, err
	}
	s.st = st
	return plaintext, nil
}

// skipKeys stores message keys for counters [recvN, until) of the current
// receiving chain.
func skipKeys(st *state, until uint32) error {
	if until <= st.recvN {
		return nil
	}
	if until-st.recvN > MaxSkip || len(st.skipped)+int(until-st.recvN) > 2*MaxSkip {
		return oops.Wrapf(ErrTooManySkipped, "%d messages", until-st.recvN)
	}
	for st.recvN < until {
		var mk messageKey
		st.recv, mk = kdfCK(st.recv)
		st.skipped[skippedID{pub: st.remote, counter: st.recvN}] = mk
		st.recvN++
	}
	return nil
}

func open(mk messageKey, msg *schema.Encrypted, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(mk[:])
	if err != nil {
		return nil, oops.Wrapf(err, "creating cipher")
	}
	plaintext, err := aead.Open(nil, msg.Nonce, msg.Ciphertext, ad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// Role returns the role set on the session.
func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Close wipes key material. Further operations fail with ErrClosed.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.handshake.Zero()
	if s.st != nil {
		s.st.self.Zero()
		s.st.skipped = nil
		s.st = nil
	}
}
