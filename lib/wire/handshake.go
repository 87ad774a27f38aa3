package wire

import (
	"github.com/go-i2p/go-wire/lib/keys"
	"github.com/go-i2p/go-wire/lib/ratchet"
	"github.com/go-i2p/go-wire/lib/schema"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

func handshakeKeys(hs *schema.Handshake) (static, ephemeral keys.PublicKey, err error) {
	if static, err = keys.PublicKeyFromBytes(hs.StaticKey); err != nil {
		return static, ephemeral, oops.Wrapf(ErrBadHandshake, "static key: %v", err)
	}
	if ephemeral, err = keys.PublicKeyFromBytes(hs.EphemeralKey); err != nil {
		return static, ephemeral, oops.Wrapf(ErrBadHandshake, "ephemeral key: %v", err)
	}
	return static, ephemeral, nil
}

// receiveHandshake runs on the processing goroutine. For an unpinned peer
// it blocks until the application decides.
func (c *Conn) receiveHandshake(hs *schema.Handshake) {
	static, ephemeral, err := handshakeKeys(hs)
	if err != nil {
		c.metrics.dropped(dropMalformed)
		log.WithError(err).WithField("conn_id", c.id).Warn("Dropping malformed handshake")
		return
	}

	fields := logger.Fields{
		"at":            "wire.receiveHandshake",
		"conn_id":       c.id,
		"peer":          static.Short(),
		"authenticated": hs.Authenticated,
	}

	c.mu.Lock()
	switch c.state {
	case StateDestroyed:
		c.mu.Unlock()
		return
	case StateAuthenticated:
		known := c.theirHandshake
		c.mu.Unlock()
		if hs.Authenticated || ephemeral.Equal(known) {
			c.metrics.handshake(handshakeDuplicate)
			log.WithFields(fields).Debug("ignoring_duplicate_handshake")
			return
		}
		c.metrics.handshake(handshakeFailed)
		c.handler.OnError(c, ErrUnexpectedHandshake)
		return
	}
	pinned, expected := c.pinned, c.theirIdentity
	c.mu.Unlock()

	log.WithFields(fields).Debug("received_handshake")

	if pinned && !static.Equal(expected) {
		c.metrics.handshake(handshakeMismatch)
		log.WithFields(fields).WithField("expected", expected.Short()).Warn("Handshake identity mismatch")
		c.handler.OnError(c, ErrIdentityMismatch)
		return
	}

	if !pinned && c.limiter != nil && !c.limiter.Allow() {
		c.metrics.handshake(handshakeRateLimited)
		c.handler.OnError(c, ErrHandshakeRateLimited)
		return
	}

	// a peer may repeat its handshake on the same connection
	if c.replay != nil && !ephemeral.Equal(c.checkedEphemeral) {
		if c.replay.CheckAndAdd(ephemeral) {
			c.metrics.handshake(handshakeReplayed)
			log.WithFields(fields).Warn("Handshake ephemeral key replayed")
			c.handler.OnError(c, ErrHandshakeReplay)
			return
		}
		c.checkedEphemeral = ephemeral
	}

	if pinned {
		// failures are reported through OnError
		c.authenticate(hs)
		return
	}

	decided := c.awaitDecision()
	c.handler.OnHandshake(c, hs)
	select {
	case <-decided:
	case <-c.ctx.Done():
	}
}

// AcceptHandshake trusts the peer named by hs and completes key agreement.
// It also releases inbound processing held for the decision. Accepting on an
// authenticated connection does nothing.
func (c *Conn) AcceptHandshake(hs *schema.Handshake) error {
	defer c.settle()
	if hs == nil {
		return ErrBadHandshake
	}
	return c.authenticate(hs)
}

// RejectHandshake declines hs and releases inbound processing. The
// connection stays open.
func (c *Conn) RejectHandshake(hs *schema.Handshake) {
	c.metrics.handshake(handshakeRejected)
	if hs != nil {
		if static, err := keys.PublicKeyFromBytes(hs.StaticKey); err == nil {
			log.WithFields(logger.Fields{
				"at":      "wire.RejectHandshake",
				"conn_id": c.id,
				"peer":    static.Short(),
			}).Debug("handshake_rejected")
		}
	}
	c.settle()
}

// authenticate binds the peer, runs key agreement and, on success, flushes
// deferred traffic. Failures other than ErrDestroyed are also reported
// through OnError.
func (c *Conn) authenticate(hs *schema.Handshake) error {
	static, ephemeral, err := handshakeKeys(hs)
	if err != nil {
		c.handler.OnError(c, err)
		return err
	}

	c.mu.Lock()
	switch c.state {
	case StateDestroyed:
		c.mu.Unlock()
		return ErrDestroyed
	case StateAuthenticated:
		c.mu.Unlock()
		return nil
	}

	if err := c.agreeLocked(static, ephemeral); err != nil {
		c.mu.Unlock()
		c.metrics.handshake(handshakeFailed)
		log.WithError(err).WithFields(logger.Fields{
			"at":      "wire.authenticate",
			"conn_id": c.id,
			"peer":    static.Short(),
		}).Warn("Key agreement failed")
		c.handler.OnError(c, err)
		return err
	}

	c.state = StateAuthenticated
	c.theirIdentity = static
	c.theirHandshake = ephemeral

	var errs []error
	if !hs.Authenticated {
		if err := c.writeHandshakeLocked(); err != nil {
			errs = append(errs, err)
		}
	}
	pending := c.pending
	c.pending = nil
	for _, p := range pending {
		if err := c.sendLocked(p); err != nil {
			errs = append(errs, err)
		}
	}
	role := c.role
	c.mu.Unlock()

	c.metrics.authenticatedConn()
	c.metrics.handshake(handshakeAccepted)
	log.WithFields(logger.Fields{
		"at":      "wire.authenticate",
		"conn_id": c.id,
		"peer":    static.Short(),
		"role":    role.String(),
		"flushed": len(pending),
	}).Debug("authenticated")

	c.handler.OnOpen(c)
	for _, err := range errs {
		c.handler.OnError(c, err)
	}
	return nil
}

// agreeLocked feeds the peer's keys to the session and derives the master
// key. Must be called with mu held.
func (c *Conn) agreeLocked(static, ephemeral keys.PublicKey) error {
	if c.pinned && !static.Equal(c.theirIdentity) {
		return ErrIdentityMismatch
	}
	role, err := ratchet.ComputeRole(c.identity.Public, static)
	if err != nil {
		return err
	}
	c.session.SetTheirIdentity(static)
	c.session.SetRole(role)
	c.session.SetTheirHandshake(ephemeral)
	if err := c.session.ComputeMasterKey(c.ctx); err != nil {
		return oops.Wrapf(err, "computing master key")
	}
	c.role = role
	return nil
}

func (c *Conn) awaitDecision() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settleLocked()
	c.decision = make(chan struct{})
	return c.decision
}

func (c *Conn) settle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settleLocked()
}

func (c *Conn) settleLocked() {
	if c.decision != nil {
		close(c.decision)
		c.decision = nil
	}
}
