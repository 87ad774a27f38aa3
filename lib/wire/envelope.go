package wire

import (
	"errors"

	"github.com/go-i2p/go-wire/lib/schema"
	"github.com/go-i2p/logger"
)

func (c *Conn) receiveEnvelope(body []byte) {
	env, err := schema.DecodeEnvelope(body)
	if err != nil {
		if errors.Is(err, schema.ErrUnknownKind) {
			c.metrics.dropped(dropUnknownKind)
			return
		}
		c.metrics.dropped(dropMalformed)
		log.WithError(err).WithFields(logger.Fields{
			"at":      "wire.receiveEnvelope",
			"conn_id": c.id,
			"size":    len(body),
		}).Warn("Dropping malformed envelope")
		return
	}

	switch m := env.(type) {
	case *schema.Handshake:
		c.receiveHandshake(m)
	case *schema.Encrypted:
		c.receiveEncrypted(m)
	}
}

func (c *Conn) receiveEncrypted(m *schema.Encrypted) {
	// no key to decrypt with yet
	if !c.Authenticated() {
		c.metrics.dropped(dropNotAuthenticated)
		log.WithFields(logger.Fields{
			"at":      "wire.receiveEncrypted",
			"conn_id": c.id,
			"counter": m.Counter,
		}).Debug("dropping_encrypted_before_handshake")
		return
	}

	plaintext, err := c.session.Decrypt(c.ctx, m)
	if err != nil {
		c.metrics.dropped(dropDecryptError)
		log.WithError(err).WithFields(logger.Fields{
			"at":       "wire.receiveEncrypted",
			"conn_id":  c.id,
			"counter":  m.Counter,
			"previous": m.PreviousCounter,
		}).Warn("Dropping message that failed to decrypt")
		return
	}
	c.receivePayload(plaintext)
}
