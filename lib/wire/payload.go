package wire

import (
	"errors"

	"github.com/go-i2p/go-wire/lib/schema"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// receivePayload dispatches a decrypted (or plaintext) payload.
func (c *Conn) receivePayload(body []byte) {
	p, err := schema.DecodePayload(body)
	if err != nil {
		if errors.Is(err, schema.ErrUnknownKind) {
			c.metrics.dropped(dropUnknownKind)
			return
		}
		c.metrics.dropped(dropPayloadError)
		c.handler.OnError(c, oops.Wrapf(err, "decoding payload"))
		return
	}

	log.WithFields(logger.Fields{
		"at":      "wire.receivePayload",
		"conn_id": c.id,
		"kind":    p.PayloadKind().String(),
	}).Debug("received")

	if ack, ok := schema.AckOf(p); ok && ack != 0 {
		c.handler.OnAck(c, ack)
	}

	switch m := p.(type) {
	case *schema.Request:
		if !c.Authenticated() {
			c.Destroy(ErrNotAuthenticated)
			return
		}
		c.handler.OnRequest(c, m.Seq)
	case *schema.Data:
		if !c.Authenticated() {
			c.Destroy(ErrNotAuthenticated)
			return
		}
		c.handler.OnMessage(c, m.Payload)
	}
}
