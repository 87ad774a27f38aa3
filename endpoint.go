package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-i2p/go-wire/lib/config"
	"github.com/go-i2p/go-wire/lib/frame"
	"github.com/go-i2p/go-wire/lib/keys"
	"github.com/go-i2p/go-wire/lib/schema"
	"github.com/go-i2p/go-wire/lib/truststore"
	"github.com/go-i2p/go-wire/lib/util"
	"github.com/go-i2p/go-wire/lib/wire"
	"github.com/go-i2p/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/samber/oops"
	"golang.org/x/time/rate"
)

// endpoint holds what every connection of one process shares.
type endpoint struct {
	cfg      *config.WireConfig
	identity keys.KeyPair
	peer     keys.PublicKey
	trust    *truststore.Store
	replay   *wire.ReplayCache
	limiter  *rate.Limiter
	registry *prometheus.Registry
	metrics  *wire.Metrics
	tofu     atomic.Bool
	out      *syncWriter
}

// newEndpoint loads the identity and opens the trust store. The store is
// only needed when some peer may arrive unpinned.
func newEndpoint(cfg *config.WireConfig, out io.Writer) (*endpoint, error) {
	e := &endpoint{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		out:      &syncWriter{w: out},
	}
	e.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	e.metrics = wire.NewMetrics(wire.WithRegistry(e.registry))
	e.tofu.Store(cfg.TOFU)

	if cfg.Plaintext {
		return e, nil
	}

	identity, created, err := keys.LoadOrCreateKeyPair(cfg.IdentityPath)
	if err != nil {
		return nil, err
	}
	if created {
		log.WithField("path", cfg.IdentityPath).Info("Created new identity key")
	}
	e.identity = identity

	if cfg.PeerKey != "" {
		if e.peer, err = keys.ParsePublicKey(cfg.PeerKey); err != nil {
			return nil, oops.Wrapf(err, "peer.public_key")
		}
	} else {
		if e.trust, err = truststore.Open(cfg.TrustDBPath); err != nil {
			return nil, err
		}
	}

	e.replay = wire.NewReplayCache(cfg.ReplayTTL)
	if cfg.HandshakeRate > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.HandshakeRate), cfg.HandshakeBurst)
	}
	return e, nil
}

// Close releases the trust store and replay cache.
func (e *endpoint) Close() {
	if e.replay != nil {
		e.replay.Close()
	}
	if e.trust != nil {
		if err := e.trust.Close(); err != nil {
			log.WithError(err).Warn("closing trust store")
		}
	}
}

// options builds connection options around h.
func (e *endpoint) options(h wire.Handler) wire.Options {
	return wire.Options{
		Identity:       e.identity,
		TheirIdentity:  e.peer,
		Plaintext:      e.cfg.Plaintext,
		Ack:            e.cfg.Ack,
		Handler:        h,
		ReplayCache:    e.replay,
		Metrics:        e.metrics,
		HandshakeLimit: e.limiter,
		InboundQueue:   e.cfg.InboundQueue,
		Limits:         frame.Limits{MaxFrameSize: e.cfg.MaxFrameSize},
	}
}

// decideHandshake accepts a stranger whose key is in the trust store, or
// any stranger when trust on first use is enabled, recording its key.
func (e *endpoint) decideHandshake(ctx context.Context) func(c *wire.Conn, hs *schema.Handshake) {
	return func(c *wire.Conn, hs *schema.Handshake) {
		if e.trust == nil {
			c.RejectHandshake(hs)
			return
		}
		pub, err := keys.PublicKeyFromBytes(hs.StaticKey)
		if err != nil {
			c.RejectHandshake(hs)
			return
		}

		fields := logger.Fields{
			"at":      "main.decideHandshake",
			"conn_id": c.ID(),
			"peer":    pub.Short(),
		}

		trusted, err := e.trust.IsTrusted(ctx, pub)
		if err != nil {
			log.WithFields(fields).WithError(err).Error("Trust store lookup failed")
			c.RejectHandshake(hs)
			return
		}
		if !trusted {
			if !e.tofu.Load() {
				log.WithFields(fields).Warn("Rejecting unknown peer")
				e.printf(c, "rejected unknown peer %s", pub)
				c.RejectHandshake(hs)
				return
			}
			label := "first seen " + time.Now().UTC().Format(time.RFC3339)
			if err := e.trust.Trust(ctx, pub, label); err != nil {
				log.WithFields(fields).WithError(err).Error("Recording new peer failed")
				c.RejectHandshake(hs)
				return
			}
			log.WithFields(fields).Info("Trusting new peer on first use")
		}

		if err := c.AcceptHandshake(hs); err != nil {
			log.WithFields(fields).WithError(err).Warn("Accepting handshake failed")
		}
	}
}

// handler prints connection events. When echo is set, received data is sent
// back and every message is acknowledged with its running count.
func (e *endpoint) handler(ctx context.Context, echo bool) wire.Handler {
	var received atomic.Uint32
	return wire.HandlerFuncs{
		Open: func(c *wire.Conn) {
			if e.cfg.Plaintext {
				e.printf(c, "open (plaintext)")
				return
			}
			e.printf(c, "open peer=%s role=%s", c.TheirIdentity(), c.Role())
		},
		Message: func(c *wire.Conn, payload []byte) {
			n := received.Add(1)
			e.printf(c, "message %d: %s", n, payload)
			if !echo {
				return
			}
			if err := c.Send(payload); err != nil {
				log.WithError(err).WithField("conn_id", c.ID()).Debug("echo_failed")
				return
			}
			if err := c.Ack(n); err != nil {
				log.WithError(err).WithField("conn_id", c.ID()).Debug("ack_failed")
			}
		},
		Request: func(c *wire.Conn, seq uint32) {
			e.printf(c, "request %d", seq)
		},
		Ack: func(c *wire.Conn, ack uint32) {
			e.printf(c, "ack %d", ack)
		},
		Handshake: e.decideHandshake(ctx),
		Error: func(c *wire.Conn, err error) {
			e.printf(c, "error: %v", err)
		},
		Close: func(c *wire.Conn) {
			e.printf(c, "closed")
		},
	}
}

// serve runs one connection over rwc until either side ends it.
func (e *endpoint) serve(ctx context.Context, rwc io.ReadWriteCloser, remote string, echo bool) error {
	opts := e.options(e.handler(ctx, echo))
	c, err := wire.New(opts)
	if err != nil {
		return err
	}
	unregister := util.RegisterCloser(c)
	defer unregister()

	log.WithFields(logger.Fields{
		"at":      "main.serve",
		"conn_id": c.ID(),
		"remote":  remote,
	}).Debug("connection_started")
	return wire.Serve(ctx, c, rwc)
}

func (e *endpoint) printf(c *wire.Conn, format string, args ...any) {
	id := c.ID()
	if len(id) > 8 {
		id = id[:8]
	}
	e.out.printf("[%s] %s\n", id, fmt.Sprintf(format, args...))
}

// syncWriter serializes output from concurrent connections.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format, args...)
}
