package wire

import "errors"

var (
	// ErrDestroyed is returned by operations on a destroyed connection.
	ErrDestroyed = errors.New("wire: connection destroyed")

	// ErrInvalidAck is returned by Ack(0).
	ErrInvalidAck = errors.New("wire: ack must be a positive integer")

	// ErrNotAuthenticated is the destroy cause when the peer sends traffic
	// before the handshake completed.
	ErrNotAuthenticated = errors.New("wire: did not receive handshake")

	// ErrIdentityMismatch is reported when a handshake's static key differs
	// from the pinned peer identity.
	ErrIdentityMismatch = errors.New("wire: handshake identity does not match expected peer")

	// ErrIdentityRequired is returned by New when neither an identity nor
	// plaintext mode was configured.
	ErrIdentityRequired = errors.New("wire: identity key pair is required unless plaintext")

	// ErrBadHandshake is reported for handshakes carrying malformed keys.
	ErrBadHandshake = errors.New("wire: malformed handshake")

	// ErrHandshakeReplay is reported when a handshake ephemeral key was
	// already used by another connection.
	ErrHandshakeReplay = errors.New("wire: handshake ephemeral key replayed")

	// ErrHandshakeRateLimited is reported when stranger handshakes arrive
	// faster than Options.HandshakeLimit allows.
	ErrHandshakeRateLimited = errors.New("wire: handshake rate limit exceeded")

	// ErrUnexpectedHandshake is reported when an authenticated peer sends a
	// handshake with a different ephemeral key.
	ErrUnexpectedHandshake = errors.New("wire: unexpected handshake on authenticated connection")
)
