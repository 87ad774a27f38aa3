// Package keys holds the X25519 key pairs used by go-wire.
//
// A connection uses two of them: a long-term identity key pair that names a
// party across connections, and an ephemeral handshake key pair generated per
// connection. Identity key pairs can be persisted to disk with StoreKeyPair
// and loaded back with LoadKeyPair or LoadOrCreateKeyPair.
package keys
