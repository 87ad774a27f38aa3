// Package ratchet is the cryptographic session engine behind a go-wire
// connection.
//
// A Session is created with the local identity and handshake key pairs. Once
// the peer's identity, handshake key and the connection role are known,
// ComputeMasterKey runs a triple X25519 agreement:
//
//	initiator                         receiver
//	DH(identity_i,  handshake_r)  ==  DH(handshake_r, identity_i)
//	DH(handshake_i, identity_r)   ==  DH(identity_r,  handshake_i)
//	DH(handshake_i, handshake_r)  ==  DH(handshake_r, handshake_i)
//
// and derives the root key of a Double Ratchet from the concatenation.
// The receiver may send immediately on a chain taken from the master key;
// the initiator performs the first DH ratchet step itself, which starts the
// ping-pong of fresh ratchet keys in both directions.
//
// Each message is sealed with ChaCha20-Poly1305 under a one-time message key,
// with the ratchet header (ephemeral key, counter, previous counter) bound
// as associated data. Decrypt is transactional: a frame that fails to
// authenticate leaves the session exactly as it was.
package ratchet
