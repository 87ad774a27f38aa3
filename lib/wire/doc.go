// Package wire implements an authenticated, encrypted, ordered message
// connection over any byte stream.
//
// A Conn exchanges length-prefixed frames. Before anything else each side
// sends a Handshake carrying its ephemeral and long-term keys; once the peer
// is trusted, key agreement runs through a Session (a Double Ratchet by
// default) and all further traffic travels inside Encrypted envelopes.
// Inside them the payload layer carries Data, Request and Ack messages.
//
// Outbound operations issued before authentication are deferred and flushed
// in call order once the handshake completes. Inbound frames are processed
// one at a time on a single goroutine per connection, so handler callbacks
// observe messages in wire order.
//
//	a, _ := wire.New(wire.Options{Identity: alice, TheirIdentity: bob.Public})
//	b, _ := wire.New(wire.Options{Identity: bob, TheirIdentity: alice.Public})
//	wire.Pipe(a, b)
//	a.Send([]byte("hey"))
//
// In plaintext mode the handshake and envelope layers are skipped and the
// connection is authenticated from construction.
package wire
