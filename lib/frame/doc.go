// Package frame implements the length-prefixed framing used on a go-wire
// byte stream.
//
// Every frame is an unsigned varint holding the body length followed by the
// body itself. The codec is oblivious to what the body contains: the wire
// package puts a one byte discriminant and a schema encoded message there.
//
// Two decoding styles are offered. Decoder is push based: bytes are written
// into it as they arrive and complete frames are taken out with Next, which
// makes it restartable across arbitrary chunk boundaries. Reader is pull
// based and reads frames straight off an io.Reader.
package frame
