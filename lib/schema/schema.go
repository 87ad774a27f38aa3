// Package schema encodes the five go-wire message kinds.
//
// Bodies use the protobuf wire format with every field required, so any
// protobuf implementation of this schema interoperates byte for byte:
//
//	message Handshake { bytes ephemeralKey = 1; bytes staticKey = 2; bool authenticated = 3; }
//	message Encrypted { bytes ephemeralKey = 1; uint32 counter = 2; uint32 previousCounter = 3;
//	                    bytes ciphertext = 4; bytes nonce = 5; }
//	message Request   { uint32 seq = 1; }
//	message Data      { bytes payload = 1; uint32 ack = 2; }
//	message Ack       { uint32 ack = 1; }
//
// On the wire a body is preceded by a one byte discriminant. Envelopes
// (Handshake, Encrypted) and payloads (Request, Data, Ack) use separate
// discriminant spaces because payloads only exist inside a decrypted
// Encrypted envelope.
package schema

import (
	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// Kind is the envelope discriminant.
type Kind byte

const (
	KindHandshake Kind = 0
	KindEncrypted Kind = 1
)

func (k Kind) String() string {
	switch k {
	case KindHandshake:
		return "handshake"
	case KindEncrypted:
		return "encrypted"
	default:
		return "unknown"
	}
}

// PayloadKind is the payload discriminant.
type PayloadKind byte

const (
	KindRequest PayloadKind = 0
	KindData    PayloadKind = 1
	KindAck     PayloadKind = 2
)

func (k PayloadKind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindData:
		return "data"
	case KindAck:
		return "ack"
	default:
		return "unknown"
	}
}

// Message is implemented by every schema type.
type Message interface {
	EncodingLength() int
	AppendBinary(b []byte) ([]byte, error)
	MarshalBinary() ([]byte, error)
	UnmarshalBinary(b []byte) error
}

// Envelope is a Handshake or an Encrypted message.
type Envelope interface {
	Message
	Kind() Kind
}

// Payload is a Request, Data or Ack message.
type Payload interface {
	Message
	PayloadKind() PayloadKind
}

// EncodeEnvelope returns the discriminant followed by the encoded body.
func EncodeEnvelope(e Envelope) ([]byte, error) {
	buf := make([]byte, 1, 1+e.EncodingLength())
	buf[0] = byte(e.Kind())
	return e.AppendBinary(buf)
}

// DecodeEnvelope reads a discriminant tagged envelope. An unrecognized
// discriminant yields ErrUnknownKind so callers can drop it quietly.
func DecodeEnvelope(b []byte) (Envelope, error) {
	if len(b) == 0 {
		return nil, ErrEmptyMessage
	}
	var e Envelope
	switch Kind(b[0]) {
	case KindHandshake:
		e = &Handshake{}
	case KindEncrypted:
		e = &Encrypted{}
	default:
		return nil, unknownKind(b[0])
	}
	if err := e.UnmarshalBinary(b[1:]); err != nil {
		log.WithError(err).WithField("kind", Kind(b[0]).String()).Debug("envelope_decode_failed")
		return nil, err
	}
	return e, nil
}

// EncodePayload returns the discriminant followed by the encoded body.
func EncodePayload(p Payload) ([]byte, error) {
	buf := make([]byte, 1, 1+p.EncodingLength())
	buf[0] = byte(p.PayloadKind())
	return p.AppendBinary(buf)
}

// DecodePayload reads a discriminant tagged payload.
func DecodePayload(b []byte) (Payload, error) {
	if len(b) == 0 {
		return nil, ErrEmptyMessage
	}
	var p Payload
	switch PayloadKind(b[0]) {
	case KindRequest:
		p = &Request{}
	case KindData:
		p = &Data{}
	case KindAck:
		p = &Ack{}
	default:
		return nil, unknownKind(b[0])
	}
	if err := p.UnmarshalBinary(b[1:]); err != nil {
		log.WithError(err).WithField("kind", PayloadKind(b[0]).String()).Debug("payload_decode_failed")
		return nil, err
	}
	return p, nil
}
