package schema

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Handshake announces a side's ephemeral and static keys.
type Handshake struct {
	EphemeralKey []byte
	StaticKey    []byte
	// Authenticated reports whether the sender has already authenticated
	// the receiver. When false the receiver answers with its own handshake.
	Authenticated bool
}

func (*Handshake) Kind() Kind { return KindHandshake }

func (m *Handshake) EncodingLength() int {
	return sizeBytesField(1, m.EphemeralKey) +
		sizeBytesField(2, m.StaticKey) +
		sizeVarintField(3, protowire.EncodeBool(m.Authenticated))
}

func (m *Handshake) AppendBinary(b []byte) ([]byte, error) {
	b = appendBytesField(b, 1, m.EphemeralKey)
	b = appendBytesField(b, 2, m.StaticKey)
	b = appendVarintField(b, 3, protowire.EncodeBool(m.Authenticated))
	return b, nil
}

func (m *Handshake) MarshalBinary() ([]byte, error) {
	return m.AppendBinary(make([]byte, 0, m.EncodingLength()))
}

func (m *Handshake) UnmarshalBinary(b []byte) error {
	*m = Handshake{}
	return walkFields(b, 3, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeBytes(num, typ, b, &m.EphemeralKey)
		case 2:
			return consumeBytes(num, typ, b, &m.StaticKey)
		default:
			return consumeBool(num, typ, b, &m.Authenticated)
		}
	})
}

// Encrypted carries a ratchet encrypted payload and its header.
type Encrypted struct {
	EphemeralKey    []byte
	Counter         uint32
	PreviousCounter uint32
	Ciphertext      []byte
	Nonce           []byte
}

func (*Encrypted) Kind() Kind { return KindEncrypted }

func (m *Encrypted) EncodingLength() int {
	return sizeBytesField(1, m.EphemeralKey) +
		sizeVarintField(2, uint64(m.Counter)) +
		sizeVarintField(3, uint64(m.PreviousCounter)) +
		sizeBytesField(4, m.Ciphertext) +
		sizeBytesField(5, m.Nonce)
}

func (m *Encrypted) AppendBinary(b []byte) ([]byte, error) {
	b = appendBytesField(b, 1, m.EphemeralKey)
	b = appendVarintField(b, 2, uint64(m.Counter))
	b = appendVarintField(b, 3, uint64(m.PreviousCounter))
	b = appendBytesField(b, 4, m.Ciphertext)
	b = appendBytesField(b, 5, m.Nonce)
	return b, nil
}

func (m *Encrypted) MarshalBinary() ([]byte, error) {
	return m.AppendBinary(make([]byte, 0, m.EncodingLength()))
}

func (m *Encrypted) UnmarshalBinary(b []byte) error {
	*m = Encrypted{}
	return walkFields(b, 5, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeBytes(num, typ, b, &m.EphemeralKey)
		case 2:
			return consumeUint32(num, typ, b, &m.Counter)
		case 3:
			return consumeUint32(num, typ, b, &m.PreviousCounter)
		case 4:
			return consumeBytes(num, typ, b, &m.Ciphertext)
		default:
			return consumeBytes(num, typ, b, &m.Nonce)
		}
	})
}

// Request asks the peer to resend the unit numbered Seq.
type Request struct {
	Seq uint32
}

func (*Request) PayloadKind() PayloadKind { return KindRequest }

func (m *Request) EncodingLength() int {
	return sizeVarintField(1, uint64(m.Seq))
}

func (m *Request) AppendBinary(b []byte) ([]byte, error) {
	return appendVarintField(b, 1, uint64(m.Seq)), nil
}

func (m *Request) MarshalBinary() ([]byte, error) {
	return m.AppendBinary(make([]byte, 0, m.EncodingLength()))
}

func (m *Request) UnmarshalBinary(b []byte) error {
	*m = Request{}
	return walkFields(b, 1, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		return consumeUint32(num, typ, b, &m.Seq)
	})
}

// Data is an application payload plus the sender's ack counter.
type Data struct {
	Payload []byte
	Ack     uint32
}

func (*Data) PayloadKind() PayloadKind { return KindData }

func (m *Data) EncodingLength() int {
	return sizeBytesField(1, m.Payload) + sizeVarintField(2, uint64(m.Ack))
}

func (m *Data) AppendBinary(b []byte) ([]byte, error) {
	b = appendBytesField(b, 1, m.Payload)
	return appendVarintField(b, 2, uint64(m.Ack)), nil
}

func (m *Data) MarshalBinary() ([]byte, error) {
	return m.AppendBinary(make([]byte, 0, m.EncodingLength()))
}

func (m *Data) UnmarshalBinary(b []byte) error {
	*m = Data{}
	return walkFields(b, 2, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeBytes(num, typ, b, &m.Payload)
		}
		return consumeUint32(num, typ, b, &m.Ack)
	})
}

// Ack is a standalone ack counter update.
type Ack struct {
	Ack uint32
}

func (*Ack) PayloadKind() PayloadKind { return KindAck }

func (m *Ack) EncodingLength() int {
	return sizeVarintField(1, uint64(m.Ack))
}

func (m *Ack) AppendBinary(b []byte) ([]byte, error) {
	return appendVarintField(b, 1, uint64(m.Ack)), nil
}

func (m *Ack) MarshalBinary() ([]byte, error) {
	return m.AppendBinary(make([]byte, 0, m.EncodingLength()))
}

func (m *Ack) UnmarshalBinary(b []byte) error {
	*m = Ack{}
	return walkFields(b, 1, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		return consumeUint32(num, typ, b, &m.Ack)
	})
}

// AckOf returns the ack carried by a payload and whether it carries one.
func AckOf(p Payload) (uint32, bool) {
	switch m := p.(type) {
	case *Data:
		return m.Ack, true
	case *Ack:
		return m.Ack, true
	default:
		return 0, false
	}
}
