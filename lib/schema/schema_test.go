package schema

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   Envelope
	}{
		{
			name: "handshake",
			in: &Handshake{
				EphemeralKey:  bytes.Repeat([]byte{0x01}, 32),
				StaticKey:     bytes.Repeat([]byte{0x02}, 32),
				Authenticated: true,
			},
		},
		{
			name: "encrypted",
			in: &Encrypted{
				EphemeralKey:    bytes.Repeat([]byte{0x03}, 32),
				Counter:         7,
				PreviousCounter: 300,
				Ciphertext:      []byte("sealed"),
				Nonce:           bytes.Repeat([]byte{0x04}, 12),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := EncodeEnvelope(tt.in)
			require.NoError(t, err)
			assert.Equal(t, byte(tt.in.Kind()), buf[0])
			assert.Len(t, buf, 1+tt.in.EncodingLength())

			out, err := DecodeEnvelope(buf)
			require.NoError(t, err)
			assert.Equal(t, tt.in, out)
		})
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   Payload
	}{
		{name: "request", in: &Request{Seq: 2}},
		{name: "data", in: &Data{Payload: []byte("hey"), Ack: 1}},
		{name: "ack", in: &Ack{Ack: 1 << 31}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := EncodePayload(tt.in)
			require.NoError(t, err)
			assert.Equal(t, byte(tt.in.PayloadKind()), buf[0])

			out, err := DecodePayload(buf)
			require.NoError(t, err)
			assert.Equal(t, tt.in, out)
		})
	}
}

func TestDataPayloadIsByteIdentical(t *testing.T) {
	payload := make([]byte, 1024)
	for i := range payload {
		payload[i] = byte(i)
	}
	buf, err := EncodePayload(&Data{Payload: payload})
	require.NoError(t, err)

	out, err := DecodePayload(buf)
	require.NoError(t, err)
	assert.Equal(t, payload, out.(*Data).Payload)
}

func TestZeroValuesAreStillEncoded(t *testing.T) {
	// required fields are always present, even when zero
	buf, err := (&Ack{}).MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x08, 0x00}, buf)

	var a Ack
	require.NoError(t, a.UnmarshalBinary(buf))
	assert.Zero(t, a.Ack)
}

func TestDecode_MissingRequiredField(t *testing.T) {
	// Data with only the payload field
	body := protowire.AppendTag(nil, 1, protowire.BytesType)
	body = protowire.AppendBytes(body, []byte("x"))

	var d Data
	assert.ErrorIs(t, d.UnmarshalBinary(body), ErrMissingField)
}

func TestDecode_SkipsUnknownFields(t *testing.T) {
	body, err := (&Request{Seq: 9}).MarshalBinary()
	require.NoError(t, err)
	body = protowire.AppendTag(body, 15, protowire.BytesType)
	body = protowire.AppendBytes(body, []byte("future"))

	var r Request
	require.NoError(t, r.UnmarshalBinary(body))
	assert.Equal(t, uint32(9), r.Seq)
}

func TestDecode_WrongWireType(t *testing.T) {
	body := protowire.AppendTag(nil, 1, protowire.BytesType)
	body = protowire.AppendBytes(body, []byte{1, 2})

	var r Request
	err := r.UnmarshalBinary(body)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.NotErrorIs(t, err, ErrUnknownKind)
}

func TestDecodePayload_MalformedIsNotUnknownKind(t *testing.T) {
	_, err := DecodePayload([]byte{byte(KindData), 0xff})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.NotErrorIs(t, err, ErrUnknownKind)
	assert.NotErrorIs(t, err, ErrEmptyMessage)
}

func TestDecode_Truncated(t *testing.T) {
	buf, err := EncodeEnvelope(&Handshake{EphemeralKey: []byte("eph"), StaticKey: []byte("static")})
	require.NoError(t, err)

	_, err = DecodeEnvelope(buf[:len(buf)-4])
	assert.Error(t, err)
}

func TestDecode_UnknownDiscriminant(t *testing.T) {
	_, err := DecodeEnvelope([]byte{0x09, 0x00})
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.NotErrorIs(t, err, ErrMalformed)

	_, err = DecodePayload([]byte{0x03})
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = DecodePayload(nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestAckOf(t *testing.T) {
	ack, ok := AckOf(&Data{Ack: 3})
	assert.True(t, ok)
	assert.Equal(t, uint32(3), ack)

	ack, ok = AckOf(&Ack{Ack: 4})
	assert.True(t, ok)
	assert.Equal(t, uint32(4), ack)

	_, ok = AckOf(&Request{Seq: 1})
	assert.False(t, ok)
}
