package frame

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_PrefixesVarintLength(t *testing.T) {
	assert.Equal(t, []byte{0x03, 'h', 'e', 'y'}, Encode([]byte("hey")))
	assert.Equal(t, []byte{0x00}, Encode(nil))

	body := bytes.Repeat([]byte{0xAB}, 300)
	out := Encode(body)
	assert.Equal(t, []byte{0xAC, 0x02}, out[:2], "300 encodes as a two byte varint")
	assert.Len(t, out, EncodedLen(len(body)))
}

func TestDecoder_SplitAcrossWrites(t *testing.T) {
	d := NewDecoder(DefaultLimits())
	stream := append(Encode([]byte("hey")), Encode([]byte("ho"))...)

	var got [][]byte
	for _, b := range stream {
		_, err := d.Write([]byte{b})
		require.NoError(t, err)
		for {
			f, ok := d.Next()
			if !ok {
				break
			}
			got = append(got, f)
		}
	}

	require.Len(t, got, 2)
	assert.Equal(t, "hey", string(got[0]))
	assert.Equal(t, "ho", string(got[1]))
	assert.Zero(t, d.Buffered())
}

func TestDecoder_EmptyFrame(t *testing.T) {
	d := NewDecoder(DefaultLimits())
	_, err := d.Write(Encode(nil))
	require.NoError(t, err)

	f, ok := d.Next()
	require.True(t, ok)
	assert.Empty(t, f)
}

func TestDecoder_RejectsOversizedFrame(t *testing.T) {
	d := NewDecoder(Limits{MaxFrameSize: 4})
	_, err := d.Write(Encode([]byte("too long")))
	require.NoError(t, err)

	_, ok := d.Next()
	assert.False(t, ok)
	assert.ErrorIs(t, d.Err(), ErrFrameTooLarge)

	_, err = d.Write([]byte{0x01})
	assert.Error(t, err, "a failed decoder keeps failing")
}

func TestDecoder_ClosedRejectsWrites(t *testing.T) {
	d := NewDecoder(DefaultLimits())
	require.NoError(t, d.Close())
	_, err := d.Write([]byte{0x01})
	assert.ErrorIs(t, err, ErrDecoderClosed)
}

func TestReader_ReadsFramesUntilEOF(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(Encode([]byte("one")))
	stream.Write(Encode([]byte("two")))

	r := NewReader(&stream, DefaultLimits())
	f, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "one", string(f))
	f, err = r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "two", string(f))

	_, err = r.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_TruncatedBody(t *testing.T) {
	framed := Encode([]byte("truncated"))
	r := NewReader(bytes.NewReader(framed[:4]), DefaultLimits())
	_, err := r.ReadFrame()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReader_Oversized(t *testing.T) {
	r := NewReader(bytes.NewReader(Encode(make([]byte, 16))), Limits{MaxFrameSize: 8})
	_, err := r.ReadFrame()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}
