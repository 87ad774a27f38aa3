package schema

import (
	"github.com/samber/oops"
	"google.golang.org/protobuf/encoding/protowire"
)

func sizeBytesField(num protowire.Number, v []byte) int {
	return protowire.SizeTag(num) + protowire.SizeBytes(len(v))
}

func sizeVarintField(num protowire.Number, v uint64) int {
	return protowire.SizeTag(num) + protowire.SizeVarint(v)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// fieldVisitor receives every field of a body. Unknown field numbers are
// skipped by walkFields before the visitor is called.
type fieldVisitor func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

// walkFields iterates over a protobuf body, tracking which of the fields
// 1..maxField were seen, and fails if any of them is missing.
func walkFields(b []byte, maxField protowire.Number, visit fieldVisitor) error {
	var seen uint32
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return oops.Wrapf(ErrMalformed, "tag: %v", protowire.ParseError(n))
		}
		b = b[n:]

		if num < 1 || num > maxField {
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return oops.Wrapf(ErrMalformed, "unknown field %d: %v", num, protowire.ParseError(m))
			}
			b = b[m:]
			continue
		}

		m, err := visit(num, typ, b)
		if err != nil {
			return err
		}
		b = b[m:]
		seen |= 1 << uint(num)
	}

	for num := protowire.Number(1); num <= maxField; num++ {
		if seen&(1<<uint(num)) == 0 {
			return oops.Wrapf(ErrMissingField, "field %d", num)
		}
	}
	return nil
}

func consumeBytes(num protowire.Number, typ protowire.Type, b []byte, dst *[]byte) (int, error) {
	if typ != protowire.BytesType {
		return 0, oops.Wrapf(ErrMalformed, "field %d: wire type %d, want bytes", num, typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, oops.Wrapf(ErrMalformed, "field %d: %v", num, protowire.ParseError(n))
	}
	*dst = append([]byte{}, v...)
	return n, nil
}

func consumeUint32(num protowire.Number, typ protowire.Type, b []byte, dst *uint32) (int, error) {
	if typ != protowire.VarintType {
		return 0, oops.Wrapf(ErrMalformed, "field %d: wire type %d, want varint", num, typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, oops.Wrapf(ErrMalformed, "field %d: %v", num, protowire.ParseError(n))
	}
	*dst = uint32(v)
	return n, nil
}

func consumeBool(num protowire.Number, typ protowire.Type, b []byte, dst *bool) (int, error) {
	if typ != protowire.VarintType {
		return 0, oops.Wrapf(ErrMalformed, "field %d: wire type %d, want varint", num, typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, oops.Wrapf(ErrMalformed, "field %d: %v", num, protowire.ParseError(n))
	}
	*dst = protowire.DecodeBool(v)
	return n, nil
}
