package schema

import (
	"errors"

	"github.com/samber/oops"
)

var (
	ErrEmptyMessage = errors.New("schema: empty message")
	ErrUnknownKind  = errors.New("schema: unknown discriminant")
	ErrMissingField = errors.New("schema: missing required field")
	ErrMalformed    = errors.New("schema: malformed message body")
)

func unknownKind(b byte) error {
	return oops.Wrapf(ErrUnknownKind, "discriminant %d", b)
}
