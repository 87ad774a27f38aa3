package ratchet

import "errors"

var (
	ErrSameIdentity     = errors.New("ratchet: local and peer identity are identical")
	ErrNotReady         = errors.New("ratchet: master key has not been computed")
	ErrMissingPeerKeys  = errors.New("ratchet: peer identity, handshake key and role are required")
	ErrAlreadyKeyed     = errors.New("ratchet: master key already computed")
	ErrTooManySkipped   = errors.New("ratchet: too many skipped messages")
	ErrDuplicateMessage = errors.New("ratchet: message counter already used")
	ErrNoReceiveChain   = errors.New("ratchet: no receiving chain for this ratchet key")
	ErrBadHeader        = errors.New("ratchet: malformed encrypted header")
	ErrDecrypt          = errors.New("ratchet: message authentication failed")
	ErrClosed           = errors.New("ratchet: session closed")
)
