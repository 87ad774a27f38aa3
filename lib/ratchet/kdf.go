package ratchet

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"github.com/go-i2p/go-wire/lib/keys"
	"github.com/samber/oops"
	"golang.org/x/crypto/hkdf"
)

const (
	rootKeyLen    = 32
	chainKeyLen   = 32
	messageKeyLen = 32

	// HKDF info strings
	kdfMasterInfo = "go-wire master key"
	kdfRootInfo   = "go-wire ratchet root"

	// headerLen is ephemeral key || counter || previous counter.
	headerLen = keys.KeySize + 4 + 4
)

type (
	rootKey    [rootKeyLen]byte
	chainKey   [chainKeyLen]byte
	messageKey [messageKeyLen]byte
)

// kdfMaster expands the triple-DH output into the initial root key and the
// receiver's first sending chain. The identities are mixed into the info so
// the keys are bound to this pair of parties.
func kdfMaster(secret []byte, initiator, receiver keys.PublicKey) (rootKey, chainKey, error) {
	info := make([]byte, 0, len(kdfMasterInfo)+2*keys.KeySize)
	info = append(info, kdfMasterInfo...)
	info = append(info, initiator[:]...)
	info = append(info, receiver[:]...)

	r := hkdf.New(sha256.New, secret, nil, info)
	var rk rootKey
	var ck chainKey
	if _, err := io.ReadFull(r, rk[:]); err != nil {
		return rk, ck, oops.Wrapf(err, "deriving root key")
	}
	if _, err := io.ReadFull(r, ck[:]); err != nil {
		return rk, ck, oops.Wrapf(err, "deriving initial chain key")
	}
	return rk, ck, nil
}

// kdfRK mixes a DH output into the root key, yielding a new root key and a
// chain key.
func kdfRK(rk rootKey, dhOut []byte) (rootKey, chainKey, error) {
	r := hkdf.New(sha256.New, dhOut, rk[:], []byte(kdfRootInfo))
	var newRoot rootKey
	var ck chainKey
	if _, err := io.ReadFull(r, newRoot[:]); err != nil {
		return newRoot, ck, oops.Wrapf(err, "deriving root key")
	}
	if _, err := io.ReadFull(r, ck[:]); err != nil {
		return newRoot, ck, oops.Wrapf(err, "deriving chain key")
	}
	return newRoot, ck, nil
}

// kdfCK advances a chain: HMAC(ck, 0x01) is the message key and
// HMAC(ck, 0x02) the next chain key.
func kdfCK(ck chainKey) (chainKey, messageKey) {
	var next chainKey
	var mk messageKey

	m := hmac.New(sha256.New, ck[:])
	m.Write([]byte{0x01})
	copy(mk[:], m.Sum(nil))

	m = hmac.New(sha256.New, ck[:])
	m.Write([]byte{0x02})
	copy(next[:], m.Sum(nil))

	return next, mk
}

// encodeHeader builds the associated data bound to every ciphertext.
func encodeHeader(pub keys.PublicKey, counter, previous uint32) []byte {
	buf := make([]byte, headerLen)
	copy(buf, pub[:])
	binary.BigEndian.PutUint32(buf[keys.KeySize:], counter)
	binary.BigEndian.PutUint32(buf[keys.KeySize+4:], previous)
	return buf
}
