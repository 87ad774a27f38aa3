package keys

import (
	"bytes"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"golang.org/x/crypto/curve25519"
)

var log = logger.GetGoI2PLogger()

// KeySize is the length of X25519 public and private keys.
const KeySize = curve25519.ScalarSize

var (
	ErrInvalidKeyLength = errors.New("keys: key must be 32 bytes")
	ErrLowOrderPoint    = errors.New("keys: Diffie-Hellman produced the all-zero value")
)

// PublicKey is an X25519 public key.
type PublicKey [KeySize]byte

// PrivateKey is an X25519 private scalar.
type PrivateKey [KeySize]byte

// KeyPair is an X25519 key pair.
type KeyPair struct {
	Public  PublicKey
	Private PrivateKey
}

// Generate creates a fresh key pair from crypto/rand.
func Generate() (KeyPair, error) {
	return GenerateFrom(rand.Reader)
}

// GenerateFrom creates a key pair reading the private scalar from r.
func GenerateFrom(r io.Reader) (KeyPair, error) {
	var priv PrivateKey
	if _, err := io.ReadFull(r, priv[:]); err != nil {
		return KeyPair{}, oops.Wrapf(err, "reading private key entropy")
	}
	return FromPrivate(priv)
}

// FromPrivate derives the public half of priv.
func FromPrivate(priv PrivateKey) (KeyPair, error) {
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, oops.Wrapf(err, "deriving public key")
	}
	kp := KeyPair{Private: priv}
	copy(kp.Public[:], pub)
	return kp, nil
}

// DH computes the X25519 shared secret between kp and their.
func (kp *KeyPair) DH(their PublicKey) ([]byte, error) {
	out, err := curve25519.X25519(kp.Private[:], their[:])
	if err != nil {
		return nil, oops.Wrapf(ErrLowOrderPoint, "%v", err)
	}
	return out, nil
}

// Zero wipes the private key.
func (kp *KeyPair) Zero() {
	for i := range kp.Private {
		kp.Private[i] = 0
	}
}

// IsZero reports whether the key pair is unset.
func (kp KeyPair) IsZero() bool {
	return kp.Public.IsZero()
}

// PublicKeyFromBytes copies b into a PublicKey.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var pub PublicKey
	if len(b) != KeySize {
		return pub, oops.Wrapf(ErrInvalidKeyLength, "got %d bytes", len(b))
	}
	copy(pub[:], b)
	return pub, nil
}

// ParsePublicKey decodes a hex encoded public key.
func ParsePublicKey(s string) (PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PublicKey{}, oops.Wrapf(err, "decoding public key %q", s)
	}
	return PublicKeyFromBytes(b)
}

func (p PublicKey) String() string {
	return hex.EncodeToString(p[:])
}

// Short is the first 8 hex characters, for logs.
func (p PublicKey) Short() string {
	return hex.EncodeToString(p[:4])
}

func (p PublicKey) Bytes() []byte {
	return append([]byte(nil), p[:]...)
}

func (p PublicKey) IsZero() bool {
	return p == PublicKey{}
}

// Equal compares in constant time.
func (p PublicKey) Equal(o PublicKey) bool {
	return subtle.ConstantTimeCompare(p[:], o[:]) == 1
}

// EqualBytes reports whether b holds the same key as p.
func (p PublicKey) EqualBytes(b []byte) bool {
	return len(b) == KeySize && subtle.ConstantTimeCompare(p[:], b) == 1
}

// Compare orders public keys lexicographically.
func (p PublicKey) Compare(o PublicKey) int {
	return bytes.Compare(p[:], o[:])
}
