package ratchet

import "github.com/go-i2p/go-wire/lib/keys"

// Role is the side a party plays in key agreement.
type Role int

const (
	RoleUnknown Role = iota
	Initiator
	Receiver
)

func (r Role) String() string {
	switch r {
	case Initiator:
		return "initiator"
	case Receiver:
		return "receiver"
	default:
		return "unknown"
	}
}

// Opposite returns the role the peer plays.
func (r Role) Opposite() Role {
	switch r {
	case Initiator:
		return Receiver
	case Receiver:
		return Initiator
	default:
		return RoleUnknown
	}
}

// ComputeRole derives our role from the two identity keys. At the first
// differing byte the side holding the larger byte is the Initiator, so both
// ends reach complementary answers without exchanging anything.
func ComputeRole(ours, theirs keys.PublicKey) (Role, error) {
	for i := range ours {
		switch {
		case ours[i] > theirs[i]:
			return Initiator, nil
		case ours[i] < theirs[i]:
			return Receiver, nil
		}
	}
	return RoleUnknown, ErrSameIdentity
}
