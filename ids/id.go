// This package defines the identifier types used throughout go-discussions. Identifiers are based on random 16 byte values.
package ids

import (
	crypto_rand "crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

type ID [16]byte

func IDFromBytes(b []byte) ID {
	return [16]byte(b)
}

func NewID() ID {
	var id [16]byte
	_, err := io.ReadFull(crypto_rand.Reader, id[:])
	if err != nil {
		panic("short read from random source")
	}
	return id
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(id[:])), nil
}

func (id *ID) UnmarshalText(b []byte) error {
	if hex.DecodedLen(len(b)) != len(id) {
		return fmt.Errorf("ids: expected %d hex characters, got %d", 2*len(id), len(b))
	}
	_, err := hex.Decode(id[:], b)
	return err
}

// Identity is the cryptographic identity of an owned identity or of a contact.
type Identity ID

func IdentityFromBytes(b []byte) Identity {
	return Identity(IDFromBytes(b))
}

func NewIdentity() Identity {
	return Identity(NewID())
}

func (i Identity) String() string {
	return fmt.Sprintf("%x", i[:4])
}

func (i Identity) MarshalText() ([]byte, error) {
	return ID(i).MarshalText()
}

func (i *Identity) UnmarshalText(b []byte) error {
	return (*ID)(i).UnmarshalText(b)
}

// GroupV1Ref identifies a legacy group, which is only unique together with its owner.
type GroupV1Ref struct {
	UID   ID
	Owner Identity
}

// MessageKey is the cross-device idempotency key of a sent or received message.
type MessageKey struct {
	Sender   Identity
	ThreadID ID
	Seq      int64
}

func (k MessageKey) String() string {
	return fmt.Sprintf("%s/%x/%d", k.Sender, k.ThreadID[:4], k.Seq)
}
