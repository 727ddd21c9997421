package types

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
)

// KeypairSize is the byte length of a serialized keypair
// (64-byte Ed25519 private key, which embeds the public key).
const KeypairSize = ed25519.PrivateKeySize

// SeedSize is the byte length of a keypair seed.
const SeedSize = ed25519.SeedSize

// ErrInvalidKeypair is returned when keypair bytes have invalid length.
var ErrInvalidKeypair = errors.New("invalid keypair: must be 64 bytes")

// Keypair holds an Ed25519 signing key and its public key.
type Keypair struct {
	pub  Pubkey
	priv ed25519.PrivateKey
}

// NewKeypair generates a keypair from crypto/rand.
func NewKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	var p Pubkey
	copy(p[:], pub)
	return &Keypair{pub: p, priv: priv}, nil
}

// KeypairFromSeed derives a keypair deterministically from a 32-byte seed.
func KeypairFromSeed(seed [SeedSize]byte) *Keypair {
	priv := ed25519.NewKeyFromSeed(seed[:])
	var p Pubkey
	copy(p[:], priv.Public().(ed25519.PublicKey))
	return &Keypair{pub: p, priv: priv}
}

// KeypairFromBytes restores a keypair from its 64-byte serialized form.
func KeypairFromBytes(b []byte) (*Keypair, error) {
	if len(b) != KeypairSize {
		return nil, ErrInvalidKeypair
	}
	priv := ed25519.PrivateKey(append([]byte(nil), b...))
	var p Pubkey
	copy(p[:], priv.Public().(ed25519.PublicKey))
	return &Keypair{pub: p, priv: priv}, nil
}

// Pubkey returns the public key half of the keypair.
func (k *Keypair) Pubkey() Pubkey {
	return k.pub
}

// Sign signs message with the private key.
func (k *Keypair) Sign(message []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(k.priv, message))
	return sig
}

// Bytes returns the 64-byte serialized keypair.
func (k *Keypair) Bytes() []byte {
	return append([]byte(nil), k.priv...)
}
