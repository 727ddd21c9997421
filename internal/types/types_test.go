package types

import (
	"errors"
	"testing"
)

func TestPubkeyBase58RoundTrip(t *testing.T) {
	var p Pubkey
	for i := range p {
		p[i] = byte(i)
	}

	parsed, err := PubkeyFromBase58(p.String())
	if err != nil {
		t.Fatalf("PubkeyFromBase58: %v", err)
	}
	if parsed != p {
		t.Errorf("round trip = %s, want %s", parsed, p)
	}

	if _, err := PubkeyFromBase58("abc"); !errors.Is(err, ErrInvalidPubkey) {
		t.Errorf("short input: err = %v, want ErrInvalidPubkey", err)
	}
	if _, err := PubkeyFromBase58("not base58 0OIl"); err == nil {
		t.Error("accepted invalid base58 characters")
	}
}

func TestPubkeyText(t *testing.T) {
	want := TokenProgramAddr

	text, err := want.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}

	var got Pubkey
	if err := got.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if got != want {
		t.Errorf("text round trip = %s, want %s", got, want)
	}
}

func TestHashBase58RoundTrip(t *testing.T) {
	var h Hash
	for i := range h {
		h[i] = byte(0xff - i)
	}

	parsed, err := HashFromBase58(h.String())
	if err != nil {
		t.Fatalf("HashFromBase58: %v", err)
	}
	if parsed != h {
		t.Errorf("round trip = %s, want %s", parsed, h)
	}

	if _, err := HashFromBytes(make([]byte, 31)); !errors.Is(err, ErrInvalidHash) {
		t.Errorf("short bytes: err = %v, want ErrInvalidHash", err)
	}
}

func TestKeypairFromSeed(t *testing.T) {
	var seed [SeedSize]byte
	for i := range seed {
		seed[i] = byte(i)
	}

	kp := KeypairFromSeed(seed)
	if kp.Pubkey() != KeypairFromSeed(seed).Pubkey() {
		t.Error("same seed derived different keypairs")
	}

	seed[0] ^= 1
	if kp.Pubkey() == KeypairFromSeed(seed).Pubkey() {
		t.Error("different seeds derived the same keypair")
	}
}

func TestKeypairSignVerify(t *testing.T) {
	kp, err := NewKeypair()
	if err != nil {
		t.Fatalf("NewKeypair: %v", err)
	}

	message := []byte("batch digest preimage")
	sig := kp.Sign(message)

	if !kp.Pubkey().Verify(message, sig) {
		t.Error("valid signature rejected")
	}
	if kp.Pubkey().Verify([]byte("another message"), sig) {
		t.Error("signature accepted for a different message")
	}

	other, err := NewKeypair()
	if err != nil {
		t.Fatalf("NewKeypair: %v", err)
	}
	if other.Pubkey().Verify(message, sig) {
		t.Error("signature accepted under a different key")
	}
}

func TestKeypairBytesRoundTrip(t *testing.T) {
	kp, err := NewKeypair()
	if err != nil {
		t.Fatalf("NewKeypair: %v", err)
	}

	restored, err := KeypairFromBytes(kp.Bytes())
	if err != nil {
		t.Fatalf("KeypairFromBytes: %v", err)
	}
	if restored.Pubkey() != kp.Pubkey() {
		t.Errorf("restored pubkey = %s, want %s", restored.Pubkey(), kp.Pubkey())
	}

	message := []byte("same key, same signature")
	if restored.Sign(message) != kp.Sign(message) {
		t.Error("restored keypair signs differently")
	}

	if _, err := KeypairFromBytes(make([]byte, 32)); !errors.Is(err, ErrInvalidKeypair) {
		t.Errorf("short bytes: err = %v, want ErrInvalidKeypair", err)
	}
}

func TestAddressClassifiers(t *testing.T) {
	if !IsNativeProgram(SystemProgramAddr) {
		t.Error("system program not classified as native")
	}
	if IsNativeProgram(TokenProgramAddr) {
		t.Error("token program classified as native")
	}

	if !IsSysvar(SysvarClockAddr) || !IsSysvar(SysvarRentAddr) {
		t.Error("sysvar addresses not classified as sysvars")
	}
	if IsSysvar(SystemProgramAddr) {
		t.Error("system program classified as sysvar")
	}

	if !IsPrecompile(Ed25519PrecompileAddr) || !IsPrecompile(Secp256k1PrecompileAddr) {
		t.Error("precompile addresses not classified as precompiles")
	}
	if IsPrecompile(MemoProgramAddr) {
		t.Error("memo program classified as precompile")
	}
}

func TestMustPubkeyFromBase58Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustPubkeyFromBase58 did not panic on bad input")
		}
	}()
	MustPubkeyFromBase58("bad")
}
