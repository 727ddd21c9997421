package svm

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fortiblox/X1-Testbench/internal/types"
)

func TestCreateProgramAddress(t *testing.T) {
	programID := types.TokenProgramAddr

	t.Run("Deterministic", func(t *testing.T) {
		seeds := [][]byte{[]byte("vault"), {1, 2, 3}}
		a, errA := CreateProgramAddress(seeds, programID)
		b, errB := CreateProgramAddress(seeds, programID)
		if errA != nil || errB != nil {
			// Some seed sets land on the curve; skip those.
			t.Skipf("seeds derived an on-curve point: %v %v", errA, errB)
		}
		if a != b {
			t.Errorf("derivation not deterministic: %s != %s", a, b)
		}
	})

	t.Run("TooManySeeds", func(t *testing.T) {
		seeds := make([][]byte, MaxSeeds+1)
		for i := range seeds {
			seeds[i] = []byte{byte(i)}
		}
		if _, err := CreateProgramAddress(seeds, programID); !errors.Is(err, ErrMaxSeedsExceeded) {
			t.Errorf("expected ErrMaxSeedsExceeded, got %v", err)
		}
	})

	t.Run("SeedTooLong", func(t *testing.T) {
		seeds := [][]byte{make([]byte, MaxSeedLen+1)}
		if _, err := CreateProgramAddress(seeds, programID); !errors.Is(err, ErrMaxSeedLengthExceeded) {
			t.Errorf("expected ErrMaxSeedLengthExceeded, got %v", err)
		}
	})
}

func TestFindProgramAddress(t *testing.T) {
	programID := types.AssociatedTokenProgramAddr
	seeds := [][]byte{[]byte("metadata"), types.TokenProgramAddr.Bytes()}

	addr, bump, err := FindProgramAddress(seeds, programID)
	if err != nil {
		t.Fatalf("failed to find program address: %v", err)
	}

	// The found address must round-trip through CreateProgramAddress with
	// the returned bump.
	seedsWithBump := append(append([][]byte{}, seeds...), []byte{bump})
	derived, err := CreateProgramAddress(seedsWithBump, programID)
	if err != nil {
		t.Fatalf("failed to re-derive with bump %d: %v", bump, err)
	}
	if addr != derived {
		t.Errorf("address mismatch: %s != %s", addr, derived)
	}

	// Off-curve by construction.
	if isOnCurve(addr.Bytes()) {
		t.Error("derived address is on the ed25519 curve")
	}
}

func TestFindProgramAddressDistinctPrograms(t *testing.T) {
	seeds := [][]byte{[]byte("pool")}

	a, _, err := FindProgramAddress(seeds, types.TokenProgramAddr)
	if err != nil {
		t.Fatalf("failed to find address: %v", err)
	}
	b, _, err := FindProgramAddress(seeds, types.Token2022ProgramAddr)
	if err != nil {
		t.Fatalf("failed to find address: %v", err)
	}
	if a == b {
		t.Error("same address derived for different programs")
	}
}

func TestIsOnCurve(t *testing.T) {
	// The ed25519 base point y-coordinate is 4/5 mod p; its compressed
	// form is a known on-curve point.
	basePoint := []byte{
		0x58, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66,
		0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66,
		0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66,
		0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66,
	}
	if !isOnCurve(basePoint) {
		t.Error("base point should be on curve")
	}

	// A real keypair pubkey is on the curve.
	kp, err := types.NewKeypair()
	if err != nil {
		t.Fatalf("failed to generate keypair: %v", err)
	}
	if !isOnCurve(kp.Pubkey().Bytes()) {
		t.Error("ed25519 public key should be on curve")
	}

	if isOnCurve(make([]byte, 16)) {
		t.Error("short input should not be on curve")
	}
}

func TestPDAMarker(t *testing.T) {
	if !bytes.Equal(pdaMarker, []byte("ProgramDerivedAddress")) {
		t.Errorf("unexpected marker: %q", pdaMarker)
	}
}
