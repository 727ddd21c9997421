package svm

import (
	"crypto/sha256"
	"errors"
	"math/big"

	"github.com/fortiblox/X1-Testbench/internal/types"
)

// PDA constants.
const (
	MaxSeeds   = 16
	MaxSeedLen = 32
)

// PDA marker used in address derivation.
var pdaMarker = []byte("ProgramDerivedAddress")

// PDA errors.
var (
	ErrMaxSeedLengthExceeded = errors.New("max seed length exceeded")
	ErrMaxSeedsExceeded      = errors.New("max seeds exceeded")
	ErrInvalidSeeds          = errors.New("invalid seeds - derived address is on curve")
	ErrNoViableBump          = errors.New("unable to find a viable program address bump seed")
)

// CreateProgramAddress derives a program address from seeds and a program ID.
// Returns ErrInvalidSeeds if the derived address is on the ed25519 curve.
func CreateProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, error) {
	if len(seeds) > MaxSeeds {
		return types.Pubkey{}, ErrMaxSeedsExceeded
	}

	for _, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return types.Pubkey{}, ErrMaxSeedLengthExceeded
		}
	}

	// Build hash input: seeds + programID + marker
	h := sha256.New()
	for _, seed := range seeds {
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write(pdaMarker)

	hash := h.Sum(nil)

	if isOnCurve(hash) {
		return types.Pubkey{}, ErrInvalidSeeds
	}

	var out types.Pubkey
	copy(out[:], hash)
	return out, nil
}

// FindProgramAddress finds a valid PDA by iterating bump seeds from 255 to 0.
// Returns the derived address and the bump seed that produced it.
func FindProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, uint8, error) {
	if len(seeds) > MaxSeeds-1 { // Need room for bump seed
		return types.Pubkey{}, 0, ErrMaxSeedsExceeded
	}

	for bump := uint8(255); ; bump-- {
		// Create a new slice to avoid modifying the input
		seedsWithBump := make([][]byte, len(seeds)+1)
		copy(seedsWithBump, seeds)
		seedsWithBump[len(seeds)] = []byte{bump}

		pda, err := CreateProgramAddress(seedsWithBump, programID)
		if err == nil {
			return pda, bump, nil
		}
		if !errors.Is(err, ErrInvalidSeeds) {
			return types.Pubkey{}, 0, err
		}

		if bump == 0 {
			break
		}
	}

	return types.Pubkey{}, 0, ErrNoViableBump
}

// isOnCurve checks if the given bytes represent a point on the ed25519 curve.
// This implements the full mathematical verification using the curve equation.
//
// Ed25519 uses the twisted Edwards curve: -x^2 + y^2 = 1 + d*x^2*y^2
// where d = -121665/121666 (mod p) and p = 2^255 - 19
//
// A compressed point stores the y-coordinate and the sign of x.
// To verify, we compute x^2 from y and check if it has a valid square root.
func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}

	// Field prime p = 2^255 - 19
	p := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(19))

	// Curve parameter d = -121665/121666 (mod p)
	d := new(big.Int).Mul(big.NewInt(-121665), new(big.Int).ModInverse(big.NewInt(121666), p))
	d.Mod(d, p)

	// Extract y-coordinate (little-endian, clear high bit which is sign of x)
	yBytes := make([]byte, 32)
	copy(yBytes, point)
	yBytes[31] &= 0x7F // Clear sign bit

	// Convert to big.Int (little-endian)
	y := new(big.Int)
	for i := 31; i >= 0; i-- {
		y.Lsh(y, 8)
		y.Or(y, big.NewInt(int64(yBytes[i])))
	}

	// Check y is in valid range [0, p)
	if y.Cmp(p) >= 0 {
		return false
	}

	// Compute x^2 from curve equation: -x^2 + y^2 = 1 + d*x^2*y^2
	// Rearranging: x^2 = (y^2 - 1) / (d*y^2 + 1)
	y2 := new(big.Int).Mul(y, y)
	y2.Mod(y2, p)

	// numerator = y^2 - 1
	num := new(big.Int).Sub(y2, big.NewInt(1))
	num.Mod(num, p)

	// denominator = d*y^2 + 1
	den := new(big.Int).Mul(d, y2)
	den.Add(den, big.NewInt(1))
	den.Mod(den, p)

	// x^2 = num * inverse(den) mod p
	denInv := new(big.Int).ModInverse(den, p)
	if denInv == nil {
		return false // No inverse means invalid point
	}
	x2 := new(big.Int).Mul(num, denInv)
	x2.Mod(x2, p)

	// Check if x^2 has a square root in the field
	// Use Euler's criterion: x^2 is a quadratic residue iff x^2^((p-1)/2) = 1 (mod p)
	exp := new(big.Int).Sub(p, big.NewInt(1))
	exp.Rsh(exp, 1) // (p-1)/2

	legendre := new(big.Int).Exp(x2, exp, p)

	// If legendre symbol is 1 or x^2 is 0, point is on curve
	return legendre.Cmp(big.NewInt(1)) == 0 || x2.Sign() == 0
}
