package types

import "fmt"

// Native program addresses.
// These are the same across Solana mainnet and X1.
var (
	// SystemProgramAddr is the System Program address.
	SystemProgramAddr = MustPubkeyFromBase58("11111111111111111111111111111111")

	// ComputeBudgetProgramAddr is the Compute Budget Program address.
	ComputeBudgetProgramAddr = MustPubkeyFromBase58("ComputeBudget111111111111111111111111111111")

	// AddressLookupTableProgramAddr is the Address Lookup Table Program address.
	AddressLookupTableProgramAddr = MustPubkeyFromBase58("AddressLookupTab1e1111111111111111111111111")

	// BPFLoader2Addr is the BPF Loader 2 address (non-upgradeable programs).
	BPFLoader2Addr = MustPubkeyFromBase58("BPFLoader2111111111111111111111111111111111")

	// BPFLoaderUpgradeableAddr is the BPF Loader Upgradeable address.
	BPFLoaderUpgradeableAddr = MustPubkeyFromBase58("BPFLoaderUpgradeab1e11111111111111111111111")

	// NativeLoaderAddr is the Native Loader address, owner of built-in programs.
	NativeLoaderAddr = MustPubkeyFromBase58("NativeLoader1111111111111111111111111111111")

	// Ed25519PrecompileAddr is the Ed25519 signature verification precompile.
	Ed25519PrecompileAddr = MustPubkeyFromBase58("Ed25519SigVerify111111111111111111111111111")

	// Secp256k1PrecompileAddr is the Secp256k1 recovery precompile.
	Secp256k1PrecompileAddr = MustPubkeyFromBase58("KeccakSecp256k11111111111111111111111111111")
)

// SPL program addresses registered by default in the testbench.
var (
	// TokenProgramAddr is the SPL Token Program address.
	TokenProgramAddr = MustPubkeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// Token2022ProgramAddr is the SPL Token-2022 Program address.
	Token2022ProgramAddr = MustPubkeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")

	// AssociatedTokenProgramAddr is the SPL Associated Token Account Program address.
	AssociatedTokenProgramAddr = MustPubkeyFromBase58("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")

	// MemoProgramAddr is the SPL Memo Program (v2) address.
	MemoProgramAddr = MustPubkeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

	// MemoV1ProgramAddr is the legacy SPL Memo Program (v1) address.
	MemoV1ProgramAddr = MustPubkeyFromBase58("Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo")

	// NativeMintAddr is the wrapped native token mint.
	NativeMintAddr = MustPubkeyFromBase58("So11111111111111111111111111111111111111112")
)

// Sysvar addresses.
var (
	// SysvarClockAddr is the Clock sysvar address.
	SysvarClockAddr = MustPubkeyFromBase58("SysvarC1ock11111111111111111111111111111111")

	// SysvarRentAddr is the Rent sysvar address.
	SysvarRentAddr = MustPubkeyFromBase58("SysvarRent111111111111111111111111111111111")

	// SysvarOwnerAddr owns all sysvar accounts.
	SysvarOwnerAddr = MustPubkeyFromBase58("Sysvar1111111111111111111111111111111111111")
)

// MustPubkeyFromBase58 parses a base58 pubkey or panics.
// Only use for compile-time constants.
func MustPubkeyFromBase58(s string) Pubkey {
	p, err := PubkeyFromBase58(s)
	if err != nil {
		panic(fmt.Sprintf("invalid pubkey constant %q: %v", s, err))
	}
	return p
}

// IsNativeProgram returns true if the pubkey is a built-in program.
func IsNativeProgram(p Pubkey) bool {
	switch p {
	case SystemProgramAddr,
		ComputeBudgetProgramAddr,
		AddressLookupTableProgramAddr,
		BPFLoader2Addr,
		BPFLoaderUpgradeableAddr,
		NativeLoaderAddr,
		Ed25519PrecompileAddr,
		Secp256k1PrecompileAddr:
		return true
	default:
		return false
	}
}

// IsSysvar returns true if the pubkey is a sysvar.
func IsSysvar(p Pubkey) bool {
	switch p {
	case SysvarClockAddr, SysvarRentAddr:
		return true
	default:
		return false
	}
}

// IsPrecompile returns true if the pubkey is a precompile program.
func IsPrecompile(p Pubkey) bool {
	switch p {
	case Ed25519PrecompileAddr, Secp256k1PrecompileAddr:
		return true
	default:
		return false
	}
}
