// Package token implements the SPL Token Program.
//
// The processor covers the instruction set the testbench exercises:
// initializing mints and token accounts, transfers, minting, burning,
// closing, and native-lamport synchronization. Authority follows the
// owner-only model: the account owner signs; delegates are carried in the
// state layout but never honored. The same processor serves both the token
// and token-2022 program addresses; each account must be owned by the
// address the program was invoked as.
package token

import (
	"encoding/binary"
	"errors"

	"github.com/fortiblox/X1-Testbench/internal/types"
	"github.com/fortiblox/X1-Testbench/pkg/svm"
)

// ProgramID is the SPL Token Program address.
var ProgramID = types.TokenProgramAddr

// NativeMint is the wrapped native token mint.
var NativeMint = types.NativeMintAddr

// Instruction discriminants (single byte, SPL numbering).
const (
	InstructionInitializeMint    = 0
	InstructionInitializeAccount = 1
	InstructionTransfer          = 3
	InstructionMintTo            = 7
	InstructionBurn              = 8
	InstructionCloseAccount      = 9
	InstructionSyncNative        = 17
)

// Error types.
var (
	ErrInvalidInstructionData   = errors.New("invalid instruction data")
	ErrNotEnoughAccountKeys     = errors.New("not enough account keys")
	ErrInvalidAccountOwner      = errors.New("account not owned by token program")
	ErrInvalidAccountData       = errors.New("invalid token account data")
	ErrAlreadyInitialized       = errors.New("already initialized")
	ErrUninitializedAccount     = errors.New("uninitialized account")
	ErrNotRentExempt            = errors.New("not rent exempt")
	ErrMintMismatch             = errors.New("account mint does not match")
	ErrOwnerMismatch            = errors.New("owner does not match")
	ErrMissingRequiredSignature = errors.New("missing required signature")
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrAccountFrozen            = errors.New("account is frozen")
	ErrNativeNotSupported       = errors.New("instruction does not support native accounts")
	ErrNonNativeNotSupported    = errors.New("instruction requires a native account")
	ErrFixedSupply              = errors.New("mint has fixed supply")
	ErrOverflow                 = errors.New("amount overflow")
	ErrNonZeroBalance           = errors.New("account balance is not zero")
	ErrSelfClose                = errors.New("cannot close account into itself")
	ErrLamportsBelowReserve     = errors.New("native amount below synced state")
)

// Processor executes Token Program instructions.
type Processor struct{}

var _ svm.Program = (*Processor)(nil)

// NewProcessor creates a new Token Program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Execute runs a Token Program instruction.
func (p *Processor) Execute(ctx svm.InvokeContext, data []byte) error {
	if len(data) < 1 {
		return ErrInvalidInstructionData
	}

	switch data[0] {
	case InstructionInitializeMint:
		return p.processInitializeMint(ctx, data[1:])
	case InstructionInitializeAccount:
		return p.processInitializeAccount(ctx)
	case InstructionTransfer:
		return p.processTransfer(ctx, data[1:])
	case InstructionMintTo:
		return p.processMintTo(ctx, data[1:])
	case InstructionBurn:
		return p.processBurn(ctx, data[1:])
	case InstructionCloseAccount:
		return p.processCloseAccount(ctx)
	case InstructionSyncNative:
		return p.processSyncNative(ctx)
	default:
		return ErrInvalidInstructionData
	}
}

// checkProgramOwned verifies an account belongs to the program address this
// invocation runs as, so token and token-2022 state never cross.
func checkProgramOwned(ctx svm.InvokeContext, info *svm.AccountInfo) error {
	if info.Owner != ctx.ProgramID() {
		return ErrInvalidAccountOwner
	}
	return nil
}

// processInitializeMint writes the initial mint state.
//
// Data: decimals (1) + mint_authority (32) + freeze_authority COption
// (1-byte tag + 32 when present). Accounts: [mint].
func (p *Processor) processInitializeMint(ctx svm.InvokeContext, data []byte) error {
	if err := ctx.ConsumeCompute(svm.CUTokenInitializeMint); err != nil {
		return err
	}

	if len(data) < 34 {
		return ErrInvalidInstructionData
	}
	decimals := data[0]

	var mintAuthority types.Pubkey
	copy(mintAuthority[:], data[1:33])

	var freezeAuthority *types.Pubkey
	switch data[33] {
	case 0:
	case 1:
		if len(data) < 66 {
			return ErrInvalidInstructionData
		}
		var fa types.Pubkey
		copy(fa[:], data[34:66])
		freezeAuthority = &fa
	default:
		return ErrInvalidInstructionData
	}

	mintInfo, err := ctx.GetAccount(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	if err := checkProgramOwned(ctx, mintInfo); err != nil {
		return err
	}
	if len(mintInfo.Data) != MintLen {
		return ErrInvalidAccountData
	}

	mint, err := UnpackMint(mintInfo.Data)
	if err != nil {
		return err
	}
	if mint.Initialized {
		return ErrAlreadyInitialized
	}
	if mintInfo.Lamports < ctx.GetRentMinimum(MintLen) {
		return ErrNotRentExempt
	}

	mint.MintAuthority = &mintAuthority
	mint.Supply = 0
	mint.Decimals = decimals
	mint.Initialized = true
	mint.FreezeAuthority = freezeAuthority
	mintInfo.Data = mint.Pack()

	ctx.Log("InitializeMint: success")
	return nil
}

// processInitializeAccount writes the initial token account state.
//
// Accounts: [account, mint, owner]. For the native mint the account starts
// tracking its lamports above the rent-exempt reserve.
func (p *Processor) processInitializeAccount(ctx svm.InvokeContext) error {
	if err := ctx.ConsumeCompute(svm.CUTokenInitializeAccount); err != nil {
		return err
	}

	accInfo, err := ctx.GetAccount(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	mintInfo, err := ctx.GetAccount(1)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	ownerInfo, err := ctx.GetAccount(2)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}

	if err := checkProgramOwned(ctx, accInfo); err != nil {
		return err
	}
	if len(accInfo.Data) != AccountLen {
		return ErrInvalidAccountData
	}

	existing, err := UnpackTokenAccount(accInfo.Data)
	if err != nil {
		return err
	}
	if existing.State != AccountStateUninitialized {
		return ErrAlreadyInitialized
	}

	reserve := ctx.GetRentMinimum(AccountLen)
	if accInfo.Lamports < reserve {
		return ErrNotRentExempt
	}

	acc := &TokenAccount{
		Mint:  mintInfo.Key,
		Owner: ownerInfo.Key,
		State: AccountStateInitialized,
	}

	if mintInfo.Key == NativeMint {
		acc.IsNative = true
		acc.NativeReserve = reserve
		acc.Amount = accInfo.Lamports - reserve
	} else {
		if err := checkProgramOwned(ctx, mintInfo); err != nil {
			return err
		}
		mint, err := UnpackMint(mintInfo.Data)
		if err != nil {
			return err
		}
		if !mint.Initialized {
			return ErrUninitializedAccount
		}
	}

	accInfo.Data = acc.Pack()

	ctx.Log("InitializeAccount: success")
	return nil
}

// processTransfer moves tokens between two accounts of the same mint.
//
// Data: amount (8). Accounts: [source, destination, owner (signer)].
// Native accounts move backing lamports alongside the token amount.
func (p *Processor) processTransfer(ctx svm.InvokeContext, data []byte) error {
	if err := ctx.ConsumeCompute(svm.CUTokenTransfer); err != nil {
		return err
	}

	if len(data) < 8 {
		return ErrInvalidInstructionData
	}
	amount := binary.LittleEndian.Uint64(data[0:8])

	srcInfo, err := ctx.GetAccount(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	dstInfo, err := ctx.GetAccount(1)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	authInfo, err := ctx.GetAccount(2)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}

	if err := checkProgramOwned(ctx, srcInfo); err != nil {
		return err
	}
	src, err := unpackInitialized(srcInfo.Data)
	if err != nil {
		return err
	}

	if src.Owner != authInfo.Key {
		return ErrOwnerMismatch
	}
	if !authInfo.IsSigner {
		return ErrMissingRequiredSignature
	}
	if src.Amount < amount {
		return ErrInsufficientFunds
	}

	// Self-transfer validates and changes nothing.
	if srcInfo.Key == dstInfo.Key {
		ctx.Log("Transfer: success")
		return nil
	}

	if err := checkProgramOwned(ctx, dstInfo); err != nil {
		return err
	}
	dst, err := unpackInitialized(dstInfo.Data)
	if err != nil {
		return err
	}
	if src.Mint != dst.Mint {
		return ErrMintMismatch
	}
	if dst.Amount > ^uint64(0)-amount {
		return ErrOverflow
	}

	src.Amount -= amount
	dst.Amount += amount

	if src.IsNative {
		srcInfo.Lamports -= amount
		dstInfo.Lamports += amount
	}

	srcInfo.Data = src.Pack()
	dstInfo.Data = dst.Pack()

	ctx.Log("Transfer: success")
	return nil
}

// processMintTo mints new tokens to an account.
//
// Data: amount (8). Accounts: [mint, destination, mint authority (signer)].
func (p *Processor) processMintTo(ctx svm.InvokeContext, data []byte) error {
	if err := ctx.ConsumeCompute(svm.CUTokenMintTo); err != nil {
		return err
	}

	if len(data) < 8 {
		return ErrInvalidInstructionData
	}
	amount := binary.LittleEndian.Uint64(data[0:8])

	mintInfo, err := ctx.GetAccount(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	dstInfo, err := ctx.GetAccount(1)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	authInfo, err := ctx.GetAccount(2)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}

	if err := checkProgramOwned(ctx, mintInfo); err != nil {
		return err
	}
	if err := checkProgramOwned(ctx, dstInfo); err != nil {
		return err
	}

	dst, err := unpackInitialized(dstInfo.Data)
	if err != nil {
		return err
	}
	if dst.IsNative {
		return ErrNativeNotSupported
	}
	if dst.Mint != mintInfo.Key {
		return ErrMintMismatch
	}

	mint, err := UnpackMint(mintInfo.Data)
	if err != nil {
		return err
	}
	if !mint.Initialized {
		return ErrUninitializedAccount
	}
	if mint.MintAuthority == nil {
		return ErrFixedSupply
	}
	if *mint.MintAuthority != authInfo.Key {
		return ErrOwnerMismatch
	}
	if !authInfo.IsSigner {
		return ErrMissingRequiredSignature
	}

	if mint.Supply > ^uint64(0)-amount || dst.Amount > ^uint64(0)-amount {
		return ErrOverflow
	}

	mint.Supply += amount
	dst.Amount += amount

	mintInfo.Data = mint.Pack()
	dstInfo.Data = dst.Pack()

	ctx.Log("MintTo: success")
	return nil
}

// processBurn removes tokens from an account and the mint's supply.
//
// Data: amount (8). Accounts: [account, mint, owner (signer)].
func (p *Processor) processBurn(ctx svm.InvokeContext, data []byte) error {
	if err := ctx.ConsumeCompute(svm.CUTokenBurn); err != nil {
		return err
	}

	if len(data) < 8 {
		return ErrInvalidInstructionData
	}
	amount := binary.LittleEndian.Uint64(data[0:8])

	accInfo, err := ctx.GetAccount(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	mintInfo, err := ctx.GetAccount(1)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	authInfo, err := ctx.GetAccount(2)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}

	if err := checkProgramOwned(ctx, accInfo); err != nil {
		return err
	}
	if err := checkProgramOwned(ctx, mintInfo); err != nil {
		return err
	}

	acc, err := unpackInitialized(accInfo.Data)
	if err != nil {
		return err
	}
	if acc.IsNative {
		return ErrNativeNotSupported
	}
	if acc.Mint != mintInfo.Key {
		return ErrMintMismatch
	}
	if acc.Owner != authInfo.Key {
		return ErrOwnerMismatch
	}
	if !authInfo.IsSigner {
		return ErrMissingRequiredSignature
	}
	if acc.Amount < amount {
		return ErrInsufficientFunds
	}

	mint, err := UnpackMint(mintInfo.Data)
	if err != nil {
		return err
	}
	if !mint.Initialized {
		return ErrUninitializedAccount
	}
	if mint.Supply < amount {
		return ErrOverflow
	}

	acc.Amount -= amount
	mint.Supply -= amount

	accInfo.Data = acc.Pack()
	mintInfo.Data = mint.Pack()

	ctx.Log("Burn: success")
	return nil
}

// processCloseAccount drains an account's lamports to a destination and
// removes it.
//
// Accounts: [account, destination, authority (signer)]. Non-native accounts
// must hold zero tokens; native accounts may close with a balance since the
// tokens are lamport-backed.
func (p *Processor) processCloseAccount(ctx svm.InvokeContext) error {
	if err := ctx.ConsumeCompute(svm.CUTokenCloseAccount); err != nil {
		return err
	}

	accInfo, err := ctx.GetAccount(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	dstInfo, err := ctx.GetAccount(1)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	authInfo, err := ctx.GetAccount(2)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}

	if accInfo.Key == dstInfo.Key {
		return ErrSelfClose
	}

	if err := checkProgramOwned(ctx, accInfo); err != nil {
		return err
	}
	acc, err := unpackInitialized(accInfo.Data)
	if err != nil {
		return err
	}
	if !acc.IsNative && acc.Amount != 0 {
		return ErrNonZeroBalance
	}

	closeAuthority := acc.Owner
	if acc.CloseAuthority != nil {
		closeAuthority = *acc.CloseAuthority
	}
	if closeAuthority != authInfo.Key {
		return ErrOwnerMismatch
	}
	if !authInfo.IsSigner {
		return ErrMissingRequiredSignature
	}

	if dstInfo.Lamports > ^uint64(0)-accInfo.Lamports {
		return ErrOverflow
	}
	dstInfo.Lamports += accInfo.Lamports
	accInfo.Lamports = 0
	accInfo.Data = nil

	ctx.Log("CloseAccount: success")
	return nil
}

// processSyncNative refreshes a native account's token amount from its
// lamport balance.
//
// Accounts: [account].
func (p *Processor) processSyncNative(ctx svm.InvokeContext) error {
	if err := ctx.ConsumeCompute(svm.CUTokenSyncNative); err != nil {
		return err
	}

	accInfo, err := ctx.GetAccount(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	if err := checkProgramOwned(ctx, accInfo); err != nil {
		return err
	}

	acc, err := unpackInitialized(accInfo.Data)
	if err != nil {
		return err
	}
	if !acc.IsNative {
		return ErrNonNativeNotSupported
	}

	if accInfo.Lamports < acc.NativeReserve {
		return ErrLamportsBelowReserve
	}
	newAmount := accInfo.Lamports - acc.NativeReserve
	if newAmount < acc.Amount {
		return ErrLamportsBelowReserve
	}

	acc.Amount = newAmount
	accInfo.Data = acc.Pack()

	ctx.Log("SyncNative: success")
	return nil
}

// unpackInitialized decodes a token account and rejects uninitialized or
// frozen-for-mutation states common to most instructions.
func unpackInitialized(data []byte) (*TokenAccount, error) {
	acc, err := UnpackTokenAccount(data)
	if err != nil {
		return nil, err
	}
	if acc.State == AccountStateUninitialized {
		return nil, ErrUninitializedAccount
	}
	if acc.State == AccountStateFrozen {
		return nil, ErrAccountFrozen
	}
	return acc, nil
}
