// Package ata implements the SPL Associated Token Account Program.
//
// The canonical token account for a (wallet, mint) pair lives at a program
// derived address; Create funds, allocates, and initializes it in one
// instruction. The on-chain program does this through CPI into the system
// and token programs; the testbench's processor applies the same state
// transitions directly.
package ata

import (
	"errors"

	"github.com/fortiblox/X1-Testbench/internal/types"
	"github.com/fortiblox/X1-Testbench/pkg/svm"
	"github.com/fortiblox/X1-Testbench/pkg/svm/programs/token"
)

// ProgramID is the Associated Token Account Program address.
var ProgramID = types.AssociatedTokenProgramAddr

// Instruction discriminants. Create also accepts empty data for
// compatibility with older builders.
const (
	InstructionCreate           = 0
	InstructionCreateIdempotent = 1
)

// Error types.
var (
	ErrInvalidInstructionData   = errors.New("invalid instruction data")
	ErrNotEnoughAccountKeys     = errors.New("not enough account keys")
	ErrMissingRequiredSignature = errors.New("missing required signature")
	ErrAddressMismatch          = errors.New("associated address does not match seed derivation")
	ErrAccountAlreadyInUse      = errors.New("account already in use")
	ErrOwnerMismatch            = errors.New("existing account owner does not match wallet")
	ErrMintMismatch             = errors.New("existing account mint does not match")
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrUninitializedMint        = errors.New("mint is not initialized")
	ErrIllegalOwner             = errors.New("account owned by unexpected program")
)

// Processor executes Associated Token Account Program instructions.
type Processor struct{}

var _ svm.Program = (*Processor)(nil)

// NewProcessor creates a new ATA Program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Execute runs an ATA Program instruction.
func (p *Processor) Execute(ctx svm.InvokeContext, data []byte) error {
	if err := ctx.ConsumeCompute(svm.CUAssociatedTokenCreate); err != nil {
		return err
	}

	idempotent := false
	switch {
	case len(data) == 0:
		// Legacy Create encoding.
	case data[0] == InstructionCreate:
	case data[0] == InstructionCreateIdempotent:
		idempotent = true
	default:
		return ErrInvalidInstructionData
	}

	return p.processCreate(ctx, idempotent)
}

// processCreate funds, allocates, and initializes the associated token
// account.
//
// Accounts: [payer (signer), ata, wallet, mint, system program, token program].
func (p *Processor) processCreate(ctx svm.InvokeContext, idempotent bool) error {
	payer, err := ctx.GetAccount(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	ata, err := ctx.GetAccount(1)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	wallet, err := ctx.GetAccount(2)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	mint, err := ctx.GetAccount(3)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	if _, err := ctx.GetAccount(4); err != nil {
		return ErrNotEnoughAccountKeys
	}
	tokenProgram, err := ctx.GetAccount(5)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}

	if !payer.IsSigner {
		return ErrMissingRequiredSignature
	}

	expected, _, err := DeriveAddressForProgram(wallet.Key, mint.Key, tokenProgram.Key)
	if err != nil {
		return err
	}
	if expected != ata.Key {
		return ErrAddressMismatch
	}

	// An existing token account either satisfies an idempotent create or
	// fails a plain one.
	if ata.Owner == tokenProgram.Key && len(ata.Data) == token.AccountLen {
		if !idempotent {
			return ErrAccountAlreadyInUse
		}
		existing, err := token.UnpackTokenAccount(ata.Data)
		if err != nil {
			return err
		}
		if existing.Owner != wallet.Key {
			return ErrOwnerMismatch
		}
		if existing.Mint != mint.Key {
			return ErrMintMismatch
		}
		ctx.Log("CreateIdempotent: account exists")
		return nil
	}

	// Otherwise the address must be an untouched system account.
	if !ata.Owner.IsZero() || len(ata.Data) > 0 {
		return ErrIllegalOwner
	}

	// Validate the mint unless it is the native mint, which needs no
	// backing account.
	if mint.Key != token.NativeMint {
		if mint.Owner != tokenProgram.Key {
			return ErrIllegalOwner
		}
		mintState, err := token.UnpackMint(mint.Data)
		if err != nil {
			return err
		}
		if !mintState.Initialized {
			return ErrUninitializedMint
		}
	}

	// Fund the shortfall against the rent-exempt minimum.
	reserve := ctx.GetRentMinimum(token.AccountLen)
	if ata.Lamports < reserve {
		shortfall := reserve - ata.Lamports
		if payer.Lamports < shortfall {
			return ErrInsufficientFunds
		}
		payer.Lamports -= shortfall
		ata.Lamports += shortfall
	}

	state := &token.TokenAccount{
		Mint:  mint.Key,
		Owner: wallet.Key,
		State: token.AccountStateInitialized,
	}
	if mint.Key == token.NativeMint {
		state.IsNative = true
		state.NativeReserve = reserve
		state.Amount = ata.Lamports - reserve
	}

	ata.Data = state.Pack()
	ata.Owner = tokenProgram.Key

	ctx.Log("Create: success")
	return nil
}

// DeriveAddress returns the canonical associated token address for a wallet
// and mint under the legacy token program.
func DeriveAddress(wallet, mint types.Pubkey) (types.Pubkey, uint8, error) {
	return DeriveAddressForProgram(wallet, mint, types.TokenProgramAddr)
}

// DeriveAddressForProgram returns the associated token address for a wallet
// and mint under the given token program.
func DeriveAddressForProgram(wallet, mint, tokenProgram types.Pubkey) (types.Pubkey, uint8, error) {
	seeds := [][]byte{wallet[:], tokenProgram[:], mint[:]}
	return svm.FindProgramAddress(seeds, ProgramID)
}

// NewCreate builds a Create instruction for the associated token account of
// (wallet, mint). The payer signs and funds the account.
func NewCreate(payer, ata, wallet, mint, tokenProgram types.Pubkey) svm.Instruction {
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts:  createMetas(payer, ata, wallet, mint, tokenProgram),
		Data:      []byte{InstructionCreate},
	}
}

// NewCreateIdempotent builds a CreateIdempotent instruction: a no-op when
// the associated account already exists with the expected wallet and mint.
func NewCreateIdempotent(payer, ata, wallet, mint, tokenProgram types.Pubkey) svm.Instruction {
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts:  createMetas(payer, ata, wallet, mint, tokenProgram),
		Data:      []byte{InstructionCreateIdempotent},
	}
}

func createMetas(payer, ata, wallet, mint, tokenProgram types.Pubkey) []svm.AccountMeta {
	return []svm.AccountMeta{
		svm.MetaSigner(payer),
		svm.Meta(ata),
		svm.MetaReadonly(wallet),
		svm.MetaReadonly(mint),
		svm.MetaReadonly(types.SystemProgramAddr),
		svm.MetaReadonly(tokenProgram),
	}
}
