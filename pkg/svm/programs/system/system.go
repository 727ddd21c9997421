// Package system implements the System Program.
//
// The System Program is responsible for:
// - Creating new accounts
// - Transferring lamports
// - Assigning account ownership
// - Allocating account space
// - Creating accounts with seed-derived addresses
package system

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"github.com/fortiblox/X1-Testbench/internal/types"
	"github.com/fortiblox/X1-Testbench/pkg/svm"
)

// ProgramID is the System Program address (all zeros).
var ProgramID = types.SystemProgramAddr

// Instruction discriminants.
const (
	InstructionCreateAccount = iota
	InstructionAssign
	InstructionTransfer
	InstructionCreateAccountWithSeed
	InstructionAdvanceNonceAccount
	InstructionWithdrawNonceAccount
	InstructionInitializeNonceAccount
	InstructionAuthorizeNonceAccount
	InstructionAllocate
	InstructionAllocateWithSeed
	InstructionAssignWithSeed
	InstructionTransferWithSeed
	InstructionUpgradeNonceAccount
)

// Error types.
var (
	ErrInvalidInstructionData   = errors.New("invalid instruction data")
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrAccountAlreadyInUse      = errors.New("account already in use")
	ErrNotEnoughAccountKeys     = errors.New("not enough account keys")
	ErrInvalidAccountOwner      = errors.New("invalid account owner")
	ErrAccountNotRentExempt     = errors.New("account not rent exempt")
	ErrMissingRequiredSignature = errors.New("missing required signature")
	ErrAccountDataTooSmall      = errors.New("account data too small")
	ErrAccountDataTooLarge      = errors.New("account data too large")
	ErrInvalidSeed              = errors.New("invalid seed")
	ErrAddressMismatch          = errors.New("seed-derived address mismatch")
	ErrAccountNotWritable       = errors.New("account not writable")
	ErrLamportOverflow          = errors.New("lamport overflow")
)

// Maximum account data size.
const MaxAccountDataSize = 10 * 1024 * 1024 // 10 MB

// Processor executes System Program instructions.
type Processor struct{}

var _ svm.Program = (*Processor)(nil)

// NewProcessor creates a new System Program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Execute runs a System Program instruction.
func (p *Processor) Execute(ctx svm.InvokeContext, data []byte) error {
	if err := ctx.ConsumeCompute(svm.CUSystemProgramDefault); err != nil {
		return err
	}

	if len(data) < 4 {
		return ErrInvalidInstructionData
	}

	instruction := binary.LittleEndian.Uint32(data[:4])

	switch instruction {
	case InstructionCreateAccount:
		return p.processCreateAccount(ctx, data[4:])
	case InstructionAssign:
		return p.processAssign(ctx, data[4:])
	case InstructionTransfer:
		return p.processTransfer(ctx, data[4:])
	case InstructionAllocate:
		return p.processAllocate(ctx, data[4:])
	case InstructionCreateAccountWithSeed:
		return p.processCreateAccountWithSeed(ctx, data[4:])
	case InstructionAllocateWithSeed:
		return p.processAllocateWithSeed(ctx, data[4:])
	case InstructionAssignWithSeed:
		return p.processAssignWithSeed(ctx, data[4:])
	case InstructionTransferWithSeed:
		return p.processTransferWithSeed(ctx, data[4:])
	default:
		return ErrInvalidInstructionData
	}
}

// CreateAccountParams for CreateAccount instruction.
type CreateAccountParams struct {
	Lamports uint64
	Space    uint64
	Owner    types.Pubkey
}

// processCreateAccount creates a new account.
func (p *Processor) processCreateAccount(ctx svm.InvokeContext, data []byte) error {
	// Parse parameters: lamports (8) + space (8) + owner (32)
	if len(data) < 48 {
		return ErrInvalidInstructionData
	}

	params := CreateAccountParams{
		Lamports: binary.LittleEndian.Uint64(data[0:8]),
		Space:    binary.LittleEndian.Uint64(data[8:16]),
	}
	copy(params.Owner[:], data[16:48])

	if params.Space > MaxAccountDataSize {
		return ErrAccountDataTooLarge
	}

	// Accounts: [0] = funding account, [1] = new account
	funder, err := ctx.GetAccount(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	newAccount, err := ctx.GetAccount(1)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}

	if !funder.IsSigner {
		return ErrMissingRequiredSignature
	}
	if !newAccount.IsSigner {
		return ErrMissingRequiredSignature
	}

	if funder.Lamports < params.Lamports {
		return ErrInsufficientFunds
	}

	// The new account must be untouched: system-owned, no data, no balance.
	if newAccount.Owner != ProgramID || len(newAccount.Data) > 0 || newAccount.Lamports > 0 {
		return ErrAccountAlreadyInUse
	}

	rentMinimum := ctx.GetRentMinimum(params.Space)
	if params.Lamports < rentMinimum {
		return ErrAccountNotRentExempt
	}

	funder.Lamports -= params.Lamports
	newAccount.Lamports = params.Lamports
	newAccount.Data = make([]byte, params.Space)
	newAccount.Owner = params.Owner

	ctx.Log("CreateAccount: success")
	return nil
}

// processAssign changes the owner of an account.
func (p *Processor) processAssign(ctx svm.InvokeContext, data []byte) error {
	// Parse parameters: owner (32)
	if len(data) < 32 {
		return ErrInvalidInstructionData
	}

	var newOwner types.Pubkey
	copy(newOwner[:], data[0:32])

	account, err := ctx.GetAccount(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}

	if !account.IsSigner {
		return ErrMissingRequiredSignature
	}
	if account.Owner != ProgramID {
		return ErrInvalidAccountOwner
	}

	account.Owner = newOwner

	ctx.Log("Assign: success")
	return nil
}

// processTransfer transfers lamports between accounts.
func (p *Processor) processTransfer(ctx svm.InvokeContext, data []byte) error {
	// Parse parameters: lamports (8)
	if len(data) < 8 {
		return ErrInvalidInstructionData
	}

	lamports := binary.LittleEndian.Uint64(data[0:8])

	// Accounts: [0] = from, [1] = to
	from, err := ctx.GetAccount(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	to, err := ctx.GetAccount(1)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}

	if !from.IsSigner {
		return ErrMissingRequiredSignature
	}
	if !from.IsWritable || !to.IsWritable {
		return ErrAccountNotWritable
	}

	// Only system-owned accounts with no data can be debited. Token
	// accounts hold lamports too; draining those goes through their
	// owning program.
	if from.Owner != ProgramID {
		return ErrInvalidAccountOwner
	}
	if len(from.Data) > 0 {
		return ErrInvalidInstructionData
	}

	if from.Lamports < lamports {
		return ErrInsufficientFunds
	}
	if to.Lamports > ^uint64(0)-lamports {
		return ErrLamportOverflow
	}

	from.Lamports -= lamports
	to.Lamports += lamports

	ctx.Log("Transfer: success")
	return nil
}

// processAllocate allocates space in an account.
func (p *Processor) processAllocate(ctx svm.InvokeContext, data []byte) error {
	// Parse parameters: space (8)
	if len(data) < 8 {
		return ErrInvalidInstructionData
	}

	space := binary.LittleEndian.Uint64(data[0:8])

	if space > MaxAccountDataSize {
		return ErrAccountDataTooLarge
	}

	account, err := ctx.GetAccount(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}

	if !account.IsSigner {
		return ErrMissingRequiredSignature
	}
	if account.Owner != ProgramID {
		return ErrInvalidAccountOwner
	}

	// Cannot shrink an account.
	if uint64(len(account.Data)) > space {
		return ErrAccountDataTooSmall
	}

	if uint64(len(account.Data)) < space {
		newData := make([]byte, space)
		copy(newData, account.Data)
		account.Data = newData
	}

	ctx.Log("Allocate: success")
	return nil
}

// processCreateAccountWithSeed creates an account with a seed-derived address.
func (p *Processor) processCreateAccountWithSeed(ctx svm.InvokeContext, data []byte) error {
	// Parse parameters:
	// base (32) + seed_len (8) + seed (variable) + lamports (8) + space (8) + owner (32)
	if len(data) < 48 {
		return ErrInvalidInstructionData
	}

	var base types.Pubkey
	copy(base[:], data[0:32])

	seedLen := binary.LittleEndian.Uint64(data[32:40])
	if seedLen > 32 || len(data) < int(48+seedLen) {
		return ErrInvalidSeed
	}

	seed := data[40 : 40+seedLen]
	offset := 40 + seedLen

	if len(data) < int(offset+48) {
		return ErrInvalidInstructionData
	}

	lamports := binary.LittleEndian.Uint64(data[offset : offset+8])
	space := binary.LittleEndian.Uint64(data[offset+8 : offset+16])
	var owner types.Pubkey
	copy(owner[:], data[offset+16:offset+48])

	if space > MaxAccountDataSize {
		return ErrAccountDataTooLarge
	}

	// Accounts: [0] = funding, [1] = created account
	funder, err := ctx.GetAccount(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	newAccount, err := ctx.GetAccount(1)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}

	if !funder.IsSigner {
		return ErrMissingRequiredSignature
	}
	if funder.Lamports < lamports {
		return ErrInsufficientFunds
	}
	if newAccount.Owner != ProgramID || len(newAccount.Data) > 0 || newAccount.Lamports > 0 {
		return ErrAccountAlreadyInUse
	}

	expectedAddr := CreateWithSeedAddress(base, string(seed), owner)
	if expectedAddr != newAccount.Key {
		return ErrAddressMismatch
	}

	rentMinimum := ctx.GetRentMinimum(space)
	if lamports < rentMinimum {
		return ErrAccountNotRentExempt
	}

	funder.Lamports -= lamports
	newAccount.Lamports = lamports
	newAccount.Data = make([]byte, space)
	newAccount.Owner = owner

	ctx.Log("CreateAccountWithSeed: success")
	return nil
}

// processAllocateWithSeed allocates space in a seed-derived account.
func (p *Processor) processAllocateWithSeed(ctx svm.InvokeContext, data []byte) error {
	// Parse: base (32) + seed_len (8) + seed + space (8) + owner (32)
	if len(data) < 48 {
		return ErrInvalidInstructionData
	}

	var base types.Pubkey
	copy(base[:], data[0:32])

	seedLen := binary.LittleEndian.Uint64(data[32:40])
	if seedLen > 32 || len(data) < int(48+seedLen) {
		return ErrInvalidSeed
	}

	seed := data[40 : 40+seedLen]
	offset := 40 + seedLen

	if len(data) < int(offset+40) {
		return ErrInvalidInstructionData
	}

	space := binary.LittleEndian.Uint64(data[offset : offset+8])
	var owner types.Pubkey
	copy(owner[:], data[offset+8:offset+40])

	if space > MaxAccountDataSize {
		return ErrAccountDataTooLarge
	}

	account, err := ctx.GetAccount(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}

	expectedAddr := CreateWithSeedAddress(base, string(seed), owner)
	if expectedAddr != account.Key {
		return ErrAddressMismatch
	}
	if account.Owner != ProgramID {
		return ErrInvalidAccountOwner
	}

	if uint64(len(account.Data)) < space {
		newData := make([]byte, space)
		copy(newData, account.Data)
		account.Data = newData
	}
	account.Owner = owner

	ctx.Log("AllocateWithSeed: success")
	return nil
}

// processAssignWithSeed assigns owner to a seed-derived account.
func (p *Processor) processAssignWithSeed(ctx svm.InvokeContext, data []byte) error {
	// Parse: base (32) + seed_len (8) + seed + owner (32)
	if len(data) < 40 {
		return ErrInvalidInstructionData
	}

	var base types.Pubkey
	copy(base[:], data[0:32])

	seedLen := binary.LittleEndian.Uint64(data[32:40])
	if seedLen > 32 || len(data) < int(72+seedLen) {
		return ErrInvalidSeed
	}

	seed := data[40 : 40+seedLen]
	offset := 40 + seedLen

	var owner types.Pubkey
	copy(owner[:], data[offset:offset+32])

	account, err := ctx.GetAccount(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}

	expectedAddr := CreateWithSeedAddress(base, string(seed), owner)
	if expectedAddr != account.Key {
		return ErrAddressMismatch
	}
	if account.Owner != ProgramID {
		return ErrInvalidAccountOwner
	}

	account.Owner = owner

	ctx.Log("AssignWithSeed: success")
	return nil
}

// processTransferWithSeed transfers from a seed-derived account.
func (p *Processor) processTransferWithSeed(ctx svm.InvokeContext, data []byte) error {
	// Parse: lamports (8) + from_seed_len (8) + from_seed + from_owner (32)
	if len(data) < 16 {
		return ErrInvalidInstructionData
	}

	lamports := binary.LittleEndian.Uint64(data[0:8])
	seedLen := binary.LittleEndian.Uint64(data[8:16])

	if seedLen > 32 || len(data) < int(48+seedLen) {
		return ErrInvalidSeed
	}

	seed := data[16 : 16+seedLen]
	offset := 16 + seedLen

	var fromOwner types.Pubkey
	copy(fromOwner[:], data[offset:offset+32])

	// Accounts: [0] = from, [1] = base, [2] = to
	from, err := ctx.GetAccount(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	base, err := ctx.GetAccount(1)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	to, err := ctx.GetAccount(2)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}

	if !base.IsSigner {
		return ErrMissingRequiredSignature
	}

	expectedAddr := CreateWithSeedAddress(base.Key, string(seed), fromOwner)
	if expectedAddr != from.Key {
		return ErrAddressMismatch
	}

	if from.Lamports < lamports {
		return ErrInsufficientFunds
	}
	if to.Lamports > ^uint64(0)-lamports {
		return ErrLamportOverflow
	}

	from.Lamports -= lamports
	to.Lamports += lamports

	ctx.Log("TransferWithSeed: success")
	return nil
}

// CreateWithSeedAddress derives the address of a seed-created account:
// SHA256(base + seed + owner).
func CreateWithSeedAddress(base types.Pubkey, seed string, owner types.Pubkey) types.Pubkey {
	h := sha256.New()
	h.Write(base[:])
	h.Write([]byte(seed))
	h.Write(owner[:])

	var result types.Pubkey
	copy(result[:], h.Sum(nil))
	return result
}
