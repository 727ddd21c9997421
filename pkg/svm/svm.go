// Package svm implements the instruction execution engine of the testbench.
//
// The engine processes one instruction at a time against an account store.
// Programs are native Go implementations registered under their program
// address; there is no bytecode interpretation. Each Process call loads the
// instruction's accounts from the store, hands copies to the program, and
// writes the surviving changes back only if the program succeeded. A failed
// instruction never touches the store. Batch-level atomicity (running several
// instructions under one rollback policy) is layered above this package by
// pkg/sim; the engine knows nothing about batches.
package svm

import (
	"errors"
	"fmt"

	"github.com/fortiblox/X1-Testbench/internal/types"
	"github.com/fortiblox/X1-Testbench/pkg/accounts"
)

var (
	// ErrProgramNotFound is returned when no program is registered for the
	// instruction's program address.
	ErrProgramNotFound = errors.New("program not found")

	// ErrReadonlyModified is returned when a program modified an account
	// that was not marked writable.
	ErrReadonlyModified = errors.New("read-only account modified")

	// ErrUnbalancedInstruction is returned when an instruction creates or
	// destroys lamports across its accounts.
	ErrUnbalancedInstruction = errors.New("instruction does not balance lamports")

	// ErrTooManyAccounts is returned when an instruction references more
	// accounts than the engine supports.
	ErrTooManyAccounts = errors.New("too many instruction accounts")
)

// MaxInstructionAccounts bounds the number of account metas per instruction.
const MaxInstructionAccounts = 64

// AccountMeta describes one account an instruction touches.
type AccountMeta struct {
	// Pubkey is the account address.
	Pubkey types.Pubkey

	// IsSigner asserts the account has signed the enclosing transaction.
	// The testbench trusts the assertion; no signatures are verified here.
	IsSigner bool

	// IsWritable marks the account as mutable by this instruction.
	IsWritable bool
}

// Instruction is one unit of work for the engine: a program to run, the
// accounts it may touch, and its opaque input data.
type Instruction struct {
	ProgramID types.Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// Meta constructs a writable, non-signer account meta.
func Meta(pubkey types.Pubkey) AccountMeta {
	return AccountMeta{Pubkey: pubkey, IsWritable: true}
}

// MetaSigner constructs a writable signer account meta.
func MetaSigner(pubkey types.Pubkey) AccountMeta {
	return AccountMeta{Pubkey: pubkey, IsSigner: true, IsWritable: true}
}

// MetaReadonly constructs a read-only, non-signer account meta.
func MetaReadonly(pubkey types.Pubkey) AccountMeta {
	return AccountMeta{Pubkey: pubkey}
}

// MetaReadonlySigner constructs a read-only signer account meta.
func MetaReadonlySigner(pubkey types.Pubkey) AccountMeta {
	return AccountMeta{Pubkey: pubkey, IsSigner: true}
}

// AccountInfo is the mutable view of an account a program works on during
// execution. It is a copy; changes reach the store only through the engine's
// post-execution write-back.
type AccountInfo struct {
	Key        types.Pubkey
	Owner      types.Pubkey
	Lamports   uint64
	Data       []byte
	Executable bool
	RentEpoch  uint64
	IsSigner   bool
	IsWritable bool
}

// InvokeContext is the view of the engine a program sees while executing.
type InvokeContext interface {
	// ProgramID returns the address the program was invoked as. Programs
	// registered under several addresses (token vs token-2022) use this to
	// validate account ownership.
	ProgramID() types.Pubkey

	// GetAccount returns the account at the given instruction index.
	GetAccount(index int) (*AccountInfo, error)

	// NumAccounts returns how many accounts the instruction carries.
	NumAccounts() int

	// GetRentMinimum returns the rent-exempt minimum balance for an
	// account with the given data length.
	GetRentMinimum(dataLen uint64) uint64

	// Clock returns the engine's current clock sysvar values.
	Clock() Clock

	// ConsumeCompute charges compute units against the instruction's
	// budget, returning ErrComputeExceeded when it runs out.
	ConsumeCompute(cost uint64) error

	// Log records a program log line.
	Log(msg string)
}

// Program is a native instruction processor registered with the engine.
type Program interface {
	// Execute runs one instruction. A returned error marks the
	// instruction failed; the engine discards all account changes.
	Execute(ctx InvokeContext, data []byte) error
}

// Result is the engine's normalized outcome for one instruction.
//
// Err carries program-level and engine-level failures (insufficient funds,
// unknown program, compute exhaustion). It is data, not a fault: Process
// separates these from fatal store errors, which come back as its second
// return value.
type Result struct {
	// Logs holds the framed program log: invoke line, program log lines,
	// and the closing success/failure line.
	Logs []string

	// ComputeUnits is the number of compute units the instruction consumed.
	ComputeUnits uint64

	// Err is nil on success, otherwise the failure reason.
	Err error
}

// Succeeded reports whether the instruction applied.
func (r *Result) Succeeded() bool {
	return r.Err == nil
}

// Engine executes instructions against an account store.
//
// Not safe for concurrent use: the testbench runs single-threaded and the
// engine takes exclusive access to the store for the duration of a Process
// call.
type Engine struct {
	store    accounts.Store
	programs map[types.Pubkey]Program

	clock Clock
	rent  Rent

	// computeBudget is the per-instruction compute unit limit used when
	// the caller does not supply one.
	computeBudget uint64
}

// NewEngine creates an engine over the given store with default clock, rent,
// and compute budget. Programs must be registered before instructions that
// reference them are processed.
func NewEngine(store accounts.Store) *Engine {
	return &Engine{
		store:         store,
		programs:      make(map[types.Pubkey]Program),
		clock:         DefaultClock(),
		rent:          DefaultRent(),
		computeBudget: CUDefault,
	}
}

// Register binds a program implementation to an address. Re-registering an
// address replaces the previous program.
func (e *Engine) Register(programID types.Pubkey, program Program) {
	e.programs[programID] = program
}

// Registered reports whether a program is bound to the address.
func (e *Engine) Registered(programID types.Pubkey) bool {
	_, ok := e.programs[programID]
	return ok
}

// SetClock replaces the engine's clock sysvar values.
func (e *Engine) SetClock(clock Clock) {
	e.clock = clock
}

// Clock returns the engine's current clock sysvar values.
func (e *Engine) Clock() Clock {
	return e.clock
}

// Rent returns the engine's rent parameters.
func (e *Engine) Rent() Rent {
	return e.rent
}

// SetComputeBudget sets the default per-instruction compute unit limit,
// clamped to CUMax.
func (e *Engine) SetComputeBudget(limit uint64) {
	if limit > CUMax {
		limit = CUMax
	}
	if limit == 0 {
		limit = CUDefault
	}
	e.computeBudget = limit
}

// Store returns the account store the engine executes against.
func (e *Engine) Store() accounts.Store {
	return e.store
}

// Process executes one instruction under the engine's default compute budget.
//
// The returned error is a fatal store fault only (the store could not be read
// or written). Program failures, unknown programs, and compute exhaustion are
// reported inside the Result and leave the store untouched.
func (e *Engine) Process(ix Instruction) (*Result, error) {
	return e.ProcessWithLimit(ix, e.computeBudget)
}

// ProcessWithLimit executes one instruction with an explicit compute unit
// limit. A zero limit falls back to the engine default.
func (e *Engine) ProcessWithLimit(ix Instruction, limit uint64) (*Result, error) {
	if limit == 0 {
		limit = e.computeBudget
	}
	meter := NewComputeMeter(limit)

	result := &Result{}
	result.Logs = append(result.Logs, fmt.Sprintf("Program %s invoke [1]", ix.ProgramID.String()))

	fail := func(err error) *Result {
		result.Err = err
		result.ComputeUnits = meter.Consumed()
		result.Logs = append(result.Logs, fmt.Sprintf("Program %s failed: %v", ix.ProgramID.String(), err))
		return result
	}

	program, ok := e.programs[ix.ProgramID]
	if !ok {
		return fail(fmt.Errorf("%w: %s", ErrProgramNotFound, ix.ProgramID.String())), nil
	}
	if len(ix.Accounts) > MaxInstructionAccounts {
		return fail(ErrTooManyAccounts), nil
	}

	loaded, err := e.loadAccounts(ix)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}

	ictx := &invokeContext{
		programID: ix.ProgramID,
		engine:    e,
		indexes:   instructionIndexes(ix, loaded),
		meter:     meter,
		logs:      &result.Logs,
	}

	if execErr := program.Execute(ictx, ix.Data); execErr != nil {
		return fail(execErr), nil
	}

	if verr := verifyAccounts(loaded); verr != nil {
		return fail(verr), nil
	}

	if err := e.commitAccounts(loaded); err != nil {
		return nil, fmt.Errorf("write accounts: %w", err)
	}

	result.ComputeUnits = meter.Consumed()
	result.Logs = append(result.Logs, fmt.Sprintf("Program %s success", ix.ProgramID.String()))
	return result, nil
}

// loadedAccount pairs an account's working copy with the pristine state it
// was loaded from, for post-execution verification and write-back.
type loadedAccount struct {
	info *AccountInfo

	// preLamports and the other pre fields capture the account at load time.
	preLamports uint64
	preOwner    types.Pubkey
	preData     []byte
	preExec     bool
	preRent     uint64

	// existed is false when the address had no account in the store.
	existed bool
}

// loadAccounts reads every account the instruction references, deduplicating
// metas by address. Duplicate metas merge privileges: an address is a signer
// or writable if any meta says so. Missing accounts load as empty
// system-owned records.
func (e *Engine) loadAccounts(ix Instruction) ([]*loadedAccount, error) {
	loaded := make([]*loadedAccount, 0, len(ix.Accounts))
	byKey := make(map[types.Pubkey]*loadedAccount, len(ix.Accounts))

	for _, meta := range ix.Accounts {
		if prev, ok := byKey[meta.Pubkey]; ok {
			prev.info.IsSigner = prev.info.IsSigner || meta.IsSigner
			prev.info.IsWritable = prev.info.IsWritable || meta.IsWritable
			continue
		}

		acc, err := e.store.GetAccount(meta.Pubkey)
		existed := true
		if err != nil {
			if !errors.Is(err, accounts.ErrAccountNotFound) {
				return nil, fmt.Errorf("account %s: %w", meta.Pubkey.String(), err)
			}
			acc = &accounts.Account{Data: []byte{}}
			existed = false
		}

		la := &loadedAccount{
			info: &AccountInfo{
				Key:        meta.Pubkey,
				Owner:      acc.Owner,
				Lamports:   acc.Lamports,
				Data:       acc.Data,
				Executable: acc.Executable,
				RentEpoch:  acc.RentEpoch,
				IsSigner:   meta.IsSigner,
				IsWritable: meta.IsWritable,
			},
			preLamports: acc.Lamports,
			preOwner:    acc.Owner,
			preData:     cloneBytes(acc.Data),
			preExec:     acc.Executable,
			preRent:     acc.RentEpoch,
			existed:     existed,
		}
		loaded = append(loaded, la)
		byKey[meta.Pubkey] = la
	}

	return loaded, nil
}

// instructionIndexes maps each instruction account position to its
// deduplicated loaded account, preserving the instruction's view.
func instructionIndexes(ix Instruction, loaded []*loadedAccount) []*AccountInfo {
	byKey := make(map[types.Pubkey]*AccountInfo, len(loaded))
	for _, la := range loaded {
		byKey[la.info.Key] = la.info
	}
	infos := make([]*AccountInfo, len(ix.Accounts))
	for i, meta := range ix.Accounts {
		infos[i] = byKey[meta.Pubkey]
	}
	return infos
}

// verifyAccounts enforces the engine's post-execution invariants: read-only
// accounts are byte-identical to their loaded state, and lamports balance
// across the instruction's accounts.
func verifyAccounts(loaded []*loadedAccount) error {
	var preTotal, postTotal uint64
	for _, la := range loaded {
		preTotal += la.preLamports
		postTotal += la.info.Lamports

		if la.info.IsWritable {
			continue
		}
		if la.info.Lamports != la.preLamports ||
			la.info.Owner != la.preOwner ||
			la.info.Executable != la.preExec ||
			la.info.RentEpoch != la.preRent ||
			!bytesEqual(la.info.Data, la.preData) {
			return fmt.Errorf("%w: %s", ErrReadonlyModified, la.info.Key.String())
		}
	}
	if preTotal != postTotal {
		return fmt.Errorf("%w: pre %d post %d", ErrUnbalancedInstruction, preTotal, postTotal)
	}
	return nil
}

// commitAccounts writes writable accounts back to the store. Accounts left
// with zero lamports are removed, so accounts created and drained within one
// instruction never appear in the store.
func (e *Engine) commitAccounts(loaded []*loadedAccount) error {
	for _, la := range loaded {
		if !la.info.IsWritable {
			continue
		}

		if la.info.Lamports == 0 {
			if la.existed {
				if err := e.store.DeleteAccount(la.info.Key); err != nil {
					return fmt.Errorf("delete %s: %w", la.info.Key.String(), err)
				}
			}
			continue
		}

		changed := la.info.Lamports != la.preLamports ||
			la.info.Owner != la.preOwner ||
			la.info.Executable != la.preExec ||
			la.info.RentEpoch != la.preRent ||
			!bytesEqual(la.info.Data, la.preData)
		if !changed && la.existed {
			continue
		}

		err := e.store.SetAccount(la.info.Key, &accounts.Account{
			Lamports:   la.info.Lamports,
			Data:       la.info.Data,
			Owner:      la.info.Owner,
			Executable: la.info.Executable,
			RentEpoch:  la.info.RentEpoch,
		})
		if err != nil {
			return fmt.Errorf("write %s: %w", la.info.Key.String(), err)
		}
	}
	return nil
}

// invokeContext is the engine's InvokeContext implementation for one
// instruction.
type invokeContext struct {
	programID types.Pubkey
	engine    *Engine
	indexes   []*AccountInfo
	meter     *ComputeMeter
	logs      *[]string
}

var _ InvokeContext = (*invokeContext)(nil)

// ProgramID returns the invoked program address.
func (c *invokeContext) ProgramID() types.Pubkey {
	return c.programID
}

// GetAccount returns the account at the given instruction index.
func (c *invokeContext) GetAccount(index int) (*AccountInfo, error) {
	if index < 0 || index >= len(c.indexes) {
		return nil, fmt.Errorf("account index %d out of range (%d accounts)", index, len(c.indexes))
	}
	return c.indexes[index], nil
}

// NumAccounts returns the instruction's account count.
func (c *invokeContext) NumAccounts() int {
	return len(c.indexes)
}

// GetRentMinimum returns the rent-exempt minimum for the data length.
func (c *invokeContext) GetRentMinimum(dataLen uint64) uint64 {
	return c.engine.rent.MinimumBalance(dataLen)
}

// Clock returns the engine clock.
func (c *invokeContext) Clock() Clock {
	return c.engine.clock
}

// ConsumeCompute charges compute units.
func (c *invokeContext) ConsumeCompute(cost uint64) error {
	return c.meter.Consume(cost)
}

// Log records a framed program log line.
func (c *invokeContext) Log(msg string) {
	*c.logs = append(*c.logs, "Program log: "+msg)
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
