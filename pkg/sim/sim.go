// Package sim is the public testbench harness.
//
// A Simulator wraps an account store and an execution engine, registers
// the standard program set, and exposes the batch API: callers seed
// accounts, queue instructions through a TransactionBuilder, and run
// them under one of three rollback policies (stop on failure, allow
// failures, dry run). Every batch is bracketed by a store snapshot, so
// a failed or dry-run batch leaves the store exactly as it found it.
//
// The harness is strictly single threaded. One batch runs at a time
// against a given store, and nothing here locks; concurrent use is not
// a supported case.
package sim

import (
	"errors"
	"fmt"

	"github.com/fortiblox/X1-Testbench/internal/types"
	"github.com/fortiblox/X1-Testbench/pkg/accounts"
	"github.com/fortiblox/X1-Testbench/pkg/ledger"
	"github.com/fortiblox/X1-Testbench/pkg/svm"
	"github.com/fortiblox/X1-Testbench/pkg/svm/programs/ata"
	"github.com/fortiblox/X1-Testbench/pkg/svm/programs/computebudget"
	"github.com/fortiblox/X1-Testbench/pkg/svm/programs/memo"
	"github.com/fortiblox/X1-Testbench/pkg/svm/programs/precompiles"
	"github.com/fortiblox/X1-Testbench/pkg/svm/programs/system"
	"github.com/fortiblox/X1-Testbench/pkg/svm/programs/token"
)

// ErrNoSuchKeypair is returned when a named keypair is not in the keyring.
var ErrNoSuchKeypair = errors.New("no such keypair")

// Config holds simulator construction options.
type Config struct {
	// Store backs the account state. Nil means a fresh in-memory store
	// owned (and closed) by the simulator.
	Store accounts.Store

	// UnixTimestamp seeds the clock sysvar.
	UnixTimestamp int64

	// Slot seeds the clock sysvar.
	Slot uint64

	// ComputeBudget is the per-instruction compute unit limit. Zero
	// means the engine default.
	ComputeBudget uint64

	// LedgerPath, when set, opens a flight recorder at the path and
	// appends one record per executed batch.
	LedgerPath string
}

// DefaultConfig returns the default simulator configuration: in-memory
// store, zeroed clock, default compute budget, no ledger.
func DefaultConfig() Config {
	return Config{}
}

// Simulator is an in-process execution environment for instruction
// batches.
type Simulator struct {
	store    accounts.Store
	engine   *svm.Engine
	keyring  *keyring
	recorder *ledger.Ledger

	// ownStore is set when the simulator created the store itself.
	ownStore bool
}

// New creates a simulator with the default configuration.
func New() *Simulator {
	s, err := NewWithConfig(DefaultConfig())
	if err != nil {
		// The default configuration touches no disk and cannot fail.
		panic("sim: " + err.Error())
	}
	return s
}

// NewWithConfig creates a simulator from an explicit configuration.
func NewWithConfig(cfg Config) (*Simulator, error) {
	store := cfg.Store
	ownStore := false
	if store == nil {
		store = accounts.NewMemoryStore()
		ownStore = true
	}

	engine := svm.NewEngine(store)
	if cfg.ComputeBudget != 0 {
		engine.SetComputeBudget(cfg.ComputeBudget)
	}

	clock := svm.DefaultClock()
	clock.Slot = cfg.Slot
	clock.UnixTimestamp = cfg.UnixTimestamp
	engine.SetClock(clock)

	s := &Simulator{
		store:    store,
		engine:   engine,
		keyring:  newKeyring(),
		ownStore: ownStore,
	}

	if err := s.registerDefaults(); err != nil {
		s.closeOwned()
		return nil, fmt.Errorf("register default programs: %w", err)
	}
	if err := engine.WriteClockSysvar(); err != nil {
		s.closeOwned()
		return nil, fmt.Errorf("write clock sysvar: %w", err)
	}
	if err := engine.WriteRentSysvar(); err != nil {
		s.closeOwned()
		return nil, fmt.Errorf("write rent sysvar: %w", err)
	}

	if cfg.LedgerPath != "" {
		recorder, err := ledger.Open(cfg.LedgerPath)
		if err != nil {
			s.closeOwned()
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		s.recorder = recorder
	}

	return s, nil
}

// registerDefaults installs the standard program set and materializes
// their executable accounts, named the way the native loader does.
func (s *Simulator) registerDefaults() error {
	builtins := []struct {
		id      types.Pubkey
		name    string
		program svm.Program
	}{
		{types.SystemProgramAddr, "system_program", system.NewProcessor()},
		{types.TokenProgramAddr, "spl_token_program", token.NewProcessor()},
		{types.Token2022ProgramAddr, "spl_token_2022_program", token.NewProcessor()},
		{types.AssociatedTokenProgramAddr, "spl_associated_token_account_program", ata.NewProcessor()},
		{types.MemoProgramAddr, "spl_memo_program", memo.NewProcessor()},
		{types.MemoV1ProgramAddr, "spl_memo_v1_program", memo.NewLegacyProcessor()},
		{types.ComputeBudgetProgramAddr, "compute_budget_program", computebudget.NewProcessor()},
		{types.Ed25519PrecompileAddr, "ed25519_program", precompiles.NewEd25519Processor()},
		{types.Secp256k1PrecompileAddr, "secp256k1_program", precompiles.NewSecp256k1Processor()},
	}

	for _, b := range builtins {
		s.engine.Register(b.id, b.program)
		err := s.store.SetAccount(b.id, &accounts.Account{
			Lamports:   1,
			Data:       []byte(b.name),
			Owner:      types.NativeLoaderAddr,
			Executable: true,
		})
		if err != nil {
			return fmt.Errorf("materialize %s: %w", b.name, err)
		}
	}
	return nil
}

// closeOwned releases resources created by the simulator itself.
func (s *Simulator) closeOwned() {
	if s.ownStore {
		s.store.Close()
	}
}

// Close releases the ledger and, when the simulator created it, the
// store. A caller-supplied store stays open.
func (s *Simulator) Close() error {
	var firstErr error
	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			firstErr = err
		}
	}
	if s.ownStore {
		if err := s.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Store returns the underlying account store.
func (s *Simulator) Store() accounts.Store {
	return s.store
}

// Loader selects which loader owns a registered program account.
type Loader uint8

const (
	// LoaderV2 is the non-upgradeable BPF loader.
	LoaderV2 Loader = iota

	// LoaderV3 is the upgradeable BPF loader.
	LoaderV3
)

// Address returns the loader's program address.
func (l Loader) Address() types.Pubkey {
	if l == LoaderV2 {
		return types.BPFLoader2Addr
	}
	return types.BPFLoaderUpgradeableAddr
}

// RegisterProgram registers a program implementation under the given id
// and materializes an executable account owned by the upgradeable
// loader.
func (s *Simulator) RegisterProgram(id types.Pubkey, program svm.Program) error {
	return s.RegisterProgramWithLoader(id, program, LoaderV3)
}

// RegisterProgramWithLoader registers a program implementation with an
// explicit loader as the program account's owner.
func (s *Simulator) RegisterProgramWithLoader(id types.Pubkey, program svm.Program, loader Loader) error {
	s.engine.Register(id, program)
	return s.store.SetAccount(id, &accounts.Account{
		Lamports:   s.engine.Rent().MinimumBalance(0),
		Data:       []byte{},
		Owner:      loader.Address(),
		Executable: true,
	})
}

// AddProgramAccount materializes an executable program account holding
// the given image without registering an implementation. Instructions
// against it fail with svm.ErrProgramNotFound until an implementation
// is registered.
func (s *Simulator) AddProgramAccount(id types.Pubkey, data []byte, loader Loader) error {
	image := make([]byte, len(data))
	copy(image, data)
	return s.store.SetAccount(id, &accounts.Account{
		Lamports:   s.engine.Rent().MinimumBalance(uint64(len(image))),
		Data:       image,
		Owner:      loader.Address(),
		Executable: true,
	})
}

// SetAccount writes an account record directly into the store.
func (s *Simulator) SetAccount(pubkey types.Pubkey, account *accounts.Account) error {
	return s.store.SetAccount(pubkey, account)
}

// GetAccount reads an account record from the store.
func (s *Simulator) GetAccount(pubkey types.Pubkey) (*accounts.Account, error) {
	return s.store.GetAccount(pubkey)
}

// Balance returns an account's lamports, zero when it does not exist.
func (s *Simulator) Balance(pubkey types.Pubkey) uint64 {
	account, err := s.store.GetAccount(pubkey)
	if err != nil {
		return 0
	}
	return account.Lamports
}

// FundAccount credits lamports to an account, creating it as a plain
// system account when absent. This is setup-time airdropping; it does
// not run an instruction.
func (s *Simulator) FundAccount(pubkey types.Pubkey, lamports uint64) error {
	account, err := s.store.GetAccount(pubkey)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		account = &accounts.Account{Lamports: lamports}
		return s.store.SetAccount(pubkey, account)
	}
	if err != nil {
		return err
	}
	account.Lamports += lamports
	return s.store.SetAccount(pubkey, account)
}

// ProcessInstruction executes one instruction outside a batch and
// converts a failure outcome into an error. The store is untouched on
// failure.
func (s *Simulator) ProcessInstruction(ix svm.Instruction) (*svm.Result, error) {
	result, err := s.engine.Process(ix)
	if err != nil {
		return nil, err
	}
	if result.Err != nil {
		return result, result.Err
	}
	return result, nil
}

// ProcessInstructionUnchecked executes one instruction outside a batch
// and returns the raw result; failures stay in Result.Err.
func (s *Simulator) ProcessInstructionUnchecked(ix svm.Instruction) (*svm.Result, error) {
	return s.engine.Process(ix)
}

// Transfer moves lamports between system accounts.
func (s *Simulator) Transfer(from, to types.Pubkey, lamports uint64) (*svm.Result, error) {
	return s.ProcessInstruction(system.NewTransfer(from, to, lamports))
}

// SnapshotAccounts captures the full store state.
func (s *Simulator) SnapshotAccounts() (*accounts.Snapshot, error) {
	return accounts.TakeSnapshot(s.store)
}

// RestoreAccounts rewrites the store from a snapshot.
func (s *Simulator) RestoreAccounts(snapshot *accounts.Snapshot) error {
	return snapshot.Restore(s.store)
}

// StateDigest returns the digest of the full store state.
func (s *Simulator) StateDigest() (types.Hash, error) {
	return accounts.StoreDigest(s.store)
}

// SetUnixTimestamp updates the clock's wall-clock time and rewrites the
// clock sysvar account.
func (s *Simulator) SetUnixTimestamp(ts int64) error {
	clock := s.engine.Clock()
	clock.UnixTimestamp = ts
	s.engine.SetClock(clock)
	return s.engine.WriteClockSysvar()
}

// UnixTimestamp returns the clock's wall-clock time.
func (s *Simulator) UnixTimestamp() int64 {
	return s.engine.Clock().UnixTimestamp
}

// WarpToSlot moves the clock to the given slot and rewrites the clock
// sysvar account.
func (s *Simulator) WarpToSlot(slot uint64) error {
	clock := s.engine.Clock()
	clock.Slot = slot
	s.engine.SetClock(clock)
	return s.engine.WriteClockSysvar()
}

// Slot returns the clock's current slot.
func (s *Simulator) Slot() uint64 {
	return s.engine.Clock().Slot
}

// StoreKeypair places a keypair in the keyring under a name.
func (s *Simulator) StoreKeypair(name string, kp *types.Keypair) {
	s.keyring.store(name, kp)
}

// Keypair returns the named keypair, or ErrNoSuchKeypair.
func (s *Simulator) Keypair(name string) (*types.Keypair, error) {
	return s.keyring.get(name)
}

// KeypairPubkey returns the named keypair's public key.
func (s *Simulator) KeypairPubkey(name string) (types.Pubkey, error) {
	kp, err := s.keyring.get(name)
	if err != nil {
		return types.Pubkey{}, err
	}
	return kp.Pubkey(), nil
}

// SignWith signs a message with the named keypair.
func (s *Simulator) SignWith(name string, message []byte) (types.Signature, error) {
	kp, err := s.keyring.get(name)
	if err != nil {
		return types.Signature{}, err
	}
	return kp.Sign(message), nil
}
