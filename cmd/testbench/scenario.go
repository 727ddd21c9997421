package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fortiblox/X1-Testbench/internal/types"
	"github.com/fortiblox/X1-Testbench/pkg/sim"
	"github.com/fortiblox/X1-Testbench/pkg/svm"
	"github.com/fortiblox/X1-Testbench/pkg/svm/programs/ata"
	"github.com/fortiblox/X1-Testbench/pkg/svm/programs/computebudget"
	"github.com/fortiblox/X1-Testbench/pkg/svm/programs/memo"
	"github.com/fortiblox/X1-Testbench/pkg/svm/programs/system"
	"github.com/fortiblox/X1-Testbench/pkg/svm/programs/token"
	"github.com/mr-tron/base58"
)

// Scenario is the declarative input of one testbench run: named actors,
// seeded state, and the instruction batches to execute.
//
// Named keypairs are derived deterministically from their name, so a
// fixture written by one run resolves to the same addresses in the next.
type Scenario struct {
	Name          string        `json:"name,omitempty"`
	Slot          uint64        `json:"slot,omitempty"`
	UnixTimestamp int64         `json:"unixTimestamp,omitempty"`
	Keypairs      []string      `json:"keypairs,omitempty"`
	Accounts      []AccountSeed `json:"accounts,omitempty"`
	Mints         []MintSeed    `json:"mints,omitempty"`
	TokenAccounts []TokenSeed   `json:"tokenAccounts,omitempty"`
	Batches       []BatchSpec   `json:"batches"`
}

// AccountSeed credits lamports to an account before any batch runs.
// Either a name (introduced if new) or an explicit base58 address.
type AccountSeed struct {
	Name     string `json:"name,omitempty"`
	Address  string `json:"address,omitempty"`
	Lamports uint64 `json:"lamports"`
}

// MintSeed materializes an initialized mint under a fresh named address.
type MintSeed struct {
	Name      string `json:"name"`
	Authority string `json:"authority"`
	Decimals  uint8  `json:"decimals,omitempty"`
}

// TokenSeed materializes an initialized token account under a fresh
// named address.
type TokenSeed struct {
	Name   string `json:"name"`
	Mint   string `json:"mint"`
	Owner  string `json:"owner"`
	Amount uint64 `json:"amount,omitempty"`
}

// BatchSpec is one instruction batch and the policy to run it under.
type BatchSpec struct {
	Label        string            `json:"label,omitempty"`
	Policy       string            `json:"policy,omitempty"`
	Instructions []InstructionSpec `json:"instructions"`
	Expect       *ExpectSpec       `json:"expect,omitempty"`
}

// InstructionSpec is one instruction, either typed or raw. The populated
// fields depend on Type.
type InstructionSpec struct {
	Type string `json:"type"`

	// transfer, create-account
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
	Lamports uint64 `json:"lamports,omitempty"`
	New      string `json:"new,omitempty"`
	Space    uint64 `json:"space,omitempty"`
	Owner    string `json:"owner,omitempty"`

	// memo
	Text    string   `json:"text,omitempty"`
	Signers []string `json:"signers,omitempty"`

	// mint-to, token-transfer, sync-native
	Mint        string `json:"mint,omitempty"`
	Source      string `json:"source,omitempty"`
	Destination string `json:"destination,omitempty"`
	Authority   string `json:"authority,omitempty"`
	Amount      uint64 `json:"amount,omitempty"`
	Account     string `json:"account,omitempty"`

	// create-ata
	Payer  string `json:"payer,omitempty"`
	Wallet string `json:"wallet,omitempty"`

	// compute-limit
	Units uint32 `json:"units,omitempty"`

	// raw
	Program    string            `json:"program,omitempty"`
	Accounts   []AccountMetaSpec `json:"accounts,omitempty"`
	Data       string            `json:"data,omitempty"`
	DataBase64 string            `json:"dataBase64,omitempty"`
}

// AccountMetaSpec is one account meta of a raw instruction.
type AccountMetaSpec struct {
	Pubkey   string `json:"pubkey"`
	Signer   bool   `json:"signer,omitempty"`
	Writable bool   `json:"writable,omitempty"`
}

// ExpectSpec asserts on the state after a batch. Any violated assertion
// makes the run exit non-zero.
type ExpectSpec struct {
	Status        string               `json:"status,omitempty"`
	FailedIndex   *int                 `json:"failedIndex,omitempty"`
	Balances      []BalanceExpect      `json:"balances,omitempty"`
	TokenBalances []TokenBalanceExpect `json:"tokenBalances,omitempty"`
}

// BalanceExpect asserts an account's lamport balance.
type BalanceExpect struct {
	Account  string `json:"account"`
	Lamports uint64 `json:"lamports"`
}

// TokenBalanceExpect asserts a token account's amount.
type TokenBalanceExpect struct {
	Account string `json:"account"`
	Amount  uint64 `json:"amount"`
}

// loadScenario reads and strictly decodes a scenario file.
func loadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}

	for i, batch := range sc.Batches {
		if _, err := parsePolicy(batch.Policy); err != nil {
			return nil, fmt.Errorf("batch %d: %w", i, err)
		}
	}
	return &sc, nil
}

// parsePolicy maps a policy name to its value. Empty means
// stop-on-failure.
func parsePolicy(name string) (sim.Policy, error) {
	switch name {
	case "", "stop-on-failure":
		return sim.PolicyStopOnFailure, nil
	case "allow-failures":
		return sim.PolicyAllowFailures, nil
	case "dry-run":
		return sim.PolicyDryRun, nil
	default:
		return 0, fmt.Errorf("unknown policy %q", name)
	}
}

// builtinAddresses are symbolic names usable wherever an address is
// expected.
var builtinAddresses = map[string]types.Pubkey{
	"system-program":           types.SystemProgramAddr,
	"token-program":            types.TokenProgramAddr,
	"token-2022-program":       types.Token2022ProgramAddr,
	"associated-token-program": types.AssociatedTokenProgramAddr,
	"memo-program":             types.MemoProgramAddr,
	"compute-budget-program":   types.ComputeBudgetProgramAddr,
	"native-mint":              types.NativeMintAddr,
}

// runner binds a simulator to the scenario's name table.
type runner struct {
	sim     *sim.Simulator
	names   map[string]types.Pubkey
	verbose bool
}

func newRunner(s *sim.Simulator, verbose bool) *runner {
	return &runner{
		sim:     s,
		names:   make(map[string]types.Pubkey),
		verbose: verbose,
	}
}

// deriveKeypair returns the deterministic keypair for a scenario name.
func deriveKeypair(name string) *types.Keypair {
	seed := sha256.Sum256([]byte(name))
	return types.KeypairFromSeed(seed)
}

// introduce registers a name, deriving its keypair on first use.
func (r *runner) introduce(name string) (types.Pubkey, error) {
	if name == "" {
		return types.Pubkey{}, fmt.Errorf("empty name")
	}
	if pub, ok := r.names[name]; ok {
		return pub, nil
	}
	if _, ok := builtinAddresses[name]; ok {
		return types.Pubkey{}, fmt.Errorf("name %q shadows a builtin address", name)
	}
	kp := deriveKeypair(name)
	r.sim.StoreKeypair(name, kp)
	r.names[name] = kp.Pubkey()
	return kp.Pubkey(), nil
}

// resolve turns an address reference into a pubkey: a scenario name, a
// builtin symbol, or a base58 address.
func (r *runner) resolve(ref string) (types.Pubkey, error) {
	if ref == "" {
		return types.Pubkey{}, fmt.Errorf("empty account reference")
	}
	if pub, ok := r.names[ref]; ok {
		return pub, nil
	}
	if pub, ok := builtinAddresses[ref]; ok {
		return pub, nil
	}
	pub, err := types.PubkeyFromBase58(ref)
	if err != nil {
		return types.Pubkey{}, fmt.Errorf("unknown name or invalid address %q", ref)
	}
	return pub, nil
}

// seed applies the scenario's pre-batch state: keypairs, lamport
// balances, mints, and token accounts.
func (r *runner) seed(sc *Scenario) error {
	for _, name := range sc.Keypairs {
		if _, err := r.introduce(name); err != nil {
			return fmt.Errorf("keypair %q: %w", name, err)
		}
	}

	for i, seed := range sc.Accounts {
		var pub types.Pubkey
		var err error
		switch {
		case seed.Name != "" && seed.Address != "":
			return fmt.Errorf("account %d: name and address are exclusive", i)
		case seed.Name != "":
			pub, err = r.introduce(seed.Name)
		case seed.Address != "":
			pub, err = types.PubkeyFromBase58(seed.Address)
		default:
			return fmt.Errorf("account %d: name or address required", i)
		}
		if err != nil {
			return fmt.Errorf("account %d: %w", i, err)
		}
		if err := r.sim.FundAccount(pub, seed.Lamports); err != nil {
			return fmt.Errorf("account %d: %w", i, err)
		}
	}

	for _, seed := range sc.Mints {
		pub, err := r.introduce(seed.Name)
		if err != nil {
			return fmt.Errorf("mint %q: %w", seed.Name, err)
		}
		authority, err := r.resolve(seed.Authority)
		if err != nil {
			return fmt.Errorf("mint %q: %w", seed.Name, err)
		}
		if err := r.sim.CreateMint(pub, authority, seed.Decimals); err != nil {
			return fmt.Errorf("mint %q: %w", seed.Name, err)
		}
	}

	for _, seed := range sc.TokenAccounts {
		pub, err := r.introduce(seed.Name)
		if err != nil {
			return fmt.Errorf("token account %q: %w", seed.Name, err)
		}
		mint, err := r.resolve(seed.Mint)
		if err != nil {
			return fmt.Errorf("token account %q: %w", seed.Name, err)
		}
		owner, err := r.resolve(seed.Owner)
		if err != nil {
			return fmt.Errorf("token account %q: %w", seed.Name, err)
		}
		if err := r.sim.CreateTokenAccount(pub, mint, owner, seed.Amount); err != nil {
			return fmt.Errorf("token account %q: %w", seed.Name, err)
		}
	}

	return nil
}

// buildInstruction turns one instruction spec into an engine instruction.
func (r *runner) buildInstruction(spec *InstructionSpec) (svm.Instruction, error) {
	var zero svm.Instruction

	switch spec.Type {
	case "transfer":
		from, err := r.resolve(spec.From)
		if err != nil {
			return zero, err
		}
		to, err := r.resolve(spec.To)
		if err != nil {
			return zero, err
		}
		return system.NewTransfer(from, to, spec.Lamports), nil

	case "create-account":
		from, err := r.resolve(spec.From)
		if err != nil {
			return zero, err
		}
		created, err := r.introduce(spec.New)
		if err != nil {
			return zero, err
		}
		owner := types.SystemProgramAddr
		if spec.Owner != "" {
			owner, err = r.resolve(spec.Owner)
			if err != nil {
				return zero, err
			}
		}
		return system.NewCreateAccount(from, created, spec.Lamports, spec.Space, owner), nil

	case "memo":
		signers := make([]types.Pubkey, 0, len(spec.Signers))
		for _, ref := range spec.Signers {
			pub, err := r.resolve(ref)
			if err != nil {
				return zero, err
			}
			signers = append(signers, pub)
		}
		return memo.NewMemo(spec.Text, signers...), nil

	case "mint-to":
		mint, err := r.resolve(spec.Mint)
		if err != nil {
			return zero, err
		}
		to, err := r.resolve(spec.To)
		if err != nil {
			return zero, err
		}
		authority, err := r.resolve(spec.Authority)
		if err != nil {
			return zero, err
		}
		return token.NewMintTo(types.TokenProgramAddr, mint, to, authority, spec.Amount), nil

	case "token-transfer":
		source, err := r.resolve(spec.Source)
		if err != nil {
			return zero, err
		}
		destination, err := r.resolve(spec.Destination)
		if err != nil {
			return zero, err
		}
		owner, err := r.resolve(spec.Owner)
		if err != nil {
			return zero, err
		}
		return token.NewTransfer(types.TokenProgramAddr, source, destination, owner, spec.Amount), nil

	case "sync-native":
		account, err := r.resolve(spec.Account)
		if err != nil {
			return zero, err
		}
		return token.NewSyncNative(types.TokenProgramAddr, account), nil

	case "create-ata":
		payer, err := r.resolve(spec.Payer)
		if err != nil {
			return zero, err
		}
		wallet, err := r.resolve(spec.Wallet)
		if err != nil {
			return zero, err
		}
		mint, err := r.resolve(spec.Mint)
		if err != nil {
			return zero, err
		}
		derived, _, err := ata.DeriveAddress(wallet, mint)
		if err != nil {
			return zero, err
		}
		return ata.NewCreateIdempotent(payer, derived, wallet, mint, types.TokenProgramAddr), nil

	case "compute-limit":
		return computebudget.NewSetComputeUnitLimit(spec.Units), nil

	case "raw":
		program, err := r.resolve(spec.Program)
		if err != nil {
			return zero, err
		}
		metas := make([]svm.AccountMeta, 0, len(spec.Accounts))
		for _, m := range spec.Accounts {
			pub, err := r.resolve(m.Pubkey)
			if err != nil {
				return zero, err
			}
			metas = append(metas, svm.AccountMeta{
				Pubkey:     pub,
				IsSigner:   m.Signer,
				IsWritable: m.Writable,
			})
		}
		data, err := decodeRawData(spec)
		if err != nil {
			return zero, err
		}
		return svm.Instruction{ProgramID: program, Accounts: metas, Data: data}, nil

	default:
		return zero, fmt.Errorf("unknown instruction type %q", spec.Type)
	}
}

// decodeRawData decodes a raw instruction's payload. Base58 and base64
// forms are exclusive; neither means empty data.
func decodeRawData(spec *InstructionSpec) ([]byte, error) {
	switch {
	case spec.Data != "" && spec.DataBase64 != "":
		return nil, fmt.Errorf("data and dataBase64 are exclusive")
	case spec.Data != "":
		data, err := base58.Decode(spec.Data)
		if err != nil {
			return nil, fmt.Errorf("decode data: %w", err)
		}
		return data, nil
	case spec.DataBase64 != "":
		data, err := base64.StdEncoding.DecodeString(spec.DataBase64)
		if err != nil {
			return nil, fmt.Errorf("decode dataBase64: %w", err)
		}
		return data, nil
	default:
		return nil, nil
	}
}

// checkExpectations evaluates a batch's expect clause and returns the
// violations.
func (r *runner) checkExpectations(expect *ExpectSpec, result *sim.BatchResult) []string {
	var violations []string

	if expect.Status != "" && result.Status.String() != expect.Status {
		violations = append(violations,
			fmt.Sprintf("status: got %s, want %s", result.Status, expect.Status))
	}

	if expect.FailedIndex != nil && result.FailedAt() != *expect.FailedIndex {
		violations = append(violations,
			fmt.Sprintf("failed index: got %d, want %d", result.FailedAt(), *expect.FailedIndex))
	}

	for _, b := range expect.Balances {
		pub, err := r.resolve(b.Account)
		if err != nil {
			violations = append(violations, fmt.Sprintf("balance %q: %v", b.Account, err))
			continue
		}
		if got := r.sim.Balance(pub); got != b.Lamports {
			violations = append(violations,
				fmt.Sprintf("balance %q: got %d lamports, want %d", b.Account, got, b.Lamports))
		}
	}

	for _, b := range expect.TokenBalances {
		pub, err := r.resolve(b.Account)
		if err != nil {
			violations = append(violations, fmt.Sprintf("token balance %q: %v", b.Account, err))
			continue
		}
		got, err := r.sim.TokenBalance(pub)
		if err != nil {
			violations = append(violations, fmt.Sprintf("token balance %q: %v", b.Account, err))
			continue
		}
		if got != b.Amount {
			violations = append(violations,
				fmt.Sprintf("token balance %q: got %d, want %d", b.Account, got, b.Amount))
		}
	}

	return violations
}
