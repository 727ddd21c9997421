package system

import (
	"errors"
	"testing"

	"github.com/fortiblox/X1-Testbench/internal/types"
	"github.com/fortiblox/X1-Testbench/pkg/accounts"
	"github.com/fortiblox/X1-Testbench/pkg/svm"
)

func newTestEngine(t *testing.T) (*svm.Engine, *accounts.MemoryStore) {
	t.Helper()
	store := accounts.NewMemoryStore()
	engine := svm.NewEngine(store)
	engine.Register(ProgramID, NewProcessor())
	return engine, store
}

func testPubkey(b byte) types.Pubkey {
	var p types.Pubkey
	for i := range p {
		p[i] = b
	}
	return p
}

func fund(t *testing.T, store accounts.Store, addr types.Pubkey, lamports uint64) {
	t.Helper()
	if err := store.SetAccount(addr, &accounts.Account{Lamports: lamports}); err != nil {
		t.Fatalf("failed to fund %s: %v", addr, err)
	}
}

func TestCreateAccount(t *testing.T) {
	engine, store := newTestEngine(t)

	funder := testPubkey(1)
	created := testPubkey(2)
	owner := testPubkey(0xCC)
	fund(t, store, funder, 10_000_000)

	rentMin := engine.Rent().MinimumBalance(100)

	result, err := engine.Process(NewCreateAccount(funder, created, rentMin, 100, owner))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("expected success, got %v", result.Err)
	}

	acc, err := store.GetAccount(created)
	if err != nil {
		t.Fatalf("failed to get created account: %v", err)
	}
	if acc.Lamports != rentMin {
		t.Errorf("expected %d lamports, got %d", rentMin, acc.Lamports)
	}
	if len(acc.Data) != 100 {
		t.Errorf("expected 100 bytes of data, got %d", len(acc.Data))
	}
	if acc.Owner != owner {
		t.Errorf("expected owner %s, got %s", owner, acc.Owner)
	}

	funderAcc, _ := store.GetAccount(funder)
	if funderAcc.Lamports != 10_000_000-rentMin {
		t.Errorf("funder balance wrong: %d", funderAcc.Lamports)
	}
}

func TestCreateAccountNotRentExempt(t *testing.T) {
	engine, store := newTestEngine(t)

	funder := testPubkey(1)
	created := testPubkey(2)
	fund(t, store, funder, 10_000_000)

	result, err := engine.Process(NewCreateAccount(funder, created, 1, 100, testPubkey(0xCC)))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !errors.Is(result.Err, ErrAccountNotRentExempt) {
		t.Errorf("expected ErrAccountNotRentExempt, got %v", result.Err)
	}
}

func TestCreateAccountAlreadyInUse(t *testing.T) {
	engine, store := newTestEngine(t)

	funder := testPubkey(1)
	created := testPubkey(2)
	fund(t, store, funder, 10_000_000)
	fund(t, store, created, 5) // occupied

	rentMin := engine.Rent().MinimumBalance(0)
	result, err := engine.Process(NewCreateAccount(funder, created, rentMin, 0, testPubkey(0xCC)))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !errors.Is(result.Err, ErrAccountAlreadyInUse) {
		t.Errorf("expected ErrAccountAlreadyInUse, got %v", result.Err)
	}
}

func TestCreateAccountInsufficientFunds(t *testing.T) {
	engine, store := newTestEngine(t)

	funder := testPubkey(1)
	fund(t, store, funder, 10)

	rentMin := engine.Rent().MinimumBalance(0)
	result, err := engine.Process(NewCreateAccount(funder, testPubkey(2), rentMin, 0, testPubkey(0xCC)))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !errors.Is(result.Err, ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", result.Err)
	}
}

func TestTransfer(t *testing.T) {
	engine, store := newTestEngine(t)

	from := testPubkey(1)
	to := testPubkey(2)
	fund(t, store, from, 1000)

	result, err := engine.Process(NewTransfer(from, to, 400))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("expected success, got %v", result.Err)
	}

	fromAcc, _ := store.GetAccount(from)
	toAcc, _ := store.GetAccount(to)
	if fromAcc.Lamports != 600 {
		t.Errorf("expected 600, got %d", fromAcc.Lamports)
	}
	if toAcc.Lamports != 400 {
		t.Errorf("expected 400, got %d", toAcc.Lamports)
	}
}

func TestTransferInsufficientFunds(t *testing.T) {
	engine, store := newTestEngine(t)

	from := testPubkey(1)
	fund(t, store, from, 100)

	result, err := engine.Process(NewTransfer(from, testPubkey(2), 400))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !errors.Is(result.Err, ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", result.Err)
	}

	// Balance untouched after the failure.
	acc, _ := store.GetAccount(from)
	if acc.Lamports != 100 {
		t.Errorf("balance changed on failed transfer: %d", acc.Lamports)
	}
}

func TestTransferMissingSignature(t *testing.T) {
	engine, store := newTestEngine(t)

	from := testPubkey(1)
	to := testPubkey(2)
	fund(t, store, from, 1000)

	ix := NewTransfer(from, to, 400)
	ix.Accounts[0].IsSigner = false

	result, err := engine.Process(ix)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !errors.Is(result.Err, ErrMissingRequiredSignature) {
		t.Errorf("expected ErrMissingRequiredSignature, got %v", result.Err)
	}
}

func TestTransferFromNonSystemAccount(t *testing.T) {
	engine, store := newTestEngine(t)

	from := testPubkey(1)
	if err := store.SetAccount(from, &accounts.Account{
		Lamports: 1000,
		Owner:    types.TokenProgramAddr,
	}); err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}

	result, err := engine.Process(NewTransfer(from, testPubkey(2), 400))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !errors.Is(result.Err, ErrInvalidAccountOwner) {
		t.Errorf("expected ErrInvalidAccountOwner, got %v", result.Err)
	}
}

func TestAssign(t *testing.T) {
	engine, store := newTestEngine(t)

	account := testPubkey(1)
	newOwner := testPubkey(0xDD)
	fund(t, store, account, 1000)

	result, err := engine.Process(NewAssign(account, newOwner))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("expected success, got %v", result.Err)
	}

	acc, _ := store.GetAccount(account)
	if acc.Owner != newOwner {
		t.Errorf("expected owner %s, got %s", newOwner, acc.Owner)
	}
}

func TestAllocate(t *testing.T) {
	engine, store := newTestEngine(t)

	account := testPubkey(1)
	fund(t, store, account, 1000)

	result, err := engine.Process(NewAllocate(account, 64))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("expected success, got %v", result.Err)
	}

	acc, _ := store.GetAccount(account)
	if len(acc.Data) != 64 {
		t.Errorf("expected 64 bytes, got %d", len(acc.Data))
	}

	// Shrinking is rejected.
	result, err = engine.Process(NewAllocate(account, 8))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !errors.Is(result.Err, ErrAccountDataTooSmall) {
		t.Errorf("expected ErrAccountDataTooSmall, got %v", result.Err)
	}
}

func TestCreateAccountWithSeed(t *testing.T) {
	engine, store := newTestEngine(t)

	funder := testPubkey(1)
	base := testPubkey(2)
	owner := testPubkey(0xCC)
	seed := "vault"
	fund(t, store, funder, 10_000_000)

	derived := CreateWithSeedAddress(base, seed, owner)
	rentMin := engine.Rent().MinimumBalance(16)

	result, err := engine.Process(NewCreateAccountWithSeed(funder, derived, base, seed, rentMin, 16, owner))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("expected success, got %v", result.Err)
	}

	acc, err := store.GetAccount(derived)
	if err != nil {
		t.Fatalf("failed to get derived account: %v", err)
	}
	if acc.Owner != owner || len(acc.Data) != 16 {
		t.Errorf("derived account wrong: owner=%s dataLen=%d", acc.Owner, len(acc.Data))
	}
}

func TestCreateAccountWithSeedAddressMismatch(t *testing.T) {
	engine, store := newTestEngine(t)

	funder := testPubkey(1)
	fund(t, store, funder, 10_000_000)

	rentMin := engine.Rent().MinimumBalance(0)
	// Wrong created address for the seed.
	result, err := engine.Process(NewCreateAccountWithSeed(funder, testPubkey(9), testPubkey(2), "vault", rentMin, 0, testPubkey(0xCC)))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !errors.Is(result.Err, ErrAddressMismatch) {
		t.Errorf("expected ErrAddressMismatch, got %v", result.Err)
	}
}

func TestTransferWithSeed(t *testing.T) {
	engine, store := newTestEngine(t)

	base := testPubkey(2)
	to := testPubkey(3)
	seed := "stash"

	derived := CreateWithSeedAddress(base, seed, ProgramID)
	fund(t, store, derived, 5000)

	result, err := engine.Process(NewTransferWithSeed(derived, base, to, seed, 2000, ProgramID))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("expected success, got %v", result.Err)
	}

	fromAcc, _ := store.GetAccount(derived)
	toAcc, _ := store.GetAccount(to)
	if fromAcc.Lamports != 3000 || toAcc.Lamports != 2000 {
		t.Errorf("balances wrong: from=%d to=%d", fromAcc.Lamports, toAcc.Lamports)
	}
}

func TestInvalidInstructionData(t *testing.T) {
	engine, _ := newTestEngine(t)

	tests := []struct {
		name string
		data []byte
	}{
		{"Empty", nil},
		{"Short", []byte{2}},
		{"UnknownDiscriminant", []byte{0xFF, 0xFF, 0xFF, 0xFF}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := engine.Process(svm.Instruction{
				ProgramID: ProgramID,
				Data:      tc.data,
			})
			if err != nil {
				t.Fatalf("process failed: %v", err)
			}
			if !errors.Is(result.Err, ErrInvalidInstructionData) {
				t.Errorf("expected ErrInvalidInstructionData, got %v", result.Err)
			}
		})
	}
}
