package ata

import (
	"errors"
	"testing"

	"github.com/fortiblox/X1-Testbench/internal/types"
	"github.com/fortiblox/X1-Testbench/pkg/accounts"
	"github.com/fortiblox/X1-Testbench/pkg/svm"
	"github.com/fortiblox/X1-Testbench/pkg/svm/programs/token"
)

func newTestEngine(t *testing.T) (*svm.Engine, *accounts.MemoryStore) {
	t.Helper()
	store := accounts.NewMemoryStore()
	engine := svm.NewEngine(store)
	engine.Register(ProgramID, NewProcessor())
	engine.Register(types.TokenProgramAddr, token.NewProcessor())
	return engine, store
}

func testPubkey(b byte) types.Pubkey {
	var p types.Pubkey
	for i := range p {
		p[i] = b
	}
	return p
}

func seedMint(t *testing.T, store accounts.Store, mint, authority types.Pubkey) {
	t.Helper()
	state := &token.Mint{
		MintAuthority: &authority,
		Decimals:      6,
		Initialized:   true,
	}
	err := store.SetAccount(mint, &accounts.Account{
		Lamports: 1_000_000_000,
		Data:     state.Pack(),
		Owner:    types.TokenProgramAddr,
	})
	if err != nil {
		t.Fatalf("failed to seed mint: %v", err)
	}
}

func TestDeriveAddress(t *testing.T) {
	wallet := testPubkey(1)
	mint := testPubkey(2)

	addr, bump, err := DeriveAddress(wallet, mint)
	if err != nil {
		t.Fatalf("failed to derive address: %v", err)
	}

	// Deterministic.
	again, bump2, err := DeriveAddress(wallet, mint)
	if err != nil {
		t.Fatalf("failed to derive address: %v", err)
	}
	if addr != again || bump != bump2 {
		t.Error("derivation not deterministic")
	}

	// Distinct per wallet and per token program.
	other, _, err := DeriveAddress(testPubkey(3), mint)
	if err != nil {
		t.Fatalf("failed to derive address: %v", err)
	}
	if other == addr {
		t.Error("different wallets derived the same address")
	}
	alt, _, err := DeriveAddressForProgram(wallet, mint, types.Token2022ProgramAddr)
	if err != nil {
		t.Fatalf("failed to derive address: %v", err)
	}
	if alt == addr {
		t.Error("different token programs derived the same address")
	}
}

func TestCreate(t *testing.T) {
	engine, store := newTestEngine(t)

	payer := testPubkey(1)
	wallet := testPubkey(2)
	mint := testPubkey(3)
	seedMint(t, store, mint, testPubkey(9))
	if err := store.SetAccount(payer, &accounts.Account{Lamports: 10_000_000}); err != nil {
		t.Fatalf("failed to fund payer: %v", err)
	}

	ataAddr, _, err := DeriveAddress(wallet, mint)
	if err != nil {
		t.Fatalf("failed to derive address: %v", err)
	}

	result, err := engine.Process(NewCreate(payer, ataAddr, wallet, mint, types.TokenProgramAddr))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("expected success, got %v", result.Err)
	}

	acc, err := store.GetAccount(ataAddr)
	if err != nil {
		t.Fatalf("failed to get ata: %v", err)
	}
	if acc.Owner != types.TokenProgramAddr {
		t.Errorf("wrong owner: %s", acc.Owner)
	}
	reserve := engine.Rent().MinimumBalance(token.AccountLen)
	if acc.Lamports != reserve {
		t.Errorf("expected %d lamports, got %d", reserve, acc.Lamports)
	}

	state, err := token.UnpackTokenAccount(acc.Data)
	if err != nil {
		t.Fatalf("failed to unpack ata: %v", err)
	}
	if state.Owner != wallet || state.Mint != mint {
		t.Errorf("ata state wrong: %+v", state)
	}
	if state.State != token.AccountStateInitialized {
		t.Errorf("ata not initialized: %d", state.State)
	}

	payerAcc, _ := store.GetAccount(payer)
	if payerAcc.Lamports != 10_000_000-reserve {
		t.Errorf("payer balance wrong: %d", payerAcc.Lamports)
	}
}

func TestCreateTwice(t *testing.T) {
	engine, store := newTestEngine(t)

	payer := testPubkey(1)
	wallet := testPubkey(2)
	mint := testPubkey(3)
	seedMint(t, store, mint, testPubkey(9))
	if err := store.SetAccount(payer, &accounts.Account{Lamports: 10_000_000}); err != nil {
		t.Fatalf("failed to fund payer: %v", err)
	}

	ataAddr, _, _ := DeriveAddress(wallet, mint)

	if _, err := engine.Process(NewCreate(payer, ataAddr, wallet, mint, types.TokenProgramAddr)); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	// A second plain create fails.
	result, err := engine.Process(NewCreate(payer, ataAddr, wallet, mint, types.TokenProgramAddr))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !errors.Is(result.Err, ErrAccountAlreadyInUse) {
		t.Errorf("expected ErrAccountAlreadyInUse, got %v", result.Err)
	}

	// An idempotent create succeeds without changes.
	before, _ := store.GetAccount(ataAddr)
	result, err = engine.Process(NewCreateIdempotent(payer, ataAddr, wallet, mint, types.TokenProgramAddr))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("expected success, got %v", result.Err)
	}
	after, _ := store.GetAccount(ataAddr)
	if before.Lamports != after.Lamports {
		t.Error("idempotent create changed the account")
	}
}

func TestCreateAddressMismatch(t *testing.T) {
	engine, store := newTestEngine(t)

	payer := testPubkey(1)
	wallet := testPubkey(2)
	mint := testPubkey(3)
	seedMint(t, store, mint, testPubkey(9))
	if err := store.SetAccount(payer, &accounts.Account{Lamports: 10_000_000}); err != nil {
		t.Fatalf("failed to fund payer: %v", err)
	}

	result, err := engine.Process(NewCreate(payer, testPubkey(0x77), wallet, mint, types.TokenProgramAddr))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !errors.Is(result.Err, ErrAddressMismatch) {
		t.Errorf("expected ErrAddressMismatch, got %v", result.Err)
	}
}

func TestCreateIdempotentOwnerMismatch(t *testing.T) {
	engine, store := newTestEngine(t)

	payer := testPubkey(1)
	wallet := testPubkey(2)
	mint := testPubkey(3)
	seedMint(t, store, mint, testPubkey(9))
	if err := store.SetAccount(payer, &accounts.Account{Lamports: 10_000_000}); err != nil {
		t.Fatalf("failed to fund payer: %v", err)
	}

	ataAddr, _, _ := DeriveAddress(wallet, mint)

	// Place a token account at the derived address with the wrong owner.
	bogus := &token.TokenAccount{
		Mint:  mint,
		Owner: testPubkey(0xEE),
		State: token.AccountStateInitialized,
	}
	if err := store.SetAccount(ataAddr, &accounts.Account{
		Lamports: engine.Rent().MinimumBalance(token.AccountLen),
		Data:     bogus.Pack(),
		Owner:    types.TokenProgramAddr,
	}); err != nil {
		t.Fatalf("failed to seed bogus ata: %v", err)
	}

	result, err := engine.Process(NewCreateIdempotent(payer, ataAddr, wallet, mint, types.TokenProgramAddr))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !errors.Is(result.Err, ErrOwnerMismatch) {
		t.Errorf("expected ErrOwnerMismatch, got %v", result.Err)
	}
}

func TestCreateNativeMint(t *testing.T) {
	engine, store := newTestEngine(t)

	payer := testPubkey(1)
	wallet := testPubkey(2)
	if err := store.SetAccount(payer, &accounts.Account{Lamports: 10_000_000}); err != nil {
		t.Fatalf("failed to fund payer: %v", err)
	}

	ataAddr, _, _ := DeriveAddress(wallet, token.NativeMint)

	result, err := engine.Process(NewCreate(payer, ataAddr, wallet, token.NativeMint, types.TokenProgramAddr))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("expected success, got %v", result.Err)
	}

	acc, _ := store.GetAccount(ataAddr)
	state, err := token.UnpackTokenAccount(acc.Data)
	if err != nil {
		t.Fatalf("failed to unpack ata: %v", err)
	}
	if !state.IsNative {
		t.Error("native mint ata not marked native")
	}
	if state.Amount != 0 {
		t.Errorf("fresh native ata should hold 0 tokens, got %d", state.Amount)
	}
}

func TestCreateInsufficientFunds(t *testing.T) {
	engine, store := newTestEngine(t)

	payer := testPubkey(1)
	wallet := testPubkey(2)
	mint := testPubkey(3)
	seedMint(t, store, mint, testPubkey(9))
	if err := store.SetAccount(payer, &accounts.Account{Lamports: 10}); err != nil {
		t.Fatalf("failed to fund payer: %v", err)
	}

	ataAddr, _, _ := DeriveAddress(wallet, mint)

	result, err := engine.Process(NewCreate(payer, ataAddr, wallet, mint, types.TokenProgramAddr))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !errors.Is(result.Err, ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", result.Err)
	}
}
