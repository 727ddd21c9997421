package sim

import (
	"errors"
	"testing"

	"github.com/fortiblox/X1-Testbench/internal/types"
	"github.com/fortiblox/X1-Testbench/pkg/accounts"
	"github.com/fortiblox/X1-Testbench/pkg/svm"
)

// testProgram adapts a function to the Program interface.
type testProgram struct {
	fn func(ctx svm.InvokeContext, data []byte) error
}

func (p *testProgram) Execute(ctx svm.InvokeContext, data []byte) error {
	return p.fn(ctx, data)
}

func testPubkey(b byte) types.Pubkey {
	var p types.Pubkey
	for i := range p {
		p[i] = b
	}
	return p
}

func testKeypair(b byte) *types.Keypair {
	var seed [types.SeedSize]byte
	for i := range seed {
		seed[i] = b
	}
	return types.KeypairFromSeed(seed)
}

func TestNewRegistersDefaultPrograms(t *testing.T) {
	s := New()
	defer s.Close()

	programs := []types.Pubkey{
		types.SystemProgramAddr,
		types.TokenProgramAddr,
		types.Token2022ProgramAddr,
		types.AssociatedTokenProgramAddr,
		types.MemoProgramAddr,
		types.MemoV1ProgramAddr,
		types.ComputeBudgetProgramAddr,
		types.Ed25519PrecompileAddr,
		types.Secp256k1PrecompileAddr,
	}
	for _, id := range programs {
		acc, err := s.GetAccount(id)
		if err != nil {
			t.Fatalf("program account %s missing: %v", id, err)
		}
		if !acc.Executable {
			t.Errorf("program account %s not executable", id)
		}
		if acc.Owner != types.NativeLoaderAddr {
			t.Errorf("program account %s owned by %s, want native loader", id, acc.Owner)
		}
	}
}

func TestNewWritesSysvars(t *testing.T) {
	s := New()
	defer s.Close()

	for _, id := range []types.Pubkey{types.SysvarClockAddr, types.SysvarRentAddr} {
		acc, err := s.GetAccount(id)
		if err != nil {
			t.Fatalf("sysvar %s missing: %v", id, err)
		}
		if acc.Owner != types.SysvarOwnerAddr {
			t.Errorf("sysvar %s owned by %s", id, acc.Owner)
		}
	}
}

func TestFundAccountAndBalance(t *testing.T) {
	s := New()
	defer s.Close()

	addr := testPubkey(1)
	if got := s.Balance(addr); got != 0 {
		t.Fatalf("expected zero balance for missing account, got %d", got)
	}

	if err := s.FundAccount(addr, 1_000); err != nil {
		t.Fatalf("fund failed: %v", err)
	}
	if got := s.Balance(addr); got != 1_000 {
		t.Fatalf("expected 1000 lamports, got %d", got)
	}

	// Funding again tops up instead of replacing.
	if err := s.FundAccount(addr, 500); err != nil {
		t.Fatalf("fund failed: %v", err)
	}
	if got := s.Balance(addr); got != 1_500 {
		t.Fatalf("expected 1500 lamports, got %d", got)
	}
}

func TestTransfer(t *testing.T) {
	s := New()
	defer s.Close()

	from := testPubkey(1)
	to := testPubkey(2)
	if err := s.FundAccount(from, 1_000); err != nil {
		t.Fatalf("fund failed: %v", err)
	}

	result, err := s.Transfer(from, to, 400)
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("expected success, got %v", result.Err)
	}
	if got := s.Balance(from); got != 600 {
		t.Errorf("expected 600 lamports, got %d", got)
	}
	if got := s.Balance(to); got != 400 {
		t.Errorf("expected 400 lamports, got %d", got)
	}
}

func TestTransferInsufficientFunds(t *testing.T) {
	s := New()
	defer s.Close()

	from := testPubkey(1)
	to := testPubkey(2)
	if err := s.FundAccount(from, 100); err != nil {
		t.Fatalf("fund failed: %v", err)
	}

	if _, err := s.Transfer(from, to, 400); err == nil {
		t.Fatal("expected transfer to fail")
	}
	if got := s.Balance(from); got != 100 {
		t.Errorf("failed transfer moved lamports: %d", got)
	}
}

func TestClockControls(t *testing.T) {
	s, err := NewWithConfig(Config{Slot: 7, UnixTimestamp: 1_700_000_000})
	if err != nil {
		t.Fatalf("constructor failed: %v", err)
	}
	defer s.Close()

	if got := s.Slot(); got != 7 {
		t.Fatalf("expected slot 7, got %d", got)
	}
	if got := s.UnixTimestamp(); got != 1_700_000_000 {
		t.Fatalf("expected seeded timestamp, got %d", got)
	}

	if err := s.WarpToSlot(99); err != nil {
		t.Fatalf("warp failed: %v", err)
	}
	if got := s.Slot(); got != 99 {
		t.Fatalf("expected slot 99, got %d", got)
	}

	if err := s.SetUnixTimestamp(1_800_000_000); err != nil {
		t.Fatalf("set timestamp failed: %v", err)
	}
	if got := s.UnixTimestamp(); got != 1_800_000_000 {
		t.Fatalf("expected updated timestamp, got %d", got)
	}

	// The sysvar account tracks the engine clock.
	acc, err := s.GetAccount(types.SysvarClockAddr)
	if err != nil {
		t.Fatalf("clock sysvar missing: %v", err)
	}
	clock, err := svm.DeserializeClock(acc.Data)
	if err != nil {
		t.Fatalf("bad clock sysvar data: %v", err)
	}
	if clock.Slot != 99 || clock.UnixTimestamp != 1_800_000_000 {
		t.Errorf("sysvar out of date: %+v", clock)
	}
}

func TestKeyring(t *testing.T) {
	s := New()
	defer s.Close()

	kp := testKeypair(3)
	s.StoreKeypair("payer", kp)

	got, err := s.Keypair("payer")
	if err != nil {
		t.Fatalf("keypair lookup failed: %v", err)
	}
	if got.Pubkey() != kp.Pubkey() {
		t.Error("keyring returned a different keypair")
	}

	pub, err := s.KeypairPubkey("payer")
	if err != nil {
		t.Fatalf("pubkey lookup failed: %v", err)
	}
	if pub != kp.Pubkey() {
		t.Error("pubkey mismatch")
	}

	msg := []byte("testbench message")
	sig, err := s.SignWith("payer", msg)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if !pub.Verify(msg, sig) {
		t.Error("signature does not verify")
	}

	if _, err := s.Keypair("nobody"); !errors.Is(err, ErrNoSuchKeypair) {
		t.Errorf("expected ErrNoSuchKeypair, got %v", err)
	}
}

func TestRegisterProgram(t *testing.T) {
	s := New()
	defer s.Close()

	programID := testPubkey(0xAA)
	err := s.RegisterProgram(programID, &testProgram{fn: func(ctx svm.InvokeContext, data []byte) error {
		ctx.Log("custom program ran")
		return nil
	}})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	acc, err := s.GetAccount(programID)
	if err != nil {
		t.Fatalf("program account missing: %v", err)
	}
	if !acc.Executable {
		t.Error("program account not executable")
	}
	if acc.Owner != types.BPFLoaderUpgradeableAddr {
		t.Errorf("program account owned by %s, want upgradeable loader", acc.Owner)
	}

	result, err := s.ProcessInstruction(svm.Instruction{ProgramID: programID})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if len(result.Logs) != 3 || result.Logs[1] != "Program log: custom program ran" {
		t.Errorf("unexpected logs: %v", result.Logs)
	}
}

func TestRegisterProgramWithLoaderV2(t *testing.T) {
	s := New()
	defer s.Close()

	programID := testPubkey(0xAB)
	err := s.RegisterProgramWithLoader(programID, &testProgram{fn: func(ctx svm.InvokeContext, data []byte) error {
		return nil
	}}, LoaderV2)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	acc, err := s.GetAccount(programID)
	if err != nil {
		t.Fatalf("program account missing: %v", err)
	}
	if acc.Owner != types.BPFLoader2Addr {
		t.Errorf("program account owned by %s, want v2 loader", acc.Owner)
	}
}

func TestAddProgramAccount(t *testing.T) {
	s := New()
	defer s.Close()

	programID := testPubkey(0xAC)
	image := []byte{0x7F, 'E', 'L', 'F'}
	if err := s.AddProgramAccount(programID, image, LoaderV3); err != nil {
		t.Fatalf("add program account failed: %v", err)
	}
	image[0] = 0 // the stored image must be a copy

	acc, err := s.GetAccount(programID)
	if err != nil {
		t.Fatalf("program account missing: %v", err)
	}
	if acc.Data[0] != 0x7F {
		t.Error("stored image aliases the caller's slice")
	}

	// No implementation registered: execution fails, account remains.
	result, err := s.ProcessInstructionUnchecked(svm.Instruction{ProgramID: programID})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !errors.Is(result.Err, svm.ErrProgramNotFound) {
		t.Errorf("expected ErrProgramNotFound, got %v", result.Err)
	}
}

func TestCloseLeavesCallerStoreOpen(t *testing.T) {
	store := accounts.NewMemoryStore()
	s, err := NewWithConfig(Config{Store: store})
	if err != nil {
		t.Fatalf("constructor failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// The caller-supplied store must survive the simulator.
	if _, err := store.Count(); err != nil {
		t.Fatalf("store closed by simulator: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("store close failed: %v", err)
	}
}
