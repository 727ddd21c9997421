package precompiles

import (
	"errors"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/fortiblox/X1-Testbench/internal/types"
	"github.com/fortiblox/X1-Testbench/pkg/accounts"
	"github.com/fortiblox/X1-Testbench/pkg/svm"
)

func newTestEngine(t *testing.T) *svm.Engine {
	t.Helper()
	engine := svm.NewEngine(accounts.NewMemoryStore())
	engine.Register(Ed25519ProgramID, NewEd25519Processor())
	engine.Register(Secp256k1ProgramID, NewSecp256k1Processor())
	return engine
}

func TestEd25519Verify(t *testing.T) {
	engine := newTestEngine(t)

	kp, err := types.NewKeypair()
	if err != nil {
		t.Fatalf("failed to generate keypair: %v", err)
	}

	result, err := engine.Process(NewEd25519Verify(kp, []byte("attest this")))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("expected success, got %v", result.Err)
	}
	if result.ComputeUnits != svm.CUSignatureVerify {
		t.Errorf("expected %d compute units, got %d", svm.CUSignatureVerify, result.ComputeUnits)
	}
}

func TestEd25519VerifyTamperedMessage(t *testing.T) {
	engine := newTestEngine(t)

	kp, err := types.NewKeypair()
	if err != nil {
		t.Fatalf("failed to generate keypair: %v", err)
	}

	ix := NewEd25519Verify(kp, []byte("attest this"))
	ix.Data[len(ix.Data)-1] ^= 0x01
	result, err := engine.Process(ix)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !errors.Is(result.Err, ErrSignatureVerification) {
		t.Errorf("expected ErrSignatureVerification, got %v", result.Err)
	}
}

func TestEd25519VerifyWrongKey(t *testing.T) {
	engine := newTestEngine(t)

	kp, err := types.NewKeypair()
	if err != nil {
		t.Fatalf("failed to generate keypair: %v", err)
	}
	other, err := types.NewKeypair()
	if err != nil {
		t.Fatalf("failed to generate keypair: %v", err)
	}

	// Swap in a different public key at its builder offset.
	ix := NewEd25519Verify(kp, []byte("attest this"))
	pub := other.Pubkey()
	copy(ix.Data[ed25519DataStart:], pub[:])
	result, err := engine.Process(ix)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !errors.Is(result.Err, ErrSignatureVerification) {
		t.Errorf("expected ErrSignatureVerification, got %v", result.Err)
	}
}

func TestEd25519MalformedData(t *testing.T) {
	engine := newTestEngine(t)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"Empty", nil, ErrInvalidInstructionData},
		{"CountWithoutTable", []byte{2, 0}, ErrInvalidInstructionData},
		{"ZeroCountWithTrailing", []byte{0, 0, 1}, ErrInvalidInstructionData},
		{
			"OffsetsPastEnd",
			append([]byte{1, 0}, make([]byte, ed25519EntryLen)...),
			ErrInvalidDataOffsets,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.Process(svm.Instruction{ProgramID: Ed25519ProgramID, Data: tt.data})
			if err != nil {
				t.Fatalf("process failed: %v", err)
			}
			if !errors.Is(result.Err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, result.Err)
			}
		})
	}
}

func TestSecp256k1Verify(t *testing.T) {
	engine := newTestEngine(t)

	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	result, err := engine.Process(NewSecp256k1Verify(key, []byte("eth signed")))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("expected success, got %v", result.Err)
	}
	if result.ComputeUnits != svm.CUSecp256k1Recover {
		t.Errorf("expected %d compute units, got %d", svm.CUSecp256k1Recover, result.ComputeUnits)
	}
}

func TestSecp256k1VerifyTamperedMessage(t *testing.T) {
	engine := newTestEngine(t)

	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	ix := NewSecp256k1Verify(key, []byte("eth signed"))
	ix.Data[len(ix.Data)-1] ^= 0x01
	result, err := engine.Process(ix)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !errors.Is(result.Err, ErrSignatureVerification) {
		t.Errorf("expected ErrSignatureVerification, got %v", result.Err)
	}
}

func TestSecp256k1VerifyWrongAddress(t *testing.T) {
	engine := newTestEngine(t)

	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	other, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	ix := NewSecp256k1Verify(key, []byte("eth signed"))
	addr := EthereumAddress(other.PubKey())
	copy(ix.Data[secpDataStart:], addr[:])
	result, err := engine.Process(ix)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !errors.Is(result.Err, ErrSignatureVerification) {
		t.Errorf("expected ErrSignatureVerification, got %v", result.Err)
	}
}

func TestSecp256k1InvalidRecoveryID(t *testing.T) {
	engine := newTestEngine(t)

	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	ix := NewSecp256k1Verify(key, []byte("eth signed"))
	ix.Data[secpDataStart+EthereumAddressLen+secpSignatureLen] = 9
	result, err := engine.Process(ix)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !errors.Is(result.Err, ErrInvalidRecoveryID) {
		t.Errorf("expected ErrInvalidRecoveryID, got %v", result.Err)
	}
}

func TestEthereumAddressDeterministic(t *testing.T) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	a := EthereumAddress(key.PubKey())
	b := EthereumAddress(key.PubKey())
	if a != b {
		t.Error("address derivation not deterministic")
	}

	var zero [EthereumAddressLen]byte
	if a == zero {
		t.Error("derived address is zero")
	}
}
