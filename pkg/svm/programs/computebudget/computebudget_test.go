package computebudget

import (
	"errors"
	"testing"

	"github.com/fortiblox/X1-Testbench/internal/types"
	"github.com/fortiblox/X1-Testbench/pkg/accounts"
	"github.com/fortiblox/X1-Testbench/pkg/svm"
)

func TestExtractLimits(t *testing.T) {
	other := svm.Instruction{ProgramID: types.SystemProgramAddr}

	tests := []struct {
		name         string
		instructions []svm.Instruction
		wantUnits    uint32
		wantPrice    uint64
		wantHeap     uint32
	}{
		{
			name:         "Defaults",
			instructions: []svm.Instruction{other},
			wantUnits:    uint32(svm.CUDefault),
			wantHeap:     svm.HeapSizeDefault,
		},
		{
			name:         "DefaultScalesWithInstructions",
			instructions: []svm.Instruction{other, other, other},
			wantUnits:    uint32(3 * svm.CUDefault),
			wantHeap:     svm.HeapSizeDefault,
		},
		{
			name: "DefaultCappedAtMax",
			instructions: []svm.Instruction{
				other, other, other, other, other, other, other, other,
			},
			wantUnits: uint32(svm.CUMax),
			wantHeap:  svm.HeapSizeDefault,
		},
		{
			name: "ExplicitLimit",
			instructions: []svm.Instruction{
				NewSetComputeUnitLimit(500_000),
				other,
			},
			wantUnits: 500_000,
			wantHeap:  svm.HeapSizeDefault,
		},
		{
			name: "ExplicitLimitClamped",
			instructions: []svm.Instruction{
				NewSetComputeUnitLimit(2_000_000),
			},
			wantUnits: uint32(svm.CUMax),
			wantHeap:  svm.HeapSizeDefault,
		},
		{
			name: "PriceAndHeap",
			instructions: []svm.Instruction{
				NewSetComputeUnitPrice(1_000),
				NewRequestHeapFrame(64 * 1024),
				other,
			},
			wantUnits: uint32(svm.CUDefault),
			wantPrice: 1_000,
			wantHeap:  64 * 1024,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limits, err := ExtractLimits(tt.instructions)
			if err != nil {
				t.Fatalf("failed to extract limits: %v", err)
			}
			if limits.ComputeUnitLimit != tt.wantUnits {
				t.Errorf("expected %d units, got %d", tt.wantUnits, limits.ComputeUnitLimit)
			}
			if limits.ComputeUnitPrice != tt.wantPrice {
				t.Errorf("expected price %d, got %d", tt.wantPrice, limits.ComputeUnitPrice)
			}
			if limits.HeapSize != tt.wantHeap {
				t.Errorf("expected heap %d, got %d", tt.wantHeap, limits.HeapSize)
			}
		})
	}
}

func TestExtractLimitsDuplicate(t *testing.T) {
	_, err := ExtractLimits([]svm.Instruction{
		NewSetComputeUnitLimit(100_000),
		NewSetComputeUnitLimit(200_000),
	})
	if !errors.Is(err, ErrDuplicateInstruction) {
		t.Errorf("expected ErrDuplicateInstruction, got %v", err)
	}
}

func TestExtractLimitsHeapBounds(t *testing.T) {
	tests := []struct {
		name  string
		bytes uint32
	}{
		{"TooSmall", 16 * 1024},
		{"TooLarge", 512 * 1024},
		{"NotAligned", 32*1024 + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractLimits([]svm.Instruction{NewRequestHeapFrame(tt.bytes)})
			if !errors.Is(err, ErrInvalidHeapFrame) {
				t.Errorf("expected ErrInvalidHeapFrame, got %v", err)
			}
		})
	}
}

func TestProcessorAcceptsDirectives(t *testing.T) {
	engine := svm.NewEngine(accounts.NewMemoryStore())
	engine.Register(ProgramID, NewProcessor())

	result, err := engine.Process(NewSetComputeUnitLimit(300_000))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("expected success, got %v", result.Err)
	}
	if result.ComputeUnits != svm.CUComputeBudgetDefault {
		t.Errorf("expected %d compute units, got %d", svm.CUComputeBudgetDefault, result.ComputeUnits)
	}
}

func TestProcessorRejectsMalformed(t *testing.T) {
	engine := svm.NewEngine(accounts.NewMemoryStore())
	engine.Register(ProgramID, NewProcessor())

	tests := []struct {
		name string
		data []byte
	}{
		{"Empty", nil},
		{"UnknownTag", []byte{9, 0, 0, 0, 0}},
		{"ShortBody", []byte{InstructionSetComputeUnitLimit, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.Process(svm.Instruction{ProgramID: ProgramID, Data: tt.data})
			if err != nil {
				t.Fatalf("process failed: %v", err)
			}
			if !errors.Is(result.Err, ErrInvalidInstructionData) {
				t.Errorf("expected ErrInvalidInstructionData, got %v", result.Err)
			}
		})
	}
}
