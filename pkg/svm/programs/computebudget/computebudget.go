// Package computebudget implements the Compute Budget Program.
//
// Compute budget instructions carry no accounts and perform no state
// changes on their own. They are directives to the batch runner, which
// calls ExtractLimits over a batch before executing it and applies the
// requested limits to every instruction in that batch.
package computebudget

import (
	"encoding/binary"
	"errors"

	"github.com/fortiblox/X1-Testbench/internal/types"
	"github.com/fortiblox/X1-Testbench/pkg/svm"
)

// ProgramID is the Compute Budget Program address.
var ProgramID = types.ComputeBudgetProgramAddr

// Instruction tags.
const (
	InstructionRequestHeapFrame               = 1
	InstructionSetComputeUnitLimit            = 2
	InstructionSetComputeUnitPrice            = 3
	InstructionSetLoadedAccountsDataSizeLimit = 4
)

var (
	ErrInvalidInstructionData = errors.New("invalid instruction data")
	ErrDuplicateInstruction   = errors.New("duplicate compute budget instruction")
	ErrInvalidHeapFrame       = errors.New("requested heap frame is invalid")
)

// Processor accepts compute budget instructions. Parsing is repeated at
// execution time so a malformed directive still fails its instruction
// even when the batch runner did not pre-scan it.
type Processor struct{}

var _ svm.Program = (*Processor)(nil)

func NewProcessor() *Processor {
	return &Processor{}
}

// Execute validates the directive and consumes the flat program cost.
func (p *Processor) Execute(ctx svm.InvokeContext, data []byte) error {
	if err := ctx.ConsumeCompute(svm.CUComputeBudgetDefault); err != nil {
		return err
	}
	_, _, err := parse(data)
	return err
}

// parse decodes one directive into its tag and value.
func parse(data []byte) (tag byte, value uint64, err error) {
	if len(data) < 1 {
		return 0, 0, ErrInvalidInstructionData
	}
	tag = data[0]
	body := data[1:]

	switch tag {
	case InstructionRequestHeapFrame, InstructionSetComputeUnitLimit, InstructionSetLoadedAccountsDataSizeLimit:
		if len(body) < 4 {
			return 0, 0, ErrInvalidInstructionData
		}
		value = uint64(binary.LittleEndian.Uint32(body))
	case InstructionSetComputeUnitPrice:
		if len(body) < 8 {
			return 0, 0, ErrInvalidInstructionData
		}
		value = binary.LittleEndian.Uint64(body)
	default:
		return 0, 0, ErrInvalidInstructionData
	}

	if tag == InstructionRequestHeapFrame {
		if value < uint64(svm.HeapSizeMin) || value > uint64(svm.HeapSizeMax) || value%1024 != 0 {
			return 0, 0, ErrInvalidHeapFrame
		}
	}
	return tag, value, nil
}

// ExtractLimits scans a batch for compute budget directives and folds
// them into a limits struct. Each directive may appear at most once.
// When no unit limit is requested the default scales with the number of
// non-budget instructions, capped at the per-batch maximum.
func ExtractLimits(instructions []svm.Instruction) (*svm.ComputeBudgetLimits, error) {
	limits := svm.DefaultComputeBudgetLimits()

	seen := make(map[byte]bool)
	requestedUnits := false
	nonBudget := 0
	for _, ix := range instructions {
		if ix.ProgramID != ProgramID {
			nonBudget++
			continue
		}
		tag, value, err := parse(ix.Data)
		if err != nil {
			return nil, err
		}
		if seen[tag] {
			return nil, ErrDuplicateInstruction
		}
		seen[tag] = true

		switch tag {
		case InstructionRequestHeapFrame:
			limits.HeapSize = uint32(value)
		case InstructionSetComputeUnitLimit:
			requestedUnits = true
			if value > svm.CUMax {
				value = svm.CUMax
			}
			limits.ComputeUnitLimit = uint32(value)
		case InstructionSetComputeUnitPrice:
			limits.ComputeUnitPrice = value
		case InstructionSetLoadedAccountsDataSizeLimit:
			limits.LoadedAccountsBytes = uint32(value)
		}
	}

	if !requestedUnits {
		units := uint64(nonBudget) * svm.CUDefault
		if units > svm.CUMax {
			units = svm.CUMax
		}
		limits.ComputeUnitLimit = uint32(units)
	}
	return limits, nil
}

// NewRequestHeapFrame requests a heap of the given byte size for the
// batch. The size must be a multiple of 1024 within the allowed range.
func NewRequestHeapFrame(bytes uint32) svm.Instruction {
	data := make([]byte, 5)
	data[0] = InstructionRequestHeapFrame
	binary.LittleEndian.PutUint32(data[1:], bytes)
	return svm.Instruction{ProgramID: ProgramID, Data: data}
}

// NewSetComputeUnitLimit caps the compute units available to each
// instruction of the batch carrying the directive.
func NewSetComputeUnitLimit(units uint32) svm.Instruction {
	data := make([]byte, 5)
	data[0] = InstructionSetComputeUnitLimit
	binary.LittleEndian.PutUint32(data[1:], units)
	return svm.Instruction{ProgramID: ProgramID, Data: data}
}

// NewSetComputeUnitPrice sets the priority fee in micro-lamports per
// compute unit. The harness records the price but charges no fees.
func NewSetComputeUnitPrice(microLamports uint64) svm.Instruction {
	data := make([]byte, 9)
	data[0] = InstructionSetComputeUnitPrice
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return svm.Instruction{ProgramID: ProgramID, Data: data}
}

// NewSetLoadedAccountsDataSizeLimit caps the total size of accounts
// loaded by the batch.
func NewSetLoadedAccountsDataSizeLimit(bytes uint32) svm.Instruction {
	data := make([]byte, 5)
	data[0] = InstructionSetLoadedAccountsDataSizeLimit
	binary.LittleEndian.PutUint32(data[1:], bytes)
	return svm.Instruction{ProgramID: ProgramID, Data: data}
}
