// Package memo implements the Memo Program.
//
// A memo instruction carries an arbitrary UTF-8 payload in its data and
// writes it to the transaction log. Any accounts passed to the current
// program id must be signers, which lets a memo double as a multi-party
// attestation. The legacy v1 program id skips the signer requirement.
package memo

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/fortiblox/X1-Testbench/internal/types"
	"github.com/fortiblox/X1-Testbench/pkg/svm"
)

// ProgramID is the current Memo Program address.
var ProgramID = types.MemoProgramAddr

// LegacyProgramID is the v1 Memo Program address.
var LegacyProgramID = types.MemoV1ProgramAddr

// MaxMemoLen caps the payload so a memo cannot blow the log budget.
const MaxMemoLen = 566

var (
	ErrInvalidUTF8              = errors.New("memo is not valid utf-8")
	ErrMemoTooLong              = errors.New("memo exceeds maximum length")
	ErrMissingRequiredSignature = errors.New("missing required signature")
)

// Processor executes memo instructions. The legacy flag selects v1
// semantics, which do not require the referenced accounts to sign.
type Processor struct {
	legacy bool
}

var _ svm.Program = (*Processor)(nil)

func NewProcessor() *Processor {
	return &Processor{}
}

func NewLegacyProcessor() *Processor {
	return &Processor{legacy: true}
}

// Execute validates the payload, checks signers, and logs the memo.
func (p *Processor) Execute(ctx svm.InvokeContext, data []byte) error {
	cost := svm.CUMemoBase + svm.CUMemoPerByte*uint64(len(data))
	if err := ctx.ConsumeCompute(cost); err != nil {
		return err
	}

	if len(data) > MaxMemoLen {
		return ErrMemoTooLong
	}
	if !utf8.Valid(data) {
		return ErrInvalidUTF8
	}

	if !p.legacy {
		for i := 0; i < ctx.NumAccounts(); i++ {
			info, err := ctx.GetAccount(i)
			if err != nil {
				return err
			}
			if !info.IsSigner {
				return ErrMissingRequiredSignature
			}
		}
	}

	ctx.Log(fmt.Sprintf("Memo (len %d): %q", len(data), string(data)))
	return nil
}

// NewMemo builds a memo instruction for the current program id. Each
// listed signer is attached as a read-only signer meta.
func NewMemo(text string, signers ...types.Pubkey) svm.Instruction {
	metas := make([]svm.AccountMeta, 0, len(signers))
	for _, s := range signers {
		metas = append(metas, svm.MetaReadonlySigner(s))
	}
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts:  metas,
		Data:      []byte(text),
	}
}

// NewLegacyMemo builds a memo instruction for the v1 program id.
func NewLegacyMemo(text string) svm.Instruction {
	return svm.Instruction{
		ProgramID: LegacyProgramID,
		Data:      []byte(text),
	}
}
